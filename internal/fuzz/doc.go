// Package fuzztests houses Go fuzz harnesses for the dex codec and the
// rewrite pass. Arbitrary bytes go through Parse; whatever parses must
// survive the patch pipeline and serialize back to an image that parses
// again.
package fuzztests

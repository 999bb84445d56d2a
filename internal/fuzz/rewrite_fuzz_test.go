package fuzztests

import (
	"context"
	"testing"

	"paccer/internal/catalog"
	"paccer/internal/dex"
	"paccer/internal/rewrite"
)

// FuzzRewrite runs every built-in catalog entry over parseable input and
// checks the record against the matches and the output image.
func FuzzRewrite(f *testing.F) {
	addCorpusSeeds(f)
	specs := catalog.Builtin().Specs()
	f.Fuzz(func(t *testing.T, input []byte) {
		input = clamp(input)
		for _, spec := range specs {
			file, err := dex.Parse(input, fuzzAPI)
			if err != nil {
				return
			}
			res, err := rewrite.Run(context.Background(), file, spec)
			if err != nil {
				// incompatible bodies surface as errors, never as panics
				continue
			}
			if res.Replaced != len(res.Matches) {
				t.Fatalf("%s: replaced %d, matches %d", spec.Archive, res.Replaced, len(res.Matches))
			}
			for _, m := range res.Matches {
				if !res.Record.Contains(m.Target.Name) {
					t.Fatalf("%s: %s matched but is not recorded", spec.Archive, m.Target.Name)
				}
			}
			if res.Record.Empty() {
				continue
			}
			out, err := dex.Serialize(file)
			if err != nil {
				continue
			}
			if _, err := dex.Parse(out, fuzzAPI); err != nil {
				t.Fatalf("%s: patched image does not parse: %v", spec.Archive, err)
			}
		}
	})
}

// Package catalog maps archive names to the methods that get patched in
// them and the body each one is replaced with.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"

	"paccer/internal/dex"
	"paccer/internal/synth"
)

// ErrUnknownArchive is returned by Lookup when no entry exists.
var ErrUnknownArchive = errors.New("no patch for archive")

// Target describes one method to replace. Params is ignored when AnyParams
// is set. Class, when not empty, restricts the match to one declaring
// class descriptor.
type Target struct {
	Name      string
	Params    []string
	AnyParams bool
	Return    string
	Class     string
	Pattern   synth.Pattern
}

// Desc renders the signature filter the way it is written in config
// files: "(*)Z" for any parameters.
func (t Target) Desc() string {
	if t.AnyParams {
		return "(*)" + t.Return
	}
	return dex.Proto{Return: t.Return, Params: t.Params}.Descriptor()
}

func (t Target) String() string {
	s := t.Name + t.Desc() + " -> " + t.Pattern.String()
	if t.Class != "" {
		s = t.Class + "->" + s
	}
	return s
}

// Validate checks descriptors and that the pattern can produce the return
// type.
func (t Target) Validate() error {
	if t.Name == "" {
		return errors.New("target has no method name")
	}
	if !dex.ValidType(t.Return) {
		return fmt.Errorf("%s: bad return type %q", t.Name, t.Return)
	}
	for _, p := range t.Params {
		if p == "V" || !dex.ValidType(p) {
			return fmt.Errorf("%s: bad parameter type %q", t.Name, p)
		}
	}
	if t.AnyParams && len(t.Params) > 0 {
		return fmt.Errorf("%s: wildcard target lists parameters", t.Name)
	}
	if t.Class != "" && (!dex.ValidType(t.Class) || t.Class[0] != 'L') {
		return fmt.Errorf("%s: bad class descriptor %q", t.Name, t.Class)
	}
	if !t.Pattern.Accepts(t.Return) {
		return fmt.Errorf("%s: %w: %s cannot return %s", t.Name, synth.ErrIncompatible, t.Pattern, dex.PrettyType(t.Return))
	}
	return nil
}

// Spec is the ordered target list of one archive. Order matters: the
// first matching target wins.
type Spec struct {
	Archive string
	Targets []Target
}

// Catalog is an immutable set of archive specs.
type Catalog struct {
	specs map[string]Spec
}

// New builds a catalog. Later specs for the same archive replace earlier
// ones.
func New(specs ...Spec) (*Catalog, error) {
	c := &Catalog{specs: make(map[string]Spec, len(specs))}
	for _, s := range specs {
		if s.Archive == "" {
			return nil, errors.New("catalog entry without archive name")
		}
		for _, t := range s.Targets {
			if err := t.Validate(); err != nil {
				return nil, fmt.Errorf("%s: %w", s.Archive, err)
			}
		}
		c.specs[s.Archive] = Spec{Archive: s.Archive, Targets: slices.Clone(s.Targets)}
	}
	return c, nil
}

// Lookup returns the target list for an archive name. Matching is exact and case
// sensitive.
func (c *Catalog) Lookup(archive string) (Spec, error) {
	s, ok := c.specs[archive]
	if !ok {
		return Spec{}, fmt.Errorf("%w: %s", ErrUnknownArchive, archive)
	}
	s.Targets = slices.Clone(s.Targets)
	return s, nil
}

// Archives lists the known archive names in sorted order.
func (c *Catalog) Archives() []string {
	names := make([]string, 0, len(c.specs))
	for n := range c.specs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Specs returns all entries sorted by archive name.
func (c *Catalog) Specs() []Spec {
	out := make([]Spec, 0, len(c.specs))
	for _, n := range c.Archives() {
		s, _ := c.Lookup(n)
		out = append(out, s)
	}
	return out
}

// ParseDesc parses a signature filter: a method descriptor, or "(*)R" for
// any parameter list.
func ParseDesc(desc string) (params []string, anyParams bool, ret string, err error) {
	if rest, ok := strings.CutPrefix(desc, "(*)"); ok {
		if !dex.ValidType(rest) {
			return nil, false, "", fmt.Errorf("bad return type in %q", desc)
		}
		return nil, true, rest, nil
	}
	p, err := dex.ParseProto(desc)
	if err != nil {
		return nil, false, "", err
	}
	return p.Params, false, p.Return, nil
}

// Fingerprint identifies the target list. Two entries with the same
// archive and targets in the same order share a fingerprint.
func (s Spec) Fingerprint() string {
	h := sha256.New()
	io.WriteString(h, s.Archive)
	for _, t := range s.Targets {
		h.Write([]byte{0})
		io.WriteString(h, t.String())
	}
	return hex.EncodeToString(h.Sum(nil))
}

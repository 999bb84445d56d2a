package catalog

import (
	"fmt"

	"paccer/internal/synth"
)

// TargetConfig is one [[archive.target]] table in paccer.toml.
type TargetConfig struct {
	Name    string `toml:"name"`
	Desc    string `toml:"desc"`
	Pattern string `toml:"pattern"`
	Class   string `toml:"class,omitempty"`
}

// ArchiveConfig is one [[archive]] table. With Extend set the targets are
// appended after the existing entry for the archive; otherwise they
// replace it.
type ArchiveConfig struct {
	Name    string         `toml:"name"`
	Extend  bool           `toml:"extend,omitempty"`
	Targets []TargetConfig `toml:"target"`
}

func (tc TargetConfig) target() (Target, error) {
	params, anyParams, ret, err := ParseDesc(tc.Desc)
	if err != nil {
		return Target{}, fmt.Errorf("target %q: %w", tc.Name, err)
	}
	p, err := synth.ParsePattern(tc.Pattern)
	if err != nil {
		return Target{}, fmt.Errorf("target %q: %w", tc.Name, err)
	}
	return Target{
		Name:      tc.Name,
		Params:    params,
		AnyParams: anyParams,
		Return:    ret,
		Class:     tc.Class,
		Pattern:   p,
	}, nil
}

// Apply returns a new catalog with the configured archives layered over c.
func (c *Catalog) Apply(archives []ArchiveConfig) (*Catalog, error) {
	merged := make(map[string]Spec, len(c.specs)+len(archives))
	order := c.Archives()
	for _, n := range order {
		merged[n] = c.specs[n]
	}
	for i, ac := range archives {
		if ac.Name == "" {
			return nil, fmt.Errorf("archive #%d has no name", i+1)
		}
		var targets []Target
		for _, tc := range ac.Targets {
			t, err := tc.target()
			if err != nil {
				return nil, fmt.Errorf("archive %s: %w", ac.Name, err)
			}
			targets = append(targets, t)
		}
		prev, seen := merged[ac.Name]
		if !seen {
			order = append(order, ac.Name)
		}
		if ac.Extend {
			targets = append(append([]Target(nil), prev.Targets...), targets...)
		}
		merged[ac.Name] = Spec{Archive: ac.Name, Targets: targets}
	}
	specs := make([]Spec, 0, len(order))
	for _, n := range order {
		specs = append(specs, merged[n])
	}
	return New(specs...)
}

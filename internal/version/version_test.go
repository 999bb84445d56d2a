package version

import (
	"testing"

	"github.com/fatih/color"
)

func TestColoredPlain(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prev }()

	old := Version
	defer func() { Version = old }()
	for in, want := range map[string]string{
		"1.2.3":     "1.2.3",
		"0.3.0-dev": "0.3.0-dev",
		"weird":     "weird",
	} {
		Version = in
		if got := Colored(); got != want {
			t.Fatalf("Colored() with %q = %q, want %q", in, got, want)
		}
	}
}

func TestCommitOverride(t *testing.T) {
	old := GitCommit
	defer func() { GitCommit = old }()
	GitCommit = "abc123"
	if Commit() != "abc123" {
		t.Fatal("override ignored")
	}
}

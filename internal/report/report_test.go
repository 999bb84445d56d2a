package report

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"paccer/internal/diag"
	"paccer/internal/observ"
)

func sample() *Report {
	return &Report{
		Tool:    "paccer",
		Started: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Archive: "services.jar",
		API:     34,
		Input:   "classes.dex",
		Output:  "out.dex",
		Written: true,
		Applied: []string{"isSecureLocked", "notifyScreenshotListeners"},
		Entries: []Entry{{
			Name:    "classes.dex",
			Applied: []string{"isSecureLocked", "notifyScreenshotListeners"},
			Methods: []Method{{
				Signature: "Lcom/android/server/wm/WindowManagerService;->isSecureLocked()Z",
				Target:    "isSecureLocked",
				Pattern:   "return-false",
			}},
			Visited:  12,
			Replaced: 2,
		}},
		Timings:     observ.Report{TotalMS: 3.5, Stages: []observ.StageReport{{Name: "parse", DurationMS: 3.5}}},
		Diagnostics: []diag.Diagnostic{diag.NewWarning(diag.RwrDuplicate, "services.jar", "x")},
	}
}

func TestEncodingFor(t *testing.T) {
	cases := map[string]Encoding{
		"r.json":    EncodingJSON,
		"r.mp":      EncodingMsgpack,
		"r.MSGPACK": EncodingMsgpack,
		"r":         EncodingJSON,
	}
	for p, want := range cases {
		if got := EncodingFor(p); got != want {
			t.Fatalf("EncodingFor(%q) = %d, want %d", p, got, want)
		}
	}
}

func TestWriteRead(t *testing.T) {
	for _, name := range []string{"run.json", "run.mp"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			if err := Write(path, sample()); err != nil {
				t.Fatal(err)
			}
			got, err := Read(path)
			if err != nil {
				t.Fatal(err)
			}
			want := sample()
			if got.Archive != want.Archive || got.API != want.API || !got.Started.Equal(want.Started) {
				t.Fatalf("header mismatch: %+v", got)
			}
			if !slices.Equal(got.Applied, want.Applied) {
				t.Fatalf("applied = %v", got.Applied)
			}
			if len(got.Entries) != 1 || got.Entries[0].Methods[0].Pattern != "return-false" {
				t.Fatalf("entries = %+v", got.Entries)
			}
			if got.Diagnostics[0].Code != diag.RwrDuplicate {
				t.Fatalf("diagnostics = %+v", got.Diagnostics)
			}
			entries, _ := os.ReadDir(filepath.Dir(path))
			if len(entries) != 1 {
				t.Fatalf("temp files left: %v", entries)
			}
		})
	}
}

func TestReadRejectsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.json")
	if err := os.WriteFile(path, []byte(`{"schema": 99}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(path); err == nil {
		t.Fatal("expected schema error")
	}
}

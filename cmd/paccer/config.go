package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"paccer/internal/catalog"
	"paccer/internal/diag"
)

const configName = "paccer.toml"

// fileConfig is the layout of paccer.toml:
//
//	[trace]
//	level = "stage"
//	output = "paccer.trace.ndjson"
//
//	[output]
//	report = "paccer-report.json"
//
//	[[archive]]
//	name = "services.jar"
//	extend = true
//	  [[archive.target]]
//	  name = "isScreenCaptureAllowed"
//	  desc = "(*)Z"
//	  pattern = "return-true"
type fileConfig struct {
	Trace    traceConfig             `toml:"trace"`
	Output   outputConfig            `toml:"output"`
	Archives []catalog.ArchiveConfig `toml:"archive"`
}

type traceConfig struct {
	Level     string `toml:"level"`
	Output    string `toml:"output"`
	Mode      string `toml:"mode"`
	Format    string `toml:"format"`
	RingSize  int    `toml:"ring_size"`
	Heartbeat string `toml:"heartbeat"`
}

type outputConfig struct {
	Report   string `toml:"report"`
	Timings  bool   `toml:"timings"`
	Strict   bool   `toml:"strict"`
	Quiet    bool   `toml:"quiet"`
	Cache    bool   `toml:"cache"`
	CacheDir string `toml:"cache_dir"`
}

type loadedConfig struct {
	Path   string // "" when no file was found
	Config fileConfig
}

func findConfig(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, configName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// loadConfig reads explicit when set, otherwise the nearest paccer.toml.
// A missing file is only an error when it was named explicitly.
func loadConfig(explicit string) (*loadedConfig, error) {
	path := explicit
	if path == "" {
		found, ok, err := findConfig(".")
		if err != nil {
			return nil, diag.Wrap(diag.CatBadConfig, "config", "", err)
		}
		if !ok {
			return &loadedConfig{}, nil
		}
		path = found
	}
	cfg, err := decodeConfig(path)
	if err != nil {
		return nil, err
	}
	return &loadedConfig{Path: path, Config: cfg}, nil
}

func decodeConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return fileConfig{}, diag.Errorf(diag.CatBadConfig, "config", "%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return fileConfig{}, diag.Errorf(diag.CatBadConfig, "config", "%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	for i, a := range cfg.Archives {
		if strings.TrimSpace(a.Name) == "" {
			return fileConfig{}, diag.Errorf(diag.CatBadConfig, "config", "%s: [[archive]] #%d: missing name", path, i+1)
		}
	}
	return cfg, nil
}

// catalog returns the built-in catalog with the file's archive overlay.
func (lc *loadedConfig) catalog() (*catalog.Catalog, error) {
	base := catalog.Builtin()
	if lc == nil || len(lc.Config.Archives) == 0 {
		return base, nil
	}
	cat, err := base.Apply(lc.Config.Archives)
	if err != nil {
		return nil, diag.Errorf(diag.CatBadTarget, "config", "%s: %w", lc.Path, err)
	}
	return cat, nil
}

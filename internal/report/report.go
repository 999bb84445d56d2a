// Package report persists the outcome of a patch run as JSON or
// MessagePack, chosen by the output file extension.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"paccer/internal/diag"
	"paccer/internal/observ"
)

// SchemaVersion is bumped whenever Report changes incompatibly.
const SchemaVersion uint16 = 1

// Method is one replaced method.
type Method struct {
	Signature string `json:"signature" msgpack:"signature"`
	Target    string `json:"target" msgpack:"target"`
	Pattern   string `json:"pattern" msgpack:"pattern"`
	Static    bool   `json:"static,omitempty" msgpack:"static,omitempty"`
}

// Entry is the outcome for one dex file inside an archive.
type Entry struct {
	Name     string   `json:"name" msgpack:"name"`
	Applied  []string `json:"applied,omitempty" msgpack:"applied,omitempty"`
	Methods  []Method `json:"methods,omitempty" msgpack:"methods,omitempty"`
	Visited  int      `json:"visited" msgpack:"visited"`
	Replaced int      `json:"replaced" msgpack:"replaced"`
	// Timings is set for archive entries, which each run their own stages.
	Timings *observ.Report `json:"timings,omitempty" msgpack:"timings,omitempty"`
}

// Report describes one invocation.
type Report struct {
	Schema      uint16            `json:"schema" msgpack:"schema"`
	Tool        string            `json:"tool" msgpack:"tool"`
	Started     time.Time         `json:"started" msgpack:"started"`
	Archive     string            `json:"archive" msgpack:"archive"`
	API         int               `json:"api" msgpack:"api"`
	Input       string            `json:"input" msgpack:"input"`
	Output      string            `json:"output" msgpack:"output"`
	Written     bool              `json:"written" msgpack:"written"`
	DryRun      bool              `json:"dry_run,omitempty" msgpack:"dry_run,omitempty"`
	Cached      bool              `json:"cached,omitempty" msgpack:"cached,omitempty"`
	Applied     []string          `json:"applied" msgpack:"applied"`
	Entries     []Entry           `json:"entries" msgpack:"entries"`
	Timings     observ.Report     `json:"timings" msgpack:"timings"`
	Diagnostics []diag.Diagnostic `json:"diagnostics,omitempty" msgpack:"diagnostics,omitempty"`
	Error       string            `json:"error,omitempty" msgpack:"error,omitempty"`
}

// Encoding is the on-disk format of a report.
type Encoding uint8

const (
	EncodingJSON Encoding = iota + 1
	EncodingMsgpack
)

// EncodingFor picks msgpack for .mp/.msgpack paths and JSON otherwise.
func EncodingFor(path string) Encoding {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp", ".msgpack":
		return EncodingMsgpack
	}
	return EncodingJSON
}

// Encode writes r to w.
func Encode(w io.Writer, r *Report, enc Encoding) error {
	switch enc {
	case EncodingMsgpack:
		e := msgpack.NewEncoder(w)
		e.SetSortMapKeys(true)
		return e.Encode(r)
	case EncodingJSON:
		e := json.NewEncoder(w)
		e.SetIndent("", "  ")
		return e.Encode(r)
	}
	return fmt.Errorf("unknown report encoding %d", enc)
}

// Decode reads a report from rd.
func Decode(rd io.Reader, enc Encoding) (*Report, error) {
	var r Report
	var err error
	switch enc {
	case EncodingMsgpack:
		err = msgpack.NewDecoder(rd).Decode(&r)
	case EncodingJSON:
		err = json.NewDecoder(rd).Decode(&r)
	default:
		err = fmt.Errorf("unknown report encoding %d", enc)
	}
	if err != nil {
		return nil, err
	}
	if r.Schema != SchemaVersion {
		return nil, fmt.Errorf("report schema %d, want %d", r.Schema, SchemaVersion)
	}
	return &r, nil
}

// Write stores r at path, replacing any existing file atomically. "-"
// writes JSON to stdout.
func Write(path string, r *Report) (err error) {
	r.Schema = SchemaVersion
	if path == "-" {
		return Encode(os.Stdout, r, EncodingJSON)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".report-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if err = Encode(tmp, r, EncodingFor(path)); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Read loads a report written by Write.
func Read(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f, EncodingFor(path))
}

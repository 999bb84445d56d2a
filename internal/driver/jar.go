package driver

import (
	"archive/zip"
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"paccer/internal/catalog"
	"paccer/internal/diag"
	"paccer/internal/observ"
	"paccer/internal/rewrite"
	"paccer/internal/trace"
)

// JarRequest describes a run over every dex entry of an archive.
type JarRequest struct {
	Input   string
	Output  string
	Archive string
	API     int
	Catalog *catalog.Catalog
	DryRun  bool
	// Jobs bounds concurrent entries; 0 means GOMAXPROCS.
	Jobs int
	Sink ProgressSink
}

// EntryResult is the outcome for one dex entry.
type EntryResult struct {
	Name     string
	Record   rewrite.Record
	Methods  []MethodSummary
	Visited  int
	Replaced int
	Timings  observ.Report
}

// JarResult is the outcome of PatchJar. Record merges the entry records
// in entry order.
type JarResult struct {
	Record      rewrite.Record
	Entries     []EntryResult
	Written     bool
	Timings     observ.Report
	Diagnostics *diag.Bag
}

var dexEntryName = regexp.MustCompile(`^classes([0-9]*)\.dex$`)

// dexIndex orders entries the way the runtime loads them: classes.dex,
// classes2.dex, classes3.dex and so on.
func dexIndex(name string) (int, bool) {
	m := dexEntryName.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	if m[1] == "" {
		return 1, true
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 2 {
		return 0, false
	}
	return n, true
}

// DexEntries returns the root-level classes*.dex entries in load order.
func DexEntries(zr *zip.Reader) []*zip.File {
	var out []*zip.File
	for _, f := range zr.File {
		if _, ok := dexIndex(f.Name); ok {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, _ := dexIndex(out[i].Name)
		b, _ := dexIndex(out[j].Name)
		return a < b
	})
	return out
}

// PatchJar patches every dex entry of an archive concurrently and writes
// a copy of the archive with the patched entries replaced. Entries and
// other files are otherwise copied unchanged. Nothing is written when no
// entry matched.
func PatchJar(ctx context.Context, req JarRequest) (*JarResult, error) {
	root := trace.Begin(trace.FromContext(ctx), trace.ScopeDriver, "jar "+req.Archive, trace.ParentID(ctx))
	ctx = trace.WithSpan(ctx, root)
	r := newRun(ctx, req.Input, req.Sink)
	res := &JarResult{Diagnostics: diag.NewBag(maxDiagnostics)}
	r.diags = diag.NewDedupReporter(diag.BagReporter{Bag: res.Diagnostics})
	err := r.patchJar(ctx, req, res)
	res.Timings = r.timer.Report()
	detail := "ok"
	if err != nil {
		detail = err.Error()
	}
	root.WithExtra("entries", strconv.Itoa(len(res.Entries))).End(detail)
	return res, err
}

func (r *run) patchJar(ctx context.Context, req JarRequest, res *JarResult) error {
	var spec catalog.Spec
	if err := r.stage(ctx, StageLookup, func() (string, error) {
		var err error
		spec, err = resolve(req.Catalog, req.Archive, req.API)
		return fmt.Sprintf("%d targets", len(spec.Targets)), err
	}); err != nil {
		return err
	}

	var (
		zr      *zip.ReadCloser
		entries []*zip.File
	)
	if err := r.stage(ctx, StageRead, func() (string, error) {
		var err error
		zr, err = zip.OpenReader(req.Input)
		if err != nil {
			return "", diag.Wrap(diag.IOArchive, string(StageRead), req.Input, err)
		}
		entries = DexEntries(&zr.Reader)
		if len(entries) == 0 {
			return "", &diag.Error{Code: diag.IOArchive, Stage: string(StageRead), Subject: req.Input,
				Message: req.Input + ": archive has no classes.dex entries"}
		}
		return fmt.Sprintf("%d dex entries", len(entries)), nil
	}); err != nil {
		if zr != nil {
			zr.Close()
		}
		return err
	}
	defer zr.Close()

	for _, f := range entries {
		emit(req.Sink, Event{Entry: f.Name, Stage: StageRead, Status: StatusQueued})
	}

	outcomes, err := patchEntries(ctx, entries, req, spec)
	if err != nil {
		return err
	}

	patched := make(map[string][]byte)
	records := make([]rewrite.Record, 0, len(outcomes))
	for i, oc := range outcomes {
		res.Entries = append(res.Entries, EntryResult{
			Name:     entries[i].Name,
			Record:   oc.record,
			Methods:  oc.methods,
			Visited:  oc.visited,
			Replaced: oc.replaced,
			Timings:  oc.timings,
		})
		records = append(records, oc.record)
		if oc.data != nil {
			patched[entries[i].Name] = oc.data
		}
	}
	res.Record = rewrite.Merge(records...)
	if res.Record.Empty() {
		r.diags.Report(noMatch(req.Archive, req.Input))
		return nil
	}
	if req.DryRun {
		emit(r.sink, Event{Entry: r.entry, Stage: StageWrite, Status: StatusSkipped})
		return nil
	}
	if err := r.stage(ctx, StageWrite, func() (string, error) {
		err := writeAtomic(req.Output, 0o644, func(w io.Writer) error {
			return rewriteArchive(&zr.Reader, w, patched)
		})
		if err != nil {
			return "", stageErr(StageWrite, req.Output, err)
		}
		return fmt.Sprintf("%d entries replaced", len(patched)), nil
	}); err != nil {
		return err
	}
	res.Written = true
	return nil
}

type entryOutcome struct {
	outcome
	timings observ.Report
}

func patchEntries(ctx context.Context, entries []*zip.File, req JarRequest, spec catalog.Spec) ([]entryOutcome, error) {
	jobs := req.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	out := make([]entryOutcome, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, len(entries)))
	for i, f := range entries {
		g.Go(func() error {
			er := newRun(gctx, f.Name, req.Sink)
			start := time.Now()
			var data []byte
			if err := er.stage(gctx, StageRead, func() (string, error) {
				var err error
				data, err = readEntry(f)
				if err != nil {
					return "", diag.Wrap(diag.IOArchive, string(StageRead), f.Name, err)
				}
				return fmt.Sprintf("%d bytes", len(data)), nil
			}); err != nil {
				emit(req.Sink, Event{Entry: f.Name, Status: StatusError, Err: err, Elapsed: time.Since(start)})
				return err
			}
			oc, err := er.patchBytes(gctx, data, req.API, spec)
			// index i is owned by this goroutine
			out[i] = entryOutcome{outcome: oc, timings: er.timer.Report()}
			final := Event{Entry: f.Name, Status: StatusDone, Elapsed: time.Since(start), Applied: oc.record.Len()}
			if err != nil {
				final.Status, final.Err = StatusError, err
			}
			emit(req.Sink, final)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// rewriteArchive copies zr to w, substituting the contents of the entries
// named in patched. Stored entries stay stored, without a data
// descriptor; compressed entries are recompressed with their method.
func rewriteArchive(zr *zip.Reader, w io.Writer, patched map[string][]byte) error {
	zw := zip.NewWriter(w)
	if err := zw.SetComment(zr.Comment); err != nil {
		return err
	}
	for _, f := range zr.File {
		data, ok := patched[f.Name]
		if !ok {
			if err := zw.Copy(f); err != nil {
				return fmt.Errorf("copy %s: %w", f.Name, err)
			}
			continue
		}
		hdr := f.FileHeader
		hdr.Extra = nil
		hdr.CompressedSize, hdr.UncompressedSize = 0, 0
		hdr.CompressedSize64, hdr.UncompressedSize64 = 0, 0
		hdr.CRC32 = 0
		var (
			fw  io.Writer
			err error
		)
		if hdr.Method == zip.Store {
			hdr.Flags &^= 0x8
			hdr.CRC32 = crc32.ChecksumIEEE(data)
			hdr.CompressedSize64 = uint64(len(data))
			hdr.UncompressedSize64 = uint64(len(data))
			fw, err = zw.CreateRaw(&hdr)
		} else {
			fw, err = zw.CreateHeader(&hdr)
		}
		if err != nil {
			return fmt.Errorf("create %s: %w", f.Name, err)
		}
		if _, err := fw.Write(data); err != nil {
			return fmt.Errorf("write %s: %w", f.Name, err)
		}
	}
	return zw.Close()
}

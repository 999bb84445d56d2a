// Package driver runs the patch pipeline: catalog lookup, read, parse,
// rewrite, serialize and write, for a single dex file or for every dex
// entry of an archive.
package driver

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"paccer/internal/catalog"
	"paccer/internal/dex"
	"paccer/internal/diag"
	"paccer/internal/observ"
	"paccer/internal/rewrite"
	"paccer/internal/trace"
)

const maxDiagnostics = 64

// Request describes a single dex run.
type Request struct {
	Input   string
	Output  string
	Archive string
	API     int
	// Catalog defaults to catalog.Builtin.
	Catalog *catalog.Catalog
	// DryRun runs every stage except write.
	DryRun bool
	Cache  *DiskCache
	Sink   ProgressSink
}

// MethodSummary describes one replaced method.
type MethodSummary struct {
	Signature string `msgpack:"signature"`
	Target    string `msgpack:"target"`
	Pattern   string `msgpack:"pattern"`
	Static    bool   `msgpack:"static"`
}

// Result is the outcome of a run. Record is empty when nothing matched,
// in which case no output was written.
type Result struct {
	Record      rewrite.Record
	Methods     []MethodSummary
	Visited     int
	Replaced    int
	Written     bool
	Cached      bool
	Timings     observ.Report
	Diagnostics *diag.Bag
}

// run carries the per-pipeline plumbing shared by the stages.
type run struct {
	tracer trace.Tracer
	parent uint64
	timer  *observ.Timer
	sink   ProgressSink
	entry  string
	diags  diag.Reporter
}

func newRun(ctx context.Context, entry string, sink ProgressSink) *run {
	return &run{
		tracer: trace.FromContext(ctx),
		parent: trace.ParentID(ctx),
		timer:  observ.NewTimer(),
		sink:   sink,
		entry:  entry,
		diags:  diag.NopReporter{},
	}
}

// stage runs fn as a timed, traced pipeline step. fn returns a short
// note for the timings table.
func (r *run) stage(ctx context.Context, st Stage, fn func() (string, error)) error {
	if err := ctx.Err(); err != nil {
		return diag.Wrap(diag.RwrCanceled, string(st), r.entry, err)
	}
	span := trace.Begin(r.tracer, trace.ScopeStage, string(st), r.parent)
	emit(r.sink, Event{Entry: r.entry, Stage: st, Status: StatusWorking})
	idx := r.timer.Begin(string(st))
	start := time.Now()
	note, err := fn()
	if err != nil && note == "" {
		note = "failed"
	}
	r.timer.End(idx, note)
	span.End(note)
	ev := Event{Entry: r.entry, Stage: st, Status: StatusDone, Elapsed: time.Since(start)}
	if err != nil {
		ev.Status, ev.Err = StatusError, err
	}
	emit(r.sink, ev)
	return err
}

// resolve performs the checks that must fail before any input is read:
// the archive must be in the catalog and the API level must be usable.
func resolve(cat *catalog.Catalog, archive string, api int) (catalog.Spec, error) {
	if cat == nil {
		cat = catalog.Builtin()
	}
	spec, err := cat.Lookup(archive)
	if err != nil {
		return catalog.Spec{}, lookupErr(archive, err)
	}
	if _, err := dex.OpcodesForAPI(api); err != nil {
		return catalog.Spec{}, &diag.Error{
			Code:    diag.UseInvalidAPI,
			Stage:   string(StageLookup),
			Message: "Invalid API level: " + strconv.Itoa(api),
			Err:     err,
		}
	}
	return spec, nil
}

// Patch runs the single dex pipeline. The returned Result is non-nil even
// on error so callers can report timings.
func Patch(ctx context.Context, req Request) (*Result, error) {
	root := trace.Begin(trace.FromContext(ctx), trace.ScopeDriver, "patch "+req.Archive, trace.ParentID(ctx))
	ctx = trace.WithSpan(ctx, root)
	r := newRun(ctx, req.Input, req.Sink)
	res := &Result{Diagnostics: diag.NewBag(maxDiagnostics)}
	r.diags = diag.NewDedupReporter(diag.BagReporter{Bag: res.Diagnostics})
	err := r.patch(ctx, req, res)
	res.Timings = r.timer.Report()
	detail := "ok"
	if err != nil {
		detail = err.Error()
	}
	root.WithExtra("applied", strconv.Itoa(res.Record.Len())).End(detail)
	return res, err
}

func (r *run) patch(ctx context.Context, req Request, res *Result) error {
	var spec catalog.Spec
	if err := r.stage(ctx, StageLookup, func() (string, error) {
		var err error
		spec, err = resolve(req.Catalog, req.Archive, req.API)
		return fmt.Sprintf("%d targets", len(spec.Targets)), err
	}); err != nil {
		return err
	}

	var data []byte
	if err := r.stage(ctx, StageRead, func() (string, error) {
		var err error
		data, err = os.ReadFile(req.Input)
		if err != nil {
			return "", stageErr(StageRead, req.Input, err)
		}
		return fmt.Sprintf("%d bytes", len(data)), nil
	}); err != nil {
		return err
	}

	var key string
	if req.Cache != nil {
		key = cacheKey(data, spec, req.API)
		hit, out, err := r.lookupCache(ctx, req.Cache, key)
		if err != nil {
			return err
		}
		if hit != nil {
			res.Cached = true
			return r.finish(ctx, req, res, outcomeFromCache(hit, out))
		}
	}

	oc, err := r.patchBytes(ctx, data, req.API, spec)
	if err != nil {
		return err
	}
	if req.Cache != nil {
		if err := r.storeCache(ctx, req.Cache, key, req.Archive, req.API, oc); err != nil {
			r.diags.Report(diag.NewWarning(diag.IOInfo, req.Input, "cache not updated: "+err.Error()))
		}
	}
	return r.finish(ctx, req, res, oc)
}

// finish copies an outcome into res and writes the output when something
// was replaced.
func (r *run) finish(ctx context.Context, req Request, res *Result, oc outcome) error {
	res.Record = oc.record
	res.Methods = oc.methods
	res.Visited = oc.visited
	res.Replaced = oc.replaced
	if oc.record.Empty() {
		r.diags.Report(noMatch(req.Archive, req.Input))
		return nil
	}
	if req.DryRun {
		emit(r.sink, Event{Entry: r.entry, Stage: StageWrite, Status: StatusSkipped})
		return nil
	}
	if err := r.stage(ctx, StageWrite, func() (string, error) {
		if err := writeFileAtomic(req.Output, oc.data); err != nil {
			return "", stageErr(StageWrite, req.Output, err)
		}
		return fmt.Sprintf("%d bytes", len(oc.data)), nil
	}); err != nil {
		return err
	}
	res.Written = true
	return nil
}

func noMatch(archive, subject string) diag.Diagnostic {
	return diag.NewWarning(diag.RwrNoMatch, subject,
		"no patch target for "+archive+" matched; nothing written")
}

// outcome is what the codec stages produce for one dex image.
type outcome struct {
	record   rewrite.Record
	methods  []MethodSummary
	visited  int
	replaced int
	data     []byte // nil when nothing matched
}

// patchBytes parses, rewrites and, when anything matched, re-serializes
// one dex image.
func (r *run) patchBytes(ctx context.Context, data []byte, api int, spec catalog.Spec) (outcome, error) {
	var oc outcome
	var f *dex.File
	if err := r.stage(ctx, StageParse, func() (string, error) {
		var err error
		f, err = dex.Parse(data, api)
		if err != nil {
			return "", stageErr(StageParse, r.entry, err)
		}
		return fmt.Sprintf("%d classes", len(f.Classes)), nil
	}); err != nil {
		return oc, err
	}

	if err := r.stage(ctx, StageRewrite, func() (string, error) {
		res, err := rewrite.Run(ctx, f, spec)
		if err != nil {
			return "", stageErr(StageRewrite, r.entry, err)
		}
		oc.record = res.Record
		oc.visited = res.Visited
		oc.replaced = res.Replaced
		for _, m := range res.Matches {
			oc.methods = append(oc.methods, MethodSummary{
				Signature: m.Method.String(),
				Target:    m.Target.Name,
				Pattern:   m.Pattern.String(),
				Static:    m.Static,
			})
		}
		return fmt.Sprintf("%d of %d methods", res.Replaced, res.Visited), nil
	}); err != nil {
		return oc, err
	}
	if oc.record.Empty() {
		return oc, nil
	}

	err := r.stage(ctx, StageSerialize, func() (string, error) {
		out, err := dex.Serialize(f)
		if err != nil {
			return "", stageErr(StageSerialize, r.entry, err)
		}
		oc.data = out
		return fmt.Sprintf("%d bytes", len(out)), nil
	})
	return oc, err
}

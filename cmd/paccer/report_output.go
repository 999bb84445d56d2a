package main

import (
	"time"

	"paccer/internal/driver"
	"paccer/internal/report"
	"paccer/internal/version"
)

func reportMethods(ms []driver.MethodSummary) []report.Method {
	out := make([]report.Method, 0, len(ms))
	for _, m := range ms {
		out = append(out, report.Method{
			Signature: m.Signature,
			Target:    m.Target,
			Pattern:   m.Pattern,
			Static:    m.Static,
		})
	}
	return out
}

func newReport(started time.Time, input, output, archive string, api int, dryRun bool) *report.Report {
	return &report.Report{
		Tool:    "paccer " + version.Version,
		Started: started.UTC(),
		Archive: archive,
		API:     api,
		Input:   input,
		Output:  output,
		DryRun:  dryRun,
	}
}

// patchReport describes a single dex run. res may be partial when the run
// failed.
func patchReport(rep *report.Report, res *driver.Result) *report.Report {
	if res == nil {
		return rep
	}
	rep.Written = res.Written
	rep.Cached = res.Cached
	rep.Applied = res.Record.Names()
	rep.Timings = res.Timings
	rep.Entries = []report.Entry{{
		Name:     rep.Input,
		Applied:  res.Record.Names(),
		Methods:  reportMethods(res.Methods),
		Visited:  res.Visited,
		Replaced: res.Replaced,
	}}
	if res.Diagnostics != nil {
		rep.Diagnostics = append(rep.Diagnostics, res.Diagnostics.Items()...)
	}
	return rep
}

func jarReport(rep *report.Report, res *driver.JarResult) *report.Report {
	if res == nil {
		return rep
	}
	rep.Written = res.Written
	rep.Applied = res.Record.Names()
	rep.Timings = res.Timings
	for _, e := range res.Entries {
		timings := e.Timings
		rep.Entries = append(rep.Entries, report.Entry{
			Name:     e.Name,
			Applied:  e.Record.Names(),
			Methods:  reportMethods(e.Methods),
			Visited:  e.Visited,
			Replaced: e.Replaced,
			Timings:  &timings,
		})
	}
	if res.Diagnostics != nil {
		rep.Diagnostics = append(rep.Diagnostics, res.Diagnostics.Items()...)
	}
	return rep
}

package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"paccer/internal/catalog"
	"paccer/internal/diag"
	"paccer/internal/driver"
	"paccer/internal/observ"
	"paccer/internal/report"
	"paccer/internal/rewrite"
	"paccer/internal/trace"
)

// session is the per-invocation state shared by the commands that run
// the pipeline: resolved settings, the catalog, tracing and profiling.
type session struct {
	cmd     *cobra.Command
	config  *loadedConfig
	catalog *catalog.Catalog
	tracer  trace.Tracer
	cache   *driver.DiskCache

	reportPath string
	dryRun     bool
	strict     bool
	quiet      bool
	timings    bool

	cleanups []func()
}

// openSession resolves flags and paccer.toml. Callers must close the
// session even when the run fails.
func openSession(cmd *cobra.Command) (s *session, err error) {
	flags := cmd.Flags()
	colorMode, _ := flags.GetString("color")
	if err := applyColor(colorMode); err != nil {
		return nil, diag.Wrap(diag.UseBadFlag, "flags", "", err)
	}

	configPath, _ := flags.GetString("config")
	lc, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	cat, err := lc.catalog()
	if err != nil {
		return nil, err
	}

	s = &session{cmd: cmd, config: lc, catalog: cat}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	out := lc.Config.Output
	reportPath, _ := flags.GetString("report")
	s.reportPath = setting(cmd, "report", reportPath, out.Report)
	s.dryRun, _ = flags.GetBool("dry-run")
	s.strict = boolSetting(cmd, "strict", out.Strict)
	s.quiet = boolSetting(cmd, "quiet", out.Quiet)
	s.timings = boolSetting(cmd, "timings", out.Timings)

	cacheDir, _ := flags.GetString("cache-dir")
	cacheDir = setting(cmd, "cache-dir", cacheDir, out.CacheDir)
	switch {
	case cacheDir != "":
		s.cache, err = driver.NewDiskCache(cacheDir)
	case boolSetting(cmd, "cache", out.Cache):
		s.cache, err = driver.OpenDiskCache("paccer")
	}
	if err != nil {
		return s, diag.Wrap(diag.IOInfo, "cache", cacheDir, err)
	}

	stopProf, err := setupProfiling(cmd)
	if err != nil {
		return s, diag.Wrap(diag.UseBadFlag, "profile", "", err)
	}
	s.cleanups = append(s.cleanups, stopProf)

	tracer, stopTrace, err := setupTracing(cmd, lc.Config.Trace)
	if err != nil {
		return s, err
	}
	s.tracer = tracer
	s.cleanups = append(s.cleanups, stopTrace)
	return s, nil
}

func boolSetting(cmd *cobra.Command, flag string, configValue bool) bool {
	v, _ := cmd.Flags().GetBool(flag)
	if cmd.Flags().Changed(flag) {
		return v
	}
	return v || configValue
}

func (s *session) context() context.Context {
	if ctx := s.cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// close releases tracing and profiling in reverse order of setup.
func (s *session) close() {
	for i := len(s.cleanups) - 1; i >= 0; i-- {
		s.cleanups[i]()
	}
	s.cleanups = nil
}

// failed replays a buffered trace before the error is printed.
func (s *session) failed(err error) error {
	if s.tracer != nil {
		if dumpErr := trace.DumpOnError(s.tracer, s.cmd.ErrOrStderr()); dumpErr != nil {
			fmt.Fprintf(s.cmd.ErrOrStderr(), "trace: dump error: %v\n", dumpErr)
		}
	}
	return err
}

// printRecord writes applied target names, one per line.
func (s *session) printRecord(rec rewrite.Record) {
	out := s.cmd.OutOrStdout()
	for _, name := range rec.Names() {
		fmt.Fprintln(out, name)
	}
}

// printDiagnostics writes the bag when it holds an error, or a warning
// and --quiet is off.
func (s *session) printDiagnostics(bag *diag.Bag) {
	switch {
	case bag == nil:
		return
	case bag.HasErrors():
	case s.quiet || !bag.HasWarnings():
		return
	}
	bag.Sort()
	bag.Dedup()
	_ = diag.Pretty(s.cmd.ErrOrStderr(), bag, diag.PrettyOpts{Color: !color.NoColor})
}

func (s *session) printTimings(r observ.Report) {
	if s.timings {
		fmt.Fprint(s.cmd.ErrOrStderr(), r.Summary())
	}
}

// writeReport stores rep when --report is set. runErr is the pipeline
// error, recorded in the report; a report failure after a failed run is
// only printed so the original error wins.
func (s *session) writeReport(rep *report.Report, runErr error) error {
	if s.reportPath == "" {
		return nil
	}
	if runErr != nil {
		rep.Error = runErr.Error()
		rep.Diagnostics = append(rep.Diagnostics, diag.AsDiagnostic(runErr))
	}
	if err := report.Write(s.reportPath, rep); err != nil {
		werr := diag.Wrap(diag.IOReport, "report", s.reportPath, err)
		if runErr != nil {
			fmt.Fprintf(s.cmd.ErrOrStderr(), "warning: %v\n", werr)
			return nil
		}
		return werr
	}
	return nil
}

// finish turns an empty record into exit status 2 under --strict.
func (s *session) finish(rec rewrite.Record) error {
	if rec.Empty() && s.strict {
		return &exitError{code: 2}
	}
	return nil
}

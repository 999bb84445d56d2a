package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"paccer/internal/diag"
	"paccer/internal/version"
)

const patchUsage = "Usage: paccer <input dex> <output dex> <JAR name> <API>"

// exitError carries a process exit code. A nil err means everything worth
// saying was already printed.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "paccer <input dex> <output dex> <JAR name> <API>",
		Short: "Patch Android platform dex files",
		Long: `paccer finds known methods in the dex of a platform archive
(services.jar, miui-services.jar, ...) and replaces their bodies with
constant returns. Applied target names are printed one per line.

Put the arguments after -- when one of them looks like a flag or
names a subcommand:

  paccer --quiet -- version out.dex services.jar 34`,
		Version:       version.Version,
		Args:          usageArgs(4, patchUsage),
		RunE:          runPatch,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.String("config", "", "path to paccer.toml (default: search upward from the working directory)")
	pf.String("color", "auto", "colorize output (auto|on|off)")
	pf.Bool("quiet", false, "suppress warnings")
	pf.Bool("timings", false, "print stage timings to stderr")
	pf.String("report", "", "write a run report (.json or .msgpack, - for stdout)")
	pf.Bool("dry-run", false, "run every stage except writing the output")
	pf.Bool("strict", false, "exit with status 2 when no target matched")
	pf.Bool("cache", false, "reuse results of identical earlier runs")
	pf.String("cache-dir", "", "cache directory (implies --cache)")

	pf.String("trace", "", "trace output file (- for stderr)")
	pf.String("trace-level", "off", "trace level (off|error|stage|detail|debug)")
	pf.String("trace-mode", "stream", "trace storage (stream|ring|both)")
	pf.String("trace-format", "auto", "trace format (auto|text|ndjson|chrome)")
	pf.Int("trace-ring-size", 4096, "events kept by the ring tracer")
	pf.Duration("trace-heartbeat", 0, "emit a heartbeat event at this interval")

	pf.String("cpu-profile", "", "write a CPU profile")
	pf.String("mem-profile", "", "write a heap profile on exit")
	pf.String("runtime-trace", "", "write a Go runtime trace")

	root.SetFlagErrorFunc(flagError)

	root.AddCommand(newJarCmd())
	root.AddCommand(newInspectCmd())
	root.AddCommand(newCatalogCmd())
	root.AddCommand(newCacheCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// usageArgs rejects fewer than n positional arguments with the bare usage
// line, which is what scripts wrapping paccer grep for.
func usageArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return &diag.Error{Code: diag.UseUsage, Message: usage}
		}
		return nil
	}
}

// flagError reports a negative number given where pflag expected a
// shorthand flag. The only such positional is the API level.
func flagError(cmd *cobra.Command, err error) error {
	rest, ok := strings.CutPrefix(err.Error(), "unknown shorthand flag: ")
	if !ok {
		return err
	}
	if _, tok, ok := strings.Cut(rest, " in "); ok && len(tok) > 1 && tok[1] >= '0' && tok[1] <= '9' {
		return &diag.Error{Code: diag.UseInvalidAPI, Stage: "args", Message: "Invalid API level: " + tok, Err: err}
	}
	return err
}

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command line and maps the outcome to an exit status.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if args == nil {
		// cobra falls back to os.Args for a nil slice
		args = []string{}
	}
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			printError(stderr, ee.err)
		}
		return ee.code
	}
	printError(stderr, err)
	return 1
}

// printError writes a fatal error. Usage, API and catalog failures keep
// their exact text; everything else is prefixed with the failing stage.
func printError(w io.Writer, err error) {
	switch diag.CodeOf(err) {
	case diag.UseUsage, diag.UseInvalidAPI, diag.CatUnknownArchive:
		fmt.Fprintln(w, err.Error())
		return
	}
	prefix := "error"
	if !color.NoColor {
		prefix = color.New(color.FgRed, color.Bold).Sprint(prefix)
	}
	if stage := diag.StageOf(err); stage != "" {
		fmt.Fprintf(w, "%s: %s: %v\n", prefix, stage, err)
		return
	}
	fmt.Fprintf(w, "%s: %v\n", prefix, err)
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

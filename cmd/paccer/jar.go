package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"paccer/internal/driver"
)

const jarUsage = "Usage: paccer jar <input jar> <output jar> <JAR name> <API>"

func newJarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jar <input jar> <output jar> <JAR name> <API>",
		Short: "Patch every classes*.dex entry of an archive",
		Long: `jar patches each classes.dex, classes2.dex, ... entry of a jar or apk
with the targets of JAR name and writes a new archive. Other entries are
copied unchanged. Nothing is written when no entry matched.`,
		Args: usageArgs(4, jarUsage),
		RunE: runJar,
	}
	cmd.Flags().Int("jobs", 0, "entries patched in parallel (0 = GOMAXPROCS)")
	cmd.Flags().String("ui", "auto", "progress view (auto|on|off)")
	return cmd
}

func runJar(cmd *cobra.Command, args []string) error {
	api, err := parseAPI(args[3])
	if err != nil {
		return err
	}
	jobs, err := cmd.Flags().GetInt("jobs")
	if err != nil {
		return fmt.Errorf("failed to get jobs flag: %w", err)
	}
	uiValue, err := cmd.Flags().GetString("ui")
	if err != nil {
		return fmt.Errorf("failed to get ui flag: %w", err)
	}
	mode, err := readUIMode(uiValue)
	if err != nil {
		return err
	}

	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	req := driver.JarRequest{
		Input:   args[0],
		Output:  args[1],
		Archive: args[2],
		API:     api,
		Catalog: s.catalog,
		DryRun:  s.dryRun,
		Jobs:    jobs,
	}
	rep := newReport(time.Now(), req.Input, req.Output, req.Archive, api, req.DryRun)

	var (
		res    *driver.JarResult
		runErr error
	)
	if shouldUseTUI(mode) && !s.quiet {
		res, runErr = runJarWithUI(s.context(), "paccer "+req.Archive, req)
	} else {
		res, runErr = driver.PatchJar(s.context(), req)
	}
	if err := s.writeReport(jarReport(rep, res), runErr); err != nil {
		return err
	}
	if runErr != nil {
		return s.failed(runErr)
	}

	s.printRecord(res.Record)
	s.printDiagnostics(res.Diagnostics)
	if s.timings {
		for _, e := range res.Entries {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d of %d methods replaced\n", e.Name, e.Replaced, e.Visited)
		}
	}
	s.printTimings(res.Timings)
	return s.finish(res.Record)
}

package main

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"paccer/internal/diag"
	"paccer/internal/driver"
)

// parseAPI rejects a non-numeric API level before anything is read.
// Range checks happen in the driver.
func parseAPI(s string) (int, error) {
	api, err := strconv.Atoi(s)
	if err != nil {
		return 0, &diag.Error{Code: diag.UseInvalidAPI, Stage: "args", Message: "Invalid API level: " + s, Err: err}
	}
	return api, nil
}

func runPatch(cmd *cobra.Command, args []string) error {
	api, err := parseAPI(args[3])
	if err != nil {
		return err
	}
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	req := driver.Request{
		Input:   args[0],
		Output:  args[1],
		Archive: args[2],
		API:     api,
		Catalog: s.catalog,
		DryRun:  s.dryRun,
		Cache:   s.cache,
	}
	rep := newReport(time.Now(), req.Input, req.Output, req.Archive, api, req.DryRun)
	res, runErr := driver.Patch(s.context(), req)
	if err := s.writeReport(patchReport(rep, res), runErr); err != nil {
		return err
	}
	if runErr != nil {
		return s.failed(runErr)
	}

	s.printRecord(res.Record)
	s.printDiagnostics(res.Diagnostics)
	s.printTimings(res.Timings)
	return s.finish(res.Record)
}

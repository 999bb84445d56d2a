package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"paccer/internal/driver"
)

const inspectUsage = "Usage: paccer inspect <input dex> <JAR name> <API>"

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <input dex> <JAR name> <API>",
		Short: "List the methods a patch run would replace",
		Long: `inspect runs the full pipeline without writing anything and lists every
method that matches a target of JAR name, in visit order.`,
		Args: usageArgs(3, inspectUsage),
		RunE: runInspect,
	}
}

func runInspect(cmd *cobra.Command, args []string) error {
	api, err := parseAPI(args[2])
	if err != nil {
		return err
	}
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	res, err := driver.Patch(s.context(), driver.Request{
		Input:   args[0],
		Archive: args[1],
		API:     api,
		Catalog: s.catalog,
		DryRun:  true,
		Cache:   s.cache,
	})
	if err != nil {
		return s.failed(err)
	}

	out := cmd.OutOrStdout()
	sig := color.New(color.Bold)
	pattern := color.New(color.FgCyan)
	for _, m := range res.Methods {
		kind := "virtual"
		if m.Static {
			kind = "static"
		}
		fmt.Fprintf(out, "%s  %s  %s (%s)\n", sig.Sprint(m.Signature), kind, pattern.Sprint(m.Pattern), m.Target)
	}
	fmt.Fprintf(out, "%d of %d methods match\n", res.Replaced, res.Visited)
	s.printDiagnostics(res.Diagnostics)
	s.printTimings(res.Timings)
	return s.finish(res.Record)
}

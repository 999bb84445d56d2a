package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"paccer/internal/catalog"
	"paccer/internal/diag"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog [JAR name]",
		Short: "List the patch targets known for each archive",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runCatalog,
	}
	cmd.Flags().String("format", "text", "output format (text|toml)")
	return cmd
}

func runCatalog(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return fmt.Errorf("failed to get format flag: %w", err)
	}
	colorMode, _ := cmd.Flags().GetString("color")
	if err := applyColor(colorMode); err != nil {
		return diag.Wrap(diag.UseBadFlag, "flags", "", err)
	}
	configPath, _ := cmd.Flags().GetString("config")
	lc, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	cat, err := lc.catalog()
	if err != nil {
		return err
	}

	specs := cat.Specs()
	if len(args) == 1 {
		spec, err := cat.Lookup(args[0])
		if err != nil {
			return &diag.Error{Code: diag.CatUnknownArchive, Stage: "lookup", Subject: args[0],
				Message: "No patch for " + args[0], Err: err}
		}
		specs = []catalog.Spec{spec}
	}

	switch strings.ToLower(format) {
	case "text":
		renderCatalogText(cmd.OutOrStdout(), specs)
		return nil
	case "toml":
		return renderCatalogTOML(cmd.OutOrStdout(), specs)
	default:
		return diag.Errorf(diag.UseBadFlag, "flags", "unsupported format %q (must be text or toml)", format)
	}
}

func renderCatalogText(out io.Writer, specs []catalog.Spec) {
	archive := color.New(color.Bold)
	pattern := color.New(color.FgCyan)
	for _, spec := range specs {
		fmt.Fprintln(out, archive.Sprint(spec.Archive))
		for _, t := range spec.Targets {
			name := t.Name + t.Desc()
			if t.Class != "" {
				name = t.Class + "->" + name
			}
			fmt.Fprintf(out, "  %-48s %s\n", name, pattern.Sprint(t.Pattern))
		}
	}
}

// renderCatalogTOML prints specs as [[archive]] tables that paccer.toml
// accepts, a starting point for local overlays.
func renderCatalogTOML(out io.Writer, specs []catalog.Spec) error {
	doc := struct {
		Archives []catalog.ArchiveConfig `toml:"archive"`
	}{}
	for _, spec := range specs {
		ac := catalog.ArchiveConfig{Name: spec.Archive}
		for _, t := range spec.Targets {
			ac.Targets = append(ac.Targets, catalog.TargetConfig{
				Name:    t.Name,
				Desc:    t.Desc(),
				Pattern: t.Pattern.String(),
				Class:   t.Class,
			})
		}
		doc.Archives = append(doc.Archives, ac)
	}
	return toml.NewEncoder(out).Encode(doc)
}

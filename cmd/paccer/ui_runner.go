package main

import (
	"archive/zip"
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"paccer/internal/driver"
	"paccer/internal/ui"
)

type jarOutcome struct {
	result *driver.JarResult
	err    error
}

// jarEntryNames lists the dex entries the UI should show up front. An
// unreadable archive yields nil; PatchJar reports the real error.
func jarEntryNames(path string) []string {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil
	}
	defer zr.Close()
	entries := driver.DexEntries(&zr.Reader)
	names := make([]string, 0, len(entries))
	for _, f := range entries {
		names = append(names, f.Name)
	}
	return names
}

func runJarWithUI(ctx context.Context, title string, req driver.JarRequest) (*driver.JarResult, error) {
	events := make(chan driver.Event, 256)
	outcomeCh := make(chan jarOutcome, 1)

	entries := jarEntryNames(req.Input)
	go func() {
		req.Sink = driver.ChannelSink{Ch: events}
		res, err := driver.PatchJar(ctx, req)
		outcomeCh <- jarOutcome{result: res, err: err}
		close(events)
	}()

	model := ui.NewProgressModel(title, entries, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	// a UI that died early leaves events unread; the pipeline must not block
	for range events {
	}
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.result, uiErr
	}
	return outcome.result, outcome.err
}

package diag

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// PrettyOpts controls Pretty output.
type PrettyOpts struct {
	Color    bool
	ShowCode bool
}

var (
	sevColor = map[Severity]*color.Color{
		SevError:   color.New(color.FgRed, color.Bold),
		SevWarning: color.New(color.FgYellow, color.Bold),
		SevInfo:    color.New(color.FgCyan),
	}
	codeColor    = color.New(color.Faint)
	subjectColor = color.New(color.Bold)
)

// Pretty writes one line per diagnostic plus indented notes:
//
//	warning: services.jar: no method matched [RWR5001]
func Pretty(w io.Writer, bag *Bag, opts PrettyOpts) error {
	for _, d := range bag.Items() {
		if err := PrettyOne(w, d, opts); err != nil {
			return err
		}
	}
	return nil
}

// PrettyOne writes a single diagnostic.
func PrettyOne(w io.Writer, d Diagnostic, opts PrettyOpts) error {
	sev := lower(d.Severity)
	if opts.Color {
		sev = sevColor[d.Severity].Sprint(sev)
	}
	line := sev + ": "
	if d.Subject != "" {
		subj := d.Subject
		if opts.Color {
			subj = subjectColor.Sprint(subj)
		}
		line += subj + ": "
	}
	line += d.Message
	if opts.ShowCode {
		code := "[" + d.Code.ID() + "]"
		if opts.Color {
			code = codeColor.Sprint(code)
		}
		line += " " + code
	}
	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}
	for _, n := range d.Notes {
		if _, err := fmt.Fprintf(w, "  note: %s\n", n); err != nil {
			return err
		}
	}
	return nil
}

func lower(s Severity) string {
	switch s {
	case SevError:
		return "error"
	case SevWarning:
		return "warning"
	}
	return "info"
}

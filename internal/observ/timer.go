// Package observ measures how long each stage of a patch run takes.
package observ

import (
	"fmt"
	"strings"
	"time"
)

// Stage is one timed step of a run.
type Stage struct {
	Name  string
	Start time.Time
	Dur   time.Duration
	Note  string
	done  bool
}

// Timer accumulates stages in the order they begin. It is not safe for
// concurrent use; each run owns one.
type Timer struct {
	stages []Stage
	clock  func() time.Time
}

// NewTimer returns an empty Timer on the wall clock.
func NewTimer() *Timer { return &Timer{stages: make([]Stage, 0, 6), clock: time.Now} }

// Begin opens a stage and returns its handle for End.
func (t *Timer) Begin(name string) int {
	t.stages = append(t.stages, Stage{Name: name, Start: t.clock()})
	return len(t.stages) - 1
}

// End closes stage idx. Closing twice keeps the first duration.
func (t *Timer) End(idx int, note string) {
	if idx < 0 || idx >= len(t.stages) || t.stages[idx].done {
		return
	}
	s := &t.stages[idx]
	s.Dur = t.clock().Sub(s.Start)
	s.Note = note
	s.done = true
}

// Time runs fn as a stage and returns its error.
func (t *Timer) Time(name string, fn func() (note string, err error)) error {
	idx := t.Begin(name)
	note, err := fn()
	if err != nil && note == "" {
		note = "failed"
	}
	t.End(idx, note)
	return err
}

// StageReport is the serializable form of a Stage.
type StageReport struct {
	Name       string  `json:"name" msgpack:"name"`
	DurationMS float64 `json:"duration_ms" msgpack:"duration_ms"`
	Note       string  `json:"note,omitempty" msgpack:"note,omitempty"`
}

// Report is the serializable form of a Timer.
type Report struct {
	TotalMS float64       `json:"total_ms" msgpack:"total_ms"`
	Stages  []StageReport `json:"stages" msgpack:"stages"`
}

// Report snapshots the closed stages.
func (t *Timer) Report() Report {
	var r Report
	var total time.Duration
	for _, s := range t.stages {
		if !s.done {
			continue
		}
		total += s.Dur
		r.Stages = append(r.Stages, StageReport{Name: s.Name, DurationMS: millis(s.Dur), Note: s.Note})
	}
	r.TotalMS = millis(total)
	return r
}

// Summary renders the report as an aligned table.
func (r Report) Summary() string {
	var sb strings.Builder
	sb.WriteString("timings:\n")
	for _, s := range r.Stages {
		fmt.Fprintf(&sb, "  %-12s %9.2f ms", s.Name, s.DurationMS)
		if s.Note != "" {
			sb.WriteString("  ")
			sb.WriteString(s.Note)
		}
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "  %-12s %9.2f ms\n", "total", r.TotalMS)
	return sb.String()
}

// Summary is shorthand for t.Report().Summary().
func (t *Timer) Summary() string { return t.Report().Summary() }

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

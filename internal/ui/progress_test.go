package ui

import (
	"errors"
	"strings"
	"testing"

	"paccer/internal/driver"
)

func TestApplyEventLifecycle(t *testing.T) {
	m := NewProgressModel("services.jar", []string{"classes.dex", "classes2.dex"}, nil).(*progressModel)

	m.applyEvent(driver.Event{Entry: "classes.dex", Stage: driver.StageParse, Status: driver.StatusWorking})
	if m.items[0].status != "parsing" {
		t.Fatalf("status = %q", m.items[0].status)
	}
	if got := m.fraction(); got != 0.1 {
		t.Fatalf("fraction = %v", got)
	}

	m.applyEvent(driver.Event{Entry: "classes.dex", Status: driver.StatusDone, Applied: 2})
	m.applyEvent(driver.Event{Entry: "classes2.dex", Status: driver.StatusDone})
	if m.items[0].status != "patched (2)" || m.items[1].status != "unchanged" {
		t.Fatalf("statuses = %q %q", m.items[0].status, m.items[1].status)
	}
	if m.fraction() != 1 {
		t.Fatalf("fraction = %v", m.fraction())
	}

	m.applyEvent(driver.Event{Entry: "unknown.dex", Status: driver.StatusDone})
	view := m.View()
	if !strings.Contains(view, "patched (2)") || !strings.Contains(view, "classes2.dex") {
		t.Fatalf("view:\n%s", view)
	}
}

func TestApplyEventError(t *testing.T) {
	m := NewProgressModel("x", []string{"classes.dex"}, nil).(*progressModel)
	m.applyEvent(driver.Event{Entry: "classes.dex", Stage: driver.StageParse, Status: driver.StatusError, Err: errors.New("bad")})
	if m.items[0].status != "error" {
		t.Fatalf("status = %q", m.items[0].status)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("classes12.dex", 8); got != "class..." {
		t.Fatalf("truncate = %q", got)
	}
	if got := truncate("short", 20); got != "short" {
		t.Fatalf("truncate = %q", got)
	}
}

package diag

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
)

func TestCodeID(t *testing.T) {
	cases := map[Code]string{
		UseInvalidAPI:     "USE1002",
		CatUnknownArchive: "CAT2001",
		DexFormat:         "DEX3001",
		IOWrite:           "IO4002",
		RwrNoMatch:        "RWR5001",
		Code(9999):        "E0000",
	}
	for c, want := range cases {
		if got := c.ID(); got != want {
			t.Fatalf("%d.ID() = %q, want %q", c, got, want)
		}
	}
	if Code(9999).Title() != "Unknown error" {
		t.Fatal("unknown code title")
	}
}

func TestErrorMessageAndChain(t *testing.T) {
	base := fs.ErrNotExist
	err := fmt.Errorf("patch: %w", Wrap(IORead, "read", "in.dex", base))
	if CodeOf(err) != IORead || StageOf(err) != "read" {
		t.Fatalf("code %v stage %q", CodeOf(err), StageOf(err))
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatal("lost wrapped error")
	}
	if !strings.Contains(err.Error(), "in.dex: file does not exist") {
		t.Fatalf("message %q", err.Error())
	}

	msg := Errorf(CatUnknownArchive, "lookup", "No patch for %s", "framework.jar")
	if msg.Error() != "No patch for framework.jar" {
		t.Fatalf("message %q", msg.Error())
	}
	if again := Wrap(IOWrite, "write", "", msg); CodeOf(again) != CatUnknownArchive {
		t.Fatal("Wrap replaced an existing code")
	}
	if Wrap(IOWrite, "write", "", nil) != nil {
		t.Fatal("Wrap(nil) != nil")
	}
	if CodeOf(errors.New("plain")) != UnknownCode {
		t.Fatal("plain error has a code")
	}
}

func TestBagSortDedup(t *testing.T) {
	b := NewBag(10)
	b.Add(NewWarning(RwrNoMatch, "b.jar", "no method matched"))
	b.Add(New(SevError, DexFormat, "classes2.dex", "bad magic"))
	b.Add(NewWarning(RwrNoMatch, "a.jar", "no method matched"))
	b.Add(NewWarning(RwrNoMatch, "a.jar", "no method matched"))
	b.Dedup()
	b.Sort()
	if b.Len() != 3 {
		t.Fatalf("len = %d", b.Len())
	}
	items := b.Items()
	if items[0].Code != DexFormat || items[1].Subject != "a.jar" || items[2].Subject != "b.jar" {
		t.Fatalf("order = %+v", items)
	}
	if !b.HasErrors() || !b.HasWarnings() {
		t.Fatal("severity queries")
	}
}

func TestBagLimit(t *testing.T) {
	b := NewBag(1)
	if !b.Add(NewWarning(RwrNoMatch, "", "x")) || b.Add(NewWarning(RwrNoMatch, "", "y")) {
		t.Fatal("limit not enforced")
	}
	other := NewBag(2)
	other.Add(NewWarning(RwrDuplicate, "", "z"))
	b.Merge(other)
	if b.Len() != 2 {
		t.Fatalf("merge len = %d", b.Len())
	}
}

func TestDedupReporter(t *testing.T) {
	b := NewBag(10)
	r := NewDedupReporter(BagReporter{Bag: b})
	d := NewWarning(RwrDuplicate, "LA;->m()Z", "replaced twice")
	r.Report(d)
	r.Report(d)
	if b.Len() != 1 {
		t.Fatalf("len = %d", b.Len())
	}
}

func TestPrettyPlain(t *testing.T) {
	b := NewBag(4)
	b.Add(NewWarning(RwrNoMatch, "services.jar", "no method matched").WithNote("3 targets checked"))
	var buf bytes.Buffer
	if err := Pretty(&buf, b, PrettyOpts{ShowCode: true}); err != nil {
		t.Fatal(err)
	}
	want := "warning: services.jar: no method matched [RWR5001]\n  note: 3 targets checked\n"
	if buf.String() != want {
		t.Fatalf("got %q\nwant %q", buf.String(), want)
	}
}

func TestAsDiagnostic(t *testing.T) {
	d := AsDiagnostic(Wrap(DexFormat, "parse", "classes.dex", errors.New("bad magic")))
	if d.Severity != SevError || d.Code != DexFormat || len(d.Notes) != 1 || d.Notes[0] != "stage: parse" {
		t.Fatalf("%+v", d)
	}
}

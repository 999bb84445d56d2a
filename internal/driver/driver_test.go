package driver

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"paccer/internal/catalog"
	"paccer/internal/dex"
	"paccer/internal/diag"
	"paccer/internal/testkit"
)

const wms = "Lcom/android/server/wm/WindowManagerService;"

func listBody() []dex.Instruction {
	return []dex.Instruction{
		{Op: dex.OpConst4, Regs: []uint16{0}},
		{Op: dex.OpReturnObject, Regs: []uint16{0}},
	}
}

func servicesDex(t *testing.T) []byte {
	t.Helper()
	return testkit.NewFile().
		Class(wms).
		Method("<init>", "()V", dex.AccPublic|dex.AccConstructor, testkit.ReturnVoid()...).
		Method("isSecureLocked", "()Z", dex.AccPublic, testkit.ReturnBool(true)...).
		Method("notifyScreenshotListeners", "(I)Ljava/util/List;", dex.AccPublic, listBody()...).
		Method("getName", "()Ljava/lang/String;", dex.AccPublic, testkit.ReturnString("wms")...).
		End().
		Bytes(t)
}

func plainDex(t *testing.T) []byte {
	t.Helper()
	return testkit.NewFile().
		Class("Lcom/example/Plain;").
		Method("isSecureLocked", "()I", dex.AccPublic, testkit.ReturnBool(true)...).
		End().
		Bytes(t)
}

func writeInput(t *testing.T, data []byte) (in, out string) {
	t.Helper()
	dir := t.TempDir()
	in = filepath.Join(dir, "classes.dex")
	if err := os.WriteFile(in, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return in, filepath.Join(dir, "out.dex")
}

func TestPatchReplacesAndWrites(t *testing.T) {
	in, out := writeInput(t, servicesDex(t))
	res, err := Patch(context.Background(), Request{Input: in, Output: out, Archive: "services.jar", API: 34})
	if err != nil {
		t.Fatal(err)
	}
	if got := res.Record.Names(); !slices.Equal(got, []string{"isSecureLocked", "notifyScreenshotListeners"}) {
		t.Fatalf("record = %v", got)
	}
	if !res.Written || len(res.Methods) != 2 || res.Methods[0].Pattern != "return-false" {
		t.Fatalf("result = %+v", res)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	f, err := dex.Parse(data, 34)
	if err != nil {
		t.Fatalf("output does not parse: %v", err)
	}
	cls := f.FindClass(wms)
	lock := cls.FindMethod("isSecureLocked")
	if err := testkit.CheckReplacementBody(lock.Code, lock.ID, false, dex.OpConst4, dex.OpReturn); err != nil {
		t.Fatal(err)
	}
	notify := cls.FindMethod("notifyScreenshotListeners")
	if err := testkit.CheckReplacementBody(notify.Code, notify.ID, false,
		dex.OpInvokeStatic, dex.OpMoveResultObject, dex.OpReturnObject); err != nil {
		t.Fatal(err)
	}
	stages := make([]string, 0, len(res.Timings.Stages))
	for _, s := range res.Timings.Stages {
		stages = append(stages, s.Name)
	}
	if !slices.Equal(stages, []string{"lookup", "read", "parse", "rewrite", "serialize", "write"}) {
		t.Fatalf("stages = %v", stages)
	}
}

func TestPatchUnknownArchiveReadsNothing(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "missing.dex")
	out := filepath.Join(dir, "out.dex")
	_, err := Patch(context.Background(), Request{Input: in, Output: out, Archive: "unknown.jar", API: 34})
	if diag.CodeOf(err) != diag.CatUnknownArchive {
		t.Fatalf("err = %v, want unknown archive", err)
	}
	if err.Error() != "No patch for unknown.jar" {
		t.Fatalf("message %q", err.Error())
	}
	if !errors.Is(err, catalog.ErrUnknownArchive) {
		t.Fatal("sentinel lost")
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatal("output created")
	}
}

func TestPatchBadAPIBeforeRead(t *testing.T) {
	dir := t.TempDir()
	_, err := Patch(context.Background(), Request{
		Input: filepath.Join(dir, "missing.dex"), Output: filepath.Join(dir, "o.dex"),
		Archive: "services.jar", API: 0,
	})
	if diag.CodeOf(err) != diag.UseInvalidAPI || diag.StageOf(err) != "lookup" {
		t.Fatalf("err = %v (stage %q)", err, diag.StageOf(err))
	}
}

func TestPatchNoMatchLeavesOutputAlone(t *testing.T) {
	in, out := writeInput(t, plainDex(t))
	if err := os.WriteFile(out, []byte("previous"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := Patch(context.Background(), Request{Input: in, Output: out, Archive: "services.jar", API: 34})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Record.Empty() || res.Written {
		t.Fatalf("result = %+v", res)
	}
	if res.Diagnostics.Len() != 1 || res.Diagnostics.Items()[0].Code != diag.RwrNoMatch {
		t.Fatalf("diagnostics = %+v", res.Diagnostics.Items())
	}
	got, _ := os.ReadFile(out)
	if string(got) != "previous" {
		t.Fatalf("output modified: %q", got)
	}
	for _, s := range res.Timings.Stages {
		if s.Name == "serialize" || s.Name == "write" {
			t.Fatalf("stage %s ran without matches", s.Name)
		}
	}
}

func TestPatchMalformedInput(t *testing.T) {
	in, out := writeInput(t, []byte("dex\n035\x00 not really"))
	_, err := Patch(context.Background(), Request{Input: in, Output: out, Archive: "services.jar", API: 34})
	if diag.CodeOf(err) != diag.DexFormat || diag.StageOf(err) != "parse" {
		t.Fatalf("err = %v", err)
	}
	var fe *dex.FormatError
	if !errors.As(err, &fe) {
		t.Fatal("format error lost")
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatal("output created")
	}
}

func TestPatchMissingInput(t *testing.T) {
	dir := t.TempDir()
	_, err := Patch(context.Background(), Request{
		Input: filepath.Join(dir, "nope.dex"), Output: filepath.Join(dir, "o.dex"),
		Archive: "services.jar", API: 34,
	})
	if diag.CodeOf(err) != diag.IORead {
		t.Fatalf("err = %v", err)
	}
}

func TestPatchIdempotent(t *testing.T) {
	in, out := writeInput(t, servicesDex(t))
	if _, err := Patch(context.Background(), Request{Input: in, Output: out, Archive: "services.jar", API: 34}); err != nil {
		t.Fatal(err)
	}
	first, _ := os.ReadFile(out)
	out2 := out + ".2"
	res, err := Patch(context.Background(), Request{Input: out, Output: out2, Archive: "services.jar", API: 34})
	if err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(out2)
	if !bytes.Equal(first, second) {
		t.Fatal("second pass changed the output")
	}
	if res.Record.Len() != 2 {
		t.Fatalf("second pass record = %v", res.Record.Names())
	}
}

func TestPatchDryRun(t *testing.T) {
	in, out := writeInput(t, servicesDex(t))
	var mu sync.Mutex
	var skipped bool
	sink := SinkFunc(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if ev.Stage == StageWrite && ev.Status == StatusSkipped {
			skipped = true
		}
	})
	res, err := Patch(context.Background(), Request{Input: in, Output: out, Archive: "services.jar", API: 34, DryRun: true, Sink: sink})
	if err != nil {
		t.Fatal(err)
	}
	if res.Written || res.Record.Len() != 2 || !skipped {
		t.Fatalf("written %v record %v skipped %v", res.Written, res.Record.Names(), skipped)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatal("dry run wrote output")
	}
}

func TestPatchWriteFailureKeepsNoPartialFile(t *testing.T) {
	in, _ := writeInput(t, servicesDex(t))
	out := filepath.Join(t.TempDir(), "missing-dir", "out.dex")
	_, err := Patch(context.Background(), Request{Input: in, Output: out, Archive: "services.jar", API: 34})
	if diag.CodeOf(err) != diag.IOWrite {
		t.Fatalf("err = %v", err)
	}
}

func TestPatchCanceled(t *testing.T) {
	in, out := writeInput(t, servicesDex(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Patch(ctx, Request{Input: in, Output: out, Archive: "services.jar", API: 34})
	if !errors.Is(err, context.Canceled) || diag.CodeOf(err) != diag.RwrCanceled {
		t.Fatalf("err = %v", err)
	}
}

func TestPatchCustomCatalog(t *testing.T) {
	cat, err := catalog.Builtin().Apply([]catalog.ArchiveConfig{{
		Name:    "example.jar",
		Targets: []catalog.TargetConfig{{Name: "getName", Desc: "()Ljava/lang/String;", Pattern: "return-false"}},
	}})
	if err == nil {
		t.Fatalf("incompatible pattern accepted: %v", cat.Archives())
	}
	cat, err = catalog.Builtin().Apply([]catalog.ArchiveConfig{{
		Name:    "example.jar",
		Targets: []catalog.TargetConfig{{Name: "isSecureLocked", Desc: "()I", Pattern: "return-true"}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	in, out := writeInput(t, plainDex(t))
	res, err := Patch(context.Background(), Request{Input: in, Output: out, Archive: "example.jar", API: 34, Catalog: cat})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Written || res.Record.Names()[0] != "isSecureLocked" {
		t.Fatalf("result = %+v", res)
	}
}

func TestPatchCache(t *testing.T) {
	cache, err := NewDiskCache(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	in, out := writeInput(t, servicesDex(t))
	req := Request{Input: in, Output: out, Archive: "services.jar", API: 34, Cache: cache}
	first, err := Patch(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if first.Cached {
		t.Fatal("first run hit an empty cache")
	}
	want, _ := os.ReadFile(out)
	if err := os.Remove(out); err != nil {
		t.Fatal(err)
	}
	second, err := Patch(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Cached || !slices.Equal(second.Record.Names(), first.Record.Names()) || len(second.Methods) != 2 {
		t.Fatalf("second = %+v", second)
	}
	for _, s := range second.Timings.Stages {
		if s.Name == "parse" {
			t.Fatal("cache hit still parsed")
		}
	}
	got, _ := os.ReadFile(out)
	if !bytes.Equal(got, want) {
		t.Fatal("cached output differs")
	}

	// A different API level is a different key.
	req.API = 30
	third, err := Patch(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if third.Cached {
		t.Fatal("API level not part of the cache key")
	}
	if err := cache.DropAll(); err != nil {
		t.Fatal(err)
	}
}

func buildJar(t *testing.T, path string, entries map[string][]byte, order []string, stored map[string]bool) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for _, name := range order {
		method := zip.Deflate
		if stored[name] {
			method = zip.Store
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(entries[name]); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestPatchJar(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "services.jar")
	out := filepath.Join(dir, "patched.jar")
	manifest := []byte("Manifest-Version: 1.0\n")
	plain := plainDex(t)
	entries := map[string][]byte{
		"META-INF/MANIFEST.MF": manifest,
		"classes.dex":          servicesDex(t),
		"classes2.dex":         plain,
		"nested/classes.dex":   []byte("not a dex"),
	}
	buildJar(t, in, entries, []string{"META-INF/MANIFEST.MF", "classes2.dex", "classes.dex", "nested/classes.dex"},
		map[string]bool{"classes.dex": true})

	var mu sync.Mutex
	var events []Event
	res, err := PatchJar(context.Background(), JarRequest{
		Input: in, Output: out, Archive: "services.jar", API: 34, Jobs: 2,
		Sink: SinkFunc(func(ev Event) { mu.Lock(); events = append(events, ev); mu.Unlock() }),
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Written || len(res.Entries) != 2 || res.Entries[0].Name != "classes.dex" || res.Entries[1].Name != "classes2.dex" {
		t.Fatalf("result = %+v", res)
	}
	if got := res.Record.Names(); !slices.Equal(got, []string{"isSecureLocked", "notifyScreenshotListeners"}) {
		t.Fatalf("record = %v", got)
	}
	if len(events) == 0 {
		t.Fatal("no progress events")
	}

	zr, err := zip.OpenReader(out)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
		data, err := readEntry(f)
		if err != nil {
			t.Fatalf("%s: %v", f.Name, err)
		}
		switch f.Name {
		case "classes.dex":
			if f.Method != zip.Store {
				t.Fatal("stored entry recompressed")
			}
			pf, err := dex.Parse(data, 34)
			if err != nil {
				t.Fatal(err)
			}
			m := pf.FindClass(wms).FindMethod("isSecureLocked")
			if err := testkit.CheckReplacementBody(m.Code, m.ID, false, dex.OpConst4, dex.OpReturn); err != nil {
				t.Fatal(err)
			}
		case "classes2.dex":
			if !bytes.Equal(data, plain) {
				t.Fatal("unmatched dex entry changed")
			}
		case "META-INF/MANIFEST.MF":
			if !bytes.Equal(data, manifest) {
				t.Fatal("manifest changed")
			}
		case "nested/classes.dex":
			if string(data) != "not a dex" {
				t.Fatal("nested entry changed")
			}
		}
	}
	if !slices.Equal(names, []string{"META-INF/MANIFEST.MF", "classes2.dex", "classes.dex", "nested/classes.dex"}) {
		t.Fatalf("entry order = %v", names)
	}
}

func TestPatchJarNoMatch(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "services.jar")
	out := filepath.Join(dir, "patched.jar")
	buildJar(t, in, map[string][]byte{"classes.dex": plainDex(t)}, []string{"classes.dex"}, nil)
	res, err := PatchJar(context.Background(), JarRequest{Input: in, Output: out, Archive: "services.jar", API: 34})
	if err != nil {
		t.Fatal(err)
	}
	if res.Written || !res.Record.Empty() {
		t.Fatalf("result = %+v", res)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatal("output created")
	}
}

func TestPatchJarBadEntry(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "services.jar")
	buildJar(t, in, map[string][]byte{"classes.dex": servicesDex(t), "classes2.dex": []byte("junk")},
		[]string{"classes.dex", "classes2.dex"}, nil)
	_, err := PatchJar(context.Background(), JarRequest{Input: in, Output: filepath.Join(dir, "o.jar"), Archive: "services.jar", API: 34})
	if diag.CodeOf(err) != diag.DexFormat {
		t.Fatalf("err = %v", err)
	}
}

func TestPatchJarWithoutDex(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "services.jar")
	buildJar(t, in, map[string][]byte{"a.txt": []byte("x")}, []string{"a.txt"}, nil)
	_, err := PatchJar(context.Background(), JarRequest{Input: in, Output: filepath.Join(dir, "o.jar"), Archive: "services.jar", API: 34})
	if diag.CodeOf(err) != diag.IOArchive {
		t.Fatalf("err = %v", err)
	}
}

func TestDexIndex(t *testing.T) {
	cases := map[string]int{"classes.dex": 1, "classes2.dex": 2, "classes10.dex": 10}
	for name, want := range cases {
		if got, ok := dexIndex(name); !ok || got != want {
			t.Fatalf("dexIndex(%q) = %d, %v", name, got, ok)
		}
	}
	for _, name := range []string{"classes1.dex", "classes0.dex", "lib/classes.dex", "classes.dex.bak", "Classes.dex"} {
		if _, ok := dexIndex(name); ok {
			t.Fatalf("dexIndex(%q) accepted", name)
		}
	}
}

package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"paccer/internal/dex"
	"paccer/internal/report"
	"paccer/internal/testkit"
)

const wms = "Lcom/android/server/wm/WindowManagerService;"

func servicesDex(t *testing.T) []byte {
	t.Helper()
	return testkit.NewFile().
		Class(wms).
		Method("isSecureLocked", "()Z", dex.AccPublic, testkit.ReturnBool(true)...).
		Method("notifyScreenshotListeners", "(I)Ljava/util/List;", dex.AccPublic, testkit.ReturnNull()...).
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

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errb bytes.Buffer
	code = execute(context.Background(), append(args, "--color", "off"), &out, &errb)
	return code, out.String(), errb.String()
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestUsage(t *testing.T) {
	for _, args := range [][]string{nil, {"a"}, {"a", "b", "c"}} {
		var out, errb bytes.Buffer
		code := execute(context.Background(), args, &out, &errb)
		if code != 1 {
			t.Fatalf("%v: exit %d, want 1", args, code)
		}
		if errb.String() != patchUsage+"\n" {
			t.Fatalf("%v: stderr = %q", args, errb.String())
		}
		if out.Len() != 0 {
			t.Fatalf("%v: stdout = %q", args, out.String())
		}
	}
}

func TestInvalidAPILevel(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "classes.dex", servicesDex(t))
	out := filepath.Join(dir, "out.dex")
	code, stdout, stderr := run(t, in, out, "services.jar", "abc")
	if code != 1 || stdout != "" {
		t.Fatalf("exit %d stdout %q", code, stdout)
	}
	if stderr != "Invalid API level: abc\n" {
		t.Fatalf("stderr = %q", stderr)
	}
	if exists(out) {
		t.Fatal("output written")
	}
}

func TestUnsupportedAPILevel(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.dex")
	// the input does not exist: the API check happens before any read
	code, _, stderr := run(t, filepath.Join(dir, "missing.dex"), out, "services.jar", "0")
	if code != 1 || stderr != "Invalid API level: 0\n" {
		t.Fatalf("exit %d stderr %q", code, stderr)
	}
}

func TestUnknownArchive(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "classes.dex", servicesDex(t))
	out := filepath.Join(dir, "out.dex")
	code, stdout, stderr := run(t, in, out, "framework.jar", "34")
	if code != 1 || stdout != "" {
		t.Fatalf("exit %d stdout %q", code, stdout)
	}
	if stderr != "No patch for framework.jar\n" {
		t.Fatalf("stderr = %q", stderr)
	}
	if exists(out) {
		t.Fatal("output written")
	}
}

func TestNegativeAPILevel(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "missing.dex")
	out := filepath.Join(dir, "out.dex")
	for _, args := range [][]string{
		{in, out, "services.jar", "-1"},
		{"--color", "off", "--", in, out, "services.jar", "-1"},
	} {
		var stdout, stderr bytes.Buffer
		code := execute(context.Background(), args, &stdout, &stderr)
		if code != 1 || stdout.Len() != 0 {
			t.Fatalf("%v: exit %d stdout %q", args, code, stdout.String())
		}
		if stderr.String() != "Invalid API level: -1\n" {
			t.Fatalf("%v: stderr = %q", args, stderr.String())
		}
	}
}

func TestInputNamedLikeSubcommand(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "version", servicesDex(t))
	t.Chdir(dir)
	var stdout, stderr bytes.Buffer
	args := []string{"--color", "off", "--", "version", "out.dex", "services.jar", "34"}
	if code := execute(context.Background(), args, &stdout, &stderr); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if stdout.String() != "isSecureLocked\nnotifyScreenshotListeners\n" {
		t.Fatalf("stdout = %q", stdout.String())
	}
	if !exists(filepath.Join(dir, "out.dex")) {
		t.Fatal("output not written")
	}
}

func TestPatchPrintsAppliedNames(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "classes.dex", servicesDex(t))
	out := filepath.Join(dir, "out.dex")
	code, stdout, stderr := run(t, in, out, "services.jar", "34")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if stdout != "isSecureLocked\nnotifyScreenshotListeners\n" {
		t.Fatalf("stdout = %q", stdout)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	f, err := dex.Parse(data, 34)
	if err != nil {
		t.Fatalf("output does not parse: %v", err)
	}
	m := f.FindClass(wms).FindMethod("isSecureLocked")
	if m == nil || m.Code == nil || m.Code.Registers != 2 {
		t.Fatalf("isSecureLocked not replaced: %+v", m)
	}
}

func TestNoMatch(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "classes.dex", plainDex(t))
	out := filepath.Join(dir, "out.dex")

	code, stdout, stderr := run(t, in, out, "services.jar", "34")
	if code != 0 || stdout != "" {
		t.Fatalf("exit %d stdout %q", code, stdout)
	}
	if !strings.HasPrefix(stderr, "warning: ") {
		t.Fatalf("stderr = %q", stderr)
	}
	if exists(out) {
		t.Fatal("output written without a match")
	}

	if code, _, stderr = run(t, in, out, "services.jar", "34", "--quiet"); code != 0 || stderr != "" {
		t.Fatalf("--quiet: exit %d stderr %q", code, stderr)
	}
	if code, _, _ = run(t, in, out, "services.jar", "34", "--strict"); code != 2 {
		t.Fatalf("--strict: exit %d, want 2", code)
	}
}

func TestMalformedInput(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "classes.dex", []byte("dex\n035\x00garbage"))
	out := filepath.Join(dir, "out.dex")
	code, stdout, stderr := run(t, in, out, "services.jar", "34")
	if code != 1 || stdout != "" {
		t.Fatalf("exit %d stdout %q", code, stdout)
	}
	if !strings.HasPrefix(stderr, "error: parse: ") {
		t.Fatalf("stderr = %q", stderr)
	}
	if exists(out) {
		t.Fatal("output written")
	}
}

func TestMissingInput(t *testing.T) {
	dir := t.TempDir()
	code, _, stderr := run(t, filepath.Join(dir, "nope.dex"), filepath.Join(dir, "out.dex"), "services.jar", "34")
	if code != 1 || !strings.HasPrefix(stderr, "error: read: ") {
		t.Fatalf("exit %d stderr %q", code, stderr)
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "classes.dex", servicesDex(t))
	out := filepath.Join(dir, "out.dex")
	code, stdout, _ := run(t, in, out, "services.jar", "34", "--dry-run")
	if code != 0 || !strings.Contains(stdout, "isSecureLocked") {
		t.Fatalf("exit %d stdout %q", code, stdout)
	}
	if exists(out) {
		t.Fatal("dry run wrote output")
	}
}

func TestReportFile(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "classes.dex", servicesDex(t))
	out := filepath.Join(dir, "out.dex")
	rp := filepath.Join(dir, "run.msgpack")
	if code, _, stderr := run(t, in, out, "services.jar", "34", "--report", rp); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	rep, err := report.Read(rp)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Archive != "services.jar" || rep.API != 34 || !rep.Written {
		t.Fatalf("report = %+v", rep)
	}
	if len(rep.Applied) != 2 || len(rep.Entries) != 1 || len(rep.Entries[0].Methods) != 2 {
		t.Fatalf("report entries = %+v", rep.Entries)
	}
	if len(rep.Timings.Stages) == 0 {
		t.Fatal("report has no timings")
	}
}

func TestReportRecordsFailure(t *testing.T) {
	dir := t.TempDir()
	rp := filepath.Join(dir, "run.json")
	code, _, _ := run(t, filepath.Join(dir, "nope.dex"), filepath.Join(dir, "out.dex"), "services.jar", "34", "--report", rp)
	if code != 1 {
		t.Fatalf("exit %d", code)
	}
	rep, err := report.Read(rp)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Error == "" || rep.Written {
		t.Fatalf("report = %+v", rep)
	}
}

func TestConfigOverlay(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "paccer.toml", []byte(`
[[archive]]
name = "plain.jar"

  [[archive.target]]
  name = "isSecureLocked"
  desc = "()I"
  pattern = "return-true"
`))
	in := writeFile(t, dir, "classes.dex", plainDex(t))
	out := filepath.Join(dir, "out.dex")
	code, stdout, stderr := run(t, in, out, "plain.jar", "34", "--config", cfg)
	if code != 0 || stdout != "isSecureLocked\n" {
		t.Fatalf("exit %d stdout %q stderr %q", code, stdout, stderr)
	}
	if !exists(out) {
		t.Fatal("no output")
	}
}

func TestConfigErrors(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "classes.dex", plainDex(t))
	tests := []struct {
		name string
		body string
	}{
		{"syntax", "[[archive]\n"},
		{"unknown key", "[output]\ncolour = true\n"},
		{"bad pattern", "[[archive]]\nname = \"x.jar\"\n[[archive.target]]\nname = \"f\"\ndesc = \"()Z\"\npattern = \"return-maybe\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := writeFile(t, t.TempDir(), "paccer.toml", []byte(tt.body))
			code, _, stderr := run(t, in, filepath.Join(dir, "out.dex"), "services.jar", "34", "--config", cfg)
			if code != 1 || !strings.HasPrefix(stderr, "error: config: ") {
				t.Fatalf("exit %d stderr %q", code, stderr)
			}
		})
	}
}

func TestFindConfigWalksUp(t *testing.T) {
	root := t.TempDir()
	want := writeFile(t, root, configName, []byte("[output]\nquiet = true\n"))
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	got, ok, err := findConfig(nested)
	if err != nil || !ok {
		t.Fatalf("findConfig: %v %v", ok, err)
	}
	if got != want {
		t.Fatalf("found %q, want %q", got, want)
	}
}

func TestTraceFile(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "classes.dex", servicesDex(t))
	tp := filepath.Join(dir, "run.ndjson")
	code, _, stderr := run(t, in, filepath.Join(dir, "out.dex"), "services.jar", "34", "--trace", tp, "--trace-level", "stage")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	data, err := os.ReadFile(tp)
	if err != nil {
		t.Fatal(err)
	}
	for _, stage := range []string{"lookup", "read", "parse", "rewrite", "serialize", "write"} {
		if !bytes.Contains(data, []byte(`"name":"`+stage+`"`)) {
			t.Fatalf("trace has no %s span:\n%s", stage, data)
		}
	}
}

func TestTimings(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "classes.dex", servicesDex(t))
	_, _, stderr := run(t, in, filepath.Join(dir, "out.dex"), "services.jar", "34", "--timings")
	if !strings.Contains(stderr, "timings:") || !strings.Contains(stderr, "total") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestCacheHit(t *testing.T) {
	dir := t.TempDir()
	cacheDir := filepath.Join(dir, "cache")
	in := writeFile(t, dir, "classes.dex", servicesDex(t))
	first := filepath.Join(dir, "first.dex")
	second := filepath.Join(dir, "second.dex")
	if code, _, stderr := run(t, in, first, "services.jar", "34", "--cache-dir", cacheDir); code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	rp := filepath.Join(dir, "run.json")
	code, stdout, stderr := run(t, in, second, "services.jar", "34", "--cache-dir", cacheDir, "--report", rp)
	if code != 0 || stdout != "isSecureLocked\nnotifyScreenshotListeners\n" {
		t.Fatalf("exit %d stdout %q stderr %q", code, stdout, stderr)
	}
	rep, err := report.Read(rp)
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Cached {
		t.Fatal("second run missed the cache")
	}
	a, _ := os.ReadFile(first)
	b, _ := os.ReadFile(second)
	if !bytes.Equal(a, b) {
		t.Fatal("cached output differs")
	}

	if code, _, stderr := run(t, "cache", "clean", "--cache-dir", cacheDir); code != 0 {
		t.Fatalf("cache clean: exit %d: %s", code, stderr)
	}
}

func writeJar(t *testing.T, path string, entries map[string][]byte, order []string) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
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
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestJarCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "services.jar")
	out := filepath.Join(dir, "patched.jar")
	writeJar(t, in, map[string][]byte{
		"classes.dex":          plainDex(t),
		"classes2.dex":         servicesDex(t),
		"META-INF/MANIFEST.MF": []byte("Manifest-Version: 1.0\n"),
	}, []string{"META-INF/MANIFEST.MF", "classes.dex", "classes2.dex"})

	code, stdout, stderr := run(t, "jar", in, out, "services.jar", "34", "--ui", "off", "--jobs", "2")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if stdout != "isSecureLocked\nnotifyScreenshotListeners\n" {
		t.Fatalf("stdout = %q", stdout)
	}
	zr, err := zip.OpenReader(out)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	if len(zr.File) != 3 {
		t.Fatalf("patched jar has %d entries", len(zr.File))
	}
}

func TestJarUsage(t *testing.T) {
	code, _, stderr := run(t, "jar", "in.jar")
	if code != 1 || stderr != jarUsage+"\n" {
		t.Fatalf("exit %d stderr %q", code, stderr)
	}
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "classes.dex", servicesDex(t))
	code, stdout, stderr := run(t, "inspect", in, "services.jar", "34")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, wms+"->isSecureLocked()Z") || !strings.Contains(stdout, "return-empty-list") {
		t.Fatalf("stdout = %q", stdout)
	}
	if !strings.Contains(stdout, "2 of 3 methods match") {
		t.Fatalf("stdout = %q", stdout)
	}
}

func TestCatalogCommand(t *testing.T) {
	code, stdout, _ := run(t, "catalog")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	for _, want := range []string{"services.jar", "miui-services.jar", "semwifi-service.jar", "isSecureLocked(*)Z", "return-empty-list"} {
		if !strings.Contains(stdout, want) {
			t.Fatalf("catalog output lacks %q:\n%s", want, stdout)
		}
	}

	code, stdout, _ = run(t, "catalog", "miui-services.jar", "--format", "toml")
	if code != 0 || !strings.Contains(stdout, `name = "notAllowCaptureDisplay"`) {
		t.Fatalf("exit %d stdout %q", code, stdout)
	}

	code, _, stderr := run(t, "catalog", "framework.jar")
	if code != 1 || stderr != "No patch for framework.jar\n" {
		t.Fatalf("exit %d stderr %q", code, stderr)
	}
}

func TestVersionJSON(t *testing.T) {
	code, stdout, _ := run(t, "version", "--format", "json")
	if code != 0 {
		t.Fatalf("exit %d", code)
	}
	var payload versionPayload
	if err := json.Unmarshal([]byte(stdout), &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Tool != "paccer" || payload.Version == "" {
		t.Fatalf("payload = %+v", payload)
	}
}

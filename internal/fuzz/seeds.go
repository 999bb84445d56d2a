package fuzztests

import (
	"os"
	"path/filepath"
	"testing"

	"paccer/internal/dex"
	"paccer/internal/testkit"
)

const (
	maxFuzzInput = 1 << 20
	fuzzAPI      = 34
)

func addCorpusSeeds(f *testing.F) {
	addTestdataSeeds(f)
	addFixtureSeeds(f)
}

// addTestdataSeeds adds any *.dex under testdata/ so a local corpus of
// real platform images can be dropped in without committing it.
func addTestdataSeeds(f *testing.F) {
	matches, err := filepath.Glob(filepath.Join("testdata", "*.dex"))
	if err != nil {
		return
	}
	for _, path := range matches {
		// #nosec G304 -- path comes from a testdata glob
		data, err := os.ReadFile(path)
		if err != nil || len(data) > maxFuzzInput {
			continue
		}
		f.Add(data)
	}
}

func addFixtureSeeds(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte("dex\n035\x00"))
	for _, b := range fixtures() {
		data, err := dex.Serialize(b.File(f))
		if err != nil {
			f.Fatalf("seed: %v", err)
		}
		f.Add(data)
	}
}

func fixtures() []*testkit.Builder {
	wms := testkit.NewFile()
	wms.Class("Lcom/android/server/wm/WindowManagerService;").
		Field("mLock", "Ljava/lang/Object;", dex.AccPrivate|dex.AccFinal).
		Method("<init>", "()V", dex.AccPublic|dex.AccConstructor, testkit.ReturnVoid()...).
		Method("isSecureLocked", "()Z", dex.AccPublic, testkit.ReturnBool(true)...).
		Method("isSecureLocked", "(I)Z", dex.AccPrivate, testkit.ReturnBool(true)...).
		Method("notifyScreenshotListeners", "(I)Ljava/util/List;", dex.AccPublic, testkit.ReturnNull()...).
		Method("getName", "()Ljava/lang/String;", dex.AccPublic, testkit.ReturnString("wms")...)

	miui := testkit.NewFile().Version("039")
	miui.Class("Lcom/android/server/wm/WindowManagerServiceImpl;").
		Method("notAllowCaptureDisplay", "(Lcom/android/server/wm/RootWindowContainer;I)Z", dex.AccPublic, testkit.ReturnBool(true)...)

	return []*testkit.Builder{wms, miui}
}

func clamp(input []byte) []byte {
	if len(input) > maxFuzzInput {
		return append([]byte(nil), input[:maxFuzzInput]...)
	}
	return append([]byte(nil), input...)
}

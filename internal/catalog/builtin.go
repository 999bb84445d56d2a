package catalog

import "paccer/internal/synth"

const (
	listType = "Ljava/util/List;"
	boolType = "Z"
)

func builtinSpecs() []Spec {
	return []Spec{
		{
			Archive: "services.jar",
			Targets: []Target{
				{Name: "isSecureLocked", AnyParams: true, Return: boolType, Pattern: synth.ReturnFalse},
				{Name: "isAllowAudioPlaybackCapture", AnyParams: true, Return: boolType, Pattern: synth.ReturnTrue},
				{Name: "notifyScreenshotListeners", Params: []string{"I"}, Return: listType, Pattern: synth.ReturnEmptyList},
			},
		},
		{
			Archive: "semwifi-service.jar",
			Targets: []Target{
				{Name: "isSecureLocked", AnyParams: true, Return: boolType, Pattern: synth.ReturnFalse},
			},
		},
		{
			Archive: "miui-services.jar",
			Targets: []Target{
				{Name: "notAllowCaptureDisplay", AnyParams: true, Return: boolType, Pattern: synth.ReturnFalse},
			},
		},
	}
}

// Builtin returns the catalog compiled into the binary.
func Builtin() *Catalog {
	c, err := New(builtinSpecs()...)
	if err != nil {
		panic("catalog: builtin entries are invalid: " + err.Error())
	}
	return c
}

package driver

import (
	"context"
	"errors"

	"paccer/internal/catalog"
	"paccer/internal/dex"
	"paccer/internal/diag"
	"paccer/internal/synth"
)

// codecCode picks the diagnostic code for a failure inside parse,
// rewrite or serialize.
func codecCode(err error) diag.Code {
	var fe *dex.FormatError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return diag.RwrCanceled
	case errors.Is(err, dex.ErrIndexOverflow):
		return diag.DexIndexOverflow
	case errors.Is(err, synth.ErrIncompatible):
		return diag.DexIncompatibleRet
	case errors.Is(err, dex.ErrVerify):
		return diag.DexVerify
	case errors.As(err, &fe):
		return diag.DexFormat
	}
	return diag.UnknownCode
}

func stageErr(stage Stage, subject string, err error) error {
	code := codecCode(err)
	switch {
	case code != diag.UnknownCode:
	case stage == StageRead:
		code = diag.IORead
	case stage == StageWrite:
		code = diag.IOWrite
	default:
		code = diag.DexFormat
	}
	return diag.Wrap(code, string(stage), subject, err)
}

func lookupErr(archive string, err error) error {
	if errors.Is(err, catalog.ErrUnknownArchive) {
		return &diag.Error{
			Code:    diag.CatUnknownArchive,
			Stage:   string(StageLookup),
			Subject: archive,
			Message: "No patch for " + archive,
			Err:     err,
		}
	}
	return diag.Wrap(diag.CatBadConfig, string(StageLookup), archive, err)
}

package diag

import (
	"errors"
	"fmt"
)

// Error is a fatal failure of one stage. Message is the exact text shown
// to the user; when empty the wrapped error's text is used.
type Error struct {
	Code    Code
	Stage   string
	Subject string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err == nil {
		return e.Code.Title()
	}
	if e.Subject != "" {
		return fmt.Sprintf("%s: %v", e.Subject, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an Error whose message is formatted; %w verbs are wrapped.
func Errorf(code Code, stage, format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Code: code, Stage: stage, Message: err.Error(), Err: errors.Unwrap(err)}
}

// Wrap tags err with a code and stage. An err that is already an *Error
// keeps its original code.
func Wrap(code Code, stage, subject string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return &Error{Code: code, Stage: stage, Subject: subject, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return UnknownCode
}

// StageOf returns the stage of the first *Error in err's chain.
func StageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Stage
	}
	return ""
}

// AsDiagnostic converts a fatal error into an error diagnostic.
func AsDiagnostic(err error) Diagnostic {
	var de *Error
	if errors.As(err, &de) {
		d := New(SevError, de.Code, de.Subject, de.Error())
		if de.Stage != "" {
			d = d.WithNote("stage: " + de.Stage)
		}
		return d
	}
	return New(SevError, UnknownCode, "", err.Error())
}

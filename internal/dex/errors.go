package dex

import (
	"errors"
	"fmt"
)

var (
	// ErrTruncated reports a read past the end of the image.
	ErrTruncated = errors.New("dex: truncated")
	// ErrIndexOverflow reports an index that no longer fits its operand after remapping.
	ErrIndexOverflow = errors.New("dex: index overflow")
)

// FormatError describes malformed or unsupported input.
type FormatError struct {
	Off int
	Msg string
	Err error
}

func (e *FormatError) Error() string {
	if e.Off < 0 {
		return "dex: " + e.Msg
	}
	return fmt.Sprintf("dex: offset 0x%x: %s", e.Off, e.Msg)
}

func (e *FormatError) Unwrap() error { return e.Err }

func formatErr(off int, format string, args ...any) *FormatError {
	return &FormatError{Off: off, Msg: fmt.Sprintf(format, args...)}
}

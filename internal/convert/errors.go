package convert

import (
	"errors"
	"fmt"
)

// Kind classifies a failed conversion. The values are stable and are what
// API clients match on.
type Kind string

const (
	KindInvalidArguments Kind = "INVALID_ARGUMENTS"
	KindSourceNotFound   Kind = "FILE_NOT_FOUND"
	KindDecodeFailed     Kind = "DECODE_FAILED"
	KindEncodeFailed     Kind = "ENCODE_FAILED"
	KindProcessing       Kind = "PROCESSING_ERROR"
	KindConversion       Kind = "CONVERSION_ERROR"
)

// Error is the error returned by Convert.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind of err, KindConversion for errors that are not an
// *Error, and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindConversion
}

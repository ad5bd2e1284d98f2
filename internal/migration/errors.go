package migration

import (
	"errors"
	"fmt"
	"strings"
)

// Error is the failure kind recorded and returned by migration operations.
// Path names the offending file or archive when one is involved.
type Error struct {
	Msg  string
	Path string
	Err  error
}

// NewError builds an Error for path with an optional cause.
func NewError(path string, cause error, format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...), Path: path, Err: cause}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// CompoundError aggregates every error recorded by an operation.
type CompoundError struct {
	Errs []error
}

func (e *CompoundError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d migration errors: %s", len(e.Errs), strings.Join(msgs, "; "))
}

func (e *CompoundError) Unwrap() []error { return e.Errs }

// StreamError marks a failure writing the archive container itself. The
// archive cannot be trusted afterwards so the operation stops.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string { return "archive stream failure: " + e.Err.Error() }

func (e *StreamError) Unwrap() error { return e.Err }

// IsStreamError reports whether err is or wraps a StreamError.
func IsStreamError(err error) bool {
	var se *StreamError
	return errors.As(err, &se)
}

func asStreamError(err error) error {
	if err == nil || IsStreamError(err) {
		return err
	}
	return &StreamError{Err: err}
}

// Package ecode defines the stable error codes surfaced to callers of the
// metrics and alerting operations.
package ecode

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, caller-visible error classification.
type Code string

const (
	// InvalidArgument marks malformed input: bad filters, out-of-range limits,
	// mutually exclusive axis fields.
	InvalidArgument Code = "INVALID_ARGUMENT"
	// NotFound marks an unknown id.
	NotFound Code = "NOT_FOUND"
	// Conflict marks an illegal state transition attempt.
	Conflict Code = "CONFLICT"
	// Internal marks defects: unreachable state-machine branches, payload
	// serialization failures, storage faults.
	Internal Code = "INTERNAL"
)

// String returns the string representation of the code.
func (c Code) String() string {
	return string(c)
}

// HTTPStatus maps a code to the status the API layer reports.
func (c Code) HTTPStatus() int {
	switch c {
	case InvalidArgument:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is a coded error. Op names the failing operation, Msg the reason.
type Error struct {
	Code Code
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by code, so errors.Is(err, ErrConflict) holds for any
// Conflict error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Code == e.Code
}

// Sentinels for errors.Is checks.
var (
	ErrInvalidArgument = &Error{Code: InvalidArgument}
	ErrNotFound        = &Error{Code: NotFound}
	ErrConflict        = &Error{Code: Conflict}
	ErrInternal        = &Error{Code: Internal}
)

// New creates a coded error with a formatted message.
func New(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error.
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf returns the code carried by err. Uncoded errors are Internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// FieldIsRequired returns a "<field> required" message.
func FieldIsRequired(field string) string {
	return fmt.Sprintf("%s required", field)
}

// FieldIsInvalid returns a "<field> invalid" message.
func FieldIsInvalid(field string) string {
	return fmt.Sprintf("%s invalid", field)
}

package levels

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeMissingUser     Code = "MISSING_USER"
	CodeInvalidLevel    Code = "INVALID_LEVEL"
	CodePermissionError Code = "PERMISSION_ERROR"
	CodeNotAllowed      Code = "NOT_ALLOWED"
	CodeBadRequest      Code = "BAD_REQUEST"
	CodeInternal        Code = "INTERNAL"
)

// Error is the domain error returned by every level operation.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

var (
	ErrMissingUser  = &Error{Code: CodeMissingUser, Message: "A valid user is required"}
	ErrInvalidLevel = &Error{Code: CodeInvalidLevel, Message: "A valid level is required"}
	ErrPermission   = &Error{Code: CodePermissionError, Message: "You can't edit this level"}
	ErrNotAllowed   = &Error{Code: CodeNotAllowed, Message: "Not allowed"}
	ErrBadRequest   = &Error{Code: CodeBadRequest, Message: "Bad request"}
)

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// internal wraps a store failure.
func internal(err error, format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...), Cause: oops.Wrap(err)}
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal for any other non-nil error.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

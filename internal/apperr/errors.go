package apperr

import "fmt"

// Code classifies an application error for callers that need to map it to an
// exit status or a retry decision.
type Code string

const (
	CodeInternal     Code = "INTERNAL"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeInvalidInput Code = "INVALID_INPUT"
	CodeUnauthorized Code = "UNAUTHORIZED"
)

// Error is a coded application error, optionally wrapping a cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a coded error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Cause: err}
}

// NotFound reports a missing resource by kind and identifier.
func NotFound(kind, id string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s not found: %s", kind, id)}
}

// InvalidInput reports a rejected field value.
func InvalidInput(field, reason string) *Error {
	return &Error{Code: CodeInvalidInput, Message: fmt.Sprintf("%s: %s", field, reason)}
}

// Conflict reports an operation attempted against an incompatible state.
func Conflict(message string) *Error {
	return &Error{Code: CodeConflict, Message: message}
}

// Internal reports an unexpected failure.
func Internal(message string) *Error {
	return &Error{Code: CodeInternal, Message: message}
}

// CodeOf extracts the code from err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return CodeInternal
}

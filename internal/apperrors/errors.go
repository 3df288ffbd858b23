package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for callers and for HTTP mapping.
type Code string

const (
	CodeValidation       Code = "VALIDATION"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeInvalidState     Code = "INVALID_STATE"
	CodeNotFound         Code = "NOT_FOUND"
	CodeInternal         Code = "INTERNAL"
)

// Error is a coded error. All errors crossing the service boundary are of
// this type so the API layer can map them to status codes.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return Newf(CodeNotFound, "%s not found: %s", resource, id)
}

// InvalidInput reports a malformed or missing field.
func InvalidInput(field, msg string) *Error {
	return Newf(CodeValidation, "%s: %s", field, msg)
}

// PermissionDenied reports an unauthorized action.
func PermissionDenied(msg string) *Error {
	return New(CodePermissionDenied, msg)
}

// InvalidState reports a transition attempted from a state that forbids it.
func InvalidState(msg string) *Error {
	return New(CodeInvalidState, msg)
}

// CodeOf extracts the code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error to the status code the API layer should return.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeValidation, CodeInvalidState:
		return http.StatusBadRequest
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

package errors

import (
	"errors"
	"fmt"
)

// Error codes shared across packages. Individual packages define their own
// domain-specific codes (see e.g. pkg/messaging/errors.go) but funnel
// generic cases through these.
const (
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeForbidden       = "FORBIDDEN"
	CodeInternal        = "INTERNAL"
	CodeUnavailable     = "UNAVAILABLE"
)

// AppError is the structured error type used throughout the system.
// It carries a stable Code for programmatic handling, a human-readable
// Message, and an optional wrapped cause.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap lets errors.Is / errors.As see through to the wrapped cause.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates an AppError with an explicit code.
func New(code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// Wrap attaches context to err without discarding its code if it is already
// an AppError; otherwise it's classified as CodeInternal.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return &AppError{Code: ae.Code, Message: message, Cause: err}
	}
	return &AppError{Code: CodeInternal, Message: message, Cause: err}
}

// InvalidArgument creates a CodeInvalidArgument error.
func InvalidArgument(message string, cause error) *AppError {
	return New(CodeInvalidArgument, message, cause)
}

// NotFound creates a CodeNotFound error.
func NotFound(message string, cause error) *AppError {
	return New(CodeNotFound, message, cause)
}

// Conflict creates a CodeConflict error.
func Conflict(message string, cause error) *AppError {
	return New(CodeConflict, message, cause)
}

// Forbidden creates a CodeForbidden error.
func Forbidden(message string, cause error) *AppError {
	return New(CodeForbidden, message, cause)
}

// Internal creates a CodeInternal error.
func Internal(message string, cause error) *AppError {
	return New(CodeInternal, message, cause)
}

// Unavailable creates a CodeUnavailable error.
func Unavailable(message string, cause error) *AppError {
	return New(CodeUnavailable, message, cause)
}

// Is reports whether err's code matches code, walking the Unwrap chain.
func Is(err error, code string) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// As is a thin re-export of the standard library helper so callers only
// need to import this package when working with AppError chains.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

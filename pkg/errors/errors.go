package errors

import (
	stderrors "errors"
	"fmt"
)

// Standard error codes shared across packages.
// Domain packages define their own, more specific codes on top of these.
const (
	CodeNotFound        = "NOT_FOUND"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeConflict        = "CONFLICT"
	CodeTimeout         = "TIMEOUT"
	CodeUnavailable     = "UNAVAILABLE"
	CodeInternal        = "INTERNAL"
)

// AppError is the standard structured error type.
// It carries a stable machine-readable code, a human-readable message,
// and an optional underlying cause for chaining.
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, enabling errors.Is / errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches two AppErrors by code.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if stderrors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// New creates an AppError with the given code, message and optional cause.
func New(code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Newf creates an AppError with a formatted message and no cause.
func Newf(code, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error as an internal AppError with additional context.
// If err is already an AppError, its code is preserved.
func Wrap(err error, message string) *AppError {
	code := CodeInternal
	var app *AppError
	if stderrors.As(err, &app) {
		code = app.Code
	}
	return &AppError{Code: code, Message: message, Err: err}
}

// Code extracts the code from an error, or CodeInternal for non-AppErrors.
// Returns "" for nil.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var app *AppError
	if stderrors.As(err, &app) {
		return app.Code
	}
	return CodeInternal
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

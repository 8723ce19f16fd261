package consumer

import "github.com/joevandyk/beetle/pkg/errors"

// Error codes for message processing.
const (
	CodeHandlerTimeout = "CONSUMER_HANDLER_TIMEOUT"
	CodeHandlerPanic   = "CONSUMER_HANDLER_PANIC"
	CodeStoreFailed    = "CONSUMER_STORE_FAILED"
	CodeAckFailed      = "CONSUMER_ACK_FAILED"
)

// ErrHandlerTimeout creates the error recorded when a handler run exceeds
// its wall-clock budget.
func ErrHandlerTimeout(err error) *errors.AppError {
	return errors.New(CodeHandlerTimeout, "handler exceeded its timeout", err)
}

// ErrHandlerPanic creates the error recorded when a handler run panicked.
func ErrHandlerPanic(v interface{}) *errors.AppError {
	return errors.Newf(CodeHandlerPanic, "handler panicked: %v", v)
}

// ErrStoreFailed creates an error for deduplication store failures during
// processing.
func ErrStoreFailed(err error) *errors.AppError {
	return errors.New(CodeStoreFailed, "deduplication store operation failed", err)
}

// ErrAckFailed creates an error for broker acknowledgment failures.
func ErrAckFailed(err error) *errors.AppError {
	return errors.New(CodeAckFailed, "failed to acknowledge delivery", err)
}

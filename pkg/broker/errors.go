package broker

import "github.com/joevandyk/beetle/pkg/errors"

// Error codes for broker operations.
const (
	CodeConnectionFailed = "BROKER_CONN_FAILED"
	CodePublishFailed    = "BROKER_PUBLISH_FAILED"
	CodeConsumeFailed    = "BROKER_CONSUME_FAILED"
	CodeTimeout          = "BROKER_TIMEOUT"
	CodeClosed           = "BROKER_CLOSED"
	CodeInvalidConfig    = "BROKER_INVALID_CONFIG"
	CodeAckFailed        = "BROKER_ACK_FAILED"
	CodeNackFailed       = "BROKER_NACK_FAILED"
)

// ErrConnectionFailed creates an error for broker connection failures.
func ErrConnectionFailed(err error) *errors.AppError {
	return errors.New(CodeConnectionFailed, "failed to connect to message broker", err)
}

// ErrPublishFailed creates an error for publish failures.
func ErrPublishFailed(err error) *errors.AppError {
	return errors.New(CodePublishFailed, "failed to publish message", err)
}

// ErrConsumeFailed creates an error for consume failures.
func ErrConsumeFailed(err error) *errors.AppError {
	return errors.New(CodeConsumeFailed, "failed to consume message", err)
}

// ErrTimeout creates an error for operation timeouts.
func ErrTimeout(operation string, err error) *errors.AppError {
	return errors.New(CodeTimeout, "broker operation timed out: "+operation, err)
}

// ErrClosed creates an error for closed connections.
func ErrClosed(err error) *errors.AppError {
	return errors.New(CodeClosed, "broker connection is closed", err)
}

// ErrInvalidConfig creates an error for invalid configuration.
func ErrInvalidConfig(msg string, err error) *errors.AppError {
	return errors.New(CodeInvalidConfig, "invalid broker configuration: "+msg, err)
}

// ErrAckFailed creates an error for acknowledgment failures.
func ErrAckFailed(err error) *errors.AppError {
	return errors.New(CodeAckFailed, "failed to acknowledge message", err)
}

// ErrNackFailed creates an error for negative acknowledgment failures.
func ErrNackFailed(err error) *errors.AppError {
	return errors.New(CodeNackFailed, "failed to nack message", err)
}

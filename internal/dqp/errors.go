package dqp

import (
	"errors"
	"fmt"
)

// ExecutionError is a connector failure surfaced to the request layer.
type ExecutionError struct {
	// Code identifies the error category.
	Code ExecutionErrorCode

	// Message is a human-readable description.
	Message string

	// RequestID identifies the atomic request.
	RequestID AtomicRequestID

	// Connector names the connector binding.
	Connector string

	// Err is the underlying cause, if any.
	Err error
}

// ExecutionErrorCode categorizes execution errors.
type ExecutionErrorCode string

const (
	// ErrCodeConnector indicates the source or connector failed.
	ErrCodeConnector ExecutionErrorCode = "CONNECTOR_FAILURE"

	// ErrCodeMaxRowsExceeded indicates the result exceeded the row cap under
	// the error policy.
	ErrCodeMaxRowsExceeded ExecutionErrorCode = "MAX_ROWS_EXCEEDED"

	// ErrCodeCancelled indicates the request was cancelled.
	ErrCodeCancelled ExecutionErrorCode = "CANCELLED"

	// ErrCodeInvalidState indicates a call out of protocol order.
	ErrCodeInvalidState ExecutionErrorCode = "INVALID_STATE"
)

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Connector != "" {
		return fmt.Sprintf("%s: %s (request=%s, connector=%s)", e.Code, msg, e.RequestID, e.Connector)
	}
	return fmt.Sprintf("%s: %s (request=%s)", e.Code, msg, e.RequestID)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// IsExecutionError returns true if err is or wraps an ExecutionError.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

// IsMaxRowsError returns true if the row cap was exceeded under the error
// policy.
func IsMaxRowsError(err error) bool {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Code == ErrCodeMaxRowsExceeded
	}
	return false
}

// IsCancelledError returns true if the request failed because it was
// cancelled.
func IsCancelledError(err error) bool {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Code == ErrCodeCancelled
	}
	return false
}

// IsInvalidStateError returns true if a call came out of protocol order,
// including an Execute that lost a race with Close.
func IsInvalidStateError(err error) bool {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Code == ErrCodeInvalidState
	}
	return false
}

package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/fedq/internal/plan"
)

// RequestError is a failure to route or assemble an ACCESS fragment.
// Connector failures surface as *dqp.ExecutionError and planning failures as
// *rules.PlanningError.
type RequestError struct {
	// Code identifies the error category.
	Code RequestErrorCode

	// Message is a human-readable description.
	Message string

	// RequestID identifies the user request.
	RequestID string

	// Node is the ACCESS node.
	Node plan.NodeID

	// Err is the underlying cause, if any.
	Err error
}

// RequestErrorCode categorizes request errors.
type RequestErrorCode string

const (
	// ErrCodeUnroutable indicates no deployed connector serves the model.
	ErrCodeUnroutable RequestErrorCode = "UNROUTABLE"

	// ErrCodeAssembly indicates the ACCESS subtree could not become a command.
	ErrCodeAssembly RequestErrorCode = "ASSEMBLY_FAILED"
)

// Error implements the error interface.
func (e *RequestError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.RequestID != "" {
		return fmt.Sprintf("%s: %s (request=%s, node=%d)", e.Code, msg, e.RequestID, e.Node)
	}
	return fmt.Sprintf("%s: %s (node=%d)", e.Code, msg, e.Node)
}

func (e *RequestError) Unwrap() error { return e.Err }

// IsRequestError returns true if err is or wraps a RequestError.
func IsRequestError(err error) bool {
	var re *RequestError
	return errors.As(err, &re)
}

// IsUnroutableError returns true if no connector could take the fragment.
func IsUnroutableError(err error) bool {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Code == ErrCodeUnroutable
	}
	return false
}

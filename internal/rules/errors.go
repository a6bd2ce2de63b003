package rules

import (
	"errors"
	"fmt"

	"github.com/roach88/fedq/internal/plan"
)

// PlanningError aborts plan compilation. Planning is deterministic, so these
// errors are never retried.
type PlanningError struct {
	// Code identifies the error category.
	Code PlanningErrorCode

	// Message is a human-readable description.
	Message string

	// Node is the plan node the violation was found at, or plan.NoNode.
	Node plan.NodeID

	// Group names the group or procedure involved, when there is one.
	Group string
}

// PlanningErrorCode categorizes planning errors.
type PlanningErrorCode string

const (
	// ErrCodeUnboundProcedureInput indicates a procedure input has neither a
	// binding from enclosing criteria nor a declared default.
	ErrCodeUnboundProcedureInput PlanningErrorCode = "UNBOUND_PROCEDURE_INPUT"

	// ErrCodeNonNullableIsNull indicates a non-nullable procedure input is
	// constrained IS NULL.
	ErrCodeNonNullableIsNull PlanningErrorCode = "NON_NULLABLE_IS_NULL"

	// ErrCodeCriteriaRequired indicates a query without criteria against a
	// group that requires them.
	ErrCodeCriteriaRequired PlanningErrorCode = "CRITERIA_REQUIRED"

	// ErrCodeInvalidPlan indicates the input plan violates a structural
	// invariant.
	ErrCodeInvalidPlan PlanningErrorCode = "INVALID_PLAN"
)

// Error implements the error interface.
func (e *PlanningError) Error() string {
	if e.Group != "" {
		return fmt.Sprintf("%s: %s (group=%s, node=%d)", e.Code, e.Message, e.Group, e.Node)
	}
	return fmt.Sprintf("%s: %s (node=%d)", e.Code, e.Message, e.Node)
}

// IsPlanningError returns true if the error is a PlanningError.
// Uses errors.As to handle wrapped errors.
func IsPlanningError(err error) bool {
	var pe *PlanningError
	return errors.As(err, &pe)
}

// ErrorCode returns the code of a wrapped PlanningError, or "".
func ErrorCode(err error) PlanningErrorCode {
	var pe *PlanningError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

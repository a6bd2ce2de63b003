package dqp

import (
	"fmt"

	"github.com/roach88/fedq/internal/expr"
)

// AtomicRequestID identifies one per-source sub-request of a user request.
type AtomicRequestID struct {
	RequestID string
	NodeID    int
	Attempt   int
}

func (id AtomicRequestID) String() string {
	return fmt.Sprintf("%s.%d.%d", id.RequestID, id.NodeID, id.Attempt)
}

// MaxRowsPolicy selects what happens when a result exceeds MaxRows.
type MaxRowsPolicy int

const (
	// Truncate stops at the cap and marks the batch final.
	Truncate MaxRowsPolicy = iota
	// Fail returns an error upon the first row past the cap.
	Fail
)

// DefaultBatchSize is used when a request does not set one.
const DefaultBatchSize = 256

// Request is one atomic request as handed to a connector manager.
type Request struct {
	ID      AtomicRequestID
	Command expr.Command

	BatchSize int
	// MaxRows caps the rows returned; zero means no cap.
	MaxRows       int
	MaxRowsPolicy MaxRowsPolicy
	Transactional bool

	VDBName    string
	VDBVersion string
	SessionID  string
	User       string
	Hints      []string

	// Pool is the session's reusable execution cache, or nil.
	Pool *ExecutionPool
	// OnDataAvailable wakes the owning request after a Pending result.
	OnDataAvailable func()
}

func (r Request) batchSize() int {
	if r.BatchSize <= 0 {
		return DefaultBatchSize
	}
	return r.BatchSize
}

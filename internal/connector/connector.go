// Package connector defines the contract between the dispatch layer and a
// physical source. A connector is an ExecutionFactory: it reports its
// capabilities, hands out connections, and builds one of three execution
// shapes (result set, procedure, update) for a translated command.
package connector

import (
	"context"
	"time"

	"github.com/roach88/fedq/internal/capability"
	"github.com/roach88/fedq/internal/ir"
	"github.com/roach88/fedq/internal/language"
	"github.com/roach88/fedq/internal/translate"
)

// ExecutionFactory is a connector.
type ExecutionFactory interface {
	// Start prepares the factory. It is called once before any other method.
	Start(ctx context.Context) error
	// Stop releases factory-wide resources.
	Stop() error

	// Capabilities describes what the source executes natively. It may be
	// expensive; callers cache the result.
	Capabilities(ctx context.Context) (*capability.Snapshot, error)
	// TranslatorOptions customize translation for this source.
	TranslatorOptions() []translate.Option

	// SourceRequired reports whether executions need a Connection.
	SourceRequired() bool
	// Connection opens a connection for one work item.
	Connection(ctx context.Context, ec *ExecutionContext) (Connection, error)

	CreateResultSetExecution(ctx context.Context, q language.QueryExpression, ec *ExecutionContext, conn Connection) (ResultSetExecution, error)
	CreateProcedureExecution(ctx context.Context, call *language.Call, ec *ExecutionContext, conn Connection) (ProcedureExecution, error)
	CreateUpdateExecution(ctx context.Context, cmd language.Command, ec *ExecutionContext, conn Connection) (UpdateExecution, error)
}

// Connection is a source connection owned by one work item.
type Connection interface {
	Close() error
}

// Unwrapper is implemented by connections wrapping a pooled or adapted
// connection. Factories receive the innermost connection.
type Unwrapper interface {
	Unwrap() Connection
}

// Unwrap peels wrapper connections until one does not implement Unwrapper.
func Unwrap(c Connection) Connection {
	for {
		u, ok := c.(Unwrapper)
		if !ok {
			return c
		}
		inner := u.Unwrap()
		if inner == nil {
			return c
		}
		c = inner
	}
}

// Execution is one command running against a source.
type Execution interface {
	Execute(ctx context.Context) error
	// Cancel asks the source to stop. It may be called from another goroutine
	// while Execute or Next is running.
	Cancel() error
	Close() error
}

// Row is one result row.
type Row []ir.Value

// Fetch is the outcome of one Next call: a Row, Pending, or End.
type Fetch interface {
	fetch() // Marker method - seals interface to this package
}

// Pending means no row is available yet. The execution calls
// ExecutionContext.DataAvailable when it has more, or the caller may retry
// after Until. A zero Until means no deadline.
type Pending struct {
	Until time.Time
}

// End means the result is exhausted.
type End struct{}

func (Row) fetch()     {}
func (Pending) fetch() {}
func (End) fetch()     {}

// ResultSetExecution produces rows.
type ResultSetExecution interface {
	Execution
	Next(ctx context.Context) (Fetch, error)
}

// ProcedureExecution produces a result set followed by output parameter
// values.
type ProcedureExecution interface {
	ResultSetExecution
	// OutputValues returns OUT, INOUT, and RETURN values in argument order.
	// It is valid only after Next returned End.
	OutputValues() ([]ir.Value, error)
}

// UpdateExecution modifies data.
type UpdateExecution interface {
	Execution
	// UpdateCounts returns one count per executed statement.
	UpdateCounts() ([]int64, error)
}

// ReusableExecution can be reset to run another command of the same shape
// instead of being closed. Close ends the current use; the execution keeps
// its prepared state until Dispose.
type ReusableExecution interface {
	Execution
	Reset(ctx context.Context, cmd language.Command, ec *ExecutionContext, conn Connection) error
	// Dispose releases the execution for good.
	Dispose() error
}

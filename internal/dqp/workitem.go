package dqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/fedq/internal/connector"
	"github.com/roach88/fedq/internal/ir"
	"github.com/roach88/fedq/internal/language"
)

// State of a work item.
type State int32

const (
	Created State = iota
	Executing
	Fetching
	Closed
	Cancelled
)

var stateNames = []string{"created", "executing", "fetching", "closed", "cancelled"}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int32(s))
	}
	return stateNames[s]
}

// Shape is the execution shape a command dispatches to.
type Shape int

const (
	ShapeQuery Shape = iota
	ShapeCall
	ShapeModify
)

// ShapeOf classifies a translated command.
func ShapeOf(cmd language.Command) Shape {
	switch cmd.(type) {
	case *language.Call:
		return ShapeCall
	case *language.Insert, *language.Update, *language.Delete:
		return ShapeModify
	default:
		return ShapeQuery
	}
}

// WorkItem is the execution state machine of one atomic request against one
// connector.
type WorkItem struct {
	mgr     *Manager
	req     Request
	command language.Command
	shape   Shape
	ec      *connector.ExecutionContext

	state     atomic.Int32
	cancelled atomic.Bool
	failed    atomic.Bool

	// mu guards the resources Cancel and Close reach from other goroutines.
	// Once closed is set, nothing new is published; Execute releases what it
	// acquires itself.
	mu     sync.Mutex
	closed bool
	conn   connector.Connection
	exec   connector.Execution

	// Owned by the goroutine calling Execute and More.
	results   connector.ResultSetExecution
	procedure connector.ProcedureExecution
	update    connector.UpdateExecution
	width     int
	outputs   int
	rows      int
	pending   *connector.Pending
	done      bool
}

func newWorkItem(m *Manager, req Request, cmd language.Command) *WorkItem {
	ec := &connector.ExecutionContext{
		RequestID:     req.ID.String(),
		ConnectorID:   m.name,
		VDBName:       req.VDBName,
		VDBVersion:    req.VDBVersion,
		SessionID:     req.SessionID,
		User:          req.User,
		Transactional: req.Transactional,
		BatchSize:     req.batchSize(),
		Hints:         req.Hints,
	}
	if req.OnDataAvailable != nil {
		ec.SetDataAvailable(req.OnDataAvailable)
	}
	return &WorkItem{mgr: m, req: req, command: cmd, shape: ShapeOf(cmd), ec: ec}
}

// ID returns the atomic request id.
func (w *WorkItem) ID() AtomicRequestID { return w.req.ID }

// Command returns the translated command.
func (w *WorkItem) Command() language.Command { return w.command }

// Shape returns the execution shape of the command.
func (w *WorkItem) Shape() Shape { return w.shape }

// State returns the current state.
func (w *WorkItem) State() State {
	s := State(w.state.Load())
	if s != Closed && w.cancelled.Load() {
		return Cancelled
	}
	return s
}

// Execute acquires a connection if the connector needs one, creates the
// execution for the command's shape, and runs it.
func (w *WorkItem) Execute(ctx context.Context) error {
	if w.cancelled.Load() {
		return w.cancelledError()
	}
	if !w.state.CompareAndSwap(int32(Created), int32(Executing)) {
		return w.stateError("execute")
	}
	if err := w.acquire(ctx); errors.Is(err, errClosedWhileExecuting) {
		return w.stateError("execute")
	} else if err != nil {
		return w.fail("acquire connection", err)
	}
	exec, err := w.create(ctx)
	if err != nil {
		return w.fail("create execution", err)
	}

	w.mu.Lock()
	closed := w.closed
	if !closed {
		w.exec = exec
	}
	w.mu.Unlock()
	if closed {
		w.release(exec)
		return w.stateError("execute")
	}
	// A Cancel that ran before exec was published could not forward.
	if w.cancelled.Load() {
		if err := exec.Cancel(); err != nil {
			slog.Debug("cancel after create failed", "request_id", w.req.ID.String(), "error", err)
		}
		return w.cancelledError()
	}

	if err := exec.Execute(ctx); err != nil {
		return w.fail("execute", err)
	}
	w.state.CompareAndSwap(int32(Executing), int32(Fetching))
	slog.Debug("work item executed",
		"request_id", w.req.ID.String(),
		"connector", w.mgr.name,
		"shape", w.shape,
	)
	return nil
}

func (w *WorkItem) acquire(ctx context.Context) error {
	if !w.mgr.factory.SourceRequired() && w.mgr.connections == nil {
		return nil
	}
	var (
		conn connector.Connection
		err  error
	)
	if w.mgr.connections != nil {
		conn, err = w.mgr.connections.Connection(ctx)
	} else {
		conn, err = w.mgr.factory.Connection(ctx, w.ec)
	}
	if err != nil {
		return err
	}
	if conn == nil {
		return errNoConnection
	}
	w.mu.Lock()
	closed := w.closed
	if !closed {
		w.conn = conn
	}
	w.mu.Unlock()
	if closed {
		w.closeConn(conn)
		return errClosedWhileExecuting
	}
	return nil
}

func (w *WorkItem) create(ctx context.Context) (connector.Execution, error) {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn != nil {
		conn = connector.Unwrap(conn)
	}
	f := w.mgr.factory

	switch cmd := w.command.(type) {
	case *language.Call:
		e, err := f.CreateProcedureExecution(ctx, cmd, w.ec, conn)
		if err != nil {
			return nil, err
		}
		w.procedure, w.results = e, e
		w.outputs = cmd.OutputCount()
		w.width = len(cmd.ResultSetTypes) + w.outputs
		return e, nil
	case *language.Insert, *language.Update, *language.Delete:
		e, err := f.CreateUpdateExecution(ctx, cmd, w.ec, conn)
		if err != nil {
			return nil, err
		}
		w.update = e
		return e, nil
	case language.QueryExpression:
		w.width = len(language.ColumnTypes(cmd))
		if e := w.reuse(ctx, conn); e != nil {
			return e, nil
		}
		e, err := f.CreateResultSetExecution(ctx, cmd, w.ec, conn)
		if err != nil {
			return nil, err
		}
		w.results = e
		return e, nil
	}
	return nil, fmt.Errorf("unsupported command %T", w.command)
}

// reuse takes a parked execution from the session pool and resets it for
// this query.
func (w *WorkItem) reuse(ctx context.Context, conn connector.Connection) connector.Execution {
	if w.req.Pool == nil {
		return nil
	}
	r := w.req.Pool.take(w.mgr.name)
	if r == nil {
		return nil
	}
	if rs, ok := r.(connector.ResultSetExecution); ok {
		err := r.Reset(ctx, w.command, w.ec, conn)
		if err == nil {
			w.results = rs
			return r
		}
		slog.Warn("reset of pooled execution failed", "request_id", w.req.ID.String(), "connector", w.mgr.name, "error", err)
	}
	if err := r.Dispose(); err != nil {
		slog.Warn("dispose of pooled execution failed", "connector", w.mgr.name, "error", err)
	}
	return nil
}

// More returns the next batch. A Pending result is scheduling information:
// the caller suspends and calls More again once woken or past the deadline.
// After Done, More keeps returning an empty Done.
func (w *WorkItem) More(ctx context.Context) (Result, error) {
	if w.cancelled.Load() {
		return nil, w.cancelledError()
	}
	if State(w.state.Load()) != Fetching {
		return nil, w.stateError("more")
	}
	if p := w.pending; p != nil {
		w.pending = nil
		return Pending{Until: p.Until}, nil
	}
	if w.done {
		return Done{}, nil
	}

	if w.update != nil {
		counts, err := w.update.UpdateCounts()
		if err != nil {
			return nil, w.fail("update counts", err)
		}
		w.done = true
		rows := make([]connector.Row, len(counts))
		for i, n := range counts {
			rows[i] = connector.Row{ir.Int(n)}
		}
		return Done{Rows: rows, Warnings: w.ec.DrainWarnings()}, nil
	}

	size := w.req.batchSize()
	batch := make([]connector.Row, 0, size)
	for len(batch) < size {
		f, err := w.results.Next(ctx)
		if err != nil {
			return nil, w.fail("fetch", err)
		}
		switch v := f.(type) {
		case connector.Row:
			if w.req.MaxRows > 0 && w.rows >= w.req.MaxRows {
				return nil, &ExecutionError{
					Code:      ErrCodeMaxRowsExceeded,
					Message:   fmt.Sprintf("result exceeds %d rows", w.req.MaxRows),
					RequestID: w.req.ID,
					Connector: w.mgr.name,
				}
			}
			w.rows++
			batch = append(batch, w.pad(v))
			if w.req.MaxRows > 0 && w.rows == w.req.MaxRows && w.req.MaxRowsPolicy == Truncate {
				w.done = true
				return Done{Rows: batch, Warnings: w.ec.DrainWarnings()}, nil
			}
		case connector.Pending:
			if len(batch) > 0 {
				w.pending = &v
				return Ready{Rows: batch, Warnings: w.ec.DrainWarnings()}, nil
			}
			return Pending{Until: v.Until}, nil
		case connector.End:
			if w.procedure != nil && w.outputs > 0 {
				row, err := w.outputRow()
				if err != nil {
					return nil, w.fail("output values", err)
				}
				batch = append(batch, row)
			}
			w.done = true
			return Done{Rows: batch, Warnings: w.ec.DrainWarnings()}, nil
		}
	}
	return Ready{Rows: batch, Warnings: w.ec.DrainWarnings()}, nil
}

// pad widens procedure result rows with null output placeholders. A row of
// the wrong width is a connector defect and panics.
func (w *WorkItem) pad(row connector.Row) connector.Row {
	if w.width == 0 {
		return row
	}
	if len(row) != w.width-w.outputs {
		panic(fmt.Sprintf("dqp: request %s: row has %d columns, want %d", w.req.ID, len(row), w.width-w.outputs))
	}
	if w.outputs == 0 {
		return row
	}
	out := make(connector.Row, w.width)
	copy(out, row)
	for i := len(row); i < w.width; i++ {
		out[i] = ir.Null{}
	}
	return out
}

// outputRow builds the synthetic final row of a procedure: nulls for the
// result set columns followed by the output values.
func (w *WorkItem) outputRow() (connector.Row, error) {
	values, err := w.procedure.OutputValues()
	if err != nil {
		return nil, err
	}
	if len(values) > w.outputs {
		return nil, fmt.Errorf("connector returned %d output values, want %d", len(values), w.outputs)
	}
	row := make(connector.Row, w.width)
	base := w.width - w.outputs
	for i := range row {
		row[i] = ir.Null{}
	}
	copy(row[base:], values)
	return row, nil
}

// Cancel asks the source to stop. It is idempotent and never fails; a race
// with natural completion is expected.
func (w *WorkItem) Cancel() {
	if !w.cancelled.CompareAndSwap(false, true) {
		return
	}
	w.mu.Lock()
	exec := w.exec
	w.mu.Unlock()
	slog.Debug("work item cancelled", "request_id", w.req.ID.String(), "connector", w.mgr.name)
	if exec == nil {
		return
	}
	if err := exec.Cancel(); err != nil {
		slog.Warn("cancel failed", "request_id", w.req.ID.String(), "connector", w.mgr.name, "error", err)
	}
}

// Close releases the execution and then the connection. Only the first
// Close of a registered work item does anything.
func (w *WorkItem) Close() {
	if !w.mgr.remove(w) {
		return
	}
	w.state.Store(int32(Closed))

	w.mu.Lock()
	w.closed = true
	exec, conn := w.exec, w.conn
	w.exec, w.conn = nil, nil
	w.mu.Unlock()

	if exec != nil {
		w.release(exec)
	}
	if conn != nil {
		w.closeConn(conn)
	}
	slog.Debug("work item closed", "request_id", w.req.ID.String(), "connector", w.mgr.name)
}

func (w *WorkItem) closeConn(conn connector.Connection) {
	if err := conn.Close(); err != nil {
		slog.Warn("close connection failed", "request_id", w.req.ID.String(), "connector", w.mgr.name, "error", err)
	}
}

func (w *WorkItem) release(exec connector.Execution) {
	err := exec.Close()
	if err != nil {
		slog.Warn("close execution failed", "request_id", w.req.ID.String(), "connector", w.mgr.name, "error", err)
	}
	r, reusable := exec.(connector.ReusableExecution)
	if !reusable {
		return
	}
	if w.req.Pool != nil && err == nil && !w.failed.Load() && !w.cancelled.Load() {
		w.req.Pool.put(w.mgr.name, r)
		return
	}
	if err := r.Dispose(); err != nil {
		slog.Warn("dispose execution failed", "request_id", w.req.ID.String(), "connector", w.mgr.name, "error", err)
	}
}

// fail wraps a connector failure. After cancellation the failure is an
// expected race and only logged at debug level.
func (w *WorkItem) fail(op string, err error) error {
	w.failed.Store(true)
	ee := &ExecutionError{
		Code:      ErrCodeConnector,
		Message:   op + " failed",
		RequestID: w.req.ID,
		Connector: w.mgr.name,
		Err:       err,
	}
	if w.cancelled.Load() {
		ee.Code = ErrCodeCancelled
		slog.Debug("connector failure after cancel", "request_id", w.req.ID.String(), "connector", w.mgr.name, "op", op, "error", err)
		return ee
	}
	slog.Error("connector failure", "request_id", w.req.ID.String(), "connector", w.mgr.name, "op", op, "error", err)
	return ee
}

func (w *WorkItem) cancelledError() error {
	return &ExecutionError{Code: ErrCodeCancelled, Message: "request cancelled", RequestID: w.req.ID, Connector: w.mgr.name}
}

func (w *WorkItem) stateError(op string) error {
	return &ExecutionError{
		Code:      ErrCodeInvalidState,
		Message:   fmt.Sprintf("%s in state %s", op, w.State()),
		RequestID: w.req.ID,
		Connector: w.mgr.name,
	}
}

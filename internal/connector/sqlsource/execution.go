package sqlsource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/fedq/internal/connector"
	"github.com/roach88/fedq/internal/ir"
	"github.com/roach88/fedq/internal/language"
	"github.com/roach88/fedq/internal/metadata"
)

var errNotExecuted = errors.New("execution has not been executed")

// queryExecution streams the rows of one SELECT.
type queryExecution struct {
	conn  *Conn
	stmt  Statement
	types []metadata.DataType
	ec    *connector.ExecutionContext

	mu     sync.Mutex
	cancel context.CancelFunc
	rows   *sql.Rows
	width  int
}

func (e *queryExecution) Execute(ctx context.Context) error {
	// Rows outlive the Execute call; Cancel and Close end them.
	qctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	rows, err := e.conn.QueryContext(qctx, e.stmt.SQL, e.stmt.Args...)
	if err != nil {
		cancel()
		return fmt.Errorf("query: %w", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		cancel()
		return fmt.Errorf("columns: %w", err)
	}
	e.mu.Lock()
	e.rows = rows
	e.width = len(cols)
	e.mu.Unlock()
	return nil
}

func (e *queryExecution) Next(context.Context) (connector.Fetch, error) {
	e.mu.Lock()
	rows, width := e.rows, e.width
	e.mu.Unlock()
	if rows == nil {
		return nil, errNotExecuted
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}
		return connector.End{}, nil
	}
	raw := make([]any, width)
	dest := make([]any, width)
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	row := make(connector.Row, width)
	for i, v := range raw {
		var t metadata.DataType
		if i < len(e.types) {
			t = e.types[i]
		}
		val, err := toValue(v, t)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i+1, err)
		}
		row[i] = val
	}
	return row, nil
}

func (e *queryExecution) Cancel() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
	return nil
}

func (e *queryExecution) Close() error {
	e.mu.Lock()
	rows, cancel := e.rows, e.cancel
	e.rows, e.cancel = nil, nil
	e.mu.Unlock()
	var err error
	if rows != nil {
		err = rows.Close()
	}
	if cancel != nil {
		cancel()
	}
	return err
}

// reusableQuery keeps its rendered dialect and may be reset with a new
// query and connection.
type reusableQuery struct {
	*queryExecution
	dialect *Dialect
}

var _ connector.ReusableExecution = (*reusableQuery)(nil)

func (e *reusableQuery) Reset(_ context.Context, cmd language.Command, ec *connector.ExecutionContext, c connector.Connection) error {
	q, ok := cmd.(language.QueryExpression)
	if !ok {
		return fmt.Errorf("reset: %T is not a query", cmd)
	}
	conn, ok := c.(*Conn)
	if !ok {
		return fmt.Errorf("reset: unexpected connection %T", c)
	}
	stmt, err := Render(e.dialect, q, -1)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if err := e.queryExecution.Close(); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	e.queryExecution = &queryExecution{conn: conn, stmt: stmt, types: language.ColumnTypes(q), ec: ec}
	return nil
}

func (e *reusableQuery) Dispose() error {
	return e.queryExecution.Close()
}

// procedureExecution runs a table function. A call without a declared result
// set returns its output values as the single row of the function.
type procedureExecution struct {
	queryExecution
	call    *language.Call
	outputs []ir.Value
	done    bool
}

func (e *procedureExecution) Execute(ctx context.Context) error {
	if len(e.call.ResultSetTypes) == 0 {
		e.types = outputTypes(e.call)
	}
	if err := e.queryExecution.Execute(ctx); err != nil {
		return err
	}
	if len(e.call.ResultSetTypes) > 0 {
		return nil
	}
	f, err := e.queryExecution.Next(ctx)
	if err != nil {
		return err
	}
	if row, ok := f.(connector.Row); ok {
		e.outputs = row
	}
	e.done = true
	return nil
}

func (e *procedureExecution) Next(ctx context.Context) (connector.Fetch, error) {
	if e.done {
		return connector.End{}, nil
	}
	f, err := e.queryExecution.Next(ctx)
	if _, end := f.(connector.End); end {
		e.done = true
	}
	return f, err
}

func (e *procedureExecution) OutputValues() ([]ir.Value, error) {
	if !e.done {
		return nil, errors.New("output values read before the result set ended")
	}
	return e.outputs, nil
}

func outputTypes(c *language.Call) []metadata.DataType {
	var out []metadata.DataType
	for _, a := range c.Arguments {
		if a.Direction != language.DirIn {
			out = append(out, a.Type)
		}
	}
	return out
}

// updateExecution runs one statement per batch entry.
type updateExecution struct {
	conn          *Conn
	stmts         []Statement
	transactional bool

	mu     sync.Mutex
	cancel context.CancelFunc
	counts []int64
	ran    bool
}

func (e *updateExecution) Execute(ctx context.Context) error {
	uctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	type execer interface {
		ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	}
	var (
		target execer = e.conn
		tx     *sql.Tx
	)
	if e.transactional && len(e.stmts) > 1 {
		var err error
		tx, err = e.conn.BeginTx(uctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		target = tx
	}

	counts := make([]int64, 0, len(e.stmts))
	for i, stmt := range e.stmts {
		res, err := target.ExecContext(uctx, stmt.SQL, stmt.Args...)
		if err == nil {
			var n int64
			n, err = res.RowsAffected()
			counts = append(counts, n)
		}
		if err != nil {
			if tx != nil {
				_ = tx.Rollback()
			}
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	if tx != nil {
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	e.mu.Lock()
	e.counts = counts
	e.ran = true
	e.mu.Unlock()
	return nil
}

func (e *updateExecution) UpdateCounts() ([]int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ran {
		return nil, errNotExecuted
	}
	return e.counts, nil
}

func (e *updateExecution) Cancel() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
	return nil
}

func (e *updateExecution) Close() error { return e.Cancel() }

// toValue converts a scanned driver value, using the expected type to
// interpret the text forms drivers return for numerics.
func toValue(v any, t metadata.DataType) (ir.Value, error) {
	switch val := v.(type) {
	case nil:
		return ir.Null{}, nil
	case time.Time:
		if t == metadata.TypeDate {
			return ir.String(val.Format(time.DateOnly)), nil
		}
		return ir.String(val.UTC().Format(time.RFC3339Nano)), nil
	case []byte:
		if t == metadata.TypeBlob {
			return ir.String(val), nil
		}
		v = string(val)
	case int64:
		switch t {
		case metadata.TypeBoolean:
			return ir.Bool(val != 0), nil
		case metadata.TypeDouble, metadata.TypeDecimal:
			return ir.Decimal(strconv.FormatInt(val, 10)), nil
		}
	}
	if s, ok := v.(string); ok {
		switch t {
		case metadata.TypeInteger, metadata.TypeLong:
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return ir.Int(n), nil
			}
		case metadata.TypeDouble, metadata.TypeDecimal:
			if d, err := ir.NewDecimal(s); err == nil {
				return d, nil
			}
		case metadata.TypeBoolean:
			if b, err := strconv.ParseBool(s); err == nil {
				return ir.Bool(b), nil
			}
		}
		return ir.String(s), nil
	}
	return ir.FromGo(v)
}

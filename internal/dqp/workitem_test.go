package dqp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fedq/internal/connector"
	"github.com/roach88/fedq/internal/expr"
	"github.com/roach88/fedq/internal/ir"
	"github.com/roach88/fedq/internal/language"
	"github.com/roach88/fedq/internal/metadata"
	"github.com/roach88/fedq/internal/testutil"
)

func oneColumnQuery() *expr.Query {
	return &expr.Query{
		Select: expr.Select{Items: []expr.SelectItem{{Expr: expr.Col("pg.t", "id", metadata.TypeInteger)}}},
		From:   []expr.FromClause{&expr.UnaryFrom{Group: expr.Group("pg.t")}},
	}
}

func rowsOf(values ...int64) []connector.Fetch {
	out := make([]connector.Fetch, len(values))
	for i, v := range values {
		out[i] = connector.Row{ir.Int(v)}
	}
	return out
}

func reqID(node int) AtomicRequestID {
	return AtomicRequestID{RequestID: "r1", NodeID: node}
}

func startManager(t *testing.T, f *testutil.FakeFactory, opts ...ManagerOption) *Manager {
	t.Helper()
	m := NewManager("fake", f, opts...)
	require.NoError(t, m.Start(context.Background()))
	return m
}

func executeQuery(t *testing.T, m *Manager, req Request) *WorkItem {
	t.Helper()
	if req.Command == nil {
		req.Command = oneColumnQuery()
	}
	w, err := m.Register(req)
	require.NoError(t, err)
	require.NoError(t, w.Execute(context.Background()))
	return w
}

func TestWorkItemFetchesInBatches(t *testing.T) {
	f := &testutil.FakeFactory{Script: rowsOf(1, 2, 3)}
	m := startManager(t, f)
	w := executeQuery(t, m, Request{ID: reqID(1), BatchSize: 2})
	assert.Equal(t, Fetching, w.State())
	assert.Equal(t, ShapeQuery, w.Shape())

	res, err := w.More(context.Background())
	require.NoError(t, err)
	ready, ok := res.(Ready)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, []connector.Row{{ir.Int(1)}, {ir.Int(2)}}, ready.Rows)

	res, err = w.More(context.Background())
	require.NoError(t, err)
	done, ok := res.(Done)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, []connector.Row{{ir.Int(3)}}, done.Rows)

	res, err = w.More(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Done{}, res)

	w.Close()
	assert.Equal(t, Closed, w.State())
}

func TestWorkItemDeferredAvailability(t *testing.T) {
	until := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := &testutil.FakeFactory{Script: []connector.Fetch{
		connector.Row{ir.Int(1)},
		connector.Pending{Until: until},
		connector.Row{ir.Int(2)},
	}}
	m := startManager(t, f)

	woken := 0
	w := executeQuery(t, m, Request{ID: reqID(1), BatchSize: 10, OnDataAvailable: func() { woken++ }})

	// The partial batch goes out first, the pending signal on the next call.
	res, err := w.More(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Ready{Rows: []connector.Row{{ir.Int(1)}}}, res)

	res, err = w.More(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Pending{Until: until}, res)

	f.Executions()[0].Wake()
	assert.Equal(t, 1, woken)

	res, err = w.More(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Done{Rows: []connector.Row{{ir.Int(2)}}}, res)
}

func TestWorkItemPendingWithoutRows(t *testing.T) {
	f := &testutil.FakeFactory{Script: []connector.Fetch{connector.Pending{}, connector.Row{ir.Int(7)}}}
	m := startManager(t, f)
	w := executeQuery(t, m, Request{ID: reqID(1)})

	res, err := w.More(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Pending{}, res)

	res, err = w.More(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Done{Rows: []connector.Row{{ir.Int(7)}}}, res)
}

func TestWorkItemMaxRowsTruncate(t *testing.T) {
	f := &testutil.FakeFactory{Script: rowsOf(1, 2, 3, 4, 5)}
	m := startManager(t, f)
	w := executeQuery(t, m, Request{ID: reqID(1), BatchSize: 2, MaxRows: 3, MaxRowsPolicy: Truncate})

	res, err := w.More(context.Background())
	require.NoError(t, err)
	assert.IsType(t, Ready{}, res)

	res, err = w.More(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Done{Rows: []connector.Row{{ir.Int(3)}}}, res)

	res, err = w.More(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Done{}, res)
}

func TestWorkItemMaxRowsFail(t *testing.T) {
	t.Run("exceeded", func(t *testing.T) {
		f := &testutil.FakeFactory{Script: rowsOf(1, 2, 3)}
		m := startManager(t, f)
		w := executeQuery(t, m, Request{ID: reqID(1), MaxRows: 2, MaxRowsPolicy: Fail})

		_, err := w.More(context.Background())
		require.Error(t, err)
		assert.True(t, IsMaxRowsError(err))
	})

	t.Run("exactly at cap", func(t *testing.T) {
		f := &testutil.FakeFactory{Script: rowsOf(1, 2)}
		m := startManager(t, f)
		w := executeQuery(t, m, Request{ID: reqID(1), MaxRows: 2, MaxRowsPolicy: Fail})

		res, err := w.More(context.Background())
		require.NoError(t, err)
		done, ok := res.(Done)
		require.True(t, ok)
		assert.Len(t, done.Rows, 2)
	})
}

func TestWorkItemWrongRowWidthPanics(t *testing.T) {
	f := &testutil.FakeFactory{Script: []connector.Fetch{connector.Row{ir.Int(1), ir.Int(2)}}}
	m := startManager(t, f)
	w := executeQuery(t, m, Request{ID: reqID(1)})

	assert.Panics(t, func() { _, _ = w.More(context.Background()) })
}

func TestWorkItemWarnings(t *testing.T) {
	f := &testutil.FakeFactory{Script: rowsOf(1)}
	m := startManager(t, f)
	w := executeQuery(t, m, Request{ID: reqID(1)})

	warning := errors.New("truncated column")
	f.Executions()[0].Warn(warning)

	res, err := w.More(context.Background())
	require.NoError(t, err)
	done := res.(Done)
	assert.Equal(t, []error{warning}, done.Warnings)
}

func TestWorkItemProcedureOutputs(t *testing.T) {
	proc := &expr.StoredProcedure{
		Name: "pg.lookup",
		Params: []*expr.SPParameter{
			{Name: "id", Direction: metadata.In, DataType: metadata.TypeInteger, Value: expr.Lit(ir.Int(1))},
			{Name: "total", Direction: metadata.Out, DataType: metadata.TypeDecimal},
			{Name: "status", Direction: metadata.Return, DataType: metadata.TypeInteger},
		},
		ResultSet: []metadata.DataType{metadata.TypeString},
	}

	t.Run("result rows then outputs", func(t *testing.T) {
		f := &testutil.FakeFactory{
			Script:  []connector.Fetch{connector.Row{ir.String("a")}},
			Outputs: []ir.Value{ir.Decimal("9.50")},
		}
		m := startManager(t, f)
		w, err := m.Register(Request{ID: reqID(1), Command: proc})
		require.NoError(t, err)
		require.NoError(t, w.Execute(context.Background()))
		assert.Equal(t, ShapeCall, w.Shape())

		res, err := w.More(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Done{Rows: []connector.Row{
			{ir.String("a"), ir.Null{}, ir.Null{}},
			{ir.Null{}, ir.Decimal("9.50"), ir.Null{}},
		}}, res)
	})

	t.Run("too many outputs", func(t *testing.T) {
		f := &testutil.FakeFactory{Outputs: []ir.Value{ir.Int(1), ir.Int(2), ir.Int(3)}}
		m := startManager(t, f)
		w, err := m.Register(Request{ID: reqID(1), Command: proc})
		require.NoError(t, err)
		require.NoError(t, w.Execute(context.Background()))

		_, err = w.More(context.Background())
		require.Error(t, err)
		assert.True(t, IsExecutionError(err))
	})
}

func TestWorkItemModifyReturnsCounts(t *testing.T) {
	f := &testutil.FakeFactory{Counts: []int64{3}}
	m := startManager(t, f)
	ins := &expr.Insert{
		Group:   expr.Group("pg.t"),
		Columns: []*expr.Column{expr.Col("pg.t", "id", metadata.TypeInteger)},
		Values:  []expr.Expr{expr.Lit(ir.Int(1))},
	}
	w, err := m.Register(Request{ID: reqID(1), Command: ins})
	require.NoError(t, err)
	require.NoError(t, w.Execute(context.Background()))
	assert.Equal(t, ShapeModify, w.Shape())

	res, err := w.More(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Done{Rows: []connector.Row{{ir.Int(3)}}}, res)
}

func TestWorkItemProtocolOrder(t *testing.T) {
	f := &testutil.FakeFactory{}
	m := startManager(t, f)
	w, err := m.Register(Request{ID: reqID(1), Command: oneColumnQuery()})
	require.NoError(t, err)

	_, err = w.More(context.Background())
	require.Error(t, err)
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ErrCodeInvalidState, ee.Code)

	require.NoError(t, w.Execute(context.Background()))
	err = w.Execute(context.Background())
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ErrCodeInvalidState, ee.Code)
}

func TestWorkItemExecuteFailure(t *testing.T) {
	cause := errors.New("relation does not exist")
	f := &testutil.FakeFactory{ExecuteErr: cause}
	m := startManager(t, f)
	w, err := m.Register(Request{ID: reqID(1), Command: oneColumnQuery()})
	require.NoError(t, err)

	err = w.Execute(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, ErrCodeConnector, ee.Code)
	assert.Equal(t, "fake", ee.Connector)
	assert.Equal(t, reqID(1), ee.RequestID)

	w.Close()
	require.Len(t, f.Connections(), 1)
	assert.Equal(t, 1, f.Connections()[0].Closes())
}

func TestWorkItemConnectionlessSource(t *testing.T) {
	f := &testutil.FakeFactory{NoSource: true, Script: rowsOf(1)}
	m := startManager(t, f)
	w := executeQuery(t, m, Request{ID: reqID(1)})
	w.Close()
	assert.Empty(t, f.Connections())
}

type wrappedConn struct {
	inner  connector.Connection
	closed int
}

func (c *wrappedConn) Close() error                 { c.closed++; return nil }
func (c *wrappedConn) Unwrap() connector.Connection { return c.inner }

type externalConnections struct{ conns []*wrappedConn }

func (e *externalConnections) Connection(context.Context) (connector.Connection, error) {
	c := &wrappedConn{inner: &testutil.FakeConnection{}}
	e.conns = append(e.conns, c)
	return c, nil
}

func TestWorkItemExternalConnectionFactory(t *testing.T) {
	ext := &externalConnections{}
	f := &testutil.FakeFactory{NoSource: true, Script: rowsOf(1)}
	m := startManager(t, f, WithConnectionFactory(ext))
	w := executeQuery(t, m, Request{ID: reqID(1)})
	w.Close()

	require.Len(t, ext.conns, 1)
	assert.Equal(t, 1, ext.conns[0].closed)
	assert.Empty(t, f.Connections())
}

func TestWorkItemCancel(t *testing.T) {
	f := &testutil.FakeFactory{Block: true}
	m := startManager(t, f)
	w, err := m.Register(Request{ID: reqID(1), Command: oneColumnQuery()})
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- w.Execute(context.Background()) }()
	require.Eventually(t, func() bool { return len(f.Executions()) == 1 }, time.Second, time.Millisecond)

	w.Cancel()
	w.Cancel()

	select {
	case err := <-errc:
		require.Error(t, err)
		assert.True(t, IsCancelledError(err))
	case <-time.After(2 * time.Second):
		t.Fatal("execute did not return after cancel")
	}
	assert.Equal(t, Cancelled, w.State())
	assert.GreaterOrEqual(t, f.Executions()[0].Cancels(), 1)

	_, err = w.More(context.Background())
	assert.True(t, IsCancelledError(err))

	w.Close()
	assert.Equal(t, 1, f.Executions()[0].Closes())
	assert.Equal(t, 1, f.Connections()[0].Closes())
}

func TestWorkItemCancelBeforeExecute(t *testing.T) {
	f := &testutil.FakeFactory{}
	m := startManager(t, f)
	w, err := m.Register(Request{ID: reqID(1), Command: oneColumnQuery()})
	require.NoError(t, err)

	w.Cancel()
	err = w.Execute(context.Background())
	assert.True(t, IsCancelledError(err))
	assert.Empty(t, f.Executions())
	w.Close()
}

func TestWorkItemCloseIsIdempotent(t *testing.T) {
	f := &testutil.FakeFactory{Script: rowsOf(1)}
	m := startManager(t, f)
	w := executeQuery(t, m, Request{ID: reqID(1)})
	require.Equal(t, 1, m.Live())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Close()
		}()
	}
	wg.Wait()
	w.Close()

	assert.Equal(t, 0, m.Live())
	assert.Equal(t, 1, f.Executions()[0].Closes())
	assert.Equal(t, 1, f.Connections()[0].Closes())

	_, err := w.More(context.Background())
	assert.Error(t, err)
}

// gatedConnections blocks Connection until release is closed.
type gatedConnections struct {
	entered chan struct{}
	release chan struct{}
	conn    *wrappedConn
}

func (g *gatedConnections) Connection(context.Context) (connector.Connection, error) {
	close(g.entered)
	<-g.release
	return g.conn, nil
}

func TestWorkItemCloseDuringAcquire(t *testing.T) {
	gate := &gatedConnections{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		conn:    &wrappedConn{inner: &testutil.FakeConnection{}},
	}
	f := &testutil.FakeFactory{NoSource: true, Script: rowsOf(1)}
	m := startManager(t, f, WithConnectionFactory(gate))
	w, err := m.Register(Request{ID: reqID(1), Command: oneColumnQuery()})
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- w.Execute(context.Background()) }()
	<-gate.entered
	w.Close()
	close(gate.release)

	err = <-errc
	require.Error(t, err)
	assert.True(t, IsInvalidStateError(err))
	assert.Equal(t, 1, gate.conn.closed)
	assert.Empty(t, f.Executions())
	assert.Equal(t, Closed, w.State())
	assert.Equal(t, 0, m.Live())

	w.Close()
	assert.Equal(t, 1, gate.conn.closed)
}

// closingFactory runs onCreate before handing out each execution.
type closingFactory struct {
	*testutil.FakeFactory
	onCreate func()
}

func (f *closingFactory) CreateResultSetExecution(ctx context.Context, q language.QueryExpression, ec *connector.ExecutionContext, conn connector.Connection) (connector.ResultSetExecution, error) {
	f.onCreate()
	return f.FakeFactory.CreateResultSetExecution(ctx, q, ec, conn)
}

func TestWorkItemCloseDuringCreate(t *testing.T) {
	fake := &testutil.FakeFactory{Script: rowsOf(1)}
	f := &closingFactory{FakeFactory: fake}
	m := NewManager("fake", f)
	require.NoError(t, m.Start(context.Background()))
	w, err := m.Register(Request{ID: reqID(1), Command: oneColumnQuery()})
	require.NoError(t, err)
	f.onCreate = w.Close

	err = w.Execute(context.Background())
	require.Error(t, err)
	assert.True(t, IsInvalidStateError(err))
	require.Len(t, fake.Executions(), 1)
	assert.Equal(t, 1, fake.Executions()[0].Closes())
	require.Len(t, fake.Connections(), 1)
	assert.Equal(t, 1, fake.Connections()[0].Closes())
}

func TestWorkItemReusableExecutions(t *testing.T) {
	t.Run("parked and reset", func(t *testing.T) {
		pool := NewExecutionPool()
		f := &testutil.FakeFactory{Reusable: true, Script: rowsOf(1)}
		m := startManager(t, f)

		w := executeQuery(t, m, Request{ID: reqID(1), Pool: pool})
		_, err := w.More(context.Background())
		require.NoError(t, err)
		w.Close()
		assert.Equal(t, 1, pool.Len())

		w = executeQuery(t, m, Request{ID: reqID(2), Pool: pool})
		assert.Equal(t, 0, pool.Len())
		res, err := w.More(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Done{Rows: []connector.Row{{ir.Int(1)}}}, res)
		w.Close()

		reusables := f.Reusables()
		require.Len(t, reusables, 1)
		assert.Equal(t, 1, reusables[0].Resets())
		assert.Equal(t, 0, reusables[0].Disposes())

		require.NoError(t, pool.Close())
		assert.Equal(t, 1, reusables[0].Disposes())
	})

	t.Run("disposed without pool", func(t *testing.T) {
		f := &testutil.FakeFactory{Reusable: true}
		m := startManager(t, f)
		w := executeQuery(t, m, Request{ID: reqID(1)})
		w.Close()
		assert.Equal(t, 1, f.Reusables()[0].Disposes())
	})

	t.Run("disposed after cancel", func(t *testing.T) {
		pool := NewExecutionPool()
		f := &testutil.FakeFactory{Reusable: true}
		m := startManager(t, f)
		w := executeQuery(t, m, Request{ID: reqID(1), Pool: pool})
		w.Cancel()
		w.Close()
		assert.Equal(t, 0, pool.Len())
		assert.Equal(t, 1, f.Reusables()[0].Disposes())
	})
}

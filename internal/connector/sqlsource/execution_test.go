package sqlsource

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fedq/internal/connector"
	"github.com/roach88/fedq/internal/ir"
	"github.com/roach88/fedq/internal/language"
	"github.com/roach88/fedq/internal/metadata"
)

func mockFactory(t *testing.T) (*Factory, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f, err := New(Config{Name: "pg", Driver: "postgres", DB: db})
	require.NoError(t, err)
	require.NoError(t, f.Start(context.Background()))
	return f, mock
}

func drain(t *testing.T, e connector.ResultSetExecution) []connector.Row {
	t.Helper()
	var rows []connector.Row
	for {
		f, err := e.Next(context.Background())
		require.NoError(t, err)
		switch v := f.(type) {
		case connector.Row:
			rows = append(rows, v)
		case connector.End:
			return rows
		default:
			t.Fatalf("unexpected fetch %T", f)
		}
	}
}

func TestQueryExecutionWithMock(t *testing.T) {
	f, mock := mockFactory(t)
	ctx := context.Background()

	q := selectOf(ordTotal, ordTbl)
	q.Where = &language.Comparison{Operator: language.EQ, Left: ordCust, Right: bound(ir.Int(3), metadata.TypeInteger)}

	mock.ExpectQuery(`SELECT "orders"."total" FROM "orders" WHERE "orders"."cust" = $1`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow([]byte("12.50")).AddRow(nil))

	conn, err := f.Connection(ctx, nil)
	require.NoError(t, err)
	defer conn.Close()

	e, err := f.CreateResultSetExecution(ctx, q, &connector.ExecutionContext{}, conn)
	require.NoError(t, err)
	require.NoError(t, e.Execute(ctx))
	rows := drain(t, e)
	require.NoError(t, e.Close())

	assert.Equal(t, []connector.Row{{ir.Decimal("12.50")}, {ir.Null{}}}, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryExecutionError(t *testing.T) {
	f, mock := mockFactory(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT "orders"."cust" FROM "orders"`).WillReturnError(errors.New("relation does not exist"))

	conn, err := f.Connection(ctx, nil)
	require.NoError(t, err)
	defer conn.Close()

	e, err := f.CreateResultSetExecution(ctx, selectOf(ordCust, ordTbl), nil, conn)
	require.NoError(t, err)
	err = e.Execute(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relation does not exist")

	_, err = e.Next(ctx)
	require.Error(t, err)
}

func TestQueryExecutionCancel(t *testing.T) {
	f, mock := mockFactory(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT "orders"."cust" FROM "orders"`).
		WillDelayFor(2 * time.Second).
		WillReturnRows(sqlmock.NewRows([]string{"cust"}).AddRow(int64(1)))

	conn, err := f.Connection(ctx, nil)
	require.NoError(t, err)
	defer conn.Close()

	e, err := f.CreateResultSetExecution(ctx, selectOf(ordCust, ordTbl), nil, conn)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = e.Cancel()
	}()
	start := time.Now()
	require.Error(t, e.Execute(ctx))
	assert.Less(t, time.Since(start), time.Second)
	require.NoError(t, e.Close())
}

func TestUpdateExecutionBatchedInTransaction(t *testing.T) {
	f, mock := mockFactory(t)
	ctx := context.Background()

	ins := &language.Insert{
		Table:   ordTbl,
		Columns: []*language.ColumnReference{ordCust},
		Values: []language.Expression{&language.Literal{
			Value: ir.Array{ir.Int(1), ir.Int(2)}, Type: metadata.TypeInteger, Multi: true, BindEligible: true,
		}},
	}
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "orders" ("cust") VALUES ($1)`).WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO "orders" ("cust") VALUES ($1)`).WithArgs(int64(2)).WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	conn, err := f.Connection(ctx, nil)
	require.NoError(t, err)
	defer conn.Close()

	e, err := f.CreateUpdateExecution(ctx, ins, &connector.ExecutionContext{Transactional: true}, conn)
	require.NoError(t, err)
	_, err = e.UpdateCounts()
	require.Error(t, err)

	require.NoError(t, e.Execute(ctx))
	counts, err := e.UpdateCounts()
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1}, counts)
	require.NoError(t, e.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateExecutionRollsBack(t *testing.T) {
	f, mock := mockFactory(t)
	ctx := context.Background()

	del := &language.Delete{Table: ordTbl, Where: &language.Comparison{
		Operator: language.EQ, Left: ordCust,
		Right: &language.Literal{Value: ir.Array{ir.Int(1), ir.Int(2)}, Type: metadata.TypeInteger, Multi: true, BindEligible: true},
	}}
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "orders" WHERE "orders"."cust" = $1`).WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(`DELETE FROM "orders" WHERE "orders"."cust" = $1`).WithArgs(int64(2)).WillReturnError(errors.New("locked"))
	mock.ExpectRollback()

	conn, err := f.Connection(ctx, nil)
	require.NoError(t, err)
	defer conn.Close()

	e, err := f.CreateUpdateExecution(ctx, del, &connector.ExecutionContext{Transactional: true}, conn)
	require.NoError(t, err)
	err = e.Execute(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement 2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcedureOutputsWithMock(t *testing.T) {
	f, mock := mockFactory(t)
	ctx := context.Background()

	call := &language.Call{Name: "pg.lookup", NameInSource: "lookup", Arguments: []*language.Argument{
		{Name: "id", Direction: language.DirIn, Type: metadata.TypeInteger, Value: bound(ir.Int(7), metadata.TypeInteger)},
		{Name: "total", Direction: language.DirOut, Type: metadata.TypeInteger},
	}}
	mock.ExpectQuery(`SELECT * FROM "lookup"($1)`).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow([]byte("42")))

	conn, err := f.Connection(ctx, nil)
	require.NoError(t, err)
	defer conn.Close()

	e, err := f.CreateProcedureExecution(ctx, call, nil, conn)
	require.NoError(t, err)
	_, err = e.OutputValues()
	require.Error(t, err)

	require.NoError(t, e.Execute(ctx))
	assert.Empty(t, drain(t, e))
	out, err := e.OutputValues()
	require.NoError(t, err)
	assert.Equal(t, []ir.Value{ir.Int(42)}, out)
	require.NoError(t, e.Close())
}

func TestSQLiteEndToEnd(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "orders.db")

	setup, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = setup.Exec(`CREATE TABLE orders (cust INTEGER, total NUMERIC);
		INSERT INTO orders VALUES (1, 10), (1, 2.5), (2, 7), (3, NULL);`)
	require.NoError(t, err)
	require.NoError(t, setup.Close())

	f, err := New(Config{Name: "lite", Driver: "sqlite3", DSN: path, Reusable: true})
	require.NoError(t, err)
	require.NoError(t, f.Start(ctx))
	defer f.Stop()

	conn, err := f.Connection(ctx, nil)
	require.NoError(t, err)
	defer conn.Close()

	q := &language.Select{
		Columns: []*language.DerivedColumn{
			{Expr: ordCust},
			{Alias: "n", Expr: &language.AggregateFunction{Name: "COUNT", Type: metadata.TypeInteger}},
		},
		From:    []language.TableReference{ordTbl},
		Where:   &language.IsNull{Expr: ordTotal, Negated: true},
		GroupBy: []language.Expression{ordCust},
		OrderBy: &language.OrderBy{Items: []*language.SortSpecification{{Expr: ordCust}}},
	}
	e, err := f.CreateResultSetExecution(ctx, q, nil, conn)
	require.NoError(t, err)
	require.NoError(t, e.Execute(ctx))
	assert.Equal(t, []connector.Row{
		{ir.Int(1), ir.Int(2)},
		{ir.Int(2), ir.Int(1)},
	}, drain(t, e))
	require.NoError(t, e.Close())

	reusable, ok := e.(connector.ReusableExecution)
	require.True(t, ok)
	again := selectOf(ordCust, ordTbl)
	again.Where = &language.Comparison{Operator: language.EQ, Left: ordCust, Right: bound(ir.Int(3), metadata.TypeInteger)}
	require.NoError(t, reusable.Reset(ctx, again, nil, conn))
	require.NoError(t, reusable.Execute(ctx))
	assert.Equal(t, []connector.Row{{ir.Int(3)}}, drain(t, e))
	require.NoError(t, reusable.Dispose())

	upd := &language.Update{
		Table:   ordTbl,
		Changes: []*language.SetClause{{Column: ordTotal, Value: bound(ir.Int(0), metadata.TypeInteger)}},
		Where:   &language.IsNull{Expr: ordTotal},
	}
	u, err := f.CreateUpdateExecution(ctx, upd, nil, conn)
	require.NoError(t, err)
	require.NoError(t, u.Execute(ctx))
	counts, err := u.UpdateCounts()
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, counts)

	_, err = f.CreateProcedureExecution(ctx, &language.Call{NameInSource: "lookup"}, nil, conn)
	require.Error(t, err)
}

func TestToValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		typ  metadata.DataType
		want ir.Value
	}{
		{"nil", nil, metadata.TypeString, ir.Null{}},
		{"bytes as integer", []byte("17"), metadata.TypeLong, ir.Int(17)},
		{"int as boolean", int64(1), metadata.TypeBoolean, ir.Bool(true)},
		{"int as decimal", int64(4), metadata.TypeDecimal, ir.Decimal("4")},
		{"float", 2.5, metadata.TypeDouble, ir.Decimal("2.5")},
		{"date", time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), metadata.TypeDate, ir.String("2026-03-04")},
		{"text", "x", metadata.TypeString, ir.String("x")},
		{"unparseable int stays text", "n/a", metadata.TypeInteger, ir.String("n/a")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toValue(tt.in, tt.typ)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

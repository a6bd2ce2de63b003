package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fedq/internal/expr"
	"github.com/roach88/fedq/internal/ir"
	"github.com/roach88/fedq/internal/language"
	"github.com/roach88/fedq/internal/metadata"
)

func testCatalog(t *testing.T) *metadata.Catalog {
	t.Helper()
	cat := metadata.NewCatalog()
	require.NoError(t, cat.AddModel(&metadata.Model{Name: "pg", Connector: "orders"}))
	require.NoError(t, cat.AddGroup(&metadata.Group{
		Name:         "pg.customer",
		Model:        "pg",
		NameInSource: "customers",
		Elements: []*metadata.Element{
			{Name: "id", Type: metadata.TypeInteger},
			{Name: "name", Type: metadata.TypeString, NameInSource: "full_name"},
		},
	}))
	require.NoError(t, cat.AddGroup(&metadata.Group{
		Name:  "pg.orders",
		Model: "pg",
		Elements: []*metadata.Element{
			{Name: "cust", Type: metadata.TypeInteger},
			{Name: "total", Type: metadata.TypeDecimal},
		},
	}))
	require.NoError(t, cat.AddProcedure(&metadata.Procedure{Name: "pg.lookup", Model: "pg", NameInSource: "sp_lookup"}))
	return cat
}

var (
	custID   = expr.Col("pg.customer", "id", metadata.TypeInteger)
	custName = expr.Col("pg.customer", "name", metadata.TypeString)
	ordCust  = expr.Col("pg.orders", "cust", metadata.TypeInteger)
)

func TestTranslateQueryNames(t *testing.T) {
	tr := New(testCatalog(t))
	q := &expr.Query{
		Select: expr.Select{Distinct: true, Items: []expr.SelectItem{{Expr: custName, Alias: "n"}}},
		From: []expr.FromClause{&expr.JoinPredicate{
			Type:     expr.LeftOuterJoin,
			Left:     &expr.UnaryFrom{Group: expr.Group("pg.customer")},
			Right:    &expr.UnaryFrom{Group: expr.Aliased("o", "pg.orders")},
			Criteria: []expr.Criteria{expr.Eq(custID, &expr.Column{Group: expr.Aliased("o", "pg.orders"), Name: "cust", DataType: metadata.TypeInteger})},
		}},
		Where: expr.Eq(custID, expr.Lit(ir.Int(3))),
	}

	sel, ok := tr.Translate(q).(*language.Select)
	require.True(t, ok)
	assert.True(t, sel.Distinct)
	require.Len(t, sel.Columns, 1)
	assert.Equal(t, "n", sel.Columns[0].Alias)

	col := sel.Columns[0].Expr.(*language.ColumnReference)
	assert.Equal(t, "customers", col.Qualifier)
	assert.Equal(t, "name", col.Name)
	assert.Equal(t, "full_name", col.NameInSource)

	require.Len(t, sel.From, 1)
	join := sel.From[0].(*language.Join)
	assert.Equal(t, language.LeftOuterJoin, join.Type)
	left := join.Left.(*language.NamedTable)
	assert.Equal(t, "customers", left.NameInSource)
	assert.Empty(t, left.Correlation)
	right := join.Right.(*language.NamedTable)
	assert.Equal(t, "orders", right.NameInSource)
	assert.Equal(t, "o", right.Correlation)

	on := join.Condition.(*language.Comparison)
	assert.Equal(t, "o", on.Right.(*language.ColumnReference).Qualifier)

	where := sel.Where.(*language.Comparison)
	lit := where.Right.(*language.Literal)
	assert.Equal(t, ir.Int(3), lit.Value)
	assert.True(t, lit.BindEligible)
}

func TestTranslateLimitDefaults(t *testing.T) {
	tr := New(nil)
	base := func(l *expr.Limit) *expr.Query {
		return &expr.Query{
			Select: expr.Select{Items: []expr.SelectItem{{Expr: custID}}},
			From:   []expr.FromClause{&expr.UnaryFrom{Group: expr.Group("pg.customer")}},
			Limit:  l,
		}
	}

	sel := tr.Translate(base(nil)).(*language.Select)
	assert.Nil(t, sel.Limit)

	sel = tr.Translate(base(&expr.Limit{Offset: 5, RowLimit: expr.NoLimit})).(*language.Select)
	assert.Equal(t, &language.Limit{Offset: 5, RowLimit: language.Unbounded}, sel.Limit)

	sel = tr.Translate(base(&expr.Limit{RowLimit: 10})).(*language.Select)
	assert.Equal(t, &language.Limit{Offset: 0, RowLimit: 10}, sel.Limit)

	// without metadata the short group name qualifies columns
	assert.Equal(t, "customer", sel.Columns[0].Expr.(*language.ColumnReference).Qualifier)
	assert.Equal(t, "customer", sel.From[0].(*language.NamedTable).NameInSource)
}

func TestTranslateSetQuery(t *testing.T) {
	tr := New(testCatalog(t))
	one := func(c *expr.Column) *expr.Query {
		return &expr.Query{
			Select: expr.Select{Items: []expr.SelectItem{{Expr: c}}},
			From:   []expr.FromClause{&expr.UnaryFrom{Group: expr.Group(c.Group.Definition)}},
		}
	}
	sq := &expr.SetQuery{
		Op:      expr.Except,
		All:     true,
		Left:    one(custID),
		Right:   one(ordCust),
		OrderBy: &expr.OrderBy{Items: []expr.OrderByItem{{Expr: custID, Descending: true, Nulls: expr.NullsLast}}},
	}
	out := tr.Translate(sq).(*language.SetQuery)
	assert.Equal(t, language.Except, out.Operation)
	assert.True(t, out.All)
	require.Len(t, out.OrderBy.Items, 1)
	assert.Equal(t, language.Desc, out.OrderBy.Items[0].Ordering)
	assert.Equal(t, language.NullsLast, out.OrderBy.Items[0].Nulls)
	assert.Equal(t, []metadata.DataType{metadata.TypeInteger}, language.ColumnTypes(out))
}

func TestTranslateCall(t *testing.T) {
	tr := New(testCatalog(t))
	sp := &expr.StoredProcedure{
		Name: "pg.lookup",
		Params: []*expr.SPParameter{
			{Name: "ret", Direction: metadata.Return, DataType: metadata.TypeInteger},
			{Name: "ids", Direction: metadata.In, DataType: metadata.TypeInteger,
				Value: &expr.Constant{Value: ir.Array{ir.Int(1), ir.Int(2)}, DataType: metadata.TypeInteger, Multi: true, Bindable: true}},
			{Name: "io", Direction: metadata.InOut, DataType: metadata.TypeString, Value: expr.Lit(ir.String("x"))},
			{Name: "out", Direction: metadata.Out, DataType: metadata.TypeString},
			{Name: "rows", Direction: metadata.ResultSet, DataType: metadata.TypeObject},
		},
		ResultSet: []metadata.DataType{metadata.TypeString},
	}
	call := tr.Translate(sp).(*language.Call)
	assert.Equal(t, "sp_lookup", call.NameInSource)
	require.Len(t, call.Arguments, 4)
	assert.Equal(t, []language.Direction{language.DirReturn, language.DirIn, language.DirInOut, language.DirOut},
		[]language.Direction{call.Arguments[0].Direction, call.Arguments[1].Direction, call.Arguments[2].Direction, call.Arguments[3].Direction})
	assert.Nil(t, call.Arguments[0].Value)
	multi := call.Arguments[1].Value.(*language.Literal)
	assert.True(t, multi.Multi)
	assert.True(t, multi.BindEligible)
	assert.Equal(t, 3, call.OutputCount())
	assert.Equal(t, []metadata.DataType{metadata.TypeString}, call.ResultSetTypes)
}

func TestFunctionNames(t *testing.T) {
	tr := New(nil, WithFunctionName("concat", "||"), WithFunctionName("must", "mapped"))
	fn := func(name string, d *expr.FunctionDescriptor) string {
		e := tr.expr(&expr.Function{Name: name, Args: []expr.Expr{custName}, Descriptor: d, DataType: metadata.TypeString})
		return e.(*language.Function).Name
	}

	assert.Equal(t, "src_upper", fn("upper", &expr.FunctionDescriptor{Name: "upper", Pushdown: expr.MustPushdown, NameInSource: "src_upper"}))
	assert.Equal(t, "mapped", fn("must", &expr.FunctionDescriptor{Name: "must", Pushdown: expr.MustPushdown}))
	assert.Equal(t, "||", fn("CONCAT", nil))
	assert.Equal(t, "lcase", fn("lower", &expr.FunctionDescriptor{Name: "lcase"}))
	assert.Equal(t, "soundex", fn("pg.soundex", nil))

	div := tr.expr(&expr.Function{Name: "/", Args: []expr.Expr{custID, custID}, DataType: metadata.TypeDouble})
	assert.True(t, div.(*language.Function).IsInfix())
}

func TestTranslateCriteria(t *testing.T) {
	tr := New(testCatalog(t))
	sub := &expr.Subquery{Command: &expr.Query{
		Select: expr.Select{Items: []expr.SelectItem{{Expr: ordCust}}},
		From:   []expr.FromClause{&expr.UnaryFrom{Group: expr.Group("pg.orders")}},
	}}

	c := tr.criteria(&expr.Compound{Op: expr.Or, Criteria: []expr.Criteria{
		&expr.Not{Criteria: &expr.IsNull{Expr: custName}},
		&expr.Like{Expr: custName, Pattern: expr.Lit(ir.String("a%")), Escape: '\\'},
		&expr.DependentSet{Expr: custID, Source: "dep1"},
		&expr.SubqueryIn{Expr: custID, Subquery: sub, Negated: true},
		&expr.SubqueryCompare{Expr: custID, Op: expr.GT, Quantifier: expr.All, Subquery: sub},
		&expr.Exists{Subquery: sub},
	}})

	or := c.(*language.AndOr)
	assert.Equal(t, language.Or, or.Operator)
	require.Len(t, or.Conditions, 6)
	assert.IsType(t, &language.IsNull{}, or.Conditions[0].(*language.Not).Condition)
	assert.Equal(t, '\\', or.Conditions[1].(*language.Like).Escape)

	dep := or.Conditions[2].(*language.In)
	require.Len(t, dep.Values, 1)
	assert.Equal(t, &language.Parameter{Name: "dep1", Type: metadata.TypeInteger}, dep.Values[0])

	assert.True(t, or.Conditions[3].(*language.SubqueryIn).Negated)
	qc := or.Conditions[4].(*language.SubqueryComparison)
	assert.Equal(t, language.GT, qc.Operator)
	assert.Equal(t, language.All, qc.Quantifier)
	assert.IsType(t, &language.Select{}, or.Conditions[5].(*language.Exists).Query)
}

func TestTranslateModifications(t *testing.T) {
	tr := New(testCatalog(t))

	upd := tr.Translate(&expr.Update{
		Group:   expr.Group("pg.customer"),
		Changes: []expr.SetClause{{Column: custName, Value: expr.Lit(ir.String("z"))}},
		Where:   expr.Eq(custID, expr.Lit(ir.Int(1))),
	}).(*language.Update)
	assert.Equal(t, "customers", upd.Table.NameInSource)
	assert.Equal(t, "full_name", upd.Changes[0].Column.NameInSource)
	assert.NotNil(t, upd.Where)

	del := tr.Translate(&expr.Delete{Group: expr.Group("pg.orders")}).(*language.Delete)
	assert.Nil(t, del.Where)

	ins := tr.Translate(&expr.Insert{
		Group:   expr.Group("pg.orders"),
		Columns: []*expr.Column{ordCust},
		Values:  []expr.Expr{expr.Lit(ir.Int(4))},
	}).(*language.Insert)
	assert.Equal(t, "cust", ins.Columns[0].NameInSource)
	assert.Len(t, ins.Values, 1)
}

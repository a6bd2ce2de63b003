package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fedq/internal/ir"
	"github.com/roach88/fedq/internal/metadata"
)

func TestFormatQuery(t *testing.T) {
	a := Col("pg.orders", "amount", metadata.TypeDecimal)
	c := &Column{Group: Aliased("c", "pg.customer"), Name: "id", DataType: metadata.TypeInteger}
	o := Col("pg.orders", "customer_id", metadata.TypeInteger)

	q := &Query{
		Select: Select{Distinct: true, Items: []SelectItem{
			{Expr: c},
			{Expr: &Aggregate{Func: Sum, Arg: a, DataType: metadata.TypeDecimal}, Alias: "total"},
		}},
		From: []FromClause{&JoinPredicate{
			Type:     InnerJoin,
			Left:     &UnaryFrom{Group: Aliased("c", "pg.customer")},
			Right:    &UnaryFrom{Group: Group("pg.orders")},
			Criteria: []Criteria{Eq(c, o)},
		}},
		Where:   &Compound{Op: Or, Criteria: []Criteria{Eq(c, Lit(ir.Int(1))), &IsNull{Expr: a}}},
		GroupBy: []Expr{c},
		OrderBy: &OrderBy{Items: []OrderByItem{{Expr: c, Descending: true, Nulls: NullsLast}}},
		Limit:   &Limit{Offset: 5, RowLimit: 10},
	}

	assert.Equal(t,
		"SELECT DISTINCT c.id, SUM(pg.orders.amount) AS total "+
			"FROM pg.customer AS c INNER JOIN pg.orders ON c.id = pg.orders.customer_id "+
			"WHERE c.id = 1 OR pg.orders.amount IS NULL GROUP BY c.id "+
			"ORDER BY c.id DESC NULLS LAST LIMIT 5, 10",
		String(q))
}

func TestFormatSetQueryAndProcedure(t *testing.T) {
	q1 := &Query{Select: Select{Items: []SelectItem{{Expr: Col("m.a", "x", metadata.TypeString)}}}, From: []FromClause{&UnaryFrom{Group: Group("m.a")}}}
	q2 := &Query{Select: Select{Items: []SelectItem{{Expr: Col("m.b", "x", metadata.TypeString)}}}, From: []FromClause{&UnaryFrom{Group: Group("m.b")}}}
	sq := &SetQuery{Op: Union, All: true, Left: q1, Right: q2, Limit: &Limit{RowLimit: NoLimit, Offset: 2}}
	assert.Equal(t, "SELECT m.a.x FROM m.a UNION ALL SELECT m.b.x FROM m.b OFFSET 2 ROWS", String(sq))

	sp := &StoredProcedure{Name: "m.p", Params: []*SPParameter{
		{Name: "a", Direction: metadata.In, Value: Lit(ir.String("x"))},
		{Name: "r", Direction: metadata.Return},
		{Name: "b", Direction: metadata.InOut},
	}}
	assert.Equal(t, "EXEC m.p('x', ?)", String(sp))
}

func TestFormatCriteria(t *testing.T) {
	x := Col("g", "x", metadata.TypeString)
	sub := &Subquery{Command: &Query{Select: Select{Items: []SelectItem{{Expr: x}}}, From: []FromClause{&UnaryFrom{Group: Group("g")}}}}
	tests := []struct {
		name string
		crit Criteria
		want string
	}{
		{"not in", &In{Expr: x, Values: []Expr{Lit(ir.String("a")), Lit(ir.String("b"))}, Negated: true}, "g.x NOT IN ('a', 'b')"},
		{"like escape", &Like{Expr: x, Pattern: Lit(ir.String("a%")), Escape: '\\'}, `g.x LIKE 'a%' ESCAPE '\'`},
		{"not", &Not{Criteria: &IsNull{Expr: x, Negated: true}}, "NOT (g.x IS NOT NULL)"},
		{"dependent", &DependentSet{Expr: x, Source: "dep1"}, "g.x IN <dep1>"},
		{"exists", &Exists{Subquery: sub, Negated: true}, "NOT EXISTS (SELECT g.x FROM g)"},
		{"quantified", &SubqueryCompare{Expr: x, Op: GT, Quantifier: All, Subquery: sub}, "g.x > ALL (SELECT g.x FROM g)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, String(tt.crit))
		})
	}
}

func TestConjunctsAndCombine(t *testing.T) {
	a := Eq(Col("g", "a", metadata.TypeInteger), Lit(ir.Int(1)))
	b := Eq(Col("g", "b", metadata.TypeInteger), Lit(ir.Int(2)))
	c := &IsNull{Expr: Col("g", "c", metadata.TypeInteger)}

	nested := &Compound{Op: And, Criteria: []Criteria{a, &Compound{Op: And, Criteria: []Criteria{b, c}}}}
	assert.Equal(t, []Criteria{a, b, c}, Conjuncts(nested))
	assert.Nil(t, Conjuncts(nil))

	assert.Nil(t, Combine())
	assert.Same(t, a, Combine(nil, a))
	combined := Combine(a, Combine(b, c))
	require.IsType(t, &Compound{}, combined)
	assert.Len(t, combined.(*Compound).Criteria, 3)

	or := &Compound{Op: Or, Criteria: []Criteria{a, b}}
	assert.Equal(t, []Criteria{or}, Conjuncts(or))
}

func TestCollectors(t *testing.T) {
	a := Col("g1", "a", metadata.TypeInteger)
	b := Col("g2", "b", metadata.TypeInteger)
	agg := &Aggregate{Func: Max, Arg: &Function{Name: "abs", Args: []Expr{a}}}
	sub := &Subquery{}
	crit := &Compound{Op: And, Criteria: []Criteria{
		Eq(agg, b),
		&Exists{Subquery: sub},
	}}

	assert.Equal(t, []*Column{a, b}, Columns(crit))
	assert.Equal(t, []*Aggregate{agg}, Aggregates(crit))
	assert.Len(t, Functions(crit), 1)
	assert.Equal(t, []*Subquery{sub}, Subqueries(crit))
	assert.Equal(t, []string{"g1", "g2"}, GroupNames(crit))
}

func TestRewrite(t *testing.T) {
	a := Col("g", "a", metadata.TypeInteger)
	sum := &Aggregate{Func: Sum, Arg: a}
	f := &Function{Name: "abs", Args: []Expr{sum}}
	replacement := Col("stage", "s0", metadata.TypeLong)

	fn := func(e Expr) Expr {
		if String(e) == String(sum) {
			return replacement
		}
		return nil
	}
	out := RewriteExpr(f, fn)
	assert.Equal(t, "abs(stage.s0)", String(out))
	// original untouched
	assert.Equal(t, "abs(SUM(g.a))", String(f))

	same := RewriteExpr(a, fn)
	assert.Same(t, a, same)

	crit := RewriteCriteria(&Compare{Op: GT, Left: sum, Right: Lit(ir.Int(3))}, fn)
	assert.Equal(t, "stage.s0 > 3", String(crit))
}

func TestConversion(t *testing.T) {
	blob := Col("g", "doc", metadata.TypeBlob)
	from, to, ok := Convert(blob, metadata.TypeClob).Conversion()
	require.True(t, ok)
	assert.Equal(t, metadata.TypeBlob, from)
	assert.Equal(t, metadata.TypeClob, to)

	_, _, ok = (&Function{Name: "upper", Args: []Expr{blob}}).Conversion()
	assert.False(t, ok)
}

func TestSelectItemName(t *testing.T) {
	assert.Equal(t, "a", SelectItem{Expr: Col("g", "a", "")}.Name(0))
	assert.Equal(t, "x", SelectItem{Expr: Lit(ir.Int(1)), Alias: "x"}.Name(0))
	assert.Equal(t, "expr3", SelectItem{Expr: Lit(ir.Int(1))}.Name(2))
}

func TestGroupRef(t *testing.T) {
	assert.False(t, Group("m.t").IsAliased())
	assert.True(t, Aliased("t1", "m.t").IsAliased())
	assert.Equal(t, "m.t.c", (&Column{Group: Aliased("t1", "m.t"), Name: "c"}).ElementID())
}

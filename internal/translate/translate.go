// Package translate converts planner commands into the connector language.
//
// Translation is total: every expr variant has a language counterpart, and
// names missing from metadata fall back to their short form rather than
// failing, so a connector always receives a command.
package translate

import (
	"strings"

	"github.com/roach88/fedq/internal/expr"
	"github.com/roach88/fedq/internal/language"
	"github.com/roach88/fedq/internal/metadata"
)

// Option configures a Translator.
type Option func(*Translator)

// WithFunctionName maps a function to the name a source knows it by.
func WithFunctionName(name, nameInSource string) Option {
	return func(t *Translator) {
		t.functions[strings.ToLower(name)] = nameInSource
	}
}

// Translator converts expr commands for one connector. It holds no per-call
// state and is safe for concurrent use after construction.
type Translator struct {
	md        metadata.Metadata
	functions map[string]string
}

// New returns a translator resolving names through md. md may be nil.
func New(md metadata.Metadata, opts ...Option) *Translator {
	t := &Translator{md: md, functions: make(map[string]string)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Translate converts cmd.
func (t *Translator) Translate(cmd expr.Command) language.Command {
	switch v := cmd.(type) {
	case *expr.Query:
		return t.query(v)
	case *expr.SetQuery:
		return t.setQuery(v)
	case *expr.StoredProcedure:
		return t.call(v)
	case *expr.Insert:
		cols := make([]*language.ColumnReference, len(v.Columns))
		for i, c := range v.Columns {
			cols[i] = t.column(c)
		}
		return &language.Insert{Table: t.table(v.Group), Columns: cols, Values: t.exprs(v.Values)}
	case *expr.Update:
		changes := make([]*language.SetClause, len(v.Changes))
		for i, c := range v.Changes {
			changes[i] = &language.SetClause{Column: t.column(c.Column), Value: t.expr(c.Value)}
		}
		return &language.Update{Table: t.table(v.Group), Changes: changes, Where: t.criteria(v.Where)}
	case *expr.Delete:
		return &language.Delete{Table: t.table(v.Group), Where: t.criteria(v.Where)}
	}
	return nil
}

// Query converts a query command.
func (t *Translator) Query(q expr.QueryCommand) language.QueryExpression {
	switch v := q.(type) {
	case *expr.Query:
		return t.query(v)
	case *expr.SetQuery:
		return t.setQuery(v)
	}
	return nil
}

func (t *Translator) query(q *expr.Query) *language.Select {
	out := &language.Select{
		Distinct: q.Select.Distinct,
		Columns:  make([]*language.DerivedColumn, len(q.Select.Items)),
		Where:    t.criteria(q.Where),
		GroupBy:  t.exprs(q.GroupBy),
		Having:   t.criteria(q.Having),
		OrderBy:  t.orderBy(q.OrderBy),
		Limit:    limit(q.Limit),
	}
	for i, item := range q.Select.Items {
		out.Columns[i] = &language.DerivedColumn{Alias: item.Alias, Expr: t.expr(item.Expr)}
	}
	for _, f := range q.From {
		out.From = append(out.From, t.from(f))
	}
	return out
}

func (t *Translator) setQuery(q *expr.SetQuery) *language.SetQuery {
	return &language.SetQuery{
		Operation: language.SetOperation(q.Op),
		All:       q.All,
		Left:      t.Query(q.Left),
		Right:     t.Query(q.Right),
		OrderBy:   t.orderBy(q.OrderBy),
		Limit:     limit(q.Limit),
	}
}

func (t *Translator) call(sp *expr.StoredProcedure) *language.Call {
	out := &language.Call{Name: sp.Name, NameInSource: shortName(sp.Name), ResultSetTypes: sp.ResultSet}
	if t.md != nil {
		if proc, err := t.md.Procedure(sp.Name); err == nil && proc.NameInSource != "" {
			out.NameInSource = proc.NameInSource
		}
	}
	for _, p := range sp.Params {
		dir, ok := direction(p.Direction)
		if !ok {
			continue
		}
		arg := &language.Argument{Name: p.Name, NameInSource: p.Name, Direction: dir, Type: p.DataType}
		if p.Value != nil && p.Direction.IsInput() {
			arg.Value = t.expr(p.Value)
		}
		out.Arguments = append(out.Arguments, arg)
	}
	return out
}

func direction(d metadata.Direction) (language.Direction, bool) {
	switch d {
	case metadata.In:
		return language.DirIn, true
	case metadata.Out:
		return language.DirOut, true
	case metadata.InOut:
		return language.DirInOut, true
	case metadata.Return:
		return language.DirReturn, true
	}
	return 0, false
}

func (t *Translator) from(f expr.FromClause) language.TableReference {
	switch v := f.(type) {
	case *expr.UnaryFrom:
		return t.table(v.Group)
	case *expr.JoinPredicate:
		return &language.Join{
			Type:      language.JoinType(v.Type),
			Left:      t.from(v.Left),
			Right:     t.from(v.Right),
			Condition: t.criteria(expr.Combine(v.Criteria...)),
		}
	case *expr.SubqueryFrom:
		return &language.DerivedTable{Query: t.Query(v.Command), Correlation: v.Alias}
	}
	return nil
}

func (t *Translator) table(g expr.GroupRef) *language.NamedTable {
	out := &language.NamedTable{Name: g.Definition, NameInSource: t.groupSourceName(g.Definition)}
	if g.IsAliased() {
		out.Correlation = g.Name
	}
	return out
}

func (t *Translator) groupSourceName(definition string) string {
	if t.md != nil {
		if grp, err := t.md.Group(definition); err == nil {
			return grp.SourceName()
		}
	}
	return shortName(definition)
}

func (t *Translator) column(c *expr.Column) *language.ColumnReference {
	out := &language.ColumnReference{Name: c.Name, NameInSource: c.Name, Type: c.DataType}
	switch {
	case c.Group.IsAliased():
		out.Qualifier = c.Group.Name
	case t.md != nil:
		if grp, err := t.md.Group(c.Group.Definition); err == nil {
			out.Qualifier = grp.SourceName()
		} else {
			// inline view
			out.Qualifier = c.Group.Name
		}
	default:
		out.Qualifier = shortName(c.Group.Name)
	}
	if t.md != nil {
		if el, err := t.md.Element(c.ElementID()); err == nil {
			out.NameInSource = el.SourceName()
		}
	}
	return out
}

func (t *Translator) exprs(in []expr.Expr) []language.Expression {
	if len(in) == 0 {
		return nil
	}
	out := make([]language.Expression, len(in))
	for i, e := range in {
		out[i] = t.expr(e)
	}
	return out
}

func (t *Translator) expr(e expr.Expr) language.Expression {
	switch v := e.(type) {
	case nil:
		return nil
	case *expr.Column:
		return t.column(v)
	case *expr.Constant:
		return &language.Literal{Value: v.Value, Type: v.DataType, Multi: v.Multi, BindEligible: v.Bindable}
	case *expr.Function:
		return &language.Function{Name: t.functionName(v), Args: t.exprs(v.Args), Type: v.DataType}
	case *expr.Aggregate:
		return &language.AggregateFunction{
			Name:     v.Func.String(),
			Distinct: v.Distinct,
			Arg:      t.expr(v.Arg),
			Type:     v.DataType,
		}
	case *expr.ScalarSubquery:
		return &language.ScalarSubquery{Query: t.Query(v.Subquery.Command), Type: v.DataType}
	case *expr.Reference:
		return &language.Parameter{Name: v.Name, Type: v.DataType}
	}
	return nil
}

// functionName picks the name sent to the source: a mandatory push-down
// function's declared name, then the translator's mapping, then the resolved
// canonical name, then the unqualified invocation name.
func (t *Translator) functionName(f *expr.Function) string {
	if f.IsInfix() {
		return f.Name
	}
	d := f.Descriptor
	if d != nil && d.Pushdown == expr.MustPushdown && d.NameInSource != "" {
		return d.NameInSource
	}
	if n, ok := t.functions[strings.ToLower(f.Name)]; ok {
		return n
	}
	if d != nil && d.Name != "" {
		return d.Name
	}
	return shortName(f.Name)
}

func (t *Translator) criteria(c expr.Criteria) language.Condition {
	switch v := c.(type) {
	case nil:
		return nil
	case *expr.Compare:
		return &language.Comparison{Operator: language.Operator(v.Op), Left: t.expr(v.Left), Right: t.expr(v.Right)}
	case *expr.Compound:
		out := &language.AndOr{Operator: language.LogicalOperator(v.Op)}
		for _, sub := range v.Criteria {
			out.Conditions = append(out.Conditions, t.criteria(sub))
		}
		return out
	case *expr.Not:
		return &language.Not{Condition: t.criteria(v.Criteria)}
	case *expr.IsNull:
		return &language.IsNull{Expr: t.expr(v.Expr), Negated: v.Negated}
	case *expr.In:
		return &language.In{Expr: t.expr(v.Expr), Values: t.exprs(v.Values), Negated: v.Negated}
	case *expr.Like:
		return &language.Like{Expr: t.expr(v.Expr), Pattern: t.expr(v.Pattern), Escape: v.Escape, Negated: v.Negated}
	case *expr.DependentSet:
		return &language.In{
			Expr:   t.expr(v.Expr),
			Values: []language.Expression{&language.Parameter{Name: v.Source, Type: v.Expr.Type()}},
		}
	case *expr.Exists:
		return &language.Exists{Query: t.Query(v.Subquery.Command), Negated: v.Negated}
	case *expr.SubqueryIn:
		return &language.SubqueryIn{Expr: t.expr(v.Expr), Query: t.Query(v.Subquery.Command), Negated: v.Negated}
	case *expr.SubqueryCompare:
		return &language.SubqueryComparison{
			Expr:       t.expr(v.Expr),
			Operator:   language.Operator(v.Op),
			Quantifier: language.Quantifier(v.Quantifier),
			Query:      t.Query(v.Subquery.Command),
		}
	}
	return nil
}

func (t *Translator) orderBy(ob *expr.OrderBy) *language.OrderBy {
	if ob == nil {
		return nil
	}
	out := &language.OrderBy{Items: make([]*language.SortSpecification, len(ob.Items))}
	for i, item := range ob.Items {
		spec := &language.SortSpecification{Expr: t.expr(item.Expr), Nulls: language.NullOrdering(item.Nulls)}
		if item.Descending {
			spec.Ordering = language.Desc
		}
		out.Items[i] = spec
	}
	return out
}

func limit(l *expr.Limit) *language.Limit {
	if l == nil {
		return nil
	}
	out := &language.Limit{Offset: l.Offset, RowLimit: l.RowLimit}
	if out.Offset < 0 {
		out.Offset = 0
	}
	if out.RowLimit == expr.NoLimit {
		out.RowLimit = language.Unbounded
	}
	return out
}

func shortName(qualified string) string {
	if i := strings.LastIndexByte(qualified, '.'); i >= 0 {
		return qualified[i+1:]
	}
	return qualified
}

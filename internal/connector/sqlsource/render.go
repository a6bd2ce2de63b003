package sqlsource

import (
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/roach88/fedq/internal/ir"
	"github.com/roach88/fedq/internal/language"
)

// ErrUnboundParameter is returned for commands still holding execution-time
// parameters, which this connector cannot supply.
var ErrUnboundParameter = errors.New("unbound parameter")

// Statement is a rendered command.
type Statement struct {
	SQL  string
	Args []any
}

// Render renders cmd for the dialect. Multi-valued literals take their
// value at index batch; pass -1 when the command has none.
func Render(d *Dialect, cmd language.Command, batch int) (Statement, error) {
	r := &renderer{d: d, batch: batch}
	var (
		query string
		args  []any
		err   error
	)
	switch v := cmd.(type) {
	case *language.Select:
		query, args, err = r.selectSQL(v)
	case *language.SetQuery:
		query, args, err = r.setQuerySQL(v)
	case *language.Call:
		query, args, err = r.callSQL(v)
	case *language.Insert:
		query, args, err = r.insertSQL(v)
	case *language.Update:
		query, args, err = r.updateSQL(v)
	case *language.Delete:
		query, args, err = r.deleteSQL(v)
	default:
		err = fmt.Errorf("unsupported command %T", cmd)
	}
	if err != nil {
		return Statement{}, err
	}
	query, err = d.placeholder.ReplacePlaceholders(query)
	if err != nil {
		return Statement{}, fmt.Errorf("replace placeholders: %w", err)
	}
	return Statement{SQL: query, Args: args}, nil
}

// BatchSize returns the number of executions a command with multi-valued
// literals expands to, or -1 when it has none.
func BatchSize(cmd language.Command) int {
	size := -1
	visit := func(e language.Expression) {
		if l, ok := e.(*language.Literal); ok && l.Multi {
			if arr, ok := l.Value.(ir.Array); ok && (size < 0 || len(arr) < size) {
				size = len(arr)
			}
		}
	}
	switch v := cmd.(type) {
	case *language.Insert:
		for _, e := range v.Values {
			visit(e)
		}
	case *language.Update:
		for _, c := range v.Changes {
			visit(c.Value)
		}
		walkCondition(v.Where, visit)
	case *language.Delete:
		walkCondition(v.Where, visit)
	case *language.Call:
		for _, a := range v.Arguments {
			visit(a.Value)
		}
	}
	return size
}

func walkCondition(c language.Condition, fn func(language.Expression)) {
	switch v := c.(type) {
	case *language.Comparison:
		fn(v.Left)
		fn(v.Right)
	case *language.AndOr:
		for _, sub := range v.Conditions {
			walkCondition(sub, fn)
		}
	case *language.Not:
		walkCondition(v.Condition, fn)
	case *language.IsNull:
		fn(v.Expr)
	case *language.In:
		fn(v.Expr)
		for _, e := range v.Values {
			fn(e)
		}
	case *language.Like:
		fn(v.Expr)
		fn(v.Pattern)
	}
}

// renderer builds statements with question-mark placeholders; Render
// converts them to the dialect's format once at the end.
type renderer struct {
	d     *Dialect
	batch int
	// inline renders every literal as text, for clauses squirrel takes as
	// plain strings.
	inline  bool
	derived int
}

func (r *renderer) inlined() *renderer {
	c := *r
	c.inline = true
	return &c
}

type writer struct {
	r    *renderer
	sb   strings.Builder
	args []any
	err  error
}

func (r *renderer) writer() *writer { return &writer{r: r} }

func (w *writer) str(s string) { w.sb.WriteString(s) }

func (w *writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *writer) sqlizer() sq.Sqlizer { return sq.Expr(w.sb.String(), w.args...) }

func (w *writer) nested(query string, args []any, err error) {
	if err != nil {
		w.fail(err)
		return
	}
	w.str(query)
	w.args = append(w.args, args...)
}

func (w *writer) exprs(es []language.Expression) {
	for i, e := range es {
		if i > 0 {
			w.str(", ")
		}
		w.expr(e)
	}
}

func (w *writer) expr(e language.Expression) {
	switch v := e.(type) {
	case *language.ColumnReference:
		if v.Qualifier != "" {
			w.str(quoteName(v.Qualifier) + ".")
		}
		w.str(quoteIdent(v.NameInSource))
	case *language.Literal:
		w.literal(v)
	case *language.Function:
		w.function(v)
	case *language.AggregateFunction:
		w.str(strings.ToUpper(v.Name) + "(")
		if v.Arg == nil {
			w.str("*")
		} else {
			if v.Distinct {
				w.str("DISTINCT ")
			}
			w.expr(v.Arg)
		}
		w.str(")")
	case *language.ScalarSubquery:
		w.str("(")
		w.nested(w.r.querySQL(v.Query))
		w.str(")")
	case *language.Parameter:
		w.fail(fmt.Errorf("%w: %s", ErrUnboundParameter, v.Name))
	default:
		w.fail(fmt.Errorf("unsupported expression %T", e))
	}
}

func (w *writer) literal(l *language.Literal) {
	v := l.Value
	if l.Multi {
		arr, ok := v.(ir.Array)
		if !ok || w.r.batch < 0 || w.r.batch >= len(arr) {
			w.fail(errors.New("multi-valued literal outside a batch"))
			return
		}
		v = arr[w.r.batch]
	}
	if ir.IsNull(v) {
		w.str("NULL")
		return
	}
	if l.BindEligible && !w.r.inline {
		w.str("?")
		w.args = append(w.args, ir.ToGo(v))
		return
	}
	text := ir.Format(v)
	if w.r.d.placeholder == sq.Dollar {
		// Dollar replacement reads "??" as a literal question mark.
		text = strings.ReplaceAll(text, "?", "??")
	}
	w.str(text)
}

func (w *writer) function(f *language.Function) {
	if f.IsInfix() {
		w.str("(")
		w.expr(f.Args[0])
		w.str(" " + f.Name + " ")
		w.expr(f.Args[1])
		w.str(")")
		return
	}
	name := strings.ToLower(f.Name)
	if (name == "convert" || name == "cast") && len(f.Args) == 2 {
		typeName, err := w.r.d.typeName(f.Type)
		if err != nil {
			w.fail(err)
			return
		}
		w.str("CAST(")
		w.expr(f.Args[0])
		w.str(" AS " + typeName + ")")
		return
	}
	w.str(f.Name + "(")
	w.exprs(f.Args)
	w.str(")")
}

func (w *writer) cond(c language.Condition) {
	switch v := c.(type) {
	case *language.Comparison:
		w.expr(v.Left)
		w.str(" " + v.Operator.String() + " ")
		w.expr(v.Right)
	case *language.AndOr:
		w.str("(")
		for i, sub := range v.Conditions {
			if i > 0 {
				w.str(" " + v.Operator.String() + " ")
			}
			w.cond(sub)
		}
		w.str(")")
	case *language.Not:
		w.str("NOT (")
		w.cond(v.Condition)
		w.str(")")
	case *language.IsNull:
		w.expr(v.Expr)
		if v.Negated {
			w.str(" IS NOT NULL")
		} else {
			w.str(" IS NULL")
		}
	case *language.In:
		w.expr(v.Expr)
		w.str(negated(v.Negated) + " IN (")
		w.exprs(v.Values)
		w.str(")")
	case *language.Like:
		w.expr(v.Expr)
		w.str(negated(v.Negated) + " LIKE ")
		w.expr(v.Pattern)
		if v.Escape != 0 {
			w.str(" ESCAPE " + ir.Format(ir.String(string(v.Escape))))
		}
	case *language.Exists:
		if v.Negated {
			w.str("NOT ")
		}
		w.str("EXISTS (")
		w.nested(w.r.querySQL(v.Query))
		w.str(")")
	case *language.SubqueryIn:
		w.expr(v.Expr)
		w.str(negated(v.Negated) + " IN (")
		w.nested(w.r.querySQL(v.Query))
		w.str(")")
	case *language.SubqueryComparison:
		w.expr(v.Expr)
		quant := "SOME"
		if v.Quantifier == language.All {
			quant = "ALL"
		}
		w.str(" " + v.Operator.String() + " " + quant + " (")
		w.nested(w.r.querySQL(v.Query))
		w.str(")")
	default:
		w.fail(fmt.Errorf("unsupported condition %T", c))
	}
}

func negated(n bool) string {
	if n {
		return " NOT"
	}
	return ""
}

func (w *writer) table(t language.TableReference) {
	switch v := t.(type) {
	case *language.NamedTable:
		w.str(quoteName(v.NameInSource))
		if v.Correlation != "" {
			w.str(" AS " + quoteIdent(v.Correlation))
		}
	case *language.Join:
		w.table(v.Left)
		w.str(" " + v.Type.String() + " ")
		w.table(v.Right)
		if v.Type != language.CrossJoin {
			w.str(" ON ")
			if v.Condition == nil {
				w.str("1 = 1")
			} else {
				w.cond(v.Condition)
			}
		}
	case *language.DerivedTable:
		w.str("(")
		w.nested(w.r.querySQL(v.Query))
		w.str(") AS " + quoteIdent(v.Correlation))
	default:
		w.fail(fmt.Errorf("unsupported table reference %T", t))
	}
}

func (w *writer) sortSpec(s *language.SortSpecification) {
	w.expr(s.Expr)
	if s.Ordering == language.Desc {
		w.str(" DESC")
	}
	switch s.Nulls {
	case language.NullsFirst:
		w.str(" NULLS FIRST")
	case language.NullsLast:
		w.str(" NULLS LAST")
	}
}

func (r *renderer) querySQL(q language.QueryExpression) (string, []any, error) {
	switch v := q.(type) {
	case *language.Select:
		return r.selectSQL(v)
	case *language.SetQuery:
		return r.setQuerySQL(v)
	}
	return "", nil, fmt.Errorf("unsupported query %T", q)
}

func (r *renderer) selectSQL(s *language.Select) (string, []any, error) {
	b := sq.Select()
	if s.Distinct {
		b = b.Distinct()
	}
	for _, c := range s.Columns {
		w := r.writer()
		w.expr(c.Expr)
		if c.Alias != "" {
			w.str(" AS " + quoteIdent(c.Alias))
		}
		if w.err != nil {
			return "", nil, w.err
		}
		b = b.Column(w.sqlizer())
	}
	if len(s.From) > 0 {
		w := r.inlined().writer()
		for i, t := range s.From {
			if i > 0 {
				w.str(", ")
			}
			w.table(t)
		}
		if w.err != nil {
			return "", nil, w.err
		}
		b = b.From(w.sb.String())
	}
	if s.Where != nil {
		w := r.writer()
		w.cond(s.Where)
		if w.err != nil {
			return "", nil, w.err
		}
		b = b.Where(w.sqlizer())
	}
	if len(s.GroupBy) > 0 {
		groups := make([]string, len(s.GroupBy))
		for i, e := range s.GroupBy {
			w := r.inlined().writer()
			w.expr(e)
			if w.err != nil {
				return "", nil, w.err
			}
			groups[i] = w.sb.String()
		}
		b = b.GroupBy(groups...)
	}
	if s.Having != nil {
		w := r.writer()
		w.cond(s.Having)
		if w.err != nil {
			return "", nil, w.err
		}
		b = b.Having(w.sqlizer())
	}
	if s.OrderBy != nil {
		for _, item := range s.OrderBy.Items {
			w := r.writer()
			w.sortSpec(item)
			if w.err != nil {
				return "", nil, w.err
			}
			b = b.OrderByClause(w.sqlizer())
		}
	}
	if l := s.Limit; l != nil {
		if l.RowLimit != language.Unbounded {
			b = b.Limit(uint64(l.RowLimit))
		}
		if l.Offset > 0 {
			if l.RowLimit == language.Unbounded && r.d.offsetNeedsLimit {
				b = b.Suffix(fmt.Sprintf("LIMIT -1 OFFSET %d", l.Offset))
			} else {
				b = b.Offset(uint64(l.Offset))
			}
		}
	}
	return b.ToSql()
}

// setMember renders one side of a set operation. Members that carry their
// own ordering, limit, or set operation become derived tables, since not
// every dialect accepts them parenthesized.
func (r *renderer) setMember(q language.QueryExpression) (string, []any, error) {
	if s, ok := q.(*language.Select); ok && s.OrderBy == nil && s.Limit == nil {
		return r.selectSQL(s)
	}
	query, args, err := r.querySQL(q)
	if err != nil {
		return "", nil, err
	}
	r.derived++
	return fmt.Sprintf("SELECT * FROM (%s) AS %s", query, quoteIdent(fmt.Sprintf("u%d", r.derived))), args, nil
}

func (r *renderer) setQuerySQL(s *language.SetQuery) (string, []any, error) {
	left, largs, err := r.setMember(s.Left)
	if err != nil {
		return "", nil, err
	}
	right, rargs, err := r.setMember(s.Right)
	if err != nil {
		return "", nil, err
	}
	var sb strings.Builder
	sb.WriteString(left + " " + s.Operation.String())
	if s.All {
		sb.WriteString(" ALL")
	}
	sb.WriteString(" " + right)
	args := append(largs, rargs...)

	if s.OrderBy != nil {
		outputs := firstSelect(s).Columns
		sb.WriteString(" ORDER BY ")
		for i, item := range s.OrderBy.Items {
			if i > 0 {
				sb.WriteString(", ")
			}
			pos := outputPosition(outputs, item.Expr)
			if pos < 0 {
				return "", nil, fmt.Errorf("set query sort key is not an output column")
			}
			fmt.Fprintf(&sb, "%d", pos+1)
			if item.Ordering == language.Desc {
				sb.WriteString(" DESC")
			}
			switch item.Nulls {
			case language.NullsFirst:
				sb.WriteString(" NULLS FIRST")
			case language.NullsLast:
				sb.WriteString(" NULLS LAST")
			}
		}
	}
	if l := s.Limit; l != nil {
		switch {
		case l.RowLimit != language.Unbounded:
			fmt.Fprintf(&sb, " LIMIT %d", l.RowLimit)
		case l.Offset > 0 && r.d.offsetNeedsLimit:
			sb.WriteString(" LIMIT -1")
		}
		if l.Offset > 0 {
			fmt.Fprintf(&sb, " OFFSET %d", l.Offset)
		}
	}
	return sb.String(), args, nil
}

func firstSelect(q language.QueryExpression) *language.Select {
	for {
		switch v := q.(type) {
		case *language.Select:
			return v
		case *language.SetQuery:
			q = v.Left
		default:
			return &language.Select{}
		}
	}
}

// outputPosition finds a sort key among the output columns, by alias or by
// column reference.
func outputPosition(cols []*language.DerivedColumn, e language.Expression) int {
	ref, ok := e.(*language.ColumnReference)
	if !ok {
		return -1
	}
	for i, c := range cols {
		if c.Alias != "" && strings.EqualFold(c.Alias, ref.Name) {
			return i
		}
		if cr, ok := c.Expr.(*language.ColumnReference); ok &&
			strings.EqualFold(cr.NameInSource, ref.NameInSource) &&
			(ref.Qualifier == "" || strings.EqualFold(cr.Qualifier, ref.Qualifier)) {
			return i
		}
	}
	return -1
}

func (r *renderer) callSQL(c *language.Call) (string, []any, error) {
	if !r.d.procedures {
		return "", nil, fmt.Errorf("%s: stored procedures are not supported", r.d.Driver)
	}
	w := r.writer()
	w.str("SELECT * FROM " + quoteName(c.NameInSource) + "(")
	n := 0
	for _, a := range c.Arguments {
		if a.Direction != language.DirIn && a.Direction != language.DirInOut {
			continue
		}
		if n > 0 {
			w.str(", ")
		}
		n++
		if a.Value == nil {
			w.str("NULL")
			continue
		}
		w.expr(a.Value)
	}
	w.str(")")
	return w.sb.String(), w.args, w.err
}

func (r *renderer) insertSQL(ins *language.Insert) (string, []any, error) {
	cols := make([]string, len(ins.Columns))
	for i, c := range ins.Columns {
		cols[i] = quoteIdent(c.NameInSource)
	}
	values := make([]any, len(ins.Values))
	for i, e := range ins.Values {
		w := r.writer()
		w.expr(e)
		if w.err != nil {
			return "", nil, w.err
		}
		values[i] = w.sqlizer()
	}
	return sq.Insert(quoteName(ins.Table.NameInSource)).Columns(cols...).Values(values...).ToSql()
}

func (r *renderer) updateSQL(u *language.Update) (string, []any, error) {
	b := sq.Update(quoteName(u.Table.NameInSource))
	for _, c := range u.Changes {
		w := r.writer()
		w.expr(c.Value)
		if w.err != nil {
			return "", nil, w.err
		}
		b = b.Set(quoteIdent(c.Column.NameInSource), w.sqlizer())
	}
	if u.Where != nil {
		w := r.writer()
		w.cond(u.Where)
		if w.err != nil {
			return "", nil, w.err
		}
		b = b.Where(w.sqlizer())
	}
	return b.ToSql()
}

func (r *renderer) deleteSQL(d *language.Delete) (string, []any, error) {
	b := sq.Delete(quoteName(d.Table.NameInSource))
	if d.Where != nil {
		w := r.writer()
		w.cond(d.Where)
		if w.err != nil {
			return "", nil, w.err
		}
		b = b.Where(w.sqlizer())
	}
	return b.ToSql()
}

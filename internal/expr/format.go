package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/fedq/internal/ir"
)

// String renders an Expr, a Criteria, a *Subquery, or a Command as SQL-like
// text. The output is stable and is used for plan snapshots and as a
// structural key when matching expressions.
func String(n any) string {
	var p printer
	p.node(n)
	return p.String()
}

func (c *Column) String() string         { return String(c) }
func (c *Constant) String() string       { return String(c) }
func (f *Function) String() string       { return String(f) }
func (a *Aggregate) String() string      { return String(a) }
func (s *ScalarSubquery) String() string { return String(s) }
func (r *Reference) String() string      { return String(r) }

type printer struct {
	strings.Builder
}

func (p *printer) list(items []Expr) {
	for i, e := range items {
		if i > 0 {
			p.WriteString(", ")
		}
		p.node(e)
	}
}

func (p *printer) node(n any) {
	switch v := n.(type) {
	case nil:
		p.WriteString("<nil>")
	case *Column:
		p.WriteString(v.Group.Name)
		p.WriteByte('.')
		p.WriteString(v.Name)
	case *Constant:
		p.WriteString(ir.Format(v.Value))
	case *Function:
		if v.IsInfix() {
			p.WriteByte('(')
			p.node(v.Args[0])
			p.WriteString(" " + v.Name + " ")
			p.node(v.Args[1])
			p.WriteByte(')')
			return
		}
		p.WriteString(v.Name)
		p.WriteByte('(')
		p.list(v.Args)
		p.WriteByte(')')
	case *Aggregate:
		p.WriteString(v.Func.String())
		p.WriteByte('(')
		if v.Distinct {
			p.WriteString("DISTINCT ")
		}
		if v.Arg == nil {
			p.WriteByte('*')
		} else {
			p.node(v.Arg)
		}
		p.WriteByte(')')
	case *ScalarSubquery:
		p.node(v.Subquery)
	case *Reference:
		p.WriteByte(':')
		p.WriteString(v.Name)
	case *Subquery:
		p.WriteByte('(')
		p.node(v.Command)
		p.WriteByte(')')

	case *Compare:
		p.node(v.Left)
		p.WriteString(" " + v.Op.String() + " ")
		p.node(v.Right)
	case *Compound:
		for i, c := range v.Criteria {
			if i > 0 {
				p.WriteString(" " + v.Op.String() + " ")
			}
			if _, nested := c.(*Compound); nested {
				p.WriteByte('(')
				p.node(c)
				p.WriteByte(')')
			} else {
				p.node(c)
			}
		}
	case *Not:
		p.WriteString("NOT (")
		p.node(v.Criteria)
		p.WriteByte(')')
	case *IsNull:
		p.node(v.Expr)
		if v.Negated {
			p.WriteString(" IS NOT NULL")
		} else {
			p.WriteString(" IS NULL")
		}
	case *In:
		p.node(v.Expr)
		p.WriteString(negated(v.Negated) + " IN (")
		p.list(v.Values)
		p.WriteByte(')')
	case *Like:
		p.node(v.Expr)
		p.WriteString(negated(v.Negated) + " LIKE ")
		p.node(v.Pattern)
		if v.Escape != 0 {
			p.WriteString(" ESCAPE " + ir.Format(ir.String(string(v.Escape))))
		}
	case *DependentSet:
		p.node(v.Expr)
		p.WriteString(" IN <" + v.Source + ">")
	case *Exists:
		if v.Negated {
			p.WriteString("NOT ")
		}
		p.WriteString("EXISTS ")
		p.node(v.Subquery)
	case *SubqueryIn:
		p.node(v.Expr)
		p.WriteString(negated(v.Negated) + " IN ")
		p.node(v.Subquery)
	case *SubqueryCompare:
		p.node(v.Expr)
		p.WriteString(" " + v.Op.String())
		if v.Quantifier == All {
			p.WriteString(" ALL ")
		} else {
			p.WriteString(" SOME ")
		}
		p.node(v.Subquery)

	case *Query:
		p.query(v)
	case *SetQuery:
		p.setQuery(v)
	case *StoredProcedure:
		p.WriteString("EXEC " + v.Name + "(")
		first := true
		for _, sp := range v.Params {
			if !sp.Direction.IsInput() {
				continue
			}
			if !first {
				p.WriteString(", ")
			}
			first = false
			if sp.Value == nil {
				p.WriteByte('?')
			} else {
				p.node(sp.Value)
			}
		}
		p.WriteByte(')')
	case *Insert:
		p.WriteString("INSERT INTO " + groupText(v.Group) + " (")
		for i, c := range v.Columns {
			if i > 0 {
				p.WriteString(", ")
			}
			p.WriteString(c.Name)
		}
		p.WriteString(") VALUES (")
		p.list(v.Values)
		p.WriteByte(')')
	case *Update:
		p.WriteString("UPDATE " + groupText(v.Group) + " SET ")
		for i, sc := range v.Changes {
			if i > 0 {
				p.WriteString(", ")
			}
			p.WriteString(sc.Column.Name + " = ")
			p.node(sc.Value)
		}
		p.where(v.Where)
	case *Delete:
		p.WriteString("DELETE FROM " + groupText(v.Group))
		p.where(v.Where)
	default:
		panic(fmt.Sprintf("expr: cannot format %T", n))
	}
}

func negated(b bool) string {
	if b {
		return " NOT"
	}
	return ""
}

func groupText(g GroupRef) string {
	if g.IsAliased() {
		return g.Definition + " AS " + g.Name
	}
	return g.Definition
}

func (p *printer) where(c Criteria) {
	if c != nil {
		p.WriteString(" WHERE ")
		p.node(c)
	}
}

func (p *printer) query(q *Query) {
	p.WriteString("SELECT ")
	if q.Select.Distinct {
		p.WriteString("DISTINCT ")
	}
	for i, item := range q.Select.Items {
		if i > 0 {
			p.WriteString(", ")
		}
		p.node(item.Expr)
		if item.Alias != "" {
			p.WriteString(" AS " + item.Alias)
		}
	}
	if len(q.From) > 0 {
		p.WriteString(" FROM ")
		for i, f := range q.From {
			if i > 0 {
				p.WriteString(", ")
			}
			p.from(f)
		}
	}
	p.where(q.Where)
	if len(q.GroupBy) > 0 {
		p.WriteString(" GROUP BY ")
		p.list(q.GroupBy)
	}
	if q.Having != nil {
		p.WriteString(" HAVING ")
		p.node(q.Having)
	}
	p.orderBy(q.OrderBy)
	p.limit(q.Limit)
}

func (p *printer) setQuery(q *SetQuery) {
	p.branch(q.Left)
	p.WriteString(" " + q.Op.String() + " ")
	if q.All {
		p.WriteString("ALL ")
	}
	p.branch(q.Right)
	p.orderBy(q.OrderBy)
	p.limit(q.Limit)
}

func (p *printer) branch(q QueryCommand) {
	if _, nested := q.(*SetQuery); nested {
		p.WriteByte('(')
		p.node(q)
		p.WriteByte(')')
		return
	}
	p.node(q)
}

func (p *printer) from(f FromClause) {
	switch v := f.(type) {
	case *UnaryFrom:
		p.WriteString(groupText(v.Group))
	case *JoinPredicate:
		p.from(v.Left)
		p.WriteString(" " + v.Type.String() + " ")
		if _, nested := v.Right.(*JoinPredicate); nested {
			p.WriteByte('(')
			p.from(v.Right)
			p.WriteByte(')')
		} else {
			p.from(v.Right)
		}
		if len(v.Criteria) > 0 {
			p.WriteString(" ON ")
			p.node(Combine(v.Criteria...))
		}
	case *SubqueryFrom:
		p.WriteByte('(')
		p.node(v.Command)
		p.WriteString(") AS " + v.Alias)
	default:
		panic(fmt.Sprintf("expr: cannot format from clause %T", f))
	}
}

func (p *printer) orderBy(o *OrderBy) {
	if o == nil || len(o.Items) == 0 {
		return
	}
	p.WriteString(" ORDER BY ")
	for i, item := range o.Items {
		if i > 0 {
			p.WriteString(", ")
		}
		p.node(item.Expr)
		if item.Descending {
			p.WriteString(" DESC")
		}
		switch item.Nulls {
		case NullsFirst:
			p.WriteString(" NULLS FIRST")
		case NullsLast:
			p.WriteString(" NULLS LAST")
		}
	}
}

func (p *printer) limit(l *Limit) {
	if l == nil {
		return
	}
	switch {
	case l.RowLimit == NoLimit:
		p.WriteString(" OFFSET " + strconv.Itoa(l.Offset) + " ROWS")
	case l.Offset > 0:
		p.WriteString(" LIMIT " + strconv.Itoa(l.Offset) + ", " + strconv.Itoa(l.RowLimit))
	default:
		p.WriteString(" LIMIT " + strconv.Itoa(l.RowLimit))
	}
}

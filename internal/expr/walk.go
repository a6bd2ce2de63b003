package expr

import (
	"fmt"
	"slices"
)

// Walk visits n and its descendants depth-first. n is an Expr, a Criteria,
// or a *Subquery. Subquery commands are not entered: visit sees the
// *Subquery itself. Returning false skips the children of the visited node.
func Walk(n any, visit func(any) bool) {
	if n == nil || !visit(n) {
		return
	}
	switch v := n.(type) {
	case *Column, *Constant, *Reference, *Subquery:
	case *Function:
		for _, a := range v.Args {
			Walk(a, visit)
		}
	case *Aggregate:
		if v.Arg != nil {
			Walk(v.Arg, visit)
		}
	case *ScalarSubquery:
		Walk(v.Subquery, visit)
	case *Compare:
		Walk(v.Left, visit)
		Walk(v.Right, visit)
	case *Compound:
		for _, c := range v.Criteria {
			Walk(c, visit)
		}
	case *Not:
		Walk(v.Criteria, visit)
	case *IsNull:
		Walk(v.Expr, visit)
	case *In:
		Walk(v.Expr, visit)
		for _, val := range v.Values {
			Walk(val, visit)
		}
	case *Like:
		Walk(v.Expr, visit)
		Walk(v.Pattern, visit)
	case *DependentSet:
		Walk(v.Expr, visit)
	case *Exists:
		Walk(v.Subquery, visit)
	case *SubqueryIn:
		Walk(v.Expr, visit)
		Walk(v.Subquery, visit)
	case *SubqueryCompare:
		Walk(v.Expr, visit)
		Walk(v.Subquery, visit)
	default:
		panic(fmt.Sprintf("expr: cannot walk %T", n))
	}
}

func collect[T any](nodes ...any) []T {
	var out []T
	for _, n := range nodes {
		Walk(n, func(x any) bool {
			if t, ok := x.(T); ok {
				out = append(out, t)
			}
			return true
		})
	}
	return out
}

// Columns returns every column referenced by the nodes.
func Columns(nodes ...any) []*Column { return collect[*Column](nodes...) }

// Aggregates returns every aggregate referenced by the nodes.
func Aggregates(nodes ...any) []*Aggregate { return collect[*Aggregate](nodes...) }

// Functions returns every scalar function referenced by the nodes.
func Functions(nodes ...any) []*Function { return collect[*Function](nodes...) }

// Subqueries returns every subquery referenced by the nodes.
func Subqueries(nodes ...any) []*Subquery { return collect[*Subquery](nodes...) }

// GroupNames returns the distinct group names referenced by columns in the
// nodes, sorted.
func GroupNames(nodes ...any) []string {
	var out []string
	for _, c := range Columns(nodes...) {
		if !slices.Contains(out, c.Group.Name) {
			out = append(out, c.Group.Name)
		}
	}
	slices.Sort(out)
	return out
}

// RewriteExpr returns e with every subexpression for which fn returns a
// non-nil replacement substituted. Replaced subtrees are not descended.
// Unchanged subtrees are shared and changed ancestors are copied.
func RewriteExpr(e Expr, fn func(Expr) Expr) Expr {
	if e == nil {
		return nil
	}
	if r := fn(e); r != nil {
		return r
	}
	switch v := e.(type) {
	case *Function:
		args, changed := rewriteExprs(v.Args, fn)
		if !changed {
			return v
		}
		cp := *v
		cp.Args = args
		return &cp
	case *Aggregate:
		if v.Arg == nil {
			return v
		}
		arg := RewriteExpr(v.Arg, fn)
		if arg == v.Arg {
			return v
		}
		cp := *v
		cp.Arg = arg
		return &cp
	default:
		return e
	}
}

func rewriteExprs(in []Expr, fn func(Expr) Expr) ([]Expr, bool) {
	out := make([]Expr, len(in))
	changed := false
	for i, e := range in {
		out[i] = RewriteExpr(e, fn)
		if out[i] != e {
			changed = true
		}
	}
	return out, changed
}

// RewriteCriteria applies RewriteExpr to every expression inside c.
func RewriteCriteria(c Criteria, fn func(Expr) Expr) Criteria {
	switch v := c.(type) {
	case nil:
		return nil
	case *Compare:
		return &Compare{Op: v.Op, Left: RewriteExpr(v.Left, fn), Right: RewriteExpr(v.Right, fn)}
	case *Compound:
		out := &Compound{Op: v.Op, Criteria: make([]Criteria, len(v.Criteria))}
		for i, sub := range v.Criteria {
			out.Criteria[i] = RewriteCriteria(sub, fn)
		}
		return out
	case *Not:
		return &Not{Criteria: RewriteCriteria(v.Criteria, fn)}
	case *IsNull:
		return &IsNull{Expr: RewriteExpr(v.Expr, fn), Negated: v.Negated}
	case *In:
		vals, _ := rewriteExprs(v.Values, fn)
		return &In{Expr: RewriteExpr(v.Expr, fn), Values: vals, Negated: v.Negated}
	case *Like:
		return &Like{Expr: RewriteExpr(v.Expr, fn), Pattern: RewriteExpr(v.Pattern, fn), Escape: v.Escape, Negated: v.Negated}
	case *DependentSet:
		return &DependentSet{Expr: RewriteExpr(v.Expr, fn), Source: v.Source}
	case *Exists:
		return v
	case *SubqueryIn:
		return &SubqueryIn{Expr: RewriteExpr(v.Expr, fn), Subquery: v.Subquery, Negated: v.Negated}
	case *SubqueryCompare:
		return &SubqueryCompare{Expr: RewriteExpr(v.Expr, fn), Op: v.Op, Quantifier: v.Quantifier, Subquery: v.Subquery}
	default:
		panic(fmt.Sprintf("expr: cannot rewrite %T", c))
	}
}

package rules

import (
	"slices"
	"strings"

	"github.com/roach88/fedq/internal/expr"
	"github.com/roach88/fedq/internal/plan"
	"github.com/roach88/fedq/internal/support"
)

// pushability decides whether expressions can be evaluated by the source of
// one ACCESS fragment.
type pushability struct {
	c     *support.Checker
	model string
	// groups are the groups visible at the output of the fragment.
	groups []string
	// grouped is set when the fragment contains a GROUP, so aggregates in
	// the expressions are computed by the source.
	grouped bool
	// inJoin is set for join criteria.
	inJoin bool
}

func newPushability(p *plan.Plan, c *support.Checker, access plan.NodeID) *pushability {
	x := &pushability{
		c:      c,
		model:  p.AccessOf(access).Model,
		groups: p.Node(access).Groups,
	}
	chain, _ := p.Chain(access)
	for _, id := range chain {
		if p.Node(id).Kind == plan.KindGroup {
			x.grouped = true
		}
	}
	return x
}

// visible reports whether group is read by the fragment.
func (x *pushability) visible(group string) bool {
	return slices.ContainsFunc(x.groups, func(g string) bool { return strings.EqualFold(g, group) })
}

func (x *pushability) expr(e expr.Expr) bool {
	switch v := e.(type) {
	case *expr.Column:
		return x.visible(v.Group.Name)
	case *expr.Constant:
		return true
	case *expr.Function:
		if !x.c.SupportsScalarFunction(x.model, v) {
			return false
		}
		if x.inJoin && !x.c.SupportsJoinExpression(x.model, v) {
			return false
		}
		for _, a := range v.Args {
			if !x.expr(a) {
				return false
			}
		}
		return true
	case *expr.Aggregate:
		if !x.grouped || !x.c.SupportsAggregateFunction(x.model, v) {
			return false
		}
		return v.Arg == nil || x.expr(v.Arg)
	case *expr.ScalarSubquery:
		return x.c.SupportsScalarSubquery(x.model) && x.subquery(v.Subquery, true)
	case *expr.Reference:
		return false
	default:
		return false
	}
}

func (x *pushability) exprs(es []expr.Expr) bool {
	for _, e := range es {
		if !x.expr(e) {
			return false
		}
	}
	return true
}

func (x *pushability) criteria(cr expr.Criteria) bool {
	if cr == nil {
		return true
	}
	if !x.c.SupportsCriteria(x.model, cr) {
		return false
	}
	switch v := cr.(type) {
	case *expr.Compare:
		return x.expr(v.Left) && x.expr(v.Right)
	case *expr.Compound:
		for _, sub := range v.Criteria {
			if !x.criteria(sub) {
				return false
			}
		}
		return true
	case *expr.Not:
		return x.criteria(v.Criteria)
	case *expr.IsNull:
		return x.expr(v.Expr)
	case *expr.In:
		return x.expr(v.Expr) && x.exprs(v.Values)
	case *expr.Like:
		return x.expr(v.Expr) && x.expr(v.Pattern)
	case *expr.DependentSet:
		return x.expr(v.Expr)
	case *expr.Exists:
		return x.subquery(v.Subquery, false)
	case *expr.SubqueryIn:
		return x.expr(v.Expr) && x.subquery(v.Subquery, true)
	case *expr.SubqueryCompare:
		return x.expr(v.Expr) && x.subquery(v.Subquery, true)
	default:
		return false
	}
}

// subquery applies the eligibility test for a nested query: it was pushed
// as a unit to a source reachable through the same connector, projects a
// single column when used as a value, and projects no aggregate unless
// that was proven safe.
func (x *pushability) subquery(sq *expr.Subquery, singleColumn bool) bool {
	if sq == nil || sq.Model == "" || sq.Command == nil {
		return false
	}
	if x.inJoin && !x.c.SupportsSubqueryInOn(x.model) {
		return false
	}
	if !strings.EqualFold(sq.Model, x.model) && !x.c.IsSameConnector(x.model, sq.Model) {
		return false
	}
	if sq.Correlated && !x.c.SupportsCorrelatedSubquery(x.model) {
		return false
	}
	items := projection(sq.Command)
	if singleColumn && len(items) != 1 {
		return false
	}
	if !sq.AggregateAllowed {
		for _, item := range items {
			if len(expr.Aggregates(item.Expr)) > 0 {
				return false
			}
		}
	}
	return true
}

func projection(q expr.QueryCommand) []expr.SelectItem {
	for {
		switch v := q.(type) {
		case *expr.Query:
			return v.Select.Items
		case *expr.SetQuery:
			q = v.Left
		default:
			return nil
		}
	}
}

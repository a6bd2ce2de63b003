package rules

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/fedq/internal/capability"
	"github.com/roach88/fedq/internal/expr"
	"github.com/roach88/fedq/internal/plan"
	"github.com/roach88/fedq/internal/support"
)

// RaiseAccess moves ACCESS nodes upward past every parent operator their
// source can evaluate, until a full pass relocates nothing. It returns the
// number of relocations.
//
// Each relocation leaves one more operator below an ACCESS node and none are
// ever moved back down, so the loop terminates.
func RaiseAccess(p *plan.Plan, c *support.Checker) (int, error) {
	moves := 0
	for {
		moved := false
		for _, acc := range p.FindAll(plan.KindAccess) {
			if !p.Live(acc) {
				continue
			}
			ok, err := raiseOnce(p, c, acc)
			if err != nil {
				return moves, err
			}
			if ok {
				moved = true
				moves++
			}
		}
		if !moved {
			return moves, nil
		}
	}
}

func raiseOnce(p *plan.Plan, c *support.Checker, acc plan.NodeID) (bool, error) {
	parent := p.Parent(acc)
	if parent == plan.NoNode || p.AccessOf(acc).Command != nil {
		return false, nil
	}
	model := p.AccessOf(acc).Model
	n := p.Node(parent)
	if !canRaise(p, c, acc, n) {
		return false, nil
	}
	// Sibling ACCESS nodes of a merged JOIN or SET_OP are dropped; their
	// fragments now sit under acc.
	if n.Kind == plan.KindJoin || n.Kind == plan.KindSetOp {
		for _, sibling := range append([]plan.NodeID(nil), n.Children...) {
			if sibling != acc {
				if err := p.Splice(sibling); err != nil {
					return false, fmt.Errorf("merge access %d: %w", sibling, err)
				}
			}
		}
	}
	if err := p.Raise(acc); err != nil {
		return false, fmt.Errorf("raise access %d: %w", acc, err)
	}
	slog.Debug("raised access node",
		"access", acc,
		"model", model,
		"over", n.Kind.String(),
	)
	return true, nil
}

func canRaise(p *plan.Plan, c *support.Checker, acc plan.NodeID, n *plan.Node) bool {
	model := p.AccessOf(acc).Model
	switch pl := n.Payload.(type) {
	case *plan.Join:
		return canRaiseJoin(p, c, acc, n, pl)
	case *plan.Project:
		return canRaiseProject(p, c, acc, pl)
	case *plan.Group:
		return canRaiseGroup(p, c, acc, n, pl)
	case *plan.Sort:
		return canRaiseSort(p, c, acc, pl)
	case *plan.SetOp:
		return canRaiseSetOp(p, c, acc, n, pl)
	case *plan.Select:
		if !p.Accepts(acc, plan.KindSelect) {
			return false
		}
		return newPushability(p, c, acc).criteria(pl.Criteria)
	case *plan.Source:
		return pl.Procedure == nil &&
			len(pl.AccessPatterns) == 0 &&
			pl.MaterializeInto == "" &&
			c.SupportsInlineView(model)
	case *plan.DupRemove:
		return p.Accepts(acc, plan.KindDupRemove) && c.SupportsSelectDistinct(model)
	case *plan.TupleLimit:
		if !p.Accepts(acc, plan.KindTupleLimit) {
			return false
		}
		if pl.RowLimit != expr.NoLimit && !c.SupportsRowLimit(model) {
			return false
		}
		return pl.Offset == 0 || c.SupportsRowOffset(model)
	default:
		return false
	}
}

// mergeable reports whether every child of n is an ACCESS node whose
// source can be combined with model's.
func mergeable(p *plan.Plan, c *support.Checker, model string, n *plan.Node) bool {
	for _, child := range n.Children {
		a := p.AccessOf(child)
		if a == nil || a.Command != nil {
			return false
		}
		if !strings.EqualFold(a.Model, model) && !c.IsSameConnector(model, a.Model) {
			return false
		}
	}
	return true
}

func canRaiseJoin(p *plan.Plan, c *support.Checker, acc plan.NodeID, n *plan.Node, j *plan.Join) bool {
	model := p.AccessOf(acc).Model
	if len(n.Children) != 2 || !mergeable(p, c, model, n) {
		return false
	}
	for _, child := range n.Children {
		if !p.IsSimpleBranch(child) {
			return false
		}
		if !c.SupportsOuterJoin(p.AccessOf(child).Model, j.Type) {
			return false
		}
		if j.Type == expr.FullOuterJoin {
			if chain, _ := p.Chain(child); len(chain) > 0 {
				return false
			}
		}
	}

	left, right := sourceGroups(p, n.Children[0]), sourceGroups(p, n.Children[1])
	for _, l := range left {
		for _, r := range right {
			if strings.EqualFold(l, r) && !c.SupportsSelfJoins(model) {
				return false
			}
		}
	}
	if limit := c.MaxFromGroups(model); limit != capability.Unbounded && len(left)+len(right) > limit {
		return false
	}

	x := &pushability{c: c, model: model, groups: n.Groups, inJoin: true}
	for _, crit := range j.Criteria {
		if !x.criteria(crit) {
			return false
		}
	}
	return true
}

// sourceGroups returns the definitions of the groups read by the fragment
// under access.
func sourceGroups(p *plan.Plan, access plan.NodeID) []string {
	var out []string
	for _, id := range p.Descendants(access) {
		if src, ok := p.Node(id).Payload.(*plan.Source); ok {
			out = append(out, src.Group.Definition)
		}
	}
	return out
}

func canRaiseProject(p *plan.Plan, c *support.Checker, acc plan.NodeID, pr *plan.Project) bool {
	if pr.Into != "" || !p.Accepts(acc, plan.KindProject) {
		return false
	}
	model := p.AccessOf(acc).Model
	x := newPushability(p, c, acc)
	for _, item := range pr.Items {
		if _, literal := item.Expr.(*expr.Constant); literal && !c.SupportsSelectLiterals(model) {
			return false
		}
		if !x.expr(item.Expr) {
			return false
		}
	}
	return true
}

func canRaiseGroup(p *plan.Plan, c *support.Checker, acc plan.NodeID, n *plan.Node, g *plan.Group) bool {
	if !p.Accepts(acc, plan.KindGroup) {
		return false
	}
	model := p.AccessOf(acc).Model
	if !c.SupportsAggregates(model, g.Columns) {
		return false
	}
	x := newPushability(p, c, acc)
	if !x.exprs(g.Columns) {
		return false
	}
	x.grouped = true
	for _, out := range g.Outputs {
		if !x.expr(out.Expr) {
			return false
		}
	}
	for _, agg := range aggregatesAbove(p, n.ID) {
		if !c.SupportsAggregateFunction(model, agg) {
			return false
		}
		if agg.Arg != nil && !x.expr(agg.Arg) {
			return false
		}
	}
	return true
}

// aggregatesAbove collects the aggregates computed by group, referenced by
// the SELECT and PROJECT nodes between it and the next blocking ancestor.
func aggregatesAbove(p *plan.Plan, group plan.NodeID) []*expr.Aggregate {
	var nodes []any
	for id := p.Parent(group); id != plan.NoNode; id = p.Parent(id) {
		switch pl := p.Node(id).Payload.(type) {
		case *plan.Select:
			nodes = append(nodes, pl.Criteria)
			continue
		case *plan.Project:
			for _, item := range pl.Items {
				nodes = append(nodes, item.Expr)
			}
			continue
		}
		break
	}
	return expr.Aggregates(nodes...)
}

func canRaiseSort(p *plan.Plan, c *support.Checker, acc plan.NodeID, s *plan.Sort) bool {
	model := p.AccessOf(acc).Model
	if !p.Accepts(acc, plan.KindSort) || !c.SupportsOrderBy(model) {
		return false
	}
	if s.Unrelated && !c.SupportsOrderByUnrelated(model) {
		return false
	}
	if _, base := p.Chain(acc); base != plan.NoNode && p.Node(base).Kind == plan.KindSetOp {
		if !c.SupportsSetQueryOrderBy(model) {
			return false
		}
	}
	x := newPushability(p, c, acc)
	for _, item := range s.Items {
		if item.Nulls != expr.NullsDefault && !c.SupportsOrderByNullOrdering(model) {
			return false
		}
		if !x.expr(item.Expr) {
			return false
		}
	}
	return true
}

func canRaiseSetOp(p *plan.Plan, c *support.Checker, acc plan.NodeID, n *plan.Node, s *plan.SetOp) bool {
	model := p.AccessOf(acc).Model
	if !mergeable(p, c, model, n) {
		return false
	}
	for _, child := range n.Children {
		if !c.SupportsSetOp(p.AccessOf(child).Model, s.Op) {
			return false
		}
	}
	return true
}

package rules

import (
	"fmt"

	"github.com/roach88/fedq/internal/expr"
	"github.com/roach88/fedq/internal/plan"
	"github.com/roach88/fedq/internal/support"
)

// ValidateWhereAll fails when an ACCESS node reads a group that may not be
// queried without criteria and the pushed fragment carries none.
func ValidateWhereAll(p *plan.Plan, c *support.Checker) error {
	for _, acc := range p.FindAll(plan.KindAccess) {
		var groups []string
		filtered := false
		if cmd := p.AccessOf(acc).Command; cmd != nil {
			groups, filtered = commandCriteria(cmd)
		} else {
			groups = sourceGroups(p, acc)
			filtered = p.HasCriteria(acc)
		}
		if filtered {
			continue
		}
		for _, g := range groups {
			if c.RequiresCriteria(g) {
				return &PlanningError{
					Code:    ErrCodeCriteriaRequired,
					Message: fmt.Sprintf("queries against %s must have criteria", g),
					Node:    acc,
					Group:   g,
				}
			}
		}
	}
	return nil
}

func commandCriteria(cmd expr.Command) ([]string, bool) {
	switch v := cmd.(type) {
	case *expr.Update:
		return []string{v.Group.Definition}, v.Where != nil
	case *expr.Delete:
		return []string{v.Group.Definition}, v.Where != nil
	case *expr.Query:
		var groups []string
		hasJoinCriteria := false
		for _, f := range v.From {
			g, jc := fromGroups(f)
			groups = append(groups, g...)
			hasJoinCriteria = hasJoinCriteria || jc
		}
		return groups, v.Where != nil || hasJoinCriteria
	default:
		return nil, true
	}
}

func fromGroups(f expr.FromClause) ([]string, bool) {
	switch v := f.(type) {
	case *expr.UnaryFrom:
		return []string{v.Group.Definition}, false
	case *expr.JoinPredicate:
		l, lc := fromGroups(v.Left)
		r, rc := fromGroups(v.Right)
		return append(l, r...), lc || rc || len(v.Criteria) > 0
	default:
		return nil, true
	}
}

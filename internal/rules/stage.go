package rules

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/fedq/internal/expr"
	"github.com/roach88/fedq/internal/metadata"
	"github.com/roach88/fedq/internal/plan"
	"github.com/roach88/fedq/internal/support"
)

// KeyOracle reports whether cols already form a unique key of the rows
// produced by the fragment under access. Staging over a unique key groups
// nothing, so a true answer skips it. Answering false when unsure only costs
// performance.
type KeyOracle interface {
	IsUniqueKey(p *plan.Plan, access plan.NodeID, cols []*expr.Column) bool
}

// KeyOracleFunc adapts a function to KeyOracle.
type KeyOracleFunc func(p *plan.Plan, access plan.NodeID, cols []*expr.Column) bool

// IsUniqueKey implements KeyOracle.
func (f KeyOracleFunc) IsUniqueKey(p *plan.Plan, access plan.NodeID, cols []*expr.Column) bool {
	return f(p, access, cols)
}

// NoKeys never reports a unique key.
var NoKeys = KeyOracleFunc(func(*plan.Plan, plan.NodeID, []*expr.Column) bool { return false })

// MetadataKeys answers from the unique keys declared on groups. Only
// fragments reading a single group are considered.
type MetadataKeys struct {
	MD metadata.Metadata
}

// IsUniqueKey implements KeyOracle.
func (k MetadataKeys) IsUniqueKey(p *plan.Plan, access plan.NodeID, cols []*expr.Column) bool {
	groups := sourceGroups(p, access)
	if len(groups) != 1 {
		return false
	}
	g, err := k.MD.Group(groups[0])
	if err != nil {
		return false
	}
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[strings.ToLower(c.Name)] = true
	}
	for _, key := range g.UniqueKeys {
		covered := len(key) > 0
		for _, name := range key {
			if !have[strings.ToLower(name)] {
				covered = false
				break
			}
		}
		if covered {
			return true
		}
	}
	return false
}

// StageAggregates pushes partial aggregates below joins the full GROUP
// could not be pushed past. For a GROUP over an inner or cross equi-join
// whose aggregates all read one branch, an intermediate GROUP computing
// partial aggregates is inserted over that branch and the aggregates above
// the original GROUP are rewritten to recombine the partials:
//
//	COUNT(x) -> CONVERT(SUM(COUNT(x)))
//	AVG(x)   -> SUM(SUM(x)) / SUM(COUNT(x))
//	AGG(x)   -> AGG(AGG(x))
//
// It returns the number of staged groups.
func StageAggregates(p *plan.Plan, c *support.Checker, keys KeyOracle) (int, error) {
	if keys == nil {
		keys = NoKeys
	}
	staged := 0
	for _, id := range p.FindAll(plan.KindGroup) {
		g := p.Node(id).Payload.(*plan.Group)
		if g.Symbol != "" || underAccess(p, id) {
			continue
		}
		ok, err := stageGroup(p, c, keys, id)
		if err != nil {
			return staged, err
		}
		if ok {
			staged++
		}
	}
	return staged, nil
}

func underAccess(p *plan.Plan, id plan.NodeID) bool {
	for id = p.Parent(id); id != plan.NoNode; id = p.Parent(id) {
		if p.Node(id).Kind == plan.KindAccess {
			return true
		}
	}
	return false
}

func stageGroup(p *plan.Plan, c *support.Checker, keys KeyOracle, groupID plan.NodeID) (bool, error) {
	g := p.Node(groupID).Payload.(*plan.Group)

	// Find the join, collecting the filters between it and the group.
	var filters []expr.Criteria
	id := p.Children(groupID)[0]
	for p.Node(id).Kind == plan.KindSelect {
		filters = append(filters, p.Node(id).Payload.(*plan.Select).Criteria)
		id = p.Children(id)[0]
	}
	join, ok := p.Node(id).Payload.(*plan.Join)
	if !ok || (join.Type != expr.InnerJoin && join.Type != expr.CrossJoin) {
		return false, nil
	}
	for _, crit := range join.Criteria {
		if !isEquiJoin(crit) {
			return false, nil
		}
	}
	joinID := id

	aggs := uniqueAggregates(aggregatesAbove(p, groupID))
	if len(aggs) == 0 {
		return false, nil
	}
	for _, a := range aggs {
		if a.Distinct && a.Func != expr.Min && a.Func != expr.Max {
			return false, nil
		}
	}

	for _, branch := range p.Children(joinID) {
		acc := p.AccessOf(branch)
		if acc == nil || acc.Command != nil || !p.Accepts(branch, plan.KindGroup) {
			continue
		}
		owned := p.Node(branch).Groups
		if !ownsAll(owned, aggs) {
			continue
		}
		cols := branchColumns(owned, g.Columns, filters, join.Criteria)
		if keys.IsUniqueKey(p, branch, cols) {
			slog.Debug("staging skipped, grouping columns are unique", "group", groupID, "access", branch)
			continue
		}
		ok, err := stageOn(p, c, groupID, branch, cols, aggs)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func isEquiJoin(crit expr.Criteria) bool {
	for _, term := range expr.Conjuncts(crit) {
		cmp, ok := term.(*expr.Compare)
		if !ok || cmp.Op != expr.EQ {
			return false
		}
		_, lc := cmp.Left.(*expr.Column)
		_, rc := cmp.Right.(*expr.Column)
		if !lc || !rc {
			return false
		}
	}
	return true
}

func uniqueAggregates(aggs []*expr.Aggregate) []*expr.Aggregate {
	var out []*expr.Aggregate
	seen := make(map[string]bool)
	for _, a := range aggs {
		key := expr.String(a)
		if !seen[key] {
			seen[key] = true
			out = append(out, a)
		}
	}
	return out
}

func ownsAll(groups []string, aggs []*expr.Aggregate) bool {
	for _, a := range aggs {
		if a.Arg == nil {
			continue
		}
		for _, col := range expr.Columns(a.Arg) {
			if !slices.Contains(groups, col.Group.Name) {
				return false
			}
		}
	}
	return true
}

// branchColumns returns the columns of the branch groups needed above the
// staged group: grouping columns, filter operands, and join keys.
func branchColumns(groups []string, groupBy []expr.Expr, filters, joinCrit []expr.Criteria) []*expr.Column {
	var nodes []any
	for _, e := range groupBy {
		nodes = append(nodes, e)
	}
	for _, f := range filters {
		nodes = append(nodes, f)
	}
	for _, j := range joinCrit {
		nodes = append(nodes, j)
	}
	var out []*expr.Column
	seen := make(map[string]bool)
	for _, col := range expr.Columns(nodes...) {
		key := strings.ToLower(col.Group.Name + "." + col.Name)
		if !slices.Contains(groups, col.Group.Name) || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, col)
	}
	return out
}

func stageOn(p *plan.Plan, c *support.Checker, groupID, branch plan.NodeID, cols []*expr.Column, aggs []*expr.Aggregate) (bool, error) {
	model := p.AccessOf(branch).Model
	groupBy := make([]expr.Expr, len(cols))
	for i, col := range cols {
		groupBy[i] = col
	}
	if !c.SupportsAggregates(model, groupBy) {
		return false, nil
	}

	symbol := fmt.Sprintf("stage_%d", countStaged(p)+1)
	var outputs []expr.SelectItem
	output := func(agg *expr.Aggregate) *expr.Column {
		alias := fmt.Sprintf("agg%d", len(outputs)+1)
		outputs = append(outputs, expr.SelectItem{Expr: agg, Alias: alias})
		return &expr.Column{Group: expr.Group(symbol), Name: alias, DataType: agg.DataType}
	}

	recombine := make(map[string]expr.Expr, len(aggs))
	for _, a := range aggs {
		var r expr.Expr
		switch a.Func {
		case expr.Count:
			cnt := output(&expr.Aggregate{Func: expr.Count, Arg: a.Arg, DataType: metadata.TypeLong})
			r = expr.Convert(&expr.Aggregate{Func: expr.Sum, Arg: cnt, DataType: metadata.TypeLong}, resultType(a, metadata.TypeInteger))
		case expr.Avg:
			target := resultType(a, metadata.TypeDouble)
			sum := output(&expr.Aggregate{Func: expr.Sum, Arg: a.Arg, DataType: a.Arg.Type()})
			cnt := output(&expr.Aggregate{Func: expr.Count, Arg: a.Arg, DataType: metadata.TypeLong})
			r = &expr.Function{
				Name: "/",
				Args: []expr.Expr{
					expr.Convert(&expr.Aggregate{Func: expr.Sum, Arg: sum, DataType: sum.DataType}, target),
					&expr.Aggregate{Func: expr.Sum, Arg: cnt, DataType: metadata.TypeLong},
				},
				DataType: target,
			}
		default:
			part := output(&expr.Aggregate{Func: a.Func, Arg: a.Arg, DataType: a.DataType})
			r = &expr.Aggregate{Func: a.Func, Arg: part, DataType: a.DataType}
		}
		recombine[expr.String(a)] = r
	}
	for _, out := range outputs {
		if !c.SupportsAggregateFunction(model, out.Expr.(*expr.Aggregate)) {
			return false, nil
		}
	}

	p.InsertAbove(branch, &plan.Group{Columns: groupBy, Symbol: symbol, Outputs: outputs})
	remapAggregates(p, groupID, recombine)
	slog.Debug("staged partial aggregates",
		"group", groupID,
		"access", branch,
		"model", model,
		"symbol", symbol,
		"partials", len(outputs),
	)
	return true, nil
}

func resultType(a *expr.Aggregate, fallback metadata.DataType) metadata.DataType {
	if a.DataType != "" {
		return a.DataType
	}
	return fallback
}

func countStaged(p *plan.Plan) int {
	n := 0
	for _, id := range p.FindAll(plan.KindGroup) {
		if p.Node(id).Payload.(*plan.Group).Symbol != "" {
			n++
		}
	}
	return n
}

// remapAggregates replaces the original aggregates in the SELECT and
// PROJECT nodes above group with their recombination.
func remapAggregates(p *plan.Plan, group plan.NodeID, recombine map[string]expr.Expr) {
	fn := func(e expr.Expr) expr.Expr {
		if a, ok := e.(*expr.Aggregate); ok {
			return recombine[expr.String(a)]
		}
		return nil
	}
	for id := p.Parent(group); id != plan.NoNode; id = p.Parent(id) {
		switch pl := p.Node(id).Payload.(type) {
		case *plan.Select:
			pl.Criteria = expr.RewriteCriteria(pl.Criteria, fn)
			continue
		case *plan.Project:
			items := make([]expr.SelectItem, len(pl.Items))
			for i, item := range pl.Items {
				items[i] = expr.SelectItem{Expr: expr.RewriteExpr(item.Expr, fn), Alias: item.Alias}
				if items[i].Alias == "" && items[i].Expr != item.Expr {
					items[i].Alias = item.Name(i)
				}
			}
			pl.Items = items
			continue
		}
		break
	}
}

// Package support answers "can this model execute that construct" for the
// push-down rules. Every predicate is false, and every numeric limit is
// capability.Unbounded, for virtual models and for models whose capabilities
// cannot be resolved: an unanswerable question never results in a push-down.
package support

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/roach88/fedq/internal/capability"
	"github.com/roach88/fedq/internal/expr"
	"github.com/roach88/fedq/internal/metadata"
)

// Checker evaluates capability predicates for one planning run.
// It memoizes capability lookups; create a new Checker per plan.
type Checker struct {
	ctx    context.Context
	md     metadata.Metadata
	finder capability.Finder

	mu    sync.Mutex
	cache map[string]*capability.Snapshot
}

// NewChecker returns a Checker resolving capabilities through finder.
func NewChecker(ctx context.Context, md metadata.Metadata, finder capability.Finder) *Checker {
	return &Checker{
		ctx:    ctx,
		md:     md,
		finder: finder,
		cache:  make(map[string]*capability.Snapshot),
	}
}

// Metadata returns the metadata the checker consults.
func (c *Checker) Metadata() metadata.Metadata { return c.md }

// physical returns the model when it exists and is not virtual.
func (c *Checker) physical(modelID string) (*metadata.Model, bool) {
	m, err := c.md.Model(modelID)
	if err != nil {
		slog.Debug("model lookup failed", "model", modelID, "error", err)
		return nil, false
	}
	if m.Virtual {
		return nil, false
	}
	return m, true
}

// Capabilities returns the snapshot for a physical model, or nil for virtual
// or unresolvable models.
func (c *Checker) Capabilities(modelID string) *capability.Snapshot {
	if _, ok := c.physical(modelID); !ok {
		return nil
	}
	key := strings.ToLower(modelID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.cache[key]; ok {
		return s
	}
	s, err := c.finder.Find(c.ctx, modelID)
	if err != nil {
		slog.Warn("capabilities unavailable, nothing is pushed to model",
			"model", modelID,
			"error", err,
		)
		s = nil
	}
	c.cache[key] = s
	return s
}

func (c *Checker) supports(modelID string, capab capability.Capability) bool {
	return c.Capabilities(modelID).Supports(capab)
}

// modelAllows applies the per-model metadata override for feature.
func (c *Checker) modelAllows(modelID string, feature metadata.Feature) bool {
	m, ok := c.physical(modelID)
	return ok && metadata.ModelSupports(m, feature)
}

// SupportsJoins reports whether the model executes inner and cross joins.
func (c *Checker) SupportsJoins(modelID string) bool {
	return c.supports(modelID, capability.Joins) && c.modelAllows(modelID, metadata.FeatureJoin)
}

// SupportsSelfJoins reports whether a group may be joined to itself.
func (c *Checker) SupportsSelfJoins(modelID string) bool {
	return c.SupportsJoins(modelID) && c.supports(modelID, capability.SelfJoins)
}

// SupportsOuterJoin checks the capability for the specific join flavor.
// Inner and cross joins only need SupportsJoins.
func (c *Checker) SupportsOuterJoin(modelID string, jt expr.JoinType) bool {
	switch jt {
	case expr.InnerJoin, expr.CrossJoin:
		return c.SupportsJoins(modelID)
	case expr.LeftOuterJoin, expr.RightOuterJoin:
		return c.SupportsJoins(modelID) &&
			c.supports(modelID, capability.OuterJoins) &&
			c.modelAllows(modelID, metadata.FeatureOuterJoin)
	case expr.FullOuterJoin:
		return c.SupportsJoins(modelID) &&
			c.supports(modelID, capability.FullOuterJoins) &&
			c.modelAllows(modelID, metadata.FeatureOuterJoin)
	default:
		return false
	}
}

// SupportsJoinExpression reports whether fn may appear in join criteria.
func (c *Checker) SupportsJoinExpression(modelID string, fn *expr.Function) bool {
	return c.supports(modelID, capability.JoinExpressions) && c.SupportsScalarFunction(modelID, fn)
}

// SupportsAggregates checks GROUP BY over the exact grouping list. An empty
// list is a global aggregate and needs no GROUP BY support.
func (c *Checker) SupportsAggregates(modelID string, groupCols []expr.Expr) bool {
	if c.Capabilities(modelID) == nil {
		return false
	}
	if len(groupCols) == 0 {
		return true
	}
	if !c.supports(modelID, capability.AggregatesGroupBy) || !c.modelAllows(modelID, metadata.FeatureGroupBy) {
		return false
	}
	for _, e := range groupCols {
		if _, isColumn := e.(*expr.Column); isColumn {
			continue
		}
		if !c.supports(modelID, capability.FunctionsInGroupBy) {
			return false
		}
	}
	return true
}

// SupportsAggregateFunction checks one aggregate including its DISTINCT form.
func (c *Checker) SupportsAggregateFunction(modelID string, agg *expr.Aggregate) bool {
	var needed capability.Capability
	switch agg.Func {
	case expr.Count:
		needed = capability.AggregatesCount
		if agg.IsCountStar() {
			needed = capability.AggregatesCountStar
		}
	case expr.Sum:
		needed = capability.AggregatesSum
	case expr.Avg:
		needed = capability.AggregatesAvg
	case expr.Min:
		needed = capability.AggregatesMin
	case expr.Max:
		needed = capability.AggregatesMax
	default:
		return false
	}
	if !c.supports(modelID, needed) {
		return false
	}
	return !agg.Distinct || c.supports(modelID, capability.AggregatesDistinct)
}

// SupportsScalarFunction checks the function name against the source's
// function list. Conversions from LOB, XML, or object values to CLOB or XML
// are always evaluated by the engine.
func (c *Checker) SupportsScalarFunction(modelID string, fn *expr.Function) bool {
	s := c.Capabilities(modelID)
	if s == nil {
		return false
	}
	if fn.Descriptor != nil && fn.Descriptor.Pushdown == expr.CannotPushdown {
		return false
	}
	if from, to, ok := fn.Conversion(); ok {
		if (from.IsLOB() || from == metadata.TypeXML || from == metadata.TypeObject) &&
			(to == metadata.TypeClob || to == metadata.TypeXML) {
			return false
		}
	}
	if fn.Descriptor != nil && fn.Descriptor.Pushdown == expr.MustPushdown {
		return true
	}
	return s.SupportsFunction(fn.Name) ||
		(fn.Descriptor != nil && fn.Descriptor.Name != "" && s.SupportsFunction(fn.Descriptor.Name))
}

// SupportsOrderBy reports whether the model sorts results.
func (c *Checker) SupportsOrderBy(modelID string) bool {
	return c.supports(modelID, capability.OrderBy) && c.modelAllows(modelID, metadata.FeatureOrderBy)
}

// SupportsOrderByUnrelated reports whether sort keys may be absent from the
// select list.
func (c *Checker) SupportsOrderByUnrelated(modelID string) bool {
	return c.SupportsOrderBy(modelID) && c.supports(modelID, capability.OrderByUnrelated)
}

// SupportsOrderByNullOrdering reports whether NULLS FIRST/LAST is accepted.
func (c *Checker) SupportsOrderByNullOrdering(modelID string) bool {
	return c.SupportsOrderBy(modelID) && c.supports(modelID, capability.OrderByNullOrdering)
}

// SupportsSetQueryOrderBy reports whether a set query may be sorted.
func (c *Checker) SupportsSetQueryOrderBy(modelID string) bool {
	return c.SupportsOrderBy(modelID) && c.supports(modelID, capability.SetQueryOrderBy)
}

// SupportsSetOp reports whether the model executes op.
func (c *Checker) SupportsSetOp(modelID string, op expr.SetOp) bool {
	switch op {
	case expr.Union:
		return c.supports(modelID, capability.Union)
	case expr.Intersect:
		return c.supports(modelID, capability.Intersect)
	case expr.Except:
		return c.supports(modelID, capability.Except)
	default:
		return false
	}
}

// SupportsRowLimit reports whether the model limits rows.
func (c *Checker) SupportsRowLimit(modelID string) bool {
	return c.supports(modelID, capability.RowLimit) && c.modelAllows(modelID, metadata.FeatureLimit)
}

// SupportsRowOffset reports whether the model skips leading rows.
func (c *Checker) SupportsRowOffset(modelID string) bool {
	return c.supports(modelID, capability.RowOffset) && c.modelAllows(modelID, metadata.FeatureLimit)
}

// SupportsSelectDistinct reports whether SELECT DISTINCT is accepted.
func (c *Checker) SupportsSelectDistinct(modelID string) bool {
	return c.supports(modelID, capability.SelectDistinct) && c.modelAllows(modelID, metadata.FeatureDistinct)
}

// SupportsSelectLiterals reports whether constants may be projected.
func (c *Checker) SupportsSelectLiterals(modelID string) bool {
	return c.supports(modelID, capability.SelectLiterals)
}

// SupportsCorrelatedSubquery reports whether subqueries may reference outer
// columns.
func (c *Checker) SupportsCorrelatedSubquery(modelID string) bool {
	return c.supports(modelID, capability.CorrelatedSubqueries)
}

// SupportsScalarSubquery reports whether a subquery may be used as a value.
func (c *Checker) SupportsScalarSubquery(modelID string) bool {
	return c.supports(modelID, capability.ScalarSubqueries)
}

// SupportsSubqueryInOn reports whether join criteria may contain subqueries.
func (c *Checker) SupportsSubqueryInOn(modelID string) bool {
	return c.supports(modelID, capability.SubqueriesInOn)
}

// SupportsInlineView reports whether a subquery may appear in FROM.
func (c *Checker) SupportsInlineView(modelID string) bool {
	return c.supports(modelID, capability.InlineViews)
}

// SupportsCriteria reports whether a criteria node of that kind, ignoring its
// operands, can be evaluated by the source.
func (c *Checker) SupportsCriteria(modelID string, crit expr.Criteria) bool {
	switch v := crit.(type) {
	case *expr.Compare:
		if v.Op == expr.EQ || v.Op == expr.NE {
			return c.supports(modelID, capability.CriteriaCompareEQ)
		}
		return c.supports(modelID, capability.CriteriaCompareOrdered)
	case *expr.Compound:
		if v.Op == expr.Or {
			return c.supports(modelID, capability.CriteriaOr)
		}
		return c.Capabilities(modelID) != nil
	case *expr.Not:
		return c.supports(modelID, capability.CriteriaNot)
	case *expr.IsNull:
		return c.supports(modelID, capability.CriteriaIsNull) &&
			(!v.Negated || c.supports(modelID, capability.CriteriaNot))
	case *expr.In:
		if !c.supports(modelID, capability.CriteriaIn) {
			return false
		}
		if v.Negated && !c.supports(modelID, capability.CriteriaNot) {
			return false
		}
		limit := c.MaxInCriteriaSize(modelID)
		return limit == capability.Unbounded || len(v.Values) <= limit
	case *expr.Like:
		if !c.supports(modelID, capability.CriteriaLike) {
			return false
		}
		if v.Escape != 0 && !c.supports(modelID, capability.CriteriaLikeEscape) {
			return false
		}
		return !v.Negated || c.supports(modelID, capability.CriteriaNot)
	case *expr.DependentSet:
		return c.supports(modelID, capability.DependentJoins) && c.supports(modelID, capability.CriteriaIn)
	case *expr.Exists:
		return c.supports(modelID, capability.CriteriaExists)
	case *expr.SubqueryIn:
		return c.supports(modelID, capability.CriteriaInSubquery)
	case *expr.SubqueryCompare:
		return c.supports(modelID, capability.CriteriaQuantifiedSubquery)
	default:
		return false
	}
}

// IsSameConnector reports whether two models are served by the same physical
// connector, comparing the ConnectorID of their snapshots.
func (c *Checker) IsSameConnector(modelA, modelB string) bool {
	if strings.EqualFold(modelA, modelB) {
		return c.Capabilities(modelA) != nil
	}
	a, b := c.Capabilities(modelA), c.Capabilities(modelB)
	if a == nil || b == nil {
		return false
	}
	return a.ConnectorID() != "" && a.ConnectorID() == b.ConnectorID()
}

// MaxInCriteriaSize is the longest IN list the model accepts.
func (c *Checker) MaxInCriteriaSize(modelID string) int {
	if s := c.Capabilities(modelID); s != nil {
		return s.MaxInCriteriaSize()
	}
	return capability.Unbounded
}

// MaxDependentPredicates limits predicates generated for a dependent join.
func (c *Checker) MaxDependentPredicates(modelID string) int {
	if s := c.Capabilities(modelID); s != nil {
		return s.MaxDependentPredicates()
	}
	return capability.Unbounded
}

// MaxFromGroups is the most groups one FROM clause may name.
func (c *Checker) MaxFromGroups(modelID string) int {
	if s := c.Capabilities(modelID); s != nil {
		return s.MaxFromGroups()
	}
	return capability.Unbounded
}

// RequiresCriteria reports whether the group may not be queried without a
// WHERE clause.
func (c *Checker) RequiresCriteria(group string) bool {
	g, err := c.md.Group(group)
	return err == nil && g.CriteriaRequired
}

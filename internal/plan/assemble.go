package plan

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/fedq/internal/expr"
	"github.com/roach88/fedq/internal/metadata"
)

// ErrUnsupportedShape is returned when a fragment cannot be expressed as a
// single command.
var ErrUnsupportedShape = errors.New("fragment cannot be assembled into one command")

func isUnary(k Kind) bool {
	switch k {
	case KindSelect, KindProject, KindGroup, KindSort, KindDupRemove, KindTupleLimit:
		return true
	}
	return false
}

// Chain returns the unary nodes directly below an ACCESS node, top first,
// and the first non-unary node below them (NoNode for an empty fragment).
func (p *Plan) Chain(access NodeID) (chain []NodeID, base NodeID) {
	children := p.Node(access).Children
	if len(children) == 0 {
		return nil, NoNode
	}
	id := children[0]
	for isUnary(p.Node(id).Kind) {
		chain = append(chain, id)
		id = p.Node(id).Children[0]
	}
	return chain, id
}

func (p *Plan) chainKinds(access NodeID) ([]Kind, Kind) {
	chain, base := p.Chain(access)
	kinds := make([]Kind, len(chain))
	for i, id := range chain {
		kinds[i] = p.Node(id).Kind
	}
	if base == NoNode {
		return kinds, KindNull
	}
	return kinds, p.Node(base).Kind
}

// Accepts reports whether a unary parent of kind k can join the fragment
// under access while the fragment still assembles into one query block.
// Operators applied after a row limit, a second projection, grouping over
// already grouped rows, or a projection or filter over a set operation would
// need a nested block and are not accepted.
func (p *Plan) Accepts(access NodeID, k Kind) bool {
	kinds, base := p.chainKinds(access)
	has := func(ks ...Kind) bool {
		for _, want := range ks {
			if slices.Contains(kinds, want) {
				return true
			}
		}
		return false
	}
	if base == KindSource {
		if src, ok := p.Node(mustBase(p, access)).Payload.(*Source); ok && src.Procedure != nil {
			return false
		}
	}
	switch k {
	case KindTupleLimit:
		return !has(KindTupleLimit)
	case KindSort, KindDupRemove:
		return !has(k, KindTupleLimit)
	case KindProject:
		return base != KindSetOp && !has(KindProject, KindDupRemove)
	case KindGroup:
		return base != KindSetOp && !has(KindGroup, KindProject, KindSort, KindDupRemove, KindTupleLimit)
	case KindSelect:
		return base != KindSetOp && !has(KindProject, KindSort, KindDupRemove, KindTupleLimit)
	default:
		return false
	}
}

func mustBase(p *Plan, access NodeID) NodeID {
	_, base := p.Chain(access)
	return base
}

// IsSimpleBranch reports whether the fragment under access is only filters
// over a join or a plain source, so it can become one side of a pushed join.
func (p *Plan) IsSimpleBranch(access NodeID) bool {
	chain, base := p.Chain(access)
	if base == NoNode {
		return false
	}
	for _, id := range chain {
		if p.Node(id).Kind != KindSelect {
			return false
		}
	}
	switch v := p.Node(base).Payload.(type) {
	case *Join:
		return true
	case *Source:
		return v.Procedure == nil
	}
	return false
}

// HasCriteria reports whether the fragment under access filters rows,
// through a SELECT node or join criteria.
func (p *Plan) HasCriteria(access NodeID) bool {
	for _, id := range p.Descendants(access) {
		switch v := p.Node(id).Payload.(type) {
		case *Select:
			if v.Criteria != nil {
				return true
			}
		case *Join:
			if len(v.Criteria) > 0 {
				return true
			}
		}
	}
	return false
}

// AccessCommand assembles the command pushed by an ACCESS node.
func AccessCommand(p *Plan, access NodeID, md metadata.Metadata) (expr.Command, error) {
	a, ok := p.Node(access).Payload.(*Access)
	if !ok {
		return nil, fmt.Errorf("node %d is %s, not ACCESS", access, p.Node(access).Kind)
	}
	if a.Command != nil {
		return a.Command, nil
	}
	children := p.Node(access).Children
	if len(children) != 1 {
		return nil, fmt.Errorf("access %d: %w: %d children", access, ErrUnsupportedShape, len(children))
	}
	if src, ok := p.Node(children[0]).Payload.(*Source); ok && src.Procedure != nil {
		return cloneProcedure(src.Procedure), nil
	}
	as := &assembler{p: p, md: md}
	cmd, err := as.block(children[0])
	if err != nil {
		return nil, fmt.Errorf("access %d: %w", access, err)
	}
	return cmd, nil
}

type assembler struct {
	p  *Plan
	md metadata.Metadata
}

func shapeError(n *Node) error {
	return fmt.Errorf("%w: unexpected %s at node %d", ErrUnsupportedShape, n.Kind, n.ID)
}

func (as *assembler) block(top NodeID) (expr.QueryCommand, error) {
	var (
		limit    *TupleLimit
		sort     *Sort
		distinct bool
		project  *Project
		group    *Group
		pending  []expr.Criteria
		having   []expr.Criteria
	)
	id := top
walk:
	for {
		n := as.p.Node(id)
		switch v := n.Payload.(type) {
		case *TupleLimit:
			if limit != nil || sort != nil || distinct || group != nil || len(pending) > 0 {
				return nil, shapeError(n)
			}
			limit = v
		case *Sort:
			if sort != nil || group != nil || len(pending) > 0 {
				return nil, shapeError(n)
			}
			sort = v
		case *DupRemove:
			distinct = true
		case *Project:
			if project != nil || group != nil || len(pending) > 0 {
				return nil, shapeError(n)
			}
			project = v
		case *Select:
			pending = append(pending, v.Criteria)
		case *Group:
			if group != nil {
				return nil, shapeError(n)
			}
			group = v
			having, pending = pending, nil
		default:
			break walk
		}
		id = n.Children[0]
	}

	base := as.p.Node(id)
	if _, isSetOp := base.Payload.(*SetOp); isSetOp {
		if project != nil || group != nil || len(pending) > 0 || len(having) > 0 {
			return nil, shapeError(base)
		}
		sq, err := as.setQuery(base)
		if err != nil {
			return nil, err
		}
		if distinct {
			sq.All = false
		}
		sq.OrderBy = orderBy(sort)
		sq.Limit = limitOf(limit)
		return sq, nil
	}

	from, extra, err := as.from(id)
	if err != nil {
		return nil, err
	}
	q := &expr.Query{
		From:    []expr.FromClause{from},
		Where:   expr.Combine(append(pending, extra...)...),
		OrderBy: orderBy(sort),
		Limit:   limitOf(limit),
	}
	q.Select.Distinct = distinct
	if group != nil {
		q.GroupBy = group.Columns
		q.Having = expr.Combine(having...)
	}
	switch {
	case project != nil:
		q.Select.Items = project.Items
	case group != nil:
		for _, c := range group.Columns {
			q.Select.Items = append(q.Select.Items, expr.SelectItem{Expr: c})
		}
		q.Select.Items = append(q.Select.Items, group.Outputs...)
	default:
		items, err := as.selectAll(from)
		if err != nil {
			return nil, err
		}
		q.Select.Items = items
	}
	if group != nil && group.Symbol != "" {
		inlineStagedOutputs(q, group)
	}
	return q, nil
}

// inlineStagedOutputs replaces references to a staged group's outputs with
// the partial aggregates themselves once the group shares a block with them.
func inlineStagedOutputs(q *expr.Query, g *Group) {
	fn := func(e expr.Expr) expr.Expr {
		c, ok := e.(*expr.Column)
		if !ok || c.Group.Name != g.Symbol {
			return nil
		}
		for _, out := range g.Outputs {
			if out.Alias == c.Name {
				return out.Expr
			}
		}
		return nil
	}
	items := make([]expr.SelectItem, len(q.Select.Items))
	for i, item := range q.Select.Items {
		items[i] = expr.SelectItem{Expr: expr.RewriteExpr(item.Expr, fn), Alias: item.Alias}
		if items[i].Alias == "" && items[i].Expr != item.Expr {
			items[i].Alias = item.Name(i)
		}
	}
	q.Select.Items = items
	q.Having = expr.RewriteCriteria(q.Having, fn)
	if q.OrderBy != nil {
		ob := &expr.OrderBy{Items: make([]expr.OrderByItem, len(q.OrderBy.Items))}
		for i, item := range q.OrderBy.Items {
			item.Expr = expr.RewriteExpr(item.Expr, fn)
			ob.Items[i] = item
		}
		q.OrderBy = ob
	}
}

func (as *assembler) setQuery(n *Node) (*expr.SetQuery, error) {
	op := n.Payload.(*SetOp)
	var cur expr.QueryCommand
	var out *expr.SetQuery
	for i, c := range n.Children {
		branch, err := as.block(c)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			cur = branch
			continue
		}
		out = &expr.SetQuery{Op: op.Op, All: op.All, Left: cur, Right: branch}
		cur = out
	}
	return out, nil
}

// from builds the FROM clause rooted at id, returning criteria that belong
// in the enclosing WHERE clause.
func (as *assembler) from(id NodeID) (expr.FromClause, []expr.Criteria, error) {
	n := as.p.Node(id)
	switch v := n.Payload.(type) {
	case *Source:
		if v.Procedure != nil {
			return nil, nil, shapeError(n)
		}
		if len(n.Children) == 1 {
			view, err := as.block(n.Children[0])
			if err != nil {
				return nil, nil, err
			}
			return &expr.SubqueryFrom{Alias: v.Group.Name, Command: view}, nil, nil
		}
		return &expr.UnaryFrom{Group: v.Group}, nil, nil
	case *Join:
		left, lw, err := as.branch(n.Children[0])
		if err != nil {
			return nil, nil, err
		}
		right, rw, err := as.branch(n.Children[1])
		if err != nil {
			return nil, nil, err
		}
		jp := &expr.JoinPredicate{Type: v.Type, Left: left, Right: right, Criteria: slices.Clone(v.Criteria)}
		var where []expr.Criteria
		switch v.Type {
		case expr.InnerJoin, expr.CrossJoin:
			where = append(lw, rw...)
		case expr.LeftOuterJoin:
			where = lw
			jp.Criteria = append(jp.Criteria, rw...)
		case expr.RightOuterJoin:
			where = rw
			jp.Criteria = append(jp.Criteria, lw...)
		case expr.FullOuterJoin:
			if len(lw) > 0 || len(rw) > 0 {
				return nil, nil, shapeError(n)
			}
		}
		return jp, where, nil
	default:
		return nil, nil, shapeError(n)
	}
}

// branch builds one side of a join: filters over a join or a source.
func (as *assembler) branch(id NodeID) (expr.FromClause, []expr.Criteria, error) {
	var crits []expr.Criteria
	for {
		n := as.p.Node(id)
		sel, ok := n.Payload.(*Select)
		if !ok {
			break
		}
		crits = append(crits, sel.Criteria)
		id = n.Children[0]
	}
	if k := as.p.Node(id).Kind; k == KindAccess || isUnary(k) {
		return nil, nil, shapeError(as.p.Node(id))
	}
	from, extra, err := as.from(id)
	if err != nil {
		return nil, nil, err
	}
	return from, append(crits, extra...), nil
}

func (as *assembler) selectAll(from expr.FromClause) ([]expr.SelectItem, error) {
	switch v := from.(type) {
	case *expr.UnaryFrom:
		g, err := as.md.Group(v.Group.Definition)
		if err != nil {
			return nil, err
		}
		items := make([]expr.SelectItem, len(g.Elements))
		for i, e := range g.Elements {
			items[i] = expr.SelectItem{Expr: &expr.Column{Group: v.Group, Name: e.ShortName(), DataType: e.Type}}
		}
		return items, nil
	case *expr.SubqueryFrom:
		inner := firstQuery(v.Command)
		ref := expr.Group(v.Alias)
		items := make([]expr.SelectItem, len(inner.Select.Items))
		for i, item := range inner.Select.Items {
			items[i] = expr.SelectItem{Expr: &expr.Column{Group: ref, Name: item.Name(i), DataType: item.Expr.Type()}}
		}
		return items, nil
	case *expr.JoinPredicate:
		left, err := as.selectAll(v.Left)
		if err != nil {
			return nil, err
		}
		right, err := as.selectAll(v.Right)
		if err != nil {
			return nil, err
		}
		return append(left, right...), nil
	default:
		return nil, fmt.Errorf("%w: from clause %T", ErrUnsupportedShape, from)
	}
}

func firstQuery(q expr.QueryCommand) *expr.Query {
	for {
		switch v := q.(type) {
		case *expr.Query:
			return v
		case *expr.SetQuery:
			q = v.Left
		}
	}
}

func orderBy(s *Sort) *expr.OrderBy {
	if s == nil {
		return nil
	}
	return &expr.OrderBy{Items: slices.Clone(s.Items)}
}

func limitOf(l *TupleLimit) *expr.Limit {
	if l == nil {
		return nil
	}
	return &expr.Limit{Offset: l.Offset, RowLimit: l.RowLimit}
}

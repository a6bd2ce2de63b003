package plan

import (
	"strconv"
	"strings"

	"github.com/roach88/fedq/internal/expr"
	"github.com/roach88/fedq/internal/ir"
)

// Format renders the plan as an indented tree, one node per line.
func Format(p *Plan) string {
	if p.root == NoNode {
		return "<empty>\n"
	}
	var b strings.Builder
	var visit func(NodeID, int)
	visit = func(id NodeID, depth int) {
		n := p.Node(id)
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString(n.Kind.String())
		if d := describe(n); d != "" {
			b.WriteByte(' ')
			b.WriteString(d)
		}
		b.WriteByte('\n')
		for _, c := range n.Children {
			visit(c, depth+1)
		}
	}
	visit(p.root, 0)
	return b.String()
}

// String implements fmt.Stringer.
func (p *Plan) String() string { return Format(p) }

func describe(n *Node) string {
	switch v := n.Payload.(type) {
	case *Access:
		s := "model=" + v.Model + " groups=[" + strings.Join(n.Groups, ", ") + "]"
		if v.Command != nil {
			s += " command=" + expr.String(v.Command)
		}
		return s
	case *Join:
		s := v.Type.String()
		if len(v.Criteria) > 0 {
			s += " ON " + expr.String(expr.Combine(v.Criteria...))
		}
		return s
	case *Select:
		return expr.String(v.Criteria)
	case *Project:
		s := selectItems(v.Items)
		if v.Into != "" {
			s += " INTO " + v.Into
		}
		return s
	case *Group:
		parts := make([]string, len(v.Columns))
		for i, c := range v.Columns {
			parts[i] = expr.String(c)
		}
		s := "BY [" + strings.Join(parts, ", ") + "]"
		if v.Symbol != "" {
			s += " STAGED " + v.Symbol + " [" + selectItems(v.Outputs) + "]"
		}
		return s
	case *Sort:
		parts := make([]string, len(v.Items))
		for i, item := range v.Items {
			parts[i] = expr.String(item.Expr)
			if item.Descending {
				parts[i] += " DESC"
			}
			switch item.Nulls {
			case expr.NullsFirst:
				parts[i] += " NULLS FIRST"
			case expr.NullsLast:
				parts[i] += " NULLS LAST"
			}
		}
		return strings.Join(parts, ", ")
	case *SetOp:
		if v.All {
			return v.Op.String() + " ALL"
		}
		return v.Op.String()
	case *TupleLimit:
		limit := "unbounded"
		if v.RowLimit != expr.NoLimit {
			limit = strconv.Itoa(v.RowLimit)
		}
		return "offset=" + strconv.Itoa(v.Offset) + " limit=" + limit
	case *Source:
		s := v.Group.Definition
		if v.Group.IsAliased() {
			s += " AS " + v.Group.Name
		}
		if v.Procedure != nil {
			s += " " + expr.String(v.Procedure)
		}
		if v.MaterializeInto != "" {
			s += " INTO " + v.MaterializeInto
		}
		return s
	default:
		return ""
	}
}

func selectItems(items []expr.SelectItem) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = expr.String(item.Expr)
		if item.Alias != "" {
			parts[i] += " AS " + item.Alias
		}
	}
	return strings.Join(parts, ", ")
}

// Snapshot returns the plan as nested maps suitable for canonical JSON.
// Node ids are left out so that structurally equal plans snapshot equally.
func Snapshot(p *Plan) map[string]any {
	if p.root == NoNode {
		return map[string]any{}
	}
	var visit func(NodeID) map[string]any
	visit = func(id NodeID) map[string]any {
		n := p.Node(id)
		children := make([]any, len(n.Children))
		for i, c := range n.Children {
			children[i] = visit(c)
		}
		groups := make([]any, len(n.Groups))
		for i, g := range n.Groups {
			groups[i] = g
		}
		return map[string]any{
			"kind":     n.Kind.String(),
			"detail":   describe(n),
			"groups":   groups,
			"children": children,
		}
	}
	return visit(p.root)
}

// Fingerprint hashes the plan snapshot.
func Fingerprint(p *Plan) (string, error) {
	return ir.Fingerprint(ir.DomainPlan, Snapshot(p))
}

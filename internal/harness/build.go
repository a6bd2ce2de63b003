package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/fedq/internal/expr"
	"github.com/roach88/fedq/internal/ir"
	"github.com/roach88/fedq/internal/metadata"
	"github.com/roach88/fedq/internal/plan"
)

// builder turns a NodeSpec tree into a plan. Children are built before their
// parent, so source aliases are known when the parent's expressions resolve.
type builder struct {
	md      metadata.Metadata
	p       *plan.Plan
	aliases map[string]string
}

// BuildPlan resolves spec against md.
func BuildPlan(md metadata.Metadata, spec NodeSpec) (*plan.Plan, error) {
	b := &builder{md: md, p: plan.New(), aliases: make(map[string]string)}
	if _, err := b.node(spec, "plan"); err != nil {
		return nil, err
	}
	return b.p, nil
}

func (b *builder) node(s NodeSpec, path string) (plan.NodeID, error) {
	children := make([]plan.NodeID, 0, len(s.Children))
	for i, c := range s.Children {
		id, err := b.node(c, fmt.Sprintf("%s.children[%d]", path, i))
		if err != nil {
			return plan.NoNode, err
		}
		children = append(children, id)
	}
	payload, err := b.payload(s)
	if err != nil {
		return plan.NoNode, fmt.Errorf("%s (%s): %w", path, s.Kind, err)
	}
	return b.p.Add(payload, children...), nil
}

func (b *builder) payload(s NodeSpec) (plan.Payload, error) {
	switch strings.ToLower(s.Kind) {
	case "source":
		return b.source(s)
	case "access":
		if s.Model == "" {
			return nil, fmt.Errorf("model is required")
		}
		return &plan.Access{Model: s.Model}, nil
	case "select":
		if s.Where == nil {
			return nil, fmt.Errorf("where is required")
		}
		c, err := b.criteria(*s.Where)
		if err != nil {
			return nil, err
		}
		return &plan.Select{Criteria: c}, nil
	case "project":
		items, err := b.selectItems(s.Items)
		if err != nil {
			return nil, err
		}
		return &plan.Project{Items: items}, nil
	case "group":
		cols, err := b.exprs(s.By)
		if err != nil {
			return nil, err
		}
		return &plan.Group{Columns: cols}, nil
	case "sort":
		items := make([]expr.OrderByItem, len(s.Items))
		for i, it := range s.Items {
			e, err := b.expr(it)
			if err != nil {
				return nil, err
			}
			items[i] = expr.OrderByItem{Expr: e, Descending: it.Desc}
		}
		return &plan.Sort{Items: items}, nil
	case "join":
		jt, err := joinType(s.Join)
		if err != nil {
			return nil, err
		}
		crits := make([]expr.Criteria, len(s.On))
		for i, c := range s.On {
			if crits[i], err = b.criteria(c); err != nil {
				return nil, err
			}
		}
		return &plan.Join{Type: jt, Criteria: crits}, nil
	case "set_op":
		op, err := setOp(s.Op)
		if err != nil {
			return nil, err
		}
		return &plan.SetOp{Op: op, All: s.All}, nil
	case "distinct":
		return &plan.DupRemove{}, nil
	case "limit":
		l := &plan.TupleLimit{Offset: s.Offset, RowLimit: expr.NoLimit}
		if s.Limit != nil {
			l.RowLimit = *s.Limit
		}
		return l, nil
	case "null":
		return &plan.Null{}, nil
	}
	return nil, fmt.Errorf("unknown node kind %q", s.Kind)
}

func (b *builder) source(s NodeSpec) (plan.Payload, error) {
	g, err := b.md.Group(s.Group)
	if err != nil {
		return nil, err
	}
	ref := expr.Group(g.Name)
	if s.Alias != "" {
		ref = expr.Aliased(s.Alias, g.Name)
		b.aliases[strings.ToLower(s.Alias)] = g.Name
	}
	return &plan.Source{Group: ref}, nil
}

func (b *builder) selectItems(specs []ExprSpec) ([]expr.SelectItem, error) {
	items := make([]expr.SelectItem, len(specs))
	for i, s := range specs {
		e, err := b.expr(s)
		if err != nil {
			return nil, err
		}
		items[i] = expr.SelectItem{Expr: e, Alias: s.As}
	}
	return items, nil
}

func (b *builder) exprs(specs []ExprSpec) ([]expr.Expr, error) {
	out := make([]expr.Expr, len(specs))
	for i, s := range specs {
		e, err := b.expr(s)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

func (b *builder) expr(s ExprSpec) (expr.Expr, error) {
	switch {
	case s.Col != "":
		return b.column(s.Col)
	case s.Null:
		t := metadata.TypeNull
		if s.Type != "" {
			var err error
			if t, err = metadata.ParseDataType(s.Type); err != nil {
				return nil, err
			}
		}
		return &expr.Constant{Value: ir.Null{}, DataType: t}, nil
	case s.Value != nil:
		return literal(s)
	case s.Agg != "":
		return b.aggregate(s)
	case s.Fn != "":
		args, err := b.exprs(s.Args)
		if err != nil {
			return nil, err
		}
		t := metadata.TypeString
		if len(args) > 0 {
			t = args[0].Type()
		}
		if s.Type != "" {
			if t, err = metadata.ParseDataType(s.Type); err != nil {
				return nil, err
			}
		}
		return &expr.Function{Name: strings.ToLower(s.Fn), Args: args, DataType: t}, nil
	}
	return nil, fmt.Errorf("empty expression")
}

// column resolves group.element, where group may be a source alias.
func (b *builder) column(ref string) (*expr.Column, error) {
	i := strings.LastIndexByte(ref, '.')
	if i <= 0 {
		return nil, fmt.Errorf("column %q: want group.element", ref)
	}
	group, name := ref[:i], ref[i+1:]
	gref := expr.Group(group)
	if def, ok := b.aliases[strings.ToLower(group)]; ok {
		gref = expr.Aliased(group, def)
	}
	e, err := b.md.Element(gref.Definition + "." + name)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(gref.Name, gref.Definition) {
		return &expr.Column{Group: gref, Name: e.ShortName(), DataType: e.Type}, nil
	}
	return expr.Col(e.Group, e.ShortName(), e.Type), nil
}

var aggregateFuncs = map[string]expr.AggregateFunc{
	"count": expr.Count,
	"sum":   expr.Sum,
	"avg":   expr.Avg,
	"min":   expr.Min,
	"max":   expr.Max,
}

func (b *builder) aggregate(s ExprSpec) (*expr.Aggregate, error) {
	fn, ok := aggregateFuncs[strings.ToLower(s.Agg)]
	if !ok {
		return nil, fmt.Errorf("unknown aggregate %q", s.Agg)
	}
	a := &expr.Aggregate{Func: fn, Distinct: s.Distinct}
	if s.Arg != nil {
		arg, err := b.expr(*s.Arg)
		if err != nil {
			return nil, err
		}
		a.Arg = arg
	} else if fn != expr.Count {
		return nil, fmt.Errorf("%s needs an argument", s.Agg)
	}
	switch {
	case s.Type != "":
		t, err := metadata.ParseDataType(s.Type)
		if err != nil {
			return nil, err
		}
		a.DataType = t
	case fn == expr.Count:
		a.DataType = metadata.TypeInteger
	case fn == expr.Avg && (a.Arg.Type() == metadata.TypeInteger || a.Arg.Type() == metadata.TypeLong):
		a.DataType = metadata.TypeDouble
	default:
		a.DataType = a.Arg.Type()
	}
	return a, nil
}

func literal(s ExprSpec) (*expr.Constant, error) {
	v, err := ir.FromGo(s.Value)
	if err != nil {
		return nil, err
	}
	c := expr.Lit(v)
	if s.Type != "" {
		if c.DataType, err = metadata.ParseDataType(s.Type); err != nil {
			return nil, err
		}
	}
	return c, nil
}

var compareOps = map[string]expr.CompareOp{
	"=": expr.EQ, "<>": expr.NE, "!=": expr.NE,
	"<": expr.LT, "<=": expr.LE, ">": expr.GT, ">=": expr.GE,
}

func (b *builder) criteria(s CriteriaSpec) (expr.Criteria, error) {
	switch {
	case s.Op != "":
		op, ok := compareOps[s.Op]
		if !ok {
			return nil, fmt.Errorf("unknown comparison %q", s.Op)
		}
		if s.Left == nil || s.Right == nil {
			return nil, fmt.Errorf("comparison %s needs left and right", s.Op)
		}
		l, err := b.expr(*s.Left)
		if err != nil {
			return nil, err
		}
		r, err := b.expr(*s.Right)
		if err != nil {
			return nil, err
		}
		return &expr.Compare{Op: op, Left: l, Right: r}, nil
	case len(s.And) > 0:
		return b.compound(expr.And, s.And)
	case len(s.Or) > 0:
		return b.compound(expr.Or, s.Or)
	case s.Not != nil:
		c, err := b.criteria(*s.Not)
		if err != nil {
			return nil, err
		}
		return &expr.Not{Criteria: c}, nil
	case s.IsNull != nil, s.IsNotNull != nil:
		target, negated := s.IsNull, false
		if target == nil {
			target, negated = s.IsNotNull, true
		}
		e, err := b.expr(*target)
		if err != nil {
			return nil, err
		}
		return &expr.IsNull{Expr: e, Negated: negated}, nil
	case s.In != nil:
		e, err := b.expr(*s.In)
		if err != nil {
			return nil, err
		}
		values, err := b.exprs(s.Values)
		if err != nil {
			return nil, err
		}
		return &expr.In{Expr: e, Values: values}, nil
	case s.Like != nil:
		e, err := b.expr(*s.Like)
		if err != nil {
			return nil, err
		}
		return &expr.Like{Expr: e, Pattern: expr.Lit(ir.String(s.Pattern))}, nil
	}
	return nil, fmt.Errorf("empty criteria")
}

func (b *builder) compound(op expr.LogicalOp, specs []CriteriaSpec) (expr.Criteria, error) {
	out := &expr.Compound{Op: op}
	for _, s := range specs {
		c, err := b.criteria(s)
		if err != nil {
			return nil, err
		}
		out.Criteria = append(out.Criteria, c)
	}
	return out, nil
}

func joinType(name string) (expr.JoinType, error) {
	switch strings.ToLower(name) {
	case "", "inner":
		return expr.InnerJoin, nil
	case "cross":
		return expr.CrossJoin, nil
	case "left":
		return expr.LeftOuterJoin, nil
	case "right":
		return expr.RightOuterJoin, nil
	case "full":
		return expr.FullOuterJoin, nil
	}
	return 0, fmt.Errorf("unknown join type %q", name)
}

func setOp(name string) (expr.SetOp, error) {
	switch strings.ToLower(name) {
	case "union":
		return expr.Union, nil
	case "intersect":
		return expr.Intersect, nil
	case "except":
		return expr.Except, nil
	}
	return 0, fmt.Errorf("unknown set operation %q", name)
}

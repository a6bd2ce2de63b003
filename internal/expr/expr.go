// Package expr is the engine's resolved relational representation:
// expressions, criteria, and commands as the planner sees them.
//
// Expr, Criteria, Command, and FromClause are sealed interfaces. Only types in
// this package implement them, so every switch over them in the planner and
// the translator can be exhaustive.
package expr

import (
	"strings"

	"github.com/roach88/fedq/internal/ir"
	"github.com/roach88/fedq/internal/metadata"
)

// Expr is a scalar expression.
type Expr interface {
	exprNode() // Marker method - seals interface to this package
	Type() metadata.DataType
}

// GroupRef names a group as it is used in a command.
// Name is the alias when one was given, otherwise the definition.
type GroupRef struct {
	Name       string
	Definition string
}

// Group references a group by its fully qualified definition name.
func Group(definition string) GroupRef {
	return GroupRef{Name: definition, Definition: definition}
}

// Aliased references definition under alias.
func Aliased(alias, definition string) GroupRef {
	return GroupRef{Name: alias, Definition: definition}
}

// IsAliased reports whether the reference uses a correlation name.
func (g GroupRef) IsAliased() bool {
	return !strings.EqualFold(g.Name, g.Definition)
}

// Column references an element of a group.
type Column struct {
	Group    GroupRef
	Name     string // short element name
	DataType metadata.DataType
}

func (*Column) exprNode()                 {}
func (c *Column) Type() metadata.DataType { return c.DataType }

// ElementID is the fully qualified metadata id of the element.
func (c *Column) ElementID() string { return c.Group.Definition + "." + c.Name }

// Col is a shorthand for an unaliased column reference.
func Col(group, name string, t metadata.DataType) *Column {
	return &Column{Group: Group(group), Name: name, DataType: t}
}

// Constant is a literal value.
type Constant struct {
	Value    ir.Value
	DataType metadata.DataType
	// Multi marks a multi-valued literal (Value is an ir.Array) that expands
	// to one value per execution.
	Multi bool
	// Bindable literals may be sent to the source as bind parameters.
	Bindable bool
}

func (*Constant) exprNode()                 {}
func (c *Constant) Type() metadata.DataType { return c.DataType }

// Lit builds a bindable constant, inferring the type from the value.
func Lit(v ir.Value) *Constant {
	return &Constant{Value: v, DataType: typeOf(v), Bindable: true}
}

func typeOf(v ir.Value) metadata.DataType {
	switch v.(type) {
	case ir.String:
		return metadata.TypeString
	case ir.Int:
		return metadata.TypeLong
	case ir.Bool:
		return metadata.TypeBoolean
	case ir.Decimal:
		return metadata.TypeDecimal
	default:
		return metadata.TypeNull
	}
}

// PushdownMode says where a function may be evaluated.
type PushdownMode int

const (
	CanPushdown PushdownMode = iota
	MustPushdown
	CannotPushdown
)

// FunctionDescriptor is the resolved metadata of a function invocation.
type FunctionDescriptor struct {
	// Name is the canonical function name.
	Name string
	// Qualified carries the schema-qualified name for source-specific functions.
	Qualified string
	Pushdown  PushdownMode
	// NameInSource is the name declared by the translator for functions that
	// must be pushed down.
	NameInSource string
}

// Function is a scalar function invocation.
type Function struct {
	Name       string
	Args       []Expr
	Descriptor *FunctionDescriptor
	DataType   metadata.DataType
}

func (*Function) exprNode()                 {}
func (f *Function) Type() metadata.DataType { return f.DataType }

// Conversion reports the source and target types when f is a CONVERT or
// CAST whose second argument names the target type.
func (f *Function) Conversion() (from, to metadata.DataType, ok bool) {
	if !strings.EqualFold(f.Name, "convert") && !strings.EqualFold(f.Name, "cast") {
		return "", "", false
	}
	if len(f.Args) != 2 {
		return "", "", false
	}
	target, isConst := f.Args[1].(*Constant)
	if !isConst {
		return "", "", false
	}
	name, isString := target.Value.(ir.String)
	if !isString {
		return "", "", false
	}
	return f.Args[0].Type(), metadata.DataType(strings.ToLower(string(name))), true
}

// IsInfix reports whether f is a binary arithmetic operator.
func (f *Function) IsInfix() bool {
	switch f.Name {
	case "+", "-", "*", "/":
		return len(f.Args) == 2
	}
	return false
}

// Convert builds CONVERT(e, target).
func Convert(e Expr, target metadata.DataType) *Function {
	return &Function{
		Name:     "convert",
		Args:     []Expr{e, &Constant{Value: ir.String(target), DataType: metadata.TypeString}},
		DataType: target,
	}
}

// AggregateFunc is an aggregate function kind.
type AggregateFunc int

const (
	Count AggregateFunc = iota
	Sum
	Avg
	Min
	Max
)

var aggregateNames = []string{"COUNT", "SUM", "AVG", "MIN", "MAX"}

func (a AggregateFunc) String() string { return aggregateNames[a] }

// Aggregate is an aggregate function. Arg is nil for COUNT(*).
type Aggregate struct {
	Func     AggregateFunc
	Distinct bool
	Arg      Expr
	DataType metadata.DataType
}

func (*Aggregate) exprNode()                 {}
func (a *Aggregate) Type() metadata.DataType { return a.DataType }

// IsCountStar reports whether a is COUNT(*).
func (a *Aggregate) IsCountStar() bool { return a.Func == Count && a.Arg == nil }

// Subquery is a nested query command. The planner resolves it before the
// enclosing fragment is considered for push-down.
type Subquery struct {
	Command QueryCommand
	// Model is the physical model the whole subquery was pushed to, or empty
	// when it could not be pushed as a unit.
	Model string
	// Correlated subqueries reference groups of the enclosing query.
	Correlated bool
	// AggregateAllowed marks subqueries whose aggregate projection was
	// proven safe to push.
	AggregateAllowed bool
}

// ScalarSubquery is a subquery used as a single value.
type ScalarSubquery struct {
	Subquery *Subquery
	DataType metadata.DataType
}

func (*ScalarSubquery) exprNode()                 {}
func (s *ScalarSubquery) Type() metadata.DataType { return s.DataType }

// Reference is a placeholder whose values are supplied at execution time,
// such as the independent side of a dependent join.
type Reference struct {
	Name     string
	DataType metadata.DataType
}

func (*Reference) exprNode()                 {}
func (r *Reference) Type() metadata.DataType { return r.DataType }

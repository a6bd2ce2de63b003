// Package language is the connector-facing command representation. The
// translator produces it from the planner's expressions; connectors consume
// it without needing to know about plans, metadata, or capabilities.
//
// Command, TableReference, Expression, and Condition are sealed. A connector
// switching over them sees every variant it can receive.
package language

import (
	"github.com/roach88/fedq/internal/ir"
	"github.com/roach88/fedq/internal/metadata"
)

// Unbounded is the row limit of a Limit without one.
const Unbounded = -1

// Command is a statement pushed to a connector.
type Command interface {
	command() // Marker method - seals interface to this package
}

// QueryExpression is a command returning rows: a Select or a SetQuery.
type QueryExpression interface {
	Command
	queryExpression()
}

// DerivedColumn is one output column of a Select.
type DerivedColumn struct {
	Alias string
	Expr  Expression
}

// Select is a SELECT statement.
type Select struct {
	Distinct bool
	Columns  []*DerivedColumn
	From     []TableReference
	Where    Condition
	GroupBy  []Expression
	Having   Condition
	OrderBy  *OrderBy
	Limit    *Limit
}

// SetOperation is UNION, INTERSECT, or EXCEPT.
type SetOperation int

const (
	Union SetOperation = iota
	Intersect
	Except
)

var setOperationNames = []string{"UNION", "INTERSECT", "EXCEPT"}

func (o SetOperation) String() string { return setOperationNames[o] }

// SetQuery combines two query expressions.
type SetQuery struct {
	Operation SetOperation
	All       bool
	Left      QueryExpression
	Right     QueryExpression
	OrderBy   *OrderBy
	Limit     *Limit
}

// Direction of a procedure argument.
type Direction int

const (
	DirIn Direction = iota
	DirOut
	DirInOut
	DirReturn
)

var directionNames = []string{"IN", "OUT", "INOUT", "RETURN"}

func (d Direction) String() string { return directionNames[d] }

// Argument is one procedure argument. Value is nil for OUT and RETURN.
type Argument struct {
	Name         string
	NameInSource string
	Direction    Direction
	Type         metadata.DataType
	Value        Expression
}

// Call invokes a stored procedure.
type Call struct {
	Name         string
	NameInSource string
	Arguments    []*Argument
	// ResultSetTypes are the column types of the procedure's result set.
	ResultSetTypes []metadata.DataType
}

// OutputCount is the number of OUT, INOUT, and RETURN arguments.
func (c *Call) OutputCount() int {
	n := 0
	for _, a := range c.Arguments {
		if a.Direction != DirIn {
			n++
		}
	}
	return n
}

// Insert adds one row.
type Insert struct {
	Table   *NamedTable
	Columns []*ColumnReference
	Values  []Expression
}

// SetClause is one assignment of an Update.
type SetClause struct {
	Column *ColumnReference
	Value  Expression
}

// Update modifies rows.
type Update struct {
	Table   *NamedTable
	Changes []*SetClause
	Where   Condition
}

// Delete removes rows.
type Delete struct {
	Table *NamedTable
	Where Condition
}

func (*Select) command()           {}
func (*Select) queryExpression()   {}
func (*SetQuery) command()         {}
func (*SetQuery) queryExpression() {}
func (*Call) command()             {}
func (*Insert) command()           {}
func (*Update) command()           {}
func (*Delete) command()           {}

// TableReference is an item of a FROM clause.
type TableReference interface {
	tableReference() // Marker method - seals interface to this package
}

// NamedTable is a physical table.
type NamedTable struct {
	Name         string // fully qualified metadata name
	NameInSource string
	Correlation  string // alias, empty when none
}

// JoinType of a Join.
type JoinType int

const (
	InnerJoin JoinType = iota
	CrossJoin
	LeftOuterJoin
	RightOuterJoin
	FullOuterJoin
)

var joinTypeNames = []string{"INNER JOIN", "CROSS JOIN", "LEFT OUTER JOIN", "RIGHT OUTER JOIN", "FULL OUTER JOIN"}

func (j JoinType) String() string { return joinTypeNames[j] }

// Join joins two table references.
type Join struct {
	Type      JoinType
	Left      TableReference
	Right     TableReference
	Condition Condition
}

// DerivedTable is an inline view.
type DerivedTable struct {
	Query       QueryExpression
	Correlation string
}

func (*NamedTable) tableReference()   {}
func (*Join) tableReference()         {}
func (*DerivedTable) tableReference() {}

// Expression is a scalar expression.
type Expression interface {
	expression() // Marker method - seals interface to this package
	DataType() metadata.DataType
}

// ColumnReference reads a column. Qualifier is the correlation name or the
// source name of the table it belongs to.
type ColumnReference struct {
	Qualifier    string
	Name         string
	NameInSource string
	Type         metadata.DataType
}

// Literal is a constant value.
type Literal struct {
	Value ir.Value
	Type  metadata.DataType
	// Multi literals hold an ir.Array with one value per execution.
	Multi bool
	// BindEligible literals may be sent as bind parameters.
	BindEligible bool
}

// Function is a scalar function call. Binary arithmetic operators use their
// symbol as Name.
type Function struct {
	Name string
	Args []Expression
	Type metadata.DataType
}

// IsInfix reports whether f is a binary arithmetic operator.
func (f *Function) IsInfix() bool {
	switch f.Name {
	case "+", "-", "*", "/":
		return len(f.Args) == 2
	}
	return false
}

// AggregateFunction is an aggregate. Arg is nil for COUNT(*).
type AggregateFunction struct {
	Name     string
	Distinct bool
	Arg      Expression
	Type     metadata.DataType
}

// ScalarSubquery is a query used as one value.
type ScalarSubquery struct {
	Query QueryExpression
	Type  metadata.DataType
}

// Parameter is a value supplied at execution time, such as the values of
// a dependent join.
type Parameter struct {
	Name string
	Type metadata.DataType
}

func (*ColumnReference) expression()   {}
func (*Literal) expression()           {}
func (*Function) expression()          {}
func (*AggregateFunction) expression() {}
func (*ScalarSubquery) expression()    {}
func (*Parameter) expression()         {}

func (c *ColumnReference) DataType() metadata.DataType   { return c.Type }
func (l *Literal) DataType() metadata.DataType           { return l.Type }
func (f *Function) DataType() metadata.DataType          { return f.Type }
func (a *AggregateFunction) DataType() metadata.DataType { return a.Type }
func (s *ScalarSubquery) DataType() metadata.DataType    { return s.Type }
func (p *Parameter) DataType() metadata.DataType         { return p.Type }

// Condition is a boolean condition.
type Condition interface {
	condition() // Marker method - seals interface to this package
}

// Operator of a Comparison.
type Operator int

const (
	EQ Operator = iota
	NE
	LT
	LE
	GT
	GE
)

var operatorNames = []string{"=", "<>", "<", "<=", ">", ">="}

func (o Operator) String() string { return operatorNames[o] }

// Comparison is Left <op> Right.
type Comparison struct {
	Operator Operator
	Left     Expression
	Right    Expression
}

// LogicalOperator of an AndOr.
type LogicalOperator int

const (
	And LogicalOperator = iota
	Or
)

func (o LogicalOperator) String() string {
	if o == Or {
		return "OR"
	}
	return "AND"
}

// AndOr combines conditions.
type AndOr struct {
	Operator   LogicalOperator
	Conditions []Condition
}

// Not negates a condition.
type Not struct {
	Condition Condition
}

// IsNull is Expr IS [NOT] NULL.
type IsNull struct {
	Expr    Expression
	Negated bool
}

// In is Expr [NOT] IN (Values...).
type In struct {
	Expr    Expression
	Values  []Expression
	Negated bool
}

// Like is Expr [NOT] LIKE Pattern [ESCAPE Escape].
type Like struct {
	Expr    Expression
	Pattern Expression
	Escape  rune
	Negated bool
}

// Exists is [NOT] EXISTS (Query).
type Exists struct {
	Query   QueryExpression
	Negated bool
}

// SubqueryIn is Expr [NOT] IN (Query).
type SubqueryIn struct {
	Expr    Expression
	Query   QueryExpression
	Negated bool
}

// Quantifier of a SubqueryComparison.
type Quantifier int

const (
	Some Quantifier = iota
	All
)

// SubqueryComparison is Expr <op> SOME|ALL (Query).
type SubqueryComparison struct {
	Expr       Expression
	Operator   Operator
	Quantifier Quantifier
	Query      QueryExpression
}

func (*Comparison) condition()         {}
func (*AndOr) condition()              {}
func (*Not) condition()                {}
func (*IsNull) condition()             {}
func (*In) condition()                 {}
func (*Like) condition()               {}
func (*Exists) condition()             {}
func (*SubqueryIn) condition()         {}
func (*SubqueryComparison) condition() {}

// Ordering is a sort direction.
type Ordering int

const (
	Asc Ordering = iota
	Desc
)

// NullOrdering is an explicit null placement.
type NullOrdering int

const (
	NullsDefault NullOrdering = iota
	NullsFirst
	NullsLast
)

// SortSpecification is one ORDER BY key.
type SortSpecification struct {
	Expr     Expression
	Ordering Ordering
	Nulls    NullOrdering
}

// OrderBy is an ORDER BY clause.
type OrderBy struct {
	Items []*SortSpecification
}

// Limit restricts the rows returned. RowLimit is Unbounded when only an
// offset applies.
type Limit struct {
	Offset   int
	RowLimit int
}

// ColumnTypes returns the output column types of a query.
func ColumnTypes(q QueryExpression) []metadata.DataType {
	for {
		switch v := q.(type) {
		case *Select:
			out := make([]metadata.DataType, len(v.Columns))
			for i, c := range v.Columns {
				out[i] = c.Expr.DataType()
			}
			return out
		case *SetQuery:
			q = v.Left
		default:
			return nil
		}
	}
}

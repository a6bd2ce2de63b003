package expr

import (
	"fmt"

	"github.com/roach88/fedq/internal/metadata"
)

// Command is a complete statement handed to a source.
type Command interface {
	commandNode() // Marker method - seals interface to this package
}

// QueryCommand is a command producing rows: a Query or a SetQuery.
type QueryCommand interface {
	Command
	queryCommand()
}

// SelectItem is one projected expression.
type SelectItem struct {
	Expr  Expr
	Alias string
}

// Name returns the output column name of the item at position i.
func (s SelectItem) Name(i int) string {
	if s.Alias != "" {
		return s.Alias
	}
	if c, ok := s.Expr.(*Column); ok {
		return c.Name
	}
	return fmt.Sprintf("expr%d", i+1)
}

// Select is the projection of a Query.
type Select struct {
	Distinct bool
	Items    []SelectItem
}

// FromClause is one item of a FROM list.
type FromClause interface {
	fromNode() // Marker method - seals interface to this package
}

// UnaryFrom is a single group.
type UnaryFrom struct {
	Group GroupRef
}

func (*UnaryFrom) fromNode() {}

// JoinType is a join flavor.
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

// IsOuter reports whether j preserves unmatched rows of either side.
func (j JoinType) IsOuter() bool {
	return j == LeftOuterJoin || j == RightOuterJoin || j == FullOuterJoin
}

// JoinPredicate joins two from clauses.
type JoinPredicate struct {
	Type     JoinType
	Left     FromClause
	Right    FromClause
	Criteria []Criteria
}

func (*JoinPredicate) fromNode() {}

// SubqueryFrom is an inline view.
type SubqueryFrom struct {
	Alias   string
	Command QueryCommand
}

func (*SubqueryFrom) fromNode() {}

// NullOrdering is an explicit NULLS FIRST/LAST request.
type NullOrdering int

const (
	NullsDefault NullOrdering = iota
	NullsFirst
	NullsLast
)

// OrderByItem is one sort key.
type OrderByItem struct {
	Expr       Expr
	Descending bool
	Nulls      NullOrdering
}

// OrderBy is an ORDER BY clause.
type OrderBy struct {
	Items []OrderByItem
}

// NoLimit marks an unbounded row limit.
const NoLimit = -1

// Limit is LIMIT/OFFSET. RowLimit is NoLimit when only an offset applies.
type Limit struct {
	Offset   int
	RowLimit int
}

// Query is a SELECT statement.
type Query struct {
	Select  Select
	From    []FromClause
	Where   Criteria
	GroupBy []Expr
	Having  Criteria
	OrderBy *OrderBy
	Limit   *Limit
}

func (*Query) commandNode()  {}
func (*Query) queryCommand() {}

// SetOp is a set operation kind.
type SetOp int

const (
	Union SetOp = iota
	Intersect
	Except
)

var setOpNames = []string{"UNION", "INTERSECT", "EXCEPT"}

func (o SetOp) String() string { return setOpNames[o] }

// SetQuery combines two queries.
type SetQuery struct {
	Op      SetOp
	All     bool
	Left    QueryCommand
	Right   QueryCommand
	OrderBy *OrderBy
	Limit   *Limit
}

func (*SetQuery) commandNode()  {}
func (*SetQuery) queryCommand() {}

// SPParameter is one argument of a procedure call.
type SPParameter struct {
	Name      string
	Direction metadata.Direction
	DataType  metadata.DataType
	// Value is the bound input; nil for unbound and output parameters.
	Value Expr
}

// StoredProcedure is a procedure call.
type StoredProcedure struct {
	Name      string // fully qualified procedure name
	Params    []*SPParameter
	ResultSet []metadata.DataType
}

func (*StoredProcedure) commandNode() {}

// Param returns the named parameter or nil.
func (p *StoredProcedure) Param(name string) *SPParameter {
	for _, sp := range p.Params {
		if sp.Name == name {
			return sp
		}
	}
	return nil
}

// Insert adds one row.
type Insert struct {
	Group   GroupRef
	Columns []*Column
	Values  []Expr
}

func (*Insert) commandNode() {}

// SetClause is one assignment of an UPDATE.
type SetClause struct {
	Column *Column
	Value  Expr
}

// Update modifies rows matching Where.
type Update struct {
	Group   GroupRef
	Changes []SetClause
	Where   Criteria
}

func (*Update) commandNode() {}

// Delete removes rows matching Where.
type Delete struct {
	Group GroupRef
	Where Criteria
}

func (*Delete) commandNode() {}

// Package metadata is the planner's view of the virtual database schema:
// models, groups (tables and views), elements (columns), and procedures.
package metadata

import (
	"errors"
	"fmt"
	"strings"
)

// DataType is the runtime type of an element, parameter, or expression.
type DataType string

const (
	TypeString    DataType = "string"
	TypeInteger   DataType = "integer"
	TypeLong      DataType = "long"
	TypeDouble    DataType = "double"
	TypeDecimal   DataType = "bigdecimal"
	TypeBoolean   DataType = "boolean"
	TypeDate      DataType = "date"
	TypeTimestamp DataType = "timestamp"
	TypeClob      DataType = "clob"
	TypeBlob      DataType = "blob"
	TypeXML       DataType = "xml"
	TypeObject    DataType = "object"
	TypeNull      DataType = "null"
)

var knownTypes = map[DataType]bool{
	TypeString: true, TypeInteger: true, TypeLong: true, TypeDouble: true,
	TypeDecimal: true, TypeBoolean: true, TypeDate: true, TypeTimestamp: true,
	TypeClob: true, TypeBlob: true, TypeXML: true, TypeObject: true, TypeNull: true,
}

// ParseDataType resolves a configuration type name.
func ParseDataType(s string) (DataType, error) {
	t := DataType(strings.ToLower(s))
	if !knownTypes[t] {
		return "", fmt.Errorf("unknown data type %q", s)
	}
	return t, nil
}

// IsLOB reports whether t is a large object type.
func (t DataType) IsLOB() bool {
	return t == TypeClob || t == TypeBlob
}

// Nullability of an element or parameter.
type Nullability int

const (
	NullableUnknown Nullability = iota
	Nullable
	NotNull
)

// Direction of a procedure parameter.
type Direction int

const (
	In Direction = iota
	Out
	InOut
	Return
	ResultSet
)

var directionNames = []string{"in", "out", "inout", "return", "result_set"}

func (d Direction) String() string {
	if int(d) < 0 || int(d) >= len(directionNames) {
		return fmt.Sprintf("direction(%d)", int(d))
	}
	return directionNames[d]
}

// ParseDirection resolves a configuration direction name.
func ParseDirection(s string) (Direction, error) {
	for i, n := range directionNames {
		if strings.EqualFold(n, s) {
			return Direction(i), nil
		}
	}
	return 0, fmt.Errorf("unknown parameter direction %q", s)
}

// IsInput reports whether a caller supplies a value for the parameter.
func (d Direction) IsInput() bool { return d == In || d == InOut }

// Feature is a per-model support override. Metadata can veto a construct for
// a model even when its connector advertises the capability.
type Feature string

const (
	FeatureOrderBy   Feature = "order_by"
	FeatureJoin      Feature = "join"
	FeatureOuterJoin Feature = "outer_join"
	FeatureGroupBy   Feature = "group_by"
	FeatureDistinct  Feature = "distinct"
	FeatureLimit     Feature = "limit"
)

// ErrNotFound is returned (wrapped) for unknown model, group, element, or procedure names.
var ErrNotFound = errors.New("not found")

// Model is a named schema partition.
type Model struct {
	Name string
	// Virtual models are computed by the engine and are never push-down targets.
	Virtual bool
	// Connector names the connector binding of a physical model.
	Connector   string
	Unsupported []Feature
}

// Group is a table, view, or procedure result set.
type Group struct {
	Name         string // fully qualified: model.table
	Model        string
	NameInSource string
	Elements     []*Element
	// CriteriaRequired groups may not be queried without a WHERE clause.
	CriteriaRequired bool
	UniqueKeys       [][]string // short element names
}

// ShortName returns the unqualified group name.
func (g *Group) ShortName() string { return shortName(g.Name) }

// SourceName returns the name used when talking to the source.
func (g *Group) SourceName() string {
	if g.NameInSource != "" {
		return g.NameInSource
	}
	return g.ShortName()
}

// Element is a column of a group.
type Element struct {
	Name         string // fully qualified: model.table.column
	Group        string
	NameInSource string
	Type         DataType
	Nullability  Nullability
}

// ShortName returns the unqualified element name.
func (e *Element) ShortName() string { return shortName(e.Name) }

// SourceName returns the name used when talking to the source.
func (e *Element) SourceName() string {
	if e.NameInSource != "" {
		return e.NameInSource
	}
	return e.ShortName()
}

// Procedure is a stored procedure, physical or virtual.
type Procedure struct {
	Name         string // fully qualified: model.proc
	Model        string
	Virtual      bool
	NameInSource string
	Params       []*Parameter
	ResultSet    []*Element
}

// ShortName returns the unqualified procedure name.
func (p *Procedure) ShortName() string { return shortName(p.Name) }

// Parameter is a declared procedure parameter.
type Parameter struct {
	Name        string
	Direction   Direction
	Type        DataType
	Nullability Nullability
	// Default is the literal text bound when the caller supplies nothing.
	Default    any
	HasDefault bool
}

// Metadata answers schema lookups for the planner and translator.
type Metadata interface {
	Model(name string) (*Model, error)
	Group(name string) (*Group, error)
	Element(name string) (*Element, error)
	Procedure(name string) (*Procedure, error)
}

// ModelSupports reports whether metadata leaves feature enabled for the model.
func ModelSupports(m *Model, feature Feature) bool {
	if m == nil {
		return false
	}
	for _, f := range m.Unsupported {
		if f == feature {
			return false
		}
	}
	return true
}

// ModelOfGroup resolves the model owning a group.
func ModelOfGroup(md Metadata, group string) (*Model, error) {
	g, err := md.Group(group)
	if err != nil {
		return nil, err
	}
	return md.Model(g.Model)
}

func shortName(qualified string) string {
	if i := strings.LastIndexByte(qualified, '.'); i >= 0 {
		return qualified[i+1:]
	}
	return qualified
}

// Package capability describes what a physical source can execute natively.
//
// A Snapshot is built once per connector and never mutated afterwards. Boolean
// properties are a closed enumeration stored in a fixed-size bitset, so adding
// a construct means adding a constant and its name below.
package capability

import (
	"fmt"
	"math/bits"
	"slices"
	"strings"
)

// Capability is one boolean property of a source.
type Capability uint8

const (
	Joins Capability = iota
	SelfJoins
	OuterJoins
	FullOuterJoins
	JoinExpressions
	InlineViews

	CriteriaCompareEQ
	CriteriaCompareOrdered
	CriteriaLike
	CriteriaLikeEscape
	CriteriaIn
	CriteriaIsNull
	CriteriaNot
	CriteriaOr
	CriteriaExists
	CriteriaInSubquery
	CriteriaQuantifiedSubquery
	DependentJoins

	ScalarSubqueries
	CorrelatedSubqueries
	SubqueriesInOn

	SelectDistinct
	SelectLiterals

	OrderBy
	OrderByUnrelated
	OrderByNullOrdering
	SetQueryOrderBy

	AggregatesGroupBy
	AggregatesHaving
	AggregatesCount
	AggregatesCountStar
	AggregatesSum
	AggregatesAvg
	AggregatesMin
	AggregatesMax
	AggregatesDistinct
	FunctionsInGroupBy

	Union
	Intersect
	Except

	RowLimit
	RowOffset

	CommonTableExpressions
	BulkUpdate
	BatchedUpdates

	numCapabilities
)

// Count is the number of defined capabilities.
const Count = int(numCapabilities)

var names = [numCapabilities]string{
	Joins:                      "joins",
	SelfJoins:                  "self_joins",
	OuterJoins:                 "outer_joins",
	FullOuterJoins:             "full_outer_joins",
	JoinExpressions:            "join_expressions",
	InlineViews:                "inline_views",
	CriteriaCompareEQ:          "criteria_compare_eq",
	CriteriaCompareOrdered:     "criteria_compare_ordered",
	CriteriaLike:               "criteria_like",
	CriteriaLikeEscape:         "criteria_like_escape",
	CriteriaIn:                 "criteria_in",
	CriteriaIsNull:             "criteria_is_null",
	CriteriaNot:                "criteria_not",
	CriteriaOr:                 "criteria_or",
	CriteriaExists:             "criteria_exists",
	CriteriaInSubquery:         "criteria_in_subquery",
	CriteriaQuantifiedSubquery: "criteria_quantified_subquery",
	DependentJoins:             "dependent_joins",
	ScalarSubqueries:           "scalar_subqueries",
	CorrelatedSubqueries:       "correlated_subqueries",
	SubqueriesInOn:             "subqueries_in_on",
	SelectDistinct:             "select_distinct",
	SelectLiterals:             "select_literals",
	OrderBy:                    "order_by",
	OrderByUnrelated:           "order_by_unrelated",
	OrderByNullOrdering:        "order_by_null_ordering",
	SetQueryOrderBy:            "set_query_order_by",
	AggregatesGroupBy:          "aggregates_group_by",
	AggregatesHaving:           "aggregates_having",
	AggregatesCount:            "aggregates_count",
	AggregatesCountStar:        "aggregates_count_star",
	AggregatesSum:              "aggregates_sum",
	AggregatesAvg:              "aggregates_avg",
	AggregatesMin:              "aggregates_min",
	AggregatesMax:              "aggregates_max",
	AggregatesDistinct:         "aggregates_distinct",
	FunctionsInGroupBy:         "functions_in_group_by",
	Union:                      "union",
	Intersect:                  "intersect",
	Except:                     "except",
	RowLimit:                   "row_limit",
	RowOffset:                  "row_offset",
	CommonTableExpressions:     "common_table_expressions",
	BulkUpdate:                 "bulk_update",
	BatchedUpdates:             "batched_updates",
}

var byName = func() map[string]Capability {
	m := make(map[string]Capability, numCapabilities)
	for i, n := range names {
		m[n] = Capability(i)
	}
	return m
}()

// String returns the configuration name of c.
func (c Capability) String() string {
	if c >= numCapabilities {
		return fmt.Sprintf("capability(%d)", uint8(c))
	}
	return names[c]
}

// Parse resolves a configuration name such as "outer_joins".
func Parse(name string) (Capability, error) {
	c, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown capability %q", name)
	}
	return c, nil
}

// All returns every defined capability in declaration order.
func All() []Capability {
	all := make([]Capability, numCapabilities)
	for i := range all {
		all[i] = Capability(i)
	}
	return all
}

const setWords = (Count + 63) / 64

// Set is a fixed-size bitset over Capability.
type Set [setWords]uint64

// NewSet returns a set holding caps.
func NewSet(caps ...Capability) Set {
	var s Set
	for _, c := range caps {
		s.Add(c)
	}
	return s
}

// Add sets c.
func (s *Set) Add(c Capability) {
	if c >= numCapabilities {
		panic(fmt.Sprintf("capability: out of range %d", c))
	}
	s[c/64] |= 1 << (c % 64)
}

// Remove clears c.
func (s *Set) Remove(c Capability) {
	if c >= numCapabilities {
		return
	}
	s[c/64] &^= 1 << (c % 64)
}

// Has reports whether c is set.
func (s Set) Has(c Capability) bool {
	if c >= numCapabilities {
		return false
	}
	return s[c/64]&(1<<(c%64)) != 0
}

// Len returns the number of set capabilities.
func (s Set) Len() int {
	n := 0
	for _, w := range s {
		n += bits.OnesCount64(w)
	}
	return n
}

// Slice returns the set capabilities in declaration order.
func (s Set) Slice() []Capability {
	out := make([]Capability, 0, s.Len())
	for i := Capability(0); i < numCapabilities; i++ {
		if s.Has(i) {
			out = append(out, i)
		}
	}
	return out
}

// Names returns the configuration names of the set capabilities.
func (s Set) Names() []string {
	caps := s.Slice()
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = c.String()
	}
	return out
}

// NullOrder is a source's default placement of nulls when sorting.
type NullOrder int

const (
	NullsUnknown NullOrder = iota
	NullsLow
	NullsHigh
	NullsFirst
	NullsLast
)

var nullOrderNames = []string{"unknown", "low", "high", "first", "last"}

func (o NullOrder) String() string {
	if int(o) < 0 || int(o) >= len(nullOrderNames) {
		return "unknown"
	}
	return nullOrderNames[o]
}

// ParseNullOrder resolves a configuration name such as "high".
func ParseNullOrder(name string) (NullOrder, error) {
	i := slices.Index(nullOrderNames, strings.ToLower(name))
	if i < 0 {
		return NullsUnknown, fmt.Errorf("unknown null order %q", name)
	}
	return NullOrder(i), nil
}

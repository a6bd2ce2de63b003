package capability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryCapabilityHasAName(t *testing.T) {
	seen := make(map[string]bool)
	for _, c := range All() {
		name := c.String()
		require.NotEmpty(t, name, "capability %d has no name", c)
		require.False(t, seen[name], "duplicate name %q", name)
		seen[name] = true

		parsed, err := Parse(name)
		require.NoError(t, err)
		assert.Equal(t, c, parsed)
	}
	assert.Len(t, seen, Count)
}

func TestParse(t *testing.T) {
	c, err := Parse(" Outer_Joins ")
	require.NoError(t, err)
	assert.Equal(t, OuterJoins, c)

	_, err = Parse("teleport")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown capability")
}

func TestSet(t *testing.T) {
	s := NewSet(Joins, BatchedUpdates)
	assert.True(t, s.Has(Joins))
	assert.True(t, s.Has(BatchedUpdates))
	assert.False(t, s.Has(OrderBy))
	assert.Equal(t, 2, s.Len())

	s.Remove(Joins)
	assert.False(t, s.Has(Joins))
	assert.Equal(t, []string{"batched_updates"}, s.Names())
	assert.False(t, s.Has(numCapabilities))
}

func TestSetAddOutOfRangePanics(t *testing.T) {
	var s Set
	assert.Panics(t, func() { s.Add(numCapabilities) })
}

func TestBuilder(t *testing.T) {
	b := NewBuilder("pg-1").
		Enable(Joins, OrderBy).
		Functions("UPPER", "concat").
		MaxInCriteriaSize(100).
		NullOrder(NullsHigh)
	s := b.Build()

	assert.True(t, s.Supports(Joins))
	assert.False(t, s.Supports(Union))
	assert.True(t, s.SupportsFunction("upper"))
	assert.True(t, s.SupportsFunction("CONCAT"))
	assert.False(t, s.SupportsFunction("lower"))
	assert.Equal(t, []string{"concat", "upper"}, s.Functions())
	assert.Equal(t, 100, s.MaxInCriteriaSize())
	assert.Equal(t, Unbounded, s.MaxFromGroups())
	assert.Equal(t, Unbounded, s.MaxDependentPredicates())
	assert.Equal(t, NullsHigh, s.NullOrder())
	assert.Equal(t, "pg-1", s.ConnectorID())

	// later builder changes do not leak into built snapshots
	b.Enable(Union).Functions("lower")
	assert.False(t, s.Supports(Union))
	assert.False(t, s.SupportsFunction("lower"))
}

func TestBuilderEnableNames(t *testing.T) {
	b := NewBuilder("x")
	require.NoError(t, b.EnableNames("union", "row_limit"))
	s := b.Build()
	assert.True(t, s.Supports(Union))
	assert.True(t, s.Supports(RowLimit))

	require.Error(t, b.EnableNames("nope"))
}

func TestNilSnapshotSupportsNothing(t *testing.T) {
	var s *Snapshot
	assert.False(t, s.Supports(Joins))
	assert.False(t, s.SupportsFunction("upper"))
}

func TestParseNullOrder(t *testing.T) {
	o, err := ParseNullOrder("LAST")
	require.NoError(t, err)
	assert.Equal(t, NullsLast, o)
	assert.Equal(t, "last", o.String())

	_, err = ParseNullOrder("middle")
	require.Error(t, err)
}

func TestStaticFinder(t *testing.T) {
	s := NewBuilder("c").Build()
	f := StaticFinder{"m": s}

	got, err := f.Find(context.Background(), "m")
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = f.Find(context.Background(), "other")
	require.Error(t, err)
}

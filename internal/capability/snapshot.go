package capability

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Unbounded is the sentinel for numeric limits that are unknown or unlimited.
const Unbounded = -1

// Snapshot is the immutable capability set of one physical source.
// Build one with a Builder; a Snapshot is safe for concurrent reads.
type Snapshot struct {
	flags                  Set
	functions              map[string]struct{}
	maxInCriteriaSize      int
	maxDependentPredicates int
	maxFromGroups          int
	nullOrder              NullOrder
	connectorID            string
}

// Supports reports whether the boolean capability c is enabled.
func (s *Snapshot) Supports(c Capability) bool {
	if s == nil {
		return false
	}
	return s.flags.Has(c)
}

// SupportsFunction reports whether the named scalar function is supported.
// Names are matched case-insensitively.
func (s *Snapshot) SupportsFunction(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.functions[strings.ToLower(name)]
	return ok
}

// Flags returns a copy of the boolean capabilities.
func (s *Snapshot) Flags() Set { return s.flags }

// Functions returns the supported function names, sorted.
func (s *Snapshot) Functions() []string {
	return slices.Sorted(maps.Keys(s.functions))
}

func (s *Snapshot) MaxInCriteriaSize() int      { return s.maxInCriteriaSize }
func (s *Snapshot) MaxDependentPredicates() int { return s.maxDependentPredicates }
func (s *Snapshot) MaxFromGroups() int          { return s.maxFromGroups }
func (s *Snapshot) NullOrder() NullOrder        { return s.nullOrder }

// ConnectorID identifies the physical connector the snapshot describes.
// Two models whose snapshots share a ConnectorID can be merged into one
// pushed fragment.
func (s *Snapshot) ConnectorID() string { return s.connectorID }

// Builder assembles a Snapshot. The zero value is not usable; call NewBuilder.
type Builder struct {
	s Snapshot
}

// NewBuilder starts a snapshot for connectorID with all limits unbounded.
func NewBuilder(connectorID string) *Builder {
	return &Builder{s: Snapshot{
		functions:              make(map[string]struct{}),
		maxInCriteriaSize:      Unbounded,
		maxDependentPredicates: Unbounded,
		maxFromGroups:          Unbounded,
		connectorID:            connectorID,
	}}
}

// Enable sets the given boolean capabilities.
func (b *Builder) Enable(caps ...Capability) *Builder {
	for _, c := range caps {
		b.s.flags.Add(c)
	}
	return b
}

// Disable clears the given boolean capabilities.
func (b *Builder) Disable(caps ...Capability) *Builder {
	for _, c := range caps {
		b.s.flags.Remove(c)
	}
	return b
}

// EnableNames parses and sets capabilities by configuration name.
func (b *Builder) EnableNames(names ...string) error {
	for _, n := range names {
		c, err := Parse(n)
		if err != nil {
			return err
		}
		b.s.flags.Add(c)
	}
	return nil
}

// Functions adds supported scalar function names.
func (b *Builder) Functions(names ...string) *Builder {
	for _, n := range names {
		b.s.functions[strings.ToLower(n)] = struct{}{}
	}
	return b
}

func (b *Builder) MaxInCriteriaSize(n int) *Builder {
	b.s.maxInCriteriaSize = n
	return b
}

func (b *Builder) MaxDependentPredicates(n int) *Builder {
	b.s.maxDependentPredicates = n
	return b
}

func (b *Builder) MaxFromGroups(n int) *Builder {
	b.s.maxFromGroups = n
	return b
}

func (b *Builder) NullOrder(o NullOrder) *Builder {
	b.s.nullOrder = o
	return b
}

// Build returns an independent snapshot; the builder may keep being used.
func (b *Builder) Build() *Snapshot {
	s := b.s
	s.functions = maps.Clone(b.s.functions)
	return &s
}

// Finder maps a physical model name to the capabilities of its connector.
type Finder interface {
	Find(ctx context.Context, modelName string) (*Snapshot, error)
}

// StaticFinder serves fixed snapshots keyed by model name.
type StaticFinder map[string]*Snapshot

// Find implements Finder.
func (f StaticFinder) Find(_ context.Context, modelName string) (*Snapshot, error) {
	s, ok := f[modelName]
	if !ok {
		return nil, fmt.Errorf("no capabilities for model %q", modelName)
	}
	return s, nil
}

// Package testutil holds deterministic stand-ins for tests and the scenario
// harness: sequential request ids and a scriptable in-memory connector.
package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator hands out request ids "<prefix>-1", "<prefix>-2", ...
//
// The same scenario run with a fresh generator produces identical ids, which
// keeps golden output stable.
//
// Thread-safety: All methods are safe for concurrent use.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	seq    int64
}

// NewSequenceGenerator returns a generator starting at 1. An empty prefix
// becomes "req".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "req"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s-%d", g.prefix, g.seq)
}

// Current returns how many ids were generated.
func (g *SequenceGenerator) Current() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

// Reset restarts the sequence at 1.
func (g *SequenceGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}

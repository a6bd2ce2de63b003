// Package dqp dispatches pushed fragments to connectors. A Manager owns one
// connector and the work items running against it; a WorkItem drives one
// atomic request through execute, fetch, cancel, and close.
//
// The package starts no goroutines. A scheduler calls Execute and More for
// one request at a time; Cancel and Close may arrive from other goroutines.
package dqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/fedq/internal/capability"
	"github.com/roach88/fedq/internal/connector"
	"github.com/roach88/fedq/internal/metadata"
	"github.com/roach88/fedq/internal/translate"
)

// ConnectionFactory supplies connections from outside the execution
// factory, such as a container-managed pool.
type ConnectionFactory interface {
	Connection(ctx context.Context) (connector.Connection, error)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithConnectionFactory makes work items acquire connections from cf.
func WithConnectionFactory(cf ConnectionFactory) ManagerOption {
	return func(m *Manager) {
		m.connections = cf
	}
}

// WithMetadata resolves names during translation.
func WithMetadata(md metadata.Metadata) ManagerOption {
	return func(m *Manager) {
		m.md = md
	}
}

// Manager owns one connector binding: its execution factory, its cached
// capabilities, and the table of live work items.
type Manager struct {
	name        string
	factory     connector.ExecutionFactory
	connections ConnectionFactory
	md          metadata.Metadata
	translator  *translate.Translator

	caps   atomic.Pointer[capability.Snapshot]
	capsMu sync.Mutex

	items sync.Map // AtomicRequestID -> *WorkItem
}

// NewManager returns a manager for factory. Start it before registering
// requests.
func NewManager(name string, factory connector.ExecutionFactory, opts ...ManagerOption) *Manager {
	m := &Manager{name: name, factory: factory}
	for _, opt := range opts {
		opt(m)
	}
	m.translator = translate.New(m.md, factory.TranslatorOptions()...)
	return m
}

// Name returns the connector binding name.
func (m *Manager) Name() string { return m.name }

// Factory returns the execution factory.
func (m *Manager) Factory() connector.ExecutionFactory { return m.factory }

// Start starts the execution factory.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.factory.Start(ctx); err != nil {
		return fmt.Errorf("start connector %s: %w", m.name, err)
	}
	return nil
}

// Stop cancels and closes every live work item, then stops the factory.
func (m *Manager) Stop() error {
	var live []*WorkItem
	m.items.Range(func(_, v any) bool {
		live = append(live, v.(*WorkItem))
		return true
	})
	for _, w := range live {
		w.Cancel()
		w.Close()
	}
	if len(live) > 0 {
		slog.Info("connector stopped with live work", "connector", m.name, "cancelled", len(live))
	}
	if err := m.factory.Stop(); err != nil {
		return fmt.Errorf("stop connector %s: %w", m.name, err)
	}
	return nil
}

// Capabilities returns the connector's capabilities, computing them at most
// once. Computing may need a live source, so it happens under the manager's
// lock after a lock-free fast path.
func (m *Manager) Capabilities(ctx context.Context) (*capability.Snapshot, error) {
	if s := m.caps.Load(); s != nil {
		return s, nil
	}
	m.capsMu.Lock()
	defer m.capsMu.Unlock()
	if s := m.caps.Load(); s != nil {
		return s, nil
	}
	s, err := m.factory.Capabilities(ctx)
	if err != nil {
		return nil, fmt.Errorf("capabilities of %s: %w", m.name, err)
	}
	if s == nil {
		return nil, fmt.Errorf("capabilities of %s: connector returned none", m.name)
	}
	m.caps.Store(s)
	slog.Debug("capabilities computed", "connector", m.name, "flags", s.Flags().Len())
	return s, nil
}

// Register creates the work item for req. A duplicate request id is a
// programming error and panics.
func (m *Manager) Register(req Request) (*WorkItem, error) {
	if req.Command == nil {
		return nil, &ExecutionError{Code: ErrCodeInvalidState, Message: "request has no command", RequestID: req.ID, Connector: m.name}
	}
	w := newWorkItem(m, req, m.translator.Translate(req.Command))
	if _, loaded := m.items.LoadOrStore(req.ID, w); loaded {
		panic(fmt.Sprintf("dqp: duplicate atomic request %s on connector %s", req.ID, m.name))
	}
	return w, nil
}

// WorkItem returns the live work item for id.
func (m *Manager) WorkItem(id AtomicRequestID) (*WorkItem, bool) {
	v, ok := m.items.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*WorkItem), true
}

// Live returns the number of registered work items.
func (m *Manager) Live() int {
	n := 0
	m.items.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// remove deletes w from the table. Only the caller that removes it may
// release its resources.
func (m *Manager) remove(w *WorkItem) bool {
	return m.items.CompareAndDelete(w.req.ID, w)
}

var errNoConnection = errors.New("no connection available")

var errClosedWhileExecuting = errors.New("work item closed during execute")

package dqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/fedq/internal/capability"
	"github.com/roach88/fedq/internal/connector"
	"github.com/roach88/fedq/internal/metadata"
)

// Binding is a deployed connector instance as declared in a VDB.
type Binding struct {
	Name         string
	Type         string
	DSN          string
	Capabilities *capability.Snapshot
	Functions    map[string]string
	Reusable     bool
}

// Constructor builds the execution factory for a binding.
type Constructor func(Binding) (connector.ExecutionFactory, error)

// Repository holds the connector managers of a deployment, built from
// constructors registered by connector type.
type Repository struct {
	md metadata.Metadata

	mu       sync.RWMutex
	types    map[string]Constructor
	managers map[string]*Manager
}

// NewRepository returns an empty repository resolving models through md.
func NewRepository(md metadata.Metadata) *Repository {
	return &Repository{
		md:       md,
		types:    make(map[string]Constructor),
		managers: make(map[string]*Manager),
	}
}

// RegisterType makes a connector type deployable.
func (r *Repository) RegisterType(name string, c Constructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[name]; ok {
		return fmt.Errorf("connector type %q already registered", name)
	}
	r.types[name] = c
	return nil
}

// Deploy constructs, starts and adds a manager for b.
func (r *Repository) Deploy(ctx context.Context, b Binding, opts ...ManagerOption) (*Manager, error) {
	r.mu.RLock()
	c, ok := r.types[b.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("connector %s: unknown type %q", b.Name, b.Type)
	}
	f, err := c(b)
	if err != nil {
		return nil, fmt.Errorf("connector %s: %w", b.Name, err)
	}
	if r.md != nil {
		opts = append([]ManagerOption{WithMetadata(r.md)}, opts...)
	}
	m := NewManager(b.Name, f, opts...)
	if err := r.Add(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Add starts m and registers it under its name.
func (r *Repository) Add(ctx context.Context, m *Manager) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.managers[m.Name()]; ok {
		return fmt.Errorf("connector %s already deployed", m.Name())
	}
	if err := m.Start(ctx); err != nil {
		return err
	}
	r.managers[m.Name()] = m
	slog.Info("connector deployed", "connector", m.Name())
	return nil
}

// Manager returns the manager deployed under name.
func (r *Repository) Manager(name string) (*Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.managers[name]
	return m, ok
}

// Names returns the deployed connector names in order.
func (r *Repository) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.managers))
	for n := range r.managers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ManagerForModel returns the manager bound to a physical model.
func (r *Repository) ManagerForModel(model string) (*Manager, error) {
	if r.md == nil {
		return nil, fmt.Errorf("model %s: repository has no metadata", model)
	}
	mod, err := r.md.Model(model)
	if err != nil {
		return nil, err
	}
	if mod.Virtual {
		return nil, fmt.Errorf("model %s is virtual", model)
	}
	m, ok := r.Manager(mod.Connector)
	if !ok {
		return nil, fmt.Errorf("model %s: connector %s not deployed", model, mod.Connector)
	}
	return m, nil
}

// Find implements capability.Finder.
func (r *Repository) Find(ctx context.Context, model string) (*capability.Snapshot, error) {
	m, err := r.ManagerForModel(model)
	if err != nil {
		return nil, err
	}
	return m.Capabilities(ctx)
}

// Undeploy stops and removes the manager deployed under name.
func (r *Repository) Undeploy(name string) error {
	r.mu.Lock()
	m, ok := r.managers[name]
	delete(r.managers, name)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("connector %s not deployed", name)
	}
	return m.Stop()
}

// StopAll stops every manager and empties the repository.
func (r *Repository) StopAll() error {
	r.mu.Lock()
	managers := r.managers
	r.managers = make(map[string]*Manager)
	r.mu.Unlock()

	var errs []error
	for _, m := range managers {
		if err := m.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ capability.Finder = (*Repository)(nil)

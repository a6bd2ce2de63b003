package metadata

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Catalog is an in-memory Metadata implementation. Lookups are
// case-insensitive, as identifiers are in the virtual schema.
type Catalog struct {
	mu         sync.RWMutex
	models     map[string]*Model
	groups     map[string]*Group
	elements   map[string]*Element
	procedures map[string]*Procedure
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		models:     make(map[string]*Model),
		groups:     make(map[string]*Group),
		elements:   make(map[string]*Element),
		procedures: make(map[string]*Procedure),
	}
}

func key(name string) string { return strings.ToLower(name) }

// AddModel registers a model.
func (c *Catalog) AddModel(m *Model) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.models[key(m.Name)]; exists {
		return fmt.Errorf("model %q already registered", m.Name)
	}
	c.models[key(m.Name)] = m
	return nil
}

// AddGroup registers a group and its elements. The owning model must exist.
// Element names given in short form are qualified with the group name.
func (c *Catalog) AddGroup(g *Group) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.models[key(g.Model)]; !ok {
		return fmt.Errorf("group %q: model %q: %w", g.Name, g.Model, ErrNotFound)
	}
	if _, exists := c.groups[key(g.Name)]; exists {
		return fmt.Errorf("group %q already registered", g.Name)
	}
	for _, e := range g.Elements {
		if !strings.Contains(e.Name, ".") {
			e.Name = g.Name + "." + e.Name
		}
		e.Group = g.Name
		if _, exists := c.elements[key(e.Name)]; exists {
			return fmt.Errorf("element %q already registered", e.Name)
		}
		c.elements[key(e.Name)] = e
	}
	c.groups[key(g.Name)] = g
	return nil
}

// AddProcedure registers a procedure. The owning model must exist.
func (c *Catalog) AddProcedure(p *Procedure) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.models[key(p.Model)]; !ok {
		return fmt.Errorf("procedure %q: model %q: %w", p.Name, p.Model, ErrNotFound)
	}
	if _, exists := c.procedures[key(p.Name)]; exists {
		return fmt.Errorf("procedure %q already registered", p.Name)
	}
	c.procedures[key(p.Name)] = p
	return nil
}

func (c *Catalog) Model(name string) (*Model, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[key(name)]
	if !ok {
		return nil, fmt.Errorf("model %q: %w", name, ErrNotFound)
	}
	return m, nil
}

func (c *Catalog) Group(name string) (*Group, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.groups[key(name)]
	if !ok {
		return nil, fmt.Errorf("group %q: %w", name, ErrNotFound)
	}
	return g, nil
}

func (c *Catalog) Element(name string) (*Element, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.elements[key(name)]
	if !ok {
		return nil, fmt.Errorf("element %q: %w", name, ErrNotFound)
	}
	return e, nil
}

func (c *Catalog) Procedure(name string) (*Procedure, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.procedures[key(name)]
	if !ok {
		return nil, fmt.Errorf("procedure %q: %w", name, ErrNotFound)
	}
	return p, nil
}

// Models returns all models sorted by name.
func (c *Catalog) Models() []*Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Model, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b *Model) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Groups returns the groups of a model sorted by name.
func (c *Catalog) Groups(model string) []*Group {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Group
	for _, g := range c.groups {
		if strings.EqualFold(g.Model, model) {
			out = append(out, g)
		}
	}
	slices.SortFunc(out, func(a, b *Group) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Procedures returns the procedures of a model sorted by name.
func (c *Catalog) Procedures(model string) []*Procedure {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Procedure
	for _, p := range c.procedures {
		if strings.EqualFold(p.Model, model) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b *Procedure) int { return strings.Compare(a.Name, b.Name) })
	return out
}

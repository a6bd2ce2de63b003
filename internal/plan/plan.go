// Package plan holds the relational plan tree the push-down rules rewrite.
//
// Nodes live in an arena and are addressed by stable NodeID indices. Tree
// surgery (raising an ACCESS node, splicing out a node, inserting a node) only
// reassigns parent and child indices, so a NodeID held by a rule stays valid
// across rewrites. Removed nodes keep their slot and are never reused.
package plan

import (
	"errors"
	"fmt"
	"slices"
)

// NodeID addresses a node in a Plan.
type NodeID int

// NoNode is the parent of the root and of detached nodes.
const NoNode NodeID = -1

// Kind is the operator type of a node.
type Kind int

const (
	KindAccess Kind = iota
	KindJoin
	KindSelect
	KindProject
	KindGroup
	KindSort
	KindSetOp
	KindDupRemove
	KindTupleLimit
	KindSource
	KindNull
)

var kindNames = []string{
	"ACCESS", "JOIN", "SELECT", "PROJECT", "GROUP", "SORT",
	"SET_OP", "DUP_REMOVE", "TUPLE_LIMIT", "SOURCE", "NULL",
}

func (k Kind) String() string {
	if int(k) < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Node is one operator of the plan.
type Node struct {
	ID       NodeID
	Kind     Kind
	Parent   NodeID
	Children []NodeID
	// Groups are the group names visible at the output of this subtree.
	Groups  []string
	Payload Payload

	removed bool
}

// Plan is an arena of nodes with a single root.
type Plan struct {
	nodes []*Node
	root  NodeID
}

// New returns an empty plan.
func New() *Plan {
	return &Plan{root: NoNode}
}

// ErrNoParent is returned when raising a node that is the root.
var ErrNoParent = errors.New("node has no parent")

// Add creates a node over the given detached children and returns its id.
// The payload fixes the node's kind.
func (p *Plan) Add(payload Payload, children ...NodeID) NodeID {
	id := NodeID(len(p.nodes))
	n := &Node{
		ID:       id,
		Kind:     payload.kind(),
		Parent:   NoNode,
		Children: slices.Clone(children),
		Payload:  payload,
	}
	for _, c := range children {
		child := p.Node(c)
		if child.Parent != NoNode {
			panic(fmt.Sprintf("plan: node %d already has parent %d", c, child.Parent))
		}
		child.Parent = id
	}
	p.nodes = append(p.nodes, n)
	p.recomputeGroups(id)
	if p.root == NoNode || slices.Contains(children, p.root) {
		p.root = id
	}
	return id
}

// Node returns the node with id. It panics on an unknown or removed id.
func (p *Plan) Node(id NodeID) *Node {
	if id < 0 || int(id) >= len(p.nodes) {
		panic(fmt.Sprintf("plan: unknown node %d", id))
	}
	n := p.nodes[id]
	if n.removed {
		panic(fmt.Sprintf("plan: node %d was removed", id))
	}
	return n
}

// Live reports whether id names a node that has not been removed.
func (p *Plan) Live(id NodeID) bool {
	return id >= 0 && int(id) < len(p.nodes) && !p.nodes[id].removed
}

// Root returns the root node id.
func (p *Plan) Root() NodeID { return p.root }

// SetRoot makes a detached node the root.
func (p *Plan) SetRoot(id NodeID) {
	if p.Node(id).Parent != NoNode {
		panic(fmt.Sprintf("plan: node %d is not detached", id))
	}
	p.root = id
}

// Parent returns the parent of id, or NoNode.
func (p *Plan) Parent(id NodeID) NodeID { return p.Node(id).Parent }

// Children returns the children of id.
func (p *Plan) Children(id NodeID) []NodeID { return p.Node(id).Children }

// Len returns the number of live nodes reachable from the root.
func (p *Plan) Len() int { return len(p.PreOrder()) }

// PreOrder returns the live node ids reachable from the root, parents first.
func (p *Plan) PreOrder() []NodeID {
	if p.root == NoNode {
		return nil
	}
	var out []NodeID
	var visit func(NodeID)
	visit = func(id NodeID) {
		out = append(out, id)
		for _, c := range p.Node(id).Children {
			visit(c)
		}
	}
	visit(p.root)
	return out
}

// FindAll returns the reachable nodes of kind k in pre-order.
func (p *Plan) FindAll(k Kind) []NodeID {
	var out []NodeID
	for _, id := range p.PreOrder() {
		if p.nodes[id].Kind == k {
			out = append(out, id)
		}
	}
	return out
}

// Descendants returns id and every node below it, parents first.
func (p *Plan) Descendants(id NodeID) []NodeID {
	out := []NodeID{id}
	for _, c := range p.Node(id).Children {
		out = append(out, p.Descendants(c)...)
	}
	return out
}

// Raise moves node into its parent's position. The former parent becomes
// the only child of node, and node's former children take node's place among
// the former parent's children. Sibling subtrees are untouched.
func (p *Plan) Raise(id NodeID) error {
	n := p.Node(id)
	if n.Parent == NoNode {
		return fmt.Errorf("raise %d: %w", id, ErrNoParent)
	}
	parentID := n.Parent
	parent := p.Node(parentID)
	grand := parent.Parent

	idx := slices.Index(parent.Children, id)
	spliced := make([]NodeID, 0, len(parent.Children)-1+len(n.Children))
	spliced = append(spliced, parent.Children[:idx]...)
	spliced = append(spliced, n.Children...)
	spliced = append(spliced, parent.Children[idx+1:]...)
	for _, c := range n.Children {
		p.nodes[c].Parent = parentID
	}
	parent.Children = spliced

	p.replaceChild(grand, parentID, id)
	n.Parent = grand
	n.Children = []NodeID{parentID}
	parent.Parent = id

	p.recomputeGroups(parentID)
	p.recomputeGroups(id)
	return nil
}

// Splice removes a node, putting its children in its place.
func (p *Plan) Splice(id NodeID) error {
	n := p.Node(id)
	if n.Parent == NoNode {
		if len(n.Children) != 1 {
			return fmt.Errorf("splice root %d with %d children", id, len(n.Children))
		}
		child := n.Children[0]
		p.nodes[child].Parent = NoNode
		p.root = child
	} else {
		parent := p.Node(n.Parent)
		idx := slices.Index(parent.Children, id)
		parent.Children = slices.Concat(parent.Children[:idx:idx], n.Children, parent.Children[idx+1:])
		for _, c := range n.Children {
			p.nodes[c].Parent = n.Parent
		}
		p.recomputeUpward(n.Parent)
	}
	n.removed = true
	n.Parent = NoNode
	n.Children = nil
	return nil
}

// InsertAbove adds a node with payload between child and its parent.
func (p *Plan) InsertAbove(child NodeID, payload Payload) NodeID {
	c := p.Node(child)
	parent := c.Parent
	c.Parent = NoNode
	wasRoot := p.root == child
	id := p.Add(payload, child)
	if wasRoot {
		p.root = id
		return id
	}
	p.replaceChild(parent, child, id)
	p.nodes[id].Parent = parent
	p.recomputeUpward(parent)
	return id
}

// replaceChild swaps old for repl in parent's children, or makes repl the
// root when parent is NoNode.
func (p *Plan) replaceChild(parent, old, repl NodeID) {
	if parent == NoNode {
		p.root = repl
		return
	}
	pn := p.Node(parent)
	pn.Children[slices.Index(pn.Children, old)] = repl
}

func (p *Plan) recomputeGroups(id NodeID) {
	n := p.nodes[id]
	var groups []string
	switch pl := n.Payload.(type) {
	case *Source:
		groups = []string{pl.Group.Name}
	default:
		for _, c := range n.Children {
			for _, g := range p.nodes[c].Groups {
				if !slices.Contains(groups, g) {
					groups = append(groups, g)
				}
			}
		}
		if g, ok := pl.(*Group); ok && g.Symbol != "" && !slices.Contains(groups, g.Symbol) {
			groups = append(groups, g.Symbol)
		}
	}
	slices.Sort(groups)
	n.Groups = groups
}

func (p *Plan) recomputeUpward(id NodeID) {
	for id != NoNode {
		p.recomputeGroups(id)
		id = p.nodes[id].Parent
	}
}

// Clone returns a deep copy of the plan. Payloads are copied; expressions
// inside them are shared, as rules never mutate expressions in place.
func (p *Plan) Clone() *Plan {
	out := &Plan{root: p.root, nodes: make([]*Node, len(p.nodes))}
	for i, n := range p.nodes {
		cp := *n
		cp.Children = slices.Clone(n.Children)
		cp.Groups = slices.Clone(n.Groups)
		cp.Payload = clonePayload(n.Payload)
		out.nodes[i] = &cp
	}
	return out
}

// Validate checks the structural invariants: one root, consistent
// parent/child links, no cycles, and child counts matching each kind.
func (p *Plan) Validate() error {
	if p.root == NoNode {
		return errors.New("plan has no root")
	}
	if p.nodes[p.root].Parent != NoNode {
		return fmt.Errorf("root %d has parent %d", p.root, p.nodes[p.root].Parent)
	}
	seen := make(map[NodeID]bool)
	var visit func(NodeID) error
	visit = func(id NodeID) error {
		if seen[id] {
			return fmt.Errorf("node %d reached twice", id)
		}
		seen[id] = true
		n := p.nodes[id]
		if n.removed {
			return fmt.Errorf("removed node %d is reachable", id)
		}
		if n.Payload == nil || n.Payload.kind() != n.Kind {
			return fmt.Errorf("node %d: payload does not match kind %s", id, n.Kind)
		}
		if err := checkArity(n); err != nil {
			return err
		}
		for _, c := range n.Children {
			if p.nodes[c].Parent != id {
				return fmt.Errorf("node %d: child %d has parent %d", id, c, p.nodes[c].Parent)
			}
			if err := visit(c); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(p.root)
}

func checkArity(n *Node) error {
	count := len(n.Children)
	ok := true
	switch n.Kind {
	case KindJoin:
		ok = count == 2
	case KindSetOp:
		ok = count >= 2
	case KindSource, KindAccess:
		ok = count <= 1
	case KindNull:
		ok = count == 0
	default:
		ok = count == 1
	}
	if !ok {
		return fmt.Errorf("node %d: %s with %d children", n.ID, n.Kind, count)
	}
	return nil
}

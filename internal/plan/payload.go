package plan

import (
	"fmt"
	"slices"

	"github.com/roach88/fedq/internal/expr"
)

// Payload is the operator-specific part of a node.
// Each kind has exactly one payload type.
type Payload interface {
	kind() Kind // Marker method - seals interface to this package
}

// Access marks the boundary between engine-evaluated and source-evaluated
// parts of the plan. Everything below an Access node is pushed to Model.
type Access struct {
	Model string
	// Command, when set, is pushed as-is instead of being assembled from the
	// subtree. Data modifications and direct procedure calls use it.
	Command expr.Command
}

// Join combines its two children.
type Join struct {
	Type     expr.JoinType
	Criteria []expr.Criteria
}

// Select filters rows.
type Select struct {
	Criteria expr.Criteria
}

// Project computes the output columns.
type Project struct {
	Items []expr.SelectItem
	// Into names a materialization target; projects with one stay local.
	Into string
}

// Group groups rows and computes aggregates.
type Group struct {
	Columns []expr.Expr
	// Symbol and Outputs are set on staged partial aggregates: Outputs are the
	// partial aggregates, referenced from above as columns of group Symbol.
	Symbol  string
	Outputs []expr.SelectItem
}

// Sort orders rows.
type Sort struct {
	Items []expr.OrderByItem
	// Unrelated is set when a sort key is not among the projected columns.
	Unrelated bool
}

// SetOp combines its children with a set operation.
type SetOp struct {
	Op  expr.SetOp
	All bool
}

// DupRemove removes duplicate rows.
type DupRemove struct{}

// TupleLimit applies LIMIT/OFFSET. RowLimit is expr.NoLimit for an offset alone.
type TupleLimit struct {
	Offset   int
	RowLimit int
}

// Source is a group: a physical table, a virtual group whose definition is
// the single child (an inline view), or a procedure invocation.
type Source struct {
	Group     expr.GroupRef
	Procedure *expr.StoredProcedure
	// AccessPatterns lists element sets of which at least one must be bound
	// by criteria before the source can be queried.
	AccessPatterns [][]string
	// MaterializeInto names a pending materialization target.
	MaterializeInto string
}

// Null produces no rows.
type Null struct{}

func (*Access) kind() Kind     { return KindAccess }
func (*Join) kind() Kind       { return KindJoin }
func (*Select) kind() Kind     { return KindSelect }
func (*Project) kind() Kind    { return KindProject }
func (*Group) kind() Kind      { return KindGroup }
func (*Sort) kind() Kind       { return KindSort }
func (*SetOp) kind() Kind      { return KindSetOp }
func (*DupRemove) kind() Kind  { return KindDupRemove }
func (*TupleLimit) kind() Kind { return KindTupleLimit }
func (*Source) kind() Kind     { return KindSource }
func (*Null) kind() Kind       { return KindNull }

func clonePayload(p Payload) Payload {
	switch v := p.(type) {
	case *Access:
		cp := *v
		return &cp
	case *Join:
		cp := *v
		cp.Criteria = slices.Clone(v.Criteria)
		return &cp
	case *Select:
		cp := *v
		return &cp
	case *Project:
		cp := *v
		cp.Items = slices.Clone(v.Items)
		return &cp
	case *Group:
		cp := *v
		cp.Columns = slices.Clone(v.Columns)
		cp.Outputs = slices.Clone(v.Outputs)
		return &cp
	case *Sort:
		cp := *v
		cp.Items = slices.Clone(v.Items)
		return &cp
	case *SetOp:
		cp := *v
		return &cp
	case *DupRemove:
		return &DupRemove{}
	case *TupleLimit:
		cp := *v
		return &cp
	case *Source:
		cp := *v
		if v.Procedure != nil {
			cp.Procedure = cloneProcedure(v.Procedure)
		}
		return &cp
	case *Null:
		return &Null{}
	default:
		panic(fmt.Sprintf("plan: unknown payload %T", p))
	}
}

func cloneProcedure(sp *expr.StoredProcedure) *expr.StoredProcedure {
	cp := *sp
	cp.Params = make([]*expr.SPParameter, len(sp.Params))
	for i, param := range sp.Params {
		pc := *param
		cp.Params[i] = &pc
	}
	cp.ResultSet = slices.Clone(sp.ResultSet)
	return &cp
}

// AccessOf returns the Access payload of id, or nil for other kinds.
func (p *Plan) AccessOf(id NodeID) *Access {
	a, _ := p.Node(id).Payload.(*Access)
	return a
}

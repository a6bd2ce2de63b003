package rules

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/fedq/internal/expr"
	"github.com/roach88/fedq/internal/ir"
	"github.com/roach88/fedq/internal/metadata"
	"github.com/roach88/fedq/internal/plan"
)

// BindProcedureInputs binds the unbound inputs of procedure sources from the
// conjunctive criteria of the SELECT nodes directly above their ACCESS node.
// Input parameters are referenced in criteria as columns of the procedure
// group. Equality, IS NULL, IN, and dependent-set terms bind; bound terms are
// folded into the call and removed from the filter. Inputs left unbound fall
// back to their declared default.
func BindProcedureInputs(p *plan.Plan, md metadata.Metadata) error {
	for _, acc := range p.FindAll(plan.KindAccess) {
		children := p.Children(acc)
		if len(children) != 1 {
			continue
		}
		src, ok := p.Node(children[0]).Payload.(*plan.Source)
		if !ok || src.Procedure == nil {
			continue
		}
		if err := bindProcedure(p, md, acc, src); err != nil {
			return err
		}
	}
	return nil
}

func bindProcedure(p *plan.Plan, md metadata.Metadata, acc plan.NodeID, src *plan.Source) error {
	sp := src.Procedure
	proc, err := md.Procedure(sp.Name)
	if err != nil {
		return fmt.Errorf("bind procedure %s: %w", sp.Name, err)
	}

	for id := p.Parent(acc); id != plan.NoNode; {
		sel, ok := p.Node(id).Payload.(*plan.Select)
		if !ok {
			break
		}
		next := p.Parent(id)
		var kept []expr.Criteria
		for _, term := range expr.Conjuncts(sel.Criteria) {
			bound, err := bindTerm(proc, sp, src.Group, term, id)
			if err != nil {
				return err
			}
			if !bound {
				kept = append(kept, term)
			}
		}
		sel.Criteria = expr.Combine(kept...)
		if sel.Criteria == nil {
			if err := p.Splice(id); err != nil {
				return fmt.Errorf("bind procedure %s: %w", sp.Name, err)
			}
		}
		id = next
	}

	for _, param := range sp.Params {
		if !param.Direction.IsInput() || param.Value != nil {
			continue
		}
		decl := declared(proc, param.Name)
		if decl == nil || !decl.HasDefault {
			return &PlanningError{
				Code:    ErrCodeUnboundProcedureInput,
				Message: fmt.Sprintf("input %q has no value and no default", param.Name),
				Node:    acc,
				Group:   sp.Name,
			}
		}
		v, err := ir.FromGo(decl.Default)
		if err != nil {
			return fmt.Errorf("default of %s.%s: %w", sp.Name, param.Name, err)
		}
		param.Value = &expr.Constant{Value: v, DataType: param.DataType, Bindable: true}
	}
	slog.Debug("bound procedure inputs", "procedure", sp.Name, "access", acc)
	return nil
}

func declared(proc *metadata.Procedure, name string) *metadata.Parameter {
	for _, p := range proc.Params {
		if strings.EqualFold(p.Name, name) {
			return p
		}
	}
	return nil
}

// bindTerm binds one conjunct. It reports false for terms that do not bind
// an unbound input of the procedure.
func bindTerm(proc *metadata.Procedure, sp *expr.StoredProcedure, group expr.GroupRef, term expr.Criteria, node plan.NodeID) (bool, error) {
	input := func(e expr.Expr) *expr.SPParameter {
		col, ok := e.(*expr.Column)
		if !ok || !strings.EqualFold(col.Group.Name, group.Name) {
			return nil
		}
		for _, param := range sp.Params {
			if strings.EqualFold(param.Name, col.Name) && param.Direction.IsInput() && param.Value == nil {
				return param
			}
		}
		return nil
	}
	// A value may not read the procedure's own group.
	independent := func(e expr.Expr) bool {
		return !slices.ContainsFunc(expr.Columns(e), func(c *expr.Column) bool {
			return strings.EqualFold(c.Group.Name, group.Name)
		})
	}

	switch v := term.(type) {
	case *expr.Compare:
		if v.Op != expr.EQ {
			return false, nil
		}
		if param := input(v.Left); param != nil && independent(v.Right) {
			param.Value = v.Right
			return true, nil
		}
		if param := input(v.Right); param != nil && independent(v.Left) {
			param.Value = v.Left
			return true, nil
		}
	case *expr.IsNull:
		param := input(v.Expr)
		if param == nil || v.Negated {
			return false, nil
		}
		if decl := declared(proc, param.Name); decl != nil && decl.Nullability == metadata.NotNull {
			return false, &PlanningError{
				Code:    ErrCodeNonNullableIsNull,
				Message: fmt.Sprintf("input %q is not nullable but is required to be null", param.Name),
				Node:    node,
				Group:   sp.Name,
			}
		}
		param.Value = &expr.Constant{Value: ir.Null{}, DataType: param.DataType, Bindable: true}
		return true, nil
	case *expr.In:
		param := input(v.Expr)
		if param == nil || v.Negated {
			return false, nil
		}
		values := make(ir.Array, 0, len(v.Values))
		for _, e := range v.Values {
			c, ok := e.(*expr.Constant)
			if !ok || c.Multi {
				return false, nil
			}
			values = append(values, c.Value)
		}
		param.Value = &expr.Constant{Value: values, DataType: param.DataType, Multi: true, Bindable: true}
		return true, nil
	case *expr.DependentSet:
		param := input(v.Expr)
		if param == nil {
			return false, nil
		}
		param.Value = &expr.Reference{Name: v.Source, DataType: param.DataType}
		return true, nil
	}
	return false, nil
}

package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/fedq/internal/ir"
	"github.com/roach88/fedq/internal/plan"
)

// AssertionError is returned when an assertion fails.
// It includes the planned tree to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Plan     string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if e.Plan != "" {
		fmt.Fprintf(&buf, "\nPlan:\n%s", e.Plan)
	}
	return buf.String()
}

func evaluate(p *plan.Plan, r *Result, a Assertion) error {
	switch a.Type {
	case AssertAccessCount:
		return assertAccessCount(p, r, a)
	case AssertRootKind:
		return assertRootKind(p, r, a)
	case AssertPlanContains:
		return assertPlanContains(r, a)
	case AssertRows:
		return assertRows(r, a)
	case AssertError:
		return assertError(r, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertAccessCount(p *plan.Plan, r *Result, a Assertion) error {
	n := len(p.FindAll(plan.KindAccess))
	if n == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertAccessCount,
		Expected: fmt.Sprintf("%d access nodes", a.Count),
		Actual:   fmt.Sprintf("%d access nodes", n),
		Plan:     r.Plan,
	}
}

func assertRootKind(p *plan.Plan, r *Result, a Assertion) error {
	if p.Root() == plan.NoNode {
		return &AssertionError{Type: AssertRootKind, Expected: a.Kind, Actual: "empty plan"}
	}
	kind := p.Node(p.Root()).Kind.String()
	if strings.EqualFold(kind, a.Kind) {
		return nil
	}
	return &AssertionError{Type: AssertRootKind, Expected: a.Kind, Actual: kind, Plan: r.Plan}
}

func assertPlanContains(r *Result, a Assertion) error {
	if strings.Contains(r.Plan, a.Text) {
		return nil
	}
	return &AssertionError{
		Type:     AssertPlanContains,
		Expected: fmt.Sprintf("plan containing %q", a.Text),
		Actual:   "not found",
		Plan:     r.Plan,
	}
}

// assertRows compares a fragment's rows, in order, by their literal text.
func assertRows(r *Result, a Assertion) error {
	if a.Fragment >= len(r.Fragments) {
		return &AssertionError{
			Type:     AssertRows,
			Expected: fmt.Sprintf("fragment %d", a.Fragment),
			Actual:   fmt.Sprintf("%d fragments", len(r.Fragments)),
			Plan:     r.Plan,
		}
	}
	want, err := formatRows(a.Rows)
	if err != nil {
		return err
	}
	got := r.Fragments[a.Fragment].FormattedRows()
	if rowsEqual(want, got) {
		return nil
	}
	return &AssertionError{
		Type:     AssertRows,
		Expected: fmt.Sprint(want),
		Actual:   fmt.Sprint(got),
		Plan:     r.Plan,
	}
}

func formatRows(rows [][]any) ([][]string, error) {
	out := make([][]string, len(rows))
	for i, row := range rows {
		out[i] = make([]string, len(row))
		for j, cell := range row {
			v, err := ir.FromGo(cell)
			if err != nil {
				return nil, fmt.Errorf("rows[%d][%d]: %w", i, j, err)
			}
			out[i][j] = ir.Format(v)
		}
	}
	return out, nil
}

func rowsEqual(a, b [][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				return false
			}
		}
	}
	return true
}

func assertError(r *Result, a Assertion) error {
	if r.Err == nil {
		return &AssertionError{Type: AssertError, Expected: a.Code, Actual: "success", Plan: r.Plan}
	}
	if r.ErrorCode == a.Code {
		return nil
	}
	return &AssertionError{
		Type:     AssertError,
		Expected: a.Code,
		Actual:   fmt.Sprintf("%s (%v)", r.ErrorCode, r.Err),
		Plan:     r.Plan,
	}
}

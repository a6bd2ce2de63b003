package harness

import (
	"github.com/roach88/fedq/internal/connector"
	"github.com/roach88/fedq/internal/ir"
)

// FragmentResult is the outcome of one pushed ACCESS fragment.
type FragmentResult struct {
	Model     string          `json:"model"`
	Connector string          `json:"connector"`
	RequestID string          `json:"request_id"`
	Rows      []connector.Row `json:"-"`
	Batches   int             `json:"batches"`
	Waits     int             `json:"waits"`
}

// FormattedRows renders every row as SQL literal text.
func (f FragmentResult) FormattedRows() [][]string {
	out := make([][]string, len(f.Rows))
	for i, row := range f.Rows {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = ir.Format(v)
		}
		out[i] = cells
	}
	return out
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Plan is the planned tree as printed by plan.Format.
	Plan string `json:"plan"`

	// Fragments holds the executed fragments in plan pre-order.
	Fragments []FragmentResult `json:"fragments"`

	// ErrorCode is the code of the planning or execution failure, if any.
	ErrorCode string `json:"error_code,omitempty"`
	Err       error  `json:"-"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Fragments: []FragmentResult{},
		Errors:    []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

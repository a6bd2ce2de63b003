package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a push-down scenario: a VDB, a logical plan to plan and
// execute against it, and the assertions the outcome must satisfy.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// VDB is the path of a CUE file or directory defining the virtual
	// database. Relative paths are resolved against the scenario file.
	VDB string `yaml:"vdb"`

	// Data holds SQL statements run against each SQLite connector before the
	// plan executes. Every scenario gets fresh database files.
	Data map[string][]string `yaml:"data,omitempty"`

	// Fakes replaces a connector with a scripted one serving these rows.
	// Connectors of types that cannot run locally need one to execute.
	Fakes map[string][][]any `yaml:"fakes,omitempty"`

	// Plan is the logical plan, already containing its ACCESS nodes.
	Plan NodeSpec `yaml:"plan"`

	// MaxRows caps each fragment. Zero means unlimited.
	MaxRows int `yaml:"max_rows,omitempty"`

	// MaxRowsPolicy is "truncate" (default) or "fail".
	MaxRowsPolicy string `yaml:"max_rows_policy,omitempty"`

	// PlanOnly skips execution.
	PlanOnly bool `yaml:"plan_only,omitempty"`

	// RequestID is the fixed request id. Defaults to "scenario-<name>".
	RequestID string `yaml:"request_id,omitempty"`

	Assertions []Assertion `yaml:"assertions"`
}

// NodeSpec describes one plan node. Kind selects which of the other fields
// apply:
//
//	source      group, alias
//	access      model
//	select      where
//	project     items
//	group       by, items (aggregates, optional)
//	sort        items (desc per item)
//	join        join (inner|cross|left|right|full), on
//	set_op      op (union|intersect|except), all
//	distinct
//	limit       offset, limit
//	null
type NodeSpec struct {
	Kind     string         `yaml:"kind"`
	Model    string         `yaml:"model,omitempty"`
	Group    string         `yaml:"group,omitempty"`
	Alias    string         `yaml:"alias,omitempty"`
	Where    *CriteriaSpec  `yaml:"where,omitempty"`
	Items    []ExprSpec     `yaml:"items,omitempty"`
	By       []ExprSpec     `yaml:"by,omitempty"`
	Join     string         `yaml:"join,omitempty"`
	On       []CriteriaSpec `yaml:"on,omitempty"`
	Op       string         `yaml:"op,omitempty"`
	All      bool           `yaml:"all,omitempty"`
	Offset   int            `yaml:"offset,omitempty"`
	Limit    *int           `yaml:"limit,omitempty"`
	Children []NodeSpec     `yaml:"children,omitempty"`
}

// ExprSpec describes a scalar expression. Exactly one of Col, Value, Null,
// Agg, or Fn is set.
type ExprSpec struct {
	// Col is group.element, where group is a definition or a source alias.
	Col   string `yaml:"col,omitempty"`
	Value any    `yaml:"value,omitempty"`
	Null  bool   `yaml:"null,omitempty"`

	// Agg is count, sum, avg, min, or max. A count without Arg is COUNT(*).
	Agg      string    `yaml:"agg,omitempty"`
	Arg      *ExprSpec `yaml:"arg,omitempty"`
	Distinct bool      `yaml:"distinct,omitempty"`

	Fn   string     `yaml:"fn,omitempty"`
	Args []ExprSpec `yaml:"args,omitempty"`

	// Type overrides the inferred data type of a literal, function, or
	// aggregate.
	Type string `yaml:"type,omitempty"`

	// As is the output alias of a projected item.
	As   string `yaml:"as,omitempty"`
	Desc bool   `yaml:"desc,omitempty"`
}

// CriteriaSpec describes a condition. Op with Left and Right is a comparison;
// the other fields are exclusive alternatives.
type CriteriaSpec struct {
	Op    string    `yaml:"op,omitempty"`
	Left  *ExprSpec `yaml:"left,omitempty"`
	Right *ExprSpec `yaml:"right,omitempty"`

	And []CriteriaSpec `yaml:"and,omitempty"`
	Or  []CriteriaSpec `yaml:"or,omitempty"`
	Not *CriteriaSpec  `yaml:"not,omitempty"`

	IsNull    *ExprSpec `yaml:"is_null,omitempty"`
	IsNotNull *ExprSpec `yaml:"is_not_null,omitempty"`

	In     *ExprSpec  `yaml:"in,omitempty"`
	Values []ExprSpec `yaml:"values,omitempty"`

	Like    *ExprSpec `yaml:"like,omitempty"`
	Pattern string    `yaml:"pattern,omitempty"`
}

// Assertion validates the planned tree or the executed fragments.
type Assertion struct {
	// Type specifies the assertion type:
	// - "access_count": the plan has exactly Count ACCESS nodes
	// - "root_kind": the planned root is a Kind node
	// - "plan_contains": the formatted plan contains Text
	// - "rows": fragment Fragment returned exactly Rows
	// - "error": planning or execution failed with Code
	Type string `yaml:"type"`

	Count    int     `yaml:"count,omitempty"`
	Kind     string  `yaml:"kind,omitempty"`
	Text     string  `yaml:"text,omitempty"`
	Fragment int     `yaml:"fragment,omitempty"`
	Rows     [][]any `yaml:"rows,omitempty"`
	Code     string  `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertAccessCount  = "access_count"
	AssertRootKind     = "root_kind"
	AssertPlanContains = "plan_contains"
	AssertRows         = "rows"
	AssertError        = "error"
)

// LoadScenario reads and parses a scenario YAML file. The VDB path is
// resolved relative to the file. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if sc.VDB != "" && !filepath.IsAbs(sc.VDB) {
		sc.VDB = filepath.Join(filepath.Dir(path), sc.VDB)
	}
	if _, err := os.Stat(sc.VDB); err != nil {
		return nil, fmt.Errorf("invalid scenario: vdb: %w", err)
	}
	return sc, nil
}

// ParseScenario decodes and validates scenario YAML without touching the
// filesystem.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.VDB == "" {
		return fmt.Errorf("vdb is required")
	}
	if s.Plan.Kind == "" {
		return fmt.Errorf("plan is required")
	}
	if s.MaxRows < 0 {
		return fmt.Errorf("max_rows must be non-negative")
	}
	switch s.MaxRowsPolicy {
	case "", "truncate", "fail":
	default:
		return fmt.Errorf("unknown max_rows_policy %q", s.MaxRowsPolicy)
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
		if s.PlanOnly && a.Type == AssertRows {
			return fmt.Errorf("assertions[%d]: rows cannot be checked in a plan_only scenario", i)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertAccessCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for access_count", index)
		}
	case AssertRootKind:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for root_kind", index)
		}
	case AssertPlanContains:
		if a.Text == "" {
			return fmt.Errorf("assertions[%d]: text is required for plan_contains", index)
		}
	case AssertRows:
		if a.Fragment < 0 {
			return fmt.Errorf("assertions[%d]: fragment must be non-negative for rows", index)
		}
	case AssertError:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for error", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

package harness

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders a result as stable text: the planned tree, then each
// fragment's rows, then the failure code if any.
func Snapshot(name string, r *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	b.WriteString("plan:\n")
	for _, line := range strings.Split(strings.TrimRight(r.Plan, "\n"), "\n") {
		b.WriteString("  " + line + "\n")
	}
	for i, f := range r.Fragments {
		fmt.Fprintf(&b, "fragment %d: model=%s connector=%s rows=%d\n", i, f.Model, f.Connector, len(f.Rows))
		for _, row := range f.FormattedRows() {
			b.WriteString("  " + strings.Join(row, ", ") + "\n")
		}
	}
	if r.ErrorCode != "" {
		fmt.Fprintf(&b, "error: %s\n", r.ErrorCode)
	}
	return []byte(b.String())
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if the scenario cannot be set up.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, sc *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), sc)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, sc.Name, result)
	return result, nil
}

// AssertGolden compares an already computed result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Snapshot(name, result))
}

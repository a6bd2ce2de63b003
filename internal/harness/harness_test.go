package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fedq/internal/expr"
	"github.com/roach88/fedq/internal/metadata"
	"github.com/roach88/fedq/internal/plan"
)

func loadScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	sc, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return sc
}

func TestScenarios(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		t.Run(filepath.Base(file), func(t *testing.T) {
			sc, err := LoadScenario(file)
			require.NoError(t, err)
			result, err := Run(context.Background(), sc)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestGoldenPushedFilter(t *testing.T) {
	result, err := RunWithGolden(t, loadScenario(t, "pushed_filter"))
	require.NoError(t, err)
	require.Len(t, result.Fragments, 1)
	assert.Equal(t, "scenario-pushed_filter.1.0", result.Fragments[0].RequestID)
}

func TestGoldenSortStaysLocal(t *testing.T) {
	result, err := RunWithGolden(t, loadScenario(t, "sort_stays_local"))
	require.NoError(t, err)
	require.Len(t, result.Fragments, 1)
	assert.Equal(t, 1, result.Fragments[0].Batches)
}

func TestRunReportsFailedAssertions(t *testing.T) {
	sc := loadScenario(t, "pushed_filter")
	sc.Assertions = []Assertion{
		{Type: AssertAccessCount, Count: 2},
		{Type: AssertRows, Fragment: 0, Rows: [][]any{{2, "bob"}}},
		{Type: AssertError, Code: "CANCELLED"},
	}
	result, err := Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "2 access nodes")
}

func TestRunUnexpectedFailure(t *testing.T) {
	sc := loadScenario(t, "criteria_required")
	sc.Assertions = []Assertion{{Type: AssertAccessCount, Count: 1}}
	result, err := Run(context.Background(), sc)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, "CRITERIA_REQUIRED", result.ErrorCode)
	assert.Contains(t, result.Errors[len(result.Errors)-1], "unexpected failure")
}

func TestSetupRejectsUnknownConnector(t *testing.T) {
	sc := loadScenario(t, "pushed_filter")
	sc.Data = map[string][]string{"nowhere": {"SELECT 1"}}
	_, err := Run(context.Background(), sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nowhere")
}

func TestParseScenarioValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", "description: d\nvdb: x\nplan: {kind: \"null\"}\nassertions: [{type: access_count}]", "name is required"},
		{"missing plan", "name: n\ndescription: d\nvdb: x\nassertions: [{type: access_count}]", "plan is required"},
		{"no assertions", "name: n\ndescription: d\nvdb: x\nplan: {kind: \"null\"}", "assertions list"},
		{"unknown assertion", "name: n\ndescription: d\nvdb: x\nplan: {kind: \"null\"}\nassertions: [{type: nope}]", "unknown assertion type"},
		{"error without code", "name: n\ndescription: d\nvdb: x\nplan: {kind: \"null\"}\nassertions: [{type: error}]", "code is required"},
		{"bad policy", "name: n\ndescription: d\nvdb: x\nmax_rows_policy: drop\nplan: {kind: \"null\"}\nassertions: [{type: access_count}]", "max_rows_policy"},
		{"rows in plan only", "name: n\ndescription: d\nvdb: x\nplan_only: true\nplan: {kind: \"null\"}\nassertions: [{type: rows}]", "plan_only"},
		{"unknown field", "name: n\ndescription: d\nvdb: x\nplan: {kind: \"null\"}\nassertion: []", "failed to parse YAML"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenarioResolvesVDB(t *testing.T) {
	sc := loadScenario(t, "cross_model_join")
	assert.Equal(t, filepath.Join("testdata", "vdb", "sales.cue"), sc.VDB)

	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: n\ndescription: d\nvdb: missing.cue\nplan: {kind: \"null\"}\nassertions: [{type: access_count}]\n"), 0o644))
	_, err := LoadScenario(path)
	require.Error(t, err)
}

func TestBuildPlan(t *testing.T) {
	v, err := LoadVDB(filepath.Join("testdata", "vdb", "sales.cue"))
	require.NoError(t, err)

	limit := 5
	spec := NodeSpec{
		Kind:  "limit",
		Limit: &limit,
		Children: []NodeSpec{{
			Kind: "group",
			By:   []ExprSpec{{Col: "c.tier"}},
			Children: []NodeSpec{{
				Kind: "select",
				Where: &CriteriaSpec{Or: []CriteriaSpec{
					{IsNull: &ExprSpec{Col: "c.tier"}},
					{In: &ExprSpec{Col: "c.id"}, Values: []ExprSpec{{Value: 1}, {Value: 2}}},
				}},
				Children: []NodeSpec{{
					Kind:     "access",
					Model:    "shop",
					Children: []NodeSpec{{Kind: "source", Group: "shop.customer", Alias: "c"}},
				}},
			}},
		}},
	}
	p, err := BuildPlan(v.Catalog, spec)
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	root := p.Node(p.Root())
	assert.Equal(t, plan.KindTupleLimit, root.Kind)
	sel := p.Node(p.Children(p.Children(p.Root())[0])[0])
	require.Equal(t, plan.KindSelect, sel.Kind)
	crit := sel.Payload.(*plan.Select).Criteria
	assert.Equal(t, "c.tier IS NULL OR c.id IN (1, 2)", expr.String(crit))

	grp := p.Node(p.Children(p.Root())[0]).Payload.(*plan.Group)
	col := grp.Columns[0].(*expr.Column)
	assert.Equal(t, "shop.customer", col.Group.Definition)
	assert.Equal(t, metadata.TypeString, col.DataType)
}

func TestBuildPlanAggregates(t *testing.T) {
	v, err := LoadVDB(filepath.Join("testdata", "vdb", "sales.cue"))
	require.NoError(t, err)
	b := &builder{md: v.Catalog, p: plan.New(), aliases: map[string]string{}}

	count, err := b.expr(ExprSpec{Agg: "count"})
	require.NoError(t, err)
	assert.True(t, count.(*expr.Aggregate).IsCountStar())
	assert.Equal(t, metadata.TypeInteger, count.Type())

	avg, err := b.expr(ExprSpec{Agg: "avg", Arg: &ExprSpec{Col: "shop.customer.id"}})
	require.NoError(t, err)
	assert.Equal(t, metadata.TypeDouble, avg.Type())

	_, err = b.expr(ExprSpec{Agg: "sum"})
	assert.Error(t, err)
	_, err = b.expr(ExprSpec{Col: "shop.customer.missing"})
	assert.Error(t, err)
	_, err = b.expr(ExprSpec{})
	assert.Error(t, err)
}

func TestBuildPlanErrors(t *testing.T) {
	v, err := LoadVDB(filepath.Join("testdata", "vdb", "sales.cue"))
	require.NoError(t, err)

	_, err = BuildPlan(v.Catalog, NodeSpec{Kind: "teleport"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plan (teleport)")

	_, err = BuildPlan(v.Catalog, NodeSpec{Kind: "access", Children: []NodeSpec{{Kind: "source", Group: "shop.nope"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plan.children[0]")
}

func TestSnapshotIncludesErrorCode(t *testing.T) {
	r := NewResult()
	r.Plan = "ACCESS model=shop groups=[shop.audit]\n  SOURCE shop.audit\n"
	r.ErrorCode = "CRITERIA_REQUIRED"
	assert.Equal(t,
		"scenario: s\nplan:\n  ACCESS model=shop groups=[shop.audit]\n    SOURCE shop.audit\nerror: CRITERIA_REQUIRED\n",
		string(Snapshot("s", r)))
}

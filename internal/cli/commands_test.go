package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testdata     = filepath.Join("..", "harness", "testdata")
	salesVDB     = filepath.Join(testdata, "vdb", "sales.cue")
	scenarioDir  = filepath.Join(testdata, "scenarios")
	goldenDir    = filepath.Join(testdata, "golden")
	pushedFilter = filepath.Join(scenarioDir, "pushed_filter.yaml")
)

func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func TestValidateCommand(t *testing.T) {
	out, err := executeCommand(t, "validate", salesVDB)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "connector orders (sqlite)")
	assert.Contains(t, out, "connector crm (postgres)")
	assert.Contains(t, out, "model shop: connector=orders, 2 groups")
}

func TestValidateCommandJSON(t *testing.T) {
	out, err := executeCommand(t, "--format", "json", "validate", salesVDB)
	require.NoError(t, err)

	var result ValidationResult
	decodeData(t, out, &result)
	require.Len(t, result.Connectors, 2)
	assert.Equal(t, "orders", result.Connectors[0].Name)
	require.Len(t, result.Models, 2)
	assert.Equal(t, "crm", result.Models[0].Name)
	assert.Equal(t, 1, result.Models[0].Groups)
}

func TestValidateCommandErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.cue")
	require.NoError(t, os.WriteFile(bad, []byte(`connector: c: {type: 1}`), 0o644))

	out, err := executeCommand(t, "validate", bad)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E_COMPILE]")
	assert.Contains(t, out, "connector.c.type")

	out, err = executeCommand(t, "validate", filepath.Join(dir, "missing.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E_LOAD]")
}

func TestCapsCommand(t *testing.T) {
	out, err := executeCommand(t, "caps", salesVDB, "crm")
	require.NoError(t, err)
	assert.Contains(t, out, "crm (postgres, configured)")
	assert.NotContains(t, out, " order_by ")
	assert.Contains(t, out, "max_in_criteria_size: unbounded")

	out, err = executeCommand(t, "caps", salesVDB, "orders")
	require.NoError(t, err)
	assert.Contains(t, out, "orders (sqlite, dialect)")
	assert.Contains(t, out, "max_in_criteria_size: 999")
	assert.Contains(t, out, "null_order: low")
}

func TestCapsCommandJSON(t *testing.T) {
	out, err := executeCommand(t, "--format", "json", "caps", salesVDB)
	require.NoError(t, err)

	var reports []CapabilityReport
	decodeData(t, out, &reports)
	require.Len(t, reports, 2)
	for _, r := range reports {
		switch r.Connector {
		case "crm":
			assert.NotContains(t, r.Flags, "order_by")
			assert.NotContains(t, r.Flags, "dependent_joins")
			assert.Contains(t, r.Flags, "joins")
		case "orders":
			assert.Equal(t, "dialect", r.Source)
			assert.Contains(t, r.Functions, "upper")
		default:
			t.Fatalf("unexpected connector %q", r.Connector)
		}
	}
}

func TestCapsCommandUnknownConnector(t *testing.T) {
	out, err := executeCommand(t, "caps", salesVDB, "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "E_NOT_FOUND")
}

func TestPlanCommand(t *testing.T) {
	out, err := executeCommand(t, "plan", pushedFilter)
	require.NoError(t, err)
	assert.Contains(t, out, "logical:\nPROJECT shop.customer.id, shop.customer.name\n")
	assert.Contains(t, out, "planned:\nACCESS model=shop groups=[shop.customer]\n")
	assert.Contains(t, out, "1 access node(s)")
	assert.Contains(t, out, "fingerprint: ")
}

func TestPlanCommandJSON(t *testing.T) {
	out, err := executeCommand(t, "--format", "json", "plan", filepath.Join(scenarioDir, "cross_model_join.yaml"))
	require.NoError(t, err)

	var result PlanResult
	decodeData(t, out, &result)
	assert.Equal(t, "cross_model_join", result.Scenario)
	assert.Equal(t, 2, result.Access)
	assert.True(t, strings.HasPrefix(result.Planned, "JOIN"))
	assert.NotEmpty(t, result.Fingerprint)
}

func TestPlanCommandPlanningFailure(t *testing.T) {
	out, err := executeCommand(t, "plan", filepath.Join(scenarioDir, "criteria_required.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [CRITERIA_REQUIRED]")
}

func TestPlanCommandBadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: s\n"), 0o644))

	out, err := executeCommand(t, "plan", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E_SCENARIO]")
}

func TestExecCommand(t *testing.T) {
	out, err := executeCommand(t, "exec", pushedFilter)
	require.NoError(t, err)
	assert.Contains(t, out, "model=shop connector=orders rows=2")
	assert.Contains(t, out, "  2, 'bob'\n  3, 'cy'\n")
}

func TestExecCommandJSON(t *testing.T) {
	out, err := executeCommand(t, "--format", "json", "exec", "--max-rows", "1", pushedFilter)
	require.NoError(t, err)

	var result ExecResult
	decodeData(t, out, &result)
	require.Len(t, result.Fragments, 1)
	f := result.Fragments[0]
	assert.Equal(t, "orders", f.Connector)
	assert.True(t, strings.HasSuffix(f.RequestID, ".1.0"), f.RequestID)
	assert.Equal(t, [][]string{{"2", "'bob'"}}, f.Rows)
}

func TestExecCommandMaxRowsFail(t *testing.T) {
	out, err := executeCommand(t, "exec", "--max-rows", "1", "--policy", "fail", pushedFilter)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [MAX_ROWS_EXCEEDED]")
}

func TestExecCommandInvalidPolicy(t *testing.T) {
	_, err := executeCommand(t, "exec", "--policy", "drop", pushedFilter)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand(t *testing.T) {
	out, err := executeCommand(t, "test", scenarioDir, "--golden", goldenDir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ pushed_filter")
	assert.Contains(t, out, "5 passed, 0 failed, 5 total")
}

func TestTestCommandFilterJSON(t *testing.T) {
	out, err := executeCommand(t, "--format", "json", "test", scenarioDir, "--golden", goldenDir, "--filter", "sort_*")
	require.NoError(t, err)

	var result TestResult
	decodeData(t, out, &result)
	require.Equal(t, 1, result.Total)
	assert.Equal(t, "sort_stays_local", result.Scenarios[0].Name)
	assert.Equal(t, "match", result.Scenarios[0].Golden)
}

// copyScenario lays out a scenario and its VDB the way the harness testdata
// does, so the scenario's relative vdb path resolves.
func copyScenario(t *testing.T, name string) string {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{"scenarios", "vdb"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}
	vdb, err := os.ReadFile(salesVDB)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "vdb", "sales.cue"), vdb, 0o644))
	sc, err := os.ReadFile(filepath.Join(scenarioDir, name+".yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "scenarios", name+".yaml"), sc, 0o644))
	return filepath.Join(root, "scenarios")
}

func TestTestCommandUpdate(t *testing.T) {
	dir := copyScenario(t, "pushed_filter")

	out, err := executeCommand(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ pushed_filter (golden updated)")

	got, err := os.ReadFile(filepath.Join(dir, "golden", "pushed_filter.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(goldenDir, "pushed_filter.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "pushed_filter.golden"), []byte("stale\n"), 0o644))
	out, err = executeCommand(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "does not match golden file")
}

func TestTestCommandErrors(t *testing.T) {
	_, err := executeCommand(t, "test", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = executeCommand(t, "test", scenarioDir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err := executeCommand(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestExecRecordsHistory(t *testing.T) {
	db := filepath.Join(t.TempDir(), "history.db")

	out, err := executeCommand(t, "--format", "json", "exec", "--history", db, pushedFilter)
	require.NoError(t, err)
	var run ExecResult
	decodeData(t, out, &run)
	require.NotEmpty(t, run.RequestID)

	_, err = executeCommand(t, "exec", "--history", db, "--max-rows", "1", "--policy", "fail", pushedFilter)
	require.Error(t, err)

	out, err = executeCommand(t, "history", db)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "1 "+run.RequestID+" pushed_filter (completed)", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "pushed_filter (failed MAX_ROWS_EXCEEDED)"), lines[1])

	out, err = executeCommand(t, "--format", "json", "history", db, run.RequestID)
	require.NoError(t, err)
	var entry HistoryEntry
	decodeData(t, out, &entry)
	assert.Equal(t, run.RequestID, entry.ID)
	assert.Equal(t, "completed", entry.Status)
	require.Len(t, entry.Fragments, 1)
	f := entry.Fragments[0]
	assert.Equal(t, run.RequestID+".1.0", f.AtomicID)
	assert.Equal(t, 1, f.Node)
	assert.Equal(t, [][]string{{"2", "'bob'"}, {"3", "'cy'"}}, f.Rows)
	assert.Len(t, f.ResultHash, 64)
}

func TestHistoryCommandErrors(t *testing.T) {
	_, err := executeCommand(t, "history", filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	db := filepath.Join(t.TempDir(), "history.db")
	_, err = executeCommand(t, "exec", "--history", db, pushedFilter)
	require.NoError(t, err)

	out, err := executeCommand(t, "history", db, "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E_NOT_FOUND]")
}

package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/fedq/internal/capability"
	"github.com/roach88/fedq/internal/connector"
	"github.com/roach88/fedq/internal/dqp"
	"github.com/roach88/fedq/internal/engine"
	"github.com/roach88/fedq/internal/ir"
	"github.com/roach88/fedq/internal/plan"
	"github.com/roach88/fedq/internal/rules"
	"github.com/roach88/fedq/internal/testutil"
	"github.com/roach88/fedq/internal/vdb"
)

// Env is the isolated runtime of one scenario: the compiled VDB and a
// repository of deployed connectors. SQLite connectors get fresh database
// files in a private directory.
type Env struct {
	VDB  *vdb.VDB
	Repo *dqp.Repository
	dir  string
}

// LoadVDB compiles a CUE directory or a single CUE file.
func LoadVDB(path string) (*vdb.VDB, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("vdb: %w", err)
	}
	if info.IsDir() {
		return vdb.Load(path)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vdb: %w", err)
	}
	return vdb.CompileString(string(src), path)
}

// Setup compiles the scenario's VDB and deploys its connectors.
// Connectors listed in Fakes are served by scripted fakes; SQLite connectors
// are seeded with Data; other connector types are left undeployed.
func Setup(ctx context.Context, sc *Scenario) (*Env, error) {
	v, err := LoadVDB(sc.VDB)
	if err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp("", "fedq-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	env := &Env{VDB: v, Repo: dqp.NewRepository(v.Catalog), dir: dir}
	if err := engine.RegisterBuiltins(env.Repo); err != nil {
		_ = env.Close()
		return nil, err
	}

	for name := range sc.Data {
		if _, ok := v.Binding(name); !ok {
			_ = env.Close()
			return nil, fmt.Errorf("data: unknown connector %q", name)
		}
	}
	for name := range sc.Fakes {
		if _, ok := v.Binding(name); !ok {
			_ = env.Close()
			return nil, fmt.Errorf("fakes: unknown connector %q", name)
		}
	}

	for _, b := range v.Bindings {
		if err := env.deploy(ctx, sc, b); err != nil {
			_ = env.Close()
			return nil, fmt.Errorf("connector %s: %w", b.Name, err)
		}
	}
	return env, nil
}

func (e *Env) deploy(ctx context.Context, sc *Scenario, b dqp.Binding) error {
	if rows, ok := sc.Fakes[b.Name]; ok {
		fake, err := fakeFactory(b, rows)
		if err != nil {
			return err
		}
		return e.Repo.Add(ctx, dqp.NewManager(b.Name, fake, dqp.WithMetadata(e.VDB.Catalog)))
	}
	switch strings.ToLower(b.Type) {
	case "sqlite", "sqlite3":
		b.DSN = filepath.Join(e.dir, b.Name+".db")
		if err := seed(ctx, b.DSN, sc.Data[b.Name]); err != nil {
			return err
		}
		_, err := e.Repo.Deploy(ctx, b)
		return err
	}
	if len(sc.Data[b.Name]) > 0 {
		return fmt.Errorf("data needs a sqlite connector, got %s", b.Type)
	}
	slog.Debug("connector not deployed in scenario",
		"connector", b.Name,
		"type", b.Type,
	)
	return nil
}

func fakeFactory(b dqp.Binding, rows [][]any) (*testutil.FakeFactory, error) {
	caps := b.Capabilities
	if caps == nil {
		caps = capability.NewBuilder(b.Name).Enable(capability.All()...).Build()
	}
	f := &testutil.FakeFactory{Caps: caps, NoSource: true}
	for i, r := range rows {
		row := make(connector.Row, len(r))
		for j, cell := range r {
			v, err := ir.FromGo(cell)
			if err != nil {
				return nil, fmt.Errorf("fakes row %d: %w", i, err)
			}
			row[j] = v
		}
		f.Script = append(f.Script, row)
	}
	return f, nil
}

func seed(ctx context.Context, path string, statements []string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	defer db.Close()
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("data[%d]: %w", i, err)
		}
	}
	return nil
}

// Close stops every connector and removes the scenario's database files.
func (e *Env) Close() error {
	return errors.Join(e.Repo.StopAll(), os.RemoveAll(e.dir))
}

// Driver returns a driver configured from the scenario.
func (e *Env) Driver(sc *Scenario) *engine.Driver {
	id := sc.RequestID
	if id == "" {
		id = "scenario-" + sc.Name
	}
	policy := dqp.Truncate
	if sc.MaxRowsPolicy == "fail" {
		policy = dqp.Fail
	}
	return engine.NewDriver(e.VDB.Catalog, e.Repo,
		engine.WithIDGenerator(engine.NewFixedGenerator(id)),
		engine.WithMaxRows(sc.MaxRows, policy),
		engine.WithVDB(e.VDB.Name, e.VDB.Version),
	)
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh environment for isolation. A returned error
// means the scenario could not be set up; planning and execution failures are
// recorded in the result and checked by assertions.
//
// Execution flow:
// 1. Compile the VDB and deploy connectors
// 2. Build the logical plan
// 3. Plan, and unless PlanOnly, execute every ACCESS fragment
// 4. Evaluate assertions
func Run(ctx context.Context, sc *Scenario) (*Result, error) {
	env, err := Setup(ctx, sc)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := env.Close(); err != nil {
			slog.Warn("scenario cleanup failed", "scenario", sc.Name, "error", err)
		}
	}()

	p, err := BuildPlan(env.VDB.Catalog, sc.Plan)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	d := env.Driver(sc)
	var frags []*engine.Fragment
	if sc.PlanOnly {
		_, err = d.Plan(ctx, p)
	} else {
		frags, err = d.Run(ctx, p)
	}
	result.Plan = plan.Format(p)
	for _, f := range frags {
		result.Fragments = append(result.Fragments, FragmentResult{
			Model:     f.Model,
			Connector: f.Connector,
			RequestID: f.RequestID.String(),
			Rows:      f.Rows,
			Batches:   f.Batches,
			Waits:     f.Waits,
		})
	}
	if err != nil {
		result.Err = err
		result.ErrorCode = ErrorCode(err)
	}

	for i, a := range sc.Assertions {
		if err := evaluate(p, result, a); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	if result.Err != nil && !expectsError(sc) {
		result.AddError(fmt.Sprintf("unexpected failure: %v", result.Err))
	}
	return result, nil
}

// ErrorCode returns the code of a planning, request, or execution error, or
// "" for any other error.
func ErrorCode(err error) string {
	var pe *rules.PlanningError
	if errors.As(err, &pe) {
		return string(pe.Code)
	}
	var re *engine.RequestError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	var ee *dqp.ExecutionError
	if errors.As(err, &ee) {
		return string(ee.Code)
	}
	return ""
}

func expectsError(sc *Scenario) bool {
	for _, a := range sc.Assertions {
		if a.Type == AssertError {
			return true
		}
	}
	return false
}

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fedq/internal/dqp"
	"github.com/roach88/fedq/internal/engine"
	"github.com/roach88/fedq/internal/harness"
	"github.com/roach88/fedq/internal/plan"
	"github.com/roach88/fedq/internal/store"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	MaxRows   int
	Policy    string
	BatchSize int
	History   string // request history database, empty for none
}

// FragmentOutput is one executed fragment in exec output.
type FragmentOutput struct {
	harness.FragmentResult
	Node int        `json:"node"`
	Rows [][]string `json:"rows"`
}

// ExecResult is the output of the exec command.
type ExecResult struct {
	Scenario  string           `json:"scenario"`
	RequestID string           `json:"request_id"`
	Plan      string           `json:"plan"`
	Fragments []FragmentOutput `json:"fragments"`
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{}

	cmd := &cobra.Command{
		Use:   "exec <scenario.yaml>",
		Short: "Plan and execute a scenario's pushed fragments",
		Long: `Plan a scenario, send every ACCESS fragment to its connector under a
fresh request id, and print the rows each fragment returned. Assertions in
the scenario are not checked; use 'fedq test' for that.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(rootOpts, opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.MaxRows, "max-rows", 0, "row limit per fragment (0 uses the scenario's)")
	cmd.Flags().StringVar(&opts.Policy, "policy", "", "what to do past max-rows: truncate or fail")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", dqp.DefaultBatchSize, "rows per batch")
	cmd.Flags().StringVar(&opts.History, "history", "", "record the request in this SQLite history database")

	return cmd
}

func runExec(rootOpts *RootOptions, opts *ExecOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}

	policy, err := execPolicy(opts.Policy)
	if err != nil {
		return NewExitError(ExitCommandError, err.Error())
	}
	if opts.BatchSize <= 0 {
		return NewExitError(ExitCommandError, "--batch-size must be positive")
	}

	sc, err := loadScenario(formatter, path)
	if err != nil {
		return err
	}
	maxRows := sc.MaxRows
	if opts.MaxRows > 0 {
		maxRows = opts.MaxRows
	}
	if opts.Policy == "" && sc.MaxRowsPolicy == "fail" {
		policy = dqp.Fail
	}

	env, err := harness.Setup(ctx, sc)
	if err != nil {
		return formatter.failure("setup failed", err)
	}
	defer closeEnv(env)

	p, err := harness.BuildPlan(env.VDB.Catalog, sc.Plan)
	if err != nil {
		return formatter.failure("invalid plan", err)
	}

	requestID := engine.UUIDv7Generator{}.Generate()
	d := engine.NewDriver(env.VDB.Catalog, env.Repo,
		engine.WithIDGenerator(engine.NewFixedGenerator(requestID)),
		engine.WithMaxRows(maxRows, policy),
		engine.WithBatchSize(opts.BatchSize),
		engine.WithVDB(env.VDB.Name, env.VDB.Version),
	)
	frags, runErr := d.Run(ctx, p)

	result := ExecResult{
		Scenario:  sc.Name,
		RequestID: requestID,
		Plan:      plan.Format(p),
		Fragments: make([]FragmentOutput, 0, len(frags)),
	}
	for _, f := range frags {
		fr := harness.FragmentResult{
			Model:     f.Model,
			Connector: f.Connector,
			RequestID: f.RequestID.String(),
			Rows:      f.Rows,
			Batches:   f.Batches,
			Waits:     f.Waits,
		}
		result.Fragments = append(result.Fragments, FragmentOutput{FragmentResult: fr, Node: int(f.Node), Rows: fr.FormattedRows()})
	}

	if opts.History != "" {
		if err := recordHistory(ctx, opts.History, env, p, result, runErr); err != nil {
			return formatter.failure("history failed", err)
		}
	}
	if runErr != nil {
		return formatter.failure("execution failed", runErr)
	}

	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "scenario: %s\nrequest: %s\n%s", result.Scenario, result.RequestID, result.Plan)
		for _, f := range result.Fragments {
			fmt.Fprintf(w, "\n%s model=%s connector=%s rows=%d batches=%d\n",
				f.RequestID, f.Model, f.Connector, len(f.Rows), f.Batches)
			for _, row := range f.Rows {
				fmt.Fprintf(w, "  %s\n", strings.Join(row, ", "))
			}
		}
	})
}

func execPolicy(name string) (dqp.MaxRowsPolicy, error) {
	switch name {
	case "", "truncate":
		return dqp.Truncate, nil
	case "fail":
		return dqp.Fail, nil
	}
	return dqp.Truncate, fmt.Errorf("invalid --policy %q: must be truncate or fail", name)
}

// recordHistory writes the request and the fragments it completed to the
// history database at path.
func recordHistory(ctx context.Context, path string, env *harness.Env, p *plan.Plan, result ExecResult, runErr error) error {
	s, err := store.Open(ctx, path)
	if err != nil {
		return err
	}
	defer s.Close()

	fingerprint, err := plan.Fingerprint(p)
	if err != nil {
		return err
	}
	req := store.Request{
		ID:          result.RequestID,
		Scenario:    result.Scenario,
		VDBName:     env.VDB.Name,
		VDBVersion:  env.VDB.Version,
		Fingerprint: fingerprint,
		Status:      store.StatusCompleted,
		Plan:        result.Plan,
	}
	if runErr != nil {
		req.Status = store.StatusFailed
		req.ErrorCode = harness.ErrorCode(runErr)
	}
	if _, _, err := s.WriteRequest(ctx, req); err != nil {
		return err
	}
	for _, f := range result.Fragments {
		_, err := s.WriteFragment(ctx, store.Fragment{
			AtomicID:  f.RequestID,
			RequestID: result.RequestID,
			Node:      f.Node,
			Model:     f.Model,
			Connector: f.Connector,
			Rows:      f.Rows,
			Batches:   f.Batches,
			Waits:     f.Waits,
		})
		if err != nil {
			return err
		}
	}
	slog.Debug("request recorded",
		"request_id", result.RequestID,
		"status", req.Status,
		"fragments", len(result.Fragments),
	)
	return nil
}

package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/fedq/internal/harness"
	"github.com/roach88/fedq/internal/plan"
)

// PlanResult is the output of the plan command.
type PlanResult struct {
	Scenario string `json:"scenario"`
	Logical  string `json:"logical"`
	Planned  string `json:"planned"`
	Raised   int    `json:"raised"`
	Staged   int    `json:"staged"`
	Access   int    `json:"access_nodes"`
	// Fingerprint identifies the planned tree independent of node ids.
	Fingerprint string `json:"fingerprint"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <scenario.yaml>",
		Short: "Show how a scenario's plan is pushed down",
		Long: `Build the logical plan of a scenario, run the push-down rules against
the capabilities of its connectors, and print the tree before and after.
Nothing is executed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runPlan(opts *RootOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	sc, err := loadScenario(formatter, path)
	if err != nil {
		return err
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
	result := PlanResult{Scenario: sc.Name, Logical: plan.Format(p)}

	stats, err := env.Driver(sc).Plan(ctx, p)
	if err != nil {
		return formatter.failure("planning failed", err)
	}
	result.Planned = plan.Format(p)
	result.Raised = stats.Raised
	result.Staged = stats.Staged
	result.Access = len(p.FindAll(plan.KindAccess))
	if result.Fingerprint, err = plan.Fingerprint(p); err != nil {
		return formatter.failure("fingerprint failed", err)
	}

	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "scenario: %s\n\nlogical:\n%s\nplanned:\n%s\n", result.Scenario, result.Logical, result.Planned)
		fmt.Fprintf(w, "%d access node(s), %d raise(s), %d staged aggregate(s)\nfingerprint: %s\n",
			result.Access, result.Raised, result.Staged, result.Fingerprint)
	})
}

// loadScenario parses a scenario file, reporting failures through formatter
// as command errors.
func loadScenario(formatter *OutputFormatter, path string) (*harness.Scenario, error) {
	sc, err := harness.LoadScenario(path)
	if err == nil {
		return sc, nil
	}
	if outErr := formatter.Error("E_SCENARIO", err.Error(), nil); outErr != nil {
		return nil, outErr
	}
	return nil, WrapExitError(ExitCommandError, "invalid scenario", err)
}

func closeEnv(env *harness.Env) {
	if err := env.Close(); err != nil {
		slog.Warn("scenario cleanup failed", "error", err)
	}
}

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fedq/internal/capability"
	"github.com/roach88/fedq/internal/connector/sqlsource"
	"github.com/roach88/fedq/internal/dqp"
)

// CapabilityReport is the effective capability snapshot of one connector.
type CapabilityReport struct {
	Connector              string   `json:"connector"`
	Type                   string   `json:"type"`
	Source                 string   `json:"source"` // "configured" | "dialect" | "none"
	Flags                  []string `json:"flags"`
	Functions              []string `json:"functions"`
	MaxInCriteriaSize      int      `json:"max_in_criteria_size"`
	MaxDependentPredicates int      `json:"max_dependent_predicates"`
	MaxFromGroups          int      `json:"max_from_groups"`
	NullOrder              string   `json:"null_order"`
}

// NewCapsCommand creates the caps command.
func NewCapsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "caps <vdb> [connector]",
		Short: "Show connector capabilities",
		Long: `Show the capabilities the planner sees for each connector of a virtual
database: configured capabilities when the definition lists them, otherwise
the defaults of the connector's SQL dialect.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 2 {
				name = args[1]
			}
			return runCaps(rootOpts, args[0], name, cmd)
		},
	}
	return cmd
}

func runCaps(opts *RootOptions, path, name string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	v, err := loadVDB(formatter, path)
	if err != nil {
		return err
	}

	bindings := v.Bindings
	if name != "" {
		b, ok := v.Binding(name)
		if !ok {
			msg := fmt.Sprintf("unknown connector %q", name)
			if outErr := formatter.Error("E_NOT_FOUND", msg, nil); outErr != nil {
				return outErr
			}
			return NewExitError(ExitCommandError, msg)
		}
		bindings = []dqp.Binding{b}
	}

	reports := make([]CapabilityReport, 0, len(bindings))
	for _, b := range bindings {
		reports = append(reports, capabilityReport(b))
	}
	return formatter.Success(reports, func(w io.Writer) {
		for i, r := range reports {
			if i > 0 {
				fmt.Fprintln(w)
			}
			printCapabilities(w, r)
		}
	})
}

func capabilityReport(b dqp.Binding) CapabilityReport {
	r := CapabilityReport{Connector: b.Name, Type: b.Type, Source: "configured"}
	snap := b.Capabilities
	if snap == nil {
		d, err := sqlsource.DialectFor(b.Type)
		if err != nil {
			r.Source = "none"
			r.Flags = []string{}
			r.Functions = []string{}
			r.NullOrder = capability.NullsUnknown.String()
			return r
		}
		snap = d.DefaultCapabilities(b.Name)
		r.Source = "dialect"
	}
	r.Flags = snap.Flags().Names()
	r.Functions = snap.Functions()
	r.MaxInCriteriaSize = snap.MaxInCriteriaSize()
	r.MaxDependentPredicates = snap.MaxDependentPredicates()
	r.MaxFromGroups = snap.MaxFromGroups()
	r.NullOrder = snap.NullOrder().String()
	return r
}

func printCapabilities(w io.Writer, r CapabilityReport) {
	fmt.Fprintf(w, "%s (%s, %s)\n", r.Connector, r.Type, r.Source)
	if r.Source == "none" {
		fmt.Fprintln(w, "  no capabilities: nothing is pushed down")
		return
	}
	fmt.Fprintf(w, "  flags: %s\n", strings.Join(r.Flags, " "))
	fmt.Fprintf(w, "  functions: %s\n", strings.Join(r.Functions, " "))
	fmt.Fprintf(w, "  max_in_criteria_size: %s\n", limit(r.MaxInCriteriaSize))
	fmt.Fprintf(w, "  max_dependent_predicates: %s\n", limit(r.MaxDependentPredicates))
	fmt.Fprintf(w, "  max_from_groups: %s\n", limit(r.MaxFromGroups))
	fmt.Fprintf(w, "  null_order: %s\n", r.NullOrder)
}

func limit(n int) string {
	if n == capability.Unbounded {
		return "unbounded"
	}
	return fmt.Sprint(n)
}

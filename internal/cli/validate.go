package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/fedq/internal/harness"
	"github.com/roach88/fedq/internal/vdb"
)

// ModelSummary describes one compiled model.
type ModelSummary struct {
	Name       string `json:"name"`
	Connector  string `json:"connector,omitempty"`
	Virtual    bool   `json:"virtual,omitempty"`
	Groups     int    `json:"groups"`
	Procedures int    `json:"procedures,omitempty"`
}

// ConnectorSummary describes one connector binding.
type ConnectorSummary struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Reusable bool   `json:"reusable,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Name       string             `json:"name,omitempty"`
	Version    string             `json:"version,omitempty"`
	Connectors []ConnectorSummary `json:"connectors"`
	Models     []ModelSummary     `json:"models"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <vdb>",
		Short: "Compile a virtual database definition",
		Long: `Compile a CUE virtual database definition, a directory or a single file,
and report its connectors and models.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	v, err := loadVDB(formatter, path)
	if err != nil {
		return err
	}

	result := summarize(v)
	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %s is valid\n", path)
		for _, c := range result.Connectors {
			fmt.Fprintf(w, "  connector %s (%s)\n", c.Name, c.Type)
		}
		for _, m := range result.Models {
			switch {
			case m.Virtual:
				fmt.Fprintf(w, "  model %s: virtual, %d groups\n", m.Name, m.Groups)
			default:
				fmt.Fprintf(w, "  model %s: connector=%s, %d groups, %d procedures\n",
					m.Name, m.Connector, m.Groups, m.Procedures)
			}
		}
	})
}

// loadVDB compiles path, reporting failures through formatter as command
// errors.
func loadVDB(formatter *OutputFormatter, path string) (*vdb.VDB, error) {
	v, err := harness.LoadVDB(path)
	if err == nil {
		return v, nil
	}
	code := "E_LOAD"
	var details any
	var ce *vdb.CompileError
	if errors.As(err, &ce) {
		code = "E_COMPILE"
		details = map[string]string{"field": ce.Field}
	}
	if outErr := formatter.Error(code, err.Error(), details); outErr != nil {
		return nil, outErr
	}
	return nil, WrapExitError(ExitCommandError, "invalid vdb", err)
}

func summarize(v *vdb.VDB) ValidationResult {
	result := ValidationResult{
		Name:       v.Name,
		Version:    v.Version,
		Connectors: []ConnectorSummary{},
		Models:     []ModelSummary{},
	}
	for _, b := range v.Bindings {
		result.Connectors = append(result.Connectors, ConnectorSummary{Name: b.Name, Type: b.Type, Reusable: b.Reusable})
	}
	for _, m := range v.Catalog.Models() {
		result.Models = append(result.Models, ModelSummary{
			Name:       m.Name,
			Connector:  m.Connector,
			Virtual:    m.Virtual,
			Groups:     len(v.Catalog.Groups(m.Name)),
			Procedures: len(v.Catalog.Procedures(m.Name)),
		})
	}
	return result
}

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fedq/internal/store"
)

// HistoryEntry is one recorded request with its fragments.
type HistoryEntry struct {
	store.Request
	Fragments []store.Fragment `json:"fragments,omitempty"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <db> [request-id]",
		Short: "Show requests recorded by 'fedq exec --history'",
		Long: `List the requests recorded in a history database in the order they ran,
or show one request with the rows of each of its fragments.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 2 {
				id = args[1]
			}
			return runHistory(rootOpts, args[0], id, cmd)
		},
	}
	return cmd
}

func runHistory(opts *RootOptions, path, id string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	// Opening creates the database; a typo in the path should not.
	if _, err := os.Stat(path); err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("history database not found: %s", path))
	}
	s, err := store.Open(ctx, path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open history", err)
	}
	defer s.Close()

	if id == "" {
		requests, err := s.ReadRequests(ctx)
		if err != nil {
			return formatter.failure("read history", err)
		}
		return formatter.Success(requests, func(w io.Writer) {
			if len(requests) == 0 {
				fmt.Fprintln(w, "No requests recorded.")
				return
			}
			for _, r := range requests {
				printRequestLine(w, r)
			}
		})
	}

	req, err := s.ReadRequest(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		if outErr := formatter.Error("E_NOT_FOUND", err.Error(), nil); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitCommandError, "unknown request", err)
	}
	if err != nil {
		return formatter.failure("read history", err)
	}
	frags, err := s.ReadFragments(ctx, id)
	if err != nil {
		return formatter.failure("read history", err)
	}

	entry := HistoryEntry{Request: req, Fragments: frags}
	return formatter.Success(entry, func(w io.Writer) {
		printRequestLine(w, req)
		fmt.Fprintf(w, "fingerprint: %s\n%s", req.Fingerprint, req.Plan)
		for _, f := range frags {
			fmt.Fprintf(w, "\n%s model=%s connector=%s rows=%d hash=%s\n",
				f.AtomicID, f.Model, f.Connector, len(f.Rows), f.ResultHash)
			for _, row := range f.Rows {
				fmt.Fprintf(w, "  %s\n", strings.Join(row, ", "))
			}
		}
	})
}

func printRequestLine(w io.Writer, r store.Request) {
	status := r.Status
	if r.ErrorCode != "" {
		status += " " + r.ErrorCode
	}
	fmt.Fprintf(w, "%d %s %s (%s)\n", r.Seq, r.ID, r.Scenario, status)
}

package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ndexport/internal/journal"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		path  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled export runs",
		Long: `List the export units recorded with --journal, newest first.

Examples:
  ndexport history --journal ./ndexport.db
  ndexport history --journal ./ndexport.db --limit 0 --format json`,
		Args:          usageArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("journal") {
				path = rootOpts.Config.Export.Journal
			}
			if path == "" {
				return NewExitError(ExitCommandError, "no journal: pass --journal or set export.journal in the config file")
			}

			j, err := journal.Open(path)
			if err != nil {
				return rootOpts.fail(cmd, WrapExitError(ExitCommandError, "failed to open journal", err))
			}
			defer j.Close()

			runs, err := j.List(cmd.Context(), limit)
			if err != nil {
				return rootOpts.fail(cmd, WrapExitError(ExitCommandError, "failed to read journal", err))
			}
			return rootOpts.formatter(cmd).Success(runs, func(w io.Writer) error {
				return writeRunsText(w, runs)
			})
		},
	}
	cmd.Flags().StringVar(&path, "journal", "", "path to SQLite journal")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list (0 = all)")
	return cmd
}

func writeRunsText(w io.Writer, runs []journal.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tCOMMAND\tSOURCE\tDESTINATION\tSTATUS\tRECORDS")
	for _, r := range runs {
		status := r.Status
		if r.Error != "" {
			status += ": " + r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\n",
			r.StartedAt.Format(time.DateTime), r.Command, r.Source, r.Destination, status, r.Records)
	}
	return tw.Flush()
}

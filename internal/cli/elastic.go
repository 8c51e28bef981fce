package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ndexport/internal/export"
	"github.com/roach88/ndexport/internal/record"
	"github.com/roach88/ndexport/internal/timeseries"
)

// NewListIndexesCommand creates the list_indexes command.
func NewListIndexesCommand(rootOpts *RootOptions) *cobra.Command {
	var ef elasticFlags

	cmd := &cobra.Command{
		Use:     "list_indexes <elastic-url> [pattern]",
		Aliases: []string{"list-indexes"},
		Short:   "List the indexes of an Elasticsearch cluster",
		Long: `List index names, sorted. An optional glob pattern filters them.

Examples:
  ndexport list_indexes http://localhost:9200
  ndexport list_indexes http://localhost:9200 'logs-2024.*' --format yaml`,
		Args:          usageArgs(cobra.RangeArgs(1, 2)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config.Elastic
			if err := ef.apply(cmd, &cfg); err != nil {
				return err
			}
			pattern := ""
			if len(args) == 2 {
				pattern = args[1]
			}

			indexes, err := rootOpts.scrollClient(args[0], cfg).Indexes(cmd.Context(), pattern)
			if err != nil {
				return rootOpts.fail(cmd, WrapExitError(ExitFailure, "failed to list indexes", err))
			}
			return rootOpts.formatter(cmd).Success(indexes, func(w io.Writer) error {
				for _, index := range indexes {
					fmt.Fprintln(w, index)
				}
				return nil
			})
		},
	}
	ef.register(cmd)
	return cmd
}

// NewStoreIndexCommand creates the store_index command.
func NewStoreIndexCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		ef elasticFlags
		xf exportFlags
	)

	cmd := &cobra.Command{
		Use:     "store_index <src-elastic-url> <src-index> <dst-file-path>",
		Aliases: []string{"store-index"},
		Short:   "Copy one index to a local NDJSON file",
		Long: `Copy every document of an index to a local file, one hit per line.
The file is truncated first.

Examples:
  ndexport store_index http://localhost:9200 logs-2024.01.01 /backup/logs-2024.01.01.txt
  ndexport store_index http://localhost:9200 orders orders.txt -q 'status:failed'`,
		Args:          usageArgs(cobra.ExactArgs(3)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config
			if err := ef.apply(cmd, &cfg.Elastic); err != nil {
				return err
			}
			if err := xf.apply(cmd, &cfg); err != nil {
				return err
			}
			rootOpts.Config = cfg

			eo, closeJournal, err := rootOpts.exportOptions(cmd.Name())
			if err != nil {
				return err
			}
			defer closeJournal()

			client := rootOpts.scrollClient(args[0], cfg.Elastic)
			src := export.NewSource(args[1], func(ctx context.Context) (record.Iterator, error) {
				return client.Open(ctx, args[1])
			})
			res, runErr := export.ExportOne(cmd.Context(), src, args[2], eo)
			return rootOpts.reportResults(cmd, []export.Result{res}, runErr)
		},
	}
	ef.register(cmd)
	xf.register(cmd, false)
	return cmd
}

// NewStoreTimeSeriesCommand creates the store_time_series_index_range command.
func NewStoreTimeSeriesCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		ef elasticFlags
		xf exportFlags
	)

	cmd := &cobra.Command{
		Use:     "store_time_series_index_range <src-elastic-url> <src-index-prefix> <dst-dir> <dst-index-prefix> <start-date> <end-date>",
		Aliases: []string{"store-time-series-index-range"},
		Short:   "Copy a date range of daily indexes to local files",
		Long: `Copy every daily index <src-index-prefix>YYYY.MM.DD dated within
[start-date, end-date] (inclusive, YYYY.MM.DD) to
<dst-dir>/<dst-index-prefix>YYYY.MM.DD.txt.

A failing index is logged and the range carries on; the command exits 1 if
any index failed.

Examples:
  ndexport store_time_series_index_range http://localhost:9200 logs- /backup logs- 2024.01.01 2024.01.31
  ndexport store_time_series_index_range http://localhost:9200 logs- /backup logs- 2024.01.01 2024.01.31 --workers 4`,
		Args:          usageArgs(cobra.ExactArgs(6)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config
			if err := ef.apply(cmd, &cfg.Elastic); err != nil {
				return err
			}
			if err := xf.apply(cmd, &cfg); err != nil {
				return err
			}
			rootOpts.Config = cfg

			start, end, err := parseRange(args[4], args[5])
			if err != nil {
				return err
			}
			tr := export.TimeRange{
				SourcePrefix: args[1],
				Start:        start,
				End:          end,
				DestDir:      args[2],
				DestPrefix:   args[3],
			}

			eo, closeJournal, err := rootOpts.exportOptions(cmd.Name())
			if err != nil {
				return err
			}
			defer closeJournal()

			results, runErr := export.ExportTimeRange(cmd.Context(), rootOpts.scrollClient(args[0], cfg.Elastic), tr, eo)
			return rootOpts.reportResults(cmd, results, runErr)
		},
	}
	ef.register(cmd)
	xf.register(cmd, false)
	return cmd
}

// NewListTimeSeriesFilesCommand creates the list_time_series_files command.
func NewListTimeSeriesFilesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list_time_series_files <dir> <prefix> <start-date> <end-date>",
		Aliases: []string{"list-time-series-files"},
		Short:   "List the non-empty daily files of a date range",
		Long: `List the files <prefix>YYYY.MM.DD.txt in <dir> dated within
[start-date, end-date] (inclusive). Empty files are skipped.

Examples:
  ndexport list_time_series_files /backup logs- 2024.01.01 2024.01.31`,
		Args:          usageArgs(cobra.ExactArgs(4)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := parseRange(args[2], args[3])
			if err != nil {
				return err
			}
			files, err := timeseries.FilesInRange(args[0], args[1], start, end)
			if err != nil {
				return rootOpts.fail(cmd, WrapExitError(ExitCommandError, "failed to list files", err))
			}
			return rootOpts.formatter(cmd).Success(files, func(w io.Writer) error {
				for _, f := range files {
					fmt.Fprintln(w, f)
				}
				return nil
			})
		},
	}
	return cmd
}

func parseRange(startArg, endArg string) (start, end time.Time, err error) {
	if start, err = parseDateArg("start date", startArg); err != nil {
		return
	}
	if end, err = parseDateArg("end date", endArg); err != nil {
		return
	}
	if end.Before(start) {
		err = NewExitError(ExitCommandError, fmt.Sprintf("end date %s is before start date %s", endArg, startArg))
	}
	return
}

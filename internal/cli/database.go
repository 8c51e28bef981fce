package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/ndexport/internal/cursor"
	"github.com/roach88/ndexport/internal/export"
)

// NewStoreDatabaseCommand creates the store_database command.
func NewStoreDatabaseCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		xf  exportFlags
		dsn string
	)

	cmd := &cobra.Command{
		Use:     "store_database [driver] <output-dir>",
		Aliases: []string{"store-database"},
		Short:   "Copy every table of a database to local NDJSON files",
		Long: `Copy every base table of a MySQL, Postgres or SQLite database to
<output-dir>/<table>.txt, one row per line, reading through a server-side
cursor inside a read-only transaction.

The driver defaults to database.driver from the config file, and the DSN
to the dsn of that driver's section. A failing table is logged and the
remaining tables are still exported; the command exits 1 if any failed.

Examples:
  ndexport store_database mysql /backup/app --dsn 'reader:secret@tcp(db:3306)/app'
  ndexport store_database postgres /backup/app --dsn postgres://reader@db/app --workers 4
  ndexport store_database sqlite ./out --dsn ./app.db --journal ./ndexport.db`,
		Args:          usageArgs(cobra.RangeArgs(1, 2)),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config
			if err := xf.apply(cmd, &cfg); err != nil {
				return err
			}
			rootOpts.Config = cfg

			driver, dir := cfg.Database.Driver, args[0]
			if len(args) == 2 {
				driver, dir = args[0], args[1]
			}
			if driver == "" {
				return NewExitError(ExitCommandError, "no driver given and database.driver is not configured")
			}
			d, err := cursor.Lookup(driver)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid driver", err)
			}
			if !cmd.Flags().Changed("dsn") {
				dsn = cfg.DSNFor(d.Name)
			}
			if dsn == "" {
				return NewExitError(ExitCommandError, fmt.Sprintf("no DSN for %s: pass --dsn or set %s.dsn in the config file", d.Name, d.Name))
			}

			if err := os.MkdirAll(dir, 0o755); err != nil {
				return WrapExitError(ExitCommandError, "failed to create output directory", err)
			}

			db, err := cursor.OpenDB(d, dsn)
			if err != nil {
				return rootOpts.fail(cmd, WrapExitError(ExitCommandError, "failed to open database", err))
			}
			defer func() {
				if err := db.Close(); err != nil {
					rootOpts.Logger.Warn("error closing database", "error", err)
				}
			}()
			if err := db.PingContext(cmd.Context()); err != nil {
				return rootOpts.fail(cmd, WrapExitError(ExitFailure, "failed to connect to database", err))
			}

			eo, closeJournal, err := rootOpts.exportOptions(cmd.Name())
			if err != nil {
				return err
			}
			defer closeJournal()

			cat := &cursor.Catalog{
				DB:        db,
				Dialect:   d,
				ChunkSize: cfg.Export.ChunkSize,
				Logger:    rootOpts.Logger,
			}
			rootOpts.Logger.Info("exporting database", "driver", d.Name, "dir", dir)
			results, runErr := export.ExportTables(cmd.Context(), cat, dir, eo)
			return rootOpts.reportResults(cmd, results, runErr)
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "data source name (driver specific)")
	xf.register(cmd, true)
	return cmd
}

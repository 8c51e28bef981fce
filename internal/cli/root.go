package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ndexport/internal/config"
	"github.com/roach88/ndexport/internal/transport"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "text" | "json" | "yaml"
	ConfigPath string
	Retries    int
	RetryWait  time.Duration

	// Set by the root command before any subcommand runs.
	Config config.Config
	Logger *slog.Logger

	// Sleeper replaces the retry pause; tests use a fake.
	Sleeper transport.Sleeper
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the root command for the ndexport CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ndexport",
		Short: "ndexport - export search indexes and SQL tables to NDJSON",
		Long: `Export Elasticsearch indexes and MySQL, Postgres or SQLite tables to
newline-delimited JSON files, one record per line.

Reads stream page by page through scroll sessions and server-side cursors,
so exports never hold a whole index or table in memory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "usage: "+c.UseLine(), err)
	})

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().IntVar(&opts.Retries, "retries", config.DefaultMaxAttempts, "attempts per request on connection faults")
	cmd.PersistentFlags().DurationVar(&opts.RetryWait, "retry-wait", config.DefaultRetryWait, "pause between connection attempts")

	// Add subcommands
	cmd.AddCommand(NewListIndexesCommand(opts))
	cmd.AddCommand(NewStoreIndexCommand(opts))
	cmd.AddCommand(NewStoreTimeSeriesCommand(opts))
	cmd.AddCommand(NewListTimeSeriesFilesCommand(opts))
	cmd.AddCommand(NewStoreDatabaseCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

// setup validates global flags, loads the config file and builds the
// operator logger on stderr.
func (opts *RootOptions) setup(cmd *cobra.Command) error {
	if !isValidFormat(opts.Format) {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	flags := cmd.Flags()
	if flags.Changed("retries") {
		cfg.Retry.MaxAttempts = opts.Retries
	}
	if flags.Changed("retry-wait") {
		cfg.Retry.Wait = opts.RetryWait
	}
	if cfg.Retry.MaxAttempts < 1 {
		return NewExitError(ExitCommandError, "--retries must be at least 1")
	}
	opts.Config = cfg
	opts.Logger = newLogger(cmd.ErrOrStderr(), opts.Verbose)
	return nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// policy is the transport retry policy after config and flags are merged.
func (opts *RootOptions) policy() transport.Policy {
	p := transport.DefaultPolicy()
	p.MaxAttempts = opts.Config.Retry.MaxAttempts
	p.Wait = opts.Config.Retry.Wait
	return p
}

func (opts *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
}

// fail writes err as a generic error envelope in JSON and YAML output and
// returns it. Text output leaves the message to main.
func (opts *RootOptions) fail(cmd *cobra.Command, err *ExitError) error {
	if werr := opts.formatter(cmd).Report(nil, nil, ErrCodeGeneric, err); werr != nil {
		return errors.Join(err, werr)
	}
	return err
}

// usageArgs reports argument errors as command errors.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return WrapExitError(ExitCommandError, "usage: "+cmd.UseLine(), err)
		}
		return nil
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

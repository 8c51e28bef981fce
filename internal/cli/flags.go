package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/ndexport/internal/config"
	"github.com/roach88/ndexport/internal/export"
	"github.com/roach88/ndexport/internal/journal"
	"github.com/roach88/ndexport/internal/scroll"
	"github.com/roach88/ndexport/internal/timeseries"
	"github.com/roach88/ndexport/internal/transport"
)

// elasticFlags are shared by the search-engine commands.
type elasticFlags struct {
	query     string
	scan      bool
	scrollTTL time.Duration
	timeout   time.Duration
	chunkSize int
}

func (f *elasticFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.query, "query", "q", "", "Elasticsearch query string filter (default: match everything)")
	cmd.Flags().BoolVar(&f.scan, "scan", false, "use search_type=scan (Elasticsearch 1.x)")
	cmd.Flags().DurationVar(&f.scrollTTL, "scroll-ttl", config.DefaultScrollTTL, "scroll session keep-alive")
	cmd.Flags().DurationVar(&f.timeout, "timeout", config.DefaultTimeout, "per-request timeout")
	cmd.Flags().IntVar(&f.chunkSize, "chunk-size", config.DefaultChunkSize, "hits per scroll page")
}

// apply overrides cfg with the flags set on cmd.
func (f *elasticFlags) apply(cmd *cobra.Command, cfg *config.Elastic) error {
	flags := cmd.Flags()
	if flags.Changed("query") {
		cfg.Query = f.query
	}
	if flags.Changed("scan") {
		cfg.Scan = f.scan
	}
	if flags.Changed("scroll-ttl") {
		cfg.ScrollTTL = f.scrollTTL
	}
	if flags.Changed("timeout") {
		cfg.Timeout = f.timeout
	}
	if flags.Changed("chunk-size") {
		cfg.ChunkSize = f.chunkSize
	}
	if cfg.ChunkSize <= 0 {
		return NewExitError(ExitCommandError, "--chunk-size must be positive")
	}
	if cfg.ScrollTTL <= 0 {
		return NewExitError(ExitCommandError, "--scroll-ttl must be positive")
	}
	return nil
}

// scrollClient builds the search-engine client for url.
func (opts *RootOptions) scrollClient(url string, cfg config.Elastic) *scroll.Client {
	tc := transport.NewClient(cfg.Timeout, opts.policy(), opts.Logger)
	if opts.Sleeper != nil {
		tc.Sleeper = opts.Sleeper
	}
	so := scroll.Options{
		ChunkSize: cfg.ChunkSize,
		TTL:       cfg.ScrollTTL,
		Scan:      cfg.Scan,
	}
	if cfg.Query != "" {
		so.Query = scroll.QueryString(cfg.Query)
	}
	return scroll.New(url, tc, so, opts.Logger)
}

// exportFlags are shared by the commands that write files.
type exportFlags struct {
	workers   int
	journal   string
	chunkSize int
}

func (f *exportFlags) register(cmd *cobra.Command, withChunkSize bool) {
	cmd.Flags().IntVar(&f.workers, "workers", config.DefaultWorkers, "units exported concurrently (1 = sequential)")
	cmd.Flags().StringVar(&f.journal, "journal", "", "record every export unit in this SQLite journal")
	if withChunkSize {
		cmd.Flags().IntVar(&f.chunkSize, "chunk-size", config.DefaultChunkSize, "rows per cursor fetch")
	}
}

// apply overrides cfg with the flags set on cmd. The search-engine commands
// share --chunk-size with elasticFlags; it also sets the progress interval.
func (f *exportFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Export.Workers = f.workers
	}
	if flags.Changed("journal") {
		cfg.Export.Journal = f.journal
	}
	if flags.Changed("chunk-size") {
		n, err := flags.GetInt("chunk-size")
		if err != nil {
			return err
		}
		cfg.Export.ChunkSize = n
	}
	if cfg.Export.Workers < 1 {
		return NewExitError(ExitCommandError, "--workers must be at least 1")
	}
	if cfg.Export.ChunkSize <= 0 {
		return NewExitError(ExitCommandError, "--chunk-size must be positive")
	}
	return nil
}

// exportOptions builds orchestrator options. When a journal is configured,
// it is opened and a batch is started for command; the returned close
// function releases it.
func (opts *RootOptions) exportOptions(command string) (export.Options, func(), error) {
	eo := export.Options{
		ChunkSize: opts.Config.Export.ChunkSize,
		Workers:   opts.Config.Export.Workers,
		Logger:    opts.Logger,
	}
	if opts.Config.Export.Journal == "" {
		return eo, func() {}, nil
	}

	j, err := journal.Open(opts.Config.Export.Journal)
	if err != nil {
		return eo, nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	batch, err := j.Batch(command)
	if err != nil {
		j.Close()
		return eo, nil, WrapExitError(ExitCommandError, "failed to start journal batch", err)
	}
	opts.Logger.Debug("journaling runs", "journal", opts.Config.Export.Journal, "batch", batch.ID())
	eo.Recorder = batch
	return eo, func() {
		if err := j.Close(); err != nil {
			opts.Logger.Warn("error closing journal", "error", err)
		}
	}, nil
}

// parseDateArg parses a YYYY.MM.DD command argument.
func parseDateArg(name, s string) (time.Time, error) {
	d, err := timeseries.ParseDate(s)
	if err != nil {
		return time.Time{}, WrapExitError(ExitCommandError, fmt.Sprintf("invalid %s", name), err)
	}
	return d, nil
}

// reportResults writes the per-unit results and maps a failed batch to
// ExitFailure.
func (opts *RootOptions) reportResults(cmd *cobra.Command, results []export.Result, runErr error) error {
	if results == nil {
		results = []export.Result{}
	}
	out := opts.formatter(cmd)
	if err := out.Report(results, func(w io.Writer) error {
		return writeResultsText(w, results)
	}, ErrCodeExport, runErr); err != nil {
		return err
	}
	if runErr != nil {
		return WrapExitError(ExitFailure, "export failed", runErr)
	}
	return nil
}

func writeResultsText(w io.Writer, results []export.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range results {
		status := "ok"
		if r.Error != "" {
			status = "FAILED"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d records\t%s\n", r.Source, r.Path, r.Records, status)
	}
	return tw.Flush()
}

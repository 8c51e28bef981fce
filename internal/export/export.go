// Package export writes record sources to newline-delimited JSON files.
//
// ExportOne drains one Source into one file: one JSON object per line, no
// enclosing array. Batches (a date range of indexes, every table of a
// database) run ExportOne per unit; a failing unit is logged and collected
// while the rest of the batch carries on.
package export

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/roach88/ndexport/internal/record"
)

// DefaultChunkSize is the progress reporting interval, in records.
const DefaultChunkSize = 5000

// Source is one extractable unit: an index or a table.
type Source interface {
	Name() string
	Open(ctx context.Context) (record.Iterator, error)
}

type funcSource struct {
	name string
	open func(ctx context.Context) (record.Iterator, error)
}

func (s funcSource) Name() string { return s.name }

func (s funcSource) Open(ctx context.Context) (record.Iterator, error) { return s.open(ctx) }

// NewSource adapts an open function to Source.
func NewSource(name string, open func(ctx context.Context) (record.Iterator, error)) Source {
	return funcSource{name: name, open: open}
}

// Recorder journals export units. Implementations must be safe for
// concurrent use when Options.Workers > 1.
type Recorder interface {
	Begin(ctx context.Context, source, path string) (string, error)
	End(ctx context.Context, id string, records, total int64, runErr error) error
}

// Options tunes an export.
type Options struct {
	// ChunkSize is the number of records between progress reports.
	ChunkSize int

	// Workers bounds how many units of a batch run at once. 1 keeps the
	// batch strictly sequential.
	Workers int

	Logger *slog.Logger

	// Recorder, if set, journals every unit.
	Recorder Recorder
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Result describes one finished or failed unit.
type Result struct {
	Source   string        `json:"source" yaml:"source"`
	Path     string        `json:"path" yaml:"path"`
	Records  int64         `json:"records" yaml:"records"`
	Total    int64         `json:"total,omitempty" yaml:"total,omitempty"`
	Repaired int64         `json:"repaired,omitempty" yaml:"repaired,omitempty"`
	Duration time.Duration `json:"duration_ns" yaml:"duration"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// ExportOne writes every record of src to path, truncating it first. The
// source is opened before the file is created, so a source that cannot be
// opened leaves no file behind. A failure partway leaves the lines written
// so far.
func ExportOne(ctx context.Context, src Source, path string, opts Options) (res Result, err error) {
	opts = opts.withDefaults()
	logger := opts.Logger.With("source", src.Name(), "path", path)
	res = Result{Source: src.Name(), Path: path}
	start := time.Now()

	if opts.Recorder != nil {
		id, rerr := opts.Recorder.Begin(ctx, src.Name(), path)
		if rerr != nil {
			logger.Warn("journal begin failed", "error", rerr)
		} else {
			defer func() {
				if rerr := opts.Recorder.End(context.WithoutCancel(ctx), id, res.Records, res.Total, err); rerr != nil {
					logger.Warn("journal end failed", "error", rerr)
				}
			}()
		}
	}
	defer func() {
		res.Duration = time.Since(start)
		if err != nil {
			res.Error = err.Error()
		}
	}()

	it, err := src.Open(ctx)
	if err != nil {
		return res, fmt.Errorf("open %s: %w", src.Name(), err)
	}
	defer func() {
		if cerr := it.Close(); cerr != nil {
			logger.Warn("source release failed", "error", cerr)
		}
	}()

	total, hasTotal := it.Total()
	if hasTotal {
		res.Total = total
	}

	f, err := os.Create(path)
	if err != nil {
		return res, fmt.Errorf("create output: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close output: %w", cerr)
		}
	}()

	w := bufio.NewWriterSize(f, 64<<10)
	var line bytes.Buffer
	for {
		if err := ctx.Err(); err != nil {
			return res, flushed(w, err)
		}
		r, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, flushed(w, fmt.Errorf("read %s: %w", src.Name(), err))
		}

		repaired, err := appendRecord(&line, r)
		if err != nil {
			return res, flushed(w, &RecordError{
				Source:   src.Name(),
				Position: res.Records + 1,
				Record:   truncate(r.String(), maxRecordDump),
				Err:      err,
			})
		}
		if repaired {
			res.Repaired++
			logger.Debug("record repaired", "position", res.Records+1)
		}
		if _, err := w.Write(line.Bytes()); err != nil {
			return res, fmt.Errorf("write output: %w", err)
		}
		res.Records++

		if res.Records%int64(opts.ChunkSize) == 0 {
			reportProgress(logger, res.Records, total, hasTotal)
		}
	}

	if err := w.Flush(); err != nil {
		return res, fmt.Errorf("write output: %w", err)
	}
	logger.Info(fmt.Sprintf("wrote %d records", res.Records), "records", res.Records, "repaired", res.Repaired)
	return res, nil
}

// appendRecord serializes r into line, retrying once on a repaired copy.
func appendRecord(line *bytes.Buffer, r record.Record) (repaired bool, err error) {
	line.Reset()
	if err := record.AppendLine(line, r); err == nil {
		return false, nil
	}
	if err := record.AppendLine(line, record.Repair(r)); err != nil {
		return false, err
	}
	return true, nil
}

// flushed keeps the lines already written before returning cause.
func flushed(w *bufio.Writer, cause error) error {
	_ = w.Flush()
	return cause
}

func reportProgress(logger *slog.Logger, written, total int64, hasTotal bool) {
	if !hasTotal || total <= 0 {
		logger.Info("progress", "written", written)
		return
	}
	percent := 100 * float64(written) / float64(total)
	logger.Info(fmt.Sprintf("%.1f%% complete", percent), "written", written, "total", total)
}

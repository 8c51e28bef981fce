package export

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/ndexport/internal/record"
	"github.com/roach88/ndexport/internal/timeseries"
)

// Unit pairs a source with the file it is exported to. No two units of a
// batch may share a path.
type Unit struct {
	Source Source
	Path   string
}

// RunBatch exports every unit, at most opts.Workers at a time. A unit that
// fails is logged and the batch moves on; the failures are returned together
// as a *BatchError once every unit has run. Cancelling ctx stops scheduling
// new units.
func RunBatch(ctx context.Context, units []Unit, opts Options) ([]Result, error) {
	opts = opts.withDefaults()
	if err := checkDistinct(units); err != nil {
		return nil, err
	}

	results := make([]Result, len(units))
	failures := make([]*UnitError, len(units))
	started := make([]bool, len(units))

	var g errgroup.Group
	g.SetLimit(opts.Workers)
	for i, u := range units {
		if ctx.Err() != nil {
			break
		}
		started[i] = true
		i, u := i, u
		g.Go(func() error {
			opts.Logger.Info("exporting", "source", u.Source.Name(), "path", u.Path, "unit", i+1, "units", len(units))
			res, err := ExportOne(ctx, u.Source, u.Path, opts)
			results[i] = res
			if err != nil {
				opts.Logger.Error("export failed", "source", u.Source.Name(), "path", u.Path, "error", err)
				failures[i] = &UnitError{Source: u.Source.Name(), Path: u.Path, Err: err}
			}
			// Failures never cancel siblings.
			return nil
		})
	}
	_ = g.Wait()

	var done []Result
	var failed []*UnitError
	for i := range units {
		if !started[i] {
			continue
		}
		done = append(done, results[i])
		if failures[i] != nil {
			failed = append(failed, failures[i])
		}
	}

	if err := ctx.Err(); err != nil {
		return done, fmt.Errorf("batch interrupted after %d of %d units: %w", len(done), len(units), err)
	}
	if len(failed) > 0 {
		return done, &BatchError{Failed: failed, Units: len(units)}
	}
	return done, nil
}

func checkDistinct(units []Unit) error {
	seen := make(map[string]string, len(units))
	for _, u := range units {
		p := filepath.Clean(u.Path)
		if prev, ok := seen[p]; ok {
			return fmt.Errorf("sources %s and %s both target %s", prev, u.Source.Name(), p)
		}
		seen[p] = u.Source.Name()
	}
	return nil
}

// IndexCatalog lists and opens the indexes of a search engine.
type IndexCatalog interface {
	Indexes(ctx context.Context, pattern string) ([]string, error)
	Open(ctx context.Context, index string) (record.Iterator, error)
}

// TimeRange selects the daily indexes SourcePrefix+YYYY.MM.DD dated within
// [Start, End] and names each output DestDir/DestPrefix+YYYY.MM.DD.txt after
// the index date.
type TimeRange struct {
	SourcePrefix string
	Start        time.Time
	End          time.Time
	DestDir      string
	DestPrefix   string
}

// PlanTimeRange resolves the units of a time-range export, sorted by index
// name. Indexes whose date part does not parse are skipped.
func PlanTimeRange(ctx context.Context, cat IndexCatalog, tr TimeRange) ([]Unit, error) {
	indexes, err := cat.Indexes(ctx, escapeGlob(tr.SourcePrefix)+"*")
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}

	src := timeseries.NewParser(tr.SourcePrefix)
	dst := timeseries.NewParser(tr.DestPrefix)
	var units []Unit
	for _, index := range src.SelectInRange(tr.Start, tr.End, indexes) {
		d, err := src.Date(index)
		if err != nil {
			continue
		}
		units = append(units, Unit{
			Source: catalogSource(cat, index),
			Path:   filepath.Join(tr.DestDir, dst.Filename(d)),
		})
	}
	return units, nil
}

// ExportTimeRange exports every daily index in tr.
func ExportTimeRange(ctx context.Context, cat IndexCatalog, tr TimeRange, opts Options) ([]Result, error) {
	units, err := PlanTimeRange(ctx, cat, tr)
	if err != nil {
		return nil, err
	}
	opts.withDefaults().Logger.Info("time range resolved", "prefix", tr.SourcePrefix, "indexes", len(units))
	return RunBatch(ctx, units, opts)
}

// TableCatalog lists and opens the base tables of a database.
type TableCatalog interface {
	Tables(ctx context.Context) ([]string, error)
	Open(ctx context.Context, table string) (record.Iterator, error)
}

// ExportTables exports every table to dir/<table>.txt.
func ExportTables(ctx context.Context, cat TableCatalog, dir string, opts Options) ([]Result, error) {
	tables, err := cat.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	units := make([]Unit, len(tables))
	for i, table := range tables {
		units[i] = Unit{
			Source: catalogSource(cat, table),
			Path:   filepath.Join(dir, tableFile(table)),
		}
	}
	return RunBatch(ctx, units, opts)
}

// tableFile names the output file of table. Path separators and the
// escape character are percent-encoded, as is a name made only of dots,
// so every table lands directly inside the output directory.
func tableFile(table string) string {
	if strings.Trim(table, ".") == "" {
		return strings.Repeat("%2E", len(table)) + timeseries.FileExt
	}
	var b strings.Builder
	for _, r := range table {
		switch r {
		case '%':
			b.WriteString("%25")
		case '/':
			b.WriteString("%2F")
		case '\\':
			b.WriteString("%5C")
		default:
			b.WriteRune(r)
		}
	}
	return b.String() + timeseries.FileExt
}

type opener interface {
	Open(ctx context.Context, name string) (record.Iterator, error)
}

func catalogSource(cat opener, name string) Source {
	return NewSource(name, func(ctx context.Context) (record.Iterator, error) {
		return cat.Open(ctx, name)
	})
}

// escapeGlob quotes the glob metacharacters of a literal prefix.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(`*?[]\`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Package timeseries maps calendar dates to the names of daily partitioned
// indexes and files, and back.
//
// A daily partition is named prefix + "YYYY.MM.DD", with ".txt" appended for
// exported files. Because the date part is fixed-width, sorting names sorts
// dates.
package timeseries

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// DateLayout is the date part of a partition name.
	DateLayout = "2006.01.02"

	// FileExt is appended to exported partition files.
	FileExt = ".txt"

	dateWidth = len(DateLayout)

	// argLayout also accepts month and day without zero padding.
	argLayout = "2006.1.2"
)

// ErrNoPrefix is wrapped by ParseError when a name does not start with the
// parser's prefix.
var ErrNoPrefix = errors.New("name does not start with prefix")

// ParseError reports a name whose date part is malformed.
type ParseError struct {
	Name string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse date from %q: %v", e.Name, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parser renders and parses names for one prefix.
type Parser struct {
	Prefix string
}

// NewParser returns a Parser for prefix.
func NewParser(prefix string) Parser {
	return Parser{Prefix: prefix}
}

// Date parses the YYYY.MM.DD part that immediately follows the prefix.
// Anything after it, such as a file extension, is ignored.
func (p Parser) Date(name string) (time.Time, error) {
	if !strings.HasPrefix(name, p.Prefix) {
		return time.Time{}, &ParseError{Name: name, Err: ErrNoPrefix}
	}
	rest := name[len(p.Prefix):]
	if len(rest) < dateWidth {
		return time.Time{}, &ParseError{Name: name, Err: fmt.Errorf("want %d date characters, have %d", dateWidth, len(rest))}
	}
	d, err := time.Parse(DateLayout, rest[:dateWidth])
	if err != nil {
		return time.Time{}, &ParseError{Name: name, Err: err}
	}
	return d, nil
}

// Index renders the index name for d.
func (p Parser) Index(d time.Time) string {
	return fmt.Sprintf("%s%04d.%02d.%02d", p.Prefix, d.Year(), int(d.Month()), d.Day())
}

// Filename renders the export file name for d.
func (p Parser) Filename(d time.Time) string {
	return p.Index(d) + FileExt
}

// ParseDate parses a YYYY.MM.DD date given on the command line. Month and
// day may be written without their leading zero, as in 2024.1.5.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(argLayout, s)
	if err != nil {
		return time.Time{}, &ParseError{Name: s, Err: err}
	}
	return d, nil
}

// Day truncates t to its calendar date in UTC.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SelectInRange returns the candidates whose date lies in [start, end],
// sorted by name. Names that do not parse are skipped.
func (p Parser) SelectInRange(start, end time.Time, candidates []string) []string {
	start, end = Day(start), Day(end)
	out := []string{}
	for _, name := range candidates {
		d, err := p.Date(name)
		if err != nil {
			continue
		}
		if d.Before(start) || d.After(end) {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FilesInRange lists the non-empty files in dir whose names start with
// prefix and whose date lies in [start, end]. It returns base names
// including the extension, sorted.
func FilesInRange(dir, prefix string, start, end time.Time) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var candidates []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", filepath.Join(dir, name), err)
		}
		if info.Size() == 0 {
			continue
		}
		candidates = append(candidates, name)
	}

	// Date ignores what follows the date part, so the extension can stay.
	return NewParser(prefix).SelectInRange(start, end, candidates), nil
}

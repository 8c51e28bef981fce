package export

import (
	"errors"
	"fmt"
	"strings"
)

const maxRecordDump = 512

// RecordError identifies a record that could not be serialized even after
// the repair pass. It aborts the export unit it occurred in.
type RecordError struct {
	// Source names the export unit.
	Source string

	// Position is the 1-based position of the record in the source.
	Position int64

	// Record is a debug rendering of the offending record, truncated.
	Record string

	Err error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s: record %d cannot be serialized: %v: %s", e.Source, e.Position, e.Err, e.Record)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// UnitError is the failure of one unit of a batch.
type UnitError struct {
	Source string
	Path   string
	Err    error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("export %s to %s: %v", e.Source, e.Path, e.Err)
}

func (e *UnitError) Unwrap() error {
	return e.Err
}

// BatchError is returned after a batch in which at least one unit failed.
// The other units ran to completion.
type BatchError struct {
	Failed []*UnitError
	Units  int
}

func (e *BatchError) Error() string {
	names := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		names[i] = f.Source
	}
	return fmt.Sprintf("%d of %d export units failed: %s", len(e.Failed), e.Units, strings.Join(names, ", "))
}

func (e *BatchError) Unwrap() []error {
	out := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		out[i] = f
	}
	return out
}

// IsRecordError reports whether err carries a RecordError.
// Uses errors.As to handle wrapped errors.
func IsRecordError(err error) bool {
	var re *RecordError
	return errors.As(err, &re)
}

// IsBatchError reports whether err is a partially failed batch.
// Uses errors.As to handle wrapped errors.
func IsBatchError(err error) bool {
	var be *BatchError
	return errors.As(err, &be)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

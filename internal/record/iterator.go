package record

import (
	"context"
	"io"
)

// Iterator is a single-pass, forward-only sequence of records.
//
// Next returns io.EOF once the sequence is exhausted. Close releases the
// server-side session behind the iterator (scroll context, cursor,
// transaction) and must be called on every exit path, including early
// abandonment. Close is idempotent.
//
// Iterators are not safe for concurrent use.
type Iterator interface {
	Next(ctx context.Context) (Record, error)

	// Total returns the number of records the source expects to yield, if
	// the source reports one.
	Total() (int64, bool)

	Close() error
}

// SliceIterator yields records from memory.
type SliceIterator struct {
	records []Record
	pos     int
	closed  bool
}

// FromSlice returns an iterator over records with a known total.
func FromSlice(records ...Record) *SliceIterator {
	return &SliceIterator{records: records}
}

func (it *SliceIterator) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if it.closed || it.pos >= len(it.records) {
		return Record{}, io.EOF
	}
	r := it.records[it.pos]
	it.pos++
	return r, nil
}

func (it *SliceIterator) Total() (int64, bool) {
	return int64(len(it.records)), true
}

func (it *SliceIterator) Close() error {
	it.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (it *SliceIterator) Closed() bool {
	return it.closed
}

// Collect drains it into a slice and closes it.
func Collect(ctx context.Context, it Iterator) ([]Record, error) {
	defer it.Close()
	var out []Record
	for {
		r, err := it.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
}

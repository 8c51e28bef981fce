package cursor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/ndexport/internal/record"
)

// ErrClosed is returned by Next after Close.
var ErrClosed = errors.New("cursor: stream closed")

// Session is the pinned connection a Stream runs on. *sql.Conn satisfies it.
type Session interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Close() error
}

// Stream yields the rows of one query as records, columns in select order.
//
// The Stream owns its Session: Close closes the cursor, ends the
// transaction and then closes the session, on every path. Streams are
// single-pass and not safe for concurrent use.
type Stream struct {
	sess   Session
	d      Dialect
	query  string
	chunk  int
	logger *slog.Logger

	rows     *sql.Rows // direct reads only
	drained  bool      // rows returned a short chunk
	page     []record.Record
	pos      int
	fetches  int
	done     bool
	began    bool
	declared bool
	closed   bool
}

// Open starts streaming query on sess. If setup fails, whatever was
// acquired is released, sess included, before the error is returned.
func Open(ctx context.Context, sess Session, d Dialect, query string, chunk int, logger *slog.Logger) (*Stream, error) {
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stream{sess: sess, d: d, query: query, chunk: chunk, logger: logger}
	if err := s.open(ctx); err != nil {
		return nil, errors.Join(err, s.Close())
	}
	return s, nil
}

func (s *Stream) open(ctx context.Context) error {
	for _, stmt := range s.d.Session {
		if _, err := s.sess.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s session setup %q: %w", s.d.Name, stmt, err)
		}
	}
	if _, err := s.sess.ExecContext(ctx, s.d.Begin); err != nil {
		return fmt.Errorf("%s begin: %w", s.d.Name, err)
	}
	s.began = true

	if s.d.declares() {
		if _, err := s.sess.ExecContext(ctx, fmt.Sprintf(s.d.Declare, s.query)); err != nil {
			return fmt.Errorf("%s declare cursor: %w", s.d.Name, err)
		}
		s.declared = true
		return nil
	}

	rows, err := s.sess.QueryContext(ctx, s.query)
	if err != nil {
		return fmt.Errorf("%s query: %w", s.d.Name, err)
	}
	s.rows = rows
	return nil
}

// Next returns the next row, or io.EOF once a fetch comes back empty.
func (s *Stream) Next(ctx context.Context) (record.Record, error) {
	for {
		if s.closed {
			return record.Record{}, ErrClosed
		}
		if s.pos < len(s.page) {
			r := s.page[s.pos]
			s.pos++
			return r, nil
		}
		if s.done {
			return record.Record{}, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return record.Record{}, err
		}
		if err := s.fill(ctx); err != nil {
			return record.Record{}, err
		}
	}
}

// fill reads the next chunk into page. An empty chunk marks the end.
func (s *Stream) fill(ctx context.Context) error {
	s.page, s.pos = nil, 0
	s.fetches++

	var err error
	if s.declared {
		var rows *sql.Rows
		rows, err = s.sess.QueryContext(ctx, fmt.Sprintf(s.d.Fetch, s.chunk))
		if err != nil {
			return fmt.Errorf("%s fetch %d: %w", s.d.Name, s.fetches, err)
		}
		s.page, err = scanChunk(rows, 0)
		err = errors.Join(err, rows.Close())
	} else if !s.drained {
		s.page, err = scanChunk(s.rows, s.chunk)
		// database/sql closes exhausted rows, after which Columns fails.
		s.drained = len(s.page) < s.chunk
	}
	if err != nil {
		return fmt.Errorf("%s fetch %d: %w", s.d.Name, s.fetches, err)
	}

	if len(s.page) == 0 {
		s.done = true
	}
	s.logger.Debug("fetched chunk", "dialect", s.d.Name, "fetch", s.fetches, "rows", len(s.page))
	return nil
}

// scanChunk reads up to limit rows, or all of them when limit is 0.
func scanChunk(rows *sql.Rows, limit int) ([]record.Record, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	convert, err := converters(rows)
	if err != nil {
		return nil, err
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	var page []record.Record
	for limit == 0 || len(page) < limit {
		if !rows.Next() {
			return page, rows.Err()
		}
		if err := rows.Scan(ptrs...); err != nil {
			return page, err
		}
		fields := make([]record.Field, len(cols))
		for i, col := range cols {
			fields[i] = record.F(record.Text(col), convert[i](vals[i]))
		}
		page = append(page, record.New(fields...))
	}
	return page, nil
}

// converters picks the value conversion per column. JSON documents become
// nested values instead of quoted text.
func converters(rows *sql.Rows) ([]func(any) record.Value, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	out := make([]func(any) record.Value, len(types))
	for i, ct := range types {
		switch strings.ToUpper(ct.DatabaseTypeName()) {
		case "JSON", "JSONB":
			out[i] = record.FromSQLJSON
		default:
			out[i] = record.FromSQL
		}
	}
	return out, nil
}

// Total is unknown for a cursor.
func (s *Stream) Total() (int64, bool) {
	return 0, false
}

// Close closes the result set and the cursor, ends the transaction and
// closes the session. Release statements run on a fresh context so a
// cancelled export still cleans up. Close is idempotent.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.page = nil

	ctx := context.Background()
	var errs []error
	if s.rows != nil {
		errs = append(errs, s.rows.Close())
		s.rows = nil
	}
	if s.declared {
		if _, err := s.sess.ExecContext(ctx, s.d.CloseCursor); err != nil {
			errs = append(errs, fmt.Errorf("%s close cursor: %w", s.d.Name, err))
		}
	}
	if s.began {
		if _, err := s.sess.ExecContext(ctx, s.d.End); err != nil {
			errs = append(errs, fmt.Errorf("%s end transaction: %w", s.d.Name, err))
		}
	}
	errs = append(errs, s.sess.Close())
	return errors.Join(errs...)
}

package cursor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ndexport/internal/record"
)

var errInjected = errors.New("injected fetch failure")

// declaredSQLite emulates a declared server-side cursor on SQLite: the
// result set is materialised into a temp table and each fetch consumes the
// next chunk of it.
var declaredSQLite = Dialect{
	Name:        "sqlite-declared",
	Begin:       "BEGIN",
	Declare:     "CREATE TEMP TABLE " + cursorName + " AS %s",
	Fetch:       "DELETE FROM " + cursorName + " WHERE rowid IN (SELECT rowid FROM " + cursorName + " ORDER BY rowid LIMIT %d) RETURNING *",
	CloseCursor: "DROP TABLE " + cursorName,
	End:         "ROLLBACK",
	ListTables:  SQLite.ListTables,
	Quote:       '"',
}

// recordingSession logs every statement and can fail the n-th fetch.
type recordingSession struct {
	conn      *sql.Conn
	stmts     []string
	closed    bool
	fetches   int
	failFetch int
}

func (r *recordingSession) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	r.stmts = append(r.stmts, query)
	return r.conn.ExecContext(ctx, query, args...)
}

func (r *recordingSession) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	r.stmts = append(r.stmts, query)
	if strings.HasPrefix(query, "DELETE FROM "+cursorName) {
		r.fetches++
		if r.fetches == r.failFetch {
			return nil, errInjected
		}
	}
	return r.conn.QueryContext(ctx, query, args...)
}

func (r *recordingSession) Close() error {
	r.closed = true
	return r.conn.Close()
}

func (r *recordingSession) count(prefix string) int {
	n := 0
	for _, s := range r.stmts {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var born = time.Date(2020, time.January, 2, 3, 4, 5, 0, time.UTC)

func seedDB(t *testing.T, rows int) *sql.DB {
	t.Helper()
	db, err := OpenDB(SQLite, filepath.Join(t.TempDir(), "source.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE people (id INTEGER PRIMARY KEY, name TEXT, score REAL, born DATETIME, note BLOB)`)
	require.NoError(t, err)

	tx, err := db.Begin()
	require.NoError(t, err)
	for i := 1; i <= rows; i++ {
		_, err := tx.Exec(`INSERT INTO people (id, name, score, born, note) VALUES (?, ?, ?, ?, ?)`,
			i, fmt.Sprintf("person %d", i), float64(i)/2, born.AddDate(0, 0, i), []byte("note"))
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())
	return db
}

func newSession(t *testing.T, db *sql.DB) *recordingSession {
	t.Helper()
	conn, err := db.Conn(context.Background())
	require.NoError(t, err)
	return &recordingSession{conn: conn}
}

func ids(t *testing.T, records []record.Record) []int64 {
	t.Helper()
	out := make([]int64, 0, len(records))
	for _, r := range records {
		v, ok := r.Get("id")
		require.True(t, ok)
		id, ok := v.AsInt()
		require.True(t, ok, "id kind %s", v.Kind())
		out = append(out, id)
	}
	return out
}

func seq(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i + 1)
	}
	return out
}

func TestStream_ReadsAllRowsInChunks(t *testing.T) {
	for _, n := range []int{0, 1, 4, 5, 12, 15} {
		t.Run(fmt.Sprintf("rows=%d", n), func(t *testing.T) {
			db := seedDB(t, n)
			sess := newSession(t, db)

			s, err := Open(context.Background(), sess, SQLite, SQLite.SelectAll("people")+" ORDER BY id", 5, quietLogger())
			require.NoError(t, err)
			records, err := record.Collect(context.Background(), s)
			require.NoError(t, err)

			assert.Equal(t, seq(n), ids(t, records))
			assert.True(t, sess.closed)
			assert.Equal(t, "BEGIN", sess.stmts[0])
			assert.Equal(t, "ROLLBACK", sess.stmts[len(sess.stmts)-1])

			_, known := s.Total()
			assert.False(t, known)
		})
	}
}

func TestStream_RowShape(t *testing.T) {
	db := seedDB(t, 1)
	sess := newSession(t, db)

	s, err := Open(context.Background(), sess, SQLite, "SELECT id, name, score, born, note FROM people", 0, nil)
	require.NoError(t, err)
	records, err := record.Collect(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	var names []string
	for _, f := range r.Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"id", "name", "score", "born", "note"}, names)

	name, _ := r.Get("name")
	s1, ok := name.AsString()
	assert.True(t, ok)
	assert.Equal(t, "person 1", s1)

	score, _ := r.Get("score")
	f, ok := score.AsFloat()
	assert.True(t, ok)
	assert.Equal(t, 0.5, f)

	b, _ := r.Get("born")
	tm, ok := b.AsTime()
	require.True(t, ok, "born kind %s", b.Kind())
	assert.True(t, born.AddDate(0, 0, 1).Equal(tm))

	note, _ := r.Get("note")
	s2, ok := note.AsString()
	assert.True(t, ok)
	assert.Equal(t, "note", s2)

	line, err := r.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"id":1,"name":"person 1","score":0.5,"born":"2020-01-03T03:04:05Z","note":"note"}`, string(line))
}

func TestStream_JSONColumnsAreNested(t *testing.T) {
	db, err := OpenDB(SQLite, filepath.Join(t.TempDir(), "docs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE docs (id INTEGER PRIMARY KEY, meta JSON, broken JSON, label TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO docs VALUES (1, '{"b":1,"a":{"tags":["x"]}}', 'not json', '{"a":1}'), (2, NULL, NULL, NULL)`)
	require.NoError(t, err)

	s, err := Open(context.Background(), newSession(t, db), SQLite, "SELECT * FROM docs ORDER BY id", 0, quietLogger())
	require.NoError(t, err)
	records, err := record.Collect(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, records, 2)

	var lines []string
	for _, r := range records {
		line, err := r.MarshalJSON()
		require.NoError(t, err)
		lines = append(lines, string(line))
	}
	assert.Equal(t, []string{
		`{"id":1,"meta":{"b":1,"a":{"tags":["x"]}},"broken":"not json","label":"{\"a\":1}"}`,
		`{"id":2,"meta":null,"broken":null,"label":null}`,
	}, lines)
}

func TestStream_DeclaredCursor(t *testing.T) {
	db := seedDB(t, 12)
	sess := newSession(t, db)

	s, err := Open(context.Background(), sess, declaredSQLite, "SELECT * FROM people ORDER BY id", 5, quietLogger())
	require.NoError(t, err)
	records, err := record.Collect(context.Background(), s)
	require.NoError(t, err)

	got := ids(t, records)
	slices.Sort(got)
	assert.Equal(t, seq(12), got)

	// Chunks of 5, 5, 2, then the empty one.
	assert.Equal(t, 4, sess.count("DELETE FROM "+cursorName))
	assert.Equal(t, []string{"DROP TABLE " + cursorName, "ROLLBACK"}, sess.stmts[len(sess.stmts)-2:])
	assert.True(t, sess.closed)
}

func TestStream_CleanupAfterFailurePartway(t *testing.T) {
	db := seedDB(t, 12)
	sess := newSession(t, db)
	sess.failFetch = 2

	s, err := Open(context.Background(), sess, declaredSQLite, "SELECT * FROM people ORDER BY id", 5, quietLogger())
	require.NoError(t, err)

	var read int
	for {
		_, err = s.Next(context.Background())
		if err != nil {
			break
		}
		read++
	}
	require.ErrorIs(t, err, errInjected)
	assert.Equal(t, 5, read)
	assert.False(t, sess.closed)

	require.NoError(t, s.Close())
	assert.Equal(t, []string{"DROP TABLE " + cursorName, "ROLLBACK"}, sess.stmts[len(sess.stmts)-2:])
	assert.True(t, sess.closed)

	// Close is idempotent and runs no further statements.
	n := len(sess.stmts)
	require.NoError(t, s.Close())
	assert.Len(t, sess.stmts, n)

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStream_CleanupAfterCancel(t *testing.T) {
	db := seedDB(t, 12)
	sess := newSession(t, db)
	ctx, cancel := context.WithCancel(context.Background())

	s, err := Open(ctx, sess, SQLite, "SELECT * FROM people ORDER BY id", 5, quietLogger())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := s.Next(ctx)
		require.NoError(t, err)
	}
	cancel()
	_, err = s.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, s.Close())
	assert.Equal(t, "ROLLBACK", sess.stmts[len(sess.stmts)-1])
	assert.True(t, sess.closed)
}

func TestOpen_FailedQueryReleases(t *testing.T) {
	db := seedDB(t, 1)

	t.Run("direct", func(t *testing.T) {
		sess := newSession(t, db)
		_, err := Open(context.Background(), sess, SQLite, "SELECT * FROM missing", 5, quietLogger())
		require.Error(t, err)
		assert.Equal(t, []string{"BEGIN", "SELECT * FROM missing", "ROLLBACK"}, sess.stmts)
		assert.True(t, sess.closed)
	})

	t.Run("declared", func(t *testing.T) {
		sess := newSession(t, db)
		_, err := Open(context.Background(), sess, declaredSQLite, "SELECT * FROM missing", 5, quietLogger())
		require.Error(t, err)
		assert.Equal(t, 0, sess.count("DROP TABLE"))
		assert.Equal(t, "ROLLBACK", sess.stmts[len(sess.stmts)-1])
		assert.True(t, sess.closed)
	})
}

func TestCatalog(t *testing.T) {
	db := seedDB(t, 3)
	for _, stmt := range []string{
		`CREATE TABLE "order items" (id INTEGER PRIMARY KEY AUTOINCREMENT, sku TEXT)`,
		`INSERT INTO "order items" (sku) VALUES ('a'), ('b')`,
		`CREATE TABLE accounts (id INTEGER PRIMARY KEY)`,
		`CREATE VIEW adults AS SELECT * FROM people`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	cat := &Catalog{DB: db, Dialect: SQLite, ChunkSize: 1, Logger: quietLogger()}

	tables, err := cat.Tables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"accounts", "order items", "people"}, tables)

	it, err := cat.Open(context.Background(), "order items")
	require.NoError(t, err)
	records, err := record.Collect(context.Background(), it)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(t, records))
}

func TestLookup(t *testing.T) {
	for driver, want := range map[string]string{
		"mysql": "mysql", "postgres": "postgres", "postgresql": "postgres", "PGX": "postgres",
		"sqlite": "sqlite", "sqlite3": "sqlite",
	} {
		d, err := Lookup(driver)
		require.NoError(t, err, driver)
		assert.Equal(t, want, d.Name)
	}

	_, err := Lookup("oracle")
	assert.Error(t, err)
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, "`users`", MySQL.QuoteIdent("users"))
	assert.Equal(t, "`we``ird`", MySQL.QuoteIdent("we`ird"))
	assert.Equal(t, `"users"`, Postgres.QuoteIdent("users"))
	assert.Equal(t, `"we""ird"`, Postgres.QuoteIdent(`we"ird`))
	assert.Equal(t, `SELECT * FROM "order items"`, SQLite.SelectAll("order items"))
	assert.Equal(t, `"x"`, Dialect{}.QuoteIdent("x"))
}

func TestDialectStatements(t *testing.T) {
	assert.Equal(t, "DECLARE ndexport_cursor NO SCROLL CURSOR FOR SELECT 1", fmt.Sprintf(Postgres.Declare, "SELECT 1"))
	assert.Equal(t, "FETCH FORWARD 5000 FROM ndexport_cursor", fmt.Sprintf(Postgres.Fetch, DefaultChunkSize))
	assert.Equal(t, "CLOSE ndexport_cursor", Postgres.CloseCursor)
	assert.Equal(t, "ROLLBACK", Postgres.End)
	assert.Equal(t, "ROLLBACK", MySQL.End)
	assert.Contains(t, MySQL.Begin, "CONSISTENT SNAPSHOT")
	assert.Contains(t, Postgres.Begin, "READ COMMITTED READ ONLY")
}

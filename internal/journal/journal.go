// Package journal records export runs in a local SQLite database.
//
// Every export unit gets one row: what was read, where it went, how many
// records were written and how it ended. A unit that never finishes (the
// process was killed) stays in status "running".
//
// # Database Configuration
//
//   - WAL mode: history can be read while an export is writing
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait on lock contention instead of failing
//   - single connection: parallel workers share one writer
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on export_runs.batch_id
const currentSchemaVersion = 1

// timeLayout is fixed width so started_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)

// Journal is an open run journal.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the journal at path, applying pragmas and
// migrations. Safe to call on an existing journal.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Journal{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return runMigrations(db)
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_export_runs_batch ON export_runs(batch_id)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Batch groups the runs of one command invocation. It satisfies the export
// orchestrator's Recorder and is safe for concurrent use.
type Batch struct {
	j       *Journal
	id      string
	command string
}

// Batch starts a batch for command, e.g. "store_database".
func (j *Journal) Batch(command string) (*Batch, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("batch id: %w", err)
	}
	return &Batch{j: j, id: id.String(), command: command}, nil
}

// ID returns the batch identifier shared by its runs.
func (b *Batch) ID() string {
	return b.id
}

// Begin inserts a running row for one unit and returns its id.
func (b *Batch) Begin(ctx context.Context, source, destination string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("run id: %w", err)
	}
	_, err = b.j.db.ExecContext(ctx, `
		INSERT INTO export_runs (id, batch_id, command, source, destination, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id.String(), b.id, b.command, source, destination, StatusRunning, b.j.timestamp())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id.String(), nil
}

// End marks a run finished. A nil runErr means the unit succeeded.
func (b *Batch) End(ctx context.Context, id string, records, total int64, runErr error) error {
	status, msg := StatusOK, sql.NullString{}
	if runErr != nil {
		status = StatusFailed
		msg = sql.NullString{String: runErr.Error(), Valid: true}
	}
	totalCol := sql.NullInt64{Int64: total, Valid: total > 0}

	res, err := b.j.db.ExecContext(ctx, `
		UPDATE export_runs
		SET status = ?, records = ?, total = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, status, records, totalCol, msg, b.j.timestamp(), id)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update run %s: no such run", id)
	}
	return nil
}

func (j *Journal) timestamp() string {
	return j.now().UTC().Format(timeLayout)
}

// Run is one journaled export unit.
type Run struct {
	ID          string     `json:"id" yaml:"id"`
	BatchID     string     `json:"batch_id" yaml:"batch_id"`
	Command     string     `json:"command" yaml:"command"`
	Source      string     `json:"source" yaml:"source"`
	Destination string     `json:"destination" yaml:"destination"`
	Status      string     `json:"status" yaml:"status"`
	Records     int64      `json:"records" yaml:"records"`
	Total       int64      `json:"total,omitempty" yaml:"total,omitempty"`
	Error       string     `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
}

// List returns the most recent runs, newest first. A limit <= 0 returns all.
func (j *Journal) List(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT id, batch_id, command, source, destination, status, records,
		       total, error, started_at, finished_at
		FROM export_runs
		ORDER BY started_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			r        Run
			total    sql.NullInt64
			msg      sql.NullString
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.BatchID, &r.Command, &r.Source, &r.Destination,
			&r.Status, &r.Records, &total, &msg, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Total = total.Int64
		r.Error = msg.String
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("run %s: started_at: %w", r.ID, err)
		}
		if finished.Valid {
			t, err := time.Parse(timeLayout, finished.String)
			if err != nil {
				return nil, fmt.Errorf("run %s: finished_at: %w", r.ID, err)
			}
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

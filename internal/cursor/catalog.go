package cursor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/ndexport/internal/record"
)

// OpenDB opens a connection pool for the dialect. Session settings the
// export depends on are forced on top of the DSN: MySQL decodes DATETIME
// into UTC time values over utf8mb4, Postgres runs its sessions in UTC with
// the simple query protocol so FETCH and DECLARE are sent verbatim.
func OpenDB(d Dialect, dsn string) (*sql.DB, error) {
	switch d.Name {
	case MySQL.Name:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		cfg.Collation = "utf8mb4_unicode_ci"
		conn, err := mysql.NewConnector(cfg)
		if err != nil {
			return nil, fmt.Errorf("mysql connector: %w", err)
		}
		return sql.OpenDB(conn), nil

	case Postgres.Name:
		cfg, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		cfg.RuntimeParams["timezone"] = "UTC"
		cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
		return stdlib.OpenDB(*cfg), nil

	case SQLite.Name:
		db, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return db, nil
	}
	return nil, fmt.Errorf("no driver for dialect %q", d.Name)
}

// Catalog exposes the base tables of one database to the orchestrator.
// Every table is read on its own connection from the pool.
type Catalog struct {
	DB        *sql.DB
	Dialect   Dialect
	ChunkSize int
	Logger    *slog.Logger
}

// Tables lists base tables, system tables excluded, sorted by name. It runs
// outside any open cursor.
func (c *Catalog) Tables(ctx context.Context) ([]string, error) {
	rows, err := c.DB.QueryContext(ctx, c.Dialect.ListTables)
	if err != nil {
		return nil, fmt.Errorf("list %s tables: %w", c.Dialect.Name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("list %s tables: %w", c.Dialect.Name, err)
	}
	dest := make([]any, len(cols))
	var name sql.NullString
	dest[0] = &name
	for i := 1; i < len(dest); i++ {
		dest[i] = new(any)
	}

	var tables []string
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("list %s tables: %w", c.Dialect.Name, err)
		}
		if name.Valid {
			tables = append(tables, name.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s tables: %w", c.Dialect.Name, err)
	}
	sort.Strings(tables)
	return tables, nil
}

// Open streams every row of table.
func (c *Catalog) Open(ctx context.Context, table string) (record.Iterator, error) {
	return c.Query(ctx, c.Dialect.SelectAll(table))
}

// Query streams an arbitrary query on a fresh connection.
func (c *Catalog) Query(ctx context.Context, query string) (*Stream, error) {
	conn, err := c.DB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s connection: %w", c.Dialect.Name, err)
	}
	return Open(ctx, conn, c.Dialect, query, c.ChunkSize, c.Logger)
}

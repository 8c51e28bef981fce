// Package cursor streams whole tables out of a relational database.
//
// A Stream pins one connection, opens a read-only transaction on it and
// reads the query result a chunk at a time: through a declared server-side
// cursor where the backend needs one (Postgres), or by reading the
// unbuffered result set directly (MySQL, SQLite). How the transaction is
// opened and ended is a property of the Dialect; the Stream itself is the
// same for every backend.
package cursor

import (
	"fmt"
	"strings"
)

// DefaultChunkSize is the number of rows fetched per round trip.
const DefaultChunkSize = 5000

// Dialect holds the statements one backend needs to stream a query inside a
// read-only transaction. Every statement is plain SQL run on the pinned
// connection, so the transaction never escapes it.
type Dialect struct {
	Name string

	// Session statements run once on the fresh connection, before Begin.
	Session []string

	// Begin opens the read-only transaction.
	Begin string

	// Declare binds a server-side cursor to the query, given as %s. Empty
	// means the result set is read directly.
	Declare string

	// Fetch reads the next chunk from the declared cursor; the chunk size is
	// given as %d.
	Fetch string

	// CloseCursor releases the declared cursor.
	CloseCursor string

	// End finishes the transaction. Nothing is ever written, so it rolls back.
	End string

	// ListTables returns one row per base table, name first, excluding
	// system tables.
	ListTables string

	// Quote delimits identifiers.
	Quote byte
}

const cursorName = "ndexport_cursor"

// MySQL reads under a consistent snapshot. The driver streams result rows
// from the socket as they are read, so no cursor is declared.
var MySQL = Dialect{
	Name:       "mysql",
	Session:    []string{"SET NAMES utf8mb4", "SET time_zone = '+00:00'"},
	Begin:      "START TRANSACTION WITH CONSISTENT SNAPSHOT, READ ONLY",
	End:        "ROLLBACK",
	ListTables: "SHOW FULL TABLES WHERE Table_type = 'BASE TABLE'",
	Quote:      '`',
}

// Postgres declares a forward-only cursor inside a READ COMMITTED READ ONLY
// transaction.
var Postgres = Dialect{
	Name:        "postgres",
	Session:     []string{"SET TIME ZONE 'UTC'"},
	Begin:       "BEGIN TRANSACTION ISOLATION LEVEL READ COMMITTED READ ONLY",
	Declare:     "DECLARE " + cursorName + " NO SCROLL CURSOR FOR %s",
	Fetch:       "FETCH FORWARD %d FROM " + cursorName,
	CloseCursor: "CLOSE " + cursorName,
	End:         "ROLLBACK",
	ListTables:  "SELECT relname FROM pg_class WHERE relkind = 'r' AND relname !~ '^(pg_|sql_)' ORDER BY relname",
	Quote:       '"',
}

// SQLite reads inside a deferred transaction, which holds a read snapshot
// from the first SELECT until ROLLBACK.
var SQLite = Dialect{
	Name:       "sqlite",
	Begin:      "BEGIN",
	End:        "ROLLBACK",
	ListTables: "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name",
	Quote:      '"',
}

// Dialects lists the built-in dialects by driver name.
var Dialects = map[string]Dialect{
	MySQL.Name:    MySQL,
	Postgres.Name: Postgres,
	SQLite.Name:   SQLite,
}

// Lookup returns the dialect for a driver name. "postgresql", "pgx" and
// "sqlite3" are accepted as aliases.
func Lookup(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgresql", "pgx":
		driver = Postgres.Name
	case "sqlite3":
		driver = SQLite.Name
	}
	d, ok := Dialects[strings.ToLower(driver)]
	if !ok {
		return Dialect{}, fmt.Errorf("unknown database driver %q (want mysql, postgres or sqlite)", driver)
	}
	return d, nil
}

// QuoteIdent delimits name, doubling any embedded delimiter.
func (d Dialect) QuoteIdent(name string) string {
	q := `"`
	if d.Quote != 0 {
		q = string(d.Quote)
	}
	return q + strings.ReplaceAll(name, q, q+q) + q
}

// SelectAll returns the query exporting every row of table.
func (d Dialect) SelectAll(table string) string {
	return "SELECT * FROM " + d.QuoteIdent(table)
}

func (d Dialect) declares() bool {
	return d.Declare != ""
}

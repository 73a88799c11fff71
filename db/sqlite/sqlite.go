// Package sqlite stores documents in an SQLite database, one table per
// collection.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/glebarez/go-sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"go.hackfix.me/docmig/db/sqldb"
	"go.hackfix.me/docmig/db/types"
)

// Open opens the SQLite database at path, which can be a file path, a file:
// URI or ":memory:".
func Open(ctx context.Context, path string) (*sqldb.DB, error) {
	sqliteDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed opening SQLite database: %w", err)
	}

	if strings.Contains(path, "mode=memory") || strings.Contains(path, ":memory:") {
		// Each connection to an in-memory database sees its own data, so keep
		// a single connection around for the lifetime of the pool.
		sqliteDB.SetMaxOpenConns(1)
		sqliteDB.SetMaxIdleConns(1)
		sqliteDB.SetConnMaxLifetime(time.Duration(math.Inf(1)))
	}

	if err = sqliteDB.PingContext(ctx); err != nil {
		_ = sqliteDB.Close()
		return nil, fmt.Errorf("failed connecting to SQLite database: %w", err)
	}

	return sqldb.New(sqliteDB, Dialect{}), nil
}

// Dialect is the SQLite sqldb.Dialect. Document bodies are stored as JSON
// text and queried with the JSON1 functions.
type Dialect struct{}

var _ sqldb.Dialect = Dialect{}

// Placeholder implements sqldb.Dialect.
func (Dialect) Placeholder(_ int) string { return "?" }

// DocParam implements sqldb.Dialect.
func (Dialect) DocParam(_ int) string { return "?" }

// CreateTable implements sqldb.Dialect.
func (Dialect) CreateTable(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id  TEXT NOT NULL UNIQUE,
		doc TEXT NOT NULL
	)`, table)
}

// CreateIndex implements sqldb.Dialect.
func (Dialect) CreateIndex(table, index, field string, unique bool) string {
	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf(`CREATE %s IF NOT EXISTS %s ON %s (json_extract(doc, '$.%s'))`,
		kind, index, table, field)
}

// FieldEquals implements sqldb.Dialect.
func (Dialect) FieldEquals(field string, _ int) string {
	return fmt.Sprintf(`json_extract(doc, '$.%s') IS json_extract(?, '$')`, field)
}

// ListTables implements sqldb.Dialect.
func (Dialect) ListTables() string {
	return `SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`
}

// Err converts an expected error returned by SQLite into a friendly DB error.
func (Dialect) Err(collection, id string, err error) error {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return err
	}

	switch sqlErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return &types.DuplicateError{Collection: collection, ID: id}
	}

	return err
}

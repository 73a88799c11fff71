// Package postgres stores documents in a PostgreSQL database, one JSONB table
// per collection.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" //nolint:revive,nolintlint // Idiomatic way of loading DB libraries.

	"go.hackfix.me/docmig/db/sqldb"
	"go.hackfix.me/docmig/db/types"
)

// uniqueViolation is the SQLSTATE of a unique constraint violation.
const uniqueViolation = "23505"

// Open connects to the PostgreSQL server at dsn.
func Open(ctx context.Context, dsn string) (*sqldb.DB, error) {
	pgDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed opening PostgreSQL database: %w", err)
	}

	if err = pgDB.PingContext(ctx); err != nil {
		_ = pgDB.Close()
		return nil, fmt.Errorf("failed connecting to PostgreSQL database: %w", err)
	}

	return sqldb.New(pgDB, Dialect{}), nil
}

// Dialect is the PostgreSQL sqldb.Dialect.
type Dialect struct{}

var _ sqldb.Dialect = Dialect{}

// Placeholder implements sqldb.Dialect.
func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// DocParam implements sqldb.Dialect.
func (Dialect) DocParam(n int) string { return fmt.Sprintf("$%d::jsonb", n) }

// CreateTable implements sqldb.Dialect.
func (Dialect) CreateTable(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		seq BIGSERIAL PRIMARY KEY,
		id  TEXT NOT NULL UNIQUE,
		doc JSONB NOT NULL
	)`, table)
}

// CreateIndex implements sqldb.Dialect.
func (Dialect) CreateIndex(table, index, field string, unique bool) string {
	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf(`CREATE %s IF NOT EXISTS %s ON %s ((doc->'%s'))`, kind, index, table, field)
}

// FieldEquals implements sqldb.Dialect.
func (Dialect) FieldEquals(field string, n int) string {
	return fmt.Sprintf(`COALESCE(doc->'%s', 'null'::jsonb) = $%d::jsonb`, field, n)
}

// ListTables implements sqldb.Dialect.
func (Dialect) ListTables() string {
	return `SELECT table_name FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'
		ORDER BY table_name`
}

// Err converts a unique violation reported by PostgreSQL into a
// *types.DuplicateError.
func (Dialect) Err(collection, id string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return &types.DuplicateError{Collection: collection, ID: id}
	}
	return err
}

// Package sqldb stores documents as JSON in relational databases. Each
// collection is a table with an insertion sequence, the document identifier
// and the document body. The SQL that differs between engines is provided by
// a Dialect.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.hackfix.me/docmig/db/types"
)

// Dialect provides the engine-specific SQL used by DB.
type Dialect interface {
	// Placeholder returns the bind parameter for the nth (1-based) argument.
	Placeholder(n int) string
	// DocParam returns the bind parameter for a document body passed as JSON
	// text as the nth argument.
	DocParam(n int) string
	// CreateTable returns the statement that creates a collection table if
	// it doesn't exist.
	CreateTable(table string) string
	// CreateIndex returns the statement that creates an index on a top-level
	// document field if it doesn't exist.
	CreateIndex(table, index, field string, unique bool) string
	// FieldEquals returns a condition comparing a top-level document field to
	// the JSON value passed as the nth argument. Missing fields equal null.
	FieldEquals(field string, n int) string
	// ListTables returns the query listing all collection tables.
	ListTables() string
	// Err converts an engine error into a db/types error where possible.
	Err(collection, id string, err error) error
}

// DB is a document database backed by a SQL database.
type DB struct {
	*sql.DB
	dialect Dialect
}

var _ types.Database = (*DB)(nil)

// New wraps an open SQL database.
func New(sqlDB *sql.DB, dialect Dialect) *DB {
	return &DB{DB: sqlDB, dialect: dialect}
}

// Collection returns a handle to the named collection. The table is created
// on first use.
func (d *DB) Collection(name string) types.Collection {
	return &Collection{db: d, name: name}
}

// CollectionNames returns the names of all collection tables.
func (d *DB) CollectionNames(ctx context.Context) (names []string, rerr error) {
	rows, err := d.QueryContext(ctx, d.dialect.ListTables())
	if err != nil {
		return nil, fmt.Errorf("failed listing tables: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil && rerr == nil {
			rerr = fmt.Errorf("failed closing table rows: %w", err)
		}
	}()

	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed scanning table name: %w", err)
		}
		names = append(names, name)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over table rows: %w", err)
	}

	return names, nil
}

// Close closes the database. It's safe to call multiple times.
func (d *DB) Close(_ context.Context) error {
	return d.DB.Close() //nolint:wrapcheck // This is fine.
}

// Collection is a table of JSON documents.
type Collection struct {
	db   *DB
	name string
}

var _ types.Collection = (*Collection)(nil)

// querier is implemented by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) table() string {
	return fmt.Sprintf(`"%s"`, c.name)
}

func (c *Collection) ensureTable(ctx context.Context) error {
	if err := types.ValidateCollectionName(c.name); err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, c.db.dialect.CreateTable(c.table())); err != nil {
		return fmt.Errorf("failed creating table for collection '%s': %w", c.name, err)
	}
	return nil
}

// where builds the WHERE condition for filter. Argument numbering starts at
// firstArg.
func (c *Collection) where(filter types.Filter, firstArg int) (string, []any, error) {
	if len(filter) == 0 {
		return "1=1", nil, nil
	}
	conds := make([]string, 0, len(filter))
	args := make([]any, 0, len(filter))
	for i, field := range filter.Fields() {
		if err := types.ValidateFieldName(field); err != nil {
			return "", nil, err
		}
		val, err := json.Marshal(filter[field])
		if err != nil {
			return "", nil, types.InvalidInputError{
				Msg: fmt.Sprintf("failed serializing filter value for '%s': %s", field, err),
			}
		}
		conds = append(conds, c.db.dialect.FieldEquals(field, firstArg+i))
		args = append(args, string(val))
	}
	return strings.Join(conds, " AND "), args, nil
}

// EnsureIndex creates an index on field.
func (c *Collection) EnsureIndex(ctx context.Context, field string, unique bool) error {
	if err := types.ValidateFieldName(field); err != nil {
		return err
	}
	if err := c.ensureTable(ctx); err != nil {
		return err
	}
	index := fmt.Sprintf(`"%s_%s_idx"`, c.name, strings.TrimPrefix(field, "_"))
	stmt := c.db.dialect.CreateIndex(c.table(), index, field, unique)
	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		return c.db.dialect.Err(c.name, "", fmt.Errorf("failed creating index on '%s': %w", field, err))
	}
	return nil
}

// InsertOne stores doc.
func (c *Collection) InsertOne(ctx context.Context, doc any) error {
	d, err := types.ToDocument(doc)
	if err != nil {
		return err
	}
	id := types.EnsureID(d)
	body, err := json.Marshal(d)
	if err != nil {
		return types.InvalidInputError{Msg: fmt.Sprintf("failed serializing document: %s", err)}
	}

	if err = c.ensureTable(ctx); err != nil {
		return err
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (id, doc) VALUES (%s, %s)`,
		c.table(), c.db.dialect.Placeholder(1), c.db.dialect.DocParam(2))
	if _, err = c.db.ExecContext(ctx, stmt, id, string(body)); err != nil {
		return c.db.dialect.Err(c.name, fmt.Sprintf("%s '%s'", types.IDField, id), err)
	}

	return nil
}

type row struct {
	id  string
	doc types.Document
}

func (c *Collection) load(ctx context.Context, q querier, filter types.Filter, limit int) (
	found []row, rerr error,
) {
	where, args, err := c.where(filter, 1)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT id, doc FROM %s WHERE %s ORDER BY seq ASC`, c.table(), where)
	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.LoadError{Collection: c.name, Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil && rerr == nil {
			rerr = fmt.Errorf("failed closing %s rows: %w", c.name, err)
		}
	}()

	for rows.Next() {
		var (
			r    row
			body []byte
		)
		if err = rows.Scan(&r.id, &body); err != nil {
			return nil, types.ScanError{Collection: c.name, Err: err}
		}
		if r.doc, err = types.ParseDocument(body); err != nil {
			return nil, types.ScanError{Collection: c.name, Err: err}
		}
		found = append(found, r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over %s rows: %w", c.name, err)
	}

	return found, nil
}

// Find decodes all matching documents into out.
func (c *Collection) Find(ctx context.Context, filter types.Filter, out any) error {
	if err := c.ensureTable(ctx); err != nil {
		return err
	}
	rows, err := c.load(ctx, c.db, filter, 0)
	if err != nil {
		return err
	}
	docs := make([]types.Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, r.doc)
	}
	return types.Decode(c.name, docs, out)
}

// Update applies upd to all matching documents in a single transaction.
func (c *Collection) Update(ctx context.Context, filter types.Filter, upd types.Update) (int64, error) {
	if err := c.ensureTable(ctx); err != nil {
		return 0, err
	}
	var n int64
	err := c.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := c.load(ctx, tx, filter, 0)
		if err != nil {
			return err
		}
		for _, r := range rows {
			newDoc, err := types.ApplyUpdate(r.doc, upd)
			if err != nil {
				return err
			}
			if err = c.write(ctx, tx, r.id, newDoc); err != nil {
				return err
			}
			n++
		}
		return nil
	})

	return n, err
}

// Replace replaces the first matching document with doc, keeping its
// identifier.
func (c *Collection) Replace(ctx context.Context, filter types.Filter, doc any) (int64, error) {
	newDoc, err := types.ToDocument(doc)
	if err != nil {
		return 0, err
	}
	if err = c.ensureTable(ctx); err != nil {
		return 0, err
	}

	var n int64
	err = c.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := c.load(ctx, tx, filter, 1)
		if err != nil || len(rows) == 0 {
			return err
		}
		newDoc[types.IDField] = rows[0].doc[types.IDField]
		if err = c.write(ctx, tx, rows[0].id, newDoc); err != nil {
			return err
		}
		n = 1
		return nil
	})

	return n, err
}

func (c *Collection) write(ctx context.Context, q querier, id string, doc types.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return types.InvalidInputError{Msg: fmt.Sprintf("failed serializing document: %s", err)}
	}
	stmt := fmt.Sprintf(`UPDATE %s SET doc = %s WHERE id = %s`,
		c.table(), c.db.dialect.DocParam(1), c.db.dialect.Placeholder(2))
	if _, err = q.ExecContext(ctx, stmt, string(body), id); err != nil {
		return c.db.dialect.Err(c.name, fmt.Sprintf("%s '%s'", types.IDField, id), err)
	}
	return nil
}

func (c *Collection) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed starting transaction: %w", err)
	}
	if err = fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("failed rolling back transaction: %w", rbErr))
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed committing transaction: %w", err)
	}
	return nil
}

// Delete removes all matching documents.
func (c *Collection) Delete(ctx context.Context, filter types.Filter) (int64, error) {
	if err := c.ensureTable(ctx); err != nil {
		return 0, err
	}
	where, args, err := c.where(filter, 1)
	if err != nil {
		return 0, err
	}
	res, err := c.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s`, c.table(), where), args...)
	if err != nil {
		return 0, fmt.Errorf("failed deleting from collection '%s': %w", c.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed getting affected rows: %w", err)
	}
	return n, nil
}

// Count returns the number of matching documents.
func (c *Collection) Count(ctx context.Context, filter types.Filter) (int64, error) {
	if err := c.ensureTable(ctx); err != nil {
		return 0, err
	}
	where, args, err := c.where(filter, 1)
	if err != nil {
		return 0, err
	}
	var n int64
	err = c.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, c.table(), where), args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed scanning %s count query: %w", c.name, err)
	}
	return n, nil
}

// Drop removes the collection table.
func (c *Collection) Drop(ctx context.Context) error {
	if err := types.ValidateCollectionName(c.name); err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, c.table())); err != nil {
		return fmt.Errorf("failed dropping collection '%s': %w", c.name, err)
	}
	return nil
}

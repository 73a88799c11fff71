// Package memory implements an in-process document database. It's used for
// tests and dry runs, and its contents are lost when the process exits.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.hackfix.me/docmig/db/types"
)

// DB is an in-memory document database. It is safe for concurrent use.
type DB struct {
	mx          sync.RWMutex
	collections map[string]*collData
}

type collData struct {
	docs   []types.Document
	unique map[string]struct{}
}

var _ types.Database = (*DB)(nil)

// New returns a new empty database.
func New() *DB {
	return &DB{collections: make(map[string]*collData)}
}

// Collection returns a handle to the named collection.
func (d *DB) Collection(name string) types.Collection {
	return &Collection{db: d, name: name}
}

// CollectionNames returns the names of all existing collections in sorted
// order.
func (d *DB) CollectionNames(_ context.Context) ([]string, error) {
	d.mx.RLock()
	defer d.mx.RUnlock()
	names := make([]string, 0, len(d.collections))
	for name := range d.collections {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Close is a no-op. The data remains accessible after closing, which allows
// tests to inspect it.
func (d *DB) Close(_ context.Context) error {
	return nil
}

// Collection is a collection in an in-memory database.
type Collection struct {
	db   *DB
	name string
}

var _ types.Collection = (*Collection)(nil)

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// data returns the collection data, creating it if create is true. It must be
// called with the database lock held.
func (c *Collection) data(create bool) *collData {
	cd, ok := c.db.collections[c.name]
	if !ok && create {
		cd = &collData{unique: make(map[string]struct{})}
		c.db.collections[c.name] = cd
	}
	return cd
}

// EnsureIndex registers a unique constraint on field. Non-unique indexes are
// accepted and ignored.
func (c *Collection) EnsureIndex(_ context.Context, field string, unique bool) error {
	if err := types.ValidateFieldName(field); err != nil {
		return err
	}
	c.db.mx.Lock()
	defer c.db.mx.Unlock()
	cd := c.data(true)
	if !unique {
		return nil
	}
	if err := checkUnique(c.name, cd.docs, field, -1, nil); err != nil {
		return fmt.Errorf("failed creating unique index on '%s': %w", field, err)
	}
	cd.unique[field] = struct{}{}
	return nil
}

// InsertOne stores a copy of doc.
func (c *Collection) InsertOne(_ context.Context, doc any) error {
	d, err := types.ToDocument(doc)
	if err != nil {
		return err
	}
	types.EnsureID(d)

	c.db.mx.Lock()
	defer c.db.mx.Unlock()
	cd := c.data(true)
	if err = checkUniqueAll(c.name, cd, d, -1); err != nil {
		return err
	}
	cd.docs = append(cd.docs, d)

	return nil
}

// Find decodes all matching documents into out.
func (c *Collection) Find(_ context.Context, filter types.Filter, out any) error {
	c.db.mx.RLock()
	defer c.db.mx.RUnlock()
	var found []types.Document
	if cd := c.data(false); cd != nil {
		for _, doc := range cd.docs {
			ok, err := types.Matches(doc, filter)
			if err != nil {
				return types.LoadError{Collection: c.name, Err: err}
			}
			if ok {
				found = append(found, doc)
			}
		}
	}
	return types.Decode(c.name, found, out)
}

// Update applies upd to all matching documents.
func (c *Collection) Update(_ context.Context, filter types.Filter, upd types.Update) (int64, error) {
	c.db.mx.Lock()
	defer c.db.mx.Unlock()
	cd := c.data(false)
	if cd == nil {
		return 0, nil
	}

	// Build the new state first, so that a constraint violation leaves the
	// collection untouched.
	updated := slices.Clone(cd.docs)
	var n int64
	for i, doc := range cd.docs {
		ok, err := types.Matches(doc, filter)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		newDoc, err := types.ApplyUpdate(doc, upd)
		if err != nil {
			return 0, err
		}
		updated[i] = newDoc
		n++
	}
	for i, doc := range updated {
		if err := checkUniqueAll(c.name, &collData{docs: updated, unique: cd.unique}, doc, i); err != nil {
			return 0, err
		}
	}
	cd.docs = updated

	return n, nil
}

// Replace replaces the first matching document with doc. The identifier of the
// replaced document is kept.
func (c *Collection) Replace(_ context.Context, filter types.Filter, doc any) (int64, error) {
	newDoc, err := types.ToDocument(doc)
	if err != nil {
		return 0, err
	}

	c.db.mx.Lock()
	defer c.db.mx.Unlock()
	cd := c.data(false)
	if cd == nil {
		return 0, nil
	}
	for i, old := range cd.docs {
		ok, err := types.Matches(old, filter)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		newDoc[types.IDField] = old[types.IDField]
		if err = checkUniqueAll(c.name, cd, newDoc, i); err != nil {
			return 0, err
		}
		cd.docs[i] = newDoc
		return 1, nil
	}

	return 0, nil
}

// Delete removes all matching documents.
func (c *Collection) Delete(_ context.Context, filter types.Filter) (int64, error) {
	c.db.mx.Lock()
	defer c.db.mx.Unlock()
	cd := c.data(false)
	if cd == nil {
		return 0, nil
	}
	kept := make([]types.Document, 0, len(cd.docs))
	for _, doc := range cd.docs {
		ok, err := types.Matches(doc, filter)
		if err != nil {
			return 0, err
		}
		if !ok {
			kept = append(kept, doc)
		}
	}
	n := int64(len(cd.docs) - len(kept))
	cd.docs = kept

	return n, nil
}

// Count returns the number of matching documents.
func (c *Collection) Count(_ context.Context, filter types.Filter) (int64, error) {
	c.db.mx.RLock()
	defer c.db.mx.RUnlock()
	cd := c.data(false)
	if cd == nil {
		return 0, nil
	}
	var n int64
	for _, doc := range cd.docs {
		ok, err := types.Matches(doc, filter)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Drop removes the collection.
func (c *Collection) Drop(_ context.Context) error {
	c.db.mx.Lock()
	defer c.db.mx.Unlock()
	delete(c.db.collections, c.name)
	return nil
}

// checkUniqueAll checks doc against every unique field of the collection,
// ignoring the document at index skip.
func checkUniqueAll(collName string, cd *collData, doc types.Document, skip int) error {
	fields := make([]string, 0, len(cd.unique)+1)
	fields = append(fields, types.IDField)
	for field := range cd.unique {
		fields = append(fields, field)
	}
	for _, field := range fields {
		if err := checkUnique(collName, cd.docs, field, skip, doc); err != nil {
			return err
		}
	}
	return nil
}

// checkUnique returns a *types.DuplicateError if two documents share the same
// value for field. If doc is nil, all documents are checked against each
// other, otherwise only doc is checked against docs.
func checkUnique(collName string, docs []types.Document, field string, skip int, doc types.Document) error {
	candidates := docs
	if doc != nil {
		candidates = []types.Document{doc}
	}
	for ci, cand := range candidates {
		val, ok := cand[field]
		if !ok {
			continue
		}
		for i, other := range docs {
			if i == skip || (doc == nil && i == ci) {
				continue
			}
			oval, ok := other[field]
			if !ok {
				continue
			}
			eq, err := types.JSONEqual(val, oval)
			if err != nil {
				return err
			}
			if eq {
				return &types.DuplicateError{
					Collection: collName, ID: fmt.Sprintf("%s '%v'", field, val),
				}
			}
		}
	}
	return nil
}

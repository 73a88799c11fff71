package migration

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"go.hackfix.me/docmig/db/types"
)

// StateStore persists the records of applied migrations.
type StateStore interface {
	// Records returns all records, sorted by sequence key.
	Records(ctx context.Context) ([]*Record, error)
	// Insert stores rec. It returns a DuplicateRecordError if a record with
	// the same name exists.
	Insert(ctx context.Context, rec *Record) error
	// Delete removes the record named name. It returns a NotFoundError if it
	// doesn't exist.
	Delete(ctx context.Context, name string) error
	// Close releases the store. It is safe to call multiple times, also
	// concurrently.
	Close(ctx context.Context) error
}

// CollectionStore is a StateStore backed by a single collection of the
// migrated database. It owns the database, and closes it on Close.
type CollectionStore struct {
	db   types.Database
	coll types.Collection

	mx       sync.Mutex
	indexed  bool
	closed   bool
	closeErr error
}

var _ StateStore = (*CollectionStore)(nil)

// NewCollectionStore returns a StateStore keeping records in the named
// collection of d.
func NewCollectionStore(d types.Database, collection string) (*CollectionStore, error) {
	if err := types.ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	return &CollectionStore{db: d, coll: d.Collection(collection)}, nil
}

// collection returns the records collection, making sure the unique index on
// the record name exists.
func (s *CollectionStore) collection(ctx context.Context) (types.Collection, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if !s.indexed {
		if err := s.coll.EnsureIndex(ctx, "name", true); err != nil {
			return nil, err
		}
		s.indexed = true
	}
	return s.coll, nil
}

// Records returns all records, sorted by sequence key and name.
func (s *CollectionStore) Records(ctx context.Context) ([]*Record, error) {
	coll, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}

	var recs []*Record
	if err = coll.Find(ctx, nil, &recs); err != nil {
		return nil, err
	}
	slices.SortStableFunc(recs, compareRecords)

	return recs, nil
}

// Insert stores rec.
func (s *CollectionStore) Insert(ctx context.Context, rec *Record) error {
	coll, err := s.collection(ctx)
	if err != nil {
		return err
	}
	if err = coll.InsertOne(ctx, rec); err != nil {
		if types.IsDuplicate(err) {
			return DuplicateRecordError{Name: rec.Name}
		}
		return err
	}
	return nil
}

// Delete removes the record named name.
func (s *CollectionStore) Delete(ctx context.Context, name string) error {
	coll, err := s.collection(ctx)
	if err != nil {
		return err
	}
	n, err := coll.Delete(ctx, types.Filter{"name": name})
	if err != nil {
		return err
	}
	if n == 0 {
		return NotFoundError{Name: name, Applied: true}
	}
	return nil
}

// Close closes the underlying database. Only the first call has any effect;
// later calls return the same result.
func (s *CollectionStore) Close(ctx context.Context) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return s.closeErr
	}
	s.closed = true
	s.closeErr = s.db.Close(ctx)
	return s.closeErr
}

func compareRecords(a, b *Record) int {
	if c := a.SequenceKey.Compare(b.SequenceKey); c != 0 {
		return c
	}
	return cmp.Compare(a.Name, b.Name)
}

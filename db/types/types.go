package types

import (
	"context"
	"fmt"
	"regexp"
	"slices"
)

// IDField is the name of the field that uniquely identifies a document within
// a collection. Backends generate a value for it if a document is inserted
// without one.
const IDField = "_id"

// Document is a schemaless document as read from a Collection.
type Document = map[string]any

// Database is a connection to a document database. It is the only handle
// migrations get to the data they change.
type Database interface {
	// Collection returns a handle to the named collection. Collections are
	// created lazily by the first write.
	Collection(name string) Collection
	// CollectionNames returns the names of all existing collections.
	CollectionNames(ctx context.Context) ([]string, error)
	// Close releases the underlying connection.
	Close(ctx context.Context) error
}

// Collection exposes the operations supported on a single collection of
// documents. Documents passed in can be any value that serializes to an
// object; out values passed to Find must be pointers to slices.
type Collection interface {
	Name() string
	// EnsureIndex creates an index on a top-level field if it doesn't exist.
	EnsureIndex(ctx context.Context, field string, unique bool) error
	// InsertOne stores a new document. It returns a *DuplicateError if a
	// unique index would be violated.
	InsertOne(ctx context.Context, doc any) error
	// Find decodes all documents matching filter into out, in insertion order.
	Find(ctx context.Context, filter Filter, out any) error
	// Update modifies all documents matching filter, and returns the number of
	// matched documents.
	Update(ctx context.Context, filter Filter, upd Update) (int64, error)
	// Replace replaces the first document matching filter, and returns the
	// number of replaced documents.
	Replace(ctx context.Context, filter Filter, doc any) (int64, error)
	// Delete removes all documents matching filter, and returns their number.
	Delete(ctx context.Context, filter Filter) (int64, error)
	// Count returns the number of documents matching filter.
	Count(ctx context.Context, filter Filter) (int64, error)
	// Drop removes the collection and all of its documents.
	Drop(ctx context.Context) error
}

// Filter selects documents by equality on top-level fields. A nil or empty
// Filter matches every document.
type Filter map[string]any

// Fields returns the filter field names in sorted order, so that backends can
// build deterministic queries.
func (f Filter) Fields() []string {
	fields := make([]string, 0, len(f))
	for k := range f {
		fields = append(fields, k)
	}
	slices.Sort(fields)
	return fields
}

// Update describes a partial modification of a document.
type Update struct {
	Set   map[string]any
	Unset []string
}

// IsEmpty returns true if the update doesn't change anything.
func (u Update) IsEmpty() bool {
	return len(u.Set) == 0 && len(u.Unset) == 0
}

var (
	collNameRx  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]{0,119}$`)
	fieldNameRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)
)

// ValidateCollectionName returns an error if name can't be safely used as a
// collection name by every backend.
func ValidateCollectionName(name string) error {
	if !collNameRx.MatchString(name) {
		return InvalidInputError{Msg: fmt.Sprintf("invalid collection name '%s'", name)}
	}
	return nil
}

// ValidateFieldName returns an error if name can't be safely used as an
// indexed or filtered field name by every backend.
func ValidateFieldName(name string) error {
	if name != IDField && !fieldNameRx.MatchString(name) {
		return InvalidInputError{Msg: fmt.Sprintf("invalid field name '%s'", name)}
	}
	return nil
}

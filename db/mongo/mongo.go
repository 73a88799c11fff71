// Package mongo implements the document database interfaces on top of the
// official MongoDB driver.
package mongo

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/x/mongo/driver/connstring"

	"go.hackfix.me/docmig/db/types"
)

// DB is a connection to a MongoDB database.
type DB struct {
	client *mongo.Client
	db     *mongo.Database

	closeOnce sync.Once
	closeErr  error
}

var _ types.Database = (*DB)(nil)

// Open connects to the MongoDB deployment at uri. The URI must name the
// database to use.
func Open(ctx context.Context, uri string) (*DB, error) {
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return nil, types.InvalidInputError{Msg: fmt.Sprintf("invalid MongoDB URI: %s", err)}
	}
	if cs.Database == "" {
		return nil, types.InvalidInputError{Msg: "MongoDB URI must include a database name"}
	}

	opts := options.Client().
		ApplyURI(uri).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed creating MongoDB client: %w", err)
	}
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed connecting to MongoDB: %w", err)
	}

	return &DB{client: client, db: client.Database(cs.Database)}, nil
}

// Collection returns a handle to the named collection.
func (d *DB) Collection(name string) types.Collection {
	return &Collection{coll: d.db.Collection(name), name: name}
}

// CollectionNames returns the names of all collections in sorted order.
func (d *DB) CollectionNames(ctx context.Context) ([]string, error) {
	names, err := d.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("failed listing collections: %w", err)
	}
	slices.Sort(names)
	return names, nil
}

// Close disconnects the client. It's safe to call multiple times.
func (d *DB) Close(ctx context.Context) error {
	d.closeOnce.Do(func() {
		if err := d.client.Disconnect(ctx); err != nil {
			d.closeErr = fmt.Errorf("failed disconnecting from MongoDB: %w", err)
		}
	})
	return d.closeErr
}

// Collection is a MongoDB collection.
type Collection struct {
	coll *mongo.Collection
	name string
}

var _ types.Collection = (*Collection)(nil)

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) err(id string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return &types.DuplicateError{Collection: c.name, ID: id}
	}
	return err
}

// EnsureIndex creates an ascending index on field.
func (c *Collection) EnsureIndex(ctx context.Context, field string, unique bool) error {
	if err := types.ValidateFieldName(field); err != nil {
		return err
	}
	_, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: field, Value: 1}},
		Options: options.Index().SetUnique(unique),
	})
	if err != nil {
		return c.err("", fmt.Errorf("failed creating index on '%s': %w", field, err))
	}
	return nil
}

// InsertOne stores doc.
func (c *Collection) InsertOne(ctx context.Context, doc any) error {
	if _, err := c.coll.InsertOne(ctx, doc); err != nil {
		return c.err("", err)
	}
	return nil
}

// Find decodes all matching documents into out, in natural order.
func (c *Collection) Find(ctx context.Context, filter types.Filter, out any) error {
	cur, err := c.coll.Find(ctx, toBSON(filter),
		options.Find().SetSort(bson.D{{Key: "$natural", Value: 1}}))
	if err != nil {
		return types.LoadError{Collection: c.name, Err: err}
	}
	if err = cur.All(ctx, out); err != nil {
		return types.ScanError{Collection: c.name, Err: err}
	}
	return nil
}

// Update applies upd to all matching documents.
func (c *Collection) Update(ctx context.Context, filter types.Filter, upd types.Update) (int64, error) {
	if _, ok := upd.Set[types.IDField]; ok || slices.Contains(upd.Unset, types.IDField) {
		return 0, types.InvalidInputError{Msg: fmt.Sprintf("field '%s' can't be modified", types.IDField)}
	}
	// An empty update document is rejected by the server.
	if upd.IsEmpty() {
		return c.Count(ctx, filter)
	}

	change := bson.M{}
	if len(upd.Set) > 0 {
		change["$set"] = upd.Set
	}
	if len(upd.Unset) > 0 {
		unset := bson.M{}
		for _, field := range upd.Unset {
			unset[field] = ""
		}
		change["$unset"] = unset
	}

	res, err := c.coll.UpdateMany(ctx, toBSON(filter), change)
	if err != nil {
		return 0, c.err("", fmt.Errorf("failed updating collection '%s': %w", c.name, err))
	}
	return res.MatchedCount, nil
}

// Replace replaces the first matching document with doc.
func (c *Collection) Replace(ctx context.Context, filter types.Filter, doc any) (int64, error) {
	res, err := c.coll.ReplaceOne(ctx, toBSON(filter), doc)
	if err != nil {
		return 0, c.err("", fmt.Errorf("failed replacing document in collection '%s': %w", c.name, err))
	}
	return res.MatchedCount, nil
}

// Delete removes all matching documents.
func (c *Collection) Delete(ctx context.Context, filter types.Filter) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, toBSON(filter))
	if err != nil {
		return 0, fmt.Errorf("failed deleting from collection '%s': %w", c.name, err)
	}
	return res.DeletedCount, nil
}

// Count returns the number of matching documents.
func (c *Collection) Count(ctx context.Context, filter types.Filter) (int64, error) {
	n, err := c.coll.CountDocuments(ctx, toBSON(filter))
	if err != nil {
		return 0, fmt.Errorf("failed counting documents in collection '%s': %w", c.name, err)
	}
	return n, nil
}

// Drop removes the collection.
func (c *Collection) Drop(ctx context.Context) error {
	if err := c.coll.Drop(ctx); err != nil {
		return fmt.Errorf("failed dropping collection '%s': %w", c.name, err)
	}
	return nil
}

// toBSON converts filter into a query document. The server rejects a nil
// filter, so an empty document is returned in that case.
func toBSON(filter types.Filter) bson.M {
	m := bson.M{}
	for k, v := range filter {
		m[k] = v
	}
	return m
}

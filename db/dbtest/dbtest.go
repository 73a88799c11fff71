// Package dbtest contains a behavior suite shared by all types.Database
// implementations.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/docmig/db/types"
)

type user struct {
	ID    string `json:"_id" bson:"_id"`
	Name  string `json:"name" bson:"name"`
	Email string `json:"email,omitempty" bson:"email,omitempty"`
	Age   int    `json:"age,omitempty" bson:"age,omitempty"`
}

// Run runs the suite against a fresh database returned by newDB for every
// subtest.
func Run(t *testing.T, newDB func(t *testing.T) types.Database) {
	t.Helper()

	ctx := func(t *testing.T) context.Context {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		t.Cleanup(cancel)
		return ctx
	}

	seed := func(t *testing.T, c types.Collection) {
		t.Helper()
		for _, u := range []user{
			{ID: "1", Name: "alice", Email: "alice@example.com", Age: 30},
			{ID: "2", Name: "bob", Age: 25},
			{ID: "3", Name: "carol", Email: "carol@example.com", Age: 30},
		} {
			require.NoError(t, c.InsertOne(ctx(t), u))
		}
	}

	t.Run("ok/insert_find", func(t *testing.T) {
		d := newDB(t)
		c := d.Collection("users")
		seed(t, c)

		var got []user
		err := c.Find(ctx(t), nil, &got)
		require.NoError(t, err)
		assert.Equal(t, []user{
			{ID: "1", Name: "alice", Email: "alice@example.com", Age: 30},
			{ID: "2", Name: "bob", Age: 25},
			{ID: "3", Name: "carol", Email: "carol@example.com", Age: 30},
		}, got)

		got = nil
		err = c.Find(ctx(t), types.Filter{"age": 30}, &got)
		require.NoError(t, err)
		assert.Len(t, got, 2)

		got = nil
		err = c.Find(ctx(t), types.Filter{"name": "nobody"}, &got)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("ok/generated_id", func(t *testing.T) {
		d := newDB(t)
		c := d.Collection("things")
		err := c.InsertOne(ctx(t), map[string]any{"kind": "widget"})
		require.NoError(t, err)

		var got []map[string]any
		err = c.Find(ctx(t), types.Filter{"kind": "widget"}, &got)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.NotEmpty(t, got[0][types.IDField])
	})

	t.Run("ok/collection_names", func(t *testing.T) {
		d := newDB(t)
		require.NoError(t, d.Collection("b_coll").InsertOne(ctx(t), map[string]any{"x": 1}))
		require.NoError(t, d.Collection("a_coll").InsertOne(ctx(t), map[string]any{"x": 1}))

		names, err := d.CollectionNames(ctx(t))
		require.NoError(t, err)
		assert.Subset(t, names, []string{"a_coll", "b_coll"})

		require.NoError(t, d.Collection("a_coll").Drop(ctx(t)))
		names, err = d.CollectionNames(ctx(t))
		require.NoError(t, err)
		assert.NotContains(t, names, "a_coll")
	})

	t.Run("ok/update", func(t *testing.T) {
		d := newDB(t)
		c := d.Collection("users")
		seed(t, c)

		n, err := c.Update(ctx(t), types.Filter{"age": 30},
			types.Update{Set: map[string]any{"age": 31}, Unset: []string{"email"}})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		var got []user
		err = c.Find(ctx(t), types.Filter{"age": 31}, &got)
		require.NoError(t, err)
		assert.Equal(t, []user{
			{ID: "1", Name: "alice", Age: 31},
			{ID: "3", Name: "carol", Age: 31},
		}, got)

		n, err = c.Update(ctx(t), types.Filter{"name": "nobody"},
			types.Update{Set: map[string]any{"age": 1}})
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("err/update_id", func(t *testing.T) {
		d := newDB(t)
		c := d.Collection("users")
		seed(t, c)

		_, err := c.Update(ctx(t), types.Filter{"name": "bob"},
			types.Update{Set: map[string]any{types.IDField: "9"}})
		var ierr types.InvalidInputError
		assert.ErrorAs(t, err, &ierr)
	})

	t.Run("ok/replace", func(t *testing.T) {
		d := newDB(t)
		c := d.Collection("users")
		seed(t, c)

		n, err := c.Replace(ctx(t), types.Filter{"name": "bob"},
			map[string]any{types.IDField: "2", "name": "robert"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		var got []user
		err = c.Find(ctx(t), types.Filter{types.IDField: "2"}, &got)
		require.NoError(t, err)
		assert.Equal(t, []user{{ID: "2", Name: "robert"}}, got)

		n, err = c.Replace(ctx(t), types.Filter{"name": "nobody"}, map[string]any{"name": "x"})
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("ok/delete_count", func(t *testing.T) {
		d := newDB(t)
		c := d.Collection("users")
		seed(t, c)

		n, err := c.Delete(ctx(t), types.Filter{"age": 30})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		n, err = c.Count(ctx(t), nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("err/duplicate_id", func(t *testing.T) {
		d := newDB(t)
		c := d.Collection("users")
		seed(t, c)

		err := c.InsertOne(ctx(t), user{ID: "1", Name: "again"})
		assert.True(t, types.IsDuplicate(err), "expected duplicate error, got %v", err)
	})

	t.Run("err/unique_index", func(t *testing.T) {
		d := newDB(t)
		c := d.Collection("users")
		seed(t, c)

		err := c.EnsureIndex(ctx(t), "name", true)
		require.NoError(t, err)
		// Idempotent.
		err = c.EnsureIndex(ctx(t), "name", true)
		require.NoError(t, err)

		err = c.InsertOne(ctx(t), user{ID: "4", Name: "alice"})
		assert.True(t, types.IsDuplicate(err), "expected duplicate error, got %v", err)

		n, err := c.Count(ctx(t), nil)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		err = c.EnsureIndex(ctx(t), "age", true)
		assert.True(t, types.IsDuplicate(err), "expected duplicate error, got %v", err)
	})

	t.Run("err/invalid_field", func(t *testing.T) {
		d := newDB(t)
		c := d.Collection("users")
		err := c.EnsureIndex(ctx(t), "bad'field", false)
		var ierr types.InvalidInputError
		assert.ErrorAs(t, err, &ierr)
	})
}

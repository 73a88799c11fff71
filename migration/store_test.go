package migration_test

import (
	"context"
	"crypto/rand"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/docmig/db/memory"
	"go.hackfix.me/docmig/db/sqlite"
	"go.hackfix.me/docmig/db/types"
	"go.hackfix.me/docmig/migration"
)

// storeBackends returns constructors of the databases the CollectionStore is
// tested against.
func storeBackends() map[string]func(t *testing.T) types.Database {
	return map[string]func(t *testing.T) types.Database{
		"memory": func(_ *testing.T) types.Database {
			return memory.New()
		},
		"sqlite": func(t *testing.T) types.Database {
			// A unique name per database, to avoid clashing of in-memory SQLite DBs.
			rndName := make([]byte, 12)
			_, err := rand.Read(rndName)
			require.NoError(t, err)

			d, err := sqlite.Open(context.Background(),
				fmt.Sprintf("file:docmig-store-%x?mode=memory&cache=shared", rndName))
			require.NoError(t, err)
			t.Cleanup(func() { _ = d.Close(context.Background()) })

			return d
		},
	}
}

func newRecord(name string, minute int) *migration.Record {
	key := timeNow.Add(time.Duration(minute) * time.Minute)
	return &migration.Record{
		Name:        name,
		SequenceKey: key,
		AppliedAt:   key.Add(90*time.Second + 250*time.Millisecond),
	}
}

func TestCollectionStore(t *testing.T) {
	t.Parallel()

	for backend, newDB := range storeBackends() {
		t.Run(backend, func(t *testing.T) {
			t.Parallel()

			t.Run("ok/insert_records", func(t *testing.T) {
				t.Parallel()

				store, err := migration.NewCollectionStore(newDB(t), "migrations")
				require.NoError(t, err)

				recs, err := store.Records(t.Context())
				require.NoError(t, err)
				assert.Empty(t, recs)

				// Inserted out of order, returned by sequence key.
				for _, rec := range []*migration.Record{
					newRecord("c", 3), newRecord("a", 1), newRecord("b", 2),
				} {
					require.NoError(t, store.Insert(t.Context(), rec))
				}

				recs, err = store.Records(t.Context())
				require.NoError(t, err)
				require.Len(t, recs, 3)
				for i, exp := range []*migration.Record{
					newRecord("a", 1), newRecord("b", 2), newRecord("c", 3),
				} {
					assert.Equal(t, exp.Name, recs[i].Name)
					assert.True(t, exp.SequenceKey.Equal(recs[i].SequenceKey),
						"sequence key of %s: %s", exp.Name, recs[i].SequenceKey)
					assert.True(t, exp.AppliedAt.Equal(recs[i].AppliedAt),
						"applied at of %s: %s", exp.Name, recs[i].AppliedAt)
				}
			})

			t.Run("ok/delete", func(t *testing.T) {
				t.Parallel()

				store, err := migration.NewCollectionStore(newDB(t), "migrations")
				require.NoError(t, err)
				require.NoError(t, store.Insert(t.Context(), newRecord("a", 1)))
				require.NoError(t, store.Insert(t.Context(), newRecord("b", 2)))

				require.NoError(t, store.Delete(t.Context(), "a"))

				recs, err := store.Records(t.Context())
				require.NoError(t, err)
				require.Len(t, recs, 1)
				assert.Equal(t, "b", recs[0].Name)

				// The name is free again.
				require.NoError(t, store.Insert(t.Context(), newRecord("a", 1)))
			})

			t.Run("err/duplicate_record", func(t *testing.T) {
				t.Parallel()

				store, err := migration.NewCollectionStore(newDB(t), "migrations")
				require.NoError(t, err)
				require.NoError(t, store.Insert(t.Context(), newRecord("a", 1)))

				err = store.Insert(t.Context(), newRecord("a", 5))
				var dupErr migration.DuplicateRecordError
				require.ErrorAs(t, err, &dupErr)
				assert.Equal(t, "a", dupErr.Name)
				assert.EqualError(t, err, "migration 'a' is already marked as applied")

				recs, err := store.Records(t.Context())
				require.NoError(t, err)
				assert.Len(t, recs, 1)
			})

			t.Run("err/delete_missing", func(t *testing.T) {
				t.Parallel()

				store, err := migration.NewCollectionStore(newDB(t), "migrations")
				require.NoError(t, err)
				require.NoError(t, store.Insert(t.Context(), newRecord("a", 1)))

				err = store.Delete(t.Context(), "zzz")
				assert.Equal(t, migration.NotFoundError{Name: "zzz", Applied: true}, err)

				recs, err := store.Records(t.Context())
				require.NoError(t, err)
				assert.Len(t, recs, 1)
			})

			t.Run("ok/close", func(t *testing.T) {
				t.Parallel()

				store, err := migration.NewCollectionStore(newDB(t), "migrations")
				require.NoError(t, err)
				require.NoError(t, store.Insert(t.Context(), newRecord("a", 1)))

				done := make(chan error, 3)
				for range 3 {
					go func() { done <- store.Close(t.Context()) }()
				}
				for range 3 {
					assert.NoError(t, <-done)
				}
				assert.NoError(t, store.Close(t.Context()))

				_, err = store.Records(t.Context())
				assert.ErrorIs(t, err, migration.ErrClosed)
				assert.ErrorIs(t, store.Insert(t.Context(), newRecord("b", 2)), migration.ErrClosed)
				assert.ErrorIs(t, store.Delete(t.Context(), "a"), migration.ErrClosed)
			})
		})
	}

	t.Run("err/invalid_collection", func(t *testing.T) {
		t.Parallel()

		_, err := migration.NewCollectionStore(memory.New(), "")
		assert.Error(t, err)
	})
}

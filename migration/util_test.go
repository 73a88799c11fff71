package migration_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.hackfix.me/docmig/db/memory"
	"go.hackfix.me/docmig/db/types"
	"go.hackfix.me/docmig/migration"
)

var timeNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func timeNowFn() time.Time {
	return timeNow
}

// clock returns increasing times, one second apart.
type clock struct {
	mx  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

// journal records the actions run by test definitions.
type journal struct {
	mx      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mx.Lock()
	defer j.mx.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) get() []string {
	j.mx.Lock()
	defer j.mx.Unlock()
	return append([]string(nil), j.entries...)
}

var errBoom = errors.New("boom")

type defOpt func(*migration.Definition)

func irreversible() defOpt {
	return func(d *migration.Definition) {
		d.Down = nil
	}
}

func failing(dir migration.Direction) defOpt {
	return func(d *migration.Definition) {
		fail := func(context.Context, types.Database) error { return errBoom }
		if dir == migration.Up {
			d.Up = fail
		} else {
			d.Down = fail
		}
	}
}

func withUp(fn migration.Action) defOpt {
	return func(d *migration.Definition) {
		d.Up = fn
	}
}

// newDef returns a definition created minute minutes after timeNow, whose
// actions are recorded in j.
func newDef(j *journal, name string, minute int, opts ...defOpt) *migration.Definition {
	def := &migration.Definition{
		Name:        name,
		SequenceKey: timeNow.Add(time.Duration(minute) * time.Minute),
		Source:      "memory",
		Up: func(context.Context, types.Database) error {
			j.add("up:" + name)
			return nil
		},
		Down: func(context.Context, types.Database) error {
			j.add("down:" + name)
			return nil
		},
	}
	for _, opt := range opts {
		opt(def)
	}
	return def
}

type testMigrator struct {
	*migration.Migrator
	db     *memory.DB
	source *migration.MemorySource
}

func newTestMigrator(
	t *testing.T, cfg migration.Config, defs []*migration.Definition, opts ...migration.Option,
) *testMigrator {
	t.Helper()

	d := memory.New()
	source := migration.NewMemorySource(defs...)
	c := &clock{now: timeNow}
	opts = append([]migration.Option{migration.WithTimeNow(c.Now)}, opts...)
	m, err := migration.New(cfg, d, source, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })

	return &testMigrator{Migrator: m, db: d, source: source}
}

// records returns the names of the stored records, read directly from the
// database so that it works after the migrator is closed.
func (tm *testMigrator) records(t *testing.T) []string {
	t.Helper()

	var recs []*migration.Record
	err := tm.db.Collection(migration.DefaultCollectionName).Find(context.Background(), nil, &recs)
	require.NoError(t, err)

	names := make([]string, 0, len(recs))
	for _, rec := range recs {
		names = append(names, rec.Name)
	}
	return names
}

// seedRecord inserts a record directly, as if the migration had been applied.
func (tm *testMigrator) seedRecord(t *testing.T, name string, minute int) {
	t.Helper()

	err := tm.db.Collection(migration.DefaultCollectionName).InsertOne(context.Background(),
		&migration.Record{
			Name:        name,
			SequenceKey: timeNow.Add(time.Duration(minute) * time.Minute),
			AppliedAt:   timeNow,
		})
	require.NoError(t, err)
}

func newTestContext(t *testing.T, timeout time.Duration) (
	ctx context.Context, cancelCtx func(), assertHandler func(bool),
) {
	ctx, cancelCtx = context.WithTimeout(t.Context(), timeout)
	assertHandler = func(success bool) {
		if !success {
			cancelCtx()
			t.FailNow()
		}
	}

	return
}

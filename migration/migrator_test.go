package migration_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/docmig/db/memory"
	"go.hackfix.me/docmig/db/types"
	"go.hackfix.me/docmig/migration"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		cfg    func(*migration.Config)
		expErr string
	}{
		{
			name: "ok/defaults",
			cfg:  func(*migration.Config) {},
		},
		{
			name:   "err/empty_path",
			cfg:    func(c *migration.Config) { c.MigrationsPath = "" },
			expErr: "migrations path must not be empty",
		},
		{
			name:   "err/invalid_collection",
			cfg:    func(c *migration.Config) { c.CollectionName = "bad name" },
			expErr: "invalid collection name 'bad name'",
		},
		{
			name:   "err/invalid_style",
			cfg:    func(c *migration.Config) { c.Style = "toml" },
			expErr: "invalid style 'toml'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := migration.DefaultConfig()
			tt.cfg(&cfg)
			m, err := migration.New(cfg, memory.New(), migration.NewMemorySource())
			if tt.expErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expErr)
				assert.Nil(t, m)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, migration.StateConnected, m.State())
		})
	}
}

func TestMigratorUp(t *testing.T) {
	t.Parallel()

	t.Run("ok/all_pending", func(t *testing.T) {
		t.Parallel()
		ctx, cancel, h := newTestContext(t, 5*time.Second)
		defer cancel()

		j := &journal{}
		// Out of order in the source, to check sorting.
		tm := newTestMigrator(t, migration.DefaultConfig(), []*migration.Definition{
			newDef(j, "c", 3), newDef(j, "a", 1), newDef(j, "b", 2),
		})

		views, err := tm.List(ctx)
		h(assert.NoError(t, err))
		for _, v := range views {
			assert.Equal(t, migration.StatusPending, v.Status)
		}

		sum, err := tm.Up(ctx, "")
		h(assert.NoError(t, err))
		assert.Equal(t, &migration.Summary{
			Direction: migration.Up, Migrations: []string{"a", "b", "c"},
		}, sum)
		assert.Equal(t, []string{"up:a", "up:b", "up:c"}, j.get())
		assert.Equal(t, []string{"a", "b", "c"}, tm.records(t))

		views, err = tm.List(ctx)
		h(assert.NoError(t, err))
		h(assert.Len(t, views, 3))
		var lastApplied time.Time
		for _, v := range views {
			assert.Equal(t, migration.StatusApplied, v.Status)
			h(assert.NotNil(t, v.Record))
			assert.False(t, v.Record.AppliedAt.Before(lastApplied))
			lastApplied = v.Record.AppliedAt
		}

		// Nothing left to do.
		sum, err = tm.Up(ctx, "")
		assert.True(t, migration.IsNoWork(err))
		assert.Empty(t, sum.Migrations)
		assert.Equal(t, []string{"up:a", "up:b", "up:c"}, j.get())
	})

	t.Run("ok/previously_applied", func(t *testing.T) {
		t.Parallel()
		ctx, cancel, h := newTestContext(t, 5*time.Second)
		defer cancel()

		j := &journal{}
		tm := newTestMigrator(t, migration.DefaultConfig(), []*migration.Definition{
			newDef(j, "a", 1), newDef(j, "b", 2),
		})
		tm.seedRecord(t, "a", 1)

		sum, err := tm.Up(ctx, "")
		h(assert.NoError(t, err))
		assert.Equal(t, []string{"b"}, sum.Migrations)
		assert.Equal(t, []string{"up:b"}, j.get())
		assert.Equal(t, []string{"a", "b"}, tm.records(t))
	})

	t.Run("ok/target", func(t *testing.T) {
		t.Parallel()
		ctx, cancel, h := newTestContext(t, 5*time.Second)
		defer cancel()

		j := &journal{}
		tm := newTestMigrator(t, migration.DefaultConfig(), []*migration.Definition{
			newDef(j, "a", 1), newDef(j, "b", 2), newDef(j, "c", 3), newDef(j, "d", 4),
		})

		sum, err := tm.Up(ctx, "b")
		h(assert.NoError(t, err))
		assert.Equal(t, []string{"a", "b"}, sum.Migrations)
		assert.Equal(t, []string{"a", "b"}, tm.records(t))

		// The second time there's nothing to do, and nothing changes.
		_, err = tm.Up(ctx, "b")
		var nwErr migration.NoWorkError
		h(assert.ErrorAs(t, err, &nwErr))
		assert.Equal(t, "There are no migrations to run", err.Error())
		assert.Equal(t, []string{"a", "b"}, tm.records(t))
		assert.Equal(t, []string{"up:a", "up:b"}, j.get())

		sum, err = tm.Up(ctx, "d")
		h(assert.NoError(t, err))
		assert.Equal(t, []string{"c", "d"}, sum.Migrations)
	})

	t.Run("err/target_not_found", func(t *testing.T) {
		t.Parallel()
		ctx, cancel, h := newTestContext(t, 5*time.Second)
		defer cancel()

		j := &journal{}
		tm := newTestMigrator(t, migration.DefaultConfig(), []*migration.Definition{newDef(j, "a", 1)})

		_, err := tm.Up(ctx, "nope")
		var nfErr migration.NotFoundError
		h(assert.ErrorAs(t, err, &nfErr))
		assert.Equal(t, "migration 'nope' not found", err.Error())
		assert.Empty(t, tm.records(t))
		assert.Empty(t, j.get())
	})

	t.Run("err/fail_fast", func(t *testing.T) {
		t.Parallel()
		ctx, cancel, h := newTestContext(t, 5*time.Second)
		defer cancel()

		j := &journal{}
		tm := newTestMigrator(t, migration.DefaultConfig(), []*migration.Definition{
			newDef(j, "m1", 1), newDef(j, "m2", 2), newDef(j, "m3", 3, failing(migration.Up)),
			newDef(j, "m4", 4), newDef(j, "m5", 5),
		})

		sum, err := tm.Up(ctx, "")
		var aErr migration.ActionError
		h(assert.ErrorAs(t, err, &aErr))
		assert.Equal(t, "m3", aErr.Name)
		assert.Equal(t, migration.Up, aErr.Direction)
		assert.ErrorIs(t, err, errBoom)
		assert.Equal(t, []string{"m1", "m2"}, sum.Migrations)
		assert.Equal(t, []string{"up:m1", "up:m2"}, j.get())
		assert.Equal(t, []string{"m1", "m2"}, tm.records(t))

		views, err := tm.List(ctx)
		h(assert.NoError(t, err))
		statuses := map[string]migration.Status{}
		for _, v := range views {
			statuses[v.Name()] = v.Status
		}
		assert.Equal(t, map[string]migration.Status{
			"m1": migration.StatusApplied, "m2": migration.StatusApplied,
			"m3": migration.StatusPending, "m4": migration.StatusPending, "m5": migration.StatusPending,
		}, statuses)
	})
}

func TestMigratorDown(t *testing.T) {
	t.Parallel()

	setup := func(t *testing.T, j *journal, defs ...*migration.Definition) *testMigrator {
		t.Helper()
		tm := newTestMigrator(t, migration.DefaultConfig(), defs)
		_, err := tm.Up(context.Background(), "")
		require.NoError(t, err)
		j.entries = nil
		return tm
	}

	t.Run("ok/exclusive", func(t *testing.T) {
		t.Parallel()
		ctx, cancel, h := newTestContext(t, 5*time.Second)
		defer cancel()

		j := &journal{}
		tm := setup(t, j, newDef(j, "a", 1), newDef(j, "b", 2), newDef(j, "c", 3), newDef(j, "d", 4))

		sum, err := tm.Down(ctx, "b")
		h(assert.NoError(t, err))
		assert.Equal(t, &migration.Summary{
			Direction: migration.Down, Migrations: []string{"d", "c"},
		}, sum)
		assert.Equal(t, []string{"down:d", "down:c"}, j.get())
		assert.Equal(t, []string{"a", "b"}, tm.records(t))

		// b is now the latest applied migration.
		_, err = tm.Down(ctx, "b")
		assert.True(t, migration.IsNoWork(err))
		assert.Equal(t, []string{"a", "b"}, tm.records(t))
	})

	t.Run("ok/inclusive", func(t *testing.T) {
		t.Parallel()
		ctx, cancel, h := newTestContext(t, 5*time.Second)
		defer cancel()

		j := &journal{}
		tm := setup(t, j, newDef(j, "a", 1), newDef(j, "b", 2), newDef(j, "c", 3))

		sum, err := tm.Down(ctx, "b", migration.Inclusive())
		h(assert.NoError(t, err))
		assert.Equal(t, []string{"c", "b"}, sum.Migrations)
		assert.Equal(t, []string{"a"}, tm.records(t))
	})

	t.Run("ok/round_trip", func(t *testing.T) {
		t.Parallel()
		ctx, cancel, h := newTestContext(t, 5*time.Second)
		defer cancel()

		j := &journal{}
		tm := setup(t, j, newDef(j, "only", 1))
		assert.Equal(t, []string{"only"}, tm.records(t))

		_, err := tm.Down(ctx, "only", migration.Inclusive())
		h(assert.NoError(t, err))
		assert.Empty(t, tm.records(t))
	})

	t.Run("err/not_applied", func(t *testing.T) {
		t.Parallel()
		ctx, cancel, h := newTestContext(t, 5*time.Second)
		defer cancel()

		j := &journal{}
		tm := newTestMigrator(t, migration.DefaultConfig(), []*migration.Definition{
			newDef(j, "a", 1), newDef(j, "b", 2),
		})
		_, err := tm.Up(ctx, "a")
		h(assert.NoError(t, err))

		_, err = tm.Down(ctx, "b")
		var nfErr migration.NotFoundError
		h(assert.ErrorAs(t, err, &nfErr))
		assert.True(t, nfErr.Applied)

		_, err = tm.Down(ctx, "")
		var iErr types.InvalidInputError
		assert.ErrorAs(t, err, &iErr)
	})

	t.Run("err/not_reversible", func(t *testing.T) {
		t.Parallel()
		ctx, cancel, h := newTestContext(t, 5*time.Second)
		defer cancel()

		j := &journal{}
		tm := setup(t, j, newDef(j, "a", 1), newDef(j, "b", 2, irreversible()), newDef(j, "c", 3))

		_, err := tm.Down(ctx, "a")
		var nrErr migration.NotReversibleError
		h(assert.ErrorAs(t, err, &nrErr))
		assert.Equal(t, "b", nrErr.Name)
		// Nothing ran, not even c which is reversible.
		assert.Empty(t, j.get())
		assert.Equal(t, []string{"a", "b", "c"}, tm.records(t))
	})

	t.Run("err/action_failed", func(t *testing.T) {
		t.Parallel()
		ctx, cancel, h := newTestContext(t, 5*time.Second)
		defer cancel()

		j := &journal{}
		tm := setup(t, j, newDef(j, "a", 1), newDef(j, "b", 2, failing(migration.Down)), newDef(j, "c", 3))

		sum, err := tm.Down(ctx, "a")
		var aErr migration.ActionError
		h(assert.ErrorAs(t, err, &aErr))
		assert.Equal(t, "b", aErr.Name)
		assert.Equal(t, migration.Down, aErr.Direction)
		assert.Equal(t, []string{"c"}, sum.Migrations)
		assert.Equal(t, []string{"a", "b"}, tm.records(t))
	})
}

func TestMigratorPrune(t *testing.T) {
	t.Parallel()

	// setup returns a migrator with an orphaned record "gone", an applied
	// migration "b", and a pending migration "a" that is older than "b".
	setup := func(t *testing.T, j *journal, cfg migration.Config, opts ...migration.Option) *testMigrator {
		t.Helper()
		tm := newTestMigrator(t, cfg, []*migration.Definition{
			newDef(j, "a", 1), newDef(j, "b", 2), newDef(j, "c", 5),
		}, opts...)
		tm.seedRecord(t, "gone", 0)
		tm.seedRecord(t, "b", 2)
		return tm
	}

	t.Run("ok/empty_plan", func(t *testing.T) {
		t.Parallel()
		ctx, cancel, h := newTestContext(t, 5*time.Second)
		defer cancel()

		j := &journal{}
		tm := newTestMigrator(t, migration.DefaultConfig(), []*migration.Definition{newDef(j, "a", 1)})
		sum, err := tm.Prune(ctx)
		h(assert.NoError(t, err))
		assert.True(t, sum.Empty())
	})

	t.Run("err/confirmation_required", func(t *testing.T) {
		t.Parallel()
		ctx, cancel, h := newTestContext(t, 5*time.Second)
		defer cancel()

		j := &journal{}
		tm := setup(t, j, migration.DefaultConfig())

		_, err := tm.Prune(ctx)
		var crErr migration.ConfirmationRequiredError
		h(assert.ErrorAs(t, err, &crErr))
		assert.Equal(t, []string{"gone", "b"}, tm.records(t))
		assert.Empty(t, j.get())
	})

	t.Run("ok/autosync", func(t *testing.T) {
		t.Parallel()
		ctx, cancel, h := newTestContext(t, 5*time.Second)
		defer cancel()

		cfg := migration.DefaultConfig()
		cfg.Autosync = true
		j := &journal{}
		tm := setup(t, j, cfg)

		sum, err := tm.Prune(ctx)
		h(assert.NoError(t, err))
		assert.Equal(t, &migration.PruneSummary{
			Removed: []string{"gone"}, Adopted: []string{"a"},
		}, sum)
		assert.ElementsMatch(t, []string{"a", "b"}, tm.records(t))
		// Adopted migrations are not run.
		assert.Empty(t, j.get())

		views, err := tm.List(ctx)
		h(assert.NoError(t, err))
		statuses := map[string]migration.Status{}
		for _, v := range views {
			statuses[v.Name()] = v.Status
		}
		assert.Equal(t, map[string]migration.Status{
			"a": migration.StatusApplied, "b": migration.StatusApplied, "c": migration.StatusPending,
		}, statuses)
	})

	t.Run("ok/confirm_partial", func(t *testing.T) {
		t.Parallel()
		ctx, cancel, h := newTestContext(t, 5*time.Second)
		defer cancel()

		var questions []string
		confirm := migration.ConfirmFunc(func(_ context.Context, q string) (bool, error) {
			questions = append(questions, q)
			// Accept removals only.
			return len(questions) == 1, nil
		})
		j := &journal{}
		tm := setup(t, j, migration.DefaultConfig(), migration.WithConfirmer(confirm))

		sum, err := tm.Prune(ctx)
		h(assert.NoError(t, err))
		assert.Equal(t, &migration.PruneSummary{Removed: []string{"gone"}}, sum)
		assert.Equal(t, []string{
			"Remove the records of 1 migration(s) that no longer exist: gone?",
			"Mark 1 migration(s) older than the latest applied one as applied, without running them: a?",
		}, questions)
		assert.Equal(t, []string{"b"}, tm.records(t))
	})

	t.Run("err/confirm_failed", func(t *testing.T) {
		t.Parallel()
		ctx, cancel, h := newTestContext(t, 5*time.Second)
		defer cancel()

		confirm := migration.ConfirmFunc(func(context.Context, string) (bool, error) {
			return false, errors.New("stdin closed")
		})
		j := &journal{}
		tm := setup(t, j, migration.DefaultConfig(), migration.WithConfirmer(confirm))

		_, err := tm.Prune(ctx)
		h(assert.Error(t, err))
		assert.Equal(t, "failed getting confirmation: stdin closed", err.Error())
		assert.Equal(t, []string{"gone", "b"}, tm.records(t))
	})
}

func TestMigratorCreate(t *testing.T) {
	t.Parallel()

	ctx, cancel, h := newTestContext(t, 5*time.Second)
	defer cancel()

	j := &journal{}
	tm := newTestMigrator(t, migration.DefaultConfig(), []*migration.Definition{newDef(j, "a", -1)})

	def, err := tm.Create(ctx, "add_users")
	h(assert.NoError(t, err))
	assert.Equal(t, "add_users", def.Name)

	views, err := tm.List(ctx)
	h(assert.NoError(t, err))
	h(assert.Len(t, views, 2))
	assert.Equal(t, "add_users", views[1].Name())

	_, err = tm.Create(ctx, "a")
	var dnErr migration.DuplicateNameError
	assert.ErrorAs(t, err, &dnErr)

	_, err = tm.Create(ctx, "../escape")
	var iErr types.InvalidInputError
	assert.ErrorAs(t, err, &iErr)
}

func TestMigratorClose(t *testing.T) {
	t.Parallel()

	t.Run("ok/idempotent", func(t *testing.T) {
		t.Parallel()
		ctx, cancel, h := newTestContext(t, 5*time.Second)
		defer cancel()

		j := &journal{}
		tm := newTestMigrator(t, migration.DefaultConfig(), []*migration.Definition{newDef(j, "a", 1)})

		h(assert.NoError(t, tm.Close(ctx)))
		h(assert.NoError(t, tm.Close(ctx)))
		assert.Equal(t, migration.StateClosed, tm.State())

		_, err := tm.Up(ctx, "")
		assert.ErrorIs(t, err, migration.ErrClosed)
		_, err = tm.List(ctx)
		assert.ErrorIs(t, err, migration.ErrClosed)
		_, err = tm.Prune(ctx)
		assert.ErrorIs(t, err, migration.ErrClosed)
		_, err = tm.Create(ctx, "b")
		assert.ErrorIs(t, err, migration.ErrClosed)
	})

	t.Run("ok/waits_for_action", func(t *testing.T) {
		t.Parallel()
		ctx, cancel, h := newTestContext(t, 5*time.Second)
		defer cancel()

		var (
			j       = &journal{}
			started = make(chan struct{})
			release = make(chan struct{})
			tm      *testMigrator
			state   migration.State
			busyErr error
		)
		slow := withUp(func(ctx context.Context, _ types.Database) error {
			state = tm.State()
			_, busyErr = tm.List(ctx)
			close(started)
			<-release
			j.add("up:slow")
			return nil
		})
		tm = newTestMigrator(t, migration.DefaultConfig(), []*migration.Definition{
			newDef(j, "slow", 1, slow), newDef(j, "next", 2),
		})

		type result struct {
			sum *migration.Summary
			err error
		}
		runDone := make(chan result)
		go func() {
			sum, err := tm.Up(ctx, "")
			runDone <- result{sum, err}
		}()

		<-started
		closeDone := make(chan error)
		go func() { closeDone <- tm.Close(ctx) }()

		select {
		case <-closeDone:
			t.Fatal("Close returned while a migration was running")
		case <-time.After(50 * time.Millisecond):
		}
		close(release)

		h(assert.NoError(t, <-closeDone))
		res := <-runDone
		assert.ErrorIs(t, res.err, migration.ErrClosed)
		assert.Equal(t, []string{"slow"}, res.sum.Migrations)
		assert.Equal(t, []string{"up:slow"}, j.get())
		assert.Equal(t, []string{"slow"}, tm.records(t))
		assert.Equal(t, migration.StateRunning, state)
		assert.ErrorIs(t, busyErr, migration.ErrBusy)
	})

	t.Run("ok/cancel_between_items", func(t *testing.T) {
		t.Parallel()
		ctx, cancel, h := newTestContext(t, 5*time.Second)
		defer cancel()

		runCtx, cancelRun := context.WithCancel(ctx)
		j := &journal{}
		first := withUp(func(ctx context.Context, _ types.Database) error {
			cancelRun()
			// The action itself isn't interrupted.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			j.add("up:first")
			return nil
		})
		tm := newTestMigrator(t, migration.DefaultConfig(), []*migration.Definition{
			newDef(j, "first", 1, first), newDef(j, "second", 2),
		})

		sum, err := tm.Up(runCtx, "")
		h(assert.Error(t, err))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, []string{"first"}, sum.Migrations)
		assert.Equal(t, []string{"up:first"}, j.get())
		assert.Equal(t, []string{"first"}, tm.records(t))
		assert.Equal(t, migration.StateConnected, tm.State())
	})
}

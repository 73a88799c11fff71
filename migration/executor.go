package migration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.hackfix.me/docmig/db/types"
)

// Executor runs migration actions and records their outcome in a StateStore.
// Only one item is processed at a time, and an item that has started always
// runs to completion, even if its context is cancelled.
type Executor struct {
	db      types.Database
	store   StateStore
	timeNow func() time.Time
	logger  *slog.Logger

	// mx is held while an item runs.
	mx       sync.Mutex
	stopping atomic.Bool
}

// NewExecutor returns a new Executor. Actions receive d, and their outcome is
// recorded in store.
func NewExecutor(d types.Database, store StateStore, timeNow func() time.Time, logger *slog.Logger) *Executor {
	return &Executor{db: d, store: store, timeNow: timeNow, logger: logger}
}

// ApplyUp runs the Up action of def, and records def as applied if it
// succeeds. The state is not changed if the action fails.
func (e *Executor) ApplyUp(ctx context.Context, def *Definition) error {
	start := time.Now()
	if err := def.Up(ctx, e.db); err != nil {
		return ActionError{Name: def.Name, Direction: Up, Err: err}
	}

	rec := &Record{Name: def.Name, SequenceKey: def.SequenceKey, AppliedAt: e.now()}
	if err := e.store.Insert(ctx, rec); err != nil {
		return fmt.Errorf("failed recording migration '%s' as applied: %w", def.Name, err)
	}
	e.logger.Info("applied migration", "migration", def.Name, "took", time.Since(start).Round(time.Millisecond))

	return nil
}

// ApplyDown runs the Down action of def, and removes its record if it
// succeeds. The record is kept if the action fails.
func (e *Executor) ApplyDown(ctx context.Context, def *Definition) error {
	if !def.Reversible() {
		return NotReversibleError{Name: def.Name}
	}

	start := time.Now()
	if err := def.Down(ctx, e.db); err != nil {
		return ActionError{Name: def.Name, Direction: Down, Err: err}
	}

	if err := e.store.Delete(ctx, def.Name); err != nil {
		return fmt.Errorf("failed removing record of migration '%s': %w", def.Name, err)
	}
	e.logger.Info("rolled back migration", "migration", def.Name, "took", time.Since(start).Round(time.Millisecond))

	return nil
}

// RunSequence processes defs strictly in order, and stops at the first
// failure. It returns the names of the migrations that completed. ctx is only
// checked between items.
func (e *Executor) RunSequence(ctx context.Context, dir Direction, defs []*Definition) ([]string, error) {
	apply := e.ApplyUp
	if dir == Down {
		apply = e.ApplyDown
	}

	done := make([]string, 0, len(defs))
	for _, def := range defs {
		if err := ctx.Err(); err != nil {
			return done, fmt.Errorf("stopped before migration '%s': %w", def.Name, err)
		}
		err := e.guard(func() error {
			return apply(context.WithoutCancel(ctx), def)
		})
		if err != nil {
			return done, err
		}
		done = append(done, def.Name)
	}

	return done, nil
}

// Adopt records def as applied without running it.
func (e *Executor) Adopt(ctx context.Context, def *Definition) error {
	return e.guard(func() error {
		rec := &Record{Name: def.Name, SequenceKey: def.SequenceKey, AppliedAt: e.now()}
		if err := e.store.Insert(context.WithoutCancel(ctx), rec); err != nil {
			return fmt.Errorf("failed adopting migration '%s': %w", def.Name, err)
		}
		e.logger.Info("adopted migration", "migration", def.Name)
		return nil
	})
}

// Forget removes the record named name.
func (e *Executor) Forget(ctx context.Context, name string) error {
	return e.guard(func() error {
		if err := e.store.Delete(context.WithoutCancel(ctx), name); err != nil {
			return fmt.Errorf("failed removing record of migration '%s': %w", name, err)
		}
		e.logger.Info("removed orphaned record", "migration", name)
		return nil
	})
}

// Stop prevents further items from starting, waits for the item in progress
// to finish, and then calls release, if not nil, before any other item could
// start.
func (e *Executor) Stop(release func() error) error {
	e.stopping.Store(true)
	e.mx.Lock()
	defer e.mx.Unlock()
	if release == nil {
		return nil
	}
	return release()
}

func (e *Executor) guard(fn func() error) error {
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.stopping.Load() {
		return ErrClosed
	}
	return fn()
}

func (e *Executor) now() time.Time {
	return e.timeNow().Truncate(time.Millisecond).UTC()
}

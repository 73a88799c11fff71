package migration

import (
	"log/slog"
	"time"
)

// Option is a function that allows configuring a Migrator.
type Option func(*Migrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Migrator) {
		m.logger = logger.With("component", "migrator")
	}
}

// WithConfirmer sets the channel used by Prune to ask for confirmation when
// autosync is disabled.
func WithConfirmer(c Confirmer) Option {
	return func(m *Migrator) {
		m.confirmer = c
	}
}

// WithTimeNow sets the function used to get the current time.
func WithTimeNow(timeNow func() time.Time) Option {
	return func(m *Migrator) {
		m.timeNow = timeNow
	}
}

// WithStateStore sets the store of applied migration records, instead of the
// default collection of the migrated database.
func WithStateStore(store StateStore) Option {
	return func(m *Migrator) {
		m.store = store
	}
}

// Package migration discovers migration definitions, reconciles them with the
// records of applied migrations kept in the database, and applies or rolls
// back the difference in order.
package migration

import (
	"context"
	"time"

	"go.hackfix.me/docmig/db/types"
)

// Action is the forward or reverse body of a migration. It receives the
// database being migrated.
type Action func(ctx context.Context, d types.Database) error

// Definition is a single migration.
type Definition struct {
	Name string
	// SequenceKey orders definitions. It's the creation time of the
	// definition, with millisecond resolution.
	SequenceKey time.Time
	Up          Action
	// Down is nil if the migration can't be rolled back.
	Down Action
	// Source identifies where the definition was loaded from, e.g. a file
	// path.
	Source string
}

// Reversible returns true if the migration can be rolled back.
func (d *Definition) Reversible() bool {
	return d.Down != nil
}

// Record is the persisted evidence that a migration was applied.
type Record struct {
	Name        string    `json:"name" bson:"name"`
	SequenceKey time.Time `json:"sequenceKey" bson:"sequenceKey"`
	AppliedAt   time.Time `json:"appliedAt" bson:"appliedAt"`
}

// Status is the state of a migration as derived from the catalog and the
// applied records.
type Status string

// Valid migration statuses.
const (
	StatusPending  Status = "pending"
	StatusApplied  Status = "applied"
	StatusOrphaned Status = "orphaned"
)

// View pairs a definition with its record. Definition is nil for orphaned
// records, and Record is nil for pending definitions.
type View struct {
	Definition *Definition
	Record     *Record
	Status     Status
}

// Name returns the migration name.
func (v View) Name() string {
	if v.Definition != nil {
		return v.Definition.Name
	}
	return v.Record.Name
}

// SequenceKey returns the migration sequence key.
func (v View) SequenceKey() time.Time {
	if v.Definition != nil {
		return v.Definition.SequenceKey
	}
	return v.Record.SequenceKey
}

// Direction is the direction in which migrations are run.
type Direction string

// Valid directions.
const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Summary lists the migrations processed by a run, in the order they were
// processed.
type Summary struct {
	Direction  Direction
	Migrations []string
}

// PruneSummary lists the records removed and the definitions adopted by a
// prune.
type PruneSummary struct {
	Removed []string
	Adopted []string
}

// Empty returns true if the prune didn't change anything.
func (s *PruneSummary) Empty() bool {
	return len(s.Removed) == 0 && len(s.Adopted) == 0
}

// Confirmer asks the operator a yes/no question.
type Confirmer interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// ConfirmFunc adapts a function to the Confirmer interface.
type ConfirmFunc func(ctx context.Context, question string) (bool, error)

// Confirm implements Confirmer.
func (f ConfirmFunc) Confirm(ctx context.Context, question string) (bool, error) {
	return f(ctx, question)
}

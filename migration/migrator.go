package migration

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.hackfix.me/docmig/db/types"
)

// State is the lifecycle state of a Migrator.
type State int

// Migrator states. A Migrator starts CONNECTED, moves to one of RUNNING,
// LISTING or PRUNING for the duration of an operation and back, and ends
// CLOSED.
const (
	StateInit State = iota
	StateConnected
	StateRunning
	StateListing
	StatePruning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnected:
		return "CONNECTED"
	case StateRunning:
		return "RUNNING"
	case StateListing:
		return "LISTING"
	case StatePruning:
		return "PRUNING"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Migrator creates, lists, applies, rolls back and prunes migrations.
type Migrator struct {
	cfg       Config
	catalog   *Catalog
	store     StateStore
	exec      *Executor
	confirmer Confirmer
	timeNow   func() time.Time
	logger    *slog.Logger

	mx    sync.Mutex
	state State
}

// New returns a Migrator for database d, with definitions provided by source.
// Unless another StateStore is given with WithStateStore, records are kept in
// the collection named by cfg.CollectionName, and the Migrator owns d: it is
// closed by Close.
func New(cfg Config, d types.Database, source DefinitionSource, opts ...Option) (*Migrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Migrator{
		cfg:     cfg,
		timeNow: time.Now,
		logger:  slog.New(slog.DiscardHandler),
		state:   StateInit,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.store == nil {
		store, err := NewCollectionStore(d, cfg.CollectionName)
		if err != nil {
			return nil, err
		}
		m.store = store
	}
	m.catalog = NewCatalog(source, m.timeNow)
	m.exec = NewExecutor(d, m.store, m.timeNow, m.logger)
	m.state = StateConnected

	return m, nil
}

// State returns the current state.
func (m *Migrator) State() State {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.state
}

// Config returns the configuration the Migrator was created with.
func (m *Migrator) Config() Config {
	return m.cfg
}

// Create creates a new migration definition.
func (m *Migrator) Create(ctx context.Context, name string) (*Definition, error) {
	if m.State() == StateClosed {
		return nil, ErrClosed
	}
	def, err := m.catalog.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	m.logger.Info("created migration", "migration", def.Name, "source", def.Source)

	return def, nil
}

// RunOption changes the behavior of Run.
type RunOption func(*runOptions)

type runOptions struct {
	inclusive bool
}

// Inclusive makes Down also roll back the target migration.
func Inclusive() RunOption {
	return func(o *runOptions) {
		o.inclusive = true
	}
}

// Run applies (Up) or rolls back (Down) migrations. With Up, target is
// optional; all pending migrations up to and including it are applied. With
// Down, target is required; all applied migrations newer than it are rolled
// back, most recent first, and so is target if the Inclusive option is given.
//
// A NoWorkError is returned if there is nothing to do. Processing stops at the
// first failure; the returned Summary lists the migrations processed until
// then.
func (m *Migrator) Run(ctx context.Context, dir Direction, target string, opts ...RunOption) (*Summary, error) {
	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	if err := m.begin(StateRunning); err != nil {
		return nil, err
	}
	defer m.end()

	summary := &Summary{Direction: dir}
	r, err := m.reconcile(ctx)
	if err != nil {
		return summary, err
	}

	var plan []*Definition
	switch dir {
	case Up:
		plan, err = PlanUp(r, target)
	case Down:
		if target == "" {
			return summary, types.InvalidInputError{Msg: "a target migration is required to migrate down"}
		}
		if plan, err = PlanDown(r, target, o.inclusive); err == nil {
			err = checkReversible(plan)
		}
	default:
		return summary, types.InvalidInputError{Msg: fmt.Sprintf("invalid direction '%s'", dir)}
	}
	if err != nil {
		return summary, err
	}

	m.logger.Debug("running migrations", "direction", dir, "count", len(plan))
	summary.Migrations, err = m.exec.RunSequence(ctx, dir, plan)

	return summary, err
}

// Up applies pending migrations up to and including target, or all of them if
// target is empty.
func (m *Migrator) Up(ctx context.Context, target string) (*Summary, error) {
	return m.Run(ctx, Up, target)
}

// Down rolls back applied migrations newer than target.
func (m *Migrator) Down(ctx context.Context, target string, opts ...RunOption) (*Summary, error) {
	return m.Run(ctx, Down, target, opts...)
}

// List returns the status of every known migration, ordered by sequence key.
func (m *Migrator) List(ctx context.Context) ([]View, error) {
	if err := m.begin(StateListing); err != nil {
		return nil, err
	}
	defer m.end()

	r, err := m.reconcile(ctx)
	if err != nil {
		return nil, err
	}

	return r.Views(), nil
}

// Prune removes records of migrations that no longer have a definition, and
// marks pending migrations that are older than the most recently applied one
// as applied, without running them. Unless autosync is enabled, each of the
// two changes must be confirmed through the Confirmer; a declined change is
// skipped.
func (m *Migrator) Prune(ctx context.Context) (*PruneSummary, error) {
	if err := m.begin(StatePruning); err != nil {
		return nil, err
	}
	defer m.end()

	summary := &PruneSummary{}
	r, err := m.reconcile(ctx)
	if err != nil {
		return summary, err
	}

	plan := PlanPrune(r)
	if plan.Empty() {
		m.logger.Debug("nothing to prune")
		return summary, nil
	}

	remove, adopt := len(plan.Remove) > 0, len(plan.Adopt) > 0
	if !m.cfg.Autosync {
		if m.confirmer == nil {
			return summary, ConfirmationRequiredError{}
		}
		if remove {
			q := fmt.Sprintf("Remove the records of %d migration(s) that no longer exist: %s?",
				len(plan.Remove), strings.Join(recNames(plan.Remove), ", "))
			if remove, err = m.confirmer.Confirm(ctx, q); err != nil {
				return summary, fmt.Errorf("failed getting confirmation: %w", err)
			}
		}
		if adopt {
			q := fmt.Sprintf("Mark %d migration(s) older than the latest applied one as applied, "+
				"without running them: %s?", len(plan.Adopt), strings.Join(defNames(plan.Adopt), ", "))
			if adopt, err = m.confirmer.Confirm(ctx, q); err != nil {
				return summary, fmt.Errorf("failed getting confirmation: %w", err)
			}
		}
	}

	if remove {
		for _, rec := range plan.Remove {
			if err = m.exec.Forget(ctx, rec.Name); err != nil {
				return summary, err
			}
			summary.Removed = append(summary.Removed, rec.Name)
		}
	}
	if adopt {
		for _, def := range plan.Adopt {
			if err = m.exec.Adopt(ctx, def); err != nil {
				return summary, err
			}
			summary.Adopted = append(summary.Adopted, def.Name)
		}
	}

	return summary, nil
}

// Close waits for the migration in progress, if any, to finish, and closes the
// state store. Operations started after Close fail with ErrClosed. It is safe
// to call multiple times, also concurrently with other operations.
func (m *Migrator) Close(ctx context.Context) error {
	m.mx.Lock()
	m.state = StateClosed
	m.mx.Unlock()

	return m.exec.Stop(func() error {
		return m.store.Close(ctx)
	})
}

func (m *Migrator) begin(s State) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	switch m.state {
	case StateClosed:
		return ErrClosed
	case StateConnected:
		m.state = s
		return nil
	default:
		return ErrBusy
	}
}

func (m *Migrator) end() {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.state != StateClosed {
		m.state = StateConnected
	}
}

func (m *Migrator) reconcile(ctx context.Context) (*Reconciliation, error) {
	defs, err := m.catalog.List(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := m.store.Records(ctx)
	if err != nil {
		return nil, err
	}
	return Diff(defs, recs), nil
}

func checkReversible(plan []*Definition) error {
	for _, def := range plan {
		if !def.Reversible() {
			return NotReversibleError{Name: def.Name}
		}
	}
	return nil
}

func defNames(defs []*Definition) []string {
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.Name)
	}
	return names
}

func recNames(recs []*Record) []string {
	names := make([]string, 0, len(recs))
	for _, rec := range recs {
		names = append(names, rec.Name)
	}
	return names
}

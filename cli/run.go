package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	actx "go.hackfix.me/docmig/app/context"
	aerrors "go.hackfix.me/docmig/app/errors"
	"go.hackfix.me/docmig/migration"
)

// The Up command applies pending migrations.
type Up struct {
	Name string `arg:"" optional:"" help:"The last migration to apply. All pending migrations are applied if omitted."`
}

// Run the up command.
func (c *Up) Run(appCtx *actx.Context, opts *Options) error {
	return opts.withMigrator(appCtx, func(m *migration.Migrator) error {
		summary, err := m.Up(appCtx.Ctx, c.Name)
		return reportRun(appCtx.Stdout, summary, err)
	})
}

// The Down command rolls back applied migrations.
type Down struct {
	Name      string `arg:"" help:"The migration to roll back to."`
	Inclusive bool   `help:"Also roll back the named migration."`
}

// Run the down command.
func (c *Down) Run(appCtx *actx.Context, opts *Options) error {
	var runOpts []migration.RunOption
	if c.Inclusive {
		runOpts = append(runOpts, migration.Inclusive())
	}

	return opts.withMigrator(appCtx, func(m *migration.Migrator) error {
		summary, err := m.Down(appCtx.Ctx, c.Name, runOpts...)
		return reportRun(appCtx.Stdout, summary, err)
	})
}

// reportRun prints the migrations processed by a run, and adds context to its
// error.
func reportRun(w io.Writer, summary *migration.Summary, err error) error {
	if summary != nil {
		dir := strings.ToUpper(string(summary.Direction))
		for _, name := range summary.Migrations {
			if _, werr := fmt.Fprintf(w, "%s: %s\n", dir, name); werr != nil {
				return werr //nolint:wrapcheck // This is fine.
			}
		}
	}
	if err == nil || migration.IsNoWork(err) {
		return err
	}

	var (
		actionErr migration.ActionError
		notRevErr migration.NotReversibleError
	)
	switch {
	case errors.As(err, &actionErr):
		hint := "fix the migration and run it again"
		if actionErr.Direction == migration.Up {
			hint = "the migration may have been partially applied; " + hint
		}
		return aerrors.With(aerrors.NewRuntimeError("migration failed", err, hint),
			"migration", actionErr.Name, "direction", string(actionErr.Direction))
	case errors.As(err, &notRevErr):
		return aerrors.With(aerrors.NewRuntimeError("migration can't be rolled back", err,
			"add a down action to the migration"), "migration", notRevErr.Name)
	}

	return err
}

package cli

import (
	"errors"
	"fmt"

	actx "go.hackfix.me/docmig/app/context"
	aerrors "go.hackfix.me/docmig/app/errors"
	"go.hackfix.me/docmig/migration"
)

// The Prune command removes the records of migrations whose files were
// deleted, and marks pending migrations older than the most recently applied
// one as applied, without running them.
type Prune struct{}

// Run the prune command.
func (c *Prune) Run(appCtx *actx.Context, opts *Options) error {
	return opts.withMigrator(appCtx, func(m *migration.Migrator) error {
		summary, err := m.Prune(appCtx.Ctx)
		if summary != nil {
			for _, name := range summary.Removed {
				if _, werr := fmt.Fprintf(appCtx.Stdout, "REMOVED: %s\n", name); werr != nil {
					return werr //nolint:wrapcheck // This is fine.
				}
			}
			for _, name := range summary.Adopted {
				if _, werr := fmt.Fprintf(appCtx.Stdout, "ADOPTED: %s\n", name); werr != nil {
					return werr //nolint:wrapcheck // This is fine.
				}
			}
			if err == nil && summary.Empty() {
				appCtx.Logger.Info("nothing to prune")
			}
		}

		var confirmErr migration.ConfirmationRequiredError
		if errors.As(err, &confirmErr) {
			return aerrors.NewRuntimeError("failed pruning migrations", err,
				"use --autosync to prune without confirmation")
		}

		return err //nolint:wrapcheck // Already descriptive.
	})
}

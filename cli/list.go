package cli

import (
	"fmt"

	actx "go.hackfix.me/docmig/app/context"
	"go.hackfix.me/docmig/migration"
)

// The List command lists all migrations and their current state.
type List struct{}

// Run the list command.
func (c *List) Run(appCtx *actx.Context, opts *Options) error {
	return opts.withMigrator(appCtx, func(m *migration.Migrator) error {
		views, err := m.List(appCtx.Ctx)
		if err != nil {
			return err //nolint:wrapcheck // Already descriptive.
		}
		if len(views) == 0 {
			appCtx.Logger.Info("no migrations found", "dir", m.Config().MigrationsPath)
			return nil
		}

		if err = renderViews(appCtx.Stdout, views, appCtx.TimeNow()); err != nil {
			return fmt.Errorf("failed rendering table: %w", err)
		}

		return nil
	})
}

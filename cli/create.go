package cli

import (
	"fmt"

	actx "go.hackfix.me/docmig/app/context"
	"go.hackfix.me/docmig/migration"
)

// The Create command creates a new migration file.
type Create struct {
	Name string `arg:"" help:"The unique name of the migration."`
}

// Run the create command.
func (c *Create) Run(appCtx *actx.Context, opts *Options) error {
	return opts.withMigrator(appCtx, func(m *migration.Migrator) error {
		def, err := m.Create(appCtx.Ctx, c.Name)
		if err != nil {
			return err //nolint:wrapcheck // Already descriptive.
		}
		_, err = fmt.Fprintf(appCtx.Stdout, "Created migration %s in %s.\n", def.Name, def.Source)

		return err //nolint:wrapcheck // This is fine.
	})
}

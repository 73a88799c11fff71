package cli

import (
	"context"
	"errors"
	"path/filepath"

	actx "go.hackfix.me/docmig/app/context"
	aerrors "go.hackfix.me/docmig/app/errors"
	"go.hackfix.me/docmig/db"
	"go.hackfix.me/docmig/migration"
	"go.hackfix.me/docmig/script"
)

// Options are the settings shared by all commands. Values not given on the
// command line are taken from the environment, the configuration file and
// the defaults, in that order.
type Options struct {
	DB            string `kong:"short='d',name='db',aliases='dbConnectionUri',help='The URI of the database connection, e.g. mongodb://localhost/app or sqlite://app.db.'"`
	Collection    string `kong:"help='The collection where applied migrations are recorded (default: ${defaultCollection}).'"`
	MigrationsDir string `kong:"name='migrations-dir',aliases='md',help='The path to the migration files (default: ${defaultMigrationsDir}).'"`
	TemplateFile  string `kong:"short='t',name='template-file',help='The template file to use when creating a migration.'"`
	ChangeDir     string `kong:"short='c',name='change-dir',help='Resolve relative paths from this directory.'"`
	Autosync      bool   `kong:"negatable,help='Apply prune changes without asking for confirmation.'"`
	Style         string `kong:"help='The kind of migration files to create: ${styles} (default: ${defaultStyle}).'"`
	// Style shortcuts kept for compatibility with existing scripts.
	ES6        bool `kong:"name='es6',hidden,help='Same as --style=json.'"`
	TypeScript bool `kong:"name='typescript',hidden,help='Same as --style=go.'"`
}

// Config returns the migrator configuration.
func (o *Options) Config() migration.Config {
	cfg := migration.DefaultConfig()
	if o.MigrationsDir != "" {
		cfg.MigrationsPath = o.MigrationsDir
	}
	if o.Collection != "" {
		cfg.CollectionName = o.Collection
	}
	if o.Style != "" {
		cfg.Style = migration.Style(o.Style)
	}
	cfg.TemplatePath = o.TemplateFile
	cfg.Autosync = o.Autosync

	return cfg
}

// path resolves a relative path from the --change-dir directory.
func (o *Options) path(p string) string {
	if p == "" || o.ChangeDir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(o.ChangeDir, p)
}

// withMigrator connects to the database, runs fn with a Migrator, and closes
// it. If the application context is cancelled while fn runs, the Migrator is
// closed as soon as the migration in progress finishes.
func (o *Options) withMigrator(appCtx *actx.Context, fn func(*migration.Migrator) error) error {
	m, err := o.migrator(appCtx)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-appCtx.Ctx.Done():
			appCtx.Logger.Warn("interrupted, waiting for the current migration to finish")
			if cerr := m.Close(context.WithoutCancel(appCtx.Ctx)); cerr != nil {
				appCtx.Logger.Error("failed closing migrator", "error", cerr)
			}
		case <-done:
		}
	}()

	err = fn(m)
	close(done)
	if cerr := m.Close(context.WithoutCancel(appCtx.Ctx)); cerr != nil {
		err = errors.Join(err, aerrors.NewRuntimeError("failed closing database connection", cerr, ""))
	}

	return err
}

func (o *Options) migrator(appCtx *actx.Context) (*migration.Migrator, error) {
	if o.DB == "" {
		return nil, aerrors.NewWith("no database URI provided",
			"hint", "use --db/-d, the dbConnectionUri configuration option or the MIGRATE_dbConnectionUri environment variable")
	}

	cfg := o.Config()
	if err := cfg.Validate(); err != nil {
		return nil, err //nolint:wrapcheck // Already descriptive.
	}

	source, err := script.NewDirSource(appCtx.FS, cfg.MigrationsPath, cfg.Style, cfg.TemplatePath)
	if err != nil {
		return nil, err //nolint:wrapcheck // Already descriptive.
	}

	d, err := appCtx.OpenDB(appCtx.Ctx, o.DB)
	if err != nil {
		return nil, aerrors.NewWithCause("failed connecting to database", err, "uri", db.Redact(o.DB))
	}
	appCtx.Logger.Debug("connected to database", "uri", db.Redact(o.DB))

	opts := []migration.Option{
		migration.WithLogger(appCtx.Logger),
		migration.WithTimeNow(appCtx.TimeNow),
	}
	if appCtx.Interactive {
		opts = append(opts, migration.WithConfirmer(NewPrompter(appCtx.Stdin, appCtx.Stderr)))
	}

	m, err := migration.New(cfg, d, source, opts...)
	if err != nil {
		_ = d.Close(appCtx.Ctx)
		return nil, err //nolint:wrapcheck // Already descriptive.
	}

	return m, nil
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/mandelsoft/vfs/pkg/memoryfs"

	"go.hackfix.me/docmig/app/config"
	actx "go.hackfix.me/docmig/app/context"
	"go.hackfix.me/docmig/cli"
	"go.hackfix.me/docmig/db"
	"go.hackfix.me/docmig/migration"
)

// App is the application.
type App struct {
	name string
	ctx  *actx.Context
	cli  *cli.CLI
	// the logging level is set via the CLI, if the app was initialized with the
	// WithLogger option.
	logLevel *slog.LevelVar
}

// New initializes a new application.
func New(name string, opts ...Option) (*App, error) {
	version, err := actx.GetVersion()
	if err != nil {
		return nil, err
	}

	defaultCtx := &actx.Context{
		Ctx:     context.Background(),
		FS:      memoryfs.New(),
		Logger:  slog.Default(),
		TimeNow: time.Now,
		OpenDB:  db.Open,
		Version: version,
	}
	app := &App{name: name, ctx: defaultCtx}

	for _, opt := range opts {
		opt(app)
	}

	ver := fmt.Sprintf("%s %s", app.name, app.ctx.Version.String())
	app.cli, err = cli.New(ver)
	if err != nil {
		return nil, err
	}

	return app, nil
}

// Run initializes the application environment and starts execution of the
// application.
func (app *App) Run(args []string) error {
	if err := app.cli.Parse(args); err != nil {
		return err
	}

	if app.logLevel != nil {
		app.logLevel.Set(app.cli.Log.Level)
		slog.SetLogLoggerLevel(app.cli.Log.Level)
	}

	cfg, err := app.loadConfig()
	if err != nil {
		return err
	}
	app.cli.ApplyConfig(cfg)

	err = app.cli.Execute(app.ctx)
	if migration.IsNoWork(err) {
		app.ctx.Logger.Warn(err.Error())
		return nil
	}

	return err
}

// loadConfig reads the configuration file, if any, and applies the
// environment on top of it. The .env file in the working directory provides
// defaults for the environment.
func (app *App) loadConfig() (*config.Config, error) {
	dir := app.cli.ChangeDir
	if dir == "" {
		dir = "."
	}

	name, explicit := app.cli.ConfigPath()
	path, err := config.Find(app.ctx.FS, dir, name)
	if err != nil {
		return nil, err //nolint:wrapcheck // Already descriptive.
	}
	if path == "" && explicit {
		return nil, fmt.Errorf("configuration file '%s' not found", name)
	}

	cfg := config.NewConfig(app.ctx.FS, path)
	if path != "" {
		if err = cfg.Load(); err != nil {
			return nil, err //nolint:wrapcheck // Already descriptive.
		}
		app.ctx.Logger.Debug("loaded configuration", "path", path)
	}

	dotEnv, err := config.LoadDotEnv(app.ctx.FS, dir)
	if err != nil {
		return nil, err //nolint:wrapcheck // Already descriptive.
	}
	if len(dotEnv) > 0 {
		app.ctx.Logger.Debug("loaded environment file", "path", filepath.Join(dir, config.DotEnvName))
	}

	// Variables in the .env file don't override the process environment.
	overlaid, err := config.Overlay(*cfg, config.WithDefaults(app.ctx.Env, dotEnv))
	if err != nil {
		return nil, err //nolint:wrapcheck // Already descriptive.
	}
	overlaid.SetDefaults()

	return &overlaid, nil
}

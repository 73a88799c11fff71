package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/alecthomas/kong"

	"go.hackfix.me/docmig/app/config"
	actx "go.hackfix.me/docmig/app/context"
	"go.hackfix.me/docmig/migration"
)

// CLI is the command line interface of docmig.
type CLI struct {
	Create Create `kong:"cmd,help='Create a new migration file.'"`
	Up     Up     `kong:"cmd,help='Apply pending migrations in chronological order, up to and including the named one.'"`
	Down   Down   `kong:"cmd,help='Roll back applied migrations newer than the named one.'"`
	List   List   `kong:"cmd,help='List all migrations and their current state.'"`
	Prune  Prune  `kong:"cmd,help='Remove records of deleted migrations, and mark old pending migrations as applied.'"`

	Options `embed:""`

	Log struct {
		Level slog.Level `enum:"DEBUG,INFO,WARN,ERROR" default:"INFO" help:"Set the app logging level."`
	} `embed:"" prefix:"log-"`
	// NOTE: I'm deliberately not using kong.ConfigFlag or its support for reading
	// values from configuration files, since I want to manage configuration
	// independently from the CLI.
	ConfigFile string           `kong:"name='config',default='${configFile}',help='Path to the JSON configuration file. The .json extension can be omitted.'"`
	Version    kong.VersionFlag `kong:"help='Output version and exit.'"`

	kong *kong.Kong
	kctx *kong.Context
}

// New initializes the command-line interface.
func New(version string) (*CLI, error) {
	styles := make([]string, 0, len(migration.Styles()))
	for _, s := range migration.Styles() {
		styles = append(styles, string(s))
	}

	c := &CLI{}
	kparser, err := kong.New(c,
		kong.Name("docmig"),
		kong.Description("Apply and track document database migrations."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			Summary:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"configFile":           config.DefaultName,
			"defaultCollection":    migration.DefaultCollectionName,
			"defaultMigrationsDir": migration.DefaultMigrationsPath,
			"defaultStyle":         string(migration.DefaultStyle),
			"styles":               strings.Join(styles, ", "),
			"version":              version,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed creating the Kong parser: %w", err)
	}

	c.kong = kparser

	return c, nil
}

// Execute starts the command execution. Parse must be called before this method.
func (c *CLI) Execute(appCtx *actx.Context) error {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	c.kong.Stdout = appCtx.Stdout
	c.kong.Stderr = appCtx.Stderr

	//nolint:wrapcheck // This is fine.
	return c.kctx.Run(appCtx, &c.Options)
}

// Parse the given command line arguments. This method must be called before
// Execute.
func (c *CLI) Parse(args []string) error {
	kctx, err := c.kong.Parse(args)
	if err != nil {
		return fmt.Errorf("failed parsing CLI arguments: %w", err)
	}
	c.kctx = kctx

	return nil
}

// Command returns the full path of the executed command.
func (c *CLI) Command() string {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	cmdPath := []string{}
	for _, p := range c.kctx.Path {
		if p.Command != nil {
			cmdPath = append(cmdPath, p.Command.Name)
		}
	}

	return strings.Join(cmdPath, " ")
}

// ConfigPath returns the configuration file name given on the command line,
// and whether it was changed from the default.
func (c *CLI) ConfigPath() (path string, explicit bool) {
	return c.ConfigFile, c.ConfigFile != config.DefaultName
}

// ApplyConfig applies configuration values to the CLI, but only if they weren't
// already set on the command line. Relative paths are resolved from the --change-dir directory.
func (c *CLI) ApplyConfig(cfg *config.Config) {
	o := &c.Options
	if o.DB == "" && cfg.DB.Valid {
		o.DB = cfg.DB.V
	}
	if o.Collection == "" && cfg.Collection.Valid {
		o.Collection = cfg.Collection.V
	}
	if o.MigrationsDir == "" && cfg.MigrationsDir.Valid {
		o.MigrationsDir = cfg.MigrationsDir.V
	}
	if o.TemplateFile == "" && cfg.TemplateFile.Valid {
		o.TemplateFile = cfg.TemplateFile.V
	}
	if !c.flagSet("autosync") && cfg.Autosync.Valid {
		o.Autosync = cfg.Autosync.V
	}
	switch {
	case o.Style != "":
	case o.TypeScript:
		o.Style = string(migration.StyleGo)
	case o.ES6:
		o.Style = string(migration.StyleJSON)
	case cfg.Style.Valid:
		o.Style = string(cfg.Style.V)
	}

	o.MigrationsDir = o.path(o.MigrationsDir)
	o.TemplateFile = o.path(o.TemplateFile)
}

// flagSet returns true if the named flag was given on the command line.
func (c *CLI) flagSet(name string) bool {
	if c.kctx == nil {
		return false
	}
	for _, p := range c.kctx.Path {
		if p.Flag != nil && p.Flag.Name == name {
			return true
		}
	}

	return false
}

package config

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/adrg/xdg"
	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/docmig/migration"
)

const (
	// DefaultName is the name of the configuration file looked up when none
	// is given. The .json extension is optional.
	DefaultName = "migrate"
	// EnvPrefix is the prefix of environment variables that override
	// configuration file values.
	EnvPrefix = "MIGRATE_"
	// xdgDir is the directory under the XDG configuration directories where
	// the configuration file is looked up.
	xdgDir = "docmig"
)

// Config represents the application configuration, backed by a filesystem for
// persistence.
type Config struct {
	// DB is the URI of the database connection.
	DB sql.Null[string]
	// Collection is the name of the collection where migration records are
	// stored.
	Collection sql.Null[string]
	// MigrationsDir is the path to the directory of migration files.
	MigrationsDir sql.Null[string]
	// TemplateFile is the path to the template used to create new migration
	// files.
	TemplateFile sql.Null[string]
	// Autosync applies prune changes without asking for confirmation.
	Autosync sql.Null[bool]
	// Style is the kind of migration files created.
	Style sql.Null[migration.Style]

	fs   vfs.FileSystem
	path string
}

// NewConfig creates a new Config instance with the specified filesystem
// and configuration file path.
func NewConfig(fs vfs.FileSystem, path string) *Config {
	return &Config{fs: fs, path: path}
}

// Load reads and parses the configuration file from the filesystem.
// If the file doesn't exist, it initializes with an empty configuration.
func (c *Config) Load() error {
	configJSON, err := vfs.ReadFile(c.fs, c.path)
	if err != nil && !vfs.IsErrNotExist(err) {
		return fmt.Errorf("failed reading configuration file: %w", err)
	}

	// Ensure that unmarshalling JSON doesn't fail if the file doesn't exist or is empty.
	if len(bytes.TrimSpace(configJSON)) == 0 {
		configJSON = []byte("{}")
	}

	if err = json.Unmarshal(configJSON, c); err != nil {
		return fmt.Errorf("failed parsing configuration file '%s': %w", c.path, err)
	}

	return nil
}

// Path returns the filesystem path where the configuration is stored.
func (c *Config) Path() string {
	return c.path
}

// Save writes the current configuration to the filesystem as JSON.
func (c *Config) Save() error {
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed creating configuration directory: %w", err)
	}
	configJSON, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed serializing configuration data: %w", err)
	}
	if err = vfs.WriteFile(c.fs, c.path, configJSON, 0o644); err != nil {
		return fmt.Errorf("failed writing configuration file: %w", err)
	}

	return nil
}

// cfgWrapper is the on-disk format. Besides the canonical keys, it accepts
// the short and dashed option names of the command line.
type cfgWrapper struct {
	DB            string `json:"dbConnectionUri,omitempty"`
	DBShort       string `json:"d,omitempty"`
	Collection    string `json:"collection,omitempty"`
	MigrationsDir string `json:"migrationsDir,omitempty"`
	MDShort       string `json:"md,omitempty"`
	MDDashed      string `json:"migrations-dir,omitempty"`
	TemplateFile  string `json:"templateFile,omitempty"`
	TShort        string `json:"t,omitempty"`
	TDashed       string `json:"template-file,omitempty"`
	Autosync      *bool  `json:"autosync,omitempty"`
	Style         string `json:"style,omitempty"`
	ES6           bool   `json:"es6,omitempty"`
	TypeScript    bool   `json:"typescript,omitempty"`
}

// MarshalJSON implements custom JSON marshaling to convert sql.Null values
// to their underlying types, omitting invalid/null fields from the output.
func (c Config) MarshalJSON() ([]byte, error) {
	w := cfgWrapper{}

	if c.DB.Valid {
		w.DB = c.DB.V
	}
	if c.Collection.Valid {
		w.Collection = c.Collection.V
	}
	if c.MigrationsDir.Valid {
		w.MigrationsDir = c.MigrationsDir.V
	}
	if c.TemplateFile.Valid {
		w.TemplateFile = c.TemplateFile.V
	}
	if c.Autosync.Valid {
		w.Autosync = &c.Autosync.V
	}
	if c.Style.Valid {
		w.Style = string(c.Style.V)
	}

	//nolint:wrapcheck // This is fine.
	return json.Marshal(w)
}

// UnmarshalJSON implements custom JSON unmarshaling to convert plain values
// into sql.Null types.
func (c *Config) UnmarshalJSON(data []byte) error {
	var w cfgWrapper
	if err := json.Unmarshal(data, &w); err != nil {
		//nolint:wrapcheck // This is fine.
		return err
	}

	setString(&c.DB, w.DB, w.DBShort)
	setString(&c.Collection, w.Collection)
	setString(&c.MigrationsDir, w.MigrationsDir, w.MDShort, w.MDDashed)
	setString(&c.TemplateFile, w.TemplateFile, w.TShort, w.TDashed)
	if w.Autosync != nil {
		c.Autosync = sql.Null[bool]{V: *w.Autosync, Valid: true}
	}
	switch {
	case w.Style != "":
		style, err := parseStyle(w.Style)
		if err != nil {
			return err
		}
		c.Style = sql.Null[migration.Style]{V: style, Valid: true}
	case w.TypeScript:
		c.Style = sql.Null[migration.Style]{V: migration.StyleGo, Valid: true}
	case w.ES6:
		c.Style = sql.Null[migration.Style]{V: migration.StyleJSON, Valid: true}
	}

	return nil
}

// SetDefaults sets default configuration values if they weren't set already.
func (c *Config) SetDefaults() {
	def := migration.DefaultConfig()
	if !c.Collection.Valid {
		c.Collection = sql.Null[string]{V: def.CollectionName, Valid: true}
	}
	if !c.MigrationsDir.Valid {
		c.MigrationsDir = sql.Null[string]{V: def.MigrationsPath, Valid: true}
	}
	if !c.Autosync.Valid {
		c.Autosync = sql.Null[bool]{V: def.Autosync, Valid: true}
	}
	if !c.Style.Valid {
		c.Style = sql.Null[migration.Style]{V: def.Style, Valid: true}
	}
}

// EnvGetter reads environment variables.
type EnvGetter interface {
	Get(string) string
}

// envOptions maps configuration options to the names they're known by in the
// environment, after the MIGRATE_ prefix. Each name is also accepted in upper
// snake case, e.g. MIGRATE_DB_CONNECTION_URI.
var envOptions = map[string][]string{
	"db":            {"dbConnectionUri", "d"},
	"collection":    {"collection"},
	"migrationsDir": {"migrationsDir", "migrations-dir", "md"},
	"templateFile":  {"templateFile", "template-file", "t"},
	"autosync":      {"autosync"},
	"style":         {"style"},
	"typescript":    {"typescript"},
	"es6":           {"es6"},
}

// Overlay returns a copy of base with the values set in the MIGRATE_*
// environment variables applied on top.
func Overlay(base Config, env EnvGetter) (Config, error) {
	out := base
	if env == nil {
		return out, nil
	}

	lookup := func(option string) (string, string, bool) {
		for _, name := range envOptions[option] {
			for _, key := range []string{EnvPrefix + name, EnvPrefix + upperSnake(name)} {
				if val := env.Get(key); val != "" {
					return key, val, true
				}
			}
		}
		return "", "", false
	}

	if _, val, ok := lookup("db"); ok {
		out.DB = sql.Null[string]{V: val, Valid: true}
	}
	if _, val, ok := lookup("collection"); ok {
		out.Collection = sql.Null[string]{V: val, Valid: true}
	}
	if _, val, ok := lookup("migrationsDir"); ok {
		out.MigrationsDir = sql.Null[string]{V: val, Valid: true}
	}
	if _, val, ok := lookup("templateFile"); ok {
		out.TemplateFile = sql.Null[string]{V: val, Valid: true}
	}
	if key, val, ok := lookup("autosync"); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return base, fmt.Errorf("invalid boolean value '%s' of %s", val, key)
		}
		out.Autosync = sql.Null[bool]{V: b, Valid: true}
	}
	if key, val, ok := lookup("style"); ok {
		style, err := parseStyle(val)
		if err != nil {
			return base, fmt.Errorf("invalid value of %s: %w", key, err)
		}
		out.Style = sql.Null[migration.Style]{V: style, Valid: true}
	} else {
		// The es6 and typescript switches select a style, unless one is
		// given explicitly.
		for _, sw := range []struct {
			option string
			style  migration.Style
		}{{"typescript", migration.StyleGo}, {"es6", migration.StyleJSON}} {
			key, val, ok := lookup(sw.option)
			if !ok {
				continue
			}
			on, err := strconv.ParseBool(val)
			if err != nil {
				return base, fmt.Errorf("invalid boolean value '%s' of %s", val, key)
			}
			if on {
				out.Style = sql.Null[migration.Style]{V: sw.style, Valid: true}
				break
			}
		}
	}

	return out, nil
}

// Find returns the path of the configuration file name. The .json extension
// can be omitted. Relative names are resolved against dir first, and then
// against the XDG configuration directories. An empty path is returned if the
// file doesn't exist.
func Find(fs vfs.FileSystem, dir, name string) (string, error) {
	if filepath.Ext(name) == "" {
		name += ".json"
	}

	candidates := []string{name}
	if !filepath.IsAbs(name) {
		candidates = []string{filepath.Join(dir, name)}
		for _, xdgDirPath := range append([]string{xdg.ConfigHome}, xdg.ConfigDirs...) {
			candidates = append(candidates, filepath.Join(xdgDirPath, xdgDir, name))
		}
	}

	for _, path := range candidates {
		fi, err := fs.Stat(path)
		if err == nil && !fi.IsDir() {
			return path, nil
		}
		if err != nil && !vfs.IsErrNotExist(err) {
			return "", fmt.Errorf("failed checking configuration file '%s': %w", path, err)
		}
	}

	return "", nil
}

func setString(dst *sql.Null[string], vals ...string) {
	for _, v := range vals {
		if v != "" {
			*dst = sql.Null[string]{V: v, Valid: true}
			return
		}
	}
}

func parseStyle(s string) (migration.Style, error) {
	style := migration.Style(strings.ToLower(s))
	for _, st := range migration.Styles() {
		if style == st {
			return style, nil
		}
	}
	return "", fmt.Errorf("unsupported migration style '%s'", s)
}

// upperSnake converts camelCase and dashed names to UPPER_SNAKE_CASE.
func upperSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == '-':
			b.WriteByte('_')
		case unicode.IsUpper(r) && i > 0:
			b.WriteByte('_')
			b.WriteRune(r)
		default:
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

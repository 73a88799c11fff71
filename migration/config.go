package migration

import (
	"fmt"
	"slices"

	"go.hackfix.me/docmig/db/types"
)

// Style selects the kind of definition file created by Create.
type Style string

// Supported definition styles.
const (
	// StyleYAML definitions list declarative operations in YAML.
	StyleYAML Style = "yaml"
	// StyleJSON definitions list the same operations in JSON.
	StyleJSON Style = "json"
	// StyleGo definitions are Go source files with Up and Down functions.
	StyleGo Style = "go"
)

// Styles returns all supported styles.
func Styles() []Style {
	return []Style{StyleYAML, StyleJSON, StyleGo}
}

// Defaults used by DefaultConfig.
const (
	DefaultCollectionName = "migrations"
	DefaultMigrationsPath = "migrations"
	DefaultStyle          = StyleYAML
)

// Config is the configuration of a Migrator.
type Config struct {
	// MigrationsPath is the directory containing the definition files.
	MigrationsPath string
	// TemplatePath is an optional file that replaces the built-in template
	// used by Create.
	TemplatePath string
	// CollectionName is the collection holding the applied migration records.
	CollectionName string
	// Autosync allows Prune to change state without asking for confirmation.
	Autosync bool
	// Style selects the kind of file created by Create.
	Style Style
}

// DefaultConfig returns the configuration with all defaults applied.
func DefaultConfig() Config {
	return Config{
		MigrationsPath: DefaultMigrationsPath,
		CollectionName: DefaultCollectionName,
		Style:          DefaultStyle,
	}
}

// Validate returns an error if the configuration can't be used.
func (c Config) Validate() error {
	if c.MigrationsPath == "" {
		return types.InvalidInputError{Msg: "migrations path must not be empty"}
	}
	if err := types.ValidateCollectionName(c.CollectionName); err != nil {
		return err
	}
	if !slices.Contains(Styles(), c.Style) {
		return types.InvalidInputError{
			Msg: fmt.Sprintf("invalid style '%s'; valid styles: %v", c.Style, Styles()),
		}
	}
	return nil
}

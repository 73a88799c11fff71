package script

import (
	"bytes"
	"embed"
	"fmt"
	"text/template"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/docmig/migration"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Extensions maps each migration style to the extension of the files created
// for it.
var Extensions = map[migration.Style]string{
	migration.StyleYAML: ".yaml",
	migration.StyleJSON: ".json",
	migration.StyleGo:   ".go",
}

// TemplateData is the data new migration files are rendered with.
type TemplateData struct {
	Name string
	// SequenceKey is the creation time in Unix milliseconds.
	SequenceKey int64
}

// Scaffolder renders new migration files of a single style, either from the
// built-in template or from a custom template file.
type Scaffolder struct {
	style migration.Style
	ext   string
	tmpl  *template.Template
}

var _ migration.Scaffolder = (*Scaffolder)(nil)

// NewScaffolder returns a Scaffolder for style. If templatePath isn't empty,
// the template is read from it on fs instead of using the built-in one.
func NewScaffolder(fs vfs.FileSystem, style migration.Style, templatePath string) (*Scaffolder, error) {
	ext, ok := Extensions[style]
	if !ok {
		return nil, fmt.Errorf("unsupported migration style '%s'", style)
	}

	var (
		name = "migration" + ext + ".tmpl"
		data []byte
		err  error
	)
	if templatePath != "" {
		name = templatePath
		data, err = vfs.ReadFile(fs, templatePath)
	} else {
		data, err = templatesFS.ReadFile("templates/" + name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed reading template '%s': %w", name, err)
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed parsing template '%s': %w", name, err)
	}

	return &Scaffolder{style: style, ext: ext, tmpl: tmpl}, nil
}

// Scaffold implements migration.Scaffolder.
func (s *Scaffolder) Scaffold(name string, key time.Time) ([]byte, string, error) {
	var buf bytes.Buffer
	err := s.tmpl.Execute(&buf, TemplateData{Name: name, SequenceKey: key.UnixMilli()})
	if err != nil {
		return nil, "", fmt.Errorf("failed rendering template: %w", err)
	}
	return buf.Bytes(), s.ext, nil
}

// Loaders returns the loaders of every supported file extension.
func Loaders() map[string]migration.Loader {
	return map[string]migration.Loader{
		".yaml": LoadYAML,
		".yml":  LoadYAML,
		".json": LoadJSON,
		".go":   LoadGo,
	}
}

// NewDirSource returns a migration.DirSource reading migrations from dir on
// fs, and creating new ones in the given style.
func NewDirSource(fs vfs.FileSystem, dir string, style migration.Style, templatePath string) (*migration.DirSource, error) {
	scaffolder, err := NewScaffolder(fs, style, templatePath)
	if err != nil {
		return nil, err
	}
	return migration.NewDirSource(fs, dir, scaffolder, Loaders()), nil
}

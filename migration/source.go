package migration

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/docmig/db/types"
)

// DefinitionSource provides migration definitions to a Catalog.
type DefinitionSource interface {
	// Definitions returns all definitions currently available, in any order.
	Definitions(ctx context.Context) ([]*Definition, error)
	// Create persists a new definition and returns it.
	Create(ctx context.Context, name string, key time.Time) (*Definition, error)
}

// Loader turns the contents of a definition file into its actions. down is
// nil if the definition isn't reversible.
type Loader func(name string, data []byte) (up, down Action, err error)

// Scaffolder renders the contents of a new definition file.
type Scaffolder interface {
	// Scaffold returns the file contents and the file extension, including
	// the leading dot.
	Scaffold(name string, key time.Time) (data []byte, ext string, err error)
}

// filenameRx matches definition file names: {unix millis}_{name}.{ext}
var filenameRx = regexp.MustCompile(`^(\d+)_(.+)\.([A-Za-z0-9]+)$`)

// DirSource loads definitions from files in a directory. Only files whose name
// matches {unix millis}_{name}.{ext} and whose extension has a registered
// Loader are considered; everything else is ignored.
type DirSource struct {
	fs         vfs.FileSystem
	dir        string
	scaffolder Scaffolder
	loaders    map[string]Loader
}

var _ DefinitionSource = (*DirSource)(nil)

// NewDirSource returns a new DirSource reading from dir on fs. loaders maps
// file extensions, including the leading dot, to their Loader.
func NewDirSource(fs vfs.FileSystem, dir string, scaffolder Scaffolder, loaders map[string]Loader) *DirSource {
	return &DirSource{fs: fs, dir: dir, scaffolder: scaffolder, loaders: loaders}
}

// Dir returns the directory definitions are read from.
func (s *DirSource) Dir() string {
	return s.dir
}

// Definitions reads and loads all definition files. A missing directory
// yields no definitions.
func (s *DirSource) Definitions(ctx context.Context) ([]*Definition, error) {
	entries, err := vfs.ReadDir(s.fs, s.dir)
	if err != nil {
		if vfs.IsErrNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed reading migrations directory '%s': %w", s.dir, err)
	}

	defs := make([]*Definition, 0, len(entries))
	for _, entry := range entries {
		if err = ctx.Err(); err != nil {
			return nil, err //nolint:wrapcheck // The context error is enough.
		}
		if entry.IsDir() {
			continue
		}
		name, key, ext, ok := parseFilename(entry.Name())
		if !ok {
			continue
		}
		load, ok := s.loaders[ext]
		if !ok {
			continue
		}
		def, err := s.load(filepath.Join(s.dir, entry.Name()), name, key, load)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	return defs, nil
}

// Create writes a new definition file with the contents returned by the
// Scaffolder.
func (s *DirSource) Create(_ context.Context, name string, key time.Time) (*Definition, error) {
	if s.scaffolder == nil {
		return nil, fmt.Errorf("no scaffolder configured for migrations directory '%s'", s.dir)
	}
	data, ext, err := s.scaffolder.Scaffold(name, key)
	if err != nil {
		return nil, fmt.Errorf("failed rendering migration '%s': %w", name, err)
	}
	load, ok := s.loaders[ext]
	if !ok {
		return nil, fmt.Errorf("no loader registered for extension '%s'", ext)
	}

	if err = s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed creating migrations directory '%s': %w", s.dir, err)
	}

	path := filepath.Join(s.dir, fmt.Sprintf("%d_%s%s", key.UnixMilli(), name, ext))
	if _, err = s.fs.Stat(path); err == nil {
		return nil, IntegrityError{Msg: fmt.Sprintf("file '%s' already exists", path)}
	} else if !vfs.IsErrNotExist(err) {
		return nil, fmt.Errorf("failed checking file '%s': %w", path, err)
	}

	if err = vfs.WriteFile(s.fs, path, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed writing migration file '%s': %w", path, err)
	}

	return s.load(path, name, key.Truncate(time.Millisecond).UTC(), load)
}

func (s *DirSource) load(path, name string, key time.Time, load Loader) (*Definition, error) {
	data, err := vfs.ReadFile(s.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed reading migration file '%s': %w", path, err)
	}
	up, down, err := load(name, data)
	if err != nil {
		return nil, fmt.Errorf("failed loading migration file '%s': %w", path, err)
	}
	if up == nil {
		return nil, fmt.Errorf("migration file '%s' doesn't define an up action", path)
	}

	return &Definition{Name: name, SequenceKey: key, Up: up, Down: down, Source: path}, nil
}

// parseFilename extracts the definition name, sequence key and extension
// (with the leading dot) from a definition file name.
func parseFilename(filename string) (name string, key time.Time, ext string, ok bool) {
	m := filenameRx.FindStringSubmatch(filename)
	if m == nil {
		return "", time.Time{}, "", false
	}
	millis, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return "", time.Time{}, "", false
	}
	return m[2], time.UnixMilli(millis).UTC(), "." + m[3], true
}

// MemorySource keeps definitions in memory. It is safe for concurrent use.
type MemorySource struct {
	mx   sync.Mutex
	defs []*Definition
}

var _ DefinitionSource = (*MemorySource)(nil)

// NewMemorySource returns a source serving defs.
func NewMemorySource(defs ...*Definition) *MemorySource {
	return &MemorySource{defs: defs}
}

// Add adds definitions to the source.
func (s *MemorySource) Add(defs ...*Definition) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.defs = append(s.defs, defs...)
}

// Remove removes the definition with the given name.
func (s *MemorySource) Remove(name string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.defs = slices.DeleteFunc(s.defs, func(d *Definition) bool { return d.Name == name })
}

// Definitions returns a copy of the current definitions.
func (s *MemorySource) Definitions(_ context.Context) ([]*Definition, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return slices.Clone(s.defs), nil
}

// Create adds a definition whose actions do nothing.
func (s *MemorySource) Create(_ context.Context, name string, key time.Time) (*Definition, error) {
	noop := func(context.Context, types.Database) error { return nil }
	def := &Definition{
		Name: name, SequenceKey: key.Truncate(time.Millisecond).UTC(),
		Up: noop, Down: noop, Source: "memory",
	}
	s.Add(def)
	return def, nil
}

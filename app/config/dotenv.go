package config

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/mandelsoft/vfs/pkg/vfs"
)

// DotEnvName is the name of the file with environment variable defaults,
// looked up in the working directory.
const DotEnvName = ".env"

// LoadDotEnv reads the variables of the .env file in dir. A missing file
// results in no variables.
func LoadDotEnv(fs vfs.FileSystem, dir string) (map[string]string, error) {
	path := filepath.Join(dir, DotEnvName)
	data, err := vfs.ReadFile(fs, path)
	if err != nil {
		if vfs.IsErrNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed reading '%s': %w", path, err)
	}

	vars, err := godotenv.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed parsing '%s': %w", path, err)
	}

	return vars, nil
}

// layeredEnv reads variables from env, falling back to defaults for those
// that are unset or empty.
type layeredEnv struct {
	env      EnvGetter
	defaults map[string]string
}

// WithDefaults returns an EnvGetter where variables set in env take precedence
// over the ones in defaults.
func WithDefaults(env EnvGetter, defaults map[string]string) EnvGetter {
	if len(defaults) == 0 {
		return env
	}
	return layeredEnv{env: env, defaults: defaults}
}

func (e layeredEnv) Get(key string) string {
	if e.env != nil {
		if val := e.env.Get(key); val != "" {
			return val
		}
	}
	return e.defaults[key]
}

package context

import "os"

// Environment reads process environment variables. Configuration overrides
// are looked up through it using the MIGRATE_ prefix.
type Environment interface {
	Get(string) string
}

// OSEnv is the Environment of the running process.
type OSEnv struct{}

var _ Environment = OSEnv{}

// Get returns the value of the environment variable key, or an empty string
// if it's unset.
func (OSEnv) Get(key string) string {
	return os.Getenv(key)
}

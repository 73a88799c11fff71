package context

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/docmig/db/types"
)

// Context contains common objects used by the application. It is passed around
// the application to avoid direct dependencies on external systems, and make
// testing easier.
type Context struct {
	Ctx     context.Context  // global context
	FS      vfs.FileSystem   // filesystem
	Env     Environment      // process environment
	Logger  *slog.Logger     // global logger
	TimeNow func() time.Time // current time source
	// OpenDB connects to the database at the given URI.
	OpenDB func(ctx context.Context, uri string) (types.Database, error)

	// Standard streams
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Interactive is true if answers to questions can be read from Stdin.
	Interactive bool

	// Metadata
	Version *VersionInfo
}

// Package db opens document databases by connection URI.
package db

import (
	"context"
	"net/url"
	"strings"

	"go.hackfix.me/docmig/db/memory"
	"go.hackfix.me/docmig/db/mongo"
	"go.hackfix.me/docmig/db/postgres"
	"go.hackfix.me/docmig/db/sqlite"
	"go.hackfix.me/docmig/db/types"
)

// Open connects to the database at uri. The backend is chosen by the URI
// scheme:
//
//   - memory://                   in-process database, lost on exit
//   - sqlite://<path>, file:<path> SQLite database file
//   - mongodb://, mongodb+srv://  MongoDB deployment; the path names the database
//   - postgres://, postgresql://  PostgreSQL database
func Open(ctx context.Context, uri string) (types.Database, error) {
	if strings.HasPrefix(uri, "file:") {
		return database(sqlite.Open(ctx, uri))
	}

	scheme, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return nil, types.InvalidInputError{Msg: "database URI must include a scheme, e.g. sqlite://migrations.db"}
	}

	switch strings.ToLower(scheme) {
	case "memory":
		return memory.New(), nil
	case "sqlite", "sqlite3":
		if rest == "" {
			return nil, types.InvalidInputError{Msg: "SQLite URI must include a path"}
		}
		return database(sqlite.Open(ctx, rest))
	case "mongodb", "mongodb+srv":
		return database(mongo.Open(ctx, uri))
	case "postgres", "postgresql":
		return database(postgres.Open(ctx, uri))
	default:
		return nil, types.UnsupportedError{Scheme: scheme}
	}
}

// database avoids returning a nil pointer wrapped in a non-nil interface.
func database[T types.Database](d T, err error) (types.Database, error) {
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Redact returns uri with any password replaced, for use in log messages.
func Redact(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.User == nil {
		return uri
	}
	return u.Redacted()
}

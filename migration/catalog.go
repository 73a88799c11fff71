package migration

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"time"

	"go.hackfix.me/docmig/db/types"
)

var nameRx = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]{0,199}$`)

// Catalog is the ordered set of migration definitions available from a
// DefinitionSource. It holds no state of its own: every call re-reads the
// source.
type Catalog struct {
	source  DefinitionSource
	timeNow func() time.Time
}

// NewCatalog returns a new Catalog over source. timeNow provides the sequence
// key of created definitions.
func NewCatalog(source DefinitionSource, timeNow func() time.Time) *Catalog {
	return &Catalog{source: source, timeNow: timeNow}
}

// List returns all definitions sorted by ascending sequence key. Two
// definitions sharing a name or a sequence key make the catalog invalid.
func (c *Catalog) List(ctx context.Context) ([]*Definition, error) {
	defs, err := c.source.Definitions(ctx)
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(defs, func(a, b *Definition) int {
		return a.SequenceKey.Compare(b.SequenceKey)
	})

	names := make(map[string]*Definition, len(defs))
	for i, def := range defs {
		if prev, ok := names[def.Name]; ok {
			return nil, IntegrityError{Msg: fmt.Sprintf(
				"migration name '%s' is used by both %s and %s", def.Name, prev.Source, def.Source)}
		}
		names[def.Name] = def
		if i > 0 && defs[i-1].SequenceKey.Equal(def.SequenceKey) {
			return nil, IntegrityError{Msg: fmt.Sprintf(
				"migrations '%s' and '%s' have the same sequence key %d",
				defs[i-1].Name, def.Name, def.SequenceKey.UnixMilli())}
		}
	}

	return defs, nil
}

// Create allocates a new definition named name with the current time as its
// sequence key, and persists it through the source.
func (c *Catalog) Create(ctx context.Context, name string) (*Definition, error) {
	if !nameRx.MatchString(name) {
		return nil, types.InvalidInputError{Msg: fmt.Sprintf(
			"invalid migration name '%s': it must start with a letter, digit or underscore, "+
				"and contain only letters, digits, '_', '.' and '-'", name)}
	}

	defs, err := c.List(ctx)
	if err != nil {
		return nil, err
	}

	key := c.timeNow().Truncate(time.Millisecond).UTC()
	for _, def := range defs {
		if def.Name == name {
			return nil, DuplicateNameError{Name: name}
		}
		if def.SequenceKey.Equal(key) {
			return nil, IntegrityError{Msg: fmt.Sprintf(
				"sequence key %d is already used by migration '%s'", key.UnixMilli(), def.Name)}
		}
	}

	return c.source.Create(ctx, name, key)
}

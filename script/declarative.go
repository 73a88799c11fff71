package script

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/itchyny/gojq"
	"gopkg.in/yaml.v3"

	"go.hackfix.me/docmig/db/types"
	"go.hackfix.me/docmig/migration"
)

// File is a declarative migration: lists of operations run in order. A
// missing Down list makes the migration irreversible; an empty one makes it
// reversible without doing anything.
type File struct {
	Up   []Op `yaml:"up" json:"up"`
	Down []Op `yaml:"down" json:"down"`
}

// Op is a single declarative operation. Exactly one of its fields must be set.
type Op struct {
	Insert      *InsertOp      `yaml:"insert,omitempty" json:"insert,omitempty"`
	Update      *UpdateOp      `yaml:"update,omitempty" json:"update,omitempty"`
	Delete      *DeleteOp      `yaml:"delete,omitempty" json:"delete,omitempty"`
	Transform   *TransformOp   `yaml:"transform,omitempty" json:"transform,omitempty"`
	CreateIndex *CreateIndexOp `yaml:"createIndex,omitempty" json:"createIndex,omitempty"`
	Drop        *DropOp        `yaml:"drop,omitempty" json:"drop,omitempty"`
}

// InsertOp inserts documents into a collection.
type InsertOp struct {
	Collection string           `yaml:"collection" json:"collection"`
	Documents  []map[string]any `yaml:"documents" json:"documents"`
}

// UpdateOp sets and removes fields of the documents matching Filter.
type UpdateOp struct {
	Collection string         `yaml:"collection" json:"collection"`
	Filter     map[string]any `yaml:"filter" json:"filter"`
	Set        map[string]any `yaml:"set" json:"set"`
	Unset      []string       `yaml:"unset" json:"unset"`
}

// DeleteOp removes the documents matching Filter.
type DeleteOp struct {
	Collection string         `yaml:"collection" json:"collection"`
	Filter     map[string]any `yaml:"filter" json:"filter"`
}

// TransformOp replaces every document matching Filter with the output of the
// JQ program, which must produce a single object. The document identifier is
// always kept.
type TransformOp struct {
	Collection string         `yaml:"collection" json:"collection"`
	Filter     map[string]any `yaml:"filter" json:"filter"`
	JQ         string         `yaml:"jq" json:"jq"`
}

// CreateIndexOp creates an index on a top-level field.
type CreateIndexOp struct {
	Collection string `yaml:"collection" json:"collection"`
	Field      string `yaml:"field" json:"field"`
	Unique     bool   `yaml:"unique" json:"unique"`
}

// DropOp removes a collection.
type DropOp struct {
	Collection string `yaml:"collection" json:"collection"`
}

// LoadYAML is the migration.Loader of YAML migration files.
func LoadYAML(name string, data []byte) (up, down migration.Action, err error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f File
	if err = dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("invalid YAML: %w", err)
	}

	return f.Actions(name)
}

// LoadJSON is the migration.Loader of JSON migration files.
func LoadJSON(name string, data []byte) (up, down migration.Action, err error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	var f File
	if err = dec.Decode(&f); err != nil {
		return nil, nil, fmt.Errorf("invalid JSON: %w", err)
	}
	f.normalize()

	return f.Actions(name)
}

// Actions validates the operations of f and returns the actions running them.
func (f *File) Actions(name string) (up, down migration.Action, err error) {
	if f.Up == nil {
		return nil, nil, fmt.Errorf("migration '%s' has no 'up' operations", name)
	}
	if up, err = compile(f.Up); err != nil {
		return nil, nil, fmt.Errorf("invalid 'up' operation: %w", err)
	}
	if f.Down != nil {
		if down, err = compile(f.Down); err != nil {
			return nil, nil, fmt.Errorf("invalid 'down' operation: %w", err)
		}
	}

	return up, down, nil
}

func (f *File) normalize() {
	for _, ops := range [][]Op{f.Up, f.Down} {
		for _, op := range ops {
			switch {
			case op.Insert != nil:
				for _, doc := range op.Insert.Documents {
					normalize(doc)
				}
			case op.Update != nil:
				normalize(op.Update.Filter)
				normalize(op.Update.Set)
			case op.Delete != nil:
				normalize(op.Delete.Filter)
			case op.Transform != nil:
				normalize(op.Transform.Filter)
			}
		}
	}
}

type step func(ctx context.Context, d types.Database) error

func compile(ops []Op) (migration.Action, error) {
	steps := make([]step, 0, len(ops))
	for i, op := range ops {
		s, err := op.compile()
		if err != nil {
			return nil, fmt.Errorf("#%d: %w", i+1, err)
		}
		steps = append(steps, s)
	}

	return func(ctx context.Context, d types.Database) error {
		for i, s := range steps {
			if err := s(ctx, d); err != nil {
				return fmt.Errorf("operation #%d failed: %w", i+1, err)
			}
		}
		return nil
	}, nil
}

func (op Op) compile() (step, error) {
	var (
		kinds []string
		s     step
		err   error
	)
	if op.Insert != nil {
		kinds = append(kinds, "insert")
		s, err = op.Insert.compile()
	}
	if op.Update != nil {
		kinds = append(kinds, "update")
		s, err = op.Update.compile()
	}
	if op.Delete != nil {
		kinds = append(kinds, "delete")
		s, err = op.Delete.compile()
	}
	if op.Transform != nil {
		kinds = append(kinds, "transform")
		s, err = op.Transform.compile()
	}
	if op.CreateIndex != nil {
		kinds = append(kinds, "createIndex")
		s, err = op.CreateIndex.compile()
	}
	if op.Drop != nil {
		kinds = append(kinds, "drop")
		s, err = op.Drop.compile()
	}

	switch len(kinds) {
	case 0:
		return nil, errors.New("empty operation")
	case 1:
		if err != nil {
			return nil, fmt.Errorf("%s: %w", kinds[0], err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("operation must have a single type, got %s", strings.Join(kinds, ", "))
	}
}

func (op *InsertOp) compile() (step, error) {
	if err := types.ValidateCollectionName(op.Collection); err != nil {
		return nil, err
	}
	if len(op.Documents) == 0 {
		return nil, errors.New("no documents to insert")
	}

	return func(ctx context.Context, d types.Database) error {
		coll := d.Collection(op.Collection)
		for _, doc := range op.Documents {
			if err := coll.InsertOne(ctx, doc); err != nil {
				return err //nolint:wrapcheck // Already descriptive.
			}
		}
		return nil
	}, nil
}

func (op *UpdateOp) compile() (step, error) {
	if err := validateFilter(op.Collection, op.Filter); err != nil {
		return nil, err
	}
	upd := types.Update{Set: op.Set, Unset: op.Unset}
	if upd.IsEmpty() {
		return nil, errors.New("nothing to set or unset")
	}

	return func(ctx context.Context, d types.Database) error {
		_, err := d.Collection(op.Collection).Update(ctx, op.Filter, upd)
		return err //nolint:wrapcheck // Already descriptive.
	}, nil
}

func (op *DeleteOp) compile() (step, error) {
	if err := validateFilter(op.Collection, op.Filter); err != nil {
		return nil, err
	}

	return func(ctx context.Context, d types.Database) error {
		_, err := d.Collection(op.Collection).Delete(ctx, op.Filter)
		return err //nolint:wrapcheck // Already descriptive.
	}, nil
}

func (op *TransformOp) compile() (step, error) {
	if err := validateFilter(op.Collection, op.Filter); err != nil {
		return nil, err
	}
	if op.JQ == "" {
		return nil, errors.New("'jq' is required")
	}

	// Compile at load time so that syntax errors are found before any
	// migration runs.
	query, err := gojq.Parse(op.JQ)
	if err != nil {
		return nil, fmt.Errorf("invalid jq program %q: %w", op.JQ, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed compiling jq program %q: %w", op.JQ, err)
	}

	return func(ctx context.Context, d types.Database) error {
		coll := d.Collection(op.Collection)
		var docs []types.Document
		if err := coll.Find(ctx, op.Filter, &docs); err != nil {
			return err //nolint:wrapcheck // Already descriptive.
		}
		for _, doc := range docs {
			id := doc[types.IDField]
			out, err := transform(ctx, code, doc)
			if err != nil {
				return fmt.Errorf("document '%v': %w", id, err)
			}
			out[types.IDField] = id
			if _, err = coll.Replace(ctx, types.Filter{types.IDField: id}, out); err != nil {
				return err //nolint:wrapcheck // Already descriptive.
			}
		}
		return nil
	}, nil
}

func transform(ctx context.Context, code *gojq.Code, doc types.Document) (map[string]any, error) {
	input, err := plain(doc)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	iter := code.RunWithContext(ctx, input)
	for n := 0; ; n++ {
		v, ok := iter.Next()
		if !ok {
			if n == 0 {
				return nil, errors.New("jq program produced no output")
			}
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, fmt.Errorf("jq program failed: %w", err)
		}
		if n > 0 {
			return nil, errors.New("jq program produced more than one output")
		}
		m, isMap := v.(map[string]any)
		if !isMap {
			return nil, fmt.Errorf("jq program must produce an object, got %T", v)
		}
		out = m
	}

	return out, nil
}

func (op *CreateIndexOp) compile() (step, error) {
	if err := types.ValidateCollectionName(op.Collection); err != nil {
		return nil, err
	}
	if err := types.ValidateFieldName(op.Field); err != nil {
		return nil, err
	}

	return func(ctx context.Context, d types.Database) error {
		return d.Collection(op.Collection).EnsureIndex(ctx, op.Field, op.Unique) //nolint:wrapcheck // Already descriptive.
	}, nil
}

func (op *DropOp) compile() (step, error) {
	if err := types.ValidateCollectionName(op.Collection); err != nil {
		return nil, err
	}

	return func(ctx context.Context, d types.Database) error {
		return d.Collection(op.Collection).Drop(ctx) //nolint:wrapcheck // Already descriptive.
	}, nil
}

func validateFilter(collection string, filter map[string]any) error {
	if err := types.ValidateCollectionName(collection); err != nil {
		return err
	}
	for field := range filter {
		if err := types.ValidateFieldName(field); err != nil {
			return err
		}
	}
	return nil
}

package script

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"strconv"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"go.hackfix.me/docmig/db/types"
	"go.hackfix.me/docmig/migration"
)

// goPackage is the package name Go migration scripts must declare.
const goPackage = "migration"

// allowedImports are the packages Go migration scripts may import.
var allowedImports = map[string]bool{
	"bytes":         true,
	"context":       true,
	"encoding/json": true,
	"errors":        true,
	"fmt":           true,
	"maps":          true,
	"math":          true,
	"regexp":        true,
	"slices":        true,
	"sort":          true,
	"strconv":       true,
	"strings":       true,
	"time":          true,
	"unicode":       true,
	"unicode/utf8":  true,
	typesPath:       true,
}

type actionFunc = func(context.Context, types.Database) error

// LoadGo is the migration.Loader of Go migration files. The source must
// declare package migration and a function
//
//	func Up(ctx context.Context, d types.Database) error
//
// and optionally a Down function with the same signature.
func LoadGo(name string, data []byte) (up, down migration.Action, err error) {
	src := string(data)
	if err = validateGo(name, src); err != nil {
		return nil, nil, err
	}

	i := interp.New(interp.Options{})
	if err = i.Use(stdlib.Symbols); err != nil {
		return nil, nil, fmt.Errorf("failed loading stdlib symbols: %w", err)
	}
	if err = i.Use(Symbols); err != nil {
		return nil, nil, fmt.Errorf("failed loading database symbols: %w", err)
	}
	if _, err = i.Eval(src); err != nil {
		return nil, nil, fmt.Errorf("failed evaluating Go source: %w", err)
	}

	upFn, ok, err := lookupAction(i, "Up")
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("migration '%s' doesn't declare an Up function", name)
	}
	up = upFn

	downFn, ok, err := lookupAction(i, "Down")
	if err != nil {
		return nil, nil, err
	}
	if ok {
		down = downFn
	}

	return up, down, nil
}

// validateGo checks the package name and imports of src.
func validateGo(name, src string) error {
	f, err := parser.ParseFile(token.NewFileSet(), name+".go", src, parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("syntax error: %w", err)
	}
	if f.Name.Name != goPackage {
		return fmt.Errorf("migration '%s' must declare package %s, got %s", name, goPackage, f.Name.Name)
	}
	for _, imp := range f.Imports {
		pkg, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			return fmt.Errorf("invalid import %s: %w", imp.Path.Value, err)
		}
		if !allowedImports[pkg] {
			return fmt.Errorf("import %q is not allowed in migrations", pkg)
		}
	}
	return nil
}

func lookupAction(i *interp.Interpreter, fn string) (migration.Action, bool, error) {
	v, err := i.Eval(goPackage + "." + fn)
	if err != nil {
		// Undefined.
		return nil, false, nil //nolint:nilerr // A missing function isn't an error here.
	}
	action, ok := v.Interface().(actionFunc)
	if !ok {
		return nil, false, fmt.Errorf(
			"%s has type %s, expected func(context.Context, types.Database) error", fn, v.Type())
	}
	return action, true, nil
}

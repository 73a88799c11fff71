package script

import (
	"go/constant"
	"go/token"
	"reflect"

	"go.hackfix.me/docmig/db/types"
)

// typesPath is the import path Go migration scripts use to reach the database
// types.
const typesPath = "go.hackfix.me/docmig/db/types"

// Symbols are the symbols exported to the interpreter of Go migration scripts,
// in the format expected by interp.Interpreter.Use.
var Symbols = map[string]map[string]reflect.Value{
	typesPath + "/types": {
		// constants
		"IDField": reflect.ValueOf(constant.MakeFromLiteral(`"_id"`, token.STRING, 0)),

		// functions
		"IsDuplicate":            reflect.ValueOf(types.IsDuplicate),
		"ValidateCollectionName": reflect.ValueOf(types.ValidateCollectionName),
		"ValidateFieldName":      reflect.ValueOf(types.ValidateFieldName),

		// types
		"Collection":        reflect.ValueOf((*types.Collection)(nil)),
		"Database":          reflect.ValueOf((*types.Database)(nil)),
		"Document":          reflect.ValueOf((*types.Document)(nil)),
		"DuplicateError":    reflect.ValueOf((*types.DuplicateError)(nil)),
		"Filter":            reflect.ValueOf((*types.Filter)(nil)),
		"IntegrityError":    reflect.ValueOf((*types.IntegrityError)(nil)),
		"InvalidInputError": reflect.ValueOf((*types.InvalidInputError)(nil)),
		"NoResultError":     reflect.ValueOf((*types.NoResultError)(nil)),
		"Update":            reflect.ValueOf((*types.Update)(nil)),
	},
}

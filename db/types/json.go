package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/nrednav/cuid2"
)

// The helpers below give backends that store documents as JSON (the memory,
// SQLite and PostgreSQL backends) identical comparison and decoding rules.

// ToDocument converts a value that serializes to a JSON object into a new
// Document. The result never shares memory with v.
func ToDocument(v any) (Document, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, InvalidInputError{Msg: fmt.Sprintf("failed serializing document: %s", err)}
	}
	return ParseDocument(b)
}

// ParseDocument parses JSON data into a Document. Numbers are kept as
// json.Number to avoid losing integer precision.
func ParseDocument(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, InvalidInputError{Msg: fmt.Sprintf("document must be a JSON object: %s", err)}
	}
	if doc == nil {
		return nil, InvalidInputError{Msg: "document must be a JSON object, got null"}
	}
	return doc, nil
}

// EnsureID sets a generated identifier on doc if it doesn't have one, and
// returns the identifier in string form.
func EnsureID(doc Document) string {
	id, ok := doc[IDField]
	if !ok || id == nil {
		id = cuid2.Generate()
		doc[IDField] = id
	}
	return fmt.Sprint(id)
}

// Matches returns true if every field in filter has a value equal to the
// document's value for that field. A missing field equals null.
func Matches(doc Document, filter Filter) (bool, error) {
	for _, field := range filter.Fields() {
		eq, err := JSONEqual(doc[field], filter[field])
		if err != nil {
			return false, err
		}
		if !eq {
			return false, nil
		}
	}
	return true, nil
}

// JSONEqual compares two values by their JSON encoding.
func JSONEqual(a, b any) (bool, error) {
	ab, err := json.Marshal(a)
	if err != nil {
		return false, fmt.Errorf("failed serializing value: %w", err)
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false, fmt.Errorf("failed serializing value: %w", err)
	}
	return bytes.Equal(ab, bb), nil
}

// ApplyUpdate returns a copy of doc with upd applied to it. The document
// identifier can't be modified.
func ApplyUpdate(doc Document, upd Update) (Document, error) {
	set := Document{}
	if len(upd.Set) > 0 {
		var err error
		if set, err = ToDocument(upd.Set); err != nil {
			return nil, err
		}
	}
	if _, ok := set[IDField]; ok {
		return nil, InvalidInputError{Msg: fmt.Sprintf("field '%s' can't be updated", IDField)}
	}

	out := maps.Clone(doc)
	maps.Copy(out, set)
	for _, field := range upd.Unset {
		if field == IDField {
			return nil, InvalidInputError{Msg: fmt.Sprintf("field '%s' can't be removed", IDField)}
		}
		delete(out, field)
	}

	return out, nil
}

// Decode decodes docs into out, which must be a pointer to a slice.
func Decode(collection string, docs []Document, out any) error {
	if docs == nil {
		docs = []Document{}
	}
	b, err := json.Marshal(docs)
	if err != nil {
		return ScanError{Collection: collection, Err: err}
	}
	if err = json.Unmarshal(b, out); err != nil {
		return ScanError{Collection: collection, Err: err}
	}
	return nil
}

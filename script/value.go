package script

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// normalize converts decoded JSON values into plain Go values that every
// database backend and the jq interpreter accept: integral json.Number values
// become int, the rest float64.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, e := range val {
			val[k] = normalize(e)
		}
		return val
	case []any:
		for i, e := range val {
			val[i] = normalize(e)
		}
		return val
	case json.Number:
		if i, err := strconv.ParseInt(val.String(), 10, strconv.IntSize); err == nil {
			return int(i)
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	default:
		return v
	}
}

// plain round-trips v through JSON, so that backend specific types (e.g. BSON
// documents) are turned into maps, slices and scalars.
func plain(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed serializing value: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err = dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed deserializing value: %w", err)
	}
	return normalize(out), nil
}

package errors

import (
	"errors"
	"maps"
	"sort"
)

// StructuredError is an error with a cause and key/value metadata, such as the
// migration name or a hint for the user, which Log renders as slog fields.
type StructuredError struct {
	err      error
	metadata map[string]any
	cause    error
}

// Error implements the error interface. Only the message is returned; the
// cause is rendered separately by Log.
func (e StructuredError) Error() string {
	return e.err.Error()
}

// Unwrap allows errors.Is and errors.As to match both the error and its cause.
func (e StructuredError) Unwrap() []error {
	var errs []error
	if e.err != nil {
		errs = append(errs, e.err)
	}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	return errs
}

// Cause returns the cause of this error, if any.
func (e StructuredError) Cause() error {
	return e.cause
}

// Metadata returns a copy of the metadata map.
func (e StructuredError) Metadata() map[string]any {
	if e.metadata == nil {
		return nil
	}
	return maps.Clone(e.metadata)
}

// logArgs returns the cause and metadata as slog arguments, with the cause
// first and the rest sorted by key.
func (e StructuredError) logArgs() []any {
	args := make([]any, 0, len(e.metadata)*2+2)

	cause := e.metadata["cause"]
	if e.cause != nil {
		cause = e.cause
	}
	if cause != nil {
		args = append(args, "cause", cause)
	}

	keys := make([]string, 0, len(e.metadata))
	for k := range e.metadata {
		if k != "cause" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, k, e.metadata[k])
	}

	return args
}

// NewWith creates a new StructuredError from a message with optional metadata.
func NewWith(msg string, fields ...any) *StructuredError {
	return With(errors.New(msg), fields...)
}

// NewWithCause creates a new StructuredError from a message with a cause and
// optional metadata.
func NewWithCause(msg string, cause error, fields ...any) *StructuredError {
	return WithCause(errors.New(msg), cause, fields...)
}

// With adds metadata to an error. The metadata of an existing StructuredError
// is merged, with fields overwriting keys already set, and its cause is kept.
func With(err error, fields ...any) *StructuredError {
	return structure(err, fields)
}

// WithCause is like With, but also sets the cause, replacing any existing one.
func WithCause(err error, cause error, fields ...any) *StructuredError {
	se := structure(err, fields)
	se.cause = cause
	return se
}

func structure(err error, fields []any) *StructuredError {
	if len(fields)%2 != 0 {
		panic("an even number of fields is required")
	}

	var se *StructuredError
	if me, ok := err.(*StructuredError); ok {
		se = &StructuredError{
			err:      me.err,
			metadata: make(map[string]any, len(me.metadata)+len(fields)/2),
			cause:    me.cause,
		}
		maps.Copy(se.metadata, me.metadata)
	} else {
		se = &StructuredError{err: err, metadata: make(map[string]any, len(fields)/2)}
	}

	for i := 0; i < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			panic("keys must be strings")
		}
		se.metadata[key] = fields[i+1]
	}

	return se
}

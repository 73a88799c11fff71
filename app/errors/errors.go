package errors

import (
	"errors"
	"log/slog"
)

// Log logs an error using the default slog logger, extracting metadata if it's
// a StructuredError.
func Log(err error) {
	var serr *StructuredError
	if !errors.As(err, &serr) {
		slog.Error(err.Error())
		return
	}

	slog.Error(serr.Error(), serr.logArgs()...)
}

// NewRuntimeError returns an error for a failed operation, with an optional
// hint for the user on how to resolve it.
func NewRuntimeError(msg string, cause error, hint string) *StructuredError {
	if hint == "" {
		return NewWithCause(msg, cause)
	}
	return NewWithCause(msg, cause, "hint", hint)
}

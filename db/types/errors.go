package types

import (
	"errors"
	"fmt"
)

// DuplicateError represents an error when attempting to create a document
// that violates a unique index.
type DuplicateError struct {
	Collection string
	ID         string
}

func (e DuplicateError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("document already exists in collection '%s'", e.Collection)
	}
	return fmt.Sprintf("document with %s already exists in collection '%s'", e.ID, e.Collection)
}

// IntegrityError represents a data integrity violation.
type IntegrityError struct {
	Msg string
}

// Error returns a string representation of the error.
func (e IntegrityError) Error() string {
	return fmt.Sprintf("integrity error: %s", e.Msg)
}

// InvalidInputError represents an error due to invalid input data.
type InvalidInputError struct {
	Msg string
}

// Error returns a string representation of the error.
func (e InvalidInputError) Error() string {
	return e.Msg
}

// LoadError represents an error that occurred while loading documents from
// the database.
type LoadError struct {
	Collection string
	Err        error
}

// Error returns a string representation of the error.
func (e LoadError) Error() string {
	return fmt.Sprintf("failed loading documents from collection '%s': %s", e.Collection, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e LoadError) Unwrap() error {
	return e.Err
}

// NoResultError represents an error when an operation required a document
// that doesn't exist.
type NoResultError struct {
	Collection string
	ID         string
}

// Error returns a string representation of the error.
func (e NoResultError) Error() string {
	return fmt.Sprintf("document with %s doesn't exist in collection '%s'", e.ID, e.Collection)
}

// ScanError represents an error that occurred while decoding stored documents
// into Go types.
type ScanError struct {
	Collection string
	Err        error
}

// Error returns a string representation of the error.
func (e ScanError) Error() string {
	return fmt.Sprintf("failed decoding documents from collection '%s': %s", e.Collection, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e ScanError) Unwrap() error {
	return e.Err
}

// UnsupportedError is returned when a connection URI refers to an unknown
// backend.
type UnsupportedError struct {
	Scheme string
}

func (e UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported database scheme '%s'", e.Scheme)
}

// IsDuplicate returns true if err is, or wraps, a *DuplicateError.
func IsDuplicate(err error) bool {
	var derr *DuplicateError
	return errors.As(err, &derr)
}

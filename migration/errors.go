package migration

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a closed Migrator or StateStore.
var ErrClosed = errors.New("migrator is closed")

// ErrBusy is returned when an operation is started while another one is in
// progress on the same Migrator.
var ErrBusy = errors.New("another migration operation is in progress")

// DuplicateNameError is returned when creating a definition with the name of
// an existing one.
type DuplicateNameError struct {
	Name string
}

func (e DuplicateNameError) Error() string {
	return fmt.Sprintf("migration with name '%s' already exists", e.Name)
}

// DuplicateRecordError is returned when marking an already applied migration
// as applied.
type DuplicateRecordError struct {
	Name string
}

func (e DuplicateRecordError) Error() string {
	return fmt.Sprintf("migration '%s' is already marked as applied", e.Name)
}

// NotFoundError is returned when a named migration doesn't exist in the
// catalog, or doesn't have a record when one is required.
type NotFoundError struct {
	Name string
	// Applied is true if an applied migration was expected.
	Applied bool
}

func (e NotFoundError) Error() string {
	if e.Applied {
		return fmt.Sprintf("applied migration '%s' not found", e.Name)
	}
	return fmt.Sprintf("migration '%s' not found", e.Name)
}

// NoWorkError is returned when there is nothing to do. It is not a failure.
type NoWorkError struct{}

func (e NoWorkError) Error() string {
	return "There are no migrations to run"
}

// IsNoWork returns true if err is, or wraps, a NoWorkError.
func IsNoWork(err error) bool {
	var nwErr NoWorkError
	return errors.As(err, &nwErr)
}

// NotReversibleError is returned when rolling back a migration without a Down
// action.
type NotReversibleError struct {
	Name string
}

func (e NotReversibleError) Error() string {
	return fmt.Sprintf("migration '%s' can't be rolled back: it has no down action", e.Name)
}

// ConfirmationRequiredError is returned by Prune when it would change state,
// but autosync is disabled and there is no way to ask for confirmation.
type ConfirmationRequiredError struct{}

func (e ConfirmationRequiredError) Error() string {
	return "pruning requires confirmation: enable autosync or run interactively"
}

// ActionError wraps a failure of a migration's own Up or Down action.
type ActionError struct {
	Name      string
	Direction Direction
	Err       error
}

func (e ActionError) Error() string {
	return fmt.Sprintf("failed running %s migration '%s': %s", e.Direction, e.Name, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e ActionError) Unwrap() error {
	return e.Err
}

// IntegrityError is returned when the catalog is inconsistent, e.g. when two
// definitions share a sequence key.
type IntegrityError struct {
	Msg string
}

func (e IntegrityError) Error() string {
	return fmt.Sprintf("catalog integrity error: %s", e.Msg)
}

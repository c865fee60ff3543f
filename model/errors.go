package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for store operations. Use errors.Is to match them.
var (
	// ErrNotFound is returned when a UUID, REST id or relation is unknown.
	ErrNotFound = errors.New("resource not found")

	// ErrRemoved is returned instead of ErrNotFound when the key existed and
	// was removed or renamed. It wraps ErrNotFound.
	ErrRemoved = fmt.Errorf("%w: removed", ErrNotFound)

	// ErrDuplicateUUID is returned by AddEntry when the UUID is taken, and by
	// Rename when the derived UUID belongs to another entry.
	ErrDuplicateUUID = errors.New("object with this UUID already exists")

	// ErrInvalidUUID is returned for an empty UUID.
	ErrInvalidUUID = errors.New("invalid UUID")

	// ErrParentChanged is returned by AddOrUpdateEntry when the incoming
	// resource has a different parent than the stored one.
	ErrParentChanged = errors.New("parent UUID cannot be updated")

	// ErrInvalidReference is returned when an operation targets a store that
	// does not exist in the current process configuration.
	ErrInvalidReference = errors.New("invalid reference")
)

// Error describes a failed store operation.
//
// Example:
//
//	_, err := drives.GetEntry(id)
//	var merr *model.Error
//	if errors.As(err, &merr) {
//	    log.Printf("%s on %s failed", merr.Op, merr.Kind)
//	}
type Error struct {
	// Op is the store operation, e.g. "GetEntry".
	Op string

	// Kind is the kind of the store.
	Kind Kind

	// UUID is the key involved, if any.
	UUID string

	// RestID is the REST id involved, if any.
	RestID uint64

	// Err is the underlying sentinel.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.UUID != "":
		return fmt.Sprintf("%s %s [UUID = '%s']: %v", e.Op, e.Kind, e.UUID, e.Err)
	case e.RestID != 0:
		return fmt.Sprintf("%s %s [id = %d]: %v", e.Op, e.Kind, e.RestID, e.Err)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

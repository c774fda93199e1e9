package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the
	// store. Entity-specific variants below wrap it so callers can match
	// either the generic or the specific error.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate of
	// a unique entity (e.g. a second current-image pointer for a scene).
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation or
	// references a row that does not exist (foreign key violation).
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrUpdateFailed is returned when an update matches no rows or violates
	// a constraint.
	ErrUpdateFailed = errors.New("update failed")

	// ErrTransactionFailed is returned when a database transaction fails to
	// commit or an operation within it fails.
	ErrTransactionFailed = errors.New("transaction failed")

	// Entity-specific "not found" errors.

	// ErrJobNotFound indicates that the requested job does not exist.
	ErrJobNotFound = fmt.Errorf("%w: job", ErrNotFound)

	// ErrRunNotFound indicates that the requested enhancement run does not exist.
	ErrRunNotFound = fmt.Errorf("%w: run", ErrNotFound)

	// ErrSceneNotFound indicates that the requested scene does not exist.
	ErrSceneNotFound = fmt.Errorf("%w: scene", ErrNotFound)

	// ErrImageNotFound indicates that the requested image attempt does not exist.
	ErrImageNotFound = fmt.Errorf("%w: image attempt", ErrNotFound)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError checks if the error is any kind of "duplicate" error.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

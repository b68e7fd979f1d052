package minimage

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrInvalidArgument indicates a bad extension, TTL, id or upload
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound indicates a missing blob or record, or a record past its expiry
	ErrNotFound = errors.New("image not found")

	// ErrStorageFailure indicates a filesystem or metadata store I/O failure
	ErrStorageFailure = errors.New("storage failure")
)

// StorageError represents a failed blob or metadata store operation
type StorageError struct {
	Backend string
	Op      string
	ID      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for image %s on %s: %v", e.Op, e.ID, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is reports ErrStorageFailure so callers can classify without errors.As.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailure
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

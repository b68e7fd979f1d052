package minimage

import (
	"context"
	"io"
	"time"
)

// BlobStore stores raw image bytes keyed by id
type BlobStore interface {
	// Write creates the blob, replacing any existing one, and returns the bytes written
	Write(ctx context.Context, id string, reader io.Reader) (int64, error)

	// Read opens the blob; ErrNotFound when it does not exist
	Read(ctx context.Context, id string) (io.ReadCloser, error)

	// Delete removes the blob; deleting a missing blob is not an error
	Delete(ctx context.Context, id string) error

	// Exists reports whether the blob is present
	Exists(ctx context.Context, id string) (bool, error)
}

// MetadataStore persists Records keyed by id
type MetadataStore interface {
	// Upsert replaces any existing record for rec.ID and commits before returning
	Upsert(ctx context.Context, rec Record) error

	// Get returns the record; ErrNotFound when absent
	Get(ctx context.Context, id string) (*Record, error)

	// Delete removes the record; deleting a missing record is not an error
	Delete(ctx context.Context, id string) error

	// ListExpired returns every id with ttl_seconds > 0 and
	// created_at + ttl_seconds <= now. Order is unspecified.
	ListExpired(ctx context.Context, now time.Time) ([]string, error)

	// Close releases the store's connections
	Close() error
}

// IDGenerator produces filesystem-safe identifiers for new images
type IDGenerator interface {
	// NewID returns a fresh id, suffixed with "." + ext when ext is non-empty.
	// ext must already be normalized.
	NewID(ext string) string
}

// Clock returns the current time
type Clock func() time.Time

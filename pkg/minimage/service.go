package minimage

import (
	"context"
	"io"
	"time"
)

// Service is the expiring content store: it names, stores, serves and
// reclaims uploaded images.
type Service interface {
	// Put stores an image and returns its generated id
	Put(ctx context.Context, req PutRequest) (*PutResult, error)

	// Get opens a live image. Missing, malformed or expired ids yield ErrNotFound
	// or ErrInvalidArgument. The caller closes the reader.
	Get(ctx context.Context, id string) (io.ReadCloser, *Record, error)

	// Stat returns the record of a live image without opening the blob
	Stat(ctx context.Context, id string) (*Record, error)

	// Delete removes an image; deleting a missing image succeeds
	Delete(ctx context.Context, id string) error

	// Reap removes every image expired as of now
	Reap(ctx context.Context, now time.Time) (*ReapResult, error)

	// Metrics returns the service counters
	Metrics() *Metrics
}

package minimage

import (
	"io"
	"math"
	"time"
)

// MaxTTLSeconds is the longest accepted lifetime, 100 years. Keeping
// created_at + ttl_seconds far below the int64 range lets every metadata
// store compute the expiry instant in integer arithmetic.
const MaxTTLSeconds int64 = 100 * 365 * 24 * 60 * 60

// Record is the metadata entry for one stored image.
type Record struct {
	ID         string `json:"id"`
	CreatedAt  int64  `json:"created_at"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

// ExpiresAt returns the expiry instant. The second value is false for
// records that never expire.
func (r Record) ExpiresAt() (time.Time, bool) {
	if r.TTLSeconds <= 0 {
		return time.Time{}, false
	}
	if r.TTLSeconds > math.MaxInt64-r.CreatedAt {
		return time.Unix(math.MaxInt64, 0), true
	}
	return time.Unix(r.CreatedAt+r.TTLSeconds, 0), true
}

// Expired reports whether the record is past its expiry instant at now.
func (r Record) Expired(now time.Time) bool {
	return r.TTLSeconds > 0 && now.Unix()-r.CreatedAt >= r.TTLSeconds
}

// PutRequest contains the parameters for storing an image
type PutRequest struct {
	Reader     io.Reader
	Extension  string
	TTLSeconds int64
}

// PutResult describes a stored image
type PutResult struct {
	ID         string `json:"id"`
	Size       int64  `json:"size"`
	TTLSeconds int64  `json:"ttl_seconds"`
	CreatedAt  int64  `json:"created_at"`
}

// ReapResult contains statistics about one reap pass
type ReapResult struct {
	// Found is the number of expired ids returned by the metadata store
	Found int

	// Deleted is the number of ids whose blob and record were both removed
	Deleted int

	// Failed is the number of ids that could not be fully removed
	Failed int

	// FailedIDs contains the ids that failed, in no particular order
	FailedIDs []string
}

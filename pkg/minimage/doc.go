// Package minimage provides the expiring content store behind a minimal
// image-hosting service.
//
// A Service composes an IDGenerator, a MetadataStore and a BlobStore. Put
// writes the blob first and then upserts a Record carrying the creation time
// and time-to-live; Get treats a record past its expiry as already gone, even
// before it is physically removed; Reap deletes every expired blob and record,
// tolerating per-id failures. A Reaper runs Reap on a fixed interval.
//
// Failure Window
//
// If the metadata upsert fails after the blob was written, the blob is left
// without a record. Such orphans are logged but not reclaimed automatically.
//
// Metadata stores (SQLite, PostgreSQL, Redis, memory) live under repo/ and
// blob stores (filesystem, S3, memory) under storage/.
package minimage

package minimage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
)

const defaultReapConcurrency = 4

// service implements the Service interface
type service struct {
	metadataStore   MetadataStore
	blobStore       BlobStore
	idGenerator     IDGenerator
	clock           Clock
	logger          *slog.Logger
	metrics         *Metrics
	reapConcurrency int
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithMetadataStore sets the metadata store for the service
func WithMetadataStore(store MetadataStore) Option {
	return func(s *service) {
		s.metadataStore = store
	}
}

// WithBlobStore sets the blob store for the service
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobStore = store
	}
}

// WithIDGenerator replaces the default UUID id generator
func WithIDGenerator(gen IDGenerator) Option {
	return func(s *service) {
		s.idGenerator = gen
	}
}

// WithClock replaces time.Now, mostly for tests
func WithClock(clock Clock) Option {
	return func(s *service) {
		s.clock = clock
	}
}

// WithLogger sets the logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink for the service
func WithMetrics(m *Metrics) Option {
	return func(s *service) {
		s.metrics = m
	}
}

// WithReapConcurrency bounds the number of ids reclaimed in parallel
func WithReapConcurrency(n int) Option {
	return func(s *service) {
		s.reapConcurrency = n
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		idGenerator:     NewUUIDGenerator(),
		clock:           time.Now,
		reapConcurrency: defaultReapConcurrency,
	}

	for _, option := range options {
		option(s)
	}

	if s.metadataStore == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if s.blobStore == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if s.idGenerator == nil {
		s.idGenerator = NewUUIDGenerator()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	if s.reapConcurrency < 1 {
		s.reapConcurrency = 1
	}

	return s, nil
}

func (s *service) Metrics() *Metrics {
	return s.metrics
}

func (s *service) Put(ctx context.Context, req PutRequest) (*PutResult, error) {
	if req.Reader == nil {
		return nil, invalidArgument("image data is required")
	}
	if req.TTLSeconds < 0 {
		return nil, invalidArgument("ttl must be >= 0, got %d", req.TTLSeconds)
	}
	if req.TTLSeconds > MaxTTLSeconds {
		return nil, invalidArgument("ttl must be <= %d, got %d", MaxTTLSeconds, req.TTLSeconds)
	}
	ext, err := NormalizeExtension(req.Extension)
	if err != nil {
		return nil, err
	}

	id := s.idGenerator.NewID(ext)
	if err := ValidateID(id); err != nil {
		return nil, fmt.Errorf("generated id rejected: %w", err)
	}

	size, err := s.blobStore.Write(ctx, id, req.Reader)
	if err != nil {
		return nil, &StorageError{Backend: "blob", Op: "write", ID: id, Err: err}
	}

	rec := Record{
		ID:         id,
		CreatedAt:  s.clock().Unix(),
		TTLSeconds: req.TTLSeconds,
	}
	if err := s.metadataStore.Upsert(ctx, rec); err != nil {
		// The blob stays on disk without a record; nothing reclaims it.
		s.logger.Error("Failed to record image metadata, blob orphaned", "id", id, "error", err)
		return nil, &StorageError{Backend: "metadata", Op: "upsert", ID: id, Err: err}
	}

	s.metrics.recordUpload(ctx, size)
	s.logger.Debug("Image stored", "id", id, "size", size, "ttl_seconds", req.TTLSeconds)

	return &PutResult{
		ID:         id,
		Size:       size,
		TTLSeconds: rec.TTLSeconds,
		CreatedAt:  rec.CreatedAt,
	}, nil
}

func (s *service) Get(ctx context.Context, id string) (io.ReadCloser, *Record, error) {
	rec, err := s.Stat(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	rc, err := s.blobStore.Read(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.metrics.recordNotFound(ctx)
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, nil, &StorageError{Backend: "blob", Op: "read", ID: id, Err: err}
	}

	s.metrics.recordDownload(ctx)
	return rc, rec, nil
}

func (s *service) Stat(ctx context.Context, id string) (*Record, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	rec, err := s.metadataStore.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.metrics.recordNotFound(ctx)
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, &StorageError{Backend: "metadata", Op: "get", ID: id, Err: err}
	}

	// Expired but not yet reaped reads as gone.
	if rec.Expired(s.clock()) {
		s.metrics.recordNotFound(ctx)
		return nil, fmt.Errorf("%w: %s (expired)", ErrNotFound, id)
	}

	return rec, nil
}

func (s *service) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := s.reclaim(ctx, id); err != nil {
		return err
	}
	s.metrics.recordDelete(ctx)
	return nil
}

func (s *service) Reap(ctx context.Context, now time.Time) (*ReapResult, error) {
	ids, err := s.metadataStore.ListExpired(ctx, now)
	if err != nil {
		return nil, &StorageError{Backend: "metadata", Op: "list_expired", Err: err}
	}

	result := &ReapResult{Found: len(ids)}
	if len(ids) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(s.reapConcurrency)
	for _, id := range ids {
		id := id
		p.Go(func() {
			err := s.reclaim(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				result.FailedIDs = append(result.FailedIDs, id)
				s.logger.Error("Failed to reclaim expired image", "id", id, "error", err)
				return
			}
			result.Deleted++
		})
	}
	p.Wait()

	s.metrics.recordReap(ctx, result)
	s.logger.Info("Reap pass finished", "found", result.Found, "deleted", result.Deleted, "failed", result.Failed)

	return result, nil
}

// reclaim removes the blob, then the record. Both steps are idempotent.
func (s *service) reclaim(ctx context.Context, id string) error {
	if err := s.blobStore.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return &StorageError{Backend: "blob", Op: "delete", ID: id, Err: err}
	}
	if err := s.metadataStore.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return &StorageError{Backend: "metadata", Op: "delete", ID: id, Err: err}
	}
	return nil
}

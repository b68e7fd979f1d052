package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tendant/minimage/pkg/minimage"
)

// Repository implements minimage.MetadataStore using in-memory storage
type Repository struct {
	mu      sync.RWMutex
	records map[string]minimage.Record
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		records: make(map[string]minimage.Record),
	}
}

func (r *Repository) Upsert(ctx context.Context, rec minimage.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[rec.ID] = rec
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*minimage.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.records[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", minimage.ErrNotFound, id)
	}

	// Return a copy to avoid external modifications
	return &rec, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.records, id)
	return nil
}

func (r *Repository) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, rec := range r.records {
		if rec.Expired(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *Repository) Close() error {
	return nil
}

// Len returns the number of stored records
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

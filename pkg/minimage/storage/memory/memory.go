package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/tendant/minimage/pkg/minimage"
)

// Backend is an in-memory implementation of the minimage.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		objects: make(map[string][]byte),
	}
}

func (b *Backend) Write(ctx context.Context, id string, reader io.Reader) (int64, error) {
	if err := minimage.ValidateID(id); err != nil {
		return 0, err
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return 0, fmt.Errorf("failed to read data: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[id] = data

	return int64(len(data)), nil
}

func (b *Backend) Read(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := minimage.ValidateID(id); err != nil {
		return nil, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", minimage.ErrNotFound, id)
	}

	// Copy so later writes cannot change what the reader sees
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	return io.NopCloser(bytes.NewReader(dataCopy)), nil
}

func (b *Backend) Delete(ctx context.Context, id string) error {
	if err := minimage.ValidateID(id); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, id)

	return nil
}

func (b *Backend) Exists(ctx context.Context, id string) (bool, error) {
	if err := minimage.ValidateID(id); err != nil {
		return false, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	_, exists := b.objects[id]

	return exists, nil
}

// Len returns the number of stored blobs
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

// Package conformance holds behavior tests shared by every BlobStore and
// MetadataStore backend.
package conformance

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/minimage/pkg/minimage"
)

// MetadataStoreFactory returns an empty store; cleanup is registered on t.
type MetadataStoreFactory func(t *testing.T) minimage.MetadataStore

// BlobStoreFactory returns an empty store; cleanup is registered on t.
type BlobStoreFactory func(t *testing.T) minimage.BlobStore

// RunMetadataStore runs the MetadataStore contract against stores from newStore.
func RunMetadataStore(t *testing.T, newStore MetadataStoreFactory) {
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(ctx, "missing.png")
		assert.ErrorIs(t, err, minimage.ErrNotFound)
	})

	t.Run("UpsertAndGet", func(t *testing.T) {
		store := newStore(t)
		rec := minimage.Record{ID: "a.png", CreatedAt: 1700000000, TTLSeconds: 60}
		require.NoError(t, store.Upsert(ctx, rec))

		got, err := store.Get(ctx, "a.png")
		require.NoError(t, err)
		assert.Equal(t, rec, *got)
	})

	t.Run("UpsertReplaces", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Upsert(ctx, minimage.Record{ID: "a.png", CreatedAt: 100, TTLSeconds: 10}))
		require.NoError(t, store.Upsert(ctx, minimage.Record{ID: "a.png", CreatedAt: 200, TTLSeconds: 0}))

		got, err := store.Get(ctx, "a.png")
		require.NoError(t, err)
		assert.Equal(t, int64(200), got.CreatedAt)
		assert.Equal(t, int64(0), got.TTLSeconds)

		// A record that no longer expires must leave the expiry index.
		ids, err := store.ListExpired(ctx, time.Unix(1<<40, 0))
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Upsert(ctx, minimage.Record{ID: "a.png", CreatedAt: 100, TTLSeconds: 10}))

		require.NoError(t, store.Delete(ctx, "a.png"))
		require.NoError(t, store.Delete(ctx, "a.png"))
		require.NoError(t, store.Delete(ctx, "never-existed"))

		_, err := store.Get(ctx, "a.png")
		assert.ErrorIs(t, err, minimage.ErrNotFound)
		ids, err := store.ListExpired(ctx, time.Unix(1000, 0))
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("ListExpired", func(t *testing.T) {
		store := newStore(t)
		records := []minimage.Record{
			{ID: "forever", CreatedAt: 100, TTLSeconds: 0},
			{ID: "boundary", CreatedAt: 100, TTLSeconds: 10}, // expires at 110
			{ID: "past", CreatedAt: 100, TTLSeconds: 5},      // expires at 105
			{ID: "future", CreatedAt: 100, TTLSeconds: 11},   // expires at 111
			{ID: "young", CreatedAt: 109, TTLSeconds: 100},
		}
		for _, rec := range records {
			require.NoError(t, store.Upsert(ctx, rec))
		}

		ids, err := store.ListExpired(ctx, time.Unix(110, 0))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"boundary", "past"}, ids)

		ids, err = store.ListExpired(ctx, time.Unix(99, 0))
		require.NoError(t, err)
		assert.Empty(t, ids)

		ids, err = store.ListExpired(ctx, time.Unix(1<<40, 0))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"boundary", "past", "future", "young"}, ids)
	})

	t.Run("LongestTTL", func(t *testing.T) {
		store := newStore(t)
		rec := minimage.Record{ID: "century.png", CreatedAt: 1_700_000_000, TTLSeconds: minimage.MaxTTLSeconds}
		require.NoError(t, store.Upsert(ctx, rec))
		require.NoError(t, store.Upsert(ctx, minimage.Record{ID: "short.png", CreatedAt: 1_700_000_000, TTLSeconds: 1}))
		expiresAt := rec.CreatedAt + rec.TTLSeconds

		// The long-lived record must not poison the scan for its neighbours.
		ids, err := store.ListExpired(ctx, time.Unix(1_700_000_001, 0))
		require.NoError(t, err)
		assert.Equal(t, []string{"short.png"}, ids)

		ids, err = store.ListExpired(ctx, time.Unix(expiresAt-1, 0))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"short.png"}, ids)

		ids, err = store.ListExpired(ctx, time.Unix(expiresAt, 0))
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"short.png", "century.png"}, ids)

		got, err := store.Get(ctx, "century.png")
		require.NoError(t, err)
		assert.Equal(t, rec, *got)
	})

	t.Run("ConcurrentUpserts", func(t *testing.T) {
		store := newStore(t)
		const n = 50

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- store.Upsert(ctx, minimage.Record{
					ID:         fmt.Sprintf("img-%02d.png", i),
					CreatedAt:  int64(1000 + i),
					TTLSeconds: int64(i % 3),
				})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		for i := 0; i < n; i++ {
			got, err := store.Get(ctx, fmt.Sprintf("img-%02d.png", i))
			require.NoError(t, err)
			assert.Equal(t, int64(1000+i), got.CreatedAt)
		}
	})
}

// RunBlobStore runs the BlobStore contract against stores from newStore.
func RunBlobStore(t *testing.T, newStore BlobStoreFactory) {
	ctx := context.Background()

	t.Run("ReadMissing", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Read(ctx, "missing.png")
		assert.ErrorIs(t, err, minimage.ErrNotFound)

		ok, err := store.Exists(ctx, "missing.png")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("WriteAndRead", func(t *testing.T) {
		store := newStore(t)
		data := []byte("\x89PNG fake image body")

		n, err := store.Write(ctx, "a.png", bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)), n)

		ok, err := store.Exists(ctx, "a.png")
		require.NoError(t, err)
		assert.True(t, ok)

		assert.Equal(t, data, readAll(t, store, "a.png"))
	})

	t.Run("WriteOverwrites", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Write(ctx, "a.png", bytes.NewReader([]byte("first version")))
		require.NoError(t, err)
		_, err = store.Write(ctx, "a.png", bytes.NewReader([]byte("second")))
		require.NoError(t, err)

		assert.Equal(t, []byte("second"), readAll(t, store, "a.png"))
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Write(ctx, "a.png", bytes.NewReader([]byte("x")))
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, "a.png"))
		require.NoError(t, store.Delete(ctx, "a.png"))
		require.NoError(t, store.Delete(ctx, "never-existed.gif"))

		_, err = store.Read(ctx, "a.png")
		assert.ErrorIs(t, err, minimage.ErrNotFound)
	})

	t.Run("RejectsUnsafeIDs", func(t *testing.T) {
		store := newStore(t)
		for _, id := range []string{"", "../escape.png", "a/b.png", `a\b.png`, ".hidden"} {
			_, err := store.Write(ctx, id, bytes.NewReader([]byte("x")))
			assert.ErrorIs(t, err, minimage.ErrInvalidArgument, "id %q", id)
			_, err = store.Read(ctx, id)
			assert.ErrorIs(t, err, minimage.ErrInvalidArgument, "id %q", id)
		}
	})
}

func readAll(t *testing.T, store minimage.BlobStore, id string) []byte {
	t.Helper()
	rc, err := store.Read(context.Background(), id)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

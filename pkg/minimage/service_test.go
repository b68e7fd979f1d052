package minimage_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tendant/minimage/pkg/minimage"
	repomemory "github.com/tendant/minimage/pkg/minimage/repo/memory"
	storagememory "github.com/tendant/minimage/pkg/minimage/storage/memory"
)

// fakeClock is a settable clock shared by the service and the test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc   minimage.Service
	clock *fakeClock
	meta  *repomemory.Repository
	blobs *storagememory.Backend
}

func setupTestService(t *testing.T, opts ...minimage.Option) *fixture {
	t.Helper()
	f := &fixture{
		clock: newFakeClock(),
		meta:  repomemory.New(),
		blobs: storagememory.New(),
	}
	options := append([]minimage.Option{
		minimage.WithMetadataStore(f.meta),
		minimage.WithBlobStore(f.blobs),
		minimage.WithClock(f.clock.Now),
	}, opts...)

	svc, err := minimage.New(options...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) put(t *testing.T, data []byte, ext string, ttl int64) *minimage.PutResult {
	t.Helper()
	res, err := f.svc.Put(context.Background(), minimage.PutRequest{
		Reader:     bytes.NewReader(data),
		Extension:  ext,
		TTLSeconds: ttl,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) read(t *testing.T, id string) []byte {
	t.Helper()
	rc, _, err := f.svc.Get(context.Background(), id)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestNew_RequiresStores(t *testing.T) {
	_, err := minimage.New(minimage.WithBlobStore(storagememory.New()))
	assert.Error(t, err)

	_, err = minimage.New(minimage.WithMetadataStore(repomemory.New()))
	assert.Error(t, err)
}

func TestService_PutGetRoundTrip(t *testing.T) {
	f := setupTestService(t)

	cases := []struct {
		name string
		data []byte
		ext  string
		ttl  int64
	}{
		{"png with ttl", []byte("\x89PNG\r\n\x1a\n"), "png", 60},
		{"jpeg forever", []byte{0xff, 0xd8, 0xff}, "jpg", 0},
		{"dotted upper ext", []byte("GIF89a"), ".GIF", 5},
		{"no extension", []byte("raw"), "", 1},
		{"empty body", []byte{}, "webp", 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := f.put(t, tc.data, tc.ext, tc.ttl)
			assert.Equal(t, int64(len(tc.data)), res.Size)
			assert.Equal(t, tc.ttl, res.TTLSeconds)
			assert.Equal(t, f.clock.Now().Unix(), res.CreatedAt)
			assert.Equal(t, tc.data, f.read(t, res.ID))

			rec, err := f.svc.Stat(context.Background(), res.ID)
			require.NoError(t, err)
			assert.Equal(t, res.ID, rec.ID)
			assert.Equal(t, tc.ttl, rec.TTLSeconds)
		})
	}
}

func TestService_PutIDCarriesNormalizedExtension(t *testing.T) {
	f := setupTestService(t)

	res := f.put(t, []byte("x"), ".PNG", 0)
	assert.Equal(t, "png", minimage.ExtensionOf(res.ID))
	require.NoError(t, minimage.ValidateID(res.ID))

	res = f.put(t, []byte("x"), "", 0)
	assert.Equal(t, "", minimage.ExtensionOf(res.ID))
}

func TestService_PutRejectsInvalidInput(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  minimage.PutRequest
	}{
		{"nil reader", minimage.PutRequest{Extension: "png"}},
		{"negative ttl", minimage.PutRequest{Reader: bytes.NewReader(nil), Extension: "png", TTLSeconds: -1}},
		{"ttl above ceiling", minimage.PutRequest{Reader: bytes.NewReader(nil), Extension: "png", TTLSeconds: minimage.MaxTTLSeconds + 1}},
		{"ttl max int64", minimage.PutRequest{Reader: bytes.NewReader(nil), Extension: "png", TTLSeconds: math.MaxInt64}},
		{"path in extension", minimage.PutRequest{Reader: bytes.NewReader(nil), Extension: "png/../x"}},
		{"overlong extension", minimage.PutRequest{Reader: bytes.NewReader(nil), Extension: "abcdefghijklmnopq"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Put(ctx, tc.req)
			assert.ErrorIs(t, err, minimage.ErrInvalidArgument)
		})
	}
	assert.Equal(t, 0, f.blobs.Len())
	assert.Equal(t, 0, f.meta.Len())
}

func TestService_LazyExpiry(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	res := f.put(t, []byte("abc"), "png", 10)

	f.clock.Advance(9 * time.Second)
	assert.Equal(t, []byte("abc"), f.read(t, res.ID))

	// Exactly at created_at + ttl the image is gone.
	f.clock.Advance(time.Second)
	_, _, err := f.svc.Get(ctx, res.ID)
	assert.ErrorIs(t, err, minimage.ErrNotFound)
	_, err = f.svc.Stat(ctx, res.ID)
	assert.ErrorIs(t, err, minimage.ErrNotFound)

	// Not physically removed until a reap.
	assert.Equal(t, 1, f.blobs.Len())
	assert.Equal(t, 1, f.meta.Len())
}

func TestService_LongestTTL(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	res := f.put(t, []byte("abc"), "png", minimage.MaxTTLSeconds)
	assert.Equal(t, []byte("abc"), f.read(t, res.ID))

	reaped, err := f.svc.Reap(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, reaped.Found)

	f.clock.Advance(time.Duration(minimage.MaxTTLSeconds-1) * time.Second)
	assert.Equal(t, []byte("abc"), f.read(t, res.ID))

	f.clock.Advance(time.Second)
	_, _, err = f.svc.Get(ctx, res.ID)
	assert.ErrorIs(t, err, minimage.ErrNotFound)
}

func TestRecord_ExpiryDoesNotOverflow(t *testing.T) {
	rec := minimage.Record{ID: "a.png", CreatedAt: 1_700_000_000, TTLSeconds: math.MaxInt64}
	assert.False(t, rec.Expired(time.Unix(1_700_000_000, 0)))
	assert.False(t, rec.Expired(time.Unix(1<<50, 0)))

	expiresAt, ok := rec.ExpiresAt()
	assert.True(t, ok)
	assert.True(t, expiresAt.After(time.Unix(1<<50, 0)))
}

func TestService_ReapRemovesExactlyExpired(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	short := f.put(t, []byte("short"), "png", 5)
	boundary := f.put(t, []byte("boundary"), "png", 10)
	long := f.put(t, []byte("long"), "png", 11)
	forever := f.put(t, []byte("forever"), "png", 0)

	res, err := f.svc.Reap(ctx, f.clock.Now().Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Found)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 0, res.Failed)
	assert.Empty(t, res.FailedIDs)

	for _, id := range []string{short.ID, boundary.ID} {
		ok, err := f.blobs.Exists(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok, id)
		_, err = f.meta.Get(ctx, id)
		assert.ErrorIs(t, err, minimage.ErrNotFound, id)
	}

	assert.Equal(t, []byte("long"), f.read(t, long.ID))
	assert.Equal(t, []byte("forever"), f.read(t, forever.ID))

	// A second pass at the same instant finds nothing.
	res, err = f.svc.Reap(ctx, f.clock.Now().Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Found)
	assert.Equal(t, 0, res.Deleted)

	assert.Equal(t, int64(2), f.svc.Metrics().Snapshot().Reaped)
}

func TestService_DeleteIsIdempotent(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	res := f.put(t, []byte("bye"), "gif", 0)

	require.NoError(t, f.svc.Delete(ctx, res.ID))
	require.NoError(t, f.svc.Delete(ctx, res.ID))
	require.NoError(t, f.svc.Delete(ctx, "never-existed.png"))

	_, _, err := f.svc.Get(ctx, res.ID)
	assert.ErrorIs(t, err, minimage.ErrNotFound)
	assert.Equal(t, 0, f.blobs.Len())
	assert.Equal(t, 0, f.meta.Len())
}

func TestService_RejectsUnsafeIDs(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	for _, id := range []string{"", "../etc/passwd", "a/b.png", `..\x.png`, ".env"} {
		_, _, err := f.svc.Get(ctx, id)
		assert.ErrorIs(t, err, minimage.ErrInvalidArgument, "get %q", id)
		assert.ErrorIs(t, f.svc.Delete(ctx, id), minimage.ErrInvalidArgument, "delete %q", id)
	}
}

func TestService_UniqueIDs(t *testing.T) {
	f := setupTestService(t)
	const n = 10001

	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		res := f.put(t, nil, "png", 0)
		_, dup := seen[res.ID]
		require.False(t, dup, "duplicate id %s", res.ID)
		seen[res.ID] = struct{}{}
	}
	assert.Equal(t, n, f.meta.Len())
}

func TestService_EndToEndShortLived(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()
	payload := []byte{0x89, 'P', 'N'}

	res := f.put(t, payload, "png", 1)
	assert.Equal(t, payload, f.read(t, res.ID))

	f.clock.Advance(2 * time.Second)
	_, _, err := f.svc.Get(ctx, res.ID)
	assert.ErrorIs(t, err, minimage.ErrNotFound)

	reaped, err := f.svc.Reap(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, reaped.Deleted)
	assert.Equal(t, 0, f.blobs.Len())
}

func TestService_EndToEndNeverExpires(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	res := f.put(t, []byte("keep"), "jpeg", 0)

	f.clock.Advance(100 * 365 * 24 * time.Hour)
	assert.Equal(t, []byte("keep"), f.read(t, res.ID))

	reaped, err := f.svc.Reap(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, reaped.Found)
	assert.Equal(t, 1, f.blobs.Len())
}

func TestService_ParallelPutsAndGets(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()
	const n = 64

	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Put(ctx, minimage.PutRequest{
				Reader:     bytes.NewReader([]byte(fmt.Sprintf("payload-%d", i))),
				Extension:  "png",
				TTLSeconds: 60,
			})
			if assert.NoError(t, err) {
				ids[i] = res.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rc, _, err := f.svc.Get(ctx, ids[i])
			if !assert.NoError(t, err) {
				return
			}
			defer rc.Close()
			data, err := io.ReadAll(rc)
			assert.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("payload-%d", i), string(data))
		}(i)
	}
	wg.Wait()

	snap := f.svc.Metrics().Snapshot()
	assert.Equal(t, int64(n), snap.Uploads)
	assert.Equal(t, int64(n), snap.Downloads)
}

func TestService_GetMissingBlob(t *testing.T) {
	f := setupTestService(t)
	ctx := context.Background()

	// A record whose blob vanished reads as not found, not as a storage failure.
	require.NoError(t, f.meta.Upsert(ctx, minimage.Record{ID: "ghost.png", CreatedAt: f.clock.Now().Unix()}))
	_, _, err := f.svc.Get(ctx, "ghost.png")
	assert.ErrorIs(t, err, minimage.ErrNotFound)
}

// mockBlobStore wraps the memory backend and lets tests fail chosen calls.
type mockBlobStore struct {
	mock.Mock
	*storagememory.Backend
}

func (m *mockBlobStore) Delete(ctx context.Context, id string) error {
	if err := m.Called(ctx, id).Error(0); err != nil {
		return err
	}
	return m.Backend.Delete(ctx, id)
}

func TestService_ReapToleratesPartialFailure(t *testing.T) {
	blobs := &mockBlobStore{Backend: storagememory.New()}
	meta := repomemory.New()
	clock := newFakeClock()

	svc, err := minimage.New(
		minimage.WithMetadataStore(meta),
		minimage.WithBlobStore(blobs),
		minimage.WithClock(clock.Now),
		minimage.WithReapConcurrency(2),
	)
	require.NoError(t, err)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := svc.Put(ctx, minimage.PutRequest{Reader: bytes.NewReader([]byte("x")), Extension: "png", TTLSeconds: 1})
		require.NoError(t, err)
		ids = append(ids, res.ID)
	}

	diskErr := errors.New("disk on fire")
	blobs.On("Delete", mock.Anything, ids[1]).Return(diskErr)
	blobs.On("Delete", mock.Anything, mock.Anything).Return(nil)

	res, err := svc.Reap(ctx, clock.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Found)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []string{ids[1]}, res.FailedIDs)

	// The failed id keeps its record so the next pass retries it.
	_, err = meta.Get(ctx, ids[1])
	require.NoError(t, err)
	_, err = meta.Get(ctx, ids[0])
	assert.ErrorIs(t, err, minimage.ErrNotFound)

	snap := svc.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.Reaped)
	assert.Equal(t, int64(1), snap.ReapFailures)
	blobs.AssertNumberOfCalls(t, "Delete", 3)
}

// failingMetadataStore fails every call with a fixed error.
type failingMetadataStore struct {
	*repomemory.Repository
	err error
}

func (s *failingMetadataStore) Upsert(ctx context.Context, rec minimage.Record) error {
	return s.err
}

func (s *failingMetadataStore) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	return nil, s.err
}

func TestService_StorageFailures(t *testing.T) {
	boom := errors.New("database is locked")
	meta := &failingMetadataStore{Repository: repomemory.New(), err: boom}
	blobs := storagememory.New()

	svc, err := minimage.New(minimage.WithMetadataStore(meta), minimage.WithBlobStore(blobs))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.Put(ctx, minimage.PutRequest{Reader: bytes.NewReader([]byte("x")), Extension: "png"})
	assert.ErrorIs(t, err, minimage.ErrStorageFailure)
	assert.ErrorIs(t, err, boom)

	var storageErr *minimage.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "metadata", storageErr.Backend)
	assert.Equal(t, "upsert", storageErr.Op)
	// The blob written before the failed upsert is orphaned, not rolled back.
	assert.Equal(t, 1, blobs.Len())

	_, err = svc.Reap(ctx, time.Now())
	assert.ErrorIs(t, err, minimage.ErrStorageFailure)
}

package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tendant/minimage/pkg/minimage"
)

const defaultPrefix = "minimage:"

// Repository implements minimage.MetadataStore on Redis.
//
// Each record is a hash at <prefix>rec:<id>. Records with a positive ttl are
// also members of the sorted set <prefix>expiry, scored by their expiry
// time, so ListExpired is a single range query.
type Repository struct {
	client redis.UniversalClient
	prefix string
	owned  bool
}

// New wraps an existing client. An empty prefix uses "minimage:".
func New(client redis.UniversalClient, prefix string) (*Repository, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultPrefix
	}
	return &Repository{client: client, prefix: prefix}, nil
}

// Connect dials redisURL (redis://[:password@]host:port/db) and pings it.
// Close shuts the client down.
func Connect(ctx context.Context, redisURL, prefix string) (*Repository, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	r, err := New(client, prefix)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	r.owned = true
	return r, nil
}

func (r *Repository) recordKey(id string) string {
	return r.prefix + "rec:" + id
}

func (r *Repository) expiryKey() string {
	return r.prefix + "expiry"
}

func (r *Repository) Upsert(ctx context.Context, rec minimage.Record) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		key := r.recordKey(rec.ID)
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "created_at", rec.CreatedAt, "ttl_seconds", rec.TTLSeconds)
		if rec.TTLSeconds > 0 {
			pipe.ZAdd(ctx, r.expiryKey(), redis.Z{
				Score:  float64(rec.CreatedAt + rec.TTLSeconds),
				Member: rec.ID,
			})
		} else {
			pipe.ZRem(ctx, r.expiryKey(), rec.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert image %s: %w", rec.ID, err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*minimage.Record, error) {
	fields, err := r.client.HGetAll(ctx, r.recordKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get image %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", minimage.ErrNotFound, id)
	}

	createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt created_at for %s: %w", id, err)
	}
	ttl, err := strconv.ParseInt(fields["ttl_seconds"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt ttl_seconds for %s: %w", id, err)
	}

	return &minimage.Record{ID: id, CreatedAt: createdAt, TTLSeconds: ttl}, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.recordKey(id))
		pipe.ZRem(ctx, r.expiryKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete image %s: %w", id, err)
	}
	return nil
}

func (r *Repository) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired images: %w", err)
	}
	return ids, nil
}

// Close closes the client if Connect created it
func (r *Repository) Close() error {
	if r.owned {
		return r.client.Close()
	}
	return nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/minimage/pkg/minimage"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements minimage.MetadataStore using PostgreSQL
type Repository struct {
	db   DBTX
	pool *pgxpool.Pool // set when the repository owns the pool
}

// New creates a new PostgreSQL repository. The caller keeps ownership of db.
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// Connect opens a pool for databaseURL, optionally pinning search_path to
// schema, and applies the schema. Close releases the pool.
func Connect(ctx context.Context, databaseURL, schema string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	r := &Repository{db: pool, pool: pool}
	if err := r.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

// Migrate creates the images table and its expiry index if missing
func (r *Repository) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS images (
			id TEXT PRIMARY KEY,
			created_at BIGINT NOT NULL,
			ttl_seconds BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_images_expires_at
			ON images ((created_at + ttl_seconds)) WHERE ttl_seconds > 0`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return r.handlePostgresError("migrate", err)
		}
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

func (r *Repository) Upsert(ctx context.Context, rec minimage.Record) error {
	query := `
		INSERT INTO images (id, created_at, ttl_seconds) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			created_at = EXCLUDED.created_at,
			ttl_seconds = EXCLUDED.ttl_seconds`

	if _, err := r.db.Exec(ctx, query, rec.ID, rec.CreatedAt, rec.TTLSeconds); err != nil {
		return r.handlePostgresError("upsert image", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*minimage.Record, error) {
	query := `SELECT id, created_at, ttl_seconds FROM images WHERE id = $1`

	var rec minimage.Record
	err := r.db.QueryRow(ctx, query, id).Scan(&rec.ID, &rec.CreatedAt, &rec.TTLSeconds)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", minimage.ErrNotFound, id)
		}
		return nil, r.handlePostgresError("get image", err)
	}

	return &rec, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM images WHERE id = $1`, id); err != nil {
		return r.handlePostgresError("delete image", err)
	}
	return nil
}

func (r *Repository) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		SELECT id FROM images
		WHERE ttl_seconds > 0 AND created_at + ttl_seconds <= $1`

	rows, err := r.db.Query(ctx, query, now.Unix())
	if err != nil {
		return nil, r.handlePostgresError("list expired images", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close releases the pool if Connect created it
func (r *Repository) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

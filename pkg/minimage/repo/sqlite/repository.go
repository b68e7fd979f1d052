package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tendant/minimage/pkg/minimage"
	_ "modernc.org/sqlite"
)

const schemaVersion = 1

// Repository implements minimage.MetadataStore on an embedded SQLite database
type Repository struct {
	db *sql.DB
}

// Open opens or creates the database file at path. ":memory:" gives a
// private in-process database.
func Open(ctx context.Context, path string) (*Repository, error) {
	if path == "" {
		return nil, errors.New("sqlite: db path required")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	// One connection: SQLite has a single writer, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	repo, err := New(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// New wraps an open database and applies the schema
func New(ctx context.Context, db *sql.DB) (*Repository, error) {
	r := &Repository{db: db}
	if err := r.migrate(ctx); err != nil {
		return nil, fmt.Errorf("sqlite migration failed: %w", err)
	}
	return r, nil
}

func dsn(path string) string {
	pragmas := url.Values{}
	pragmas.Add("_pragma", "busy_timeout(5000)")
	if path != ":memory:" {
		pragmas.Add("_pragma", "journal_mode(WAL)")
	}
	pragmas.Add("_pragma", "synchronous(FULL)")

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + path + sep + pragmas.Encode()
}

func (r *Repository) migrate(ctx context.Context) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
)`); err != nil {
		return err
	}

	var version int
	if err = tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return err
	}

	if version < 1 {
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS images (
	id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	ttl_seconds INTEGER NOT NULL DEFAULT 0
)`,
			`CREATE INDEX IF NOT EXISTS idx_images_expires_at
	ON images(created_at + ttl_seconds) WHERE ttl_seconds > 0`,
		}
		for _, stmt := range stmts {
			if _, err = tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		if _, err = tx.ExecContext(ctx,
			"INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)",
			schemaVersion, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *Repository) Upsert(ctx context.Context, rec minimage.Record) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO images (id, created_at, ttl_seconds) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created_at = excluded.created_at,
			ttl_seconds = excluded.ttl_seconds`,
		rec.ID, rec.CreatedAt, rec.TTLSeconds)
	if err != nil {
		return fmt.Errorf("upsert image %s: %w", rec.ID, err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*minimage.Record, error) {
	rec := minimage.Record{ID: id}
	err := r.db.QueryRowContext(ctx,
		"SELECT created_at, ttl_seconds FROM images WHERE id = ?", id,
	).Scan(&rec.CreatedAt, &rec.TTLSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", minimage.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get image %s: %w", id, err)
	}
	return &rec, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM images WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete image %s: %w", id, err)
	}
	return nil
}

func (r *Repository) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM images
		WHERE ttl_seconds > 0 AND created_at + ttl_seconds <= ?`,
		now.Unix())
	if err != nil {
		return nil, fmt.Errorf("list expired images: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired image: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the database
func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

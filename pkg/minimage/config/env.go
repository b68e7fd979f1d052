package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	s3storage "github.com/tendant/minimage/pkg/minimage/storage/s3"
)

// WithEnv applies environment variable overrides.
//
// Variables (unset ones keep the current value):
//
//	PORT, ENVIRONMENT, LOG_LEVEL
//	MAX_FILE_SIZE_MB, UPLOAD_PASSWORD, ID_STYLE
//	DEFAULT_TTL_SECONDS (or FILE_LIFETIME)
//	CLEANUP_INTERVAL, REAPER_ENABLED (or AUTO_CLEANUP_ENABLED), REAPER_CONCURRENCY
//	METADATA_URL - "memory", "sqlite://path", "postgres://..." or "redis://host:port/db?prefix=..."
//	DB_SCHEMA    - postgres schema
//	STORAGE_URL  - "memory://", "file://dir" or "s3://bucket?region=&endpoint=&prefix=&path_style=&create_bucket="
//	AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_REGION
//	IMAGE_VERSION
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("failed to read environment: %w", err)
		}
		return nil
	}
}

// Describe returns the help text for every environment variable
func Describe() string {
	cfg := defaults()
	text, err := cleanenv.GetDescription(&cfg, nil)
	if err != nil {
		return ""
	}
	return text
}

// MetadataTarget is a parsed METADATA_URL
type MetadataTarget struct {
	Type   string // "memory", "sqlite", "postgres", "redis"
	DSN    string // file path or connection url
	Prefix string // redis key prefix
}

// ParseMetadataURL maps METADATA_URL to a metadata store type
func ParseMetadataURL(raw string) (MetadataTarget, error) {
	switch {
	case raw == "" || raw == "memory" || raw == "memory://":
		return MetadataTarget{Type: "memory"}, nil

	case strings.HasPrefix(raw, "sqlite://"):
		path := strings.TrimPrefix(raw, "sqlite://")
		if path == "" {
			return MetadataTarget{}, fmt.Errorf("sqlite path cannot be empty in METADATA_URL")
		}
		return MetadataTarget{Type: "sqlite", DSN: path}, nil

	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return MetadataTarget{Type: "postgres", DSN: raw}, nil

	case strings.HasPrefix(raw, "redis://"), strings.HasPrefix(raw, "rediss://"):
		u, err := url.Parse(raw)
		if err != nil {
			return MetadataTarget{}, fmt.Errorf("invalid redis METADATA_URL: %w", err)
		}
		q := u.Query()
		prefix := q.Get("prefix")
		q.Del("prefix")
		u.RawQuery = q.Encode()
		return MetadataTarget{Type: "redis", DSN: u.String(), Prefix: prefix}, nil
	}

	return MetadataTarget{}, fmt.Errorf("unsupported METADATA_URL format: %s (use 'memory', 'sqlite://...', 'postgres://...' or 'redis://...')", raw)
}

// StorageTarget is a parsed STORAGE_URL
type StorageTarget struct {
	Type    string // "memory", "fs", "s3"
	BaseDir string
	S3      s3storage.Config
}

func (c *ServerConfig) storageTarget() (StorageTarget, error) {
	raw := c.StorageURL
	switch {
	case raw == "" || raw == "memory" || raw == "memory://":
		return StorageTarget{Type: "memory"}, nil

	case strings.HasPrefix(raw, "file://"):
		path := strings.TrimPrefix(raw, "file://")
		if path == "" {
			return StorageTarget{}, fmt.Errorf("filesystem path cannot be empty in STORAGE_URL")
		}
		return StorageTarget{Type: "fs", BaseDir: path}, nil

	case strings.HasPrefix(raw, "s3://"):
		return c.s3Target(raw)
	}

	return StorageTarget{}, fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', or 's3://...')", raw)
}

// s3Target parses s3://bucket?region=us-east-1&endpoint=http://localhost:9000
func (c *ServerConfig) s3Target(raw string) (StorageTarget, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return StorageTarget{}, fmt.Errorf("invalid S3 STORAGE_URL: %w", err)
	}
	if u.Host == "" {
		return StorageTarget{}, fmt.Errorf("S3 bucket name cannot be empty in STORAGE_URL")
	}

	q := u.Query()
	cfg := s3storage.Config{
		Bucket:          u.Host,
		Region:          c.AWSRegion,
		Prefix:          q.Get("prefix"),
		Endpoint:        q.Get("endpoint"),
		AccessKeyID:     c.AWSAccessKeyID,
		SecretAccessKey: c.AWSSecretAccessKey,
	}
	if region := q.Get("region"); region != "" {
		cfg.Region = region
	}
	if cfg.UsePathStyle, err = queryBool(q, "path_style"); err != nil {
		return StorageTarget{}, err
	}
	if cfg.CreateBucketIfNotExist, err = queryBool(q, "create_bucket"); err != nil {
		return StorageTarget{}, err
	}

	return StorageTarget{Type: "s3", S3: cfg}, nil
}

func queryBool(q url.Values, key string) (bool, error) {
	raw := q.Get(key)
	if raw == "" {
		return false, nil
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for %s in STORAGE_URL: %w", key, err)
	}
	return parsed, nil
}

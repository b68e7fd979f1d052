package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tendant/minimage/pkg/minimage"
	repomemory "github.com/tendant/minimage/pkg/minimage/repo/memory"
	repopg "github.com/tendant/minimage/pkg/minimage/repo/postgres"
	reporedis "github.com/tendant/minimage/pkg/minimage/repo/redis"
	reposqlite "github.com/tendant/minimage/pkg/minimage/repo/sqlite"
	fsstorage "github.com/tendant/minimage/pkg/minimage/storage/fs"
	memorystorage "github.com/tendant/minimage/pkg/minimage/storage/memory"
	s3storage "github.com/tendant/minimage/pkg/minimage/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:                   "5000",
		Environment:            "development",
		LogLevel:               "info",
		MaxFileSizeMB:          10,
		UploadPassword:         "admin123",
		DefaultTTLSeconds:      300,
		CleanupIntervalSeconds: 60,
		ReaperEnabled:          true,
		ReaperConcurrency:      4,
		MetadataURL:            "sqlite://data/minimage.db",
		StorageURL:             "file://uploads",
		IDStyle:                "uuid",
		ImageVersion:           "latest",
		AWSRegion:              "us-east-1",
	}
}

// ServerConfig represents configuration for the minimage server and CLI.
// The env tags are read by WithEnv; variables that are unset leave the
// current value alone.
type ServerConfig struct {
	Port        string `env:"PORT" env-description:"HTTP listen port"`
	Environment string `env:"ENVIRONMENT" env-description:"development, production or testing"`
	LogLevel    string `env:"LOG_LEVEL" env-description:"debug, info, warn or error"`

	// Upload policy
	MaxFileSizeMB     int64  `env:"MAX_FILE_SIZE_MB" env-description:"largest accepted upload in megabytes"`
	UploadPassword    string `env:"UPLOAD_PASSWORD" env-description:"shared secret for upload and delete"`
	DefaultTTLSeconds int64  `env:"DEFAULT_TTL_SECONDS,FILE_LIFETIME" env-description:"lifetime of uploads without expires_in, 0 keeps forever"`
	IDStyle           string `env:"ID_STYLE" env-description:"uuid or timestamp"`

	// Reaper
	CleanupIntervalSeconds int  `env:"CLEANUP_INTERVAL" env-description:"seconds between reap passes"`
	ReaperEnabled          bool `env:"REAPER_ENABLED,AUTO_CLEANUP_ENABLED" env-description:"run the background reaper in serve"`
	ReaperConcurrency      int  `env:"REAPER_CONCURRENCY" env-description:"ids reclaimed in parallel per pass"`

	// Stores
	MetadataURL string `env:"METADATA_URL" env-description:"sqlite://path, postgres://..., redis://... or memory"`
	DBSchema    string `env:"DB_SCHEMA" env-description:"postgres schema for the images table"`
	StorageURL  string `env:"STORAGE_URL" env-description:"file://dir, s3://bucket?region=&endpoint=&prefix=&path_style= or memory://"`

	// S3 credentials; the region may be overridden per STORAGE_URL
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	AWSRegion          string `env:"AWS_REGION"`

	ImageVersion string `env:"IMAGE_VERSION" env-description:"version reported by the index page"`
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	switch c.Environment {
	case "development", "production", "testing":
	default:
		return fmt.Errorf("environment must be development, production or testing, got: %s", c.Environment)
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	if c.MaxFileSizeMB <= 0 {
		return fmt.Errorf("max_file_size_mb must be positive, got: %d", c.MaxFileSizeMB)
	}
	if c.UploadPassword == "" {
		return errors.New("upload_password is required")
	}
	if c.DefaultTTLSeconds < 0 {
		return fmt.Errorf("default ttl must be >= 0, got: %d", c.DefaultTTLSeconds)
	}
	if c.DefaultTTLSeconds > minimage.MaxTTLSeconds {
		return fmt.Errorf("default ttl must be <= %d, got: %d", minimage.MaxTTLSeconds, c.DefaultTTLSeconds)
	}
	if c.IDStyle != "uuid" && c.IDStyle != "timestamp" {
		return fmt.Errorf("id_style must be 'uuid' or 'timestamp', got: %s", c.IDStyle)
	}

	if c.CleanupIntervalSeconds <= 0 {
		return fmt.Errorf("cleanup_interval must be positive, got: %d", c.CleanupIntervalSeconds)
	}
	if c.ReaperConcurrency < 1 {
		return fmt.Errorf("reaper_concurrency must be at least 1, got: %d", c.ReaperConcurrency)
	}

	if _, err := ParseMetadataURL(c.MetadataURL); err != nil {
		return err
	}
	if _, err := c.storageTarget(); err != nil {
		return err
	}

	return nil
}

// SlogLevel parses LogLevel
func (c *ServerConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// MaxUploadBytes is the upload limit in bytes
func (c *ServerConfig) MaxUploadBytes() int64 {
	return c.MaxFileSizeMB * 1024 * 1024
}

// CleanupInterval is the time between reap passes
func (c *ServerConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}

// BuildService creates the metadata store, blob store and service described
// by the configuration. The returned closer releases the metadata store.
func (c *ServerConfig) BuildService(ctx context.Context, logger *slog.Logger) (minimage.Service, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}

	meta, err := c.BuildMetadataStore(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build metadata store: %w", err)
	}

	blobs, err := c.BuildBlobStore(ctx)
	if err != nil {
		_ = meta.Close()
		return nil, nil, fmt.Errorf("failed to build blob store: %w", err)
	}

	options := []minimage.Option{
		minimage.WithMetadataStore(meta),
		minimage.WithBlobStore(blobs),
		minimage.WithLogger(logger),
		minimage.WithReapConcurrency(c.ReaperConcurrency),
	}
	if c.IDStyle == "timestamp" {
		options = append(options, minimage.WithIDGenerator(minimage.NewTimestampGenerator(time.Now)))
	}

	svc, err := minimage.New(options...)
	if err != nil {
		_ = meta.Close()
		return nil, nil, err
	}
	return svc, meta.Close, nil
}

// BuildReaper creates a reaper for svc using the configured interval
func (c *ServerConfig) BuildReaper(svc minimage.Service, logger *slog.Logger) *minimage.Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return minimage.NewReaper(svc,
		minimage.WithInterval(c.CleanupInterval()),
		minimage.WithReaperLogger(logger),
	)
}

// BuildMetadataStore opens the metadata store named by MetadataURL
func (c *ServerConfig) BuildMetadataStore(ctx context.Context) (minimage.MetadataStore, error) {
	target, err := ParseMetadataURL(c.MetadataURL)
	if err != nil {
		return nil, err
	}

	switch target.Type {
	case "memory":
		return repomemory.New(), nil
	case "sqlite":
		repo, err := reposqlite.Open(ctx, target.DSN)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "postgres":
		repo, err := repopg.Connect(ctx, target.DSN, c.DBSchema)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "redis":
		repo, err := reporedis.Connect(ctx, target.DSN, target.Prefix)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported metadata store type: %s", target.Type)
	}
}

// BuildBlobStore creates the blob store named by StorageURL
func (c *ServerConfig) BuildBlobStore(ctx context.Context) (minimage.BlobStore, error) {
	target, err := c.storageTarget()
	if err != nil {
		return nil, err
	}

	switch target.Type {
	case "memory":
		return memorystorage.New(), nil
	case "fs":
		backend, err := fsstorage.New(fsstorage.Config{BaseDir: target.BaseDir})
		if err != nil {
			return nil, err
		}
		return backend, nil
	case "s3":
		backend, err := s3storage.New(ctx, target.S3)
		if err != nil {
			return nil, err
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", target.Type)
	}
}

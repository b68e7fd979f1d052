package config

import (
	"fmt"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithLogLevel sets the slog level name
func WithLogLevel(level string) Option {
	return func(c *ServerConfig) error {
		c.LogLevel = level
		return nil
	}
}

// WithMetadataURL selects the metadata store, see ParseMetadataURL
func WithMetadataURL(raw string) Option {
	return func(c *ServerConfig) error {
		if _, err := ParseMetadataURL(raw); err != nil {
			return err
		}
		c.MetadataURL = raw
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithStorageURL selects the blob store: memory://, file://dir or s3://bucket?...
func WithStorageURL(raw string) Option {
	return func(c *ServerConfig) error {
		c.StorageURL = raw
		return nil
	}
}

// WithUploadPassword sets the shared secret required by upload and delete
func WithUploadPassword(password string) Option {
	return func(c *ServerConfig) error {
		if password == "" {
			return fmt.Errorf("upload password cannot be empty")
		}
		c.UploadPassword = password
		return nil
	}
}

// WithMaxFileSizeMB sets the upload size limit
func WithMaxFileSizeMB(mb int64) Option {
	return func(c *ServerConfig) error {
		if mb <= 0 {
			return fmt.Errorf("max file size must be positive, got: %d", mb)
		}
		c.MaxFileSizeMB = mb
		return nil
	}
}

// WithDefaultTTL sets the lifetime applied when an upload names none; 0 keeps forever
func WithDefaultTTL(seconds int64) Option {
	return func(c *ServerConfig) error {
		if seconds < 0 {
			return fmt.Errorf("default ttl must be >= 0, got: %d", seconds)
		}
		c.DefaultTTLSeconds = seconds
		return nil
	}
}

// WithReaper configures the background reaper
func WithReaper(enabled bool, intervalSeconds, concurrency int) Option {
	return func(c *ServerConfig) error {
		if intervalSeconds <= 0 {
			return fmt.Errorf("cleanup interval must be positive, got: %d", intervalSeconds)
		}
		if concurrency < 1 {
			return fmt.Errorf("reaper concurrency must be at least 1, got: %d", concurrency)
		}
		c.ReaperEnabled = enabled
		c.CleanupIntervalSeconds = intervalSeconds
		c.ReaperConcurrency = concurrency
		return nil
	}
}

// WithIDStyle selects "uuid" or "timestamp" ids
func WithIDStyle(style string) Option {
	return func(c *ServerConfig) error {
		if style != "uuid" && style != "timestamp" {
			return fmt.Errorf("id style must be 'uuid' or 'timestamp', got: %s", style)
		}
		c.IDStyle = style
		return nil
	}
}

// WithImageVersion sets the version reported by the index page
func WithImageVersion(version string) Option {
	return func(c *ServerConfig) error {
		c.ImageVersion = version
		return nil
	}
}

package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/tendant/minimage/pkg/minimage"
)

const tempDirName = ".tmp"

// Backend is a filesystem implementation of the minimage.BlobStore interface.
// Blobs are flat files named by id directly under the base directory.
type Backend struct {
	baseDir string
	tempDir string
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory for storing files
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	baseDir, err := filepath.Abs(config.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}

	tempDir := filepath.Join(baseDir, tempDirName)
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{
		baseDir: baseDir,
		tempDir: tempDir,
	}, nil
}

// BaseDir returns the absolute directory holding the blobs
func (b *Backend) BaseDir() string {
	return b.baseDir
}

func (b *Backend) path(id string) (string, error) {
	if err := minimage.ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(b.baseDir, id), nil
}

// Write stores the blob. Data lands in a temp file first and is renamed into
// place, so a blob is either complete or absent.
func (b *Backend) Write(ctx context.Context, id string, reader io.Reader) (int64, error) {
	filePath, err := b.path(id)
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(b.tempDir, uuid.NewString())
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		return 0, fmt.Errorf("failed to commit file: %w", err)
	}
	committed = true

	return n, nil
}

// Read opens the blob for reading
func (b *Backend) Read(ctx context.Context, id string) (io.ReadCloser, error) {
	filePath, err := b.path(id)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", minimage.ErrNotFound, id)
	} else if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Delete removes the blob; a missing file is not an error
func (b *Backend) Delete(ctx context.Context, id string) error {
	filePath, err := b.path(id)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Exists reports whether the blob file is present
func (b *Backend) Exists(ctx context.Context, id string) (bool, error) {
	filePath, err := b.path(id)
	if err != nil {
		return false, err
	}

	info, err := os.Stat(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to get file info: %w", err)
	}
	return info.Mode().IsRegular(), nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrS3NotConfigured is returned when S3 operations are attempted
	// without proper configuration.
	ErrS3NotConfigured = errors.New("S3 storage is not configured")
	// ErrInvalidPath is returned when a relative path leaves the storage root.
	ErrInvalidPath = errors.New("path escapes storage root")
)

// LocalStorage implements Storage on local disk. It does not support S3
// uploads; see S3Storage.
type LocalStorage struct {
	tempDir string
}

// NewLocalStorage creates a new LocalStorage rooted at tempDir.
// If tempDir is empty, <os.TempDir()>/audiocut is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(tempDir string) (*LocalStorage, error) {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "audiocut")
	}

	if err := os.MkdirAll(tempDir, 0750); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	return &LocalStorage{tempDir: tempDir}, nil
}

// TempDir returns the storage root.
func (s *LocalStorage) TempDir() string {
	return s.tempDir
}

// SaveTemp saves data to a file named name_<random> and returns its path.
func (s *LocalStorage) SaveTemp(ctx context.Context, name string, data io.Reader) (string, error) {
	if err := ctxErr(ctx); err != nil {
		return "", err
	}

	f, err := os.CreateTemp(s.tempDir, name+"_*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	return writeAndClose(f, data)
}

// SaveFile writes data to tempDir/relPath, creating parent directories.
// An existing file is replaced.
func (s *LocalStorage) SaveFile(ctx context.Context, relPath string, data io.Reader) (string, error) {
	if err := ctxErr(ctx); err != nil {
		return "", err
	}

	clean := filepath.Clean(relPath)
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, relPath)
	}

	path := filepath.Join(s.tempDir, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}

	f, err := os.Create(path) // #nosec G304 - path is confined to tempDir above
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}

	return writeAndClose(f, data)
}

// LoadTemp opens a stored file.
// The caller is responsible for closing the returned ReadCloser.
func (s *LocalStorage) LoadTemp(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	f, err := os.Open(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	return f, nil
}

// CleanupTemp removes the given paths in order. Directories are removed
// only when empty, so callers list files before their directory.
// Missing paths are ignored and the first error is returned.
func (s *LocalStorage) CleanupTemp(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		if err := ctxErr(ctx); err != nil {
			return err
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove %s: %w", p, err)
			}
		}
	}
	return firstErr
}

// UploadToS3 is not supported by LocalStorage and returns ErrS3NotConfigured.
func (s *LocalStorage) UploadToS3(_ context.Context, _, _ string, _ io.Reader) (string, error) {
	return "", ErrS3NotConfigured
}

func writeAndClose(f *os.File, data io.Reader) (string, error) {
	fileName := f.Name()
	if _, err := io.Copy(f, data); err != nil {
		_ = f.Close()
		_ = os.Remove(fileName)
		return "", fmt.Errorf("write file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(fileName)
		return "", fmt.Errorf("close file: %w", err)
	}

	return fileName, nil
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
		return nil
	}
}

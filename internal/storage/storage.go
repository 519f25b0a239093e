// Package storage keeps uploaded sources and exported parts on local disk
// and optionally delivers parts to S3.
package storage

import (
	"context"
	"io"
)

// Storage is the file store used by split jobs.
type Storage interface {
	// SaveTemp saves data to a uniquely named file and returns its path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// SaveFile writes data to relPath under the storage root, keeping the
	// exact file name, and returns the absolute path.
	SaveFile(ctx context.Context, relPath string, data io.Reader) (path string, err error)

	// LoadTemp opens a stored file. The caller closes the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the given files and empty directories.
	// It continues cleanup even if some paths fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// UploadToS3 uploads data to S3 and returns the public URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key, contentType string, data io.Reader) (url string, err error)
}

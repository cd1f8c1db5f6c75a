// Package storage provides the file storage used around video construction:
// uniquely named temp files for concat manifests, and publication of finished
// artifacts to S3.
package storage

import (
	"context"
	"io"
)

// Storage defines temp file handling and optional publication of results.
type Storage interface {
	// SaveTemp saves data to a new uniquely named temp file and returns its path.
	// The name parameter is used as a prefix for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// Open opens a local file for reading.
	// The caller is responsible for closing the returned ReadCloser.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified temporary files.
	// It continues cleanup even if some files fail to delete.
	CleanupTemp(ctx context.Context, paths []string) error

	// Publish uploads a finished artifact under key and returns its URL.
	// Returns ErrPublishNotConfigured if no remote store is configured.
	Publish(ctx context.Context, key string, data io.Reader) (url string, err error)

	// CanPublish reports whether Publish is backed by a remote store.
	CanPublish() bool
}

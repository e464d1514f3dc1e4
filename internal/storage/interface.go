package storage

import (
	"context"
	"io"
)

// ObjectStorage is the subset of an S3-compatible bucket the artifact archive needs.
type ObjectStorage interface {
	// Upload stores size bytes from reader under key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// GetURL returns the URL an operator can open for key.
	GetURL(key string) string

	// Exists reports whether key is already stored.
	Exists(ctx context.Context, key string) (bool, error)
}

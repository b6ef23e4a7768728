package storage

import (
	"context"
	"io"
)

// ObjectStorage is the bucket the rendered assets are mirrored to.
type ObjectStorage interface {
	// Upload writes an object.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// GetURL returns the public URL of an object.
	GetURL(key string) string

	// Delete removes an object.
	Delete(ctx context.Context, key string) error

	// List returns every key below prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Package storage defines the object-store abstraction used for archived files.
// Implementations live in the local (filesystem), gcs (Google Cloud Storage)
// and memory (tests) subpackages.
package storage

import (
	"context"
	"io"
)

// ObjectStore writes one object under a store-relative path and returns its URI.
type ObjectStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Package objectstore stores rendered artifacts as blobs addressed by
// path-like keys and exposes a stable public URL for each key.
package objectstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for keys that hold no object
var ErrNotFound = errors.New("object not found")

// ErrInvalidKey is returned for empty keys or keys escaping the store root
var ErrInvalidKey = errors.New("invalid object key")

// Object is a stored blob with its content type
type Object struct {
	Key         string
	ContentType string
	Data        []byte
}

// Store is the object store contract used by the dedup cache
type Store interface {
	// Exists is a metadata-only probe.
	Exists(ctx context.Context, key string) (bool, error)
	// Put writes data under key, replacing any previous object.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get reads the object stored under key.
	Get(ctx context.Context, key string) (*Object, error)
	// URL returns the public URL of key. It does not check existence.
	URL(key string) string
}

// Package dedup maps (logical id, job type) pairs to stable artifact
// locations so identical render requests can skip rendering.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/cuongbtq/docqueue/internal/objectstore"
)

const (
	maxSegmentLen = 64
	hashLen       = 16
	uploadsPrefix = "uploads"
)

// Result describes a cached artifact
type Result struct {
	Found bool   `json:"found"`
	URL   string `json:"url,omitempty"`
	Key   string `json:"key,omitempty"`
}

// Cache is the deduplication cache in front of an object store
type Cache struct {
	store  objectstore.Store
	logger *slog.Logger
}

// New creates a Cache backed by store
func New(store objectstore.Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, logger: logger}
}

// BuildKey returns {namespace}/{jobType}/{normalized logicalID}-{hash}.
// The hash covers the raw inputs so ids that normalize to the same
// segment still map to distinct keys.
func BuildKey(logicalID, jobType, namespace string) string {
	sum := sha256.Sum256([]byte(logicalID + "\x00" + jobType))
	digest := hex.EncodeToString(sum[:])[:hashLen]

	return fmt.Sprintf("%s/%s/%s-%s",
		normalize(namespace), normalize(jobType), normalize(logicalID), digest)
}

// Exists probes the object store for the deterministic key. Any probe
// error is logged and reported as a miss.
func (c *Cache) Exists(ctx context.Context, logicalID, jobType, namespace string) Result {
	if logicalID == "" || jobType == "" {
		return Result{}
	}

	key := BuildKey(logicalID, jobType, namespace)
	ok, err := c.store.Exists(ctx, key)
	if err != nil {
		c.logger.Warn("Dedup cache probe failed, treating as miss",
			slog.String("cache_key", key),
			slog.String("error", err.Error()),
		)
		return Result{}
	}
	if !ok {
		return Result{}
	}
	return Result{Found: true, URL: c.store.URL(key), Key: key}
}

// Store writes data to the deterministic key when both logicalID and
// jobType are set, overwriting earlier renders. Otherwise it writes to a
// fresh unique key under {namespace}/uploads.
func (c *Cache) Store(ctx context.Context, data []byte, displayName, namespace, logicalID, jobType string) (Result, error) {
	var key string
	if logicalID != "" && jobType != "" {
		key = BuildKey(logicalID, jobType, namespace)
	} else {
		name := normalize(displayName)
		if name == "" {
			name = "artifact"
		}
		key = fmt.Sprintf("%s/%s/%s-%s", normalize(namespace), uploadsPrefix, uuid.NewString(), name)
	}

	contentType := mimetype.Detect(data).String()
	if err := c.store.Put(ctx, key, data, contentType); err != nil {
		return Result{}, fmt.Errorf("failed to store artifact %s: %w", key, err)
	}

	return Result{Found: true, URL: c.store.URL(key), Key: key}, nil
}

// normalize keeps [A-Za-z0-9._-], replaces every other rune with '_' and
// truncates to maxSegmentLen bytes. Pure-dot segments are rewritten so a
// key never contains "." or ".." path elements.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= maxSegmentLen {
			break
		}
	}

	out := b.String()
	if len(out) > maxSegmentLen {
		out = out[:maxSegmentLen]
	}
	if strings.Trim(out, ".") == "" && out != "" {
		out = strings.Repeat("_", len(out))
	}
	return out
}

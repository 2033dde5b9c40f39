package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const metaSuffix = ".meta.json"

type objectMeta struct {
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
}

// Local is a filesystem-backed Store rooted at a directory
type Local struct {
	root    string
	baseURL string
	logger  *slog.Logger
}

// NewLocal creates the root directory if needed and returns a Local store
func NewLocal(root, publicBaseURL string, logger *slog.Logger) (*Local, error) {
	if root == "" {
		return nil, fmt.Errorf("object store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create object store root: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		root:    root,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		logger:  logger,
	}, nil
}

// Exists reports whether an object is stored under key
func (l *Local) Exists(_ context.Context, key string) (bool, error) {
	p, err := l.resolve(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return info.Mode().IsRegular(), nil
}

// Put writes data atomically: a temp file in the target directory is renamed into place
func (l *Local) Put(_ context.Context, key string, data []byte, contentType string) error {
	p, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	if err := writeAtomic(p, data); err != nil {
		return err
	}

	meta, err := json.Marshal(objectMeta{ContentType: contentType, Size: len(data)})
	if err != nil {
		return fmt.Errorf("failed to encode object metadata: %w", err)
	}
	if err := writeAtomic(p+metaSuffix, meta); err != nil {
		return err
	}

	l.logger.Debug("Object stored",
		slog.String("key", key),
		slog.Int("size", len(data)),
		slog.String("content_type", contentType),
	)
	return nil
}

// Get reads an object and its recorded content type
func (l *Local) Get(_ context.Context, key string) (*Object, error) {
	p, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	obj := &Object{Key: key, Data: data, ContentType: "application/octet-stream"}
	if raw, err := os.ReadFile(p + metaSuffix); err == nil {
		var meta objectMeta
		if err := json.Unmarshal(raw, &meta); err == nil && meta.ContentType != "" {
			obj.ContentType = meta.ContentType
		}
	}
	return obj, nil
}

// URL joins the public base URL with the escaped key
func (l *Local) URL(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return l.baseURL + "/" + strings.Join(segments, "/")
}

// resolve maps a key to a path under root, rejecting traversal
func (l *Local) resolve(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, metaSuffix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := path.Clean(key)
	if clean != key || clean == "." || strings.HasPrefix(clean, "../") || clean == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(l.root, filepath.FromSlash(clean)), nil
}

func writeAtomic(p string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close object: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move object into place: %w", err)
	}
	return nil
}

package document

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Renderer turns a job payload into output bytes
type Renderer interface {
	Render(ctx context.Context, jobType string, payload json.RawMessage) ([]byte, error)
}

// RendererFunc adapts a function to Renderer
type RendererFunc func(ctx context.Context, jobType string, payload json.RawMessage) ([]byte, error)

// Render implements Renderer
func (f RendererFunc) Render(ctx context.Context, jobType string, payload json.RawMessage) ([]byte, error) {
	return f(ctx, jobType, payload)
}

const maxErrorBody = 512

type renderRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// HTTPRenderer calls an external render service
type HTTPRenderer struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// HTTPRendererConfig holds HTTP renderer configuration
type HTTPRendererConfig struct {
	Endpoint string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// NewHTTPRenderer creates a renderer posting to cfg.Endpoint
func NewHTTPRenderer(cfg HTTPRendererConfig) *HTTPRenderer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPRenderer{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger,
	}
}

// Render posts {type, payload} and returns the response body
func (r *HTTPRenderer) Render(ctx context.Context, jobType string, payload json.RawMessage) ([]byte, error) {
	body, err := json.Marshal(renderRequest{Type: jobType, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("render service returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read render response: %w", err)
	}

	r.logger.Debug("Render request completed",
		slog.String("job_type", jobType),
		slog.Int("bytes", len(out)),
		slog.Duration("duration", time.Since(start)),
	)
	return out, nil
}

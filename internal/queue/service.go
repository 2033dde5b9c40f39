// Package queue is the entry point for submitting and tracking render
// jobs. It composes the payload registry, the dedup cache, the job store
// and the worker pool.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/docqueue/internal/dedup"
	"github.com/cuongbtq/docqueue/internal/document"
	"github.com/cuongbtq/docqueue/internal/domain"
	"github.com/cuongbtq/docqueue/internal/worker"
)

// JobStore is the subset of the job store used by the service
type JobStore interface {
	CreateJob(ctx context.Context, in domain.NewJob) (*domain.Job, error)
	CreateCompleted(ctx context.Context, in domain.NewJob, downloadURL, cacheKey string) (*domain.Job, error)
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	Cancel(ctx context.Context, id string) (*domain.Job, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Job, error)
	QueueDepths(ctx context.Context) (map[domain.Priority]int64, error)
}

// DedupCache probes for existing artifacts
type DedupCache interface {
	Exists(ctx context.Context, logicalID, jobType, namespace string) dedup.Result
}

// Pool is the worker pool lifecycle
type Pool interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
	Stats() worker.Stats
}

// Request is a job submission
type Request struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Priority domain.Priority `json:"priority"`
	OwnerID  string          `json:"ownerId,omitempty"`
}

// Stats combines worker counters with queue depths
type Stats struct {
	Worker               worker.Stats              `json:"worker"`
	Queued               int64                     `json:"queued"`
	QueueDepthByPriority map[domain.Priority]int64 `json:"queueDepthByPriority"`
}

// Config holds service configuration
type Config struct {
	Logger    *slog.Logger
	Store     JobStore
	Cache     DedupCache
	// Pool may be nil when workers run in a separate process.
	Pool      Pool
	Registry  *document.Registry
	Namespace string
	// AutoStart starts the pool on the first submission that needs work.
	AutoStart bool
}

// Service is the queue facade
type Service struct {
	logger    *slog.Logger
	store     JobStore
	cache     DedupCache
	pool      Pool
	registry  *document.Registry
	namespace string
	autoStart bool
}

// NewService creates a new queue service
func NewService(cfg *Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	registry := cfg.Registry
	if registry == nil {
		registry = document.NewRegistry()
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = worker.DefaultNamespace
	}
	return &Service{
		logger:    logger,
		store:     cfg.Store,
		cache:     cfg.Cache,
		pool:      cfg.Pool,
		registry:  registry,
		namespace: namespace,
		autoStart: cfg.AutoStart,
	}
}

// Queue validates and submits a job. When the payload names a logical id
// whose artifact is already cached, the job is recorded as COMPLETED
// without rendering.
func (s *Service) Queue(ctx context.Context, req Request) (*domain.Job, error) {
	if req.Priority == 0 {
		req.Priority = domain.PriorityNormal
	}
	if !req.Priority.Valid() {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidPriority, req.Priority)
	}

	desc, err := s.registry.Validate(req.Type, req.Payload)
	if err != nil {
		return nil, err
	}

	in := domain.NewJob{
		Type:      req.Type,
		Payload:   req.Payload,
		Priority:  req.Priority,
		OwnerID:   req.OwnerID,
		LogicalID: desc.LogicalID,
		Title:     desc.Title,
	}

	if desc.LogicalID != "" {
		if hit := s.cache.Exists(ctx, desc.LogicalID, req.Type, s.namespace); hit.Found {
			job, err := s.store.CreateCompleted(ctx, in, hit.URL, hit.Key)
			if err != nil {
				return nil, fmt.Errorf("failed to record cached job: %w", err)
			}
			s.logger.Info("Dedup cache hit, skipping render",
				slog.String("job_id", job.ID),
				slog.String("logical_id", desc.LogicalID),
				slog.String("cache_key", hit.Key),
			)
			return job, nil
		}
	}

	job, err := s.store.CreateJob(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if s.autoStart && s.pool != nil && !s.pool.Running() {
		if err := s.pool.Start(ctx); err != nil {
			s.logger.Error("Failed to start worker pool",
				slog.String("error", err.Error()),
			)
		}
	}

	return job, nil
}

// Status returns the current job record
func (s *Service) Status(ctx context.Context, id string) (*domain.Job, error) {
	return s.store.GetJob(ctx, id)
}

// Cancel cancels a job that has not completed
func (s *Service) Cancel(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.store.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Job cancelled", slog.String("job_id", id))
	return job, nil
}

// ListForOwner returns the owner's jobs, newest first
func (s *Service) ListForOwner(ctx context.Context, ownerID string) ([]*domain.Job, error) {
	return s.store.ListByOwner(ctx, ownerID)
}

// Stats returns worker counters and queue depths
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	depths, err := s.store.QueueDepths(ctx)
	if err != nil {
		return Stats{}, err
	}

	var queued int64
	for _, n := range depths {
		queued += n
	}
	stats := Stats{
		Queued:               queued,
		QueueDepthByPriority: depths,
	}
	if s.pool != nil {
		stats.Worker = s.pool.Stats()
	}
	return stats, nil
}

// Start starts the worker pool; no-op when running or when the service
// only submits jobs
func (s *Service) Start(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Start(ctx)
}

// Stop stops the worker pool; no-op when stopped
func (s *Service) Stop(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Stop(ctx)
}

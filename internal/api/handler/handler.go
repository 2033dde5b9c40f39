package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/docqueue/internal/archive"
	"github.com/cuongbtq/docqueue/internal/domain"
	"github.com/cuongbtq/docqueue/internal/objectstore"
	"github.com/cuongbtq/docqueue/internal/queue"
)

// JobService is the queue facade used by the handlers
type JobService interface {
	Queue(ctx context.Context, req queue.Request) (*domain.Job, error)
	Status(ctx context.Context, id string) (*domain.Job, error)
	Cancel(ctx context.Context, id string) (*domain.Job, error)
	ListForOwner(ctx context.Context, ownerID string) ([]*domain.Job, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// HistoryStore lists archived jobs
type HistoryStore interface {
	List(ctx context.Context, filter archive.Filter) (*archive.Page, error)
}

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Jobs      JobService
	History   HistoryStore // nil when the archive is disabled
	Artifacts objectstore.Store
	Checks    map[string]HealthChecker
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	jobs      JobService
	history   HistoryStore
	artifacts objectstore.Store
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		jobs:      deps.Jobs,
		history:   deps.History,
		artifacts: deps.Artifacts,
	}
}

// HealthCheckFunc adapts a ping function to HealthChecker
type HealthCheckFunc func(ctx context.Context) error

func (f HealthCheckFunc) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

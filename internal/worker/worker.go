// Package worker runs the bounded pool that turns queued jobs into
// completed or failed jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/docqueue/internal/dedup"
	"github.com/cuongbtq/docqueue/internal/document"
	"github.com/cuongbtq/docqueue/internal/domain"
	"github.com/cuongbtq/docqueue/internal/jobstore"
)

// Defaults and limits
const (
	DefaultMaxConcurrentWorkers = 3
	MaxConcurrentWorkersLimit   = 5
	DefaultPollInterval         = time.Second
	DefaultProcessingTimeout    = 30 * time.Minute
	DefaultShutdownGracePeriod  = 60 * time.Second
	DefaultMaxRetries           = 3
	DefaultNamespace            = "documents"
)

// ErrShutdownTimeout is returned by Stop when workers were abandoned
var ErrShutdownTimeout = errors.New("worker pool shutdown grace period elapsed")

// JobStore is the subset of the job store the pool needs
type JobStore interface {
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	UpdateStatus(ctx context.Context, id string, status domain.Status, upd jobstore.StatusUpdate) (*domain.Job, error)
	DequeueNext(ctx context.Context) (string, error)
	Requeue(ctx context.Context, id string, p domain.Priority) error
	ReleaseClaim(ctx context.Context, id string) error
	ReclaimStuck(ctx context.Context) (int, error)
}

// ArtifactCache persists rendered output
type ArtifactCache interface {
	Store(ctx context.Context, data []byte, displayName, namespace, logicalID, jobType string) (dedup.Result, error)
}

// Config holds worker pool configuration
type Config struct {
	Logger               *slog.Logger
	Store                JobStore
	Cache                ArtifactCache
	Renderer             document.Renderer
	MaxConcurrentWorkers int
	PollInterval         time.Duration
	ProcessingTimeout    time.Duration
	ShutdownGracePeriod  time.Duration
	ReclaimInterval      time.Duration
	MaxRetries           int
	Namespace            string
}

// Stats are counters for this process since the pool was created
type Stats struct {
	Active    int   `json:"active"`
	Claimed   int64 `json:"claimed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
}

// run is the state of one Start/Stop cycle
type run struct {
	stopCh   chan struct{}
	loopDone chan struct{}
	wg       sync.WaitGroup
	ctx      context.Context
	abandon  context.CancelFunc
}

// Pool is a fixed-size worker pool polling the job store
type Pool struct {
	logger            *slog.Logger
	store             JobStore
	cache             ArtifactCache
	renderer          document.Renderer
	workerID          string
	maxWorkers        int
	pollInterval      time.Duration
	processingTimeout time.Duration
	gracePeriod       time.Duration
	reclaimInterval   time.Duration
	maxRetries        int
	namespace         string

	mu      sync.Mutex
	current *run
	active  map[uint64]string
	seq     uint64

	claimed   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
}

// New creates a worker pool. Zero values in cfg fall back to defaults and
// MaxConcurrentWorkers is capped at MaxConcurrentWorkersLimit.
func New(cfg *Config) (*Pool, error) {
	if cfg.Store == nil || cfg.Cache == nil || cfg.Renderer == nil {
		return nil, fmt.Errorf("worker pool requires a store, a cache and a renderer")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		store:             cfg.Store,
		cache:             cfg.Cache,
		renderer:          cfg.Renderer,
		workerID:          "worker-" + uuid.NewString()[:8],
		maxWorkers:        cfg.MaxConcurrentWorkers,
		pollInterval:      cfg.PollInterval,
		processingTimeout: cfg.ProcessingTimeout,
		gracePeriod:       cfg.ShutdownGracePeriod,
		reclaimInterval:   cfg.ReclaimInterval,
		maxRetries:        cfg.MaxRetries,
		namespace:         cfg.Namespace,
		active:            make(map[uint64]string),
	}

	if p.maxWorkers <= 0 {
		p.maxWorkers = DefaultMaxConcurrentWorkers
	}
	if p.maxWorkers > MaxConcurrentWorkersLimit {
		p.maxWorkers = MaxConcurrentWorkersLimit
	}
	if p.pollInterval <= 0 {
		p.pollInterval = DefaultPollInterval
	}
	if p.processingTimeout <= 0 {
		p.processingTimeout = DefaultProcessingTimeout
	}
	if p.gracePeriod <= 0 {
		p.gracePeriod = DefaultShutdownGracePeriod
	}
	if p.maxRetries <= 0 {
		p.maxRetries = DefaultMaxRetries
	}
	if p.namespace == "" {
		p.namespace = DefaultNamespace
	}
	p.logger = logger.With(slog.String("worker_id", p.workerID))

	return p, nil
}

// Start reclaims stuck jobs once and starts the scheduling loop.
// Starting a running pool is a no-op.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.current != nil {
		p.mu.Unlock()
		return nil
	}
	r := &run{
		stopCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	// Job work outlives the caller's context; only Stop ends it.
	r.ctx, r.abandon = context.WithCancel(context.WithoutCancel(ctx))
	p.current = r
	p.mu.Unlock()

	p.logger.Info("Starting worker pool",
		slog.Int("max_workers", p.maxWorkers),
		slog.Duration("poll_interval", p.pollInterval),
		slog.Duration("processing_timeout", p.processingTimeout),
		slog.Int("max_retries", p.maxRetries),
	)

	p.reclaim(r.ctx)

	go p.loop(r)
	return nil
}

// Stop halts the scheduling loop and waits up to the grace period for
// active jobs. Jobs still running afterwards are abandoned: they keep
// their PROCESSING status until reclamation. Stopping a stopped pool is a
// no-op.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	r := p.current
	p.current = nil
	p.mu.Unlock()

	if r == nil {
		return nil
	}

	p.logger.Info("Stopping worker pool...", slog.Int("active", p.activeCount()))
	close(r.stopCh)
	<-r.loopDone

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.gracePeriod)
	defer timer.Stop()

	select {
	case <-done:
		r.abandon()
		p.logger.Info("Worker pool stopped")
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	abandoned := p.activeCount()
	r.abandon()
	p.logger.Warn("Abandoning active jobs after grace period",
		slog.Int("abandoned", abandoned),
		slog.Duration("grace_period", p.gracePeriod),
	)
	return fmt.Errorf("%w: %d jobs abandoned", ErrShutdownTimeout, abandoned)
}

// Running reports whether the scheduling loop is active
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

// Stats returns a snapshot of the pool counters
func (p *Pool) Stats() Stats {
	return Stats{
		Active:    p.activeCount(),
		Claimed:   p.claimed.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Retried:   p.retried.Load(),
	}
}

func (p *Pool) activeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

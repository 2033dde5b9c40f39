// Package jobstore keeps job records, priority queues, processing markers and
// status notifications in Redis.
//
// Job records are JSON strings under docqueue:job:{id} with a retention TTL.
// Each priority tier is a List consumed with LPOP, which is the only
// operation that hands a job to a worker. Multiple processes may share the
// same Redis; no in-process locking is needed for claims.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/docqueue/internal/domain"
)

const maxUpdateAttempts = 10

var (
	errNoChange = errors.New("no change")
	errCorrupt  = errors.New("corrupt job record")
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source, used to age jobs in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithRetention overrides the job record TTL.
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// WithReclaimThreshold overrides how old a PROCESSING attempt must be before
// ReclaimStuck fails it. It also sets the processing marker TTL.
func WithReclaimThreshold(d time.Duration) Option {
	return func(s *Store) { s.reclaimThreshold = d }
}

// StatusUpdate carries the optional parts of a status change.
type StatusUpdate struct {
	Error string
	Patch *domain.MetadataPatch
}

// Store is the Redis-backed job store. The caller owns the Redis client lifecycle.
type Store struct {
	rdb              redis.UniversalClient
	logger           *slog.Logger
	now              func() time.Time
	retention        time.Duration
	reclaimThreshold time.Duration
}

// New creates a new Store
func New(rdb redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		rdb:              rdb,
		logger:           slog.Default(),
		now:              func() time.Time { return time.Now().UTC() },
		retention:        domain.JobRetention,
		reclaimThreshold: domain.ReclaimThreshold,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// CreateJob persists a PENDING job, indexes it by owner and enqueues it on its priority list.
func (s *Store) CreateJob(ctx context.Context, in domain.NewJob) (*domain.Job, error) {
	if !in.Priority.Valid() {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidPriority, in.Priority)
	}

	job := s.newRecord(in, domain.StatusPending)
	if err := s.insert(ctx, job, true); err != nil {
		return nil, err
	}

	s.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.String("job_type", job.Type),
		slog.String("priority", job.Priority.String()),
	)
	return job, nil
}

// CreateCompleted persists a job that is COMPLETED from the start because its
// artifact already exists. It is never enqueued.
func (s *Store) CreateCompleted(ctx context.Context, in domain.NewJob, downloadURL, cacheKey string) (*domain.Job, error) {
	if !in.Priority.Valid() {
		return nil, fmt.Errorf("%w: %d", domain.ErrInvalidPriority, in.Priority)
	}

	job := s.newRecord(in, domain.StatusCompleted)
	completedAt := job.CreatedAt
	job.Metadata.CompletedAt = &completedAt
	job.Metadata.DownloadURL = downloadURL
	job.Metadata.CacheKey = cacheKey

	if err := s.insert(ctx, job, false); err != nil {
		return nil, err
	}

	s.logger.Info("Job completed from cache",
		slog.String("job_id", job.ID),
		slog.String("cache_key", cacheKey),
	)
	return job, nil
}

func (s *Store) newRecord(in domain.NewJob, status domain.Status) *domain.Job {
	now := s.now()
	createdAt := now
	return &domain.Job{
		ID:        uuid.NewString(),
		Type:      in.Type,
		Status:    status,
		Priority:  in.Priority,
		Payload:   in.Payload,
		OwnerID:   in.OwnerID,
		LogicalID: in.LogicalID,
		Metadata: domain.Metadata{
			Title:     in.Title,
			CreatedAt: &createdAt,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Store) insert(ctx context.Context, job *domain.Job, enqueue bool) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, s.retention)
	if job.OwnerID != "" {
		pipe.SAdd(ctx, ownerKey(job.OwnerID), job.ID)
		pipe.Expire(ctx, ownerKey(job.OwnerID), s.retention)
	}
	if enqueue {
		pipe.RPush(ctx, queueKey(job.Priority), job.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("create job", err)
	}

	s.publish(ctx, job)
	return nil
}

// GetJob loads a job record. It returns domain.ErrJobNotFound when the id is
// unknown or its record has expired.
func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	data, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrJobNotFound
		}
		return nil, unavailable("get job", err)
	}
	return decodeJob(id, data)
}

// UpdateStatus moves a job to a new status, applies the metadata patch and
// publishes a status event. Concurrent writers retry on WATCH conflicts; the
// last successful writer wins.
func (s *Store) UpdateStatus(ctx context.Context, id string, status domain.Status, upd StatusUpdate) (*domain.Job, error) {
	return s.mutate(ctx, id, func(job *domain.Job, now time.Time) error {
		if !domain.CanTransition(job.Status, status) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, job.Status, status)
		}
		if p := upd.Patch; p != nil && p.DownloadURL != nil && status != domain.StatusCompleted {
			return fmt.Errorf("%w: download url requires %s", domain.ErrInvalidTransition, domain.StatusCompleted)
		}

		job.Status = status
		switch status {
		case domain.StatusProcessing:
			if job.Metadata.StartedAt == nil {
				startedAt := now
				job.Metadata.StartedAt = &startedAt
			}
			attemptAt := now
			job.Metadata.AttemptStartedAt = &attemptAt
		case domain.StatusCompleted, domain.StatusFailed:
			completedAt := now
			job.Metadata.CompletedAt = &completedAt
		}

		if status == domain.StatusCompleted {
			job.Metadata.Error = ""
		}
		if upd.Error != "" {
			job.Metadata.Error = upd.Error
		}
		applyPatch(job, upd.Patch)
		return nil
	})
}

func applyPatch(job *domain.Job, p *domain.MetadataPatch) {
	if p == nil {
		return
	}
	if p.Title != nil {
		job.Metadata.Title = *p.Title
	}
	if p.RetryCount != nil && *p.RetryCount > job.Metadata.RetryCount {
		job.Metadata.RetryCount = *p.RetryCount
	}
	if p.DownloadURL != nil {
		job.Metadata.DownloadURL = *p.DownloadURL
	}
	if p.CacheKey != nil {
		job.Metadata.CacheKey = *p.CacheKey
	}
	if p.CompletedAt != nil {
		completedAt := *p.CompletedAt
		job.Metadata.CompletedAt = &completedAt
	}
	if p.Priority != nil && p.Priority.Valid() {
		job.Priority = *p.Priority
	}
}

// Cancel marks a job CANCELLED and resets its retry count. Cancelling a
// COMPLETED job fails with domain.ErrAlreadyCompleted; cancelling a
// CANCELLED job is a no-op.
func (s *Store) Cancel(ctx context.Context, id string) (*domain.Job, error) {
	return s.mutate(ctx, id, func(job *domain.Job, _ time.Time) error {
		switch job.Status {
		case domain.StatusCompleted:
			return domain.ErrAlreadyCompleted
		case domain.StatusCancelled:
			return errNoChange
		}
		job.Status = domain.StatusCancelled
		job.Metadata.RetryCount = 0
		job.Metadata.Error = ""
		return nil
	})
}

// mutate runs fn against the current record inside a WATCH transaction and
// publishes a status event when the write succeeds.
func (s *Store) mutate(ctx context.Context, id string, fn func(*domain.Job, time.Time) error) (*domain.Job, error) {
	key := jobKey(id)
	var updated *domain.Job

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return domain.ErrJobNotFound
			}
			return err
		}
		job, err := decodeJob(id, data)
		if err != nil {
			return err
		}

		now := s.now()
		prev := job.Status
		if err := fn(job, now); err != nil {
			if errors.Is(err, errNoChange) {
				updated = job
			}
			return err
		}
		job.UpdatedAt = now

		payload, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to encode job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.remainingTTL(job, now))
			if job.Status != domain.StatusProcessing && (prev == domain.StatusProcessing || job.Status.IsTerminal()) {
				pipe.Del(ctx, markerKey(id))
				pipe.SRem(ctx, processingIndexKey, id)
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = job
		return nil
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		switch {
		case err == nil:
			s.publish(ctx, updated)
			return updated, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, errNoChange):
			return updated, nil
		case errors.Is(err, domain.ErrJobNotFound),
			errors.Is(err, domain.ErrInvalidTransition),
			errors.Is(err, domain.ErrAlreadyCompleted),
			errors.Is(err, errCorrupt):
			return nil, err
		default:
			return nil, unavailable("update job", err)
		}
	}

	return nil, fmt.Errorf("%w: update job %s: too many concurrent writers", domain.ErrStoreUnavailable, id)
}

// remainingTTL keeps the original retention window across rewrites.
func (s *Store) remainingTTL(job *domain.Job, now time.Time) time.Duration {
	ttl := job.CreatedAt.Add(s.retention).Sub(now)
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

// DequeueNext claims the next job id, scanning tiers from URGENT to LOW.
// It returns an empty id when every list is empty.
func (s *Store) DequeueNext(ctx context.Context) (string, error) {
	for _, p := range domain.Priorities {
		id, err := s.rdb.LPop(ctx, queueKey(p)).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return "", unavailable("dequeue", err)
		}

		now := s.now()
		pipe := s.rdb.TxPipeline()
		pipe.Set(ctx, markerKey(id), now.Format(time.RFC3339Nano), s.reclaimThreshold)
		pipe.SAdd(ctx, processingIndexKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			// The pop already transferred ownership; the marker is only a liveness hint.
			s.logger.Warn("Failed to write processing marker",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
		}

		s.logger.Debug("Job claimed",
			slog.String("job_id", id),
			slog.String("priority", p.String()),
		)
		return id, nil
	}
	return "", nil
}

// Requeue appends a new queue entry for the job on the given tier.
func (s *Store) Requeue(ctx context.Context, id string, p domain.Priority) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %d", domain.ErrInvalidPriority, p)
	}
	if err := s.rdb.RPush(ctx, queueKey(p), id).Err(); err != nil {
		return unavailable("requeue", err)
	}
	return nil
}

// ReleaseClaim drops the processing marker of a claimed job that will not be processed.
func (s *Store) ReleaseClaim(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, markerKey(id))
	pipe.SRem(ctx, processingIndexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable("release claim", err)
	}
	return nil
}

// HasMarker reports whether a live processing marker exists for the job.
func (s *Store) HasMarker(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Exists(ctx, markerKey(id)).Result()
	if err != nil {
		return false, unavailable("check marker", err)
	}
	return n > 0, nil
}

// ListByOwner returns the owner's jobs, newest first. Expired ids are pruned from the index.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Job, error) {
	ids, err := s.rdb.SMembers(ctx, ownerKey(ownerID)).Result()
	if err != nil {
		return nil, unavailable("list owner jobs", err)
	}
	if len(ids) == 0 {
		return []*domain.Job{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, unavailable("list owner jobs", err)
	}

	jobs := make([]*domain.Job, 0, len(ids))
	var expired []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		job, err := decodeJob(ids[i], []byte(raw))
		if err != nil {
			s.logger.Warn("Skipping unreadable job record",
				slog.String("job_id", ids[i]),
				slog.String("error", err.Error()),
			)
			continue
		}
		jobs = append(jobs, job)
	}

	if len(expired) > 0 {
		if err := s.rdb.SRem(ctx, ownerKey(ownerID), expired...).Err(); err != nil {
			s.logger.Warn("Failed to prune owner index",
				slog.String("owner_id", ownerID),
				slog.String("error", err.Error()),
			)
		}
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID > jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// ReclaimStuck fails PROCESSING jobs whose current attempt is older than the
// reclaim threshold and returns how many were reclaimed. Claimed jobs that
// never reached PROCESSING and lost their marker are put back on their queue.
func (s *Store) ReclaimStuck(ctx context.Context) (int, error) {
	ids, err := s.rdb.SMembers(ctx, processingIndexKey).Result()
	if err != nil {
		return 0, unavailable("scan processing markers", err)
	}

	reclaimed := 0
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrJobNotFound) {
				_ = s.ReleaseClaim(ctx, id)
				continue
			}
			return reclaimed, err
		}

		if job.Status != domain.StatusProcessing {
			if err := s.recoverIdleClaim(ctx, job); err != nil {
				return reclaimed, err
			}
			continue
		}

		if job.AttemptAge(s.now()) < s.reclaimThreshold {
			continue
		}

		msg := fmt.Sprintf("processing timed out: no progress for %s, job reclaimed", s.reclaimThreshold)
		if _, err := s.UpdateStatus(ctx, id, domain.StatusFailed, StatusUpdate{Error: msg}); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrJobNotFound) {
				continue
			}
			return reclaimed, err
		}

		s.logger.Warn("Reclaimed stuck job",
			slog.String("job_id", id),
			slog.Duration("attempt_age", job.AttemptAge(s.now())),
		)
		reclaimed++
	}
	return reclaimed, nil
}

func (s *Store) recoverIdleClaim(ctx context.Context, job *domain.Job) error {
	if job.Status.IsTerminal() {
		return s.ReleaseClaim(ctx, job.ID)
	}

	alive, err := s.HasMarker(ctx, job.ID)
	if err != nil || alive {
		return err
	}

	if err := s.Requeue(ctx, job.ID, job.Priority); err != nil {
		return err
	}
	s.logger.Warn("Requeued abandoned claim",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
	)
	return s.ReleaseClaim(ctx, job.ID)
}

// QueueDepth returns the length of one tier, or the sum of all tiers when p is nil.
func (s *Store) QueueDepth(ctx context.Context, p *domain.Priority) (int64, error) {
	if p != nil {
		n, err := s.rdb.LLen(ctx, queueKey(*p)).Result()
		if err != nil {
			return 0, unavailable("queue depth", err)
		}
		return n, nil
	}

	depths, err := s.QueueDepths(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, n := range depths {
		total += n
	}
	return total, nil
}

// QueueDepths returns the length of every tier.
func (s *Store) QueueDepths(ctx context.Context) (map[domain.Priority]int64, error) {
	pipe := s.rdb.Pipeline()
	cmds := make(map[domain.Priority]*redis.IntCmd, len(domain.Priorities))
	for _, p := range domain.Priorities {
		cmds[p] = pipe.LLen(ctx, queueKey(p))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable("queue depth", err)
	}

	depths := make(map[domain.Priority]int64, len(cmds))
	for p, cmd := range cmds {
		depths[p] = cmd.Val()
	}
	return depths, nil
}

func decodeJob(id string, data []byte) (*domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("%w %s: %v", errCorrupt, id, err)
	}
	return &job, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, op, err)
}

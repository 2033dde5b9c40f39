package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/docqueue/internal/domain"
	"github.com/cuongbtq/docqueue/internal/jobstore"
)

// processJob runs one claimed job to a terminal status or a retry.
// ctx is cancelled only when the pool abandons its workers; after that
// the job is left untouched for reclamation.
func (p *Pool) processJob(ctx context.Context, jobID string) {
	// Step 1: Reload the job and skip it if it is gone or cancelled
	job, err := p.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			p.logger.Debug("Claimed job no longer exists, skipping", slog.String("job_id", jobID))
			p.release(ctx, jobID)
			return
		}
		p.logger.Error("Failed to load claimed job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}
	if job.Status.IsAbsorbing() {
		p.logger.Info("Claimed job is no longer runnable, skipping",
			slog.String("job_id", jobID),
			slog.String("status", string(job.Status)),
		)
		p.release(ctx, jobID)
		return
	}
	if job.Status == domain.StatusProcessing {
		// Another worker owns this attempt; its marker must stay.
		p.logger.Warn("Claimed job is already processing, skipping", slog.String("job_id", jobID))
		return
	}

	// Step 2: PENDING -> PROCESSING
	job, err = p.store.UpdateStatus(ctx, jobID, domain.StatusProcessing, jobstore.StatusUpdate{})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			p.logger.Info("Job changed before processing started, skipping",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			p.release(ctx, jobID)
			return
		}
		p.logger.Error("Failed to mark job as processing",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	p.logger.Info("Processing job",
		slog.String("job_id", job.ID),
		slog.String("job_type", job.Type),
		slog.String("priority", job.Priority.String()),
		slog.Int("retry_count", job.Metadata.RetryCount),
	)

	// Step 3: Render under the hard timeout
	data, err := p.render(ctx, job)
	if ctx.Err() != nil {
		p.logger.Warn("Worker abandoned, leaving job for reclamation", slog.String("job_id", job.ID))
		return
	}

	// Step 4: Persist the artifact
	if err == nil {
		err = p.complete(ctx, job, data)
		if err == nil || ctx.Err() != nil {
			return
		}
	}

	// Step 5: Retry with demotion or fail
	p.fail(ctx, job, err)
}

// render calls the renderer in its own goroutine so a renderer that
// ignores its context cannot hold the worker past the timeout
func (p *Pool) render(ctx context.Context, job *domain.Job) ([]byte, error) {
	rctx, cancel := context.WithTimeout(ctx, p.processingTimeout)
	defer cancel()

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- result{err: fmt.Errorf("renderer panicked: %v", rec)}
			}
		}()
		data, err := p.renderer.Render(rctx, job.Type, job.Payload)
		ch <- result{data: data, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, domain.NewRenderError(res.err, false)
		}
		return res.data, nil
	case <-rctx.Done():
		return nil, domain.NewRenderError(fmt.Errorf("no result after %s", p.processingTimeout), true)
	}
}

// complete uploads the artifact and marks the job COMPLETED. A job
// cancelled while rendering keeps its CANCELLED status; the artifact
// still lands in the cache.
func (p *Pool) complete(ctx context.Context, job *domain.Job, data []byte) error {
	res, err := p.cache.Store(ctx, data, job.Metadata.Title, p.namespace, job.LogicalID, job.Type)
	if err != nil {
		return fmt.Errorf("failed to upload artifact: %w", err)
	}

	_, err = p.store.UpdateStatus(ctx, job.ID, domain.StatusCompleted, jobstore.StatusUpdate{
		Patch: &domain.MetadataPatch{
			DownloadURL: &res.URL,
			CacheKey:    &res.Key,
		},
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			p.logger.Info("Job cancelled during render, artifact cached",
				slog.String("job_id", job.ID),
				slog.String("cache_key", res.Key),
			)
			return nil
		}
		p.logger.Error("Failed to update job status to COMPLETED",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	p.completed.Add(1)
	p.logger.Info("Job completed successfully",
		slog.String("job_id", job.ID),
		slog.String("download_url", res.URL),
	)
	return nil
}

// fail applies the retry policy: below the bound the job goes back to
// PENDING one tier lower than its last-known priority, otherwise FAILED
func (p *Pool) fail(ctx context.Context, job *domain.Job, cause error) {
	retryCount := job.Metadata.RetryCount + 1

	p.logger.Error("Job execution failed",
		slog.String("job_id", job.ID),
		slog.String("job_type", job.Type),
		slog.Int("retry_count", retryCount),
		slog.Int("max_retries", p.maxRetries),
		slog.String("error", cause.Error()),
	)

	if retryCount < p.maxRetries {
		next := job.Priority.Demote()
		_, err := p.store.UpdateStatus(ctx, job.ID, domain.StatusPending, jobstore.StatusUpdate{
			Error: cause.Error(),
			Patch: &domain.MetadataPatch{RetryCount: &retryCount, Priority: &next},
		})
		if err != nil {
			p.logStatusError(job.ID, domain.StatusPending, err)
			return
		}
		if err := p.store.Requeue(ctx, job.ID, next); err != nil {
			p.logger.Error("Failed to re-enqueue job for retry",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			return
		}

		p.retried.Add(1)
		p.logger.Info("Job will be retried",
			slog.String("job_id", job.ID),
			slog.String("priority", next.String()),
			slog.Int("retry_count", retryCount),
		)
		return
	}

	_, err := p.store.UpdateStatus(ctx, job.ID, domain.StatusFailed, jobstore.StatusUpdate{
		Error: cause.Error(),
		Patch: &domain.MetadataPatch{RetryCount: &retryCount},
	})
	if err != nil {
		p.logStatusError(job.ID, domain.StatusFailed, err)
		return
	}

	p.failed.Add(1)
	p.logger.Warn("Job exceeded max retries",
		slog.String("job_id", job.ID),
		slog.Int("retry_count", retryCount),
	)
}

func (p *Pool) logStatusError(jobID string, status domain.Status, err error) {
	if errors.Is(err, domain.ErrInvalidTransition) {
		p.logger.Info("Job cancelled during render, not retrying", slog.String("job_id", jobID))
		return
	}
	p.logger.Error("Failed to update job status",
		slog.String("job_id", jobID),
		slog.String("status", string(status)),
		slog.String("error", err.Error()),
	)
}

func (p *Pool) release(ctx context.Context, jobID string) {
	if err := p.store.ReleaseClaim(ctx, jobID); err != nil {
		p.logger.Warn("Failed to release claim",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

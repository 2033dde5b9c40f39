package worker

import (
	"context"
	"log/slog"
	"time"
)

// loop is the single scheduling goroutine of a run
func (p *Pool) loop(r *run) {
	defer close(r.loopDone)

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	var reclaimC <-chan time.Time
	if p.reclaimInterval > 0 {
		reclaimTicker := time.NewTicker(p.reclaimInterval)
		defer reclaimTicker.Stop()
		reclaimC = reclaimTicker.C
	}

	p.fillSlots(r)

	for {
		select {
		case <-r.stopCh:
			p.logger.Info("Scheduling loop stopped")
			return
		case <-ticker.C:
			p.fillSlots(r)
		case <-reclaimC:
			p.reclaim(r.ctx)
		}
	}
}

// fillSlots claims up to one job per free slot, stopping at the first
// empty dequeue
func (p *Pool) fillSlots(r *run) {
	available := p.maxWorkers - p.activeCount()

	for i := 0; i < available; i++ {
		select {
		case <-r.stopCh:
			return
		default:
		}

		id, err := p.store.DequeueNext(r.ctx)
		if err != nil {
			p.logger.Error("Failed to dequeue job",
				slog.String("error", err.Error()),
			)
			return
		}
		if id == "" {
			return
		}

		p.launch(r, id)
	}
}

// launch tracks a claimed job in a slot and runs it in its own goroutine
func (p *Pool) launch(r *run, jobID string) {
	p.mu.Lock()
	p.seq++
	slot := p.seq
	p.active[slot] = jobID
	p.mu.Unlock()

	p.claimed.Add(1)
	r.wg.Add(1)

	p.logger.Debug("Job claimed",
		slog.String("job_id", jobID),
		slog.Uint64("slot", slot),
	)

	go func() {
		defer r.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.active, slot)
			p.mu.Unlock()
		}()

		p.processJob(r.ctx, jobID)
	}()
}

func (p *Pool) reclaim(ctx context.Context) {
	count, err := p.store.ReclaimStuck(ctx)
	if err != nil {
		p.logger.Error("Failed to reclaim stuck jobs",
			slog.String("error", err.Error()),
		)
		return
	}
	if count > 0 {
		p.logger.Warn("Reclaimed stuck jobs", slog.Int("count", count))
		return
	}
	p.logger.Debug("No stuck jobs to reclaim")
}

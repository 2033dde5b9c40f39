// Package events forwards job status events from the store's publish
// channel to downstream sinks. Delivery is at-most-once: consumers must
// still poll job status for anything they cannot afford to miss.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/docqueue/internal/domain"
	"github.com/cuongbtq/docqueue/internal/jobstore"
)

const defaultSinkTimeout = 5 * time.Second

// Sink receives status events
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev domain.StatusEvent) error
}

// Subscriber opens a status event subscription
type Subscriber interface {
	Subscribe(ctx context.Context) (*jobstore.Subscription, error)
}

// Relay fans status events out to sinks
type Relay struct {
	subscriber  Subscriber
	sinks       []Sink
	logger      *slog.Logger
	sinkTimeout time.Duration
}

// NewRelay creates a relay for the given sinks
func NewRelay(subscriber Subscriber, logger *slog.Logger, sinks ...Sink) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		subscriber:  subscriber,
		sinks:       sinks,
		logger:      logger,
		sinkTimeout: defaultSinkTimeout,
	}
}

// Run blocks until ctx is cancelled or the subscription ends
func (r *Relay) Run(ctx context.Context) error {
	sub, err := r.subscriber.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to status events: %w", err)
	}
	defer sub.Close()

	r.logger.Info("Status event relay started", slog.Int("sinks", len(r.sinks)))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Status event relay stopped")
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return fmt.Errorf("status event subscription closed")
			}
			r.dispatch(ctx, ev)
		}
	}
}

func (r *Relay) dispatch(ctx context.Context, ev domain.StatusEvent) {
	for _, sink := range r.sinks {
		sinkCtx, cancel := context.WithTimeout(ctx, r.sinkTimeout)
		err := sink.Handle(sinkCtx, ev)
		cancel()
		if err != nil {
			r.logger.Warn("Status event sink failed, event dropped",
				slog.String("sink", sink.Name()),
				slog.String("job_id", ev.JobID),
				slog.String("status", string(ev.Status)),
				slog.String("error", err.Error()),
			)
		}
	}
}

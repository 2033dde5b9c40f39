package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/docqueue/internal/domain"
)

// publish emits a status event. Delivery is best-effort: failures are logged
// and never block the job mutation that triggered them.
func (s *Store) publish(ctx context.Context, job *domain.Job) {
	data, err := json.Marshal(domain.StatusEvent{
		JobID:  job.ID,
		Status: job.Status,
		Job:    job,
	})
	if err != nil {
		s.logger.Warn("Failed to encode status event",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.rdb.Publish(ctx, StatusChannel, data).Err(); err != nil {
		s.logger.Warn("Failed to publish status event",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)),
			slog.String("error", err.Error()),
		)
	}
}

// Subscription delivers decoded status events until closed.
type Subscription struct {
	pubsub *redis.PubSub
	events chan domain.StatusEvent
	done   chan struct{}
	once   sync.Once
}

// Subscribe listens on the status channel. The returned subscription must be closed.
func (s *Store) Subscribe(ctx context.Context) (*Subscription, error) {
	pubsub := s.rdb.Subscribe(ctx, StatusChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, unavailable("subscribe", err)
	}

	sub := &Subscription{
		pubsub: pubsub,
		events: make(chan domain.StatusEvent, 64),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(sub.events)
		for msg := range pubsub.Channel() {
			var ev domain.StatusEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				s.logger.Warn("Dropping malformed status event",
					slog.String("error", err.Error()),
				)
				continue
			}
			select {
			case sub.events <- ev:
			case <-sub.done:
				return
			}
		}
	}()

	return sub, nil
}

// Events returns the channel of decoded events. It is closed after Close.
func (sub *Subscription) Events() <-chan domain.StatusEvent {
	return sub.events
}

// Close stops the subscription.
func (sub *Subscription) Close() error {
	var err error
	sub.once.Do(func() {
		close(sub.done)
		if cerr := sub.pubsub.Close(); cerr != nil {
			err = fmt.Errorf("failed to close subscription: %w", cerr)
		}
	})
	return err
}

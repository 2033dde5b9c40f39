// Package intake accepts job submissions from the message broker and
// feeds them to the queue service.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/docqueue/internal/domain"
	"github.com/cuongbtq/docqueue/internal/queue"
)

// Submitter queues validated jobs
type Submitter interface {
	Queue(ctx context.Context, req queue.Request) (*domain.Job, error)
}

// Source provides broker deliveries
type Source interface {
	Consume(consumerTag string, prefetchCount int) (<-chan amqp.Delivery, error)
}

// Message is the submission wire format
type Message struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Priority string          `json:"priority,omitempty"`
	OwnerID  string          `json:"owner_id,omitempty"`
}

// Config holds consumer configuration
type Config struct {
	Logger        *slog.Logger
	Source        Source
	Submitter     Submitter
	PrefetchCount int
}

// Consumer reads submissions and acknowledges each one after queueing
type Consumer struct {
	logger        *slog.Logger
	source        Source
	submitter     Submitter
	prefetchCount int
	consumerTag   string
}

// NewConsumer creates a new Consumer
func NewConsumer(cfg *Config) *Consumer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		logger:        logger,
		source:        cfg.Source,
		submitter:     cfg.Submitter,
		prefetchCount: cfg.PrefetchCount,
		consumerTag:   "intake-" + uuid.NewString()[:8],
	}
}

// Run consumes until ctx is cancelled or the delivery channel closes
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.source.Consume(c.consumerTag, c.prefetchCount)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Submission consumer started",
		slog.String("consumer_tag", c.consumerTag),
		slog.Int("prefetch_count", c.prefetchCount),
	)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Submission consumer stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return fmt.Errorf("delivery channel closed")
			}
			c.handle(ctx, delivery)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, delivery amqp.Delivery) {
	job, err := c.submit(ctx, delivery.Body)
	if err != nil {
		requeue := shouldRequeue(err)
		c.logger.Error("Failed to queue submission",
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
			slog.Bool("requeue", requeue),
			slog.String("error", err.Error()),
		)
		if nackErr := delivery.Nack(false, requeue); nackErr != nil {
			c.logger.Error("Failed to NACK message",
				slog.Uint64("delivery_tag", delivery.DeliveryTag),
				slog.String("error", nackErr.Error()),
			)
		}
		return
	}

	if ackErr := delivery.Ack(false); ackErr != nil {
		c.logger.Error("Failed to ACK message",
			slog.String("job_id", job.ID),
			slog.String("error", ackErr.Error()),
		)
		return
	}

	c.logger.Info("Submission queued",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
	)
}

func (c *Consumer) submit(ctx context.Context, body []byte) (*domain.Job, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: malformed message: %v", domain.ErrInvalidPayload, err)
	}

	priority, err := domain.ParsePriority(msg.Priority)
	if err != nil {
		return nil, err
	}

	return c.submitter.Queue(ctx, queue.Request{
		Type:     msg.Type,
		Payload:  msg.Payload,
		Priority: priority,
		OwnerID:  msg.OwnerID,
	})
}

// shouldRequeue sends store outages back to the broker; everything else is
// a bad message that would fail again
func shouldRequeue(err error) bool {
	return errors.Is(err, domain.ErrStoreUnavailable)
}

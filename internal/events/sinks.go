package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cuongbtq/docqueue/internal/domain"
)

// Publisher publishes a message under a routing key
type Publisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// AMQPSink publishes every event to the message broker with routing key
// {prefix}.{status}, e.g. job.status.completed
type AMQPSink struct {
	publisher Publisher
	prefix    string
}

// NewAMQPSink creates a broker sink
func NewAMQPSink(publisher Publisher, routingPrefix string) *AMQPSink {
	return &AMQPSink{publisher: publisher, prefix: strings.TrimSuffix(routingPrefix, ".")}
}

// Name implements Sink
func (s *AMQPSink) Name() string { return "amqp" }

// RoutingKey returns the routing key used for a status
func (s *AMQPSink) RoutingKey(status domain.Status) string {
	return s.prefix + "." + strings.ToLower(string(status))
}

// Handle implements Sink
func (s *AMQPSink) Handle(ctx context.Context, ev domain.StatusEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode status event: %w", err)
	}
	return s.publisher.PublishWithRetry(ctx, s.RoutingKey(ev.Status), body, "application/json")
}

// Archiver stores terminal jobs
type Archiver interface {
	Upsert(ctx context.Context, job *domain.Job) error
}

// ArchiveSink writes terminal jobs to the history archive
type ArchiveSink struct {
	archiver Archiver
}

// NewArchiveSink creates an archive sink
func NewArchiveSink(archiver Archiver) *ArchiveSink {
	return &ArchiveSink{archiver: archiver}
}

// Name implements Sink
func (s *ArchiveSink) Name() string { return "archive" }

// Handle implements Sink
func (s *ArchiveSink) Handle(ctx context.Context, ev domain.StatusEvent) error {
	if ev.Job == nil || !ev.Status.IsTerminal() {
		return nil
	}
	return s.archiver.Upsert(ctx, ev.Job)
}

package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/docqueue/internal/domain"
	"github.com/cuongbtq/docqueue/internal/queue"
)

type ackRecord struct {
	tag     uint64
	ack     bool
	requeue bool
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	records []ackRecord
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, ackRecord{tag: tag, ack: true})
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, ackRecord{tag: tag, requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcknowledger) Records() []ackRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ackRecord(nil), a.records...)
}

type fakeSource struct {
	ch  chan amqp.Delivery
	err error
}

func (s *fakeSource) Consume(string, int) (<-chan amqp.Delivery, error) {
	return s.ch, s.err
}

type fakeSubmitter struct {
	mu   sync.Mutex
	reqs []queue.Request
	err  error
}

func (s *fakeSubmitter) Queue(_ context.Context, req queue.Request) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Job{ID: fmt.Sprintf("job-%d", len(s.reqs)), Status: domain.StatusPending}, nil
}

func TestConsumer_Handle(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		submitErr   error
		wantAck     bool
		wantRequeue bool
		wantQueued  bool
	}{
		{
			name:       "valid submission",
			body:       `{"type":"markdown","payload":{"title":"T"},"priority":"high","owner_id":"u1"}`,
			wantAck:    true,
			wantQueued: true,
		},
		{
			name: "malformed json",
			body: `{"type":`,
		},
		{
			name: "unknown priority",
			body: `{"type":"markdown","payload":{"title":"T"},"priority":"asap"}`,
		},
		{
			name:       "invalid payload",
			body:       `{"type":"markdown","payload":{}}`,
			submitErr:  fmt.Errorf("%w: title failed on required", domain.ErrInvalidPayload),
			wantQueued: true,
		},
		{
			name:        "store unavailable",
			body:        `{"type":"markdown","payload":{"title":"T"}}`,
			submitErr:   fmt.Errorf("failed to create job: %w", domain.ErrStoreUnavailable),
			wantRequeue: true,
			wantQueued:  true,
		},
		{
			name:       "unexpected error",
			body:       `{"type":"markdown","payload":{"title":"T"}}`,
			submitErr:  errors.New("boom"),
			wantQueued: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acker := &fakeAcknowledger{}
			submitter := &fakeSubmitter{err: tt.submitErr}
			consumer := NewConsumer(&Config{
				Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
				Submitter: submitter,
			})

			consumer.handle(context.Background(), amqp.Delivery{
				Acknowledger: acker,
				DeliveryTag:  7,
				Body:         []byte(tt.body),
			})

			records := acker.Records()
			require.Len(t, records, 1)
			assert.Equal(t, uint64(7), records[0].tag)
			assert.Equal(t, tt.wantAck, records[0].ack)
			assert.Equal(t, tt.wantRequeue, records[0].requeue)
			assert.Equal(t, tt.wantQueued, len(submitter.reqs) == 1)
		})
	}
}

func TestConsumer_SubmissionMapping(t *testing.T) {
	submitter := &fakeSubmitter{}
	consumer := NewConsumer(&Config{Submitter: submitter})

	_, err := consumer.submit(context.Background(),
		[]byte(`{"type":"template","payload":{"title":"Invoice","templateId":"inv"},"owner_id":"acct-9"}`))
	require.NoError(t, err)

	require.Len(t, submitter.reqs, 1)
	req := submitter.reqs[0]
	assert.Equal(t, "template", req.Type)
	assert.Equal(t, domain.PriorityNormal, req.Priority)
	assert.Equal(t, "acct-9", req.OwnerID)
	assert.JSONEq(t, `{"title":"Invoice","templateId":"inv"}`, string(req.Payload))
}

func TestConsumer_Run(t *testing.T) {
	source := &fakeSource{ch: make(chan amqp.Delivery, 2)}
	acker := &fakeAcknowledger{}
	consumer := NewConsumer(&Config{
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		Source:        source,
		Submitter:     &fakeSubmitter{},
		PrefetchCount: 5,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	source.ch <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, Body: []byte(`{"type":"markdown","payload":{"title":"a"}}`)}
	source.ch <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 2, Body: []byte(`nope`)}

	require.Eventually(t, func() bool { return len(acker.Records()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)

	records := acker.Records()
	assert.True(t, records[0].ack)
	assert.False(t, records[1].ack)
}

func TestConsumer_RunClosedChannel(t *testing.T) {
	source := &fakeSource{ch: make(chan amqp.Delivery)}
	close(source.ch)

	consumer := NewConsumer(&Config{Source: source, Submitter: &fakeSubmitter{}})
	assert.Error(t, consumer.Run(context.Background()))
}

func TestConsumer_RunConsumeError(t *testing.T) {
	consumer := NewConsumer(&Config{Source: &fakeSource{err: errors.New("not connected")}, Submitter: &fakeSubmitter{}})
	err := consumer.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start consuming")
}

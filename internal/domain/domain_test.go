package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{name: "pending to processing", from: StatusPending, to: StatusProcessing, want: true},
		{name: "pending to queued", from: StatusPending, to: StatusQueued, want: true},
		{name: "queued to cancelled", from: StatusQueued, to: StatusCancelled, want: true},
		{name: "processing to completed", from: StatusProcessing, to: StatusCompleted, want: true},
		{name: "processing back to pending for retry", from: StatusProcessing, to: StatusPending, want: true},
		{name: "failed retry edge", from: StatusFailed, to: StatusPending, want: true},
		{name: "completed is absorbing", from: StatusCompleted, to: StatusPending, want: false},
		{name: "cancelled is absorbing", from: StatusCancelled, to: StatusProcessing, want: false},
		{name: "pending cannot complete directly", from: StatusPending, to: StatusCompleted, want: false},
		{name: "unknown status", from: Status("BOGUS"), to: StatusPending, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatus_Flags(t *testing.T) {
	assert.True(t, StatusCompleted.IsAbsorbing())
	assert.True(t, StatusCancelled.IsAbsorbing())
	assert.False(t, StatusFailed.IsAbsorbing())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusQueued.Valid())
	assert.False(t, Status("").Valid())
}

func TestPriority_Demote(t *testing.T) {
	assert.Equal(t, PriorityHigh, PriorityUrgent.Demote())
	assert.Equal(t, PriorityNormal, PriorityHigh.Demote())
	assert.Equal(t, PriorityLow, PriorityNormal.Demote())
	assert.Equal(t, PriorityLow, PriorityLow.Demote())
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    Priority
		wantErr bool
	}{
		{in: "", want: PriorityNormal},
		{in: "low", want: PriorityLow},
		{in: " Urgent ", want: PriorityUrgent},
		{in: "HIGH", want: PriorityHigh},
		{in: "critical", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePriority(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidPriority))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPriorities_ScanOrder(t *testing.T) {
	assert.Equal(t, []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}, Priorities)
	assert.Equal(t, "URGENT", PriorityUrgent.String())
	assert.Equal(t, "Priority(9)", Priority(9).String())
}

func TestJob_AttemptAge(t *testing.T) {
	now := time.Now()
	started := now.Add(-time.Hour)
	attempt := now.Add(-time.Minute)

	job := &Job{}
	assert.Zero(t, job.AttemptAge(now))

	job.Metadata.StartedAt = &started
	assert.Equal(t, time.Hour, job.AttemptAge(now))

	job.Metadata.AttemptStartedAt = &attempt
	assert.Equal(t, time.Minute, job.AttemptAge(now))
}

func TestJob_Clone(t *testing.T) {
	started := time.Now()
	job := &Job{ID: "a", Payload: []byte(`{"x":1}`)}
	job.Metadata.StartedAt = &started

	clone := job.Clone()
	clone.Payload[0] = '['
	*clone.Metadata.StartedAt = started.Add(time.Hour)

	assert.Equal(t, byte('{'), job.Payload[0])
	assert.Equal(t, started, *job.Metadata.StartedAt)
	assert.Nil(t, (*Job)(nil).Clone())
}

func TestRenderError(t *testing.T) {
	cause := errors.New("boom")
	err := NewRenderError(cause, true)

	assert.Equal(t, "render timed out: boom", err.Error())
	assert.True(t, errors.Is(err, cause))

	var renderErr *RenderError
	require.True(t, errors.As(err, &renderErr))
	assert.True(t, renderErr.TimedOut)
}

package domain

import (
	"encoding/json"
	"time"
)

// Job is one unit of requested rendering work
type Job struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Status    Status          `json:"status"`
	Priority  Priority        `json:"priority"`
	Payload   json.RawMessage `json:"payload"`
	OwnerID   string          `json:"ownerId,omitempty"`
	LogicalID string          `json:"logicalId,omitempty"`
	Metadata  Metadata        `json:"metadata"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Metadata holds the mutable bookkeeping of a job
type Metadata struct {
	Title            string     `json:"title,omitempty"`
	CreatedAt        *time.Time `json:"createdAt,omitempty"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	AttemptStartedAt *time.Time `json:"attemptStartedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	Error            string     `json:"error,omitempty"`
	RetryCount       int        `json:"retryCount"`
	DownloadURL      string     `json:"downloadUrl,omitempty"`
	CacheKey         string     `json:"cacheKey,omitempty"`
}

// MetadataPatch carries optional metadata changes applied with a status update.
// Nil fields are left untouched.
type MetadataPatch struct {
	Title       *string
	RetryCount  *int
	DownloadURL *string
	CacheKey    *string
	CompletedAt *time.Time
	Priority    *Priority
}

// NewJob is the input for creating a job record
type NewJob struct {
	Type      string
	Payload   json.RawMessage
	Priority  Priority
	OwnerID   string
	LogicalID string
	Title     string
}

// StatusEvent is published on every status transition.
// Delivery is at-most-once: consumers must still poll job status.
type StatusEvent struct {
	JobID  string `json:"jobId"`
	Status Status `json:"status"`
	Job    *Job   `json:"job"`
}

// AttemptAge reports how long the current processing attempt has been running
func (j *Job) AttemptAge(now time.Time) time.Duration {
	switch {
	case j.Metadata.AttemptStartedAt != nil:
		return now.Sub(*j.Metadata.AttemptStartedAt)
	case j.Metadata.StartedAt != nil:
		return now.Sub(*j.Metadata.StartedAt)
	default:
		return 0
	}
}

// Clone returns a deep copy so callers can mutate without sharing pointers
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Payload != nil {
		c.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	c.Metadata.CreatedAt = cloneTime(j.Metadata.CreatedAt)
	c.Metadata.StartedAt = cloneTime(j.Metadata.StartedAt)
	c.Metadata.AttemptStartedAt = cloneTime(j.Metadata.AttemptStartedAt)
	c.Metadata.CompletedAt = cloneTime(j.Metadata.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

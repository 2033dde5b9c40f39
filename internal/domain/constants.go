package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a job
type Status string

// Job status constants
const (
	StatusPending    Status = "PENDING"
	StatusQueued     Status = "QUEUED"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
)

// Retention and liveness windows shared by the store and the worker pool
const (
	// JobRetention is how long job records and owner indexes live in the store.
	JobRetention = 7 * 24 * time.Hour

	// ReclaimThreshold is the age after which a PROCESSING attempt is considered stuck.
	ReclaimThreshold = 30 * time.Minute
)

// transitions lists the statuses reachable from each status.
var transitions = map[Status][]Status{
	StatusPending:    {StatusQueued, StatusProcessing, StatusCancelled},
	StatusQueued:     {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusPending, StatusCancelled},
	StatusFailed:     {StatusPending, StatusCancelled},
	StatusCompleted:  nil,
	StatusCancelled:  nil,
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no worker will touch a job in this status again
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsAbsorbing reports whether the status forbids any further mutation
func (s Status) IsAbsorbing() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether a job may move from one status to another
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Priority orders queue tiers; higher values are dequeued first
type Priority int

// Priority tiers
const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
	PriorityUrgent Priority = 4
)

// Priorities lists every tier from highest to lowest, the dequeue scan order.
var Priorities = []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

// Valid reports whether p is one of the four tiers
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

// Demote returns the tier one level below p, never going under Low
func (p Priority) Demote() Priority {
	if p <= PriorityLow {
		return PriorityLow
	}
	return p - 1
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityUrgent:
		return "URGENT"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// ParsePriority accepts a tier name (case-insensitive) and returns Normal for empty input
func ParsePriority(s string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return PriorityNormal, nil
	case "LOW":
		return PriorityLow, nil
	case "NORMAL":
		return PriorityNormal, nil
	case "HIGH":
		return PriorityHigh, nil
	case "URGENT":
		return PriorityUrgent, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
}

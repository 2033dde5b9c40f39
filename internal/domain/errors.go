package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job id is absent from the store (including expired records)
	ErrJobNotFound = errors.New("job not found")

	// ErrAlreadyCompleted is returned when cancelling a job that has already completed
	ErrAlreadyCompleted = errors.New("job already completed")

	// ErrInvalidTransition is returned when a status change is not allowed by the state machine
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrStoreUnavailable wraps connectivity failures of the shared key-value store
	ErrStoreUnavailable = errors.New("job store unavailable")

	// ErrInvalidPayload is returned when a job payload does not match its job type
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrUnknownJobType is returned when no payload shape is registered for a job type
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrInvalidPriority is returned for priorities outside LOW..URGENT
	ErrInvalidPriority = errors.New("invalid job priority")
)

// RenderError wraps a renderer failure; every render failure is retryable
// until the job runs out of attempts
type RenderError struct {
	Err      error
	TimedOut bool
}

func (e *RenderError) Error() string {
	if e.TimedOut {
		return "render timed out: " + e.Err.Error()
	}
	return "render failed: " + e.Err.Error()
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// NewRenderError creates a new render error
func NewRenderError(err error, timedOut bool) error {
	return &RenderError{Err: err, TimedOut: timedOut}
}

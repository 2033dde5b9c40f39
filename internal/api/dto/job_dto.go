package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/docqueue/internal/archive"
	"github.com/cuongbtq/docqueue/internal/domain"
	"github.com/cuongbtq/docqueue/internal/queue"
)

type CreateJobRequest struct {
	Type     string          `json:"type" binding:"required"`
	Payload  json.RawMessage `json:"payload" binding:"required"`
	Priority string          `json:"priority"`
	OwnerID  string          `json:"owner_id"`
}

type ListJobsRequest struct {
	OwnerID string `form:"owner_id" binding:"required"`
}

type ListJobsResponse struct {
	Jobs []JobDTO `json:"jobs"`
}

type ListHistoryRequest struct {
	OwnerID  string `form:"owner_id"`
	JobType  string `form:"job_type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListHistoryResponse struct {
	Jobs       []HistoryDTO `json:"jobs"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID       string `json:"job_id"`
	JobType     string `json:"job_type"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	OwnerID     string `json:"owner_id,omitempty"`
	LogicalID   string `json:"logical_id,omitempty"`
	Title       string `json:"title,omitempty"`
	Error       string `json:"error,omitempty"`
	RetryCount  int    `json:"retry_count"`
	DownloadURL string `json:"download_url,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

type HistoryDTO struct {
	JobID       string `json:"job_id"`
	JobType     string `json:"job_type"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	OwnerID     string `json:"owner_id,omitempty"`
	Title       string `json:"title,omitempty"`
	Error       string `json:"error,omitempty"`
	RetryCount  int    `json:"retry_count"`
	DownloadURL string `json:"download_url,omitempty"`
	CreatedAt   string `json:"created_at"`
	CompletedAt string `json:"completed_at"`
}

type StatsResponse struct {
	ActiveWorkers int64            `json:"active_workers"`
	Claimed       int64            `json:"claimed"`
	Completed     int64            `json:"completed"`
	Failed        int64            `json:"failed"`
	Retried       int64            `json:"retried"`
	Queued        int64            `json:"queued"`
	QueueDepth    map[string]int64 `json:"queue_depth"`
}

// FromJob converts a job record to its API representation
func FromJob(job *domain.Job) JobDTO {
	return JobDTO{
		JobID:       job.ID,
		JobType:     job.Type,
		Status:      string(job.Status),
		Priority:    job.Priority.String(),
		OwnerID:     job.OwnerID,
		LogicalID:   job.LogicalID,
		Title:       job.Metadata.Title,
		Error:       job.Metadata.Error,
		RetryCount:  job.Metadata.RetryCount,
		DownloadURL: job.Metadata.DownloadURL,
		CreatedAt:   job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   job.UpdatedAt.Format(time.RFC3339),
		StartedAt:   formatOptional(job.Metadata.StartedAt),
		CompletedAt: formatOptional(job.Metadata.CompletedAt),
	}
}

// FromRecord converts an archived record to its API representation
func FromRecord(rec archive.Record) HistoryDTO {
	return HistoryDTO{
		JobID:       rec.JobID,
		JobType:     rec.JobType,
		Status:      rec.Status,
		Priority:    domain.Priority(rec.Priority).String(),
		OwnerID:     rec.OwnerID,
		Title:       rec.Title,
		Error:       rec.Error,
		RetryCount:  rec.RetryCount,
		DownloadURL: rec.DownloadURL,
		CreatedAt:   rec.CreatedAt.Format(time.RFC3339),
		CompletedAt: rec.CompletedAt.Format(time.RFC3339),
	}
}

// FromStats flattens queue stats, keying depths by tier name
func FromStats(stats queue.Stats) StatsResponse {
	depth := make(map[string]int64, len(domain.Priorities))
	for _, p := range domain.Priorities {
		depth[p.String()] = stats.QueueDepthByPriority[p]
	}
	return StatsResponse{
		ActiveWorkers: int64(stats.Worker.Active),
		Claimed:       stats.Worker.Claimed,
		Completed:     stats.Worker.Completed,
		Failed:        stats.Worker.Failed,
		Retried:       stats.Worker.Retried,
		Queued:        stats.Queued,
		QueueDepth:    depth,
	}
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

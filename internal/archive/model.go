package archive

import (
	"time"

	"github.com/cuongbtq/docqueue/internal/domain"
)

// Record is one archived terminal job
type Record struct {
	JobID       string    `db:"job_id" json:"jobId"`
	OwnerID     string    `db:"owner_id" json:"ownerId,omitempty"`
	JobType     string    `db:"job_type" json:"type"`
	Status      string    `db:"status" json:"status"`
	Priority    int       `db:"priority" json:"priority"`
	Title       string    `db:"title" json:"title,omitempty"`
	Error       string    `db:"error" json:"error,omitempty"`
	RetryCount  int       `db:"retry_count" json:"retryCount"`
	DownloadURL string    `db:"download_url" json:"downloadUrl,omitempty"`
	CacheKey    string    `db:"cache_key" json:"cacheKey,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
	CompletedAt time.Time `db:"completed_at" json:"completedAt"`
}

// FromJob flattens a job into an archive record. Cancelled jobs have no
// completion time, so their last update is used.
func FromJob(job *domain.Job) Record {
	completedAt := job.UpdatedAt
	if job.Metadata.CompletedAt != nil {
		completedAt = *job.Metadata.CompletedAt
	}
	return Record{
		JobID:       job.ID,
		OwnerID:     job.OwnerID,
		JobType:     job.Type,
		Status:      string(job.Status),
		Priority:    int(job.Priority),
		Title:       job.Metadata.Title,
		Error:       job.Metadata.Error,
		RetryCount:  job.Metadata.RetryCount,
		DownloadURL: job.Metadata.DownloadURL,
		CacheKey:    job.Metadata.CacheKey,
		CreatedAt:   job.CreatedAt,
		CompletedAt: completedAt,
	}
}

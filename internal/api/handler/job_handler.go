package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/docqueue/internal/api/dto"
	"github.com/cuongbtq/docqueue/internal/archive"
	"github.com/cuongbtq/docqueue/internal/domain"
	"github.com/cuongbtq/docqueue/internal/queue"
)

// CreateJob handles POST /api/v1/jobs
// Validates the payload and queues a render job
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	priority, err := domain.ParsePriority(req.Priority)
	if err != nil {
		h.respondError(c, err, "Invalid priority")
		return
	}

	job, err := h.jobs.Queue(c.Request.Context(), queue.Request{
		Type:     req.Type,
		Payload:  req.Payload,
		Priority: priority,
		OwnerID:  req.OwnerID,
	})
	if err != nil {
		h.respondError(c, err, "Failed to create job")
		return
	}

	h.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.String("job_type", job.Type),
		slog.String("status", string(job.Status)),
	)

	c.JSON(http.StatusAccepted, dto.FromJob(job))
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.jobs.Status(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err, "Failed to get job")
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists the live jobs of one owner, newest first
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "owner_id is required",
		})
		return
	}

	jobs, err := h.jobs.ListForOwner(c.Request.Context(), req.OwnerID)
	if err != nil {
		h.respondError(c, err, "Failed to list jobs")
		return
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i, job := range jobs {
		resp.Jobs[i] = dto.FromJob(job)
	}
	c.JSON(http.StatusOK, resp)
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Cancels a job that has not completed
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.jobs.Cancel(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err, "Failed to cancel job")
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// GetStats handles GET /api/v1/stats
func (h *JobHandler) GetStats(c *gin.Context) {
	stats, err := h.jobs.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "Failed to get stats")
		return
	}
	c.JSON(http.StatusOK, dto.FromStats(stats))
}

// ListHistory handles GET /api/v1/history
// Pages through archived terminal jobs with keyset pagination
func (h *JobHandler) ListHistory(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job history is not enabled",
		})
		return
	}

	var req dto.ListHistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	cursor, err := archive.DecodeCursor(req.Cursor)
	if err != nil {
		h.respondError(c, err, "Invalid cursor")
		return
	}

	page, err := h.history.List(c.Request.Context(), archive.Filter{
		OwnerID:  req.OwnerID,
		JobType:  req.JobType,
		Status:   strings.ToUpper(req.Status),
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.respondError(c, err, "Failed to list job history")
		return
	}

	resp := dto.ListHistoryResponse{
		Jobs:       make([]dto.HistoryDTO, len(page.Records)),
		NextCursor: page.NextCursor,
	}
	for i, rec := range page.Records {
		resp.Jobs[i] = dto.FromRecord(rec)
	}
	c.JSON(http.StatusOK, resp)
}

// GetArtifact handles GET /artifacts/*key
// Serves a stored artifact with its recorded content type
func (h *JobHandler) GetArtifact(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")

	obj, err := h.artifacts.Get(c.Request.Context(), key)
	if err != nil {
		h.respondError(c, err, "Failed to read artifact")
		return
	}

	c.Data(http.StatusOK, obj.ContentType, obj.Data)
}

func (h *JobHandler) jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return "", false
	}
	return jobID, true
}

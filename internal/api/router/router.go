package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/docqueue/internal/api/handler"
)

// Config holds router options
type Config struct {
	ServiceName    string
	AllowedOrigins []string
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, cfg Config) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware(cfg.AllowedOrigins))

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "docqueue-api"
	}
	healthHandler := handler.NewHealthHandler(serviceName, deps)
	r.GET("/health", healthHandler.Health)

	jobHandler := handler.NewJobHandler(deps)

	// Rendered artifacts, served from the object store
	r.GET("/artifacts/*key", jobHandler.GetArtifact)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Queue a render job
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs?owner_id= - List an owner's live jobs
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job status
			jobs.GET("/:job_id", jobHandler.GetJob)

			// POST /api/v1/jobs/:job_id/cancel - Cancel a job
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
		}

		v1.GET("/stats", jobHandler.GetStats)
		v1.GET("/history", jobHandler.ListHistory)
	}

	return r
}

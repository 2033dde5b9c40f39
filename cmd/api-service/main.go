package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/docqueue/internal/api/handler"
	"github.com/cuongbtq/docqueue/internal/api/router"
	"github.com/cuongbtq/docqueue/internal/archive"
	"github.com/cuongbtq/docqueue/internal/bootstrap"
	"github.com/cuongbtq/docqueue/internal/config"
	"github.com/cuongbtq/docqueue/internal/queue"
	"github.com/cuongbtq/docqueue/internal/worker"
	"github.com/cuongbtq/docqueue/shared/postgresql"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize Redis client and the job store on top of it
	redisClient, err := bootstrap.InitRedis(&cfg.Redis, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer redisClient.Close()

	core, err := bootstrap.NewCore(cfg, appLogger, redisClient)
	if err != nil {
		return err
	}

	checks := map[string]handler.HealthChecker{"redis": redisClient}

	// Initialize PostgreSQL client for job history
	var (
		dbClient *postgresql.Client
		history  handler.HistoryStore
	)
	if cfg.Database.Enabled {
		dbClient, err = bootstrap.InitPostgreSQL(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()

		history = archive.NewStore(dbClient.GetDB(), appLogger.Component("archive"))
		checks["postgres"] = dbClient
		appLogger.Info("Database connection established")
	}

	// Optional in-process worker pool
	var pool *worker.Pool
	if cfg.Worker.EmbeddedInAPI {
		pool, err = bootstrap.NewPool(cfg, appLogger, core)
		if err != nil {
			return fmt.Errorf("failed to create worker pool: %w", err)
		}
	}

	queueCfg := &queue.Config{
		Logger:    appLogger.Component("queue"),
		Store:     core.Store,
		Cache:     core.Cache,
		Namespace: cfg.Storage.Namespace,
		AutoStart: cfg.Worker.AutoStart,
	}
	if pool != nil {
		queueCfg.Pool = pool
	}
	svc := queue.NewService(queueCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if pool != nil && !cfg.Worker.AutoStart {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start worker pool: %w", err)
		}
	}

	// Initialize router
	r := initRouter(cfg, &handler.Dependencies{
		Logger:    appLogger.Component("api"),
		Jobs:      svc,
		History:   history,
		Artifacts: core.Objects,
		Checks:    checks,
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Bool("embedded_workers", pool != nil),
		slog.Bool("history", history != nil),
	)

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
	}

	if err := svc.Stop(context.Background()); err != nil {
		appLogger.Warn("Worker pool stopped with abandoned jobs", slog.Any("error", err))
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps, router.Config{
		ServiceName:    cfg.App.Name,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
}

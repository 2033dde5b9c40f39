package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/docqueue/internal/archive"
	"github.com/cuongbtq/docqueue/internal/bootstrap"
	"github.com/cuongbtq/docqueue/internal/config"
	"github.com/cuongbtq/docqueue/internal/events"
	"github.com/cuongbtq/docqueue/internal/intake"
	"github.com/cuongbtq/docqueue/internal/queue"
	"github.com/cuongbtq/docqueue/internal/worker"
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
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
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

	pool, err := bootstrap.NewPool(cfg, appLogger, core)
	if err != nil {
		return fmt.Errorf("failed to create worker pool: %w", err)
	}

	svc := queue.NewService(&queue.Config{
		Logger:    appLogger.Component("queue"),
		Store:     core.Store,
		Cache:     core.Cache,
		Pool:      pool,
		Namespace: cfg.Storage.Namespace,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 2)
	var sinks []events.Sink

	// Initialize PostgreSQL client for job history
	if cfg.Database.Enabled {
		dbClient, err := bootstrap.InitPostgreSQL(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer dbClient.Close()

		archiveStore := archive.NewStore(dbClient.GetDB(), appLogger.Component("archive"))
		if err := archiveStore.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, events.NewArchiveSink(archiveStore))
		appLogger.Info("Database connection established")
	}

	// Initialize RabbitMQ client for status events and submissions
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := bootstrap.InitRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		sinks = append(sinks, events.NewAMQPSink(rabbitClient, cfg.RabbitMQ.EventsRoutingPrefix))

		consumer := intake.NewConsumer(&intake.Config{
			Logger:        appLogger.Component("intake"),
			Source:        rabbitClient,
			Submitter:     svc,
			PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
		})
		go func() {
			if err := consumer.Run(ctx); err != nil {
				errChan <- fmt.Errorf("submission consumer: %w", err)
			}
		}()
		appLogger.Info("RabbitMQ connection established")
	}

	if len(sinks) > 0 {
		relay := events.NewRelay(core.Store, appLogger.Component("events"), sinks...)
		go func() {
			if err := relay.Run(ctx); err != nil {
				errChan <- fmt.Errorf("status relay: %w", err)
			}
		}()
	}

	// Start worker pool
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	appLogger.Info("Worker service started successfully",
		slog.Int("max_concurrent_workers", cfg.Worker.MaxConcurrentWorkers),
		slog.Int("sinks", len(sinks)),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case runErr = <-errChan:
		appLogger.Error("Worker service error",
			slog.Any("error", runErr),
		)
	}

	// Stop intake and relay before draining the pool
	cancel()

	if err := svc.Stop(context.Background()); err != nil {
		if errors.Is(err, worker.ErrShutdownTimeout) {
			appLogger.Warn("Worker shutdown grace period exceeded, abandoned jobs will be reclaimed",
				slog.Any("error", err),
			)
		} else {
			appLogger.Error("Failed to stop worker pool", slog.Any("error", err))
		}
	}

	appLogger.Info("Worker service shutdown complete")
	return runErr
}

// Package bootstrap builds the clients and components shared by the
// api and worker services from configuration.
package bootstrap

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/docqueue/internal/config"
	"github.com/cuongbtq/docqueue/internal/dedup"
	"github.com/cuongbtq/docqueue/internal/document"
	"github.com/cuongbtq/docqueue/internal/jobstore"
	"github.com/cuongbtq/docqueue/internal/objectstore"
	"github.com/cuongbtq/docqueue/internal/worker"
	"github.com/cuongbtq/docqueue/shared/logger"
	"github.com/cuongbtq/docqueue/shared/postgresql"
	"github.com/cuongbtq/docqueue/shared/rabbitmq"
	"github.com/cuongbtq/docqueue/shared/redis"
)

// Core is the job store and artifact cache every service needs
type Core struct {
	Redis   *redis.Client
	Store   *jobstore.Store
	Objects *objectstore.Local
	Cache   *dedup.Cache
}

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// InitRedis initializes the Redis client backing the job store
func InitRedis(cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	redisConfig := &redis.Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		Password:      cfg.Password,
		DB:            cfg.DB,
		PoolSize:      cfg.PoolSize,
		DialTimeout:   cfg.DialTimeout,
		ReadTimeout:   cfg.ReadTimeout,
		WriteTimeout:  cfg.WriteTimeout,
		RetryAttempts: cfg.RetryAttempts,
		RetryInterval: cfg.RetryInterval,
	}

	return redis.NewClient(redisConfig, logger)
}

// InitPostgreSQL initializes the PostgreSQL database client
func InitPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// InitRabbitMQ initializes the RabbitMQ client
func InitRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// NewCore wires the job store and the artifact cache over an open Redis client
func NewCore(cfg *config.Config, log *logger.Logger, rdb *redis.Client) (*Core, error) {
	objects, err := objectstore.NewLocal(cfg.Storage.Root, cfg.Storage.PublicBaseURL, log.Component("objectstore"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object store: %w", err)
	}

	return &Core{
		Redis:   rdb,
		Store:   jobstore.New(rdb.GetClient(), jobstore.WithLogger(log.Component("jobstore"))),
		Objects: objects,
		Cache:   dedup.New(objects, log.Component("dedup")),
	}, nil
}

// NewPool builds a worker pool rendering through the configured HTTP renderer
func NewPool(cfg *config.Config, log *logger.Logger, core *Core) (*worker.Pool, error) {
	renderer := document.NewHTTPRenderer(document.HTTPRendererConfig{
		Endpoint: cfg.Renderer.Endpoint,
		Timeout:  cfg.Renderer.Timeout,
		Logger:   log.Component("renderer"),
	})

	return worker.New(&worker.Config{
		Logger:               log.Component("worker"),
		Store:                core.Store,
		Cache:                core.Cache,
		Renderer:             renderer,
		MaxConcurrentWorkers: cfg.Worker.MaxConcurrentWorkers,
		PollInterval:         cfg.Worker.PollInterval,
		ProcessingTimeout:    cfg.Worker.ProcessingTimeout,
		ShutdownGracePeriod:  cfg.Worker.ShutdownGracePeriod,
		ReclaimInterval:      cfg.Worker.ReclaimInterval,
		MaxRetries:           cfg.Worker.MaxRetries,
		Namespace:            cfg.Storage.Namespace,
	})
}

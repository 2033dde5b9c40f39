package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
	// MaxConcurrentWorkers is the upper bound on worker slots per process
	MaxConcurrentWorkers = 5
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Storage  StorageConfig  `yaml:"storage"`
	Renderer RendererConfig `yaml:"renderer"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// RedisConfig holds the job store connection configuration
type RedisConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	PoolSize      int           `yaml:"pool_size"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// DatabaseConfig holds PostgreSQL configuration for the job history archive
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration.
// The queue receives job submissions; status events are published to the
// same exchange under EventsRoutingPrefix.
type RabbitMQConfig struct {
	Enabled             bool             `yaml:"enabled"`
	Host                string           `yaml:"host"`
	Port                int              `yaml:"port"`
	User                string           `yaml:"user"`
	Password            string           `yaml:"password"`
	VHost               string           `yaml:"vhost"`
	Exchange            ExchangeConfig   `yaml:"exchange"`
	Queue               QueueConfig      `yaml:"queue"`
	RoutingKey          string           `yaml:"routing_key"`
	EventsRoutingPrefix string           `yaml:"events_routing_prefix"`
	Connection          ConnectionConfig `yaml:"connection"`
	Publish             PublishConfig    `yaml:"publish"`
	Consumer            ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// StorageConfig holds the artifact object store configuration
type StorageConfig struct {
	Root          string `yaml:"root"`
	PublicBaseURL string `yaml:"public_base_url"`
	Namespace     string `yaml:"namespace"`
}

// RendererConfig holds the external render service configuration
type RendererConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	MaxConcurrentWorkers int           `yaml:"max_concurrent_workers"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	ProcessingTimeout    time.Duration `yaml:"processing_timeout"`
	ShutdownGracePeriod  time.Duration `yaml:"shutdown_grace_period"`
	ReclaimInterval      time.Duration `yaml:"reclaim_interval"`
	MaxRetries           int           `yaml:"max_retries"`
	// AutoStart starts the pool on the first submission.
	AutoStart bool `yaml:"auto_start"`
	// EmbeddedInAPI runs a worker pool inside the API process.
	EmbeddedInAPI bool `yaml:"embedded_in_api"`
}

// Load reads and parses the configuration file, applies environment
// overrides for secrets and fills defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnv()
	config.ApplyDefaults()

	return &config, nil
}

// applyEnv lets secrets come from the environment (or a .env file)
func (c *Config) applyEnv() {
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("RABBITMQ_PASSWORD"); v != "" {
		c.RabbitMQ.Password = v
	}
	if v := os.Getenv("RENDERER_ENDPOINT"); v != "" {
		c.Renderer.Endpoint = v
	}
}

// ApplyDefaults fills zero values with the documented defaults
func (c *Config) ApplyDefaults() {
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.RetryAttempts == 0 {
		c.Redis.RetryAttempts = 3
	}
	if c.Redis.RetryInterval == 0 {
		c.Redis.RetryInterval = 2 * time.Second
	}
	if c.Storage.Namespace == "" {
		c.Storage.Namespace = "documents"
	}
	if c.Renderer.Timeout == 0 {
		c.Renderer.Timeout = 30 * time.Minute
	}
	if c.RabbitMQ.EventsRoutingPrefix == "" {
		c.RabbitMQ.EventsRoutingPrefix = "job.status"
	}
	if c.RabbitMQ.Consumer.PrefetchCount == 0 {
		c.RabbitMQ.Consumer.PrefetchCount = 10
	}

	w := &c.Worker
	if w.MaxConcurrentWorkers == 0 {
		w.MaxConcurrentWorkers = 3
	}
	if w.PollInterval == 0 {
		w.PollInterval = time.Second
	}
	if w.ProcessingTimeout == 0 {
		w.ProcessingTimeout = 30 * time.Minute
	}
	if w.ShutdownGracePeriod == 0 {
		w.ShutdownGracePeriod = 60 * time.Second
	}
	if w.MaxRetries == 0 {
		w.MaxRetries = 3
	}
}

// ValidateAPIConfig checks the settings the API service depends on
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateCore(); err != nil {
		return err
	}

	if c.Worker.EmbeddedInAPI && c.Renderer.Endpoint == "" {
		return fmt.Errorf("renderer endpoint is required when the worker pool is embedded")
	}

	return c.validateDatabase()
}

// ValidateWorkerConfig checks the settings the worker service depends on
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateCore(); err != nil {
		return err
	}

	if c.Renderer.Endpoint == "" {
		return fmt.Errorf("renderer endpoint is required")
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
		if c.RabbitMQ.Queue.Name == "" {
			return fmt.Errorf("rabbitmq queue name is required")
		}
	}

	return nil
}

func (c *Config) validateCore() error {
	if c.Redis.Host == "" {
		return fmt.Errorf("redis host is required")
	}

	if c.Redis.Port < MinPort || c.Redis.Port > MaxPort {
		return fmt.Errorf("invalid redis port: %d (must be between %d and %d)", c.Redis.Port, MinPort, MaxPort)
	}

	if c.Storage.Root == "" {
		return fmt.Errorf("storage root is required")
	}

	if c.Storage.PublicBaseURL == "" {
		return fmt.Errorf("storage public_base_url is required")
	}

	w := c.Worker
	if w.MaxConcurrentWorkers < 1 || w.MaxConcurrentWorkers > MaxConcurrentWorkers {
		return fmt.Errorf("worker max_concurrent_workers must be between 1 and %d", MaxConcurrentWorkers)
	}

	if w.PollInterval <= 0 {
		return fmt.Errorf("worker poll_interval must be greater than 0")
	}

	if w.ProcessingTimeout <= 0 {
		return fmt.Errorf("worker processing_timeout must be greater than 0")
	}

	if w.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("worker shutdown_grace_period must be greater than 0")
	}

	if w.MaxRetries < 1 {
		return fmt.Errorf("worker max_retries must be at least 1")
	}

	if w.ReclaimInterval < 0 {
		return fmt.Errorf("worker reclaim_interval must not be negative")
	}

	return nil
}

func (c *Config) validateDatabase() error {
	if !c.Database.Enabled {
		return nil
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

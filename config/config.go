package config

import (
	"fmt"
	"time"
)

// Config is the complete configuration for the SagaFlow engine service.
type Config struct {
	// Log configures structured logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures the OpenTelemetry SDK.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Store configures the execution store backend.
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Events configures the lifecycle event publisher.
	Events EventsConfig `yaml:"events" env:"EVENTS"`

	// Engine configures execution scheduling and retry behavior.
	Engine EngineConfig `yaml:"engine" env:"ENGINE"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
}

// TelemetryConfig configures OTel traces and metrics export.
type TelemetryConfig struct {
	// Enabled turns telemetry on. When false, noop providers are used.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// ServiceName identifies this service in traces.
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// OTLPEndpoint is the OTLP gRPC collector endpoint (host:port).
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// SampleRate is the trace sampling ratio in [0,1].
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// StoreConfig configures the execution store backend.
type StoreConfig struct {
	// Type is one of memory, redis, postgres, mysql, sqlite.
	Type string `yaml:"type" env:"TYPE"`
	// DSN is the database connection string for SQL backends.
	DSN string `yaml:"dsn" env:"DSN"`
	// Redis holds redis connection settings (type "redis" only).
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
	// Pool holds SQL connection pool settings.
	Pool PoolConfig `yaml:"pool" env:"POOL"`
	// Migrate runs schema migrations on startup for SQL backends.
	Migrate bool `yaml:"migrate" env:"MIGRATE"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// PoolConfig holds SQL connection pool settings.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	MaxOpenConns        int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	ConnMaxLifetime     time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime     time.Duration `yaml:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// EventsConfig configures the lifecycle event publisher.
type EventsConfig struct {
	// Publisher is one of nop, log, redis.
	Publisher string `yaml:"publisher" env:"PUBLISHER"`
	// Channel is the pub/sub channel name (redis publisher).
	Channel string `yaml:"channel" env:"CHANNEL"`
	// Redis holds redis connection settings (redis publisher).
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
	// PublishTimeout bounds a single publish attempt.
	PublishTimeout time.Duration `yaml:"publish_timeout" env:"PUBLISH_TIMEOUT"`
}

// EngineConfig configures execution scheduling and retry behavior.
type EngineConfig struct {
	// MaxConcurrentExecutions bounds simultaneously running coordinators.
	MaxConcurrentExecutions int `yaml:"max_concurrent_executions" env:"MAX_CONCURRENT_EXECUTIONS"`
	// QueueSize bounds executions waiting for a coordinator slot.
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
	// MaxConcurrentSteps bounds simultaneously running steps per execution.
	// Zero means unbounded.
	MaxConcurrentSteps int64 `yaml:"max_concurrent_steps" env:"MAX_CONCURRENT_STEPS"`
	// StepTimeout bounds a single step dispatch.
	StepTimeout time.Duration `yaml:"step_timeout" env:"STEP_TIMEOUT"`
	// SubmitRatePerSecond throttles SubmitExecution. Zero disables throttling.
	SubmitRatePerSecond float64 `yaml:"submit_rate_per_second" env:"SUBMIT_RATE_PER_SECOND"`
	// SubmitBurst is the burst size of the submission limiter.
	SubmitBurst int `yaml:"submit_burst" env:"SUBMIT_BURST"`
	// Retry is the default per-step retry policy.
	Retry RetryConfig `yaml:"retry" env:"RETRY"`
}

// RetryConfig is the per-step retry policy.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	// Multiplier is the exponential backoff factor.
	Multiplier float64 `yaml:"multiplier" env:"MULTIPLIER"`
	// Jitter adds ±25% random jitter to each delay.
	Jitter bool `yaml:"jitter" env:"JITTER"`
}

// Validate checks the configuration for obviously invalid values.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "memory", "redis", "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unknown store type: %q", c.Store.Type)
	}

	switch c.Events.Publisher {
	case "nop", "log", "redis":
	default:
		return fmt.Errorf("unknown events publisher: %q", c.Events.Publisher)
	}

	if c.Engine.MaxConcurrentExecutions <= 0 {
		return fmt.Errorf("engine.max_concurrent_executions must be positive, got %d", c.Engine.MaxConcurrentExecutions)
	}
	if c.Engine.Retry.MaxAttempts < 1 {
		return fmt.Errorf("engine.retry.max_attempts must be at least 1, got %d", c.Engine.Retry.MaxAttempts)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry.sample_rate must be in [0,1], got %v", c.Telemetry.SampleRate)
	}
	return nil
}

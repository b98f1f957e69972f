package config

import "time"

// Default returns the default configuration. Values mirror what a
// single-node development deployment needs; production deployments
// override via YAML file and environment.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "sagaflow",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
		Store: StoreConfig{
			Type:    "memory",
			Migrate: true,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				PoolSize:  10,
				KeyPrefix: "sagaflow:",
			},
			Pool: PoolConfig{
				MaxIdleConns:        10,
				MaxOpenConns:        100,
				ConnMaxLifetime:     time.Hour,
				ConnMaxIdleTime:     10 * time.Minute,
				HealthCheckInterval: 30 * time.Second,
			},
		},
		Events: EventsConfig{
			Publisher:      "log",
			Channel:        "sagaflow.events",
			PublishTimeout: 2 * time.Second,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
		},
		Engine: EngineConfig{
			MaxConcurrentExecutions: 256,
			QueueSize:               1024,
			MaxConcurrentSteps:      0,
			StepTimeout:             60 * time.Second,
			SubmitRatePerSecond:     0,
			SubmitBurst:             1,
			Retry: RetryConfig{
				MaxAttempts:  3,
				InitialDelay: 1 * time.Second,
				MaxDelay:     30 * time.Second,
				Multiplier:   2.0,
				Jitter:       true,
			},
		},
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, "log", cfg.Events.Publisher)
	assert.Equal(t, 3, cfg.Engine.Retry.MaxAttempts)
	assert.Equal(t, 2.0, cfg.Engine.Retry.Multiplier)
	assert.True(t, cfg.Engine.Retry.Jitter)
	assert.Equal(t, 60*time.Second, cfg.Engine.StepTimeout)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
store:
  type: redis
  redis:
    addr: redis.internal:6379
engine:
  max_concurrent_executions: 32
  retry:
    max_attempts: 5
    initial_delay: 200ms
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, "redis.internal:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 32, cfg.Engine.MaxConcurrentExecutions)
	assert.Equal(t, 5, cfg.Engine.Retry.MaxAttempts)
	assert.Equal(t, 200*time.Millisecond, cfg.Engine.Retry.InitialDelay)

	// Unset fields keep their defaults.
	assert.Equal(t, "log", cfg.Events.Publisher)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SAGAFLOW_STORE_TYPE", "sqlite")
	t.Setenv("SAGAFLOW_STORE_DSN", "file:test.db?mode=memory")
	t.Setenv("SAGAFLOW_ENGINE_RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("SAGAFLOW_ENGINE_STEP_TIMEOUT", "5s")
	t.Setenv("SAGAFLOW_ENGINE_RETRY_JITTER", "false")
	t.Setenv("SAGAFLOW_TELEMETRY_SAMPLE_RATE", "0.25")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.Equal(t, "file:test.db?mode=memory", cfg.Store.DSN)
	assert.Equal(t, 7, cfg.Engine.Retry.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Engine.StepTimeout)
	assert.False(t, cfg.Engine.Retry.Jitter)
	assert.Equal(t, 0.25, cfg.Telemetry.SampleRate)
}

func TestLoad_InvalidEnvValue(t *testing.T) {
	t.Setenv("SAGAFLOW_ENGINE_MAX_CONCURRENT_EXECUTIONS", "not-a-number")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAGAFLOW_ENGINE_MAX_CONCURRENT_EXECUTIONS")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"bad store type", func(c *Config) { c.Store.Type = "etcd" }, "unknown store type"},
		{"bad publisher", func(c *Config) { c.Events.Publisher = "kafka" }, "unknown events publisher"},
		{"zero concurrency", func(c *Config) { c.Engine.MaxConcurrentExecutions = 0 }, "max_concurrent_executions"},
		{"zero attempts", func(c *Config) { c.Engine.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"bad sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a fully valid configuration for mutation in tests.
func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Platform.Organization = "contoso"
	cfg.Analyzer.URL = "http://analyzer.test:8081"
	cfg.PlatformPAT = "pat"
	cfg.DatabaseURL = "postgres://localhost/reviewd"
	cfg.RedisURL = "redis://localhost:6379/0"
	return cfg
}

func TestValidateAllValid(t *testing.T) {
	require.NoError(t, NewValidator(validConfig()).ValidateAll())
}

func TestValidateAll(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing PAT", func(c *Config) { c.PlatformPAT = "" }, "AZURE_DEVOPS_PAT"},
		{"missing database URL", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
		{"missing redis URL", func(c *Config) { c.RedisURL = "" }, "REDIS_URL"},
		{"zero workers", func(c *Config) { c.Queue.WorkerCount = 0 }, "worker_count"},
		{"zero poll interval", func(c *Config) { c.Queue.PollInterval = 0 }, "poll_interval"},
		{"jitter at least poll interval", func(c *Config) { c.Queue.PollIntervalJitter = c.Queue.PollInterval }, "poll_interval_jitter"},
		{"zero agent deadline", func(c *Config) { c.Queue.AgentDeadline = 0 }, "agent_deadline"},
		{"visibility equal to deadline", func(c *Config) { c.Queue.VisibilityTimeout = c.Queue.AgentDeadline }, "visibility_timeout"},
		{"missing organization", func(c *Config) { c.Platform.Organization = "" }, "organization"},
		{"missing platform base URL", func(c *Config) { c.Platform.BaseURL = "" }, "base_url"},
		{"missing analyzer URL", func(c *Config) { c.Analyzer.URL = "" }, "analyzer"},
		{"zero analyzer concurrency", func(c *Config) { c.Analyzer.MaxConcurrent = 0 }, "max_concurrent"},
		{"zero batch size", func(c *Config) { c.Analyzer.BatchSize = 0 }, "batch_size"},
		{"zero store timeout", func(c *Config) { c.Store.Timeout = 0 }, "timeout"},
		{"zero state TTL", func(c *Config) { c.Store.StateTTL = 0 }, "state_ttl"},
		{"zero retry attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"retry jitter out of range", func(c *Config) { c.Retry.Jitter = 0.5 }, "jitter"},
		{"negative retry jitter", func(c *Config) { c.Retry.Jitter = -0.1 }, "jitter"},
		{"max delay below base delay", func(c *Config) { c.Retry.MaxDelay = c.Retry.BaseDelay / 2 }, "max_delay"},
		{"zero breaker threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }, "failure_threshold"},
		{"zero breaker cooldown", func(c *Config) { c.Breaker.Cooldown = 0 }, "cooldown"},
		{"negative context lines", func(c *Config) { c.Review.ContextLines = -1 }, "context_lines"},
		{"nil queue section", func(c *Config) { c.Queue = nil }, "queue"},
		{"nil review section", func(c *Config) { c.Review = nil }, "review"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := NewValidator(cfg).ValidateAll()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidationErrorContext(t *testing.T) {
	cfg := validConfig()
	cfg.Queue.WorkerCount = 0

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "queue", verr.Section)
	assert.Equal(t, "worker_count", verr.Field)
}

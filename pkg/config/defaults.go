package config

import "time"

// Default values applied before YAML overrides are merged in.
const (
	DefaultLogLevel = "info"
	DefaultHTTPPort = 8080

	DefaultWorkerCount             = 3
	DefaultPollInterval            = 2 * time.Second
	DefaultPollIntervalJitter      = 500 * time.Millisecond
	DefaultVisibilityTimeout       = 12 * time.Minute
	DefaultAgentDeadline           = 10 * time.Minute
	DefaultSupervisorInterval      = 1 * time.Second
	DefaultClaimWait               = 10 * time.Second
	DefaultGracefulShutdownTimeout = 10 * time.Minute

	DefaultPlatformBaseURL = "https://dev.azure.com"
	DefaultPlatformTimeout = 30 * time.Second

	DefaultAnalyzerTimeout       = 60 * time.Second
	DefaultAnalyzerMaxConcurrent = 8
	DefaultAnalyzerBatchSize     = 8

	DefaultStoreTimeout = 10 * time.Second
	DefaultStateTTL     = 24 * time.Hour

	DefaultRetryMaxAttempts = 3
	DefaultRetryBaseDelay   = 1 * time.Second
	DefaultRetryMaxDelay    = 60 * time.Second
	DefaultRetryJitter      = 0.4

	DefaultBreakerFailureThreshold = 5
	DefaultBreakerCooldown         = 60 * time.Second

	DefaultContextLines = 3
)

// DefaultConfig returns a fully populated Config with built-in defaults.
// YAML values are merged over this via mergo, so every pointer section
// must be non-nil here.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: DefaultLogLevel,
		HTTPPort: DefaultHTTPPort,
		Queue:    DefaultQueueConfig(),
		Platform: DefaultPlatformConfig(),
		Analyzer: DefaultAnalyzerConfig(),
		Store:    DefaultStoreConfig(),
		Retry:    DefaultRetryConfig(),
		Breaker:  DefaultBreakerConfig(),
		Review:   DefaultReviewConfig(),
	}
}

// DefaultQueueConfig returns queue defaults tuned for the review workload:
// a small worker pool and a visibility window that outlasts one agent run.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             DefaultWorkerCount,
		PollInterval:            DefaultPollInterval,
		PollIntervalJitter:      DefaultPollIntervalJitter,
		VisibilityTimeout:       DefaultVisibilityTimeout,
		AgentDeadline:           DefaultAgentDeadline,
		SupervisorInterval:      DefaultSupervisorInterval,
		ClaimWait:               DefaultClaimWait,
		GracefulShutdownTimeout: DefaultGracefulShutdownTimeout,
	}
}

func DefaultPlatformConfig() *PlatformConfig {
	return &PlatformConfig{
		BaseURL: DefaultPlatformBaseURL,
		Timeout: DefaultPlatformTimeout,
	}
}

func DefaultAnalyzerConfig() *AnalyzerConfig {
	return &AnalyzerConfig{
		Timeout:       DefaultAnalyzerTimeout,
		MaxConcurrent: DefaultAnalyzerMaxConcurrent,
		BatchSize:     DefaultAnalyzerBatchSize,
	}
}

func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		Timeout:  DefaultStoreTimeout,
		StateTTL: DefaultStateTTL,
	}
}

func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: DefaultRetryMaxAttempts,
		BaseDelay:   DefaultRetryBaseDelay,
		MaxDelay:    DefaultRetryMaxDelay,
		Jitter:      DefaultRetryJitter,
	}
}

func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		FailureThreshold: DefaultBreakerFailureThreshold,
		Cooldown:         DefaultBreakerCooldown,
	}
}

func DefaultReviewConfig() *ReviewConfig {
	return &ReviewConfig{
		ContextLines: DefaultContextLines,
	}
}

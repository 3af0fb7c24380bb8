package config

import "time"

// Config is the umbrella configuration object returned by Initialize()
// and used throughout the application. YAML tuning values are merged over
// built-in defaults; credentials and endpoints come from the environment.
type Config struct {
	configPath string // Configuration file path (for reference)

	// LogLevel controls the slog level: debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// HTTPPort is the listen port for the webhook/admin/health server.
	HTTPPort int `yaml:"http_port"`

	// PublicBaseURL is the externally reachable base URL of this service,
	// used when registering platform service hooks. Optional until the
	// first repository registration.
	PublicBaseURL string `yaml:"public_base_url"`

	Queue    *QueueConfig    `yaml:"queue"`
	Platform *PlatformConfig `yaml:"platform"`
	Analyzer *AnalyzerConfig `yaml:"analyzer"`
	Store    *StoreConfig    `yaml:"store"`
	Retry    *RetryConfig    `yaml:"retry"`
	Breaker  *BreakerConfig  `yaml:"breaker"`
	Review   *ReviewConfig   `yaml:"review"`

	// Environment-sourced values (never read from YAML).
	DatabaseURL    string `yaml:"-"`
	RedisURL       string `yaml:"-"`
	PlatformPAT    string `yaml:"-"`
	AnalyzerAPIKey string `yaml:"-"`
	WebhookSecret  string `yaml:"-"`
	AdminAPIKey    string `yaml:"-"`
}

// QueueConfig contains queue and worker pool configuration.
// These values control how review jobs are dequeued, claimed, and supervised.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines. Each worker runs at
	// most one review agent at a time.
	WorkerCount int `yaml:"worker_count"`

	// PollInterval is the base interval for checking the job queue.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// VisibilityTimeout is how long a dequeued entry stays invisible before
	// the store redelivers it to another worker. Must exceed AgentDeadline
	// so redelivery only happens after a crashed run's deadline.
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`

	// AgentDeadline is the wall-clock budget for one review run.
	AgentDeadline time.Duration `yaml:"agent_deadline"`

	// SupervisorInterval is how often the supervisor scans due timeouts.
	SupervisorInterval time.Duration `yaml:"supervisor_interval"`

	// ClaimWait is how long dispatch waits for a superseded agent to
	// release its PR claim before force-releasing it.
	ClaimWait time.Duration `yaml:"claim_wait"`

	// GracefulShutdownTimeout is the max time to wait for active agents
	// to finish during shutdown. Should match AgentDeadline.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// PlatformConfig configures the Azure DevOps client.
type PlatformConfig struct {
	// Organization is the Azure DevOps organization name.
	Organization string `yaml:"organization"`

	// BaseURL is the platform API root.
	BaseURL string `yaml:"base_url"`

	// Timeout is the per-call deadline for platform API requests.
	Timeout time.Duration `yaml:"timeout"`
}

// AnalyzerConfig configures the external analysis service client.
type AnalyzerConfig struct {
	// URL is the analyzer service endpoint root.
	URL string `yaml:"url"`

	// Timeout is the per-call deadline for analyzer requests.
	Timeout time.Duration `yaml:"timeout"`

	// MaxConcurrent bounds in-flight analyzer calls across one review run.
	MaxConcurrent int64 `yaml:"max_concurrent"`

	// BatchSize is the maximum number of chunks per analyze call.
	BatchSize int `yaml:"batch_size"`
}

// StoreConfig configures the state store client.
type StoreConfig struct {
	// Timeout is the per-operation deadline for store calls.
	Timeout time.Duration `yaml:"timeout"`

	// StateTTL is how long checkpointed agent state blobs live.
	StateTTL time.Duration `yaml:"state_ttl"`
}

// RetryConfig configures the retry-with-backoff budget for outbound calls.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`

	// Jitter is the multiplicative jitter upper bound, in [0, 0.5).
	Jitter float64 `yaml:"jitter"`
}

// BreakerConfig configures the per-dependency circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// Cooldown is how long the circuit stays open before a half-open probe.
	Cooldown time.Duration `yaml:"cooldown"`
}

// ReviewConfig tunes review semantics.
type ReviewConfig struct {
	// ContextLines is the surrounding band added to each changed region,
	// both when building the change delta and when extracting analyzer
	// context.
	ContextLines int `yaml:"context_lines"`

	// RulesPath optionally points at a YAML file adjusting the built-in
	// rule sets (enabled rules, prompt overrides, extension claims).
	RulesPath string `yaml:"rules_path"`
}

// ConfigPath returns the configuration file path
func (c *Config) ConfigPath() string {
	return c.configPath
}

package config

import "fmt"

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateSections(); err != nil {
		return err
	}

	if err := v.validateEnvironment(); err != nil {
		return err
	}

	if err := v.validateQueue(); err != nil {
		return err
	}

	if err := v.validatePlatform(); err != nil {
		return err
	}

	if err := v.validateAnalyzer(); err != nil {
		return err
	}

	if err := v.validateStore(); err != nil {
		return err
	}

	if err := v.validateRetry(); err != nil {
		return err
	}

	if err := v.validateBreaker(); err != nil {
		return err
	}

	return v.validateReview()
}

func (v *ConfigValidator) validateSections() error {
	if v.cfg.Queue == nil {
		return NewValidationError("queue", "", ErrMissingRequiredField)
	}
	if v.cfg.Platform == nil {
		return NewValidationError("platform", "", ErrMissingRequiredField)
	}
	if v.cfg.Analyzer == nil {
		return NewValidationError("analyzer", "", ErrMissingRequiredField)
	}
	if v.cfg.Store == nil {
		return NewValidationError("store", "", ErrMissingRequiredField)
	}
	if v.cfg.Retry == nil {
		return NewValidationError("retry", "", ErrMissingRequiredField)
	}
	if v.cfg.Breaker == nil {
		return NewValidationError("breaker", "", ErrMissingRequiredField)
	}
	if v.cfg.Review == nil {
		return NewValidationError("review", "", ErrMissingRequiredField)
	}
	return nil
}

func (v *ConfigValidator) validateEnvironment() error {
	if v.cfg.PlatformPAT == "" {
		return NewValidationError("platform", "pat", fmt.Errorf("%w: %s", ErrMissingEnv, EnvPAT))
	}
	if v.cfg.DatabaseURL == "" {
		return NewValidationError("database", "url", fmt.Errorf("%w: %s", ErrMissingEnv, EnvDatabaseURL))
	}
	if v.cfg.RedisURL == "" {
		return NewValidationError("store", "redis_url", fmt.Errorf("%w: %s", ErrMissingEnv, EnvRedisURL))
	}
	return nil
}

func (v *ConfigValidator) validateQueue() error {
	q := v.cfg.Queue

	if q.WorkerCount < 1 {
		return NewValidationError("queue", "worker_count", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if q.PollInterval <= 0 {
		return NewValidationError("queue", "poll_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if q.PollIntervalJitter < 0 || q.PollIntervalJitter >= q.PollInterval {
		return NewValidationError("queue", "poll_interval_jitter", fmt.Errorf("%w: must be in [0, poll_interval)", ErrInvalidValue))
	}
	if q.AgentDeadline <= 0 {
		return NewValidationError("queue", "agent_deadline", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if q.VisibilityTimeout <= q.AgentDeadline {
		return NewValidationError("queue", "visibility_timeout", fmt.Errorf("%w: must exceed agent_deadline", ErrInvalidValue))
	}
	if q.SupervisorInterval <= 0 {
		return NewValidationError("queue", "supervisor_interval", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if q.ClaimWait <= 0 {
		return NewValidationError("queue", "claim_wait", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if q.GracefulShutdownTimeout <= 0 {
		return NewValidationError("queue", "graceful_shutdown_timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}

	return nil
}

func (v *ConfigValidator) validatePlatform() error {
	p := v.cfg.Platform

	if p.Organization == "" {
		return NewValidationError("platform", "organization", fmt.Errorf("%w: set %s or platform.organization", ErrMissingRequiredField, EnvOrganization))
	}
	if p.BaseURL == "" {
		return NewValidationError("platform", "base_url", ErrMissingRequiredField)
	}
	if p.Timeout <= 0 {
		return NewValidationError("platform", "timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}

	return nil
}

func (v *ConfigValidator) validateAnalyzer() error {
	a := v.cfg.Analyzer

	if a.URL == "" {
		return NewValidationError("analyzer", "url", fmt.Errorf("%w: set %s or analyzer.url", ErrMissingRequiredField, EnvAnalyzerURL))
	}
	if a.Timeout <= 0 {
		return NewValidationError("analyzer", "timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if a.MaxConcurrent < 1 {
		return NewValidationError("analyzer", "max_concurrent", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if a.BatchSize < 1 {
		return NewValidationError("analyzer", "batch_size", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}

	return nil
}

func (v *ConfigValidator) validateStore() error {
	s := v.cfg.Store

	if s.Timeout <= 0 {
		return NewValidationError("store", "timeout", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if s.StateTTL <= 0 {
		return NewValidationError("store", "state_ttl", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}

	return nil
}

func (v *ConfigValidator) validateRetry() error {
	r := v.cfg.Retry

	if r.MaxAttempts < 1 {
		return NewValidationError("retry", "max_attempts", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if r.BaseDelay <= 0 {
		return NewValidationError("retry", "base_delay", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if r.MaxDelay < r.BaseDelay {
		return NewValidationError("retry", "max_delay", fmt.Errorf("%w: must be at least base_delay", ErrInvalidValue))
	}
	if r.Jitter < 0 || r.Jitter >= 0.5 {
		return NewValidationError("retry", "jitter", fmt.Errorf("%w: must be in [0, 0.5)", ErrInvalidValue))
	}

	return nil
}

func (v *ConfigValidator) validateBreaker() error {
	b := v.cfg.Breaker

	if b.FailureThreshold < 1 {
		return NewValidationError("breaker", "failure_threshold", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if b.Cooldown <= 0 {
		return NewValidationError("breaker", "cooldown", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}

	return nil
}

func (v *ConfigValidator) validateReview() error {
	if v.cfg.Review.ContextLines < 0 {
		return NewValidationError("review", "context_lines", fmt.Errorf("%w: must be non-negative", ErrInvalidValue))
	}
	return nil
}

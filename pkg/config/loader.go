package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Environment variables consumed during configuration loading. Credentials
// and connection strings are environment-only; tuning values live in YAML.
const (
	EnvConfigPath     = "REVIEWD_CONFIG"
	EnvOrganization   = "AZURE_DEVOPS_ORG"
	EnvPAT            = "AZURE_DEVOPS_PAT"
	EnvAnalyzerURL    = "ANALYZER_URL"
	EnvAnalyzerAPIKey = "ANALYZER_API_KEY"
	EnvDatabaseURL    = "DATABASE_URL"
	EnvRedisURL       = "REDIS_URL"
	EnvWebhookSecret  = "WEBHOOK_SECRET"
	EnvAdminAPIKey    = "ADMIN_API_KEY"
	EnvPublicBaseURL  = "PUBLIC_BASE_URL"
)

// DefaultConfigPath is tried when REVIEWD_CONFIG is not set. A missing file
// at the default path is not an error; the service runs on defaults.
const DefaultConfigPath = "config/reviewd.yaml"

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Resolve the configuration file path (explicit arg > REVIEWD_CONFIG > default)
//  2. Read the YAML file if present, expanding environment variables
//  3. Merge file values over built-in defaults
//  4. Resolve environment-only values (credentials, connection strings)
//  5. Validate all configuration
//  6. Return Config ready for use
func Initialize(ctx context.Context, configPath string) (*Config, error) {
	cfg, err := load(ctx, configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	log := slog.With("config_path", cfg.configPath)
	log.Info("Configuration initialized successfully",
		"organization", cfg.Platform.Organization,
		"worker_count", cfg.Queue.WorkerCount,
		"agent_deadline", cfg.Queue.AgentDeadline,
		"visibility_timeout", cfg.Queue.VisibilityTimeout)

	if cfg.WebhookSecret == "" {
		log.Warn("WEBHOOK_SECRET not set, webhook signature verification is disabled")
	}

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configPath string) (*Config, error) {
	// 1. Resolve path. An explicitly requested file must exist; the default
	// path is best-effort.
	required := true
	if configPath == "" {
		configPath = os.Getenv(EnvConfigPath)
	}
	if configPath == "" {
		configPath = DefaultConfigPath
		required = false
	}

	// 2. Start from built-in defaults
	cfg := DefaultConfig()
	cfg.configPath = configPath

	// 3. Merge file values over defaults (non-zero values override)
	fileCfg, err := loadYAML(configPath, required)
	if err != nil {
		return nil, NewLoadError(configPath, err)
	}
	if fileCfg != nil {
		if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge configuration file: %w", err)
		}
	}

	// 4. Resolve environment-only values
	resolveEnv(cfg)

	return cfg, nil
}

// loadYAML reads and parses a configuration file. Returns (nil, nil) when the
// file is absent and not required.
func loadYAML(path string, required bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if !required {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return &cfg, nil
}

// resolveEnv fills in environment-sourced fields. Environment values win over
// YAML for fields that can come from either (organization, analyzer URL,
// public base URL).
func resolveEnv(cfg *Config) {
	if v := os.Getenv(EnvOrganization); v != "" {
		cfg.Platform.Organization = v
	}
	if v := os.Getenv(EnvAnalyzerURL); v != "" {
		cfg.Analyzer.URL = v
	}
	if v := os.Getenv(EnvPublicBaseURL); v != "" {
		cfg.PublicBaseURL = v
	}

	cfg.PlatformPAT = os.Getenv(EnvPAT)
	cfg.AnalyzerAPIKey = os.Getenv(EnvAnalyzerAPIKey)
	cfg.DatabaseURL = os.Getenv(EnvDatabaseURL)
	cfg.RedisURL = os.Getenv(EnvRedisURL)
	cfg.WebhookSecret = os.Getenv(EnvWebhookSecret)

	// The admin API falls back to the webhook secret when no dedicated
	// key is configured.
	cfg.AdminAPIKey = os.Getenv(EnvAdminAPIKey)
	if cfg.AdminAPIKey == "" {
		cfg.AdminAPIKey = cfg.WebhookSecret
	}
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

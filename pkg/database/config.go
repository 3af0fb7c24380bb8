package database

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config holds database connection settings. The connection URL comes from
// application configuration (DATABASE_URL); pool tunables default sensibly
// and can be overridden via DB_* environment variables.
type Config struct {
	URL string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewConfig returns pool defaults for the given connection URL, honoring
// DB_MAX_OPEN_CONNS and DB_MAX_IDLE_CONNS overrides.
func NewConfig(url string) Config {
	return Config{
		URL:             url,
		MaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Validate checks connection settings before opening the pool
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("database URL is required")
	}
	if c.MaxOpenConns < 1 {
		return errors.New("max open connections must be at least 1")
	}
	if c.MaxIdleConns < 0 || c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max idle connections must be in [0, max open connections]")
	}
	return nil
}

func envIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			return n
		}
	}
	return defaultVal
}

// Package store implements the durable state backend on Redis: the review
// job queue with visibility-timeout redelivery, per-agent state blobs,
// PR claims, iteration watermarks, and the supervision timeout set.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/reviewd/pkg/resilience"
)

// Key layout. All queue structures share the job_queue:pr_reviews prefix so
// a single review deployment owns one namespace.
const (
	queueKey         = "job_queue:pr_reviews"
	queueInflightKey = queueKey + ":inflight"
	queueEntriesKey  = queueKey + ":entries"
	queueAttemptsKey = queueKey + ":attempts"
	queueDedupPrefix = queueKey + ":dedup:"
	claimPrefix      = "pr_claims:"
	statePrefix      = "agent_state:"
	watermarkPrefix  = "watermark:"
	timeoutsKey      = "agent_timeouts"
)

func dedupKey(key string) string { return queueDedupPrefix + key }

func claimKey(prID string) string { return claimPrefix + prID }

func stateKey(agentID string) string { return statePrefix + agentID }

func watermarkKey(repoID, prID string) string {
	return watermarkPrefix + repoID + ":" + prID
}

// Options tunes store behavior.
type Options struct {
	// Timeout is the per-operation budget applied to every backend call.
	Timeout time.Duration

	// StateTTL bounds how long checkpointed agent state blobs live.
	StateTTL time.Duration

	// VisibilityTimeout is how long a dequeued entry stays invisible
	// before it is promoted back onto the pending list.
	VisibilityTimeout time.Duration
}

// Client is the façade over Redis used by every component. All operations
// run inside the retry kit with the configured per-operation timeout;
// exhausted retries surface as ErrStoreUnavailable.
type Client struct {
	rdb     *redis.Client
	opts    Options
	retryer *resilience.Retryer
	logger  *slog.Logger
}

// NewClient connects to Redis and verifies connectivity.
func NewClient(ctx context.Context, redisURL string, opts Options, retryer *resilience.Retryer, logger *slog.Logger) (*Client, error) {
	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	rdb := redis.NewClient(ropts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewClientFromRedis(rdb, opts, retryer, logger), nil
}

// NewClientFromRedis wraps an existing Redis connection (useful for testing)
func NewClientFromRedis(rdb *redis.Client, opts Options, retryer *resilience.Retryer, logger *slog.Logger) *Client {
	if rdb == nil {
		panic("redis client is required")
	}
	if retryer == nil {
		panic("retryer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rdb:     rdb,
		opts:    opts,
		retryer: retryer,
		logger:  logger.With("component", "store"),
	}
}

// Close releases the underlying connection pool
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies backend connectivity (health probe)
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// do runs one store operation inside the retry kit with the per-operation
// timeout. Transient failures that survive the whole budget are reported as
// ErrStoreUnavailable; domain errors (not-found, duplicates) pass through.
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := c.retryer.Do(ctx, op, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
		return fn(opCtx)
	})
	if err != nil && resilience.IsTransient(err) {
		return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
	}
	return err
}

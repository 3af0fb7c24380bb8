package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ScheduleTimeout registers an agent's wall deadline for supervision.
func (c *Client) ScheduleTimeout(ctx context.Context, agentID string, at time.Time) error {
	return c.do(ctx, "schedule_timeout", func(ctx context.Context) error {
		return c.rdb.ZAdd(ctx, timeoutsKey, redis.Z{
			Score:  float64(at.UnixMilli()),
			Member: agentID,
		}).Err()
	})
}

// CancelTimeout removes an agent's deadline entry (terminal cleanup).
func (c *Client) CancelTimeout(ctx context.Context, agentID string) error {
	return c.do(ctx, "cancel_timeout", func(ctx context.Context) error {
		return c.rdb.ZRem(ctx, timeoutsKey, agentID).Err()
	})
}

// DueTimeouts returns agent ids whose deadline is at or before now.
func (c *Client) DueTimeouts(ctx context.Context, now time.Time) ([]string, error) {
	var due []string
	err := c.do(ctx, "due_timeouts", func(ctx context.Context) error {
		ids, err := c.rdb.ZRangeByScore(ctx, timeoutsKey, &redis.ZRangeBy{
			Min: "-inf",
			Max: strconv.FormatInt(now.UnixMilli(), 10),
		}).Result()
		if err != nil {
			return err
		}
		due = ids
		return nil
	})
	if err != nil {
		return nil, err
	}
	return due, nil
}

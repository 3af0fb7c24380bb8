package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// SetWatermark records the last successfully reviewed iteration for a PR.
// Watermarks have no TTL: they outlive agent state so later updates diff
// against the right baseline.
func (c *Client) SetWatermark(ctx context.Context, repoID, prID string, iteration int) error {
	return c.do(ctx, "set_watermark", func(ctx context.Context) error {
		return c.rdb.Set(ctx, watermarkKey(repoID, prID), strconv.Itoa(iteration), 0).Err()
	})
}

// GetWatermark returns the last reviewed iteration, or ErrWatermarkNotFound.
func (c *Client) GetWatermark(ctx context.Context, repoID, prID string) (int, error) {
	var iteration int
	found := false

	err := c.do(ctx, "get_watermark", func(ctx context.Context) error {
		v, err := c.rdb.Get(ctx, watermarkKey(repoID, prID)).Result()
		if errors.Is(err, redis.Nil) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}

		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("corrupt watermark %q: %w", v, err)
		}
		iteration = n
		found = true
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%w: %s/%s", ErrWatermarkNotFound, repoID, prID)
	}
	return iteration, nil
}

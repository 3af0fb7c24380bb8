package store

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

// claimScript is the CAS for PR ownership: the claim succeeds iff the key is
// unset or already held by the same agent. Returns {1, agent_id} on success
// or {0, holder_id} on conflict.
var claimScript = redis.NewScript(`
local holder = redis.call('GET', KEYS[1])
if holder and holder ~= ARGV[1] then
  return {0, holder}
end
redis.call('SET', KEYS[1], ARGV[1])
return {1, ARGV[1]}
`)

// releaseScript deletes the claim only when held by the releasing agent.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// ClaimPR attempts to take exclusive review ownership of a PR. On conflict
// it reports the current holder so the caller can run the cancel-and-wait
// protocol before retrying.
func (c *Client) ClaimPR(ctx context.Context, prID, agentID string) (claimed bool, holder string, err error) {
	err = c.do(ctx, "claim_pr", func(ctx context.Context) error {
		res, err := claimScript.Run(ctx, c.rdb, []string{claimKey(prID)}, agentID).Slice()
		if err != nil {
			return err
		}
		won, _ := res[0].(int64)
		claimed = won == 1
		holder, _ = res[1].(string)
		return nil
	})
	return claimed, holder, err
}

// ReleasePR releases a claim; no-op when the agent is not the holder.
func (c *Client) ReleasePR(ctx context.Context, prID, agentID string) error {
	return c.do(ctx, "release_pr", func(ctx context.Context) error {
		return releaseScript.Run(ctx, c.rdb, []string{claimKey(prID)}, agentID).Err()
	})
}

// ForceReleasePR removes a claim unconditionally. Used by the orchestrator
// after a superseded agent fails to release within the claim-wait budget.
func (c *Client) ForceReleasePR(ctx context.Context, prID string) error {
	return c.do(ctx, "force_release_pr", func(ctx context.Context) error {
		return c.rdb.Del(ctx, claimKey(prID)).Err()
	})
}

// ClaimHolder returns the agent currently holding the PR claim, or "" when
// the PR is unclaimed.
func (c *Client) ClaimHolder(ctx context.Context, prID string) (string, error) {
	var holder string
	err := c.do(ctx, "claim_holder", func(ctx context.Context) error {
		v, err := c.rdb.Get(ctx, claimKey(prID)).Result()
		if errors.Is(err, redis.Nil) {
			holder = ""
			return nil
		}
		if err != nil {
			return err
		}
		holder = v
		return nil
	})
	return holder, err
}

// ActiveClaims returns the pr_id → agent_id map of every held claim.
func (c *Client) ActiveClaims(ctx context.Context) (map[string]string, error) {
	var claims map[string]string

	err := c.do(ctx, "active_claims", func(ctx context.Context) error {
		claims = make(map[string]string)

		var keys []string
		iter := c.rdb.Scan(ctx, 0, claimPrefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return err
		}
		if len(keys) == 0 {
			return nil
		}

		vals, err := c.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			return err
		}
		for i, key := range keys {
			if holder, ok := vals[i].(string); ok {
				claims[strings.TrimPrefix(key, claimPrefix)] = holder
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

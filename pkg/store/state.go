package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/reviewd/pkg/models"
)

// MaxStateSize bounds one agent state blob. Parsed outlines and findings for
// a large PR stay well under this; anything over it indicates runaway state.
const MaxStateSize = 1 << 20

// PutState checkpoints an agent state blob (last-write-wins, TTL-bounded).
func (c *Client) PutState(ctx context.Context, state *models.AgentState) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode agent state: %w", err)
	}
	if len(blob) > MaxStateSize {
		return fmt.Errorf("%w: %d bytes (limit %d)", ErrStateTooLarge, len(blob), MaxStateSize)
	}

	return c.do(ctx, "put_state", func(ctx context.Context) error {
		return c.rdb.Set(ctx, stateKey(state.AgentID), blob, c.opts.StateTTL).Err()
	})
}

// GetState loads the last checkpoint for an agent, or ErrStateNotFound.
func (c *Client) GetState(ctx context.Context, agentID string) (*models.AgentState, error) {
	var state *models.AgentState

	err := c.do(ctx, "get_state", func(ctx context.Context) error {
		blob, err := c.rdb.Get(ctx, stateKey(agentID)).Bytes()
		if errors.Is(err, redis.Nil) {
			state = nil
			return nil
		}
		if err != nil {
			return err
		}

		var s models.AgentState
		if err := json.Unmarshal(blob, &s); err != nil {
			return fmt.Errorf("failed to decode agent state: %w", err)
		}
		state = &s
		return nil
	})
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("%w: %s", ErrStateNotFound, agentID)
	}
	return state, nil
}

// DeleteState removes an agent's checkpoint.
func (c *Client) DeleteState(ctx context.Context, agentID string) error {
	return c.do(ctx, "delete_state", func(ctx context.Context) error {
		return c.rdb.Del(ctx, stateKey(agentID)).Err()
	})
}

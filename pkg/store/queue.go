package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/codeready-toolchain/reviewd/pkg/models"
)

// enqueueScript atomically checks the dedup marker, stores the entry body,
// and appends the entry id to the pending list. Returns {1, id} on success
// or {0, existing_id} when the dedup key is already held.
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return {0, redis.call('GET', KEYS[1])}
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('RPUSH', KEYS[3], ARGV[1])
return {1, ARGV[1]}
`)

// dequeueScript first promotes entries whose visibility window expired back
// onto the pending tail, then pops the head, marks it in flight, and bumps
// its delivery count. Ids whose body is gone (acked concurrently) are
// dropped. Returns false when the queue is empty.
var dequeueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('RPUSH', KEYS[1], id)
end
while true do
  local id = redis.call('LPOP', KEYS[1])
  if not id then
    return false
  end
  local body = redis.call('HGET', KEYS[3], id)
  if body then
    redis.call('ZADD', KEYS[2], ARGV[2], id)
    local attempts = redis.call('HINCRBY', KEYS[4], id, 1)
    return {id, body, attempts}
  end
  redis.call('HDEL', KEYS[4], id)
end
`)

// ackScript removes every trace of an entry, including its dedup marker so
// a later event with the same key can queue a fresh review.
var ackScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
if redis.call('GET', KEYS[4]) == ARGV[1] then
  redis.call('DEL', KEYS[4])
end
return 1
`)

// Enqueue appends an event to the review queue. Events whose dedup key is
// already queued or being processed fail with ErrDuplicateEvent so webhook
// replays never produce a second run.
func (c *Client) Enqueue(ctx context.Context, event *models.PREvent) (*models.QueueEntry, error) {
	entry := &models.QueueEntry{
		ID:         uuid.New().String(),
		Event:      *event,
		DedupKey:   event.DedupKey(),
		EnqueuedAt: time.Now().UTC(),
	}

	body, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to encode queue entry: %w", err)
	}

	var duplicateOf string
	err = c.do(ctx, "enqueue", func(ctx context.Context) error {
		res, err := enqueueScript.Run(ctx, c.rdb,
			[]string{dedupKey(entry.DedupKey), queueEntriesKey, queueKey},
			entry.ID, body).Slice()
		if err != nil {
			return err
		}
		if enqueued, _ := res[0].(int64); enqueued == 0 {
			duplicateOf, _ = res[1].(string)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if duplicateOf != "" {
		return nil, fmt.Errorf("%w: already queued as entry %s", ErrDuplicateEvent, duplicateOf)
	}

	c.logger.Debug("Enqueued review event",
		"entry_id", entry.ID,
		"pr_id", event.PRID,
		"event_kind", event.EventKind,
		"dedup_key", entry.DedupKey)
	return entry, nil
}

// Dequeue pops the oldest pending entry and marks it in flight for the
// visibility window; entries whose window expired are redelivered first.
// Returns ErrNoJobsAvailable when the queue is empty.
func (c *Client) Dequeue(ctx context.Context, workerID string) (*models.QueueEntry, error) {
	var entry *models.QueueEntry

	err := c.do(ctx, "dequeue", func(ctx context.Context) error {
		entry = nil
		now := time.Now()
		visibleAt := now.Add(c.opts.VisibilityTimeout)

		res, err := dequeueScript.Run(ctx, c.rdb,
			[]string{queueKey, queueInflightKey, queueEntriesKey, queueAttemptsKey},
			now.UnixMilli(), visibleAt.UnixMilli()).Slice()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}

		body, ok := res[1].(string)
		if !ok {
			return fmt.Errorf("unexpected entry body type %T", res[1])
		}

		var e models.QueueEntry
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			return fmt.Errorf("failed to decode queue entry: %w", err)
		}

		attempts, _ := res[2].(int64)
		e.Attempts = int(attempts)
		e.VisibleAt = visibleAt.UTC()
		entry = &e
		return nil
	})
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrNoJobsAvailable
	}

	c.logger.Debug("Dequeued review event",
		"entry_id", entry.ID,
		"pr_id", entry.Event.PRID,
		"worker_id", workerID,
		"attempts", entry.Attempts)
	return entry, nil
}

// Ack removes a delivered entry and its dedup marker.
func (c *Client) Ack(ctx context.Context, entry *models.QueueEntry) error {
	return c.do(ctx, "ack", func(ctx context.Context) error {
		return ackScript.Run(ctx, c.rdb,
			[]string{queueInflightKey, queueEntriesKey, queueAttemptsKey, dedupKey(entry.DedupKey)},
			entry.ID).Err()
	})
}

// QueueDepth reports pending and in-flight entry counts.
func (c *Client) QueueDepth(ctx context.Context) (pending, inflight int64, err error) {
	err = c.do(ctx, "queue_depth", func(ctx context.Context) error {
		p, err := c.rdb.LLen(ctx, queueKey).Result()
		if err != nil {
			return err
		}
		f, err := c.rdb.ZCard(ctx, queueInflightKey).Result()
		if err != nil {
			return err
		}
		pending, inflight = p, f
		return nil
	})
	return pending, inflight, err
}

// Package broker is the thin adapter over the Redis-backed durable
// queue: a named-queue client with delayed scheduling, reservation TTLs,
// and dead-letter plumbing, built on redis/go-redis/v9 with small Lua
// scripts where multiple commands need to behave atomically.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Reserve-adjacent lookups when a job id isn't
// present in the expected structure (e.g. replaying a DLQ record that was
// already replayed).
var ErrNotFound = errors.New("broker: not found")

// Client is a broker connection scoped to one kind (queue name). The
// queue facade (internal/queue) constructs one Client per kind.
type Client struct {
	rdb  *redis.Client
	kind string
}

// New returns a Client for the given kind. The *redis.Client is shared
// across all kinds and workers in a process.
func New(rdb *redis.Client, kind string) *Client {
	return &Client{rdb: rdb, kind: kind}
}

func (c *Client) waitingKey() string     { return c.kind + ":waiting" }
func (c *Client) waitingHighKey() string { return c.kind + ":waiting:high" }
func (c *Client) delayedKey() string    { return c.kind + ":delayed" }
func (c *Client) activeKey(id string) string { return c.kind + ":active:" + id }
func (c *Client) completedKey() string  { return c.kind + ":completed" }
func (c *Client) failedKey() string     { return c.kind + ":failed" }
func (c *Client) pausedKey() string     { return c.kind + ":paused" }
func (c *Client) dlqKey() string        { return c.kind + "_dlq" }
func (c *Client) dlqRecordKey(id string) string { return c.kind + "_dlq:record:" + id }

// EnqueueOptions controls enqueue behavior.
type EnqueueOptions struct {
	Delay    time.Duration
	JobID    string // stable id for idempotent enqueue by correlation key
	Priority int
}

// reserveScript atomically promotes due delayed members to waiting,
// then moves one item from the tail of the high-priority list (falling
// back to the normal list) into an active hash recording the
// reservation. Using a script avoids the race between "is there a due
// delayed job" and "pop it" that plain multi-command sequences have
// under concurrent reservers.
var reserveScript = redis.NewScript(`
local waiting = KEYS[1]
local waitingHigh = KEYS[2]
local delayed = KEYS[3]
local activePrefix = KEYS[4]
local paused = KEYS[5]
local now = tonumber(ARGV[1])
local reservedBy = ARGV[2]
local visibilityUntil = ARGV[3]

if redis.call('EXISTS', paused) == 1 then
  return nil
end

local due = redis.call('ZRANGEBYSCORE', delayed, '-inf', now, 'LIMIT', 0, 50)
for _, payload in ipairs(due) do
  redis.call('ZREM', delayed, payload)
  local j = cjson.decode(payload)
  if j.priority and j.priority >= 1 and j.priority <= 3 then
    redis.call('LPUSH', waitingHigh, payload)
  else
    redis.call('LPUSH', waiting, payload)
  end
end

local payload = redis.call('RPOP', waitingHigh)
if not payload then
  payload = redis.call('RPOP', waiting)
end
if not payload then
  return nil
end

local activeKey = activePrefix .. cjson.decode(payload).id
redis.call('HSET', activeKey, 'payload', payload, 'reservedBy', reservedBy, 'reservedUntil', visibilityUntil)
return payload
`)

// Reserve pops the next due job for this kind, if any, and records a
// reservation valid until visibilityTimeout elapses. Returns nil, nil
// when nothing is available.
func (c *Client) Reserve(ctx context.Context, reservedBy string, visibilityTimeout time.Duration) ([]byte, error) {
	now := time.Now()
	res, err := reserveScript.Run(ctx, c.rdb, []string{c.waitingKey(), c.waitingHighKey(), c.delayedKey(), c.kind + ":active:", c.pausedKey()},
		now.UnixMilli(), reservedBy, now.Add(visibilityTimeout).UnixMilli()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("broker: reserve: %w", err)
	}
	if res == nil {
		return nil, nil
	}
	s, ok := res.(string)
	if !ok {
		return nil, nil
	}
	return []byte(s), nil
}

// Enqueue pushes payload (already-marshaled Job JSON, with its top-level
// "id" field set) onto this kind's waiting or delayed structure. Jobs
// with priority 1..3 go to the high-priority waiting list, which Reserve
// drains first.
func (c *Client) Enqueue(ctx context.Context, payload []byte, opts EnqueueOptions) error {
	if opts.Delay > 0 {
		return c.rdb.ZAdd(ctx, c.delayedKey(), redis.Z{
			Score:  float64(time.Now().Add(opts.Delay).UnixMilli()),
			Member: payload,
		}).Err()
	}
	return c.rdb.LPush(ctx, c.waitingListFor(opts.Priority), payload).Err()
}

// waitingListFor picks the waiting list by priority band: 1..3 is
// urgent, everything else (including the 0 zero value) is normal.
func (c *Client) waitingListFor(priority int) string {
	if priority >= 1 && priority <= 3 {
		return c.waitingHighKey()
	}
	return c.waitingKey()
}

// Heartbeat extends a reservation's visibility timeout and optionally
// records progress. It's a no-op error if the reservation has already
// lapsed (the stall sweep will have released it).
func (c *Client) Heartbeat(ctx context.Context, jobID string, visibilityTimeout time.Duration, progress int) error {
	key := c.activeKey(jobID)
	exists, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("broker: heartbeat: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "reservedUntil", time.Now().Add(visibilityTimeout).UnixMilli())
	if progress >= 0 {
		pipe.HSet(ctx, key, "progress", progress)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Complete removes the reservation and appends payload to the capped
// completed ring (LTRIM to keep only the most recent retain entries).
func (c *Client) Complete(ctx context.Context, jobID string, payload []byte, retain int64) error {
	key := c.activeKey(jobID)
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.LPush(ctx, c.completedKey(), payload)
	pipe.LTrim(ctx, c.completedKey(), 0, retain-1)
	_, err := pipe.Exec(ctx)
	return err
}

// Fail removes the reservation and, if retry is true, either re-enqueues
// payload (immediately or delayed) or appends it to the capped failed
// ring when retry is false. On terminal failure the caller must have
// already written the DLQ record via dlq.Manager before calling Fail:
// DLQ insertion is the first durable step, queue removal the second.
func (c *Client) Fail(ctx context.Context, jobID string, payload []byte, retry bool, backoff time.Duration, retain int64) error {
	key := c.activeKey(jobID)
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if retry {
		if backoff > 0 {
			pipe.ZAdd(ctx, c.delayedKey(), redis.Z{Score: float64(time.Now().Add(backoff).UnixMilli()), Member: payload})
		} else {
			pipe.LPush(ctx, c.waitingListFor(payloadPriority(payload)), payload)
		}
	} else {
		pipe.LPush(ctx, c.failedKey(), payload)
		pipe.LTrim(ctx, c.failedKey(), 0, retain-1)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Release re-queues payload without consuming an attempt (used for
// Cancelled-class errors), clearing the reservation.
func (c *Client) Release(ctx context.Context, jobID string, payload []byte) error {
	key := c.activeKey(jobID)
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.LPush(ctx, c.waitingListFor(payloadPriority(payload)), payload)
	_, err := pipe.Exec(ctx)
	return err
}

// StalledFunc maps a lapsed reservation's payload to its replacement
// and whether it returns to waiting (true) or lands in the failed ring
// (false). It runs before the queue-side write, so callers can make a
// dead-letter record durable first.
type StalledFunc func(payload []byte) (replacement []byte, requeue bool)

// SweepStalled scans active reservations for this kind whose
// reservedUntil has elapsed, hands each payload to fn, and moves the
// replacement either back to waiting or into the capped failed ring.
// Returns the counts of requeued and terminally failed jobs.
func (c *Client) SweepStalled(ctx context.Context, fn StalledFunc, failedRetain int64) (requeued, failed int, err error) {
	var cursor uint64
	prefix := c.kind + ":active:"
	for {
		keys, cur, scanErr := c.rdb.Scan(ctx, cursor, prefix+"*", 200).Result()
		if scanErr != nil {
			return requeued, failed, fmt.Errorf("broker: sweep scan: %w", scanErr)
		}
		cursor = cur
		for _, key := range keys {
			h, err := c.rdb.HGetAll(ctx, key).Result()
			if err != nil || len(h) == 0 {
				continue
			}
			until, _ := parseMillis(h["reservedUntil"])
			if time.Now().UnixMilli() < until {
				continue
			}
			payload := h["payload"]
			if payload == "" {
				continue
			}
			replacement, requeueJob := fn([]byte(payload))
			if replacement == nil {
				replacement = []byte(payload)
			}
			pipe := c.rdb.TxPipeline()
			pipe.Del(ctx, key)
			if requeueJob {
				pipe.LPush(ctx, c.waitingListFor(payloadPriority(replacement)), replacement)
			} else {
				pipe.LPush(ctx, c.failedKey(), replacement)
				pipe.LTrim(ctx, c.failedKey(), 0, failedRetain-1)
			}
			if _, err := pipe.Exec(ctx); err == nil {
				if requeueJob {
					requeued++
				} else {
					failed++
				}
			}
		}
		if cursor == 0 {
			break
		}
	}
	return requeued, failed, nil
}

// Pause blocks new reservations for this kind; in-flight reservations are
// unaffected.
func (c *Client) Pause(ctx context.Context) error {
	return c.rdb.Set(ctx, c.pausedKey(), "1", 0).Err()
}

// Resume undoes Pause.
func (c *Client) Resume(ctx context.Context) error {
	return c.rdb.Del(ctx, c.pausedKey()).Err()
}

// Stats reports the current depth of each queue-state structure.
type Stats struct {
	Waiting   int64
	Active    int64
	Completed int64
	Failed    int64
	Delayed   int64
	Paused    bool
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	waiting, err := c.rdb.LLen(ctx, c.waitingKey()).Result()
	if err != nil {
		return s, err
	}
	waitingHigh, err := c.rdb.LLen(ctx, c.waitingHighKey()).Result()
	if err != nil {
		return s, err
	}
	waiting += waitingHigh
	delayed, err := c.rdb.ZCard(ctx, c.delayedKey()).Result()
	if err != nil {
		return s, err
	}
	completed, err := c.rdb.LLen(ctx, c.completedKey()).Result()
	if err != nil {
		return s, err
	}
	failed, err := c.rdb.LLen(ctx, c.failedKey()).Result()
	if err != nil {
		return s, err
	}
	var active int64
	var cursor uint64
	for {
		keys, cur, err := c.rdb.Scan(ctx, cursor, c.kind+":active:*", 200).Result()
		if err != nil {
			return s, err
		}
		active += int64(len(keys))
		cursor = cur
		if cursor == 0 {
			break
		}
	}
	paused, err := c.rdb.Exists(ctx, c.pausedKey()).Result()
	if err != nil {
		return s, err
	}
	s = Stats{Waiting: waiting, Active: active, Completed: completed, Failed: failed, Delayed: delayed, Paused: paused == 1}
	return s, nil
}

// Clean removes completed/failed entries; state is "completed" or
// "failed". olderThan filters by the job's embedded updatedAt if the
// caller passes a non-zero duration; otherwise clean drops everything in
// that ring.
func (c *Client) Clean(ctx context.Context, state string, olderThan time.Duration) (int, error) {
	key := c.completedKey()
	if state == "failed" {
		key = c.failedKey()
	}
	if olderThan <= 0 {
		n, err := c.rdb.LLen(ctx, key).Result()
		if err != nil {
			return 0, err
		}
		if err := c.rdb.Del(ctx, key).Err(); err != nil {
			return 0, err
		}
		return int(n), nil
	}
	items, err := c.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, it := range items {
		updatedAt, ok := extractUpdatedAt(it)
		if ok && updatedAt.Before(cutoff) {
			if err := c.rdb.LRem(ctx, key, 1, it).Err(); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// dlqInsertScript writes the DLQ record hash and its entry in the DLQ
// listing atomically. It does not touch the originating reservation;
// the caller removes that afterwards, so a crash between the two steps
// leaves at most a benign duplicate record and never a lost job.
var dlqInsertScript = redis.NewScript(`
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

// DLQInsert writes a dead-letter record for this kind's sibling DLQ
// structure.
func (c *Client) DLQInsert(ctx context.Context, dlqID string, fields map[string]any) error {
	args := make([]any, 0, 1+len(fields)*2)
	args = append(args, dlqID)
	for k, v := range fields {
		args = append(args, k, v)
	}
	_, err := dlqInsertScript.Run(ctx, c.rdb, []string{c.dlqRecordKey(dlqID), c.dlqKey()}, args...).Result()
	return err
}

// DLQList returns up to limit dlq record ids, most recent first.
func (c *Client) DLQList(ctx context.Context, limit int64) ([]string, error) {
	return c.rdb.LRange(ctx, c.dlqKey(), 0, limit-1).Result()
}

// DLQGet loads a single DLQ record's fields.
func (c *Client) DLQGet(ctx context.Context, dlqID string) (map[string]string, error) {
	m, err := c.rdb.HGetAll(ctx, c.dlqRecordKey(dlqID)).Result()
	if err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, ErrNotFound
	}
	return m, nil
}

// DLQRemove deletes a DLQ record and its listing entry (used after
// replay).
func (c *Client) DLQRemove(ctx context.Context, dlqID string) error {
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, c.dlqRecordKey(dlqID))
	pipe.LRem(ctx, c.dlqKey(), 1, dlqID)
	_, err := pipe.Exec(ctx)
	return err
}

// DLQCount reports the size of this kind's dead letter queue.
func (c *Client) DLQCount(ctx context.Context) (int64, error) {
	return c.rdb.LLen(ctx, c.dlqKey()).Result()
}

// NewDLQID mints an id for a new dead-letter record.
func NewDLQID() string { return uuid.NewString() }

// payloadPriority peeks at the job JSON's priority field so requeues
// land back in the right waiting list.
func payloadPriority(payload []byte) int {
	var p struct {
		Priority int `json:"priority"`
	}
	_ = json.Unmarshal(payload, &p)
	return p.Priority
}

func parseMillis(s string) (int64, error) {
	var ms int64
	_, err := fmt.Sscanf(s, "%d", &ms)
	return ms, err
}

func extractUpdatedAt(jsonPayload string) (time.Time, bool) {
	// Minimal extraction to avoid a full unmarshal on the hot clean path;
	// the job codec guarantees "updatedAt" is an RFC3339 string when present.
	const key = `"updatedAt":"`
	i := strings.Index(jsonPayload, key)
	if i < 0 {
		return time.Time{}, false
	}
	start := i + len(key)
	end := strings.Index(jsonPayload[start:], `"`)
	if end < 0 {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, jsonPayload[start:start+end])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

// drainScript refills a per-subject bucket by elapsed wall time, then tries
// to draw the requested tokens in the same round trip. A denied draw leaves
// the level untouched and reports how long until the deficit refills.
var drainScript = redis.NewScript(`
local bucket = KEYS[1]
local max_level = tonumber(ARGV[1])
local refill_per_sec = tonumber(ARGV[2])
local now_ms = tonumber(ARGV[3])
local want = tonumber(ARGV[4])
local expiry_ms = tonumber(ARGV[5])

local state = redis.call("HMGET", bucket, "level", "refilled_at")
local level = tonumber(state[1]) or max_level
local refilled_at = tonumber(state[2]) or now_ms

if now_ms > refilled_at then
  level = math.min(max_level, level + refill_per_sec * (now_ms - refilled_at) / 1000)
end

local wait_ms = 0
if level >= want then
  level = level - want
else
  wait_ms = math.ceil(1000 * (want - level) / refill_per_sec)
end

redis.call("HSET", bucket, "level", level, "refilled_at", now_ms)
redis.call("PEXPIRE", bucket, expiry_ms)

return {wait_ms, math.floor(level)}
`)

// RedisTokenBucket is a shared token bucket keyed by subject. Requests draw
// a caller-chosen number of tokens, so a synchronous render can be weighted
// several times heavier than a queue mutation against the same budget.
type RedisTokenBucket struct {
	rdb          redis.UniversalClient
	capacity     int64
	refillPerSec float64
	expiry       time.Duration
	prefix       string
	clock        func() time.Time
}

func NewRedisTokenBucket(rdb redis.UniversalClient, capacity int, window time.Duration, prefix string) (*RedisTokenBucket, error) {
	switch {
	case rdb == nil:
		return nil, fmt.Errorf("redis client is required")
	case capacity <= 0:
		return nil, fmt.Errorf("capacity must be positive")
	case window < time.Millisecond:
		return nil, fmt.Errorf("window must be at least 1ms")
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = "story:ratelimit"
	}

	return &RedisTokenBucket{
		rdb:          rdb,
		capacity:     int64(capacity),
		refillPerSec: float64(capacity) / window.Seconds(),
		expiry:       2 * window,
		prefix:       prefix,
		clock:        time.Now,
	}, nil
}

func (l *RedisTokenBucket) Allow(ctx context.Context, subject string) (Decision, error) {
	return l.AllowN(ctx, subject, 1)
}

// AllowN draws cost tokens in one shot. Costs are clamped to the bucket
// capacity so the heaviest request is always admissible from a full bucket.
func (l *RedisTokenBucket) AllowN(ctx context.Context, subject string, cost int64) (Decision, error) {
	cost = min(max(cost, 1), l.capacity)

	raw, err := drainScript.Run(ctx, l.rdb,
		[]string{l.bucketKey(subject)},
		l.capacity,
		l.refillPerSec,
		l.clock().UnixMilli(),
		cost,
		l.expiry.Milliseconds(),
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("token bucket eval: %w", err)
	}

	reply, err := scriptInts(raw, 2)
	if err != nil {
		return Decision{}, fmt.Errorf("token bucket reply: %w", err)
	}
	waitMS, remaining := reply[0], reply[1]

	return Decision{
		Allowed:    waitMS == 0,
		Limit:      l.capacity,
		Remaining:  remaining,
		RetryAfter: time.Duration(waitMS) * time.Millisecond,
	}, nil
}

func (l *RedisTokenBucket) bucketKey(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	return l.prefix + ":" + subject
}

func scriptInts(raw any, want int) ([]int64, error) {
	values, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array reply, got %T", raw)
	}
	if len(values) != want {
		return nil, fmt.Errorf("expected %d values, got %d", want, len(values))
	}

	out := make([]int64, len(values))
	for i, v := range values {
		switch n := v.(type) {
		case int64:
			out[i] = n
		case string:
			parsed, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("value %d: %w", i, err)
			}
			out[i] = parsed
		default:
			return nil, fmt.Errorf("value %d: unsupported type %T", i, v)
		}
	}
	return out, nil
}


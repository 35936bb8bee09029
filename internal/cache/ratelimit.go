package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills by whole intervals and takes one token per call.
// Returns {allowed, tokens_left, retry_after_ms}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill_tokens = tonumber(ARGV[3])
local interval_ms = tonumber(ARGV[4])
local ttl_seconds = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if tokens == nil or last_refill == nil then
	tokens = capacity
	last_refill = now_ms
end

if interval_ms > 0 and refill_tokens > 0 then
	local elapsed = math.max(0, now_ms - last_refill)
	local intervals = math.floor(elapsed / interval_ms)
	if intervals > 0 then
		tokens = math.min(capacity, tokens + (intervals * refill_tokens))
		last_refill = last_refill + (intervals * interval_ms)
	end
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
else
	retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)

return { allowed, tokens, retry_after_ms }
`)

// RateDecision is the outcome of one token bucket take
type RateDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int64
	RetryAfter time.Duration
}

// RateLimiter is a Redis backed token bucket shared by every API replica.
type RateLimiter struct {
	rdb            *redis.Client
	capacity       int
	refillTokens   int
	refillInterval time.Duration
	ttl            time.Duration
	now            func() time.Time
}

func NewRateLimiter(rdb *redis.Client, capacity, refillTokens int, refillInterval, ttl time.Duration) *RateLimiter {
	if ttl < time.Second {
		ttl = 10 * time.Minute
	}
	return &RateLimiter{
		rdb:            rdb,
		capacity:       capacity,
		refillTokens:   refillTokens,
		refillInterval: refillInterval,
		ttl:            ttl,
		now:            time.Now,
	}
}

// Allow takes one token from the bucket stored under key.
func (l *RateLimiter) Allow(ctx context.Context, key string) (RateDecision, error) {
	args := []interface{}{
		l.now().UnixMilli(),
		l.capacity,
		l.refillTokens,
		l.refillInterval.Milliseconds(),
		int64(l.ttl / time.Second),
	}

	vals, err := tokenBucketScript.Run(ctx, l.rdb, []string{key}, args...).Result()
	if err != nil {
		return RateDecision{}, fmt.Errorf("failed to run rate limit script: %w", err)
	}

	arr, ok := vals.([]interface{})
	if !ok || len(arr) != 3 {
		return RateDecision{}, fmt.Errorf("unexpected rate limit script result: %#v", vals)
	}

	return RateDecision{
		Allowed:    asInt64(arr[0]) == 1,
		Limit:      l.capacity,
		Remaining:  asInt64(arr[1]),
		RetryAfter: time.Duration(asInt64(arr[2])) * time.Millisecond,
	}, nil
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow trims the window, admits when under the limit and reports the oldest entry.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, member)
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, window)

local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
  oldest = tonumber(first[2])
end
return {allowed, count, oldest}
`)

// RedisLimiter implements a sliding window shared by every instance.
type RedisLimiter struct {
	client redis.Scripter
	now    func() time.Time
}

func NewRedisLimiter(client redis.Scripter) *RedisLimiter {
	return &RedisLimiter{client: client, now: time.Now}
}

// Allow fails open: on a Redis error the returned result admits the request.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := l.now()
	nowMs := now.UnixMilli()
	windowMs := window.Milliseconds()

	vals, err := slidingWindow.Run(ctx, l.client, []string{key}, nowMs, windowMs, limit, uuid.NewString()).Int64Slice()
	if err != nil || len(vals) != 3 {
		if err == nil {
			err = fmt.Errorf("unexpected script reply of %d values", len(vals))
		}
		return &Result{Allowed: true, Limit: limit, Remaining: limit, ResetAt: now.Add(window)}, fmt.Errorf("rate limit script: %w", err)
	}

	count := int(vals[1])
	resetAt := time.UnixMilli(vals[2] + windowMs)
	res := &Result{
		Allowed:   vals[0] == 1,
		Limit:     limit,
		Remaining: limit - count,
		ResetAt:   resetAt,
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = resetAt.Sub(now)
	}
	return res, nil
}

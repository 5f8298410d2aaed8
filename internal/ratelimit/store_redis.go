package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "vericred:ratelimit:"

// hitScript implements the window semantics atomically server-side: reset to
// 1 when absent (window elapsed keys expire via TTL), deny without
// incrementing at the cap, otherwise increment. Returns {allowed, count,
// pttl_ms}.
var hitScript = redis.NewScript(`
local count = redis.call('GET', KEYS[1])
if not count then
  redis.call('SET', KEYS[1], 1, 'PX', ARGV[2])
  return {1, 1, tonumber(ARGV[2])}
end
count = tonumber(count)
if count >= tonumber(ARGV[1]) then
  return {0, count, redis.call('PTTL', KEYS[1])}
end
count = redis.call('INCR', KEYS[1])
return {1, count, redis.call('PTTL', KEYS[1])}
`)

// RedisAttemptStore implements AttemptStore on Redis so the limit holds
// across instances. Keys expire with the window; Sweep is a no-op.
type RedisAttemptStore struct {
	client redis.Cmdable
}

func NewRedisAttemptStore(client redis.Cmdable) *RedisAttemptStore {
	return &RedisAttemptStore{client: client}
}

func (s *RedisAttemptStore) Hit(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	raw, err := hitScript.Run(ctx, s.client, []string{redisKeyPrefix + key},
		limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit hit script: %w", err)
	}
	if len(raw) != 3 {
		return Result{}, fmt.Errorf("rate limit hit script: unexpected reply length %d", len(raw))
	}

	allowed := raw[0] == 1
	count := int(raw[1])
	resetAt := time.Now().Add(time.Duration(raw[2]) * time.Millisecond)

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: allowed, Remaining: remaining, ResetAt: resetAt}, nil
}

func (s *RedisAttemptStore) Sweep(context.Context, time.Time) error {
	return nil
}

package redislimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Leaky bucket: the level drains at rate per second and each admission
// raises it by one. Timestamps are fractional seconds so sub-second drains
// are not lost between checks.
var leakyBucketScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local bucket_size = tonumber(ARGV[3])
local window_size = tonumber(ARGV[4])

local exists = redis.call('EXISTS', key)

if exists == 0 then
  redis.call('HSET', key, 'level', 1, 'last_leak', now)
  redis.call('EXPIRE', key, window_size * 2)
  return 1
end

local level = tonumber(redis.call('HGET', key, 'level'))
local last_leak = tonumber(redis.call('HGET', key, 'last_leak'))

local elapsed = now - last_leak
local leaked = rate * elapsed
local new_level = math.max(0, level - leaked) + 1

if new_level <= bucket_size then
  redis.call('HSET', key, 'level', new_level, 'last_leak', now)
  return 1
end

redis.call('HSET', key, 'last_leak', now)
return 0
`)

func leakyBucketKey(id string) string {
	return fmt.Sprintf("ratelimit:leaky:%s", id)
}

func (l *RateLimiter) checkLeakyBucket(ctx context.Context, key string) (bool, error) {
	now := float64(l.clock.Now().UnixMicro()) / 1e6

	val, err := l.client.RunScript(ctx, leakyBucketScript,
		[]string{leakyBucketKey(key)},
		now,
		l.config.Rate,
		l.config.Burst,
		l.config.WindowSize,
	)
	if err != nil {
		return false, fmt.Errorf("redislimit: leaky bucket check: %w", err)
	}

	l.logger.Debug().Str("key", key).Int64("result", val).Msg("leaky bucket check")
	return val == 1, nil
}

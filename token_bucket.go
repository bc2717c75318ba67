package redislimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Token bucket: the bucket starts at burst capacity and refills one token
// per refill_time seconds. A fresh key admits immediately and consumes its
// first token; on rejection only the refill timestamp moves forward.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local refill_time = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local window_size = tonumber(ARGV[4])

local exists = redis.call('EXISTS', key)

if exists == 0 then
  redis.call('HSET', key, 'tokens', burst - 1, 'last_refill', now)
  redis.call('EXPIRE', key, window_size * 2)
  return 1
end

local tokens = tonumber(redis.call('HGET', key, 'tokens'))
local last_refill = tonumber(redis.call('HGET', key, 'last_refill'))

local elapsed = now - last_refill
local new_tokens = math.min(burst, tokens + elapsed / refill_time)

if new_tokens >= 1 then
  redis.call('HSET', key, 'tokens', new_tokens - 1, 'last_refill', now)
  return 1
end

redis.call('HSET', key, 'last_refill', now)
return 0
`)

func tokenBucketKey(id string) string {
	return fmt.Sprintf("ratelimit:token:%s", id)
}

func (l *RateLimiter) checkTokenBucket(ctx context.Context, key string) (bool, error) {
	now := l.clock.Now().Unix()
	refillTime := 1.0 / float64(l.config.Rate)

	val, err := l.client.RunScript(ctx, tokenBucketScript,
		[]string{tokenBucketKey(key)},
		now,
		refillTime,
		l.config.Burst,
		l.config.WindowSize,
	)
	if err != nil {
		return false, fmt.Errorf("redislimit: token bucket check: %w", err)
	}

	l.logger.Debug().Str("key", key).Int64("result", val).Msg("token bucket check")
	return val == 1, nil
}

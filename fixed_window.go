package redislimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Fixed window: one counter per aligned window. The first increment sets
// the TTL so the key cannot outlive its window.
var fixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local max_requests = tonumber(ARGV[1])
local window_size = tonumber(ARGV[2])

local count = redis.call('INCR', key)
if count == 1 then
  redis.call('EXPIRE', key, window_size)
end

if count <= max_requests then
  return 1
end
return 0
`)

func fixedWindowKey(id string, windowStart int64) string {
	return fmt.Sprintf("ratelimit:fixed:%s:%d", id, windowStart)
}

func (l *RateLimiter) checkFixedWindow(ctx context.Context, key string) (bool, error) {
	now := l.clock.Now().Unix()
	window := int64(l.config.WindowSize)
	windowStart := now / window * window

	maxRequests := l.config.Rate + l.config.Burst

	val, err := l.client.RunScript(ctx, fixedWindowScript,
		[]string{fixedWindowKey(key, windowStart)},
		maxRequests,
		window,
	)
	if err != nil {
		return false, fmt.Errorf("redislimit: fixed window check: %w", err)
	}

	l.logger.Debug().Str("key", key).Int64("result", val).Msg("fixed window check")
	return val == 1, nil
}

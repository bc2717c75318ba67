package redislimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Sliding window: the previous window's count is weighted by the fraction
// of it still inside the rolling window and added to the current count.
// Both keys live for two windows so the previous counter survives into the
// next window.
var slidingWindowScript = redis.NewScript(`
local current_key = KEYS[1]
local previous_key = KEYS[2]
local now = tonumber(ARGV[1])
local window_size = tonumber(ARGV[2])
local max_requests = tonumber(ARGV[3])
local burst = tonumber(ARGV[4])

local current_window_start = math.floor(now / window_size) * window_size
local elapsed_ratio = (now - current_window_start) / window_size

local current_count = redis.call('INCR', current_key)
if current_count == 1 then
  redis.call('EXPIRE', current_key, window_size * 2)
end

local previous_count = redis.call('GET', previous_key) or "0"
previous_count = tonumber(previous_count)

local weighted_count = current_count + previous_count * (1 - elapsed_ratio)

if weighted_count <= (max_requests + burst) then
  return 1
end
return 0
`)

// The identity is hash-tagged so both window keys land on the same cluster
// slot; a multi-key script across slots would be refused.
func slidingWindowKey(id string, windowStart int64) string {
	return fmt.Sprintf("ratelimit:sliding:{%s}:%d", id, windowStart)
}

func (l *RateLimiter) checkSlidingWindow(ctx context.Context, key string) (bool, error) {
	now := l.clock.Now().Unix()
	window := int64(l.config.WindowSize)
	currentWindow := now / window * window
	previousWindow := currentWindow - window

	val, err := l.client.RunScript(ctx, slidingWindowScript,
		[]string{
			slidingWindowKey(key, currentWindow),
			slidingWindowKey(key, previousWindow),
		},
		now,
		window,
		l.config.Rate,
		l.config.Burst,
	)
	if err != nil {
		return false, fmt.Errorf("redislimit: sliding window check: %w", err)
	}

	l.logger.Debug().Str("key", key).Int64("result", val).Msg("sliding window check")
	return val == 1, nil
}

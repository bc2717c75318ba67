package redislimit

import (
	"fmt"
	"strings"
)

// Algorithm selects which rate limiting strategy a limiter runs.
type Algorithm int

const (
	// FixedWindow counts requests in aligned windows of fixed length.
	FixedWindow Algorithm = iota
	// SlidingWindow weights the previous window into the current count.
	SlidingWindow
	// TokenBucket refills tokens at a steady rate up to a burst capacity.
	TokenBucket
	// LeakyBucket drains a level at a constant rate with a bounded backlog.
	LeakyBucket
)

// Canonical algorithm names as they appear in configuration and in the
// X-RateLimit-Algorithm response header.
const (
	FixedWindowName   = "fixed_window"
	SlidingWindowName = "sliding_window"
	TokenBucketName   = "token_bucket"
	LeakyBucketName   = "leaky_bucket"
)

// String returns the canonical configuration name of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case FixedWindow:
		return FixedWindowName
	case SlidingWindow:
		return SlidingWindowName
	case TokenBucket:
		return TokenBucketName
	case LeakyBucket:
		return LeakyBucketName
	default:
		return fmt.Sprintf("algorithm(%d)", int(a))
	}
}

// ParseAlgorithm maps a canonical name to its Algorithm, case-insensitively.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(s) {
	case FixedWindowName:
		return FixedWindow, nil
	case SlidingWindowName:
		return SlidingWindow, nil
	case TokenBucketName:
		return TokenBucket, nil
	case LeakyBucketName:
		return LeakyBucket, nil
	default:
		return 0, fmt.Errorf("redislimit: unknown rate limit algorithm: %s", s)
	}
}

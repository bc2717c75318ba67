package redislimit

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/gatekit/redislimit/store"
)

// Config is the effective policy a RateLimiter enforces: algorithm and
// parameters plus how to reach the store.
type Config struct {
	// StoreURL is the Redis-compatible store to connect to.
	StoreURL string
	// Rate is the sustained requests per second.
	Rate int
	// Burst is the extra instantaneous capacity above Rate.
	Burst int
	// Algorithm selects the decision strategy.
	Algorithm Algorithm
	// WindowSize is the window length in seconds for the window algorithms
	// and the TTL horizon for the bucket algorithms.
	WindowSize int
	// StoreOptions tunes the store connection.
	StoreOptions store.Options
}

// DefaultConfig returns the documented defaults: sliding window at 10 rps
// with a burst of 5 over a 60 second window against a local store.
func DefaultConfig() Config {
	return Config{
		StoreURL:     "redis://127.0.0.1:6379",
		Rate:         10,
		Burst:        5,
		Algorithm:    SlidingWindow,
		WindowSize:   60,
		StoreOptions: store.DefaultOptions(),
	}
}

// RateLimiter binds a Config to a live store client. A RateLimiter that
// construction returns always holds a client whose liveness probe
// succeeded.
type RateLimiter struct {
	config Config
	client *store.Client
	clock  Clock
	logger zerolog.Logger
}

type options struct {
	clock  Clock
	logger zerolog.Logger
}

// Option configures a RateLimiter.
type Option func(*options)

// WithClock substitutes the time source. Intended for tests.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New validates cfg, connects to the store (retrying the liveness probe
// per cfg.StoreOptions), and returns a ready limiter. On success it logs
// the algorithm and connection parameters.
func New(ctx context.Context, cfg Config, opts ...Option) (*RateLimiter, error) {
	if cfg.Rate <= 0 {
		return nil, fmt.Errorf("redislimit: rate must be positive, got %d", cfg.Rate)
	}
	if cfg.Burst < 0 {
		return nil, fmt.Errorf("redislimit: burst must not be negative, got %d", cfg.Burst)
	}
	if cfg.WindowSize <= 0 {
		return nil, fmt.Errorf("redislimit: window size must be positive, got %d", cfg.WindowSize)
	}

	o := &options{
		clock:  systemClock{},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.logger.Info().Str("url", cfg.StoreURL).Stringer("algorithm", cfg.Algorithm).
		Msg("connecting rate limiter to store")

	client, err := store.Connect(ctx, cfg.StoreURL, cfg.StoreOptions, o.logger)
	if err != nil {
		return nil, fmt.Errorf("redislimit: %w", err)
	}

	o.logger.Info().
		Stringer("algorithm", cfg.Algorithm).
		Int("rate", cfg.Rate).
		Int("burst", cfg.Burst).
		Int("window_size", cfg.WindowSize).
		Int64("connect_timeout_ms", cfg.StoreOptions.ConnectTimeoutMS).
		Int64("command_timeout_ms", cfg.StoreOptions.CommandTimeoutMS).
		Int("retry_count", cfg.StoreOptions.RetryCount).
		Int("database", cfg.StoreOptions.Database).
		Msg("rate limiter initialized")

	return &RateLimiter{
		config: cfg,
		client: client,
		clock:  o.clock,
		logger: o.logger,
	}, nil
}

// Check decides whether a request for the given identity key is admitted.
// It returns (true, nil) to admit, (false, nil) to reject, and a non-nil
// error when no decision could be made; callers fail open on errors.
func (l *RateLimiter) Check(ctx context.Context, key string) (bool, error) {
	switch l.config.Algorithm {
	case FixedWindow:
		return l.checkFixedWindow(ctx, key)
	case SlidingWindow:
		return l.checkSlidingWindow(ctx, key)
	case TokenBucket:
		return l.checkTokenBucket(ctx, key)
	case LeakyBucket:
		return l.checkLeakyBucket(ctx, key)
	default:
		return false, fmt.Errorf("redislimit: unknown algorithm %d", int(l.config.Algorithm))
	}
}

// Config returns the policy this limiter enforces.
func (l *RateLimiter) Config() Config {
	return l.config
}

// Close releases the store connection pool.
func (l *RateLimiter) Close() error {
	return l.client.Close()
}

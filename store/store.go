// Package store manages the connection to the Redis-compatible store that
// holds all rate limit state.
//
// Connect validates the store URL, applies the connection options, and
// probes liveness with PING before handing back a Client. The initial
// connect (including the probe) is retried; per-request script calls are
// not — a degraded store must surface errors immediately so the caller can
// fail open.
package store

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Sentinel errors callers branch on. Both are wrapped with detail; test
// with errors.Is.
var (
	// ErrTimeout reports that a command exceeded the configured command
	// timeout. Distinct from a store-returned error.
	ErrTimeout = errors.New("store: command timed out")

	// ErrUnexpectedPing reports a PING reply other than the literal PONG.
	ErrUnexpectedPing = errors.New("store: unexpected PING reply")
)

// Options configures how the store is reached. All fields have defaults;
// the zero value is not usable directly — start from DefaultOptions.
type Options struct {
	ConnectTimeoutMS int64   `json:"connect_timeout_ms"`
	CommandTimeoutMS int64   `json:"command_timeout_ms"`
	RetryCount       int     `json:"retry_count"`
	RetryDelayMS     int64   `json:"retry_delay_ms"`
	Password         *string `json:"password,omitempty"`
	Database         int     `json:"database"`
	PoolSize         int     `json:"pool_size"`
	ClusterMode      bool    `json:"cluster_mode"`
	TLSEnabled       bool    `json:"tls_enabled"`
	KeepaliveSecs    int64   `json:"keepalive_secs"`
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		ConnectTimeoutMS: 5000,
		CommandTimeoutMS: 2000,
		RetryCount:       3,
		RetryDelayMS:     500,
		Database:         0,
		PoolSize:         10,
	}
}

// UnmarshalJSON decodes onto the defaults so missing fields keep their
// documented values and unknown fields are ignored.
func (o *Options) UnmarshalJSON(data []byte) error {
	type raw Options
	r := raw(DefaultOptions())
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	*o = Options(r)
	return nil
}

// ConnectTimeout returns the initial connection deadline.
func (o Options) ConnectTimeout() time.Duration {
	return time.Duration(o.ConnectTimeoutMS) * time.Millisecond
}

// CommandTimeout returns the per-command deadline.
func (o Options) CommandTimeout() time.Duration {
	return time.Duration(o.CommandTimeoutMS) * time.Millisecond
}

// RetryDelay returns the pause between initial connect attempts.
func (o Options) RetryDelay() time.Duration {
	return time.Duration(o.RetryDelayMS) * time.Millisecond
}

// Keepalive returns the TCP keepalive interval; zero means disabled.
func (o Options) Keepalive() time.Duration {
	return time.Duration(o.KeepaliveSecs) * time.Second
}

// Client is a handle to the store. It wraps a redis.UniversalClient so
// standalone and cluster deployments are interchangeable, and bounds every
// command with the configured command timeout.
type Client struct {
	rdb            redis.UniversalClient
	commandTimeout time.Duration
	logger         zerolog.Logger
}

// Connect builds a Client from a store URL and options, then probes
// liveness with PING. The probe is retried up to opts.RetryCount times
// after the first failure, with opts.RetryDelay between attempts.
func Connect(ctx context.Context, url string, opts Options, logger zerolog.Logger) (*Client, error) {
	ro, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("store: invalid store URL %q: %w", url, err)
	}

	if opts.Password != nil {
		ro.Password = *opts.Password
	}
	if opts.Database != 0 {
		ro.DB = opts.Database
	}
	ro.PoolSize = opts.PoolSize
	ro.DialTimeout = opts.ConnectTimeout()
	ro.ReadTimeout = opts.CommandTimeout()
	ro.WriteTimeout = opts.CommandTimeout()
	ro.MaxRetries = -1 // request-time commands are never retried
	if opts.TLSEnabled && ro.TLSConfig == nil {
		host, _, splitErr := net.SplitHostPort(ro.Addr)
		if splitErr != nil {
			host = ro.Addr
		}
		ro.TLSConfig = &tls.Config{ServerName: host}
	}
	ro.Dialer = dialer(opts)

	var rdb redis.UniversalClient
	if opts.ClusterMode {
		rdb = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        []string{ro.Addr},
			Password:     ro.Password,
			PoolSize:     ro.PoolSize,
			DialTimeout:  ro.DialTimeout,
			ReadTimeout:  ro.ReadTimeout,
			WriteTimeout: ro.WriteTimeout,
			MaxRetries:   -1,
			TLSConfig:    ro.TLSConfig,
			Dialer:       ro.Dialer,
		})
	} else {
		rdb = redis.NewClient(ro)
	}

	c := &Client{
		rdb:            rdb,
		commandTimeout: opts.CommandTimeout(),
		logger:         logger,
	}

	attempts := opts.RetryCount + 1
	var probeErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		probeErr = c.Ping(ctx)
		if probeErr == nil {
			logger.Info().Str("addr", ro.Addr).Int("database", ro.DB).Msg("connected to store")
			return c, nil
		}
		logger.Error().Err(probeErr).Int("attempt", attempt).Int("max_attempts", attempts).
			Msg("store liveness probe failed")
		if attempt < attempts {
			select {
			case <-time.After(opts.RetryDelay()):
			case <-ctx.Done():
				_ = rdb.Close()
				return nil, fmt.Errorf("store: connect canceled: %w", ctx.Err())
			}
		}
	}
	_ = rdb.Close()
	return nil, fmt.Errorf("store: failed to connect to %s after %d attempts: %w", ro.Addr, attempts, probeErr)
}

// dialer returns a dial function applying the connect timeout and the TCP
// keepalive setting. A zero keepalive disables probes entirely.
func dialer(opts Options) func(ctx context.Context, network, addr string) (net.Conn, error) {
	keepalive := opts.Keepalive()
	if keepalive <= 0 {
		keepalive = -1
	}
	d := &net.Dialer{
		Timeout:   opts.ConnectTimeout(),
		KeepAlive: keepalive,
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return d.DialContext(ctx, network, addr)
	}
}

// Ping issues the liveness probe and requires the literal PONG reply
// within the command timeout.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.commandTimeout)
	defer cancel()

	reply, err := c.rdb.Ping(ctx).Result()
	if err != nil {
		return c.mapErr(err)
	}
	if reply != "PONG" {
		return fmt.Errorf("%w: %q", ErrUnexpectedPing, reply)
	}
	return nil
}

// RunScript executes script atomically on the store and returns its integer
// result. The call is bounded by the command timeout; deadline expiry
// surfaces as ErrTimeout and the underlying connection is discarded rather
// than reused.
func (c *Client) RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.commandTimeout)
	defer cancel()

	val, err := script.Run(ctx, c.rdb, keys, args...).Int64()
	if err != nil {
		return 0, c.mapErr(err)
	}
	return val, nil
}

// Redis exposes the underlying client for callers that need raw commands
// (tests, examples).
func (c *Client) Redis() redis.UniversalClient {
	return c.rdb
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// mapErr folds transport deadline errors into ErrTimeout so callers can
// tell a slow store from one that answered with an error.
func (c *Client) mapErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("store: %w", err)
}

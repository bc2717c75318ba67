// Package registry owns the process-wide rate limiting state: the loaded
// configuration file, the cache of per-location effective settings, and
// the live rate limiter instances. It is populated at configuration load
// time, replaced atomically on reload, and consulted per request.
//
// The registry is passed to the admission handlers as an explicit
// dependency rather than living in package globals; interior mutability
// is limited to the slot swaps a reload requires.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gatekit/redislimit"
	"github.com/gatekit/redislimit/config"
)

// Registry holds the active configuration and limiters. Hot-path readers
// take the read lock, copy the small values they need, and release before
// any store I/O.
type Registry struct {
	mu        sync.RWMutex
	primary   *redislimit.RateLimiter
	limiters  map[string]*redislimit.RateLimiter
	file      *config.File
	locations map[string]config.Settings
	fallback  config.Settings

	logger      zerolog.Logger
	limiterOpts []redislimit.Option
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithLimiterOptions forwards options to every limiter the registry
// constructs. Intended for tests injecting a clock.
func WithLimiterOptions(opts ...redislimit.Option) Option {
	return func(r *Registry) { r.limiterOpts = opts }
}

// New returns an empty registry. Until a configuration loads, every
// lookup resolves to the disabled default settings.
func New(opts ...Option) *Registry {
	r := &Registry{
		limiters:  map[string]*redislimit.RateLimiter{},
		locations: map[string]config.Settings{},
		fallback:  config.DefaultSettings(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadFile handles the "ratelimit_redis_config <path>" directive: load
// and validate the file, publish it with its resolved location cache, and
// bring up limiters for the default (when enabled) and every enabled
// location. Parse and validation errors fail the load; connection errors
// are logged and leave the affected slot empty so requests fail open.
func (r *Registry) LoadFile(ctx context.Context, path string) error {
	f, err := config.Load(path, r.logger)
	if err != nil {
		return err
	}

	resolved := make(map[string]config.Settings, len(f.Locations))
	for location := range f.Locations {
		resolved[location] = f.Resolve(location)
	}

	r.mu.Lock()
	r.file = f
	for location, settings := range resolved {
		r.locations[location] = settings
	}
	r.mu.Unlock()

	if f.Default.Enabled {
		if limiter := r.ensureLimiter(ctx, f.Default); limiter != nil {
			r.mu.Lock()
			r.primary = limiter
			r.mu.Unlock()
			r.logger.Info().Msg("rate limiter initialized from config file")
		}
	}
	for location, settings := range resolved {
		if settings.Enabled {
			if r.ensureLimiter(ctx, settings) == nil {
				r.logger.Error().Str("location", location).Msg("rate limiter unavailable for location")
			}
		}
	}

	return nil
}

// ApplyDirective handles the "ratelimit_redis ..." directive for a
// location. The directive is applied last: when it names a config_file,
// the file is loaded and the location resolved against it first; every
// directive-supplied field then wins, and the on/off switch always wins.
func (r *Registry) ApplyDirective(ctx context.Context, location string, args []string) error {
	d, err := config.ParseDirective(args)
	if err != nil {
		return err
	}

	if d.ConfigFile != "" {
		if err := r.LoadFile(ctx, d.ConfigFile); err != nil {
			return fmt.Errorf("config: failed to load config file: %w", err)
		}
	}

	base := config.DefaultSettings()
	r.mu.RLock()
	if r.file != nil {
		base = r.file.Resolve(location)
	}
	r.mu.RUnlock()

	effective := d.Apply(base)

	r.mu.Lock()
	r.locations[location] = effective
	r.mu.Unlock()

	if effective.Enabled {
		if limiter := r.ensureLimiter(ctx, effective); limiter != nil {
			r.mu.Lock()
			r.primary = limiter
			r.mu.Unlock()
			r.logger.Info().Str("location", location).Str("algorithm", effective.Algorithm).
				Msg("rate limiter initialized")
		}
	}

	return nil
}

// Lookup returns the effective settings for a request path: the location
// cache first (exact, then longest path prefix), then resolution against
// the loaded file, then the disabled fallback.
func (r *Registry) Lookup(path string) config.Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.locations[path]; ok {
		return s
	}
	if best := bestLocation(r.locations, path); best != "" {
		return r.locations[best]
	}
	if r.file != nil {
		if _, ok := r.file.Locations[path]; ok {
			return r.file.Resolve(path)
		}
		if best := bestFileLocation(r.file, path); best != "" {
			return r.file.Resolve(best)
		}
		return r.file.Default
	}
	return r.fallback
}

// Limiter returns the primary rate limiter, or nil when none has been
// initialized. The admission check does not read this slot; it selects a
// limiter per policy with LimiterFor.
func (r *Registry) Limiter() *redislimit.RateLimiter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.primary
}

// LimiterFor returns the live limiter matching the given effective
// settings, or nil when none was initialized for that policy.
func (r *Registry) LimiterFor(settings config.Settings) *redislimit.RateLimiter {
	cfg, err := settings.LimiterConfig()
	if err != nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.limiters[fingerprint(cfg)]
}

// Close shuts down every limiter the registry constructed. Only for
// process teardown; limiters are never closed on reload while requests
// may still observe them.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, limiter := range r.limiters {
		if err := limiter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.limiters = map[string]*redislimit.RateLimiter{}
	r.primary = nil
	return firstErr
}

// ensureLimiter returns the limiter for the settings' policy, connecting
// one if it does not exist yet. Connection failures are logged and leave
// the slot empty.
func (r *Registry) ensureLimiter(ctx context.Context, settings config.Settings) *redislimit.RateLimiter {
	cfg, err := settings.LimiterConfig()
	if err != nil {
		r.logger.Error().Err(err).Msg("invalid limiter configuration")
		return nil
	}
	key := fingerprint(cfg)

	r.mu.RLock()
	limiter := r.limiters[key]
	r.mu.RUnlock()
	if limiter != nil {
		return limiter
	}

	limiter, err = redislimit.New(ctx, cfg, r.limiterOpts...)
	if err != nil {
		r.logger.Error().Err(err).Str("url", cfg.StoreURL).Msg("failed to initialize store connection")
		return nil
	}

	r.mu.Lock()
	if existing := r.limiters[key]; existing != nil {
		r.mu.Unlock()
		_ = limiter.Close()
		return existing
	}
	r.limiters[key] = limiter
	r.mu.Unlock()
	return limiter
}

// fingerprint identifies a limiter policy so identical configurations
// share one limiter and one connection pool.
func fingerprint(c redislimit.Config) string {
	password := ""
	if c.StoreOptions.Password != nil {
		password = *c.StoreOptions.Password
	}
	return fmt.Sprintf("%s|%s|%d|%d|%d|%d|%d|%d|%d|%s|%d|%d|%t|%t|%d",
		c.StoreURL, c.Algorithm, c.Rate, c.Burst, c.WindowSize,
		c.StoreOptions.ConnectTimeoutMS, c.StoreOptions.CommandTimeoutMS,
		c.StoreOptions.RetryCount, c.StoreOptions.RetryDelayMS,
		password, c.StoreOptions.Database, c.StoreOptions.PoolSize,
		c.StoreOptions.ClusterMode, c.StoreOptions.TLSEnabled,
		c.StoreOptions.KeepaliveSecs)
}

// bestLocation returns the longest cached location that is a
// segment-aligned prefix of path, or "".
func bestLocation(locations map[string]config.Settings, path string) string {
	best := ""
	for location := range locations {
		if isPathPrefix(location, path) && len(location) > len(best) {
			best = location
		}
	}
	return best
}

func bestFileLocation(f *config.File, path string) string {
	best := ""
	for location := range f.Locations {
		if isPathPrefix(location, path) && len(location) > len(best) {
			best = location
		}
	}
	return best
}

// isPathPrefix reports whether location covers path: equal, the root, or
// a prefix ending at a path segment boundary.
func isPathPrefix(location, path string) bool {
	if location == path || location == "/" {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(location, "/")+"/")
}

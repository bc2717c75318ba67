// Package middleware implements the per-request admission check and its
// net/http handler. Framework adapters for Gin, Echo, Fiber, and gRPC live
// in subpackages so importing one host does not pull in the others.
package middleware

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/gatekit/redislimit/metrics"
	"github.com/gatekit/redislimit/registry"
)

// Action is the admission outcome.
type Action int

const (
	// Declined lets the next handler run: the request is admitted, or
	// rate limiting does not apply to it.
	Declined Action = iota
	// Done means the request was rejected and the rejection response is
	// the final answer.
	Done
)

// Rejection response constants shared by every host adapter.
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderAlgorithm = "X-RateLimit-Algorithm"

	RejectionContentType = "application/json"
	RejectionBody        = `{"error": "rate limit exceeded"}`
)

// Decision carries the outcome and, for rejections, the values the host
// writes into the response headers.
type Decision struct {
	Action    Action
	Limit     int
	Algorithm string
}

var declined = Decision{Action: Declined}

// Evaluator runs the admission check against the registry. It is the
// host-neutral core all adapters share.
type Evaluator struct {
	registry  *registry.Registry
	logger    zerolog.Logger
	collector *metrics.Collector
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(l zerolog.Logger) EvaluatorOption {
	return func(e *Evaluator) { e.logger = l }
}

// WithCollector records decision metrics on the given collector.
func WithCollector(c *metrics.Collector) EvaluatorOption {
	return func(e *Evaluator) { e.collector = c }
}

// NewEvaluator binds an evaluator to a registry.
func NewEvaluator(reg *registry.Registry, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		registry: reg,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate decides one request. path selects the effective settings,
// remoteAddr is the peer address, and header looks up a request header by
// its canonical name (case-insensitively).
//
// Every failure mode admits: disabled settings, a missing identity
// source, an uninitialized limiter, and decision errors all return
// Declined. Only a store-confirmed rejection returns Done.
func (e *Evaluator) Evaluate(ctx context.Context, path, remoteAddr string, header func(name string) string) Decision {
	settings := e.registry.Lookup(path)
	if !settings.Enabled {
		return declined
	}

	key, ok := e.identityKey(settings.Key, remoteAddr, header)
	if !ok {
		return declined
	}

	limiter := e.registry.LimiterFor(settings)
	if limiter == nil {
		e.logger.Error().Str("path", path).Msg("rate limiter not initialized")
		return declined
	}

	start := time.Now()
	allowed, err := limiter.Check(ctx, key)
	if err != nil {
		e.collector.ObserveCheck(settings.Algorithm, true, err, time.Since(start))
		e.logger.Error().Err(err).Str("key", key).Msg("rate limit check failed")
		return declined
	}
	e.collector.ObserveCheck(settings.Algorithm, allowed, nil, time.Since(start))

	if allowed {
		return declined
	}
	return Decision{
		Action:    Done,
		Limit:     settings.Rate,
		Algorithm: settings.Algorithm,
	}
}

// identityKey derives the bucket owner from the configured key source:
// the peer address, an http_<name> header, or a literal constant bucket.
// A missing source logs an error and declines to rate-limit the request.
func (e *Evaluator) identityKey(source, remoteAddr string, header func(name string) string) (string, bool) {
	switch {
	case source == "remote_addr":
		if remoteAddr == "" {
			e.logger.Error().Msg("could not get remote address")
			return "", false
		}
		if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
			return host, true
		}
		return remoteAddr, true

	case strings.HasPrefix(source, "http_"):
		name := strings.ReplaceAll(strings.TrimPrefix(source, "http_"), "_", "-")
		value := header(name)
		if value == "" {
			e.logger.Error().Str("header", name).Msg("rate limit header not found")
			return "", false
		}
		return value, true

	default:
		return source, true
	}
}

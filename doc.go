// Package redislimit is the distributed rate-limit decision engine of a
// reverse-proxy gateway. Given an identity key derived from a request, it
// decides admit or reject using one of four algorithms, with all counter
// state held in Redis and mutated by atomic Lua scripts so the decision is
// consistent across every proxy worker.
//
// # Algorithms
//
//   - Fixed Window — aligned windows, INCR + EXPIRE
//   - Sliding Window — weighted two-window approximation
//   - Token Bucket — steady refill, burst-sized capacity
//   - Leaky Bucket — constant drain, bounded backlog
//
// # Quick Start
//
//	limiter, err := redislimit.New(ctx, redislimit.Config{
//	    StoreURL:     "redis://127.0.0.1:6379",
//	    Rate:         10,
//	    Burst:        5,
//	    Algorithm:    redislimit.SlidingWindow,
//	    WindowSize:   60,
//	    StoreOptions: store.DefaultOptions(),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer limiter.Close()
//
//	allowed, err := limiter.Check(ctx, "203.0.113.7")
//
// Check returns (true, nil) to admit, (false, nil) to reject, and a non-nil
// error when no decision could be made. Callers are expected to fail open
// on errors: the gateway must not stall because the store is degraded.
//
// The config, registry, and middleware subpackages layer hierarchical
// per-location configuration, process-wide lifecycle, and host adapters
// (net/http, Gin, Echo, Fiber, gRPC) on top of this package.
package redislimit

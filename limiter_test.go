package redislimit_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/gatekit/redislimit"
	"github.com/gatekit/redislimit/store"
)

// baseTime is aligned to the 10s windows used below (it sits 20s into a
// 60s window).
var baseTime = time.Unix(1_700_000_000, 0)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newLimiter(t *testing.T, mr *miniredis.Miniredis, cfg redislimit.Config, clk redislimit.Clock) *redislimit.RateLimiter {
	t.Helper()
	cfg.StoreURL = "redis://" + mr.Addr()
	cfg.StoreOptions = store.DefaultOptions()
	limiter, err := redislimit.New(context.Background(), cfg, redislimit.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { _ = limiter.Close() })
	return limiter
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  redislimit.Config
	}{
		{name: "zero rate", cfg: redislimit.Config{Rate: 0, Burst: 5, WindowSize: 60}},
		{name: "negative rate", cfg: redislimit.Config{Rate: -1, Burst: 5, WindowSize: 60}},
		{name: "negative burst", cfg: redislimit.Config{Rate: 10, Burst: -1, WindowSize: 60}},
		{name: "zero window", cfg: redislimit.Config{Rate: 10, Burst: 5, WindowSize: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := redislimit.New(context.Background(), tt.cfg)
			if err == nil {
				t.Fatal("expected error but got none")
			}
		})
	}
}

func TestNew_ConnectFailure(t *testing.T) {
	cfg := redislimit.DefaultConfig()
	cfg.StoreURL = "redis://127.0.0.1:1"
	cfg.StoreOptions.ConnectTimeoutMS = 100
	cfg.StoreOptions.CommandTimeoutMS = 100
	cfg.StoreOptions.RetryCount = 1
	cfg.StoreOptions.RetryDelayMS = 10

	_, err := redislimit.New(context.Background(), cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to connect")
}

func TestFixedWindow_AdmitThenReject(t *testing.T) {
	mr := miniredis.RunT(t)
	clk := newFakeClock(baseTime)
	limiter := newLimiter(t, mr, redislimit.Config{
		Rate: 2, Burst: 0, Algorithm: redislimit.FixedWindow, WindowSize: 10,
	}, clk)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		allowed, err := limiter.Check(ctx, "1.2.3.4")
		require.NoError(t, err)
		require.True(t, allowed, "request %d should be admitted", i+1)
	}
	allowed, err := limiter.Check(ctx, "1.2.3.4")
	require.NoError(t, err)
	require.False(t, allowed, "third request in the window should be rejected")
}

func TestFixedWindow_WindowRollover(t *testing.T) {
	mr := miniredis.RunT(t)
	clk := newFakeClock(baseTime)
	limiter := newLimiter(t, mr, redislimit.Config{
		Rate: 2, Burst: 0, Algorithm: redislimit.FixedWindow, WindowSize: 10,
	}, clk)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		allowed, err := limiter.Check(ctx, "1.2.3.4")
		require.NoError(t, err)
		require.True(t, allowed)
	}

	clk.Advance(10 * time.Second)

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Check(ctx, "1.2.3.4")
		require.NoError(t, err)
		require.True(t, allowed, "request %d after rollover should be admitted", i+1)
	}
}

func TestFixedWindow_CapIncludesBurst(t *testing.T) {
	mr := miniredis.RunT(t)
	clk := newFakeClock(baseTime)
	limiter := newLimiter(t, mr, redislimit.Config{
		Rate: 3, Burst: 2, Algorithm: redislimit.FixedWindow, WindowSize: 10,
	}, clk)

	ctx := context.Background()
	admitted := 0
	for i := 0; i < 10; i++ {
		allowed, err := limiter.Check(ctx, "capped")
		require.NoError(t, err)
		if allowed {
			admitted++
		}
	}
	require.Equal(t, 5, admitted, "admissions within one window must equal rate+burst")
}

func TestSlidingWindow_WeightedRejection(t *testing.T) {
	mr := miniredis.RunT(t)
	clk := newFakeClock(baseTime)
	limiter := newLimiter(t, mr, redislimit.Config{
		Rate: 5, Burst: 0, Algorithm: redislimit.SlidingWindow, WindowSize: 10,
	}, clk)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		allowed, err := limiter.Check(ctx, "client")
		require.NoError(t, err)
		require.True(t, allowed, "request %d should be admitted", i+1)
	}
	allowed, err := limiter.Check(ctx, "client")
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestSlidingWindow_PreviousWindowWeighs(t *testing.T) {
	mr := miniredis.RunT(t)
	clk := newFakeClock(baseTime)
	limiter := newLimiter(t, mr, redislimit.Config{
		Rate: 5, Burst: 0, Algorithm: redislimit.SlidingWindow, WindowSize: 10,
	}, clk)

	ctx := context.Background()
	// Fill the first window completely.
	for i := 0; i < 5; i++ {
		_, err := limiter.Check(ctx, "client")
		require.NoError(t, err)
	}

	// Two seconds into the next window 80% of the previous count still
	// weighs in: 1 + 5*0.8 = 5 ≤ 5 admits, the next weighted count 6 does
	// not.
	clk.Advance(12 * time.Second)
	allowed, err := limiter.Check(ctx, "client")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = limiter.Check(ctx, "client")
	require.NoError(t, err)
	require.False(t, allowed)
}

func TestSlidingWindow_OldCountExpiresFromWeight(t *testing.T) {
	mr := miniredis.RunT(t)
	clk := newFakeClock(baseTime)
	limiter := newLimiter(t, mr, redislimit.Config{
		Rate: 5, Burst: 0, Algorithm: redislimit.SlidingWindow, WindowSize: 10,
	}, clk)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := limiter.Check(ctx, "client")
		require.NoError(t, err)
	}

	// Two full windows later neither counter weighs in.
	clk.Advance(20 * time.Second)
	for i := 0; i < 5; i++ {
		allowed, err := limiter.Check(ctx, "client")
		require.NoError(t, err)
		require.True(t, allowed, "request %d after two windows should be admitted", i+1)
	}
}

func TestTokenBucket_InitialBurst(t *testing.T) {
	mr := miniredis.RunT(t)
	clk := newFakeClock(baseTime)
	limiter := newLimiter(t, mr, redislimit.Config{
		Rate: 1, Burst: 5, Algorithm: redislimit.TokenBucket, WindowSize: 60,
	}, clk)

	ctx := context.Background()
	admitted := 0
	for i := 0; i < 6; i++ {
		allowed, err := limiter.Check(ctx, "burster")
		require.NoError(t, err)
		if allowed {
			admitted++
		} else {
			require.Equal(t, 5, i, "rejection should come after the burst is spent")
		}
	}
	require.Equal(t, 5, admitted, "initial bucket equals burst")
}

func TestTokenBucket_Refill(t *testing.T) {
	mr := miniredis.RunT(t)
	clk := newFakeClock(baseTime)
	limiter := newLimiter(t, mr, redislimit.Config{
		Rate: 2, Burst: 2, Algorithm: redislimit.TokenBucket, WindowSize: 60,
	}, clk)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		allowed, err := limiter.Check(ctx, "refill")
		require.NoError(t, err)
		require.True(t, allowed)
	}
	allowed, err := limiter.Check(ctx, "refill")
	require.NoError(t, err)
	require.False(t, allowed, "bucket should be empty")

	// Two tokens refill per second.
	clk.Advance(time.Second)
	for i := 0; i < 2; i++ {
		allowed, err := limiter.Check(ctx, "refill")
		require.NoError(t, err)
		require.True(t, allowed, "request %d after refill should be admitted", i+1)
	}
}

func TestLeakyBucket_FillAndDrain(t *testing.T) {
	mr := miniredis.RunT(t)
	clk := newFakeClock(baseTime)
	limiter := newLimiter(t, mr, redislimit.Config{
		Rate: 2, Burst: 2, Algorithm: redislimit.LeakyBucket, WindowSize: 60,
	}, clk)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		allowed, err := limiter.Check(ctx, "drainer")
		require.NoError(t, err)
		require.True(t, allowed, "request %d should fill the bucket", i+1)
	}
	allowed, err := limiter.Check(ctx, "drainer")
	require.NoError(t, err)
	require.False(t, allowed, "bucket is full")

	// One second leaks 2; the bucket fully drains.
	clk.Advance(time.Second)
	allowed, err = limiter.Check(ctx, "drainer")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestCheck_IdentitiesAreIndependent(t *testing.T) {
	mr := miniredis.RunT(t)
	clk := newFakeClock(baseTime)
	limiter := newLimiter(t, mr, redislimit.Config{
		Rate: 1, Burst: 0, Algorithm: redislimit.FixedWindow, WindowSize: 10,
	}, clk)

	ctx := context.Background()
	allowed, err := limiter.Check(ctx, "alice")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = limiter.Check(ctx, "alice")
	require.NoError(t, err)
	require.False(t, allowed, "alice spent her budget")

	allowed, err = limiter.Check(ctx, "bob")
	require.NoError(t, err)
	require.True(t, allowed, "bob has his own bucket")
}

func TestCheck_KeysCarryTTL(t *testing.T) {
	window := int64(10)
	windowStart := baseTime.Unix() / window * window

	tests := []struct {
		name string
		algo redislimit.Algorithm
		key  string
	}{
		{name: "fixed", algo: redislimit.FixedWindow,
			key: fmt.Sprintf("ratelimit:fixed:id:%d", windowStart)},
		{name: "sliding", algo: redislimit.SlidingWindow,
			key: fmt.Sprintf("ratelimit:sliding:{id}:%d", windowStart)},
		{name: "token", algo: redislimit.TokenBucket, key: "ratelimit:token:id"},
		{name: "leaky", algo: redislimit.LeakyBucket, key: "ratelimit:leaky:id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr := miniredis.RunT(t)
			clk := newFakeClock(baseTime)
			limiter := newLimiter(t, mr, redislimit.Config{
				Rate: 5, Burst: 0, Algorithm: tt.algo, WindowSize: int(window),
			}, clk)

			_, err := limiter.Check(context.Background(), "id")
			require.NoError(t, err)

			require.True(t, mr.Exists(tt.key), "expected key %s", tt.key)
			require.Greater(t, mr.TTL(tt.key), time.Duration(0), "key %s must carry a TTL", tt.key)
		})
	}
}

func TestCheck_KeyNamespacesDoNotAlias(t *testing.T) {
	mr := miniredis.RunT(t)
	clk := newFakeClock(baseTime)
	ctx := context.Background()

	for _, algo := range []redislimit.Algorithm{
		redislimit.FixedWindow, redislimit.SlidingWindow,
		redislimit.TokenBucket, redislimit.LeakyBucket,
	} {
		limiter := newLimiter(t, mr, redislimit.Config{
			Rate: 1, Burst: 0, Algorithm: algo, WindowSize: 10,
		}, clk)
		allowed, err := limiter.Check(ctx, "shared-id")
		require.NoError(t, err)
		require.True(t, allowed, "%s must not see another algorithm's counter", algo)
	}
}

func TestCheck_StoreDownSurfacesError(t *testing.T) {
	mr := miniredis.RunT(t)
	clk := newFakeClock(baseTime)
	limiter := newLimiter(t, mr, redislimit.Config{
		Rate: 5, Burst: 0, Algorithm: redislimit.SlidingWindow, WindowSize: 10,
	}, clk)

	mr.Close()

	_, err := limiter.Check(context.Background(), "anyone")
	require.Error(t, err, "a dead store is a decision error, not a rejection")
}

func TestCheck_ConcurrentCallsRespectCap(t *testing.T) {
	mr := miniredis.RunT(t)
	clk := newFakeClock(baseTime)
	limiter := newLimiter(t, mr, redislimit.Config{
		Rate: 30, Burst: 0, Algorithm: redislimit.FixedWindow, WindowSize: 60,
	}, clk)

	ctx := context.Background()
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for g := 0; g < 20; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				allowed, err := limiter.Check(ctx, "contended")
				if err != nil {
					t.Error(err)
					return
				}
				if allowed {
					mu.Lock()
					admitted++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 30, admitted, "atomic scripts admit exactly rate+burst under contention")
}

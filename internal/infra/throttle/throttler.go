// Package throttle paces reconnect attempts against the relaycore core: a
// token bucket bounds how often OnConnect may be driven, and a retry loop
// with exponential backoff and jitter absorbs a flaky transport without the
// caller having to hand-roll its own sleep/retry dance. Reconnect pacing is
// deliberately external to connstate.Core — it only ever calls the same
// public OnConnect a caller could call directly, it just paces the calls.
//
// Timing runs entirely through an injected clock.Clock, the same abstraction
// connstate uses for its join/leave timers, so a Throttler's retry schedule
// can be driven deterministically under a FakeClock instead of sleeping for
// real seconds in tests.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"relaycore/internal/infra/clock"
)

// burstMultiplier sets the default bucket capacity as a multiple of rate.
// 2 means the bucket can briefly absorb up to 2*rate calls.
const burstMultiplier = 2

// Option configures a Throttler at construction time.
type Option func(*Throttler)

// WithMaxRetries caps the number of retries after the first attempt. <=0
// means unlimited.
func WithMaxRetries(maxRetries int) Option {
	return func(t *Throttler) {
		t.maxRetries = maxRetries
	}
}

// WithBurst overrides the token bucket's capacity. burst<=0 falls back to
// the default of 2*rate.
func WithBurst(burst int) Option {
	return func(t *Throttler) {
		t.burst = burst
	}
}

// WithClock overrides the clock used for both bucket refills and retry
// backoff. Defaults to clock.Real; tests pass a *clock.FakeClock.
func WithClock(clk clock.Clock) Option {
	return func(t *Throttler) {
		if clk != nil {
			t.clk = clk
		}
	}
}

// WithRandom sets the jitter-generating function, mainly for deterministic
// tests. fn must return values in [0, 1).
func WithRandom(fn func() float64) Option {
	return func(t *Throttler) {
		if fn != nil {
			t.randomFn = fn
		}
	}
}

// ErrNotStarted is returned when Do is called before Start.
var ErrNotStarted = errors.New("throttle: Start must be called before Do")

// Throttler bounds calls to a rate and retries failures with exponential
// backoff and jitter, up to an optional retry cap. Safe for concurrent use:
// Do may run from multiple goroutines; Start/Stop are idempotent.
type Throttler struct {
	rate  int // tokens added per second (base RPS)
	burst int // bucket capacity

	clk      clock.Clock
	randomFn func() float64 // jitter source, swappable in tests

	maxRetries int // retry cap; <=0 means unlimited

	startOnce sync.Once
	stopOnce  sync.Once

	mu          sync.Mutex
	tokens      chan struct{}
	started     bool
	refillTimer clock.Timer
	rootCtx     context.Context
	cancel      context.CancelFunc
}

// New creates a Throttler admitting rate calls/sec. Default burst is 2*rate
// with a floor of 1. Start must be called separately to begin refilling the
// bucket.
func New(rate int, opts ...Option) *Throttler {
	if rate <= 0 {
		rate = 1
	}

	t := &Throttler{
		rate:       rate,
		burst:      rate * burstMultiplier,
		maxRetries: -1,
		clk:        clock.Real,
	}

	for _, opt := range opts {
		opt(t)
	}

	if t.burst <= 0 {
		t.burst = rate * burstMultiplier
	}
	if t.burst < 1 {
		t.burst = 1
	}
	if t.randomFn == nil {
		t.randomFn = rand.Float64
	}

	return t
}

// Start allocates the token channel, pre-fills the bucket, and arms the
// refill timer. Idempotent; a nil ctx defaults to context.Background().
func (t *Throttler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	t.startOnce.Do(func() {
		t.mu.Lock()
		t.rootCtx, t.cancel = context.WithCancel(ctx)
		t.tokens = make(chan struct{}, t.burst)
		for range t.burst {
			t.tokens <- struct{}{}
		}
		t.started = true
		t.mu.Unlock()

		t.scheduleRefill()
	})
}

// Stop halts refilling. Idempotent: repeat calls are safe.
func (t *Throttler) Stop() {
	if !t.isStarted() {
		return
	}
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.started = false
		if t.refillTimer != nil {
			t.refillTimer.Stop()
		}
		cancel := t.cancel
		t.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

// SetMaxRetries changes the retry cap after construction. <=0 continues to
// mean unlimited. Safe for concurrent use.
func (t *Throttler) SetMaxRetries(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxRetries = n
}

// Do runs fn under the token bucket and the retry policy:
//
//  1. wait for a token (honoring ctx and Stop);
//  2. call fn;
//  3. on error: a cancelled context returns immediately; otherwise back off
//     with jitter and retry, bounded by the retry cap.
//
// Returns nil on success, or the last error once the retry policy is
// exhausted.
func (t *Throttler) Do(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	root := t.rootContext()
	if root == nil {
		return ErrNotStarted
	}
	// Snapshot once so a concurrent SetMaxRetries doesn't change this call's
	// budget mid-flight.
	maxRetries := t.currentMaxRetries()

	attempt := 0
	for {
		if err := t.takeToken(ctx, root); err != nil {
			return err
		}

		callErr := fn()
		if callErr == nil {
			return nil
		}
		if errors.Is(callErr, context.Canceled) || errors.Is(callErr, context.DeadlineExceeded) {
			return callErr
		}

		if maxRetries > 0 && attempt >= maxRetries {
			return fmt.Errorf("throttle: max retries reached (%d): last error: %w", maxRetries, callErr)
		}

		sleep := t.expBackoff(attempt)
		attempt++
		if wErr := t.wait(ctx, root, sleep); wErr != nil {
			return wErr
		}
	}
}

func (t *Throttler) rootContext() context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rootCtx
}

func (t *Throttler) isStarted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

func (t *Throttler) currentMaxRetries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxRetries
}

// takeToken blocks until a token is available or a context is cancelled.
// Returns context.Canceled when the throttler itself has been stopped, which
// Do's caller treats the same as its own ctx expiring.
func (t *Throttler) takeToken(ctx, rootCtx context.Context) error {
	tokenCh := t.tokenChannel()
	if tokenCh == nil {
		return ErrNotStarted
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-rootCtx.Done():
		return context.Canceled
	case <-tokenCh:
		return nil
	}
}

func (t *Throttler) tokenChannel() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tokens
}

// scheduleRefill arms the next refill via the throttler's clock. Unlike a
// time.Ticker, clock.Clock.AfterFunc only fires once, so each tick rearms
// itself — which is also what lets a FakeClock drive the whole refill
// sequence synchronously inside a single Advance call.
func (t *Throttler) scheduleRefill() {
	interval := time.Second / time.Duration(t.rate)
	if interval <= 0 {
		interval = time.Second
	}

	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return
	}
	t.refillTimer = t.clk.AfterFunc(interval, t.onRefillTick)
	t.mu.Unlock()
}

func (t *Throttler) onRefillTick() {
	t.mu.Lock()
	started := t.started
	tokens := t.tokens
	t.mu.Unlock()
	if !started {
		return
	}

	select {
	case tokens <- struct{}{}:
	default:
	}

	t.scheduleRefill()
}

// wait blocks for duration or until either context is cancelled, or the
// throttler is stopped.
func (t *Throttler) wait(ctx, rootCtx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}

	done := make(chan struct{})
	timer := t.clk.AfterFunc(duration, func() { close(done) })
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-rootCtx.Done():
		return context.Canceled
	case <-done:
		return nil
	}
}

// expBackoff computes 2^attempt seconds, capped at 60s, scaled by jitter in
// [0.85, 1.15).
func (t *Throttler) expBackoff(attempt int) time.Duration {
	const (
		jitterRange = 0.3
		jitterMin   = 0.85
		maxSeconds  = 60.0
		basePower   = 2.0
	)

	base := math.Pow(basePower, float64(attempt))
	if base > maxSeconds {
		base = maxSeconds
	}

	jitter := t.randomFn()*jitterRange + jitterMin
	seconds := base * jitter
	return time.Duration(seconds * float64(time.Second))
}

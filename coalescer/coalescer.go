// Package coalescer implements Coalescer (spec.md §4.4): a single-flight
// guard around a user-supplied asynchronous computation, adding result
// caching with TTL, configurable retry, and three distinct strategies
// for clearing state out from under an in-flight or cached attempt.
package coalescer

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/flightcache/flightcache/clock"
	"golang.org/x/sync/singleflight"
)

// ResultTTLForever marks a successful result as never expiring.
const ResultTTLForever time.Duration = -1

// State is a Coalescer's position in the Idle/Running/Cached machine
// described in spec.md §4.4.
type State int

const (
	Idle State = iota
	Running
	Cached
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Cached:
		return "cached"
	default:
		return "idle"
	}
}

// ClearStrategy selects how Clear disposes of cached/in-flight state.
type ClearStrategy int

const (
	// CancelInFlight notifies every waiter with Cancelled and discards
	// any result the in-flight attempt eventually produces.
	CancelInFlight ClearStrategy = iota
	// AllowCompletion erases the cached value; an in-flight attempt
	// still runs to completion and its result reaches current waiters,
	// but is not cached.
	AllowCompletion
	// RestartAfterCompletion erases the cached value and, once any
	// in-flight attempt finishes, immediately launches a fresh one.
	RestartAfterCompletion
)

// Result is delivered to exactly one waiter callback per Execute call.
type Result[V any] struct {
	Value     V
	Err       error
	Cancelled bool
}

// ProduceFunc performs the guarded computation. It must return exactly
// once; ctx is cancelled if the caller's context (passed to Execute) is
// cancelled, but a running ProduceFunc is not force-stopped by that —
// callers that need that must select on ctx.Done() themselves.
type ProduceFunc[V any] func(ctx context.Context) (V, error)

// Options configures a Coalescer. Produce is required; every other
// field has a safe zero value.
type Options[V any] struct {
	Produce ProduceFunc[V]

	// RetryPolicy decides whether/when a failed attempt is retried.
	// nil means Never().
	RetryPolicy RetryPolicy
	// ResultTTL bounds how long a successful result stays Cached.
	// ResultTTLForever disables expiry. The zero value caches a result
	// that is already expired on arrival, i.e. effectively disables
	// caching while still going through the Cached state transition.
	ResultTTL time.Duration

	// WorkScheduler runs Produce attempts; nil uses GoroutineScheduler.
	WorkScheduler Scheduler
	// CallbackScheduler delivers waiter callbacks; nil uses InlineScheduler.
	CallbackScheduler Scheduler

	// Clock overrides the time source; nil uses clock.SystemClock{}.
	Clock clock.Clock
}

type waiter[V any] struct {
	callback func(Result[V])
}

// Coalescer is the spec.md §4.4 single-flight guard. The zero value is
// not usable; construct with New.
type Coalescer[V any] struct {
	opt   Options[V]
	clock clock.Clock
	retry RetryPolicy
	work  Scheduler
	cb    Scheduler
	sf    singleflight.Group

	mu               sync.Mutex
	state            State
	waiters          []waiter[V]
	generation       uint64
	cacheSuppressed  bool
	restartRequested bool

	cached        V
	cachedAt      clock.Instant
	expiresAt     clock.Instant
	cachedForever bool
}

// New constructs a Coalescer around opt.Produce.
func New[V any](opt Options[V]) *Coalescer[V] {
	c := &Coalescer[V]{opt: opt}
	if opt.Clock != nil {
		c.clock = opt.Clock
	} else {
		c.clock = clock.SystemClock{}
	}
	if opt.RetryPolicy != nil {
		c.retry = opt.RetryPolicy
	} else {
		c.retry = Never()
	}
	if opt.WorkScheduler != nil {
		c.work = opt.WorkScheduler
	} else {
		c.work = GoroutineScheduler{}
	}
	if opt.CallbackScheduler != nil {
		c.cb = opt.CallbackScheduler
	} else {
		c.cb = InlineScheduler{}
	}
	return c
}

// State reports the current position in the state machine.
func (c *Coalescer[V]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsRunning reports whether an attempt is currently in flight.
func (c *Coalescer[V]) IsRunning() bool { return c.State() == Running }

// IsCached reports whether a fresh cached result is available.
func (c *Coalescer[V]) IsCached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == Cached && !c.expiredLocked()
}

// Execute delivers the coalesced result to callback exactly once: the
// cached value (if Cached, fresh, and !forceRefresh), the result of an
// attempt already in flight, or the result of a newly started attempt.
func (c *Coalescer[V]) Execute(ctx context.Context, forceRefresh bool, callback func(Result[V])) {
	c.mu.Lock()
	if c.state == Cached && !forceRefresh && !c.expiredLocked() {
		v := c.cached
		c.mu.Unlock()
		c.cb.Schedule(func() { callback(Result[V]{Value: v}) })
		return
	}

	c.waiters = append(c.waiters, waiter[V]{callback: callback})
	if c.state == Running {
		c.mu.Unlock()
		return
	}

	c.state = Running
	c.cacheSuppressed = false
	c.restartRequested = false
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	c.work.Schedule(func() { c.runAttempt(ctx, gen, 1) })
}

// ExecuteSync blocks until the coalesced result is available or ctx is
// cancelled.
func (c *Coalescer[V]) ExecuteSync(ctx context.Context, forceRefresh bool) Result[V] {
	ch := c.ExecuteAwait(ctx, forceRefresh)
	select {
	case r := <-ch:
		return r
	case <-ctx.Done():
		return Result[V]{Err: ctx.Err()}
	}
}

// ExecuteAwait starts (or joins) an execution and returns a channel that
// receives exactly one Result, for callers that want to suspend on a
// channel read rather than register a callback.
func (c *Coalescer[V]) ExecuteAwait(ctx context.Context, forceRefresh bool) <-chan Result[V] {
	ch := make(chan Result[V], 1)
	c.Execute(ctx, forceRefresh, func(r Result[V]) { ch <- r })
	return ch
}

// FireAndForget starts an execution if the Coalescer is Idle or holds a
// stale cached value, without registering a waiter. It is a no-op if an
// attempt is already running or a fresh cached value exists.
func (c *Coalescer[V]) FireAndForget(ctx context.Context) {
	c.mu.Lock()
	if c.state == Running || (c.state == Cached && !c.expiredLocked()) {
		c.mu.Unlock()
		return
	}
	c.state = Running
	c.cacheSuppressed = false
	c.restartRequested = false
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	c.work.Schedule(func() { c.runAttempt(ctx, gen, 1) })
}

// Clear disposes of cached/in-flight state per strategy (spec.md §4.4).
// Clear is idempotent: calling it repeatedly with no intervening
// Execute delivers at most one Cancelled notification per waiter.
func (c *Coalescer[V]) Clear(strategy ClearStrategy) {
	switch strategy {
	case CancelInFlight:
		c.mu.Lock()
		waiters := c.waiters
		c.waiters = nil
		var zero V
		c.cached = zero
		c.expiresAt = clock.Instant{}
		c.cachedForever = false
		c.cacheSuppressed = false
		c.restartRequested = false
		c.state = Idle
		c.generation++ // invalidates any attempt already in flight
		c.mu.Unlock()
		c.notify(waiters, Result[V]{Cancelled: true, Err: ErrCancelled})

	case AllowCompletion:
		c.mu.Lock()
		if c.state == Cached {
			var zero V
			c.cached = zero
			c.expiresAt = clock.Instant{}
			c.cachedForever = false
			c.state = Idle
		} else if c.state == Running {
			c.cacheSuppressed = true
		}
		c.mu.Unlock()

	case RestartAfterCompletion:
		c.mu.Lock()
		if c.state == Running {
			c.restartRequested = true
			c.mu.Unlock()
			return
		}
		// Idle or Cached: erase any cached value and restart immediately.
		var zero V
		c.cached = zero
		c.expiresAt = clock.Instant{}
		c.cachedForever = false
		c.state = Running
		c.cacheSuppressed = false
		c.restartRequested = false
		c.generation++
		gen := c.generation
		c.mu.Unlock()
		c.work.Schedule(func() { c.runAttempt(context.Background(), gen, 1) })
	}
}

// runAttempt invokes Produce (wrapped in the shared singleflight.Group,
// keyed by generation, so a second goroutine that ever raced into the
// same attempt collapses onto the first instead of invoking Produce
// twice, while an attempt of a later generation never joins an
// orphaned one) and drives retries.
func (c *Coalescer[V]) runAttempt(ctx context.Context, gen uint64, attempt int) {
	res, err, _ := c.sf.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		return c.opt.Produce(ctx)
	})

	c.mu.Lock()
	if gen != c.generation {
		// Superseded by Clear(cancel_in_flight) or a fresher attempt.
		c.mu.Unlock()
		return
	}

	if err != nil {
		if delay, retry := c.retry.NextDelay(attempt); retry {
			c.mu.Unlock()
			c.scheduleRetry(ctx, gen, attempt+1, delay)
			return
		}
		waiters := c.waiters
		c.waiters = nil
		c.state = Idle
		restart := c.restartRequested
		c.restartRequested = false
		c.cacheSuppressed = false
		c.mu.Unlock()

		c.notify(waiters, Result[V]{Err: &RetryExhaustedError{Attempts: attempt, Err: err}})
		if restart {
			c.Execute(context.Background(), true, func(Result[V]) {})
		}
		return
	}

	value, _ := res.(V)
	waiters := c.waiters
	c.waiters = nil
	suppressCache := c.cacheSuppressed
	c.cacheSuppressed = false
	restart := c.restartRequested
	c.restartRequested = false

	if suppressCache {
		c.state = Idle
	} else {
		c.state = Cached
		c.cached = value
		c.cachedAt = c.clock.Now()
		c.cachedForever = c.opt.ResultTTL == ResultTTLForever
		if !c.cachedForever {
			c.expiresAt = c.cachedAt.Add(c.opt.ResultTTL)
		}
	}
	c.mu.Unlock()

	c.notify(waiters, Result[V]{Value: value})
	if restart {
		c.Execute(context.Background(), true, func(Result[V]) {})
	}
}

func (c *Coalescer[V]) scheduleRetry(ctx context.Context, gen uint64, nextAttempt int, delay time.Duration) {
	time.AfterFunc(delay, func() {
		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		c.work.Schedule(func() { c.runAttempt(ctx, gen, nextAttempt) })
	})
}

// notify dispatches result to every waiter in registration order on
// CallbackScheduler. Must be called with mu released.
func (c *Coalescer[V]) notify(waiters []waiter[V], result Result[V]) {
	for _, w := range waiters {
		cb := w.callback
		c.cb.Schedule(func() { cb(result) })
	}
}

// expiredLocked reports whether the cached value is past its TTL.
// Caller must hold mu.
func (c *Coalescer[V]) expiredLocked() bool {
	if c.cachedForever {
		return false
	}
	return c.clock.Now().After(c.expiresAt)
}

package coalescer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

// Concurrent ExecuteSync callers for the same generation must coalesce
// onto a single Produce call, mirroring the teacher's
// TestCache_GetOrLoad_Singleflight shape.
func TestCoalescer_AtMostOnceAcrossConcurrentWaiters(t *testing.T) {
	t.Parallel()

	var calls int64
	c := New[int](Options[int]{
		Produce: func(ctx context.Context) (int, error) {
			atomic.AddInt64(&calls, 1)
			time.Sleep(10 * time.Millisecond)
			return 42, nil
		},
	})

	const n = 10
	var g errgroup.Group
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < n; i++ {
		g.Go(func() error {
			r := c.ExecuteSync(ctx, false)
			if r.Err != nil {
				return r.Err
			}
			if r.Value != 42 {
				return fmt.Errorf("got %d", r.Value)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("Produce should run exactly once, ran %d times", got)
	}
}

func TestCoalescer_CachedFastPathSkipsProduce(t *testing.T) {
	t.Parallel()

	var calls int64
	c := New[int](Options[int]{
		ResultTTL: ResultTTLForever,
		Produce: func(ctx context.Context) (int, error) {
			atomic.AddInt64(&calls, 1)
			return 7, nil
		},
	})

	r1 := c.ExecuteSync(context.Background(), false)
	r2 := c.ExecuteSync(context.Background(), false)

	if r1.Value != 7 || r2.Value != 7 {
		t.Fatalf("unexpected values: %+v %+v", r1, r2)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("Produce should run once, ran %d times", got)
	}
	if !c.IsCached() {
		t.Fatal("expected Cached state")
	}
}

func TestCoalescer_ForceRefreshReplacesCachedValue(t *testing.T) {
	t.Parallel()

	var n int64
	c := New[int64](Options[int64]{
		ResultTTL: ResultTTLForever,
		Produce: func(ctx context.Context) (int64, error) {
			return atomic.AddInt64(&n, 1), nil
		},
	})

	r1 := c.ExecuteSync(context.Background(), false)
	r2 := c.ExecuteSync(context.Background(), true) // force refresh must invoke Produce again
	r3 := c.ExecuteSync(context.Background(), false)

	if r1.Value != 1 || r2.Value != 2 || r3.Value != 2 {
		t.Fatalf("unexpected sequence: %v %v %v", r1.Value, r2.Value, r3.Value)
	}
}

func TestCoalescer_RetryExponentialBackoff(t *testing.T) {
	t.Parallel()

	var attempts int64
	var timestamps []time.Time
	var mu sync.Mutex
	start := time.Now()

	c := New[string](Options[string]{
		RetryPolicy: Exponential(3, 10*time.Millisecond, 2),
		Produce: func(ctx context.Context) (string, error) {
			mu.Lock()
			timestamps = append(timestamps, time.Now())
			mu.Unlock()
			if atomic.AddInt64(&attempts, 1) <= 3 {
				return "", errors.New("boom")
			}
			return "ok", nil
		},
	})

	r := c.ExecuteSync(context.Background(), false)
	if r.Err != nil || r.Value != "ok" {
		t.Fatalf("expected eventual success, got %+v", r)
	}
	if got := atomic.LoadInt64(&attempts); got != 4 {
		t.Fatalf("expected 4 attempts (1 + 3 retries), got %d", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(timestamps) != 4 {
		t.Fatalf("expected 4 recorded attempts, got %d", len(timestamps))
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}
	for i, w := range want {
		gap := timestamps[i+1].Sub(timestamps[i])
		if gap < w {
			t.Fatalf("gap between attempt %d and %d was %v, want >= %v", i, i+1, gap, w)
		}
	}
	_ = start
}

func TestCoalescer_RetryExhaustedWrapsUnderlying(t *testing.T) {
	t.Parallel()

	underlying := errors.New("persistent failure")
	c := New[int](Options[int]{
		RetryPolicy: Fixed(2, time.Millisecond),
		Produce: func(ctx context.Context) (int, error) {
			return 0, underlying
		},
	})

	r := c.ExecuteSync(context.Background(), false)
	if r.Err == nil {
		t.Fatal("expected error")
	}
	var exhausted *RetryExhaustedError
	if !errors.As(r.Err, &exhausted) {
		t.Fatalf("expected *RetryExhaustedError, got %T: %v", r.Err, r.Err)
	}
	if !errors.Is(r.Err, underlying) {
		t.Fatalf("expected wrapped underlying error to be reachable via errors.Is")
	}
	if exhausted.Attempts != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", exhausted.Attempts)
	}
}

func TestCoalescer_ClearCancelInFlightNotifiesCancelled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	c := New[int](Options[int]{
		Produce: func(ctx context.Context) (int, error) {
			<-release
			return 1, nil
		},
	})

	done := make(chan Result[int], 1)
	c.Execute(context.Background(), false, func(r Result[int]) { done <- r })

	// Give the attempt a moment to enter Running before clearing it.
	for c.State() != Running {
		time.Sleep(time.Millisecond)
	}

	c.Clear(CancelInFlight)
	close(release) // let the orphaned produce finish; its result must be discarded

	select {
	case r := <-done:
		if !r.Cancelled || !errors.Is(r.Err, ErrCancelled) {
			t.Fatalf("expected Cancelled result, got %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancellation notice")
	}

	if c.State() != Idle {
		t.Fatalf("expected Idle after cancel, got %v", c.State())
	}
}

func TestCoalescer_ClearCancelInFlightIdempotent(t *testing.T) {
	t.Parallel()

	c := New[int](Options[int]{Produce: func(ctx context.Context) (int, error) { return 1, nil }})
	c.Clear(CancelInFlight)
	c.Clear(CancelInFlight) // must not panic or double-notify anything

	if c.State() != Idle {
		t.Fatalf("expected Idle, got %v", c.State())
	}
}

func TestCoalescer_ClearRestartAfterCompletion(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var n int64
	c := New[int64](Options[int64]{
		Produce: func(ctx context.Context) (int64, error) {
			v := atomic.AddInt64(&n, 1)
			if v == 1 {
				<-release
			}
			return v, nil
		},
	})

	first := make(chan Result[int64], 2)
	c.Execute(context.Background(), false, func(r Result[int64]) { first <- r })
	c.Execute(context.Background(), false, func(r Result[int64]) { first <- r })

	for c.State() != Running {
		time.Sleep(time.Millisecond)
	}
	c.Clear(RestartAfterCompletion)
	close(release)

	for i := 0; i < 2; i++ {
		select {
		case r := <-first:
			if r.Value != 1 {
				t.Fatalf("current waiters should see attempt 1's result, got %v", r.Value)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for first-attempt waiters")
		}
	}

	// A subsequent waiter must see the *restarted* (second) attempt.
	r := c.ExecuteSync(context.Background(), false)
	if r.Value != 2 {
		t.Fatalf("expected restarted attempt's result (2), got %v", r.Value)
	}
}

func TestCoalescer_ClearAllowCompletionDoesNotCache(t *testing.T) {
	t.Parallel()

	var calls int64
	c := New[int](Options[int]{
		ResultTTL: ResultTTLForever,
		Produce: func(ctx context.Context) (int, error) {
			return int(atomic.AddInt64(&calls, 1)), nil
		},
	})

	_ = c.ExecuteSync(context.Background(), false)
	if !c.IsCached() {
		t.Fatal("expected Cached after first execute")
	}

	c.Clear(AllowCompletion)
	if c.IsCached() {
		t.Fatal("expected cache to be erased by AllowCompletion")
	}

	r := c.ExecuteSync(context.Background(), false)
	if r.Value != 2 {
		t.Fatalf("expected a fresh Produce invocation, got %v", r.Value)
	}
}

func TestCoalescer_ClearAllowCompletionWhileRunningStillDeliversButDoesNotCache(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	c := New[int](Options[int]{
		ResultTTL: ResultTTLForever,
		Produce: func(ctx context.Context) (int, error) {
			<-release
			return 99, nil
		},
	})

	done := make(chan Result[int], 1)
	c.Execute(context.Background(), false, func(r Result[int]) { done <- r })

	for c.State() != Running {
		time.Sleep(time.Millisecond)
	}
	c.Clear(AllowCompletion)
	close(release)

	select {
	case r := <-done:
		if r.Value != 99 {
			t.Fatalf("in-flight waiter should still receive the result, got %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for in-flight result")
	}

	if c.IsCached() {
		t.Fatal("AllowCompletion must prevent the result from being cached")
	}
}

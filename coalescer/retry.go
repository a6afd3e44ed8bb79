package coalescer

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides whether a failed attempt should be retried and
// after how long. attempt is 1-indexed: the value passed for the retry
// following the very first failure is 1.
type RetryPolicy interface {
	NextDelay(attempt int) (delay time.Duration, retry bool)
}

type neverPolicy struct{}

func (neverPolicy) NextDelay(int) (time.Duration, bool) { return 0, false }

// Never never retries; the first failure is terminal.
func Never() RetryPolicy { return neverPolicy{} }

type fixedPolicy struct {
	max int
	b   *backoff.ConstantBackOff
}

// Fixed retries up to maxRetries times, waiting delay between each.
func Fixed(maxRetries int, delay time.Duration) RetryPolicy {
	return &fixedPolicy{max: maxRetries, b: backoff.NewConstantBackOff(delay)}
}

func (p *fixedPolicy) NextDelay(attempt int) (time.Duration, bool) {
	if attempt > p.max {
		return 0, false
	}
	return p.b.NextBackOff(), true
}

type exponentialPolicy struct {
	max int
	b   *backoff.ExponentialBackOff
}

// Exponential retries up to maxRetries times, with the delay starting at
// base and multiplying by factor after every attempt (no randomization,
// so callers can assert deterministic lower bounds on elapsed time).
func Exponential(maxRetries int, base time.Duration, factor float64) RetryPolicy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = factor
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return &exponentialPolicy{max: maxRetries, b: b}
}

func (p *exponentialPolicy) NextDelay(attempt int) (time.Duration, bool) {
	if attempt > p.max {
		return 0, false
	}
	if attempt == 1 {
		// A new failure sequence starts over at base.
		p.b.Reset()
	}
	d := p.b.NextBackOff()
	if d == backoff.Stop {
		return 0, false
	}
	return d, true
}

type customPolicy struct {
	max int
	fn  func(attempt int) time.Duration
}

// Custom retries up to maxRetries times, delegating the delay
// computation for each attempt to fn.
func Custom(maxRetries int, fn func(attempt int) time.Duration) RetryPolicy {
	return &customPolicy{max: maxRetries, fn: fn}
}

func (p *customPolicy) NextDelay(attempt int) (time.Duration, bool) {
	if attempt > p.max {
		return 0, false
	}
	return p.fn(attempt), true
}

var (
	_ RetryPolicy = neverPolicy{}
	_ RetryPolicy = (*fixedPolicy)(nil)
	_ RetryPolicy = (*exponentialPolicy)(nil)
	_ RetryPolicy = (*customPolicy)(nil)
)

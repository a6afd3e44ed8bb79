package coalescer

// Scheduler decides where a func runs: on a new goroutine, inline on the
// calling goroutine, or routed into a caller-owned event loop. Coalescer
// never runs user code synchronously inside its own lock; it always goes
// through a Scheduler, so a single-threaded consumer can wire its own
// loop in instead of spawning goroutines.
type Scheduler interface {
	Schedule(fn func())
}

// GoroutineScheduler runs fn on a new goroutine. It is the default
// WorkScheduler, so a slow produce never blocks the caller that
// triggered it.
type GoroutineScheduler struct{}

func (GoroutineScheduler) Schedule(fn func()) { go fn() }

// InlineScheduler runs fn synchronously on the calling goroutine. It is
// the default CallbackScheduler: spec.md requires waiter notifications
// to be "dispatched in registration order", a guarantee InlineScheduler
// provides exactly since the dispatch loop itself is sequential.
type InlineScheduler struct{}

func (InlineScheduler) Schedule(fn func()) { fn() }

var (
	_ Scheduler = GoroutineScheduler{}
	_ Scheduler = InlineScheduler{}
)

package heavy

import (
	"context"
	"time"

	"github.com/flightcache/flightcache/boundedcache"
	"github.com/flightcache/flightcache/clock"
	"github.com/flightcache/flightcache/logging"
)

// StopAction is a Provider's answer to Stop: whether it retained enough
// state to resume later, or must be discarded (spec.md §4.6).
type StopAction int

const (
	Reuse StopAction = iota
	Dealloc
)

func (a StopAction) String() string {
	if a == Reuse {
		return "reuse"
	}
	return "dealloc"
}

// EventEmitter delivers one progress/lifecycle event to every current
// subscriber of the Provider's key, in the order it is called.
type EventEmitter[E any] func(E)

// ResultEmitter delivers the Provider's single terminal result. Only
// the first call has any effect; later calls are ignored.
type ResultEmitter[V any] func(V, error)

// Provider drives one key's long-lived job. A manager creates one
// Provider per key via Options.NewProvider (and a fresh one after a
// Dealloc), and may call Start more than once across a
// Stop(...) -> Reuse -> Start(...) resume cycle.
type Provider[E any, V any] interface {
	Start(ctx context.Context)
	Stop(ctx context.Context) StopAction
}

// ProviderFactory constructs the Provider for key, wiring it to emit
// through emitEvent/emitResult.
type ProviderFactory[K comparable, E any, V any] func(key K, emitEvent EventEmitter[E], emitResult ResultEmitter[V]) Provider[E, V]

// Metrics exposes heavy-task-manager observability hooks.
type Metrics interface {
	Admitted()
	Queued()
	Evicted()
	Preempted()
	Completed()
	Cancelled()
}

// NoopMetrics discards every signal.
type NoopMetrics struct{}

func (NoopMetrics) Admitted()  {}
func (NoopMetrics) Queued()    {}
func (NoopMetrics) Evicted()   {}
func (NoopMetrics) Preempted() {}
func (NoopMetrics) Completed() {}
func (NoopMetrics) Cancelled() {}

var _ Metrics = NoopMetrics{}

// AdmissionPolicy breaks priority ties, matching tasks/light's policy.
type AdmissionPolicy int

const (
	FIFO AdmissionPolicy = iota
	LIFO
)

// Options configures a HeavyTaskManager.
type Options[K comparable, E any, V any] struct {
	NewProvider ProviderFactory[K, E, V]

	// MaxRunning bounds concurrent Providers. 0 defaults to 4.
	MaxRunning int
	// MaxQueued bounds the admission queue. 0 defaults to 256.
	MaxQueued int
	AdmissionPolicy AdmissionPolicy

	// StopGrace bounds how long a preempted or cancelled Provider's
	// Stop is allowed to run before it is treated as Dealloc and
	// orphaned (spec.md §4.6, §5's mandatory timeout). 0 defaults to
	// 5 seconds.
	StopGrace time.Duration

	// ResultCache configures a BoundedCache for terminal results; nil
	// disables caching.
	ResultCache *boundedcache.Options[K, V]

	Clock   clock.Clock
	Metrics Metrics
	Logger  logging.Logger
}

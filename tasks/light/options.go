package light

import (
	"context"

	"github.com/flightcache/flightcache/boundedcache"
	"github.com/flightcache/flightcache/clock"
	"github.com/flightcache/flightcache/logging"
)

// MonoSyncFunc fetches a single key, blocking the calling goroutine.
type MonoSyncFunc[K comparable, V any] func(ctx context.Context, key K) (V, error)

// MonoAsyncFunc fetches a single key, invoking callback exactly once
// when the result is ready, from any goroutine.
type MonoAsyncFunc[K comparable, V any] func(ctx context.Context, key K, callback func(V, error))

// MultiFunc fetches a batch of keys in one round trip, returning a
// result for each key it was able to resolve.
type MultiFunc[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

// Provider is a union: exactly one of MonoSync, MonoAsync, or Multi
// should be set (spec.md §4.5's mono_sync/mono_async/multi).
type Provider[K comparable, V any] struct {
	MonoSync  MonoSyncFunc[K, V]
	MonoAsync MonoAsyncFunc[K, V]
	Multi     MultiFunc[K, V]
	// BatchSize caps how many pending keys a single Multi call covers.
	// Ignored unless Multi is set; defaults to 1 if unset.
	BatchSize int
}

// Metrics exposes task-manager-level observability hooks.
type Metrics interface {
	Admitted()
	Queued()
	Evicted()
	Completed()
	Cancelled()
}

// NoopMetrics discards every signal.
type NoopMetrics struct{}

func (NoopMetrics) Admitted() {}
func (NoopMetrics) Queued()   {}
func (NoopMetrics) Evicted()  {}
func (NoopMetrics) Completed() {}
func (NoopMetrics) Cancelled() {}

var _ Metrics = NoopMetrics{}

// Options configures a LightTaskManager.
type Options[K comparable, V any] struct {
	Provider Provider[K, V]

	// MaxRunning bounds concurrent in-flight tasks. 0 defaults to 4.
	MaxRunning int
	// MaxQueued bounds the admission queue. 0 defaults to 256.
	MaxQueued int
	// AdmissionPolicy breaks priority ties; zero value is FIFO.
	AdmissionPolicy AdmissionPolicy
	// RetryCount is the number of additional attempts after the first
	// failure, applied per task (or per batch, for Multi providers).
	RetryCount int

	// ResultCache configures a BoundedCache fronting Fetch. nil disables
	// result caching entirely.
	ResultCache *boundedcache.Options[K, V]

	Clock   clock.Clock
	Metrics Metrics
	Logger  logging.Logger
}

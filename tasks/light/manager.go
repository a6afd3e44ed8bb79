// Package light implements LightTaskManager (spec.md §4.5): coordinated,
// per-key-coalesced fetches of many small keyed values, with bounded
// concurrency, priority admission, and an optional result cache.
package light

import (
	"container/heap"
	"context"
	"sync"

	"github.com/flightcache/flightcache/boundedcache"
	"github.com/flightcache/flightcache/clock"
	"github.com/flightcache/flightcache/logging"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Outcome is delivered to a Fetch subscriber exactly once.
type Outcome[V any] struct {
	Value     V
	Err       error
	Cancelled bool
	Evicted   bool
}

// runningTask is one in-flight provider invocation. For a mono provider
// it always covers exactly one key; for a multi provider it may cover
// up to Provider.BatchSize keys collected from the admission queue.
type runningTask[K comparable, V any] struct {
	keys        []K
	subscribers map[K][]subscriber[V]
}

// LightTaskManager is the spec.md §4.5 coordinator. The zero value is
// not usable; construct with New.
type LightTaskManager[K comparable, V any] struct {
	opt     Options[K, V]
	clock   clock.Clock
	metrics Metrics
	logger  logging.Logger
	sem     *semaphore.Weighted
	cache   *boundedcache.BoundedCache[K, V]

	mu      sync.Mutex
	queue   queueHeap[K, V]
	running map[K]*runningTask[K, V]
	seq     uint64
}

// New constructs a LightTaskManager. MaxRunning defaults to 4,
// MaxQueued to 256, matching spec.md §4.5's stated defaults.
func New[K comparable, V any](opt Options[K, V]) *LightTaskManager[K, V] {
	if opt.MaxRunning <= 0 {
		opt.MaxRunning = 4
	}
	if opt.MaxQueued <= 0 {
		opt.MaxQueued = 256
	}

	m := &LightTaskManager[K, V]{
		opt:     opt,
		sem:     semaphore.NewWeighted(int64(opt.MaxRunning)),
		running: make(map[K]*runningTask[K, V]),
		queue:   queueHeap[K, V]{policy: opt.AdmissionPolicy},
	}
	if opt.Clock != nil {
		m.clock = opt.Clock
	} else {
		m.clock = clock.SystemClock{}
	}
	if opt.Metrics != nil {
		m.metrics = opt.Metrics
	} else {
		m.metrics = NoopMetrics{}
	}
	if opt.Logger != nil {
		m.logger = opt.Logger
	} else {
		m.logger = logging.NoopLogger{}
	}
	if opt.ResultCache != nil {
		m.cache = boundedcache.New[K, V](*opt.ResultCache)
	}
	return m
}

// Fetch requests key's value, delivering exactly one Outcome to
// callback. Concurrent Fetch calls for the same key coalesce onto the
// same queued or running task (spec.md §4.5).
func (m *LightTaskManager[K, V]) Fetch(ctx context.Context, key K, priority float64, callback func(Outcome[V])) uuid.UUID {
	id := uuid.New()

	if m.cache != nil {
		if v, outcome := m.cache.Get(key); outcome == boundedcache.HitPresent {
			if callback != nil {
				callback(Outcome[V]{Value: v})
			}
			return id
		}
	}

	var evictedNotify []*queueEntry[K, V]
	var rejectSelf bool
	var startBatch *runningTask[K, V]

	m.mu.Lock()
	switch {
	case m.attachIfRunningLocked(key, callback):
	case m.attachIfQueuedLocked(key, priority, callback):
	default:
		m.seq++
		entry := &queueEntry[K, V]{key: key, priority: priority, seq: m.seq}
		entry.subscribers = append(entry.subscribers, subscriber[V]{callback: callback})

		if m.sem.TryAcquire(1) {
			startBatch = m.buildRunningTaskLocked(m.popBatchLocked(entry))
		} else if len(m.queue.entries) < m.opt.MaxQueued {
			heap.Push(&m.queue, entry)
			m.metrics.Queued()
		} else if idx := m.queue.evictionCandidateIndex(); entry.priority > m.queue.entries[idx].priority {
			candidate := m.queue.entries[idx]
			heap.Remove(&m.queue, idx)
			evictedNotify = append(evictedNotify, candidate)
			heap.Push(&m.queue, entry)
			m.metrics.Queued()
		} else {
			rejectSelf = true
		}
	}
	m.mu.Unlock()

	for _, e := range evictedNotify {
		m.metrics.Evicted()
		m.notify(e.subscribers, Outcome[V]{Evicted: true, Err: ErrEvictedDueToPriority})
	}
	if rejectSelf {
		m.metrics.Evicted()
		if callback != nil {
			callback(Outcome[V]{Evicted: true, Err: ErrEvictedDueToPriority})
		}
	}
	if startBatch != nil {
		m.launch(ctx, startBatch)
	}
	return id
}

// FetchMany fans out Fetch across keys. When Provider is a multi
// provider, keys that are still pending when a running slot frees are
// naturally coalesced into a single batch call by popBatchLocked.
func (m *LightTaskManager[K, V]) FetchMany(ctx context.Context, keys []K, priority float64, perKey func(K, Outcome[V])) {
	for _, k := range keys {
		k := k
		m.Fetch(ctx, k, priority, func(o Outcome[V]) {
			if perKey != nil {
				perKey(k, o)
			}
		})
	}
}

// Cancel removes key from the admission queue (subscribers receive
// Cancelled) or, if key is already running, detaches its current
// subscribers, which receive Cancelled and no result from that attempt
// (spec.md §4.5).
func (m *LightTaskManager[K, V]) Cancel(key K) {
	m.mu.Lock()
	if idx, ok := m.queue.findByKey(key); ok {
		entry := m.queue.entries[idx]
		heap.Remove(&m.queue, idx)
		m.mu.Unlock()
		m.metrics.Cancelled()
		m.notify(entry.subscribers, Outcome[V]{Cancelled: true, Err: ErrCancelled})
		return
	}
	if rt, ok := m.running[key]; ok {
		subs := rt.subscribers[key]
		rt.subscribers[key] = nil
		m.mu.Unlock()
		m.metrics.Cancelled()
		m.notify(subs, Outcome[V]{Cancelled: true, Err: ErrCancelled})
		return
	}
	m.mu.Unlock()
}

func (m *LightTaskManager[K, V]) attachIfRunningLocked(key K, callback func(Outcome[V])) bool {
	rt, ok := m.running[key]
	if !ok {
		return false
	}
	rt.subscribers[key] = append(rt.subscribers[key], subscriber[V]{callback: callback})
	return true
}

// attachIfQueuedLocked attaches callback to key's pending entry if one
// is already queued, raising its priority to the max of the two
// requests so the running set keeps honoring P6 (the running set holds
// the maximum-priority keys among queued ∪ running) even after a
// higher-priority re-fetch of an already-queued key.
func (m *LightTaskManager[K, V]) attachIfQueuedLocked(key K, priority float64, callback func(Outcome[V])) bool {
	idx, ok := m.queue.findByKey(key)
	if !ok {
		return false
	}
	entry := m.queue.entries[idx]
	entry.subscribers = append(entry.subscribers, subscriber[V]{callback: callback})
	if priority > entry.priority {
		entry.priority = priority
		heap.Fix(&m.queue, idx)
	}
	return true
}

// popBatchLocked returns the batch to run next: just first if the
// provider is mono, or up to Provider.BatchSize highest-priority
// pending keys (first plus whatever the queue yields) if it is multi.
// Caller must hold mu and have already reserved a semaphore permit.
func (m *LightTaskManager[K, V]) popBatchLocked(first *queueEntry[K, V]) []*queueEntry[K, V] {
	batch := []*queueEntry[K, V]{first}
	if m.opt.Provider.Multi == nil {
		return batch
	}
	size := m.opt.Provider.BatchSize
	if size <= 0 {
		size = 1
	}
	for len(batch) < size && len(m.queue.entries) > 0 {
		batch = append(batch, heap.Pop(&m.queue).(*queueEntry[K, V]))
	}
	return batch
}

// buildRunningTaskLocked converts entries into a runningTask and
// registers every one of its keys in m.running before returning.
// Caller must hold m.mu and must not release it until after this call,
// so the new running task is visible to a concurrent Fetch's
// attachIfRunningLocked check before any other goroutine can observe
// the admission decision. Without this, a Fetch for the same key
// landing in the window between "decided to admit" and "registered in
// m.running" would find the key in neither m.running nor m.queue and
// start a second, duplicate provider invocation — the same
// registration-before-visibility race tasks/heavy closes by inserting
// into m.running before releasing mu.
func (m *LightTaskManager[K, V]) buildRunningTaskLocked(entries []*queueEntry[K, V]) *runningTask[K, V] {
	rt := &runningTask[K, V]{subscribers: make(map[K][]subscriber[V], len(entries))}
	for _, e := range entries {
		rt.keys = append(rt.keys, e.key)
		rt.subscribers[e.key] = e.subscribers
		m.running[e.key] = rt
	}
	return rt
}

// launch starts rt's provider call on a new goroutine. Must be called
// without mu held; rt must already be registered in m.running by
// buildRunningTaskLocked.
func (m *LightTaskManager[K, V]) launch(ctx context.Context, rt *runningTask[K, V]) {
	m.metrics.Admitted()
	go m.execute(ctx, rt)
}

func (m *LightTaskManager[K, V]) execute(ctx context.Context, rt *runningTask[K, V]) {
	results := make(map[K]V, len(rt.keys))
	var err error

	if m.opt.Provider.Multi != nil {
		results, err = m.callMultiWithRetry(ctx, rt.keys)
	} else {
		v, e := m.callMonoWithRetry(ctx, rt.keys[0])
		err = e
		if e == nil {
			results[rt.keys[0]] = v
		}
	}

	m.mu.Lock()
	for _, k := range rt.keys {
		delete(m.running, k)
	}
	m.mu.Unlock()
	m.sem.Release(1)
	m.metrics.Completed()

	for _, k := range rt.keys {
		subs := rt.subscribers[k]
		var outcome Outcome[V]
		switch {
		case err != nil:
			outcome = Outcome[V]{Err: err}
		default:
			if v, ok := results[k]; ok {
				outcome = Outcome[V]{Value: v}
				if m.cache != nil {
					if setErr := m.cache.Set(k, boundedcache.SetParams[V]{Value: v}); setErr != nil {
						m.logger.Warn("tasks/light: result not cached", "key", k, "error", setErr.Error())
					}
				}
			} else {
				outcome = Outcome[V]{Err: ErrKeyMissingFromBatch}
			}
		}
		m.notify(subs, outcome)
	}

	m.admitNext(ctx)
}

func (m *LightTaskManager[K, V]) admitNext(ctx context.Context) {
	for {
		if !m.sem.TryAcquire(1) {
			return
		}
		m.mu.Lock()
		if len(m.queue.entries) == 0 {
			m.mu.Unlock()
			m.sem.Release(1)
			return
		}
		first := heap.Pop(&m.queue).(*queueEntry[K, V])
		rt := m.buildRunningTaskLocked(m.popBatchLocked(first))
		m.mu.Unlock()
		m.launch(ctx, rt)
	}
}

func (m *LightTaskManager[K, V]) callMonoWithRetry(ctx context.Context, key K) (V, error) {
	var v V
	var err error
	for attempt := 0; attempt <= m.opt.RetryCount; attempt++ {
		if m.opt.Provider.MonoSync != nil {
			v, err = m.opt.Provider.MonoSync(ctx, key)
		} else {
			v, err = m.callMonoAsync(ctx, key)
		}
		if err == nil {
			return v, nil
		}
	}
	return v, err
}

func (m *LightTaskManager[K, V]) callMonoAsync(ctx context.Context, key K) (V, error) {
	type result struct {
		v   V
		err error
	}
	ch := make(chan result, 1)
	m.opt.Provider.MonoAsync(ctx, key, func(v V, err error) { ch <- result{v, err} })
	r := <-ch
	return r.v, r.err
}

func (m *LightTaskManager[K, V]) callMultiWithRetry(ctx context.Context, keys []K) (map[K]V, error) {
	var results map[K]V
	var err error
	for attempt := 0; attempt <= m.opt.RetryCount; attempt++ {
		results, err = m.opt.Provider.Multi(ctx, keys)
		if err == nil {
			return results, nil
		}
	}
	return results, err
}

// notify invokes each subscriber's callback in registration order.
func (m *LightTaskManager[K, V]) notify(subs []subscriber[V], outcome Outcome[V]) {
	for _, s := range subs {
		if s.callback != nil {
			s.callback(outcome)
		}
	}
}

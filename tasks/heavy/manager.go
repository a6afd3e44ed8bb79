// Package heavy implements HeavyTaskManager (spec.md §4.6): bounded
// concurrent execution of long-lived, stateful Providers with
// priority-based preemption, multi-subscriber event fan-out, and a
// graceful Stop/Reuse/Dealloc lifecycle.
package heavy

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/flightcache/flightcache/boundedcache"
	"github.com/flightcache/flightcache/clock"
	"github.com/flightcache/flightcache/logging"
	"github.com/google/uuid"
)

const defaultStopGrace = 5 * time.Second

// HeavyTaskManager is the spec.md §4.6 coordinator. The zero value is
// not usable; construct with New.
type HeavyTaskManager[K comparable, E any, V any] struct {
	opt       Options[K, E, V]
	clock     clock.Clock
	metrics   Metrics
	logger    logging.Logger
	stopGrace time.Duration
	cache     *boundedcache.BoundedCache[K, V]

	mu      sync.Mutex
	queue   heavyQueueHeap[K, E, V]
	running map[K]*taskRecord[K, E, V]
	seq     uint64
}

// New constructs a HeavyTaskManager. MaxRunning defaults to 4,
// MaxQueued to 256, StopGrace to 5 seconds.
func New[K comparable, E any, V any](opt Options[K, E, V]) *HeavyTaskManager[K, E, V] {
	if opt.MaxRunning <= 0 {
		opt.MaxRunning = 4
	}
	if opt.MaxQueued <= 0 {
		opt.MaxQueued = 256
	}
	if opt.StopGrace <= 0 {
		opt.StopGrace = defaultStopGrace
	}

	m := &HeavyTaskManager[K, E, V]{
		opt:       opt,
		stopGrace: opt.StopGrace,
		running:   make(map[K]*taskRecord[K, E, V]),
		queue:     heavyQueueHeap[K, E, V]{policy: opt.AdmissionPolicy},
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

// Fetch subscribes to key's long-lived task, creating and admitting it
// if this is the first subscriber. onEvent is called for every event
// the Provider emits while this subscription is attached; onResult is
// called exactly once with the task's terminal outcome. Concurrent
// Fetch calls for the same key coalesce onto the same Provider
// instance (spec.md §4.6).
func (m *HeavyTaskManager[K, E, V]) Fetch(ctx context.Context, key K, priority float64, onEvent func(E), onResult func(V, error)) uuid.UUID {
	id := uuid.New()
	sub := heavySubscriber[E, V]{onEvent: onEvent, onResult: onResult}

	if m.cache != nil {
		if v, hit := m.cache.Get(key); hit == boundedcache.HitPresent {
			if onResult != nil {
				onResult(v, nil)
			}
			return id
		}
	}

	var toStart []*taskRecord[K, E, V]
	var toPreempt *taskRecord[K, E, V]
	var evictedNotify *taskRecord[K, E, V]
	var rejectSelf bool

	m.mu.Lock()
	switch {
	case m.attachIfRunningLocked(key, priority, sub):
	case m.attachIfQueuedLocked(key, priority, sub):
	default:
		m.seq++
		rec := &taskRecord[K, E, V]{key: key, priority: priority, seq: m.seq}
		rec.subscribers = append(rec.subscribers, sub)

		victim := m.lowestPriorityRunningLocked()
		switch {
		case len(m.running) < m.opt.MaxRunning:
			m.ensureProviderLocked(ctx, rec)
			m.running[key] = rec
			toStart = append(toStart, rec)
		case victim != nil && priority > victim.priority:
			delete(m.running, victim.key)
			toPreempt = victim
			m.ensureProviderLocked(ctx, rec)
			m.running[key] = rec
			toStart = append(toStart, rec)
		case len(m.queue.entries) < m.opt.MaxQueued:
			heap.Push(&m.queue, rec)
			m.metrics.Queued()
		default:
			if idx := m.queue.evictionCandidateIndex(); idx >= 0 && rec.priority > m.queue.entries[idx].priority {
				candidate := m.queue.entries[idx]
				heap.Remove(&m.queue, idx)
				evictedNotify = candidate
				heap.Push(&m.queue, rec)
				m.metrics.Queued()
			} else {
				rejectSelf = true
			}
		}
	}
	m.mu.Unlock()

	if evictedNotify != nil {
		m.metrics.Evicted()
		m.notifyTerminal(evictedNotify, *new(V), ErrEvictedDueToPriority)
	}
	if rejectSelf {
		m.metrics.Evicted()
		if onResult != nil {
			onResult(*new(V), ErrEvictedDueToPriority)
		}
	}
	if toPreempt != nil {
		m.preemptAndRequeue(toPreempt)
	}
	for _, rec := range toStart {
		m.startLocked(ctx, rec)
	}
	return id
}

func (m *HeavyTaskManager[K, E, V]) attachIfRunningLocked(key K, priority float64, sub heavySubscriber[E, V]) bool {
	rec, ok := m.running[key]
	if !ok {
		return false
	}
	rec.addSubscriber(sub)
	if priority > rec.priority {
		rec.priority = priority
	}
	return true
}

func (m *HeavyTaskManager[K, E, V]) attachIfQueuedLocked(key K, priority float64, sub heavySubscriber[E, V]) bool {
	idx, ok := m.queue.findByKey(key)
	if !ok {
		return false
	}
	rec := m.queue.entries[idx]
	rec.addSubscriber(sub)
	if priority > rec.priority {
		rec.priority = priority
		heap.Fix(&m.queue, idx)
	}
	return true
}

// lowestPriorityRunningLocked returns the running record least worth
// keeping, or nil if nothing is running. Caller must hold mu.
func (m *HeavyTaskManager[K, E, V]) lowestPriorityRunningLocked() *taskRecord[K, E, V] {
	var worst *taskRecord[K, E, V]
	for _, rec := range m.running {
		if worst == nil || rec.priority < worst.priority {
			worst = rec
		}
	}
	return worst
}

// ensureProviderLocked constructs rec's Provider if it does not have
// one yet. Caller must hold m.mu and must call it before inserting rec
// into m.running, so that a concurrent Cancel can never observe a
// running record with a nil provider. A record requeued after a Dealloc
// preemption waits in m.queue with a nil provider until it is admitted
// again; Cancel of a queued record does not touch its provider.
func (m *HeavyTaskManager[K, E, V]) ensureProviderLocked(ctx context.Context, rec *taskRecord[K, E, V]) {
	if rec.provider != nil {
		return
	}
	gen := rec.generation
	rec.provider = m.opt.NewProvider(rec.key,
		func(e E) { m.deliverEvent(rec, gen, e) },
		func(v V, err error) { m.deliverResult(ctx, rec, gen, v, err) },
	)
}

// startLocked starts rec's Provider. It must be called without mu
// held; "Locked" here refers to rec having already been placed in
// m.running (with its Provider already constructed) under mu by the
// caller.
func (m *HeavyTaskManager[K, E, V]) startLocked(ctx context.Context, rec *taskRecord[K, E, V]) {
	m.metrics.Admitted()
	rec.provider.Start(ctx)
}

func (m *HeavyTaskManager[K, E, V]) deliverEvent(rec *taskRecord[K, E, V], gen uint64, e E) {
	rec.subMu.Lock()
	if rec.discarded || rec.generation != gen {
		rec.subMu.Unlock()
		return
	}
	subs := append([]heavySubscriber[E, V](nil), rec.subscribers...)
	rec.subMu.Unlock()

	for _, s := range subs {
		if s.onEvent != nil {
			s.onEvent(e)
		}
	}
}

func (m *HeavyTaskManager[K, E, V]) deliverResult(ctx context.Context, rec *taskRecord[K, E, V], gen uint64, v V, err error) {
	rec.subMu.Lock()
	if rec.discarded || rec.generation != gen || rec.resultDelivered {
		rec.subMu.Unlock()
		return
	}
	rec.resultDelivered = true
	subs := append([]heavySubscriber[E, V](nil), rec.subscribers...)
	rec.subMu.Unlock()

	m.mu.Lock()
	delete(m.running, rec.key)
	m.mu.Unlock()
	m.metrics.Completed()

	if err == nil && m.cache != nil {
		if setErr := m.cache.Set(rec.key, boundedcache.SetParams[V]{Value: v}); setErr != nil {
			m.logger.Warn("tasks/heavy: result not cached", "key", rec.key, "error", setErr.Error())
		}
	}

	for _, s := range subs {
		if s.onResult != nil {
			s.onResult(v, err)
		}
	}

	m.admitNext(ctx)
}

// notifyTerminal delivers a synthetic terminal result (eviction or
// cancellation) to every subscriber of rec, without touching a live
// Provider.
func (m *HeavyTaskManager[K, E, V]) notifyTerminal(rec *taskRecord[K, E, V], v V, err error) {
	rec.subMu.Lock()
	rec.discarded = true
	subs := append([]heavySubscriber[E, V](nil), rec.subscribers...)
	rec.subMu.Unlock()

	for _, s := range subs {
		if s.onResult != nil {
			s.onResult(v, err)
		}
	}
}

// preemptAndRequeue stops victim's Provider (bounded by StopGrace) and,
// unless it was cancelled in the meantime, returns it to the head of
// its priority bucket. On Reuse the same Provider instance is kept; on
// Dealloc (including a grace-timeout orphan) it is discarded and a
// fresh one is created the next time this record is started.
func (m *HeavyTaskManager[K, E, V]) preemptAndRequeue(victim *taskRecord[K, E, V]) {
	m.metrics.Preempted()
	action := m.stopWithGrace(victim)

	victim.subMu.Lock()
	if action == Dealloc {
		victim.provider = nil
		victim.generation++
	}
	discarded := victim.discarded
	victim.subMu.Unlock()

	if discarded {
		return
	}

	m.mu.Lock()
	if m.opt.AdmissionPolicy == LIFO {
		// Under LIFO the newest seq is served first among equal priorities.
		m.seq++
		victim.seq = m.seq
	}
	heap.Push(&m.queue, victim)
	m.mu.Unlock()
}

// stopWithGrace calls victim's Provider.Stop and waits up to
// m.stopGrace for it to return. A Provider that does not answer within
// the grace window is treated as Dealloc and left to finish stopping
// on its own; its later events and result are dropped via the
// generation bump in preemptAndRequeue.
func (m *HeavyTaskManager[K, E, V]) stopWithGrace(victim *taskRecord[K, E, V]) StopAction {
	stopCtx, cancel := context.WithTimeout(context.Background(), m.stopGrace)
	defer cancel()

	done := make(chan StopAction, 1)
	go func() {
		done <- victim.provider.Stop(stopCtx)
	}()

	select {
	case action := <-done:
		return action
	case <-stopCtx.Done():
		m.logger.Warn("tasks/heavy: provider exceeded stop grace, orphaning", "key", victim.key)
		return Dealloc
	}
}

// Cancel stops key's task (if running, within StopGrace) or removes it
// from the admission queue, and notifies its subscribers with a
// Cancelled outcome. Calling Cancel twice for the same key is a no-op
// the second time.
func (m *HeavyTaskManager[K, E, V]) Cancel(key K) {
	m.mu.Lock()
	if idx, ok := m.queue.findByKey(key); ok {
		rec := m.queue.entries[idx]
		heap.Remove(&m.queue, idx)
		m.mu.Unlock()
		m.metrics.Cancelled()
		m.notifyTerminal(rec, *new(V), ErrCancelled)
		return
	}
	rec, ok := m.running[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.running, key)
	m.mu.Unlock()

	m.stopWithGrace(rec)
	m.metrics.Cancelled()
	m.notifyTerminal(rec, *new(V), ErrCancelled)

	m.admitNext(context.Background())
}

// admitNext starts the highest-priority queued task while a running
// slot is free.
func (m *HeavyTaskManager[K, E, V]) admitNext(ctx context.Context) {
	for {
		m.mu.Lock()
		if len(m.running) >= m.opt.MaxRunning || len(m.queue.entries) == 0 {
			m.mu.Unlock()
			return
		}
		rec := heap.Pop(&m.queue).(*taskRecord[K, E, V])
		m.ensureProviderLocked(ctx, rec)
		m.running[rec.key] = rec
		m.mu.Unlock()
		m.startLocked(ctx, rec)
	}
}

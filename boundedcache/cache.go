// Package boundedcache implements BoundedCache (spec.md §4.3): a
// thread-safe key→value store layered on prioritylru.PriorityLRU, adding
// per-entry TTL with anti-stampede jitter, byte-cost accounting,
// negative/absent-value caching, and statistics.
package boundedcache

import (
	"container/heap"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flightcache/flightcache/clock"
	"github.com/flightcache/flightcache/internal/idgen"
	"github.com/flightcache/flightcache/logging"
	"github.com/flightcache/flightcache/prioritylru"
)

// value is the payload PriorityLRU actually stores: either a present V
// or an explicit "known absent" marker, plus the bookkeeping BoundedCache
// needs that PriorityLRU itself has no notion of (spec.md §3's Entry).
type value[V any] struct {
	v          V
	absent     bool
	cost       uint64
	expiresAt  clock.Instant // zero Instant means "never expires"
	insertedAt clock.Instant
}

// SetParams carries every argument to Set, mirroring the teacher's
// struct-based Options pattern at the call site instead of a long
// positional parameter list.
type SetParams[V any] struct {
	Value  V
	Absent bool
	// Priority defaults to 0 and participates in PriorityLRU's
	// (priority, recency) eviction order (higher survives longer).
	Priority float64
	// TTL of 0 uses Options.DefaultTTL (or DefaultTTLAbsent for an
	// absent entry); TTLForever disables expiration for this entry.
	TTL time.Duration
}

// noopLocker implements sync.Locker as a no-op, used when
// Options.DisableLocking is true and the caller takes responsibility
// for synchronization (spec.md §5).
type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}

type expiryRef[K comparable] struct {
	at  int64
	key K
}

type expiryHeap[K comparable] []expiryRef[K]

func (h expiryHeap[K]) Len() int           { return len(h) }
func (h expiryHeap[K]) Less(i, j int) bool { return h[i].at < h[j].at }
func (h expiryHeap[K]) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap[K]) Push(x any)        { *h = append(*h, x.(expiryRef[K])) }
func (h *expiryHeap[K]) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	*h = old[:n-1]
	return r
}

// eviction is a pending notification gathered while the lock is held
// and flushed to OnEvict/Metrics.Evict/Logger once it is released, so
// that user code is never invoked from inside a critical section
// (spec.md §5's reentrancy rule).
type eviction[K comparable, V any] struct {
	key    K
	value  value[V]
	reason EvictReason
}

// BoundedCache is the spec.md §4.3 cache. The zero value is not usable;
// construct with New.
type BoundedCache[K comparable, V any] struct {
	mu sync.Locker

	lru        *prioritylru.PriorityLRU[K, value[V]]
	expiryHeap expiryHeap[K]
	totalCost  uint64

	opt     Options[K, V]
	clock   clock.Clock
	metrics Metrics
	logger  logging.Logger
	ids     *idgen.Factory
	// currentID is the TracingID minted for the cache's current
	// reset epoch, readable from Stats without taking mu.
	currentID atomic.Uint64

	counters counters
}

// New constructs a BoundedCache. Defaults:
//   - nil Clock      -> clock.SystemClock{}
//   - nil Metrics    -> NoopMetrics
//   - nil Logger     -> logging.NoopLogger{}
//   - DisableLocking -> false (internal mutex enabled)
func New[K comparable, V any](opt Options[K, V]) *BoundedCache[K, V] {
	c := &BoundedCache[K, V]{
		lru: prioritylru.New[K, value[V]](opt.CapacityLimit),
		opt: opt,
		ids: idgen.NewFactory(),
	}

	if opt.Clock != nil {
		c.clock = opt.Clock
	} else {
		c.clock = clock.SystemClock{}
	}
	if opt.Metrics != nil {
		c.metrics = opt.Metrics
	} else {
		c.metrics = NoopMetrics{}
	}
	if opt.Logger != nil {
		c.logger = opt.Logger
	} else {
		c.logger = logging.NoopLogger{}
	}

	if opt.DisableLocking {
		c.mu = noopLocker{}
	} else {
		c.mu = &sync.Mutex{}
	}

	c.currentID.Store(uint64(c.ids.Next()))
	return c
}

// Set stores key, applying params.Priority/TTL, validating the key,
// computing cost, and evicting until both limits are satisfied
// (spec.md §4.3). Returns ErrInvalidKey or ErrNotStorable on failure.
func (c *BoundedCache[K, V]) Set(key K, params SetParams[V]) error {
	if c.opt.KeyValidator != nil && !c.opt.KeyValidator(key) {
		c.record(InvalidKey)
		return ErrInvalidKey
	}

	var cost uint64
	if !params.Absent && c.opt.CostOf != nil {
		cost = c.opt.CostOf(params.Value)
	}
	if c.opt.MemoryLimitBytes > 0 && cost > c.opt.MemoryLimitBytes {
		c.logger.Warn("boundedcache: value not storable, cost exceeds memory limit",
			"cost", cost, "memory_limit", c.opt.MemoryLimitBytes)
		return ErrNotStorable
	}

	ttl := params.TTL
	if ttl == 0 {
		if params.Absent {
			ttl = c.opt.DefaultTTLAbsent
		} else {
			ttl = c.opt.DefaultTTL
		}
	}
	if ttl == 0 {
		// No TTL given and no default configured: the entry never expires.
		ttl = TTLForever
	}

	now := c.clock.Now()
	var expiresAt clock.Instant
	if ttl != TTLForever {
		expiresAt = now.Add(c.jitter(ttl))
		if expiresAt.Before(now) {
			expiresAt = now
		}
	}

	var evictions []eviction[K, V]
	var entries int
	var totalCost int64
	notStorable := false

	c.mu.Lock()
	oldCost, existed := uint64(0), false
	if old, ok := c.lru.Peek(key); ok {
		oldCost, existed = old.cost, true
	}

	if c.opt.MemoryLimitBytes > 0 {
		tempTotal := c.totalCost
		if existed {
			tempTotal -= oldCost
		}
		for tempTotal+cost > c.opt.MemoryLimitBytes && c.lru.Len() > 0 {
			ev, ok := c.lru.EvictOne()
			if !ok {
				break
			}
			c.totalCost -= ev.Value.cost
			if ev.Key == key {
				// oldCost was already taken out of tempTotal above.
				existed = false
			} else {
				tempTotal -= ev.Value.cost
			}
			evictions = append(evictions, eviction[K, V]{key: ev.Key, value: ev.Value, reason: EvictCapacity})
		}
		if tempTotal+cost > c.opt.MemoryLimitBytes {
			notStorable = true
		}
	}

	if !notStorable {
		v := value[V]{v: params.Value, absent: params.Absent, cost: cost, expiresAt: expiresAt, insertedAt: now}
		evicted, wasEvicted := c.lru.Put(key, v, params.Priority)
		switch {
		case wasEvicted && evicted.Key == key:
			// Zero-capacity cache: Put reports the just-inserted key as
			// evicted; nothing else to account for.
		case wasEvicted:
			c.totalCost -= evicted.Value.cost
			evictions = append(evictions, eviction[K, V]{key: evicted.Key, value: evicted.Value, reason: EvictPriority})
			fallthrough
		default:
			if existed {
				c.totalCost = c.totalCost - oldCost + cost
			} else {
				c.totalCost += cost
			}
			if !expiresAt.IsZero() {
				heap.Push(&c.expiryHeap, expiryRef[K]{at: expiresAt.UnixNano(), key: key})
			}
		}
	}
	entries, totalCost = c.lru.Len(), int64(c.totalCost)
	c.mu.Unlock()

	c.flushEvictions(evictions)
	c.metrics.Size(entries, totalCost)

	if notStorable {
		return ErrNotStorable
	}
	return nil
}

// Get returns the outcome for key. Expired entries are removed lazily
// and reported as Miss; an absent entry is reported as HitAbsent. A
// present entry's value is returned alongside HitPresent.
func (c *BoundedCache[K, V]) Get(key K) (V, Outcome) {
	if c.opt.KeyValidator != nil && !c.opt.KeyValidator(key) {
		c.record(InvalidKey)
		var zero V
		return zero, InvalidKey
	}

	c.mu.Lock()
	v, ok := c.lru.Peek(key)
	if !ok {
		c.mu.Unlock()
		c.record(Miss)
		var zero V
		return zero, Miss
	}
	if c.expired(v) {
		ev, entries, totalCost := c.removeLocked(key, EvictTTL)
		c.mu.Unlock()
		c.flushEvictions(ev)
		c.metrics.Size(entries, totalCost)
		c.record(Miss)
		var zero V
		return zero, Miss
	}

	v, _ = c.lru.Get(key) // touch to MRU
	c.mu.Unlock()

	if v.absent {
		c.record(HitAbsent)
		var zero V
		return zero, HitAbsent
	}
	c.record(HitPresent)
	return v.v, HitPresent
}

// Remove deletes key if present, returning its value and whether it
// was a present (non-absent) value.
func (c *BoundedCache[K, V]) Remove(key K) (V, bool) {
	c.mu.Lock()
	v, ok := c.lru.Peek(key)
	if !ok {
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	ev, entries, totalCost := c.removeLocked(key, EvictManual)
	c.mu.Unlock()

	c.flushEvictions(ev)
	c.metrics.Size(entries, totalCost)
	return v.v, !v.absent
}

// PurgeExpired walks the expiry index, opportunistically removing
// entries whose deadline has passed (spec.md §4.3). Returns the number
// of entries removed.
func (c *BoundedCache[K, V]) PurgeExpired() int {
	var evictions []eviction[K, V]

	c.mu.Lock()
	now := c.clock.Now().UnixNano()
	for len(c.expiryHeap) > 0 && c.expiryHeap[0].at <= now {
		ref := heap.Pop(&c.expiryHeap).(expiryRef[K])
		v, ok := c.lru.Peek(ref.key)
		if !ok {
			continue
		}
		if v.expiresAt.IsZero() || v.expiresAt.UnixNano() != ref.at || v.expiresAt.UnixNano() > now {
			continue // stale ref from a since-overwritten TTL
		}
		ev, _, _ := c.removeLocked(ref.key, EvictTTL)
		evictions = append(evictions, ev...)
	}
	entries, totalCost := c.lru.Len(), int64(c.totalCost)
	c.mu.Unlock()

	c.flushEvictions(evictions)
	c.metrics.Size(entries, totalCost)
	return len(evictions)
}

// Clear removes every entry (without invoking OnEvict), resets the
// outcome statistics, and mints a fresh TracingID for the new epoch, so
// Stats snapshots taken before and after a Clear carry different IDs.
func (c *BoundedCache[K, V]) Clear() {
	c.mu.Lock()
	c.lru = prioritylru.New[K, value[V]](c.opt.CapacityLimit)
	c.expiryHeap = nil
	c.totalCost = 0
	c.counters.invalidKey.Store(0)
	c.counters.hitAbsent.Store(0)
	c.counters.hitPresent.Store(0)
	c.counters.miss.Store(0)
	c.mu.Unlock()

	c.currentID.Store(uint64(c.ids.Next()))
	c.metrics.Size(0, 0)
}

// Len returns the number of resident entries.
func (c *BoundedCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of cumulative outcome counters, tagged with
// the TracingID of the cache's current reset epoch: two snapshots with
// different TracingIDs straddle a Clear.
func (c *BoundedCache[K, V]) Stats() Stats {
	s := c.counters.snapshot()
	s.TracingID = idgen.TracingID(c.currentID.Load())
	return s
}

// ---- internals ----

func (c *BoundedCache[K, V]) record(o Outcome) {
	c.counters.record(o)
	switch o {
	case InvalidKey:
		c.metrics.InvalidKey()
	case HitAbsent:
		c.metrics.HitAbsent()
	case HitPresent:
		c.metrics.HitPresent()
	case Miss:
		c.metrics.Miss()
	}
	if c.opt.StatsReporter != nil {
		c.opt.StatsReporter(c.counters.snapshot(), o)
	}
}

func (c *BoundedCache[K, V]) expired(v value[V]) bool {
	if v.expiresAt.IsZero() {
		return false
	}
	return c.clock.Now().After(v.expiresAt)
}

// jitter returns ttl plus a uniform random offset in
// [-TTLJitter, +TTLJitter], clamped to >= 0 (spec.md P5).
func (c *BoundedCache[K, V]) jitter(ttl time.Duration) time.Duration {
	if c.opt.TTLJitter <= 0 {
		if ttl < 0 {
			return 0
		}
		return ttl
	}
	offset := time.Duration((rand.Float64()*2 - 1) * float64(c.opt.TTLJitter))
	effective := ttl + offset
	if effective < 0 {
		return 0
	}
	return effective
}

// removeLocked deletes key and updates cost accounting, tagging the
// notice with why the entry actually left. mu must already be held;
// the returned eviction notices must be flushed by the caller once mu
// is released.
func (c *BoundedCache[K, V]) removeLocked(key K, reason EvictReason) ([]eviction[K, V], int, int64) {
	v, ok := c.lru.Remove(key)
	if !ok {
		return nil, c.lru.Len(), int64(c.totalCost)
	}
	c.totalCost -= v.cost
	return []eviction[K, V]{{key: key, value: v, reason: reason}}, c.lru.Len(), int64(c.totalCost)
}

// flushEvictions invokes Metrics.Evict/Logger/OnEvict for each pending
// notice. Must be called with mu released.
func (c *BoundedCache[K, V]) flushEvictions(evictions []eviction[K, V]) {
	for _, e := range evictions {
		c.metrics.Evict(e.reason)
		c.logger.Debug("boundedcache: evicted entry", "reason", e.reason.String())
		if c.opt.OnEvict != nil {
			c.opt.OnEvict(e.key, e.value.v, e.value.absent, e.reason)
		}
	}
}

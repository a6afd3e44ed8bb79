// Package boundedcache: design notes.
//
// Storage
//
//   - Entries live in a prioritylru.PriorityLRU keyed by the cache's own
//     key type; BoundedCache never walks the structure itself except
//     through Peek/Get/Put/Remove/EvictOne.
//   - A parallel min-heap of (expiresAt, key) pairs gives PurgeExpired
//     O(log n) amortized access to the next entry due to expire,
//     without requiring PriorityLRU to know anything about time.
//     Stale refs (left behind when a key's TTL is overwritten before it
//     fires) are detected and skipped when popped.
//
// Limits
//
//   - CapacityLimit is enforced by PriorityLRU itself: it is constructed
//     with that exact capacity, so a brand-new key that overflows it is
//     evicted by PriorityLRU's own (priority, recency) rule.
//   - MemoryLimitBytes is enforced by BoundedCache: before inserting or
//     updating a key, it evicts via PriorityLRU.EvictOne() (the same
//     ordering rule) until projected total cost fits, then inserts.
//     A value whose own cost exceeds the limit is rejected outright
//     with no eviction (spec.md §4.3).
//
// TTL and jitter
//
//   - Every effective TTL is offset by a uniform random value in
//     [-TTLJitter, +TTLJitter] before being turned into an absolute
//     deadline, so that many entries set at the same moment with the
//     same nominal TTL do not all expire in the same instant
//     (spec.md P5).
//
// Concurrency
//
//   - A single mutex guards the whole cache (not sharded — see
//     DESIGN.md for why). User-supplied KeyValidator/CostOf are called
//     before the lock is taken. OnEvict/StatsReporter/Metrics/Logger
//     calls are gathered while the lock is held but only invoked after
//     it is released, so a callback is free to call back into the same
//     BoundedCache (spec.md §5's reentrancy rule) without deadlocking.
package boundedcache

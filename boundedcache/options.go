package boundedcache

import (
	"time"

	"github.com/flightcache/flightcache/clock"
	"github.com/flightcache/flightcache/logging"
)

// TTLForever marks an entry as never-expiring when passed as a TTL.
// Using a negative sentinel (rather than a magic zero) keeps TTL: 0
// free to mean "use the configured default", matching spec.md §4.3's
// "default_ttl: +∞ means never-expire" without overloading zero.
const TTLForever time.Duration = -1

// EvictReason explains why an entry left the cache.
type EvictReason int

const (
	// EvictPriority — removed to satisfy the entry-count limit via the
	// lowest-priority, least-recently-touched rule (spec.md P2).
	EvictPriority EvictReason = iota
	// EvictTTL — expired, found either lazily on Get or during PurgeExpired.
	EvictTTL
	// EvictCapacity — removed to satisfy MemoryLimitBytes.
	EvictCapacity
	// EvictManual — removed by an explicit Remove call, not by any
	// capacity/TTL pressure.
	EvictManual
)

// String renders r for logging/metrics labels.
func (r EvictReason) String() string {
	switch r {
	case EvictTTL:
		return "ttl"
	case EvictCapacity:
		return "capacity"
	case EvictManual:
		return "manual"
	default:
		return "priority"
	}
}

// Metrics exposes cache-level observability hooks. A NoopMetrics
// implementation is used by default, matching the teacher's
// cache.Metrics/cache.NoopMetrics split.
type Metrics interface {
	HitPresent()
	HitAbsent()
	Miss()
	InvalidKey()
	Evict(reason EvictReason)
	Size(entries int, cost int64)
}

// NoopMetrics discards every signal.
type NoopMetrics struct{}

func (NoopMetrics) HitPresent()          {}
func (NoopMetrics) HitAbsent()           {}
func (NoopMetrics) Miss()                {}
func (NoopMetrics) InvalidKey()          {}
func (NoopMetrics) Evict(EvictReason)    {}
func (NoopMetrics) Size(int, int64)      {}

var _ Metrics = NoopMetrics{}

// Options configures a BoundedCache. Zero values are safe: they disable
// optional behaviors (no TTL, no cost accounting, no jitter) rather
// than panicking, except CapacityLimit which follows spec.md §4.3's
// "0 disables the cache" rule literally.
type Options[K comparable, V any] struct {
	// CapacityLimit bounds the number of resident entries. 0 means every
	// Set is accepted but immediately evicted, matching PriorityLRU's
	// zero-capacity contract.
	CapacityLimit int

	// MemoryLimitBytes bounds sum(cost) across all entries. 0 disables
	// byte accounting.
	MemoryLimitBytes uint64

	// DefaultTTL applies when a caller omits a TTL on Set. TTLForever
	// (or 0) means never-expire.
	DefaultTTL time.Duration
	// DefaultTTLAbsent is DefaultTTL's counterpart for entries stored
	// with SetParams.Absent set.
	DefaultTTLAbsent time.Duration
	// TTLJitter is the half-range of uniform randomization added to
	// every effective TTL, to avoid synchronized mass expiry
	// (spec.md P5). A zero value disables jitter.
	TTLJitter time.Duration

	// DisableLocking skips the internal mutex BoundedCache otherwise
	// wraps every operation in. Spec.md §4.3 calls this option
	// "enable_locking"; it is inverted here so the zero value (false)
	// keeps the safe default — locking enabled — like every other
	// Options field. When true, the caller must synchronize access
	// itself (spec.md §5).
	DisableLocking bool

	// KeyValidator rejects keys before they reach storage. A nil
	// validator accepts every key.
	KeyValidator func(K) bool
	// CostOf computes the per-entry byte cost used against
	// MemoryLimitBytes. A nil CostOf treats every entry as cost 0.
	CostOf func(V) uint64

	// Clock overrides the time source; nil uses clock.SystemClock{}.
	Clock clock.Clock
	// Metrics receives Hit/Miss/Evict/Size signals; nil uses NoopMetrics.
	Metrics Metrics
	// StatsReporter, if set, is invoked once per terminal Get/Set
	// outcome with the updated Stats snapshot and the outcome just
	// recorded (spec.md §4.3's "optional reporter callback").
	StatsReporter func(Stats, Outcome)
	// OnEvict, if set, is invoked synchronously whenever an entry is
	// evicted, expires, or is removed with Remove, with the reason it
	// left. Clear does not invoke it.
	OnEvict func(key K, value V, absent bool, reason EvictReason)
	// Logger receives Debug-level entries for evictions and a Warn-level
	// entry when a value's cost alone exceeds MemoryLimitBytes; nil uses
	// logging.NoopLogger.
	Logger logging.Logger
}

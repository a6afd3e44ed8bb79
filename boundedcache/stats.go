package boundedcache

import (
	"github.com/flightcache/flightcache/internal/idgen"
	"github.com/flightcache/flightcache/internal/util"
)

// Outcome is the terminal result of a single Get call (spec.md §4.3).
type Outcome int

const (
	Miss Outcome = iota
	InvalidKey
	HitAbsent
	HitPresent
)

// String renders o for logging.
func (o Outcome) String() string {
	switch o {
	case InvalidKey:
		return "invalid_key"
	case HitAbsent:
		return "hit_absent"
	case HitPresent:
		return "hit_present"
	default:
		return "miss"
	}
}

// Stats is a point-in-time snapshot of cumulative outcome counters.
type Stats struct {
	InvalidKey uint64
	HitAbsent  uint64
	HitPresent uint64
	Miss       uint64
	// TracingID identifies the cache's current reset epoch (spec.md §3:
	// "Range: per-instance, reset on explicit clear").
	TracingID idgen.TracingID
}

// HitRate returns (HitAbsent+HitPresent) / total observed outcomes,
// counting InvalidKey as neither a hit nor a miss. Returns 0 if no
// outcome has been recorded yet.
func (s Stats) HitRate() float64 {
	hits := s.HitAbsent + s.HitPresent
	total := hits + s.Miss
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// counters holds the cache-line-padded atomics backing Stats, so that
// concurrent readers/writers bumping different outcomes don't thrash
// each other's cache lines (the teacher's internal/util padding idiom,
// generalized from hit/miss/evict to the full outcome taxonomy).
type counters struct {
	invalidKey util.PaddedAtomicUint64
	hitAbsent  util.PaddedAtomicUint64
	hitPresent util.PaddedAtomicUint64
	miss       util.PaddedAtomicUint64
}

func (c *counters) record(o Outcome) {
	switch o {
	case InvalidKey:
		c.invalidKey.Add(1)
	case HitAbsent:
		c.hitAbsent.Add(1)
	case HitPresent:
		c.hitPresent.Add(1)
	default:
		c.miss.Add(1)
	}
}

func (c *counters) snapshot() Stats {
	return Stats{
		InvalidKey: c.invalidKey.Load(),
		HitAbsent:  c.hitAbsent.Load(),
		HitPresent: c.hitPresent.Load(),
		Miss:       c.miss.Load(),
	}
}

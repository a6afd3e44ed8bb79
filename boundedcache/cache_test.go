package boundedcache

import (
	"testing"
	"time"

	"github.com/flightcache/flightcache/clock"
)

func TestBoundedCache_BasicSetGetRemove(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{CapacityLimit: 8})

	if err := c.Set("a", SetParams[int]{Value: 1}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, o := c.Get("a"); o != HitPresent || v != 1 {
		t.Fatalf("Get a: want (1, HitPresent), got (%v, %v)", v, o)
	}

	if v, present := c.Remove("a"); !present || v != 1 {
		t.Fatalf("Remove a: want (1, true), got (%v, %v)", v, present)
	}
	if _, o := c.Get("a"); o != Miss {
		t.Fatalf("Get after Remove: want Miss, got %v", o)
	}
}

func TestBoundedCache_AbsentCaching(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{CapacityLimit: 8})

	if err := c.Set("missing", SetParams[int]{Absent: true}); err != nil {
		t.Fatalf("Set absent: %v", err)
	}
	if v, o := c.Get("missing"); o != HitAbsent || v != 0 {
		t.Fatalf("Get missing: want (0, HitAbsent), got (%v, %v)", v, o)
	}
}

func TestBoundedCache_InvalidKey(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{
		CapacityLimit: 8,
		KeyValidator:  func(k string) bool { return k != "" },
	})

	if err := c.Set("", SetParams[int]{Value: 1}); err != ErrInvalidKey {
		t.Fatalf("Set empty key: want ErrInvalidKey, got %v", err)
	}
	if _, o := c.Get(""); o != InvalidKey {
		t.Fatalf("Get empty key: want InvalidKey, got %v", o)
	}
}

func TestBoundedCache_NotStorable(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{
		CapacityLimit:    8,
		MemoryLimitBytes: 4,
		CostOf:           func(v string) uint64 { return uint64(len(v)) },
	})

	if err := c.Set("big", SetParams[string]{Value: "way too long"}); err != ErrNotStorable {
		t.Fatalf("Set oversized value: want ErrNotStorable, got %v", err)
	}
	if _, o := c.Get("big"); o != Miss {
		t.Fatalf("Get after rejected Set: want Miss, got %v", o)
	}
}

func TestBoundedCache_CapacityEviction(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{CapacityLimit: 2})

	_ = c.Set("a", SetParams[int]{Value: 1})
	_ = c.Set("b", SetParams[int]{Value: 2})
	if _, o := c.Get("a"); o != HitPresent {
		t.Fatal("expected a to be promoted to MRU")
	}
	_ = c.Set("c", SetParams[int]{Value: 3}) // must evict b, the LRU entry

	if _, o := c.Get("b"); o != Miss {
		t.Fatal("expected b to be evicted")
	}
	if _, o := c.Get("a"); o != HitPresent {
		t.Fatal("expected a to survive (it was the MRU entry)")
	}
	if _, o := c.Get("c"); o != HitPresent {
		t.Fatal("expected c to survive (just inserted)")
	}
}

func TestBoundedCache_MemoryLimitEviction(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{
		CapacityLimit:    100,
		MemoryLimitBytes: 10,
		CostOf:           func(v string) uint64 { return uint64(len(v)) },
	})

	_ = c.Set("a", SetParams[string]{Value: "12345"}) // cost 5
	_ = c.Set("b", SetParams[string]{Value: "12345"}) // cost 5, total 10
	c.Get("a")                                        // touch a to make it MRU
	_ = c.Set("c", SetParams[string]{Value: "12345"}) // forces an eviction to stay <= 10

	present := 0
	for _, k := range []string{"a", "b", "c"} {
		if _, o := c.Get(k); o == HitPresent {
			present++
		}
	}
	if present > 2 {
		t.Fatalf("expected memory limit to cap resident entries, got %d present", present)
	}
}

func TestBoundedCache_TTLExpiry_FakeClock(t *testing.T) {
	t.Parallel()

	clk := clock.NewFakeClock(time.Unix(0, 0))
	c := New[string, int](Options[string, int]{CapacityLimit: 8, Clock: clk})

	_ = c.Set("x", SetParams[int]{Value: 1, TTL: 100 * time.Millisecond})
	if _, o := c.Get("x"); o != HitPresent {
		t.Fatal("expected fresh hit before expiry")
	}

	clk.Advance(200 * time.Millisecond)
	if _, o := c.Get("x"); o != Miss {
		t.Fatal("expected miss after TTL expiry")
	}
}

func TestBoundedCache_TTLForeverNeverExpires(t *testing.T) {
	t.Parallel()

	clk := clock.NewFakeClock(time.Unix(0, 0))
	c := New[string, int](Options[string, int]{CapacityLimit: 8, Clock: clk, DefaultTTL: time.Second})

	_ = c.Set("x", SetParams[int]{Value: 1, TTL: TTLForever})
	clk.Advance(24 * time.Hour)

	if _, o := c.Get("x"); o != HitPresent {
		t.Fatal("expected TTLForever entry to survive indefinitely")
	}
}

func TestBoundedCache_PurgeExpired(t *testing.T) {
	t.Parallel()

	clk := clock.NewFakeClock(time.Unix(0, 0))
	c := New[string, int](Options[string, int]{CapacityLimit: 8, Clock: clk})

	_ = c.Set("a", SetParams[int]{Value: 1, TTL: 50 * time.Millisecond})
	_ = c.Set("b", SetParams[int]{Value: 2, TTL: 500 * time.Millisecond})

	clk.Advance(100 * time.Millisecond)
	if n := c.PurgeExpired(); n != 1 {
		t.Fatalf("PurgeExpired: want 1 removed, got %d", n)
	}
	if c.Len() != 1 {
		t.Fatalf("Len after purge: want 1, got %d", c.Len())
	}
}

func TestBoundedCache_Clear(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{CapacityLimit: 8})
	_ = c.Set("a", SetParams[int]{Value: 1})
	_ = c.Set("b", SetParams[int]{Value: 2})

	c.Clear()

	if c.Len() != 0 {
		t.Fatalf("Len after Clear: want 0, got %d", c.Len())
	}
	if _, o := c.Get("a"); o != Miss {
		t.Fatal("expected miss after Clear")
	}
}

func TestBoundedCache_Stats(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{CapacityLimit: 8})
	_ = c.Set("a", SetParams[int]{Value: 1})

	c.Get("a")
	c.Get("missing")

	s := c.Stats()
	if s.HitPresent != 1 || s.Miss != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if rate := s.HitRate(); rate != 0.5 {
		t.Fatalf("HitRate: want 0.5, got %v", rate)
	}
}

func TestBoundedCache_ClearBumpsTracingID(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{CapacityLimit: 8})
	before := c.Stats().TracingID

	c.Clear()
	after := c.Stats().TracingID

	if after == before {
		t.Fatalf("expected TracingID to change across Clear, got %d both times", before)
	}
}

func TestBoundedCache_EvictReasonsAreTagged(t *testing.T) {
	t.Parallel()

	var reasons []EvictReason
	clk := clock.NewFakeClock(time.Unix(0, 0))
	c := New[string, int](Options[string, int]{
		CapacityLimit: 4,
		Clock:         clk,
		OnEvict: func(key string, value int, absent bool, reason EvictReason) {
			reasons = append(reasons, reason)
		},
	})

	_ = c.Set("ttl-key", SetParams[int]{Value: 1, TTL: 50 * time.Millisecond})
	clk.Advance(100 * time.Millisecond)
	if _, o := c.Get("ttl-key"); o != Miss {
		t.Fatal("expected lazy-expiry miss")
	}

	_ = c.Set("manual-key", SetParams[int]{Value: 2})
	c.Remove("manual-key")

	if len(reasons) != 2 || reasons[0] != EvictTTL || reasons[1] != EvictManual {
		t.Fatalf("want [EvictTTL, EvictManual], got %v", reasons)
	}
}

func TestBoundedCache_OnEvictNotCalledUnderLock(t *testing.T) {
	t.Parallel()

	var fromCallback int
	var c *BoundedCache[string, int]
	c = New[string, int](Options[string, int]{
		CapacityLimit: 1,
		OnEvict: func(key string, value int, absent bool, reason EvictReason) {
			// Re-entering the same cache from inside OnEvict would deadlock
			// if the lock were still held here.
			_ = c2Len(c)
			fromCallback++
		},
	})

	_ = c.Set("a", SetParams[int]{Value: 1})
	_ = c.Set("b", SetParams[int]{Value: 2}) // evicts a, capacity 1

	if fromCallback != 1 {
		t.Fatalf("expected OnEvict to fire once, got %d", fromCallback)
	}
}

// c2Len re-enters the cache passed in, exercising the no-deadlock guarantee.
// The OnEvict closure above refers to c, which is declared before New is
// called and assigned by the time any eviction fires.
func c2Len[K comparable, V any](c *BoundedCache[K, V]) int {
	return c.Len()
}

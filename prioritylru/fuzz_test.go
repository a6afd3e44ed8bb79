//go:build go1.18

package prioritylru

import "testing"

// Fuzz Put/Get/Remove semantics under arbitrary string keys and
// priorities, guarding against panics and checking round-trip
// invariants. Mirrors the teacher's FuzzCache_SetGetRemove.
func FuzzPriorityLRU_PutGetRemove(f *testing.F) {
	f.Add("", 0, int64(0))
	f.Add("a", 1, int64(0))
	f.Add("long-key-name", 2, int64(-7))
	f.Add("αβγ", 3, int64(100))

	f.Fuzz(func(t *testing.T, k string, v int, priorityBits int64) {
		priority := float64(priorityBits % 1000)

		p := New[string, int](8)

		p.Put(k, v, priority)
		got, ok := p.Get(k)
		if !ok || got != v {
			t.Fatalf("after Put/Get: want %v, got %v ok=%v", v, got, ok)
		}

		if _, ok := p.Remove(k); !ok {
			t.Fatalf("Remove must report true for a present key")
		}
		if _, ok := p.Get(k); ok {
			t.Fatalf("key must be absent after Remove")
		}
		if p.Len() < 0 {
			t.Fatalf("Len() went negative: %d", p.Len())
		}
	})
}

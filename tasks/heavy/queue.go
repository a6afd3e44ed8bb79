package heavy

import "sync"

type heavySubscriber[E any, V any] struct {
	onEvent  func(E)
	onResult func(V, error)
}

// taskRecord is the heavy-task record from spec.md §3: one Provider,
// its subscribers, and enough bookkeeping to move it between the
// admission queue and the running set, including across a preempted
// Stop()->Reuse->Start() resume cycle (the same *taskRecord persists;
// only its provider's internal state is preserved or discarded).
type taskRecord[K comparable, E any, V any] struct {
	key      K
	priority float64
	seq      uint64
	heapIdx  int

	provider Provider[E, V]

	subMu           sync.Mutex
	subscribers     []heavySubscriber[E, V]
	discarded       bool
	resultDelivered bool
	// generation increments every time the provider is discarded (a
	// Dealloc, voluntary or grace-timeout). Event/result closures
	// capture the generation they were created under and are dropped
	// once it goes stale, so an orphaned provider's late calls are inert.
	generation uint64
}

func (t *taskRecord[K, E, V]) addSubscriber(sub heavySubscriber[E, V]) {
	t.subMu.Lock()
	t.subscribers = append(t.subscribers, sub)
	t.subMu.Unlock()
}

func (t *taskRecord[K, E, V]) snapshotSubscribers() []heavySubscriber[E, V] {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	return t.subscribers
}

// heavyQueueHeap is container/heap.Interface over *taskRecord, ordered
// by descending priority with ties broken by AdmissionPolicy — the same
// shape as tasks/light's queueHeap, generalized to carry a live Provider
// instance instead of a disposable subscriber-only entry.
type heavyQueueHeap[K comparable, E any, V any] struct {
	entries []*taskRecord[K, E, V]
	policy  AdmissionPolicy
}

func (h heavyQueueHeap[K, E, V]) Len() int { return len(h.entries) }

func (h heavyQueueHeap[K, E, V]) Less(i, j int) bool {
	a, b := h.entries[i], h.entries[j]
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	if h.policy == LIFO {
		return a.seq > b.seq
	}
	return a.seq < b.seq
}

func (h heavyQueueHeap[K, E, V]) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.entries[i].heapIdx = i
	h.entries[j].heapIdx = j
}

func (h *heavyQueueHeap[K, E, V]) Push(x any) {
	e := x.(*taskRecord[K, E, V])
	e.heapIdx = len(h.entries)
	h.entries = append(h.entries, e)
}

func (h *heavyQueueHeap[K, E, V]) Pop() any {
	old := h.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	h.entries = old[:n-1]
	return e
}

// evictionCandidateIndex picks the lowest-priority queued record, ties
// broken by admission order (oldest for FIFO, newest for LIFO).
func (h *heavyQueueHeap[K, E, V]) evictionCandidateIndex() int {
	if len(h.entries) == 0 {
		return -1
	}
	best := 0
	for i := 1; i < len(h.entries); i++ {
		if h.entries[i].priority != h.entries[best].priority {
			if h.entries[i].priority < h.entries[best].priority {
				best = i
			}
		} else if h.policy == FIFO {
			if h.entries[i].seq < h.entries[best].seq {
				best = i
			}
		} else if h.entries[i].seq > h.entries[best].seq {
			best = i
		}
	}
	return best
}

func (h *heavyQueueHeap[K, E, V]) findByKey(key K) (int, bool) {
	for i, e := range h.entries {
		if e.key == key {
			return i, true
		}
	}
	return 0, false
}

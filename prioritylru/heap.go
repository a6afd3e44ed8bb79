package prioritylru

// priorityHeap is a container/heap min-heap of buckets, ordered by
// priority ascending, giving O(log P) access to the lowest-priority
// bucket where P is the number of distinct priorities currently
// resident (spec.md §4.2's algorithmic contract).
type priorityHeap[K comparable, V any] []*bucket[K, V]

func (h priorityHeap[K, V]) Len() int { return len(h) }

func (h priorityHeap[K, V]) Less(i, j int) bool { return h[i].priority < h[j].priority }

func (h priorityHeap[K, V]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *priorityHeap[K, V]) Push(x any) {
	b := x.(*bucket[K, V])
	b.heapIdx = len(*h)
	*h = append(*h, b)
}

func (h *priorityHeap[K, V]) Pop() any {
	old := *h
	n := len(old)
	b := old[n-1]
	old[n-1] = nil
	b.heapIdx = -1
	*h = old[:n-1]
	return b
}

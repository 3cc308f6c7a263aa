package queue

// TopK keeps the k items with the smallest distance seen so far.
// It is backed by a max-heap so the current worst candidate is evicted in O(log k).
type TopK struct {
	k    int
	heap *PriorityQueue
}

// maxPrealloc bounds the heap capacity reserved up front; k is caller input.
const maxPrealloc = 1024

// NewTopK creates a collector for the k nearest items.
func NewTopK(k int) *TopK {
	if k < 0 {
		k = 0
	}
	return &TopK{k: k, heap: NewMax(min(k, maxPrealloc))}
}

// Push offers a candidate. It reports whether the candidate was kept.
func (t *TopK) Push(id uint32, distance float32) bool {
	if t.k == 0 {
		return false
	}
	if t.heap.Len() < t.k {
		t.heap.PushItem(Item{ID: id, Distance: distance})
		return true
	}
	worst, _ := t.heap.TopItem()
	if distance >= worst.Distance {
		return false
	}
	t.heap.PopItem()
	t.heap.PushItem(Item{ID: id, Distance: distance})
	return true
}

// Len returns the number of collected items.
func (t *TopK) Len() int { return t.heap.Len() }

// Sorted drains the collector and returns items by ascending distance.
func (t *TopK) Sorted() []Item {
	out := make([]Item, t.heap.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i], _ = t.heap.PopItem()
	}
	return out
}

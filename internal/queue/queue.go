// Package queue provides value-based binary heaps keyed by distance.
package queue

// Item is one heap entry: a node id and its distance from the query.
type Item struct {
	ID       uint32
	Distance float32
}

// Heap is a binary heap over Items. Value-based storage keeps it allocation
// free once warm; Reset truncates for reuse from a pool.
type Heap struct {
	max   bool
	items []Item
}

// NewMin creates a min-heap (closest on top).
func NewMin(capacity int) *Heap {
	return &Heap{items: make([]Item, 0, capacity)}
}

// NewMax creates a max-heap (farthest on top), used for bounded top-k sets.
func NewMax(capacity int) *Heap {
	return &Heap{max: true, items: make([]Item, 0, capacity)}
}

// Len returns the number of items in the heap.
func (h *Heap) Len() int { return len(h.items) }

// Reset clears the heap for reuse.
func (h *Heap) Reset() { h.items = h.items[:0] }

// Top returns the root without removing it.
func (h *Heap) Top() (Item, bool) {
	if len(h.items) == 0 {
		return Item{}, false
	}
	return h.items[0], true
}

// Push inserts an item.
func (h *Heap) Push(it Item) {
	h.items = append(h.items, it)
	h.up(len(h.items) - 1)
}

// Pop removes and returns the root.
func (h *Heap) Pop() (Item, bool) {
	n := len(h.items)
	if n == 0 {
		return Item{}, false
	}
	root := h.items[0]
	h.items[0] = h.items[n-1]
	h.items = h.items[:n-1]
	if len(h.items) > 0 {
		h.down(0)
	}
	return root, true
}

// Closest returns the item with the smallest distance. For min-heaps this is
// the root; for max-heaps it scans the backing slice.
func (h *Heap) Closest() (Item, bool) {
	if len(h.items) == 0 {
		return Item{}, false
	}
	if !h.max {
		return h.items[0], true
	}
	best := h.items[0]
	for _, it := range h.items[1:] {
		if it.Distance < best.Distance {
			best = it
		}
	}
	return best, true
}

// PushBounded inserts an item into a max-heap keeping at most k entries,
// evicting the current farthest when full. Reports whether the item was kept.
func (h *Heap) PushBounded(it Item, k int) bool {
	if len(h.items) < k {
		h.Push(it)
		return true
	}
	top, _ := h.Top()
	if it.Distance >= top.Distance {
		return false
	}
	h.items[0] = it
	h.down(0)
	return true
}

// Drain pops all items and returns them ordered ascending by distance.
func (h *Heap) Drain() []Item {
	out := make([]Item, len(h.items))
	if h.max {
		for i := len(out) - 1; i >= 0; i-- {
			out[i], _ = h.Pop()
		}
	} else {
		for i := range out {
			out[i], _ = h.Pop()
		}
	}
	return out
}

func (h *Heap) before(i, j int) bool {
	if h.max {
		return h.items[i].Distance > h.items[j].Distance
	}
	return h.items[i].Distance < h.items[j].Distance
}

func (h *Heap) up(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !h.before(i, p) {
			return
		}
		h.items[i], h.items[p] = h.items[p], h.items[i]
		i = p
	}
}

func (h *Heap) down(i int) {
	n := len(h.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		if r := l + 1; r < n && h.before(r, l) {
			best = r
		}
		if !h.before(best, i) {
			return
		}
		h.items[i], h.items[best] = h.items[best], h.items[i]
		i = best
	}
}

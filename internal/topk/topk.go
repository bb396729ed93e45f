// Package topk selects the k best (lowest-scoring) items from a stream.
package topk

import (
	"container/heap"
	"sort"
)

// Item is a scored candidate. Slot is opaque to the heap and carried through
// to the caller.
type Item struct {
	ID    int64
	Score float64
	Slot  uint32
}

// less orders items by ascending score, then ascending id.
func less(a, b Item) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.ID < b.ID
}

// Compile time check to ensure maxHeap satisfies the heap interface.
var _ heap.Interface = (*maxHeap)(nil)

// maxHeap keeps the worst retained item at the root.
type maxHeap []Item

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return less(h[j], h[i]) }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *maxHeap) Push(x any) { *h = append(*h, x.(Item)) }

func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Heap retains at most k items with the lowest (Score, ID).
type Heap struct {
	k     int
	items maxHeap
}

// New creates a heap bounded to k items. k must be positive.
func New(k int) *Heap {
	capacity := k
	if capacity > 1024 {
		capacity = 1024
	}
	return &Heap{k: k, items: make(maxHeap, 0, capacity)}
}

// Len returns the number of retained items.
func (h *Heap) Len() int { return len(h.items) }

// Push offers an item. It reports whether the item was retained.
func (h *Heap) Push(it Item) bool {
	if len(h.items) < h.k {
		heap.Push(&h.items, it)
		return true
	}
	if !less(it, h.items[0]) {
		return false
	}
	h.items[0] = it
	heap.Fix(&h.items, 0)
	return true
}

// Sorted drains the heap and returns the retained items best first.
func (h *Heap) Sorted() []Item {
	out := []Item(h.items)
	h.items = nil
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

package queue

import (
	"container/heap"
	"time"
)

// Item is an entry in a DeadlineQueue
type Item[T any] struct {
	Value T
	At    time.Time
	index int
	seq   uint64
}

// Queued reports whether the item is still held by a queue
func (it *Item[T]) Queued() bool {
	return it != nil && it.index >= 0
}

// DeadlineQueue orders values by time, earliest first. Items remember their
// heap position so they can be moved or removed in O(log n).
// Not safe for concurrent use; callers hold their own lock.
type DeadlineQueue[T any] struct {
	items itemHeap[T]
	seq   uint64
}

// New creates an empty queue
func New[T any]() *DeadlineQueue[T] {
	q := &DeadlineQueue[T]{}
	heap.Init(&q.items)
	return q
}

// Push adds value keyed at at and returns its handle
func (q *DeadlineQueue[T]) Push(value T, at time.Time) *Item[T] {
	q.seq++
	item := &Item[T]{Value: value, At: at, seq: q.seq}
	heap.Push(&q.items, item)
	return item
}

// Update moves item to a new time
func (q *DeadlineQueue[T]) Update(item *Item[T], at time.Time) {
	if !q.holds(item) {
		return
	}
	item.At = at
	heap.Fix(&q.items, item.index)
}

// Remove takes item out of the queue. Removing an item twice is a no-op.
func (q *DeadlineQueue[T]) Remove(item *Item[T]) {
	if !q.holds(item) {
		return
	}
	heap.Remove(&q.items, item.index)
}

// Peek returns the earliest item without removing it
func (q *DeadlineQueue[T]) Peek() *Item[T] {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Pop removes and returns the earliest item
func (q *DeadlineQueue[T]) Pop() *Item[T] {
	if len(q.items) == 0 {
		return nil
	}
	return heap.Pop(&q.items).(*Item[T])
}

// Len returns the number of queued items
func (q *DeadlineQueue[T]) Len() int {
	return len(q.items)
}

// Clear removes all items
func (q *DeadlineQueue[T]) Clear() {
	for _, item := range q.items {
		item.index = -1
	}
	q.items = nil
}

func (q *DeadlineQueue[T]) holds(item *Item[T]) bool {
	return item.Queued() && item.index < len(q.items) && q.items[item.index] == item
}

// itemHeap implements heap.Interface
type itemHeap[T any] []*Item[T]

func (h itemHeap[T]) Len() int { return len(h) }

func (h itemHeap[T]) Less(i, j int) bool {
	if !h[i].At.Equal(h[j].At) {
		return h[i].At.Before(h[j].At)
	}
	// Ties go to the earlier push
	return h[i].seq < h[j].seq
}

func (h itemHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap[T]) Push(x any) {
	item := x.(*Item[T])
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *itemHeap[T]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}

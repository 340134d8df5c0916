// Package queue provides a slice-backed FIFO queue used by the acknowledgment
// queue to hold pending sends. It is not safe for concurrent use; callers
// serialize access under their own lock.
package queue

// Queue implements a FIFO queue on top of a slice.
type Queue[T any] struct {
	items []T
}

// New creates a Queue with capacity preallocated for prealloc items.
func New[T any](prealloc int) *Queue[T] {
	return &Queue[T]{items: make([]T, 0, prealloc)}
}

// Enqueue adds an item to the tail of the queue.
func (q *Queue[T]) Enqueue(item T) {
	q.items = append(q.items, item)
}

// Dequeue removes and returns the item at the head of the queue.
// The second return value is false if the queue is empty.
func (q *Queue[T]) Dequeue() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero // release the reference for the GC
	q.items = q.items[1:]
	return item, true
}

// Peek returns the item at the head of the queue without removing it.
// The second return value is false if the queue is empty.
func (q *Queue[T]) Peek() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	return q.items[0], true
}

// Drain removes and returns all queued items in FIFO order.
func (q *Queue[T]) Drain() []T {
	if len(q.items) == 0 {
		return nil
	}
	items := make([]T, len(q.items))
	copy(items, q.items)
	q.Reset()
	return items
}

// Reset resets the queue to an empty state, keeping the underlying array.
func (q *Queue[T]) Reset() {
	var zero T
	for i := range q.items {
		q.items[i] = zero
	}
	q.items = q.items[:0]
}

// IsEmpty returns true if the queue is empty, false otherwise.
func (q *Queue[T]) IsEmpty() bool {
	return len(q.items) == 0
}

// Length returns the number of items in the queue.
func (q *Queue[T]) Length() int {
	return len(q.items)
}

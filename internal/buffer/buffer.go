// Package buffer provides a bounded FIFO window.
package buffer

import (
	"sync"
)

// Window is a thread-safe, fixed-capacity FIFO of the most recent items.
type Window[T any] struct {
	mu       sync.Mutex
	data     []T
	capacity int
}

// New creates a Window holding at most capacity items. Capacities below
// one are raised to one.
func New[T any](capacity int) *Window[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Window[T]{
		data:     make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Push appends an item. If the window is full, the oldest item is dropped.
func (w *Window[T]) Push(item T) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.data) >= w.capacity {
		// Drop oldest without growing the backing array
		copy(w.data, w.data[1:])
		w.data = w.data[:len(w.data)-1]
	}
	w.data = append(w.data, item)
}

// Last returns a copy of the newest n items, oldest first.
// n <= 0 or an empty window yields an empty, non-nil slice.
func (w *Window[T]) Last(n int) []T {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n <= 0 || len(w.data) == 0 {
		return []T{}
	}
	if n > len(w.data) {
		n = len(w.data)
	}
	out := make([]T, n)
	copy(out, w.data[len(w.data)-n:])
	return out
}

// Len returns the current number of items.
func (w *Window[T]) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.data)
}

// Cap returns the configured capacity.
func (w *Window[T]) Cap() int {
	return w.capacity
}

// IsEmpty returns true if the window holds nothing.
func (w *Window[T]) IsEmpty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.data) == 0
}

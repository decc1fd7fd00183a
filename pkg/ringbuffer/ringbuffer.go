// Package ringbuffer provides a fixed-capacity FIFO buffer that overwrites
// its oldest element once full.
package ringbuffer

import "sync"

type Buffer[T any] struct {
	mu       sync.RWMutex
	data     []T
	capacity int
	size     int
	head     int // next write position
}

// New creates a buffer holding at most capacity elements. A capacity below
// one is raised to one.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{
		data:     make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends v, evicting the oldest element when the buffer is full.
// It reports whether an element was evicted.
func (b *Buffer[T]) Push(v T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data[b.head] = v
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
		return false
	}
	return true
}

// Items returns the elements oldest first.
func (b *Buffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, b.size)
	start := (b.head - b.size + b.capacity) % b.capacity
	for i := 0; i < b.size; i++ {
		out[i] = b.data[(start+i)%b.capacity]
	}
	return out
}

// Recent returns up to n of the newest elements, oldest first.
func (b *Buffer[T]) Recent(n int) []T {
	items := b.Items()
	if n >= len(items) {
		return items
	}
	if n <= 0 {
		return []T{}
	}
	return items[len(items)-n:]
}

// Last returns the newest element.
func (b *Buffer[T]) Last() (T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var zero T
	if b.size == 0 {
		return zero, false
	}
	return b.data[(b.head-1+b.capacity)%b.capacity], true
}

func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *Buffer[T]) Cap() int {
	return b.capacity
}

// Clear drops all elements and releases references held by the backing array.
func (b *Buffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var zero T
	for i := range b.data {
		b.data[i] = zero
	}
	b.size = 0
	b.head = 0
}

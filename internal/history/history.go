// Package history keeps small bounded logs of past dispatch attempts.
package history

import (
	"sync"
	"sync/atomic"
)

const DefaultCapacity = 100

// Store is a fixed-capacity FIFO log. Readers load the current snapshot
// without locking; Add swaps in a fresh slice under a narrow mutex.
type Store[T any] struct {
	capacity int

	mu    sync.Mutex // serializes writers only
	snap  atomic.Pointer[[]T]
	total atomic.Int64
}

func New[T any](capacity int) *Store[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Store[T]{capacity: capacity}
	empty := make([]T, 0)
	s.snap.Store(&empty)
	return s
}

func (s *Store[T]) Capacity() int { return s.capacity }

// Add appends rec, evicting the oldest entries beyond capacity.
func (s *Store[T]) Add(rec T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := *s.snap.Load()
	start := 0
	if len(cur)+1 > s.capacity {
		start = len(cur) + 1 - s.capacity
	}
	next := make([]T, 0, len(cur)-start+1)
	next = append(next, cur[start:]...)
	next = append(next, rec)
	s.snap.Store(&next)
	s.total.Add(1)
}

// Recent returns up to n records, most recent first. n<=0 means all retained.
func (s *Store[T]) Recent(n int) []T {
	cur := *s.snap.Load()
	if n <= 0 || n > len(cur) {
		n = len(cur)
	}
	out := make([]T, 0, n)
	for i := len(cur) - 1; i >= len(cur)-n; i-- {
		out = append(out, cur[i])
	}
	return out
}

func (s *Store[T]) Len() int { return len(*s.snap.Load()) }

// TotalCount is the number of records ever added since the last Clear,
// including evicted ones.
func (s *Store[T]) TotalCount() int64 { return s.total.Load() }

func (s *Store[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	empty := make([]T, 0)
	s.snap.Store(&empty)
	s.total.Store(0)
}

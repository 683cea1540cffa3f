package queue

import (
	"sync"
)

// --------------------------------------------------------------------------
// Policy and Result Types
// --------------------------------------------------------------------------

// Policy determines what happens when a value is pushed onto a full ring.
type Policy uint8

const (
	// Reject refuses the new value and leaves the ring untouched.
	Reject Policy = iota
	// Overwrite evicts the oldest value to make room for the new one.
	Overwrite
)

func (p Policy) String() string {
	switch p {
	case Reject:
		return "Reject"
	case Overwrite:
		return "Overwrite"
	default:
		return "Unknown"
	}
}

// PushResult reports the outcome of a Push.
type PushResult uint8

const (
	// Pushed means the value was appended, no eviction took place.
	Pushed PushResult = iota
	// PushedEvicted means the value was appended and the oldest value
	// was evicted to make room. The evicted value is returned by Push.
	PushedEvicted
	// Rejected means the ring was full and the value was not appended.
	Rejected
)

// --------------------------------------------------------------------------
// Ring Implementation
// --------------------------------------------------------------------------

// Ring is a bounded FIFO ring buffer.
//
// Thread-safety: all methods are safe for concurrent use.
type Ring[T any] struct {
	mu     sync.Mutex
	buf    []T
	head   int // index of the oldest element
	count  int
	policy Policy
}

// NewRing creates a ring with the given capacity and full-queue policy.
// Capacity must be at least 1.
func NewRing[T any](capacity int, policy Policy) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		buf:    make([]T, capacity),
		policy: policy,
	}
}

// Push appends v to the ring. On a full ring the configured policy decides:
// Reject returns (zero, Rejected), Overwrite evicts the oldest value and
// returns it together with PushedEvicted.
func (r *Ring[T]) Push(v T) (evicted T, res PushResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == len(r.buf) {
		if r.policy == Reject {
			return evicted, Rejected
		}
		// Overwrite: evict the head slot and reuse it for v
		evicted = r.buf[r.head]
		r.buf[r.head] = v
		r.head = (r.head + 1) % len(r.buf)
		return evicted, PushedEvicted
	}

	r.buf[(r.head+r.count)%len(r.buf)] = v
	r.count++
	return evicted, Pushed
}

// Pop removes and returns the oldest value. The boolean is false if the
// ring is empty.
func (r *Ring[T]) Pop() (v T, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return v, false
	}

	var zero T
	v = r.buf[r.head]
	r.buf[r.head] = zero // help gc
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return v, true
}

// PopOldest removes the oldest value only if the ring is non-empty, same as
// Pop but named for call sites that evict on behalf of a newer value.
func (r *Ring[T]) PopOldest() (T, bool) {
	return r.Pop()
}

// Len returns the current number of buffered values.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the fixed capacity of the ring.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Drain pops every buffered value and invokes fn on it, in FIFO order.
func (r *Ring[T]) Drain(fn func(T)) {
	for {
		v, ok := r.Pop()
		if !ok {
			return
		}
		fn(v)
	}
}

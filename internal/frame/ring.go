// SPDX-License-Identifier: MIT
package frame

import (
	"sync/atomic"

	"karaoke/pkg/bitint"
)

// ring is a bounded single-producer/single-consumer queue of pointers with a
// drop-oldest overflow policy.
//
// head and tail are monotonically increasing sequence numbers; a slot index
// is seq & mask. The consumer claims the item at head with a CAS, and the
// producer evicts the oldest item with the same CAS when the ring is full,
// so whichever side wins owns the evicted pointer. A slot for sequence
// head+capacity is only written after head has moved past it, so a consumer
// whose CAS succeeds always read the item it claimed.
type ring[T any] struct {
	slots    []atomic.Pointer[T]
	mask     uint64
	capacity uint64
	head     atomic.Uint64 // next sequence to pop
	tail     atomic.Uint64 // next sequence to push, producer-owned
}

func newRing[T any](capacity int) *ring[T] {
	size := bitint.NextPowerOfTwo(capacity)
	return &ring[T]{
		slots:    make([]atomic.Pointer[T], size),
		mask:     uint64(size - 1),
		capacity: uint64(capacity),
	}
}

// push stores v, evicting and returning the oldest item when the ring is
// full. Producer only.
func (r *ring[T]) push(v *T) (evicted *T) {
	t := r.tail.Load()
	for {
		h := r.head.Load()
		if t-h < r.capacity {
			break
		}
		old := r.slots[h&r.mask].Load()
		if r.head.CompareAndSwap(h, h+1) {
			evicted = old
			break
		}
		// The consumer popped concurrently; there is room now.
	}
	r.slots[t&r.mask].Store(v)
	r.tail.Store(t + 1)
	return evicted
}

// pop removes the oldest item. Consumer only.
func (r *ring[T]) pop() (*T, bool) {
	for {
		h := r.head.Load()
		if h == r.tail.Load() {
			return nil, false
		}
		v := r.slots[h&r.mask].Load()
		if r.head.CompareAndSwap(h, h+1) {
			return v, true
		}
		// The producer evicted h; retry with the new head.
	}
}

func (r *ring[T]) len() int {
	t := r.tail.Load()
	h := r.head.Load()
	if h > t {
		return 0
	}
	return int(t - h)
}

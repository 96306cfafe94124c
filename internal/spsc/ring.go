// Package spsc provides a lock-free single-producer/single-consumer
// bounded ring buffer for inter-thread hand-off on the hot path.
//
// Exactly one goroutine may call TryPush and exactly one other may call
// TryPop; concurrent calls from the same role are undefined. Neither
// operation blocks or spins: a full push and an empty pop return
// immediately and the caller decides whether to retry, yield or drop.
package spsc

import "sync/atomic"

// Ring is a power-of-two sized circular buffer. One slot stays reserved
// to tell full from empty, so usable capacity is size-1. Head and tail
// live in separate cache-line sized regions so the producer and consumer
// cores do not invalidate each other's lines on every operation.
type Ring[T any] struct {
	_    [64]byte
	head atomic.Uint64 // next slot the consumer will read
	_    [56]byte
	tail atomic.Uint64 // next slot the producer will write
	_    [56]byte
	mask uint64
	buf  []T
}

// New allocates a ring. size must be a positive power of two; anything
// else panics because the index masking depends on it.
func New[T any](size int) *Ring[T] {
	if size <= 0 || size&(size-1) != 0 {
		panic("spsc: size must be >0 and a power of two")
	}
	return &Ring[T]{
		mask: uint64(size - 1),
		buf:  make([]T, size),
	}
}

// TryPush enqueues v, returning false when the ring is full. The store
// to tail publishes the written slot: the consumer's acquire load of
// tail guarantees it observes the payload written before it.
func (r *Ring[T]) TryPush(v T) bool {
	t := r.tail.Load()
	h := r.head.Load()
	if t-h >= r.mask {
		return false
	}
	r.buf[t&r.mask] = v
	r.tail.Store(t + 1)
	return true
}

// TryPop dequeues one item. The second return is false when the ring is
// empty.
func (r *Ring[T]) TryPop() (T, bool) {
	var zero T
	h := r.head.Load()
	t := r.tail.Load()
	if t == h {
		return zero, false
	}
	v := r.buf[h&r.mask]
	r.buf[h&r.mask] = zero // release the payload for GC
	r.head.Store(h + 1)
	return v, true
}

// Len is an approximate element count. It races with concurrent pushes
// and pops and is for diagnostics only, never correctness decisions.
func (r *Ring[T]) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Empty reports whether the ring looked empty at the racy instant of the
// call.
func (r *Ring[T]) Empty() bool {
	return r.Len() == 0
}

// Capacity returns the usable capacity, one less than the ring size.
func (r *Ring[T]) Capacity() int {
	return int(r.mask)
}

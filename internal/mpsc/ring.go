// Package mpsc provides a lock-free multi-producer/single-consumer
// bounded ring buffer. Any number of goroutines may TryPush concurrently;
// exactly one goroutine may TryPop.
//
// Each slot carries a sequence stamp naming the logical position that
// currently owns it, so competing producers claim slots with a CAS on the
// enqueue cursor and detect contention without a global lock.
package mpsc

import "sync/atomic"

type slot[T any] struct {
	seq atomic.Uint64
	val T
}

// Ring is a power-of-two sized buffer. As in the SPSC variant one slot
// is held in reserve, so usable capacity is size-1 and full/empty are
// never ambiguous.
type Ring[T any] struct {
	_    [64]byte
	enq  atomic.Uint64 // producers race on this cursor
	_    [56]byte
	deq  atomic.Uint64 // single consumer's cursor
	_    [56]byte
	mask uint64
	buf  []slot[T]
}

// New allocates a ring. size must be a positive power of two.
func New[T any](size int) *Ring[T] {
	if size <= 0 || size&(size-1) != 0 {
		panic("mpsc: size must be >0 and a power of two")
	}
	r := &Ring[T]{
		mask: uint64(size - 1),
		buf:  make([]slot[T], size),
	}
	for i := range r.buf {
		r.buf[i].seq.Store(uint64(i))
	}
	return r
}

// TryPush enqueues v, returning false when the ring is full. A producer
// that loses the CAS race simply re-reads the cursor and tries the next
// position; it never spins on a slot.
func (r *Ring[T]) TryPush(v T) bool {
	for {
		pos := r.enq.Load()
		if pos-r.deq.Load() >= r.mask {
			return false
		}
		s := &r.buf[pos&r.mask]
		seq := s.seq.Load()
		switch {
		case seq == pos:
			if r.enq.CompareAndSwap(pos, pos+1) {
				s.val = v
				s.seq.Store(pos + 1) // publish: consumer sees val before this
				return true
			}
		case seq < pos:
			// Slot still owned by a lagging consumer cycle.
			return false
		}
		// seq > pos: another producer advanced the cursor; retry.
	}
}

// TryPop dequeues one item; the second return is false when the ring is
// empty or the slot at the consumer cursor has not been published yet.
func (r *Ring[T]) TryPop() (T, bool) {
	var zero T
	pos := r.deq.Load()
	s := &r.buf[pos&r.mask]
	if s.seq.Load() != pos+1 {
		return zero, false
	}
	v := s.val
	s.val = zero
	s.seq.Store(pos + r.mask + 1) // hand the slot back to the producers
	r.deq.Store(pos + 1)
	return v, true
}

// Len is an approximate element count for diagnostics only.
func (r *Ring[T]) Len() int {
	n := int(r.enq.Load() - r.deq.Load())
	if n < 0 {
		return 0
	}
	return n
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

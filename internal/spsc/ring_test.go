package spsc

import (
	"runtime"
	"testing"
)

func TestNewRejectsBadSizes(t *testing.T) {
	for _, size := range []int{0, -1, 3, 12, 1000} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("size %d should panic", size)
				}
			}()
			New[int](size)
		}()
	}
}

func TestFIFOOrder(t *testing.T) {
	r := New[int](16)
	if r.Capacity() != 15 {
		t.Fatalf("capacity = %d, want 15", r.Capacity())
	}
	for i := 0; i < r.Capacity(); i++ {
		if !r.TryPush(i) {
			t.Fatalf("push %d failed below capacity", i)
		}
	}
	for i := 0; i < r.Capacity(); i++ {
		v, ok := r.TryPop()
		if !ok || v != i {
			t.Fatalf("pop %d = (%d, %v)", i, v, ok)
		}
	}
	if _, ok := r.TryPop(); ok {
		t.Fatalf("pop on empty ring succeeded")
	}
}

func TestFullPushFailsWithoutCorruption(t *testing.T) {
	r := New[int](8)
	for i := 0; i < 7; i++ {
		if !r.TryPush(i) {
			t.Fatalf("push %d failed", i)
		}
	}
	if r.TryPush(99) {
		t.Fatalf("push on full ring succeeded")
	}
	if r.Len() != 7 {
		t.Fatalf("len = %d after failed push, want 7", r.Len())
	}
	for i := 0; i < 7; i++ {
		v, ok := r.TryPop()
		if !ok || v != i {
			t.Fatalf("contents altered by failed push: pop %d = (%d, %v)", i, v, ok)
		}
	}
}

func TestWrapAround(t *testing.T) {
	r := New[int](4)
	for round := 0; round < 100; round++ {
		for i := 0; i < 3; i++ {
			if !r.TryPush(round*3 + i) {
				t.Fatalf("push failed at round %d item %d", round, i)
			}
		}
		for i := 0; i < 3; i++ {
			v, ok := r.TryPop()
			if !ok || v != round*3+i {
				t.Fatalf("round %d item %d: got (%d, %v)", round, i, v, ok)
			}
		}
	}
}

// One producer pushes 0..n-1, one consumer drains until it has seen all
// of them. The checksum catches loss and duplication alike.
func TestConcurrentChecksum(t *testing.T) {
	const n = 1_000_000
	r := New[int64](1024)
	done := make(chan int64)

	go func() {
		var sum int64
		for count := 0; count < n; {
			if v, ok := r.TryPop(); ok {
				sum += v
				count++
				continue
			}
			runtime.Gosched()
		}
		done <- sum
	}()

	for i := int64(0); i < n; {
		if r.TryPush(i) {
			i++
			continue
		}
		runtime.Gosched()
	}

	want := int64(n) * (n - 1) / 2
	if got := <-done; got != want {
		t.Fatalf("checksum = %d, want %d", got, want)
	}
	if !r.Empty() {
		t.Fatalf("ring not empty after drain, len=%d", r.Len())
	}
}

func BenchmarkPushPop(b *testing.B) {
	r := New[int](1024)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		r.TryPush(i)
		r.TryPop()
	}
}

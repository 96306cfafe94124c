// Package hotpath holds the timing, CPU-affinity and latency-statistics
// utilities shared by the processing loops. Everything here is safe to
// call from pinned threads and allocates nothing on the measurement path.
package hotpath

import "time"

// base anchors the monotonic clock. time.Since reads the runtime's
// monotonic reading, so timestamps are immune to wall-clock steps.
var base = time.Now()

// NowNanos returns monotonic nanoseconds since process start.
func NowNanos() int64 {
	return int64(time.Since(base))
}

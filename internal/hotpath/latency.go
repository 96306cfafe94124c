package hotpath

import (
	"math"
	"sort"
	"sync"
)

// LatencyStats accumulates nanosecond durations and derives order
// statistics on demand. Recording is cheap (append + running sums);
// percentiles sort lazily and cache until the next Record.
type LatencyStats struct {
	mu      sync.Mutex
	samples []int64
	sum     float64
	sumSq   float64
	min     int64
	max     int64
	sorted  bool
}

// NewLatencyStats returns an accumulator pre-sized for n samples.
func NewLatencyStats(n int) *LatencyStats {
	return &LatencyStats{samples: make([]int64, 0, n)}
}

// Record adds one duration in nanoseconds.
func (s *LatencyStats) Record(ns int64) {
	s.mu.Lock()
	if len(s.samples) == 0 || ns < s.min {
		s.min = ns
	}
	if len(s.samples) == 0 || ns > s.max {
		s.max = ns
	}
	s.samples = append(s.samples, ns)
	s.sum += float64(ns)
	s.sumSq += float64(ns) * float64(ns)
	s.sorted = false
	s.mu.Unlock()
}

// Count returns the number of recorded samples.
func (s *LatencyStats) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

// Reset discards all samples.
func (s *LatencyStats) Reset() {
	s.mu.Lock()
	s.samples = s.samples[:0]
	s.sum, s.sumSq = 0, 0
	s.min, s.max = 0, 0
	s.sorted = false
	s.mu.Unlock()
}

// Summary is a point-in-time digest of the recorded stream.
type Summary struct {
	Count  int
	MinNs  int64
	MaxNs  int64
	MeanNs float64
	StdNs  float64
	P50Ns  int64
	P90Ns  int64
	P95Ns  int64
	P99Ns  int64
	P999Ns int64
	Jitter float64 // stddev / mean
}

// Snapshot computes the full summary. Sorting happens here, not on the
// recording path.
func (s *LatencyStats) Snapshot() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.samples)
	if n == 0 {
		return Summary{}
	}
	if !s.sorted {
		sort.Slice(s.samples, func(i, j int) bool { return s.samples[i] < s.samples[j] })
		s.sorted = true
	}

	mean := s.sum / float64(n)
	variance := s.sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	std := math.Sqrt(variance)

	sum := Summary{
		Count:  n,
		MinNs:  s.min,
		MaxNs:  s.max,
		MeanNs: mean,
		StdNs:  std,
		P50Ns:  s.percentileLocked(50),
		P90Ns:  s.percentileLocked(90),
		P95Ns:  s.percentileLocked(95),
		P99Ns:  s.percentileLocked(99),
		P999Ns: s.percentileLocked(99.9),
	}
	if mean > 0 {
		sum.Jitter = std / mean
	}
	return sum
}

// Percentile returns the p-th percentile in nanoseconds (0 < p <= 100).
func (s *LatencyStats) Percentile(p float64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.sorted {
		sort.Slice(s.samples, func(i, j int) bool { return s.samples[i] < s.samples[j] })
		s.sorted = true
	}
	return s.percentileLocked(p)
}

func (s *LatencyStats) percentileLocked(p float64) int64 {
	n := len(s.samples)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return s.samples[idx]
}

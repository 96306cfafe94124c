package router

import "sync"

// VenueStats accumulates per-venue execution quality. Latency is an
// exponential moving average weighted 7/8 toward history, alongside the
// running maximum ever observed.
type VenueStats struct {
	AvgLatencyNs int64
	MaxLatencyNs int64
	Attempts     uint64
	Fills        uint64
	Rejects      uint64
}

// FillRate is the fraction of attempts that filled. A venue with no
// history reports 1 so untried venues are not starved.
func (s VenueStats) FillRate() float64 {
	if s.Attempts == 0 {
		return 1
	}
	return float64(s.Fills) / float64(s.Attempts)
}

// RejectRate is the fraction of attempts the venue rejected.
func (s VenueStats) RejectRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Rejects) / float64(s.Attempts)
}

type statsBook struct {
	mu    sync.Mutex
	stats map[string]*VenueStats
}

func newStatsBook() *statsBook {
	return &statsBook{stats: make(map[string]*VenueStats)}
}

func (b *statsBook) record(venue string, latencyNs int64, filled, rejected bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.stats[venue]
	if !ok {
		s = &VenueStats{}
		b.stats[venue] = s
	}
	s.Attempts++
	if filled {
		s.Fills++
	}
	if rejected {
		s.Rejects++
	}
	if latencyNs > 0 {
		if s.AvgLatencyNs == 0 {
			s.AvgLatencyNs = latencyNs
		} else {
			s.AvgLatencyNs = (s.AvgLatencyNs*7 + latencyNs) / 8
		}
		if latencyNs > s.MaxLatencyNs {
			s.MaxLatencyNs = latencyNs
		}
	}
}

func (b *statsBook) get(venue string) (VenueStats, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.stats[venue]
	if !ok {
		return VenueStats{}, false
	}
	return *s, true
}

func (b *statsBook) snapshot() map[string]VenueStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]VenueStats, len(b.stats))
	for venue, s := range b.stats {
		out[venue] = *s
	}
	return out
}

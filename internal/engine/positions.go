package engine

import (
	"math"
	"sync"
)

// PositionBook aggregates signed net quantity per market. Fills add
// positive quantity for buys and negative for sells.
type PositionBook struct {
	mu        sync.Mutex
	positions map[string]float64
}

// NewPositionBook returns an empty aggregator.
func NewPositionBook() *PositionBook {
	return &PositionBook{positions: make(map[string]float64)}
}

// Apply adds a signed quantity delta to a market's position.
func (p *PositionBook) Apply(marketID string, delta float64) {
	p.mu.Lock()
	p.positions[marketID] += delta
	p.mu.Unlock()
}

// Get returns the signed position for one market (zero when flat).
func (p *PositionBook) Get(marketID string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positions[marketID]
}

// TotalAbs returns the sum of absolute positions across all markets.
func (p *PositionBook) TotalAbs() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total float64
	for _, qty := range p.positions {
		total += math.Abs(qty)
	}
	return total
}

// All returns a copy of every non-flat position.
func (p *PositionBook) All() map[string]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]float64, len(p.positions))
	for id, qty := range p.positions {
		if qty != 0 {
			out[id] = qty
		}
	}
	return out
}

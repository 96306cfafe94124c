package engine

import (
	"fmt"
	"math"
	"sync"
	"time"

	"arbflow/config"
	"arbflow/models"
)

// RiskChecker runs the synchronous pre-trade gate. Limits are fixed at
// construction; a zero limit disables that individual check.
type RiskChecker struct {
	limits    config.RiskConfig
	positions *PositionBook

	mu          sync.Mutex
	submitted   []time.Time // trailing submissions for the rate check
	realizedPnL float64
}

// NewRiskChecker builds a checker over the live position aggregator.
func NewRiskChecker(limits config.RiskConfig, positions *PositionBook) *RiskChecker {
	return &RiskChecker{limits: limits, positions: positions}
}

// RecordPnL folds realized profit (positive) or loss (negative) into the
// daily-loss check. The engine does not compute PnL itself; the
// orchestration layer reports it here.
func (r *RiskChecker) RecordPnL(delta float64) {
	r.mu.Lock()
	r.realizedPnL += delta
	r.mu.Unlock()
}

// Check validates one order request against every limit. A nil return
// admits the order; otherwise the error carries the specific rejection
// reason. A passing check also counts the order toward the rate window.
func (r *RiskChecker) Check(req models.OrderRequest, now time.Time) error {
	if req.Quantity <= 0 {
		return fmt.Errorf("order quantity %v must be positive", req.Quantity)
	}
	if req.Side != models.SideBuy && req.Side != models.SideSell {
		return fmt.Errorf("order side %q is not valid", req.Side)
	}

	if max := r.limits.MaxOrderSize; max > 0 && req.Quantity > max {
		return fmt.Errorf("order size %v exceeds max order size %v", req.Quantity, max)
	}

	delta := req.Side.Sign() * req.Quantity
	if max := r.limits.MaxPositionPerMarket; max > 0 {
		if resulting := math.Abs(r.positions.Get(req.MarketID) + delta); resulting > max {
			return fmt.Errorf("resulting position %v in %s exceeds max position per market %v",
				resulting, req.MarketID, max)
		}
	}
	if max := r.limits.MaxTotalPosition; max > 0 {
		if total := r.positions.TotalAbs() + req.Quantity; total > max {
			return fmt.Errorf("total position %v exceeds max total position %v", total, max)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if max := r.limits.MaxDailyLoss; max > 0 && r.realizedPnL < -max {
		return fmt.Errorf("daily loss %v exceeds max daily loss %v", -r.realizedPnL, max)
	}

	if max := r.limits.MaxOrdersPerSecond; max > 0 {
		cutoff := now.Add(-time.Second)
		keep := r.submitted[:0]
		for _, ts := range r.submitted {
			if ts.After(cutoff) {
				keep = append(keep, ts)
			}
		}
		r.submitted = keep
		if len(r.submitted)+1 > max {
			return fmt.Errorf("order rate %d/s exceeds max orders per second %d", len(r.submitted)+1, max)
		}
	}
	r.submitted = append(r.submitted, now)
	return nil
}

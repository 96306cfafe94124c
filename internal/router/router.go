// Package router picks execution venues for orders using live prices
// and accumulated per-venue execution quality.
package router

import (
	"fmt"
	"sort"

	"arbflow/config"
	"arbflow/internal/engine"
	"arbflow/logger"
	"arbflow/models"
)

// Strategy names a venue selection policy.
type Strategy string

const (
	StrategyBestPrice     Strategy = "best_price"
	StrategyLowestLatency Strategy = "lowest_latency"
	StrategyBestFillRate  Strategy = "best_fill_rate"
	StrategySplit         Strategy = "split"
	StrategySmart         Strategy = "smart"
)

// Valid reports whether the strategy is one of the known policies.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyBestPrice, StrategyLowestLatency, StrategyBestFillRate, StrategySplit, StrategySmart:
		return true
	}
	return false
}

// PriceSource is one venue's view of top-of-book prices; in practice a
// market data handler.
type PriceSource interface {
	GetQuote(marketID string) (models.Quote, bool)
}

// Submitter is the downstream execution engine.
type Submitter interface {
	SubmitOrder(req models.OrderRequest, cb engine.OrderCallback) (uint64, error)
}

// Allocation is one venue's share of a routed order.
type Allocation struct {
	Venue    models.Protocol
	Price    float64
	Quantity float64
}

// Decision is the outcome of venue selection. Allocations is empty only
// when no venue could take the order at all.
type Decision struct {
	Strategy    Strategy
	Allocations []Allocation
	Reason      string
}

// Router scores venues from price sources and recorded execution
// quality. It is safe for concurrent use.
type Router struct {
	cfg       config.RouterConfig
	sources   map[models.Protocol]PriceSource
	stats     *statsBook
	submitter Submitter
	log       *logger.Log
}

// NewRouter builds a router over one price source per venue.
func NewRouter(cfg config.RouterConfig, sources map[models.Protocol]PriceSource, submitter Submitter) *Router {
	return &Router{
		cfg:       cfg,
		sources:   sources,
		stats:     newStatsBook(),
		submitter: submitter,
		log:       logger.GetLogger(),
	}
}

// RecordExecution feeds one completed attempt back into venue quality
// tracking. Pass latencyNs of 0 when submission latency is unknown.
func (r *Router) RecordExecution(venue models.Protocol, latencyNs int64, filled, rejected bool) {
	r.stats.record(string(venue), latencyNs, filled, rejected)
}

// VenueStatsFor returns the accumulated quality record for one venue.
func (r *Router) VenueStatsFor(venue models.Protocol) (VenueStats, bool) {
	return r.stats.get(string(venue))
}

// AllVenueStats snapshots every venue's quality record.
func (r *Router) AllVenueStats() map[string]VenueStats {
	return r.stats.snapshot()
}

// candidate is one venue's quotable side for the requested market.
type candidate struct {
	venue models.Protocol
	price float64
	size  float64
	stats VenueStats
}

// candidates collects venues that currently quote the relevant side of
// the market, sorted by venue name for deterministic tie-breaks.
func (r *Router) candidates(req models.OrderRequest) []candidate {
	var out []candidate
	for venue, src := range r.sources {
		q, ok := src.GetQuote(req.MarketID)
		if !ok {
			continue
		}
		var price, size float64
		if req.Side == models.SideBuy {
			price, size = q.AskPrice, q.AskSize
		} else {
			price, size = q.BidPrice, q.BidSize
		}
		if price <= 0 || size <= 0 {
			continue
		}
		stats, _ := r.stats.get(string(venue))
		out = append(out, candidate{venue: venue, price: price, size: size, stats: stats})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].venue < out[j].venue })
	return out
}

// MakeRoutingDecision selects venues for the request without submitting
// anything. When no venue quotes the market the decision falls back to
// the venue named on the request, full size at the request price.
func (r *Router) MakeRoutingDecision(req models.OrderRequest, strategy Strategy) Decision {
	if !strategy.Valid() {
		strategy = Strategy(r.cfg.DefaultStrategy)
	}
	if !strategy.Valid() {
		strategy = StrategySmart
	}

	cands := r.candidates(req)
	if len(cands) == 0 {
		if !req.Venue.Valid() {
			return Decision{Strategy: strategy, Reason: "no venue quotes the market and no venue was requested"}
		}
		return Decision{
			Strategy:    strategy,
			Allocations: []Allocation{{Venue: req.Venue, Price: req.Price, Quantity: req.Quantity}},
			Reason:      "no market data; falling back to requested venue",
		}
	}

	switch strategy {
	case StrategyBestPrice:
		return single(strategy, req, bestBy(cands, func(a, b candidate) bool {
			if req.Side == models.SideBuy {
				return a.price < b.price
			}
			return a.price > b.price
		}), "best top-of-book price")
	case StrategyLowestLatency:
		return single(strategy, req, bestBy(cands, func(a, b candidate) bool {
			return a.stats.AvgLatencyNs < b.stats.AvgLatencyNs
		}), "lowest average submit latency")
	case StrategyBestFillRate:
		return single(strategy, req, bestBy(cands, func(a, b candidate) bool {
			return a.stats.FillRate() > b.stats.FillRate()
		}), "highest historical fill rate")
	case StrategySplit:
		return r.split(req, cands)
	default:
		return r.smart(req, cands)
	}
}

func single(strategy Strategy, req models.OrderRequest, c candidate, reason string) Decision {
	return Decision{
		Strategy:    strategy,
		Allocations: []Allocation{{Venue: c.venue, Price: c.price, Quantity: req.Quantity}},
		Reason:      reason,
	}
}

// bestBy returns the candidate winning a strict pairwise comparison;
// ties keep the earlier (name-ordered) candidate.
func bestBy(cands []candidate, less func(a, b candidate) bool) candidate {
	best := cands[0]
	for _, c := range cands[1:] {
		if less(c, best) {
			best = c
		}
	}
	return best
}

// split divides the order evenly across the venues with recorded
// execution history, or across every quoting venue when no history
// exists yet. When the even slice falls under the configured minimum
// the whole order goes to the deepest venue instead.
func (r *Router) split(req models.OrderRequest, cands []candidate) Decision {
	eligible := make([]candidate, 0, len(cands))
	for _, c := range cands {
		if c.stats.Attempts > 0 {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		eligible = cands
	}

	per := req.Quantity / float64(len(eligible))
	if per < r.cfg.MinSplitSize {
		largest := bestBy(cands, func(a, b candidate) bool { return a.size > b.size })
		return single(StrategySplit, req, largest, "even slice under minimum; routing whole order to deepest venue")
	}

	allocs := make([]Allocation, 0, len(eligible))
	for _, c := range eligible {
		allocs = append(allocs, Allocation{Venue: c.venue, Price: c.price, Quantity: per})
	}
	return Decision{
		Strategy:    StrategySplit,
		Allocations: allocs,
		Reason:      "divided evenly across venues with execution history",
	}
}

// smart scores each venue on normalized price, latency and fill rate
// under the configured weights and routes the whole order to the winner.
func (r *Router) smart(req models.OrderRequest, cands []candidate) Decision {
	minPrice, maxPrice := cands[0].price, cands[0].price
	var maxLatency int64
	for _, c := range cands {
		if c.price < minPrice {
			minPrice = c.price
		}
		if c.price > maxPrice {
			maxPrice = c.price
		}
		if c.stats.AvgLatencyNs > maxLatency {
			maxLatency = c.stats.AvgLatencyNs
		}
	}

	best := cands[0]
	bestScore := -1.0
	for _, c := range cands {
		priceScore := 1.0
		if maxPrice > minPrice {
			if req.Side == models.SideBuy {
				priceScore = (maxPrice - c.price) / (maxPrice - minPrice)
			} else {
				priceScore = (c.price - minPrice) / (maxPrice - minPrice)
			}
		}
		latencyScore := 1.0
		if maxLatency > 0 {
			latencyScore = 1 - float64(c.stats.AvgLatencyNs)/float64(maxLatency)
		}
		score := r.cfg.PriceWeight*priceScore +
			r.cfg.LatencyWeight*latencyScore +
			r.cfg.FillRateWeight*c.stats.FillRate()
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return Decision{
		Strategy:    StrategySmart,
		Allocations: []Allocation{{Venue: best.venue, Price: best.price, Quantity: req.Quantity}},
		Reason:      fmt.Sprintf("weighted score %.3f", bestScore),
	}
}

// RouteOrder makes a decision and submits one order per allocation. It
// returns the submitted order ids alongside the decision; a risk
// rejection on any allocation aborts the remaining ones.
func (r *Router) RouteOrder(req models.OrderRequest, strategy Strategy, cb engine.OrderCallback) ([]uint64, Decision, error) {
	decision := r.MakeRoutingDecision(req, strategy)
	if len(decision.Allocations) == 0 {
		return nil, decision, fmt.Errorf("no venue available for %s", req.MarketID)
	}

	ids := make([]uint64, 0, len(decision.Allocations))
	for _, alloc := range decision.Allocations {
		sub := req
		sub.Venue = alloc.Venue
		sub.Quantity = alloc.Quantity
		if alloc.Price > 0 && req.Type != models.OrderTypeMarket {
			sub.Price = alloc.Price
		}
		id, err := r.submitter.SubmitOrder(sub, cb)
		if err != nil {
			return ids, decision, fmt.Errorf("allocation to %s failed: %w", alloc.Venue, err)
		}
		r.log.WithComponent("order_router").WithFields(logger.Fields{
			"order_id": id,
			"market":   req.MarketID,
			"venue":    string(alloc.Venue),
			"strategy": string(decision.Strategy),
			"quantity": alloc.Quantity,
		}).Debug("order routed")
		ids = append(ids, id)
	}
	return ids, decision, nil
}

package models

import "time"

// Quote is the cached top-of-book for one market, derived from the most
// recent QuoteUpdate or BookSnapshot seen for it. Market ids are
// venue-scoped, so one entry per market id is sufficient; if two feeds
// ever report the same id the later write wins.
type Quote struct {
	MarketID  string
	Venue     Protocol
	BidPrice  float64
	BidSize   float64
	AskPrice  float64
	AskSize   float64
	Timestamp time.Time
}

// Mid returns the quote midpoint, or zero when either side is absent.
func (q Quote) Mid() float64 {
	if q.BidPrice <= 0 || q.AskPrice <= 0 {
		return 0
	}
	return (q.BidPrice + q.AskPrice) / 2
}

// Age is the time elapsed since the quote was produced.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}

// Opportunity is a detected cross-venue spread: buy on BuyVenue at
// BuyPrice, sell on SellVenue at SellPrice. Keyed by
// (MarketID, BuyVenue, SellVenue) in the detector's live set.
type Opportunity struct {
	MarketID        string
	BuyVenue        Protocol
	SellVenue       Protocol
	BuyPrice        float64
	SellPrice       float64
	MaxSize         float64
	Spread          float64
	SpreadBps       float64
	ExpectedProfit  float64
	ProfitAfterFees float64
	Confidence      float64 // 1 fresh .. 0 at the staleness threshold
	Stale           bool
	DetectedAt      time.Time
	QuoteAge        time.Duration
}

// Key identifies the opportunity in the detector's live map.
func (o Opportunity) Key() OpportunityKey {
	return OpportunityKey{MarketID: o.MarketID, BuyVenue: o.BuyVenue, SellVenue: o.SellVenue}
}

// OpportunityKey is the identity of an opportunity independent of its
// refreshed prices.
type OpportunityKey struct {
	MarketID  string
	BuyVenue  Protocol
	SellVenue Protocol
}

package models

import "time"

// RawPacket is an opaque payload as it arrived on a venue connection,
// stamped with the protocol it came in on and the receive time. The
// buffer is owned by whichever pipeline stage currently holds the packet
// and is not retained after normalization.
type RawPacket struct {
	Protocol Protocol
	Data     []byte
	Received time.Time
}

// NormalizedMessage is the closed set of venue-neutral messages produced
// by the feed normalizer. The unexported marker keeps the set sealed so
// every consumer switch is forced to handle exactly these variants.
type NormalizedMessage interface {
	normalizedMessage()
}

// QuoteUpdate is a top-of-book refresh for one market.
type QuoteUpdate struct {
	Protocol  Protocol
	MarketID  string
	Symbol    string
	BidPrice  float64
	AskPrice  float64
	BidSize   float64
	AskSize   float64
	LastPrice float64
	Volume24h float64
	Timestamp time.Time
	Sequence  uint64
}

// BookLevel is a single price level of an order book side.
type BookLevel struct {
	Price float64
	Size  float64
}

// BookSnapshot is a full order-book replacement for one market. Bids are
// ordered best (highest) first, asks best (lowest) first.
type BookSnapshot struct {
	Protocol  Protocol
	MarketID  string
	Bids      []BookLevel
	Asks      []BookLevel
	Timestamp time.Time
	Sequence  uint64
}

// TradeEvent is a print reported by the venue.
type TradeEvent struct {
	Protocol  Protocol
	MarketID  string
	TradeID   string
	Side      Side
	Price     float64
	Size      float64
	Timestamp time.Time
}

// OrderFill is a venue execution report for one of our orders.
type OrderFill struct {
	Protocol   Protocol
	OrderID    string
	MarketID   string
	Side       Side
	Price      float64
	FilledSize float64
	Remaining  float64
	Complete   bool
	Timestamp  time.Time
}

func (QuoteUpdate) normalizedMessage()  {}
func (BookSnapshot) normalizedMessage() {}
func (TradeEvent) normalizedMessage()   {}
func (OrderFill) normalizedMessage()    {}

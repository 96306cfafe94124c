package marketdata

import (
	"sort"
	"time"

	"arbflow/models"
)

// Book is the per-market order book. It is mutated only by the handler's
// ingestion thread; readers get deep copies so nothing escapes the lock.
type Book struct {
	MarketID string
	Bids     []models.BookLevel // best (highest) first
	Asks     []models.BookLevel // best (lowest) first
	Sequence uint64
	Updated  time.Time
}

// BestBid returns the top bid level, false when the side is empty.
func (b *Book) BestBid() (models.BookLevel, bool) {
	if len(b.Bids) == 0 {
		return models.BookLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask level, false when the side is empty.
func (b *Book) BestAsk() (models.BookLevel, bool) {
	if len(b.Asks) == 0 {
		return models.BookLevel{}, false
	}
	return b.Asks[0], true
}

// Crossed reports whether best bid >= best ask while both sides are
// non-empty. A crossed book must never persist; the handler rejects
// snapshots that would produce one.
func (b *Book) Crossed() bool {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	return okB && okA && bid.Price >= ask.Price
}

// Copy returns a deep copy safe to hold outside the handler's lock.
func (b *Book) Copy() *Book {
	out := &Book{
		MarketID: b.MarketID,
		Bids:     make([]models.BookLevel, len(b.Bids)),
		Asks:     make([]models.BookLevel, len(b.Asks)),
		Sequence: b.Sequence,
		Updated:  b.Updated,
	}
	copy(out.Bids, b.Bids)
	copy(out.Asks, b.Asks)
	return out
}

// bookFromSnapshot rebuilds a book from a full snapshot, clearing any
// prior state. Levels are re-sorted defensively; venues promise ordering
// but the book invariant depends on it.
func bookFromSnapshot(snap models.BookSnapshot) *Book {
	b := &Book{
		MarketID: snap.MarketID,
		Bids:     append([]models.BookLevel(nil), snap.Bids...),
		Asks:     append([]models.BookLevel(nil), snap.Asks...),
		Sequence: snap.Sequence,
		Updated:  snap.Timestamp,
	}
	sort.Slice(b.Bids, func(i, j int) bool { return b.Bids[i].Price > b.Bids[j].Price })
	sort.Slice(b.Asks, func(i, j int) bool { return b.Asks[i].Price < b.Asks[j].Price })
	return b
}

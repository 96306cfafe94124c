// Package marketdata maintains the shared, concurrently-readable view of
// order books and top-of-book quotes. One dedicated thread ingests
// normalized messages; arbitrary threads read through the accessors.
package marketdata

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"arbflow/internal/hotpath"
	"arbflow/internal/mpsc"
	"arbflow/logger"
	"arbflow/models"
)

// BookCallback fires after a snapshot has been applied. TradeCallback
// fires per trade event; trades never mutate book or quote state. Both
// run on the ingestion thread and must return quickly.
type (
	BookCallback  func(book *Book)
	TradeCallback func(trade models.TradeEvent)
)

// Options configures the handler.
type Options struct {
	QueueSize int // ring size, power of two
	Core      int // CPU core for the ingestion thread, -1 to leave unpinned
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	QuoteUpdates    uint64
	BookSnapshots   uint64
	Trades          uint64
	CrossedRejected uint64
	MisroutedFills  uint64
	AvgProcessNs    int64 // exponentially smoothed, weight 7/8 old 1/8 new
	QueueLen        int
}

// Handler is the market data ingestion component.
type Handler struct {
	opts Options
	ring *mpsc.Ring[models.NormalizedMessage]
	log  *logger.Log

	mu     sync.RWMutex
	books  map[string]*Book
	quotes map[string]models.Quote

	onBook  BookCallback
	onTrade TradeCallback

	running atomic.Bool
	done    chan struct{}

	quoteUpdates    atomic.Uint64
	bookSnapshots   atomic.Uint64
	trades          atomic.Uint64
	crossedRejected atomic.Uint64
	misroutedFills  atomic.Uint64
	avgProcessNs    atomic.Int64
}

// NewHandler creates a stopped handler. QueueSize must be a power of
// two; the ring constructor enforces it.
func NewHandler(opts Options) *Handler {
	return &Handler{
		opts:   opts,
		ring:   mpsc.New[models.NormalizedMessage](opts.QueueSize),
		log:    logger.GetLogger(),
		books:  make(map[string]*Book),
		quotes: make(map[string]models.Quote),
	}
}

// OnBook registers the book callback. Set before Start.
func (h *Handler) OnBook(cb BookCallback) { h.onBook = cb }

// OnTrade registers the trade callback. Set before Start.
func (h *Handler) OnTrade(cb TradeCallback) { h.onTrade = cb }

// Publish offers a normalized message to the ingestion queue. Returns
// false when the queue is full; the producer decides whether to drop or
// retry. Safe to call from multiple feed goroutines.
func (h *Handler) Publish(msg models.NormalizedMessage) bool {
	return h.ring.TryPush(msg)
}

// Start launches the ingestion thread. Idempotent.
func (h *Handler) Start() error {
	if !h.running.CompareAndSwap(false, true) {
		return nil
	}
	h.done = make(chan struct{})
	go h.run()
	h.log.WithComponent("market_data").Info("market data handler started")
	return nil
}

// Stop clears the running flag and joins the ingestion thread. Messages
// still queued at this point are never drained. Idempotent.
func (h *Handler) Stop() {
	if !h.running.CompareAndSwap(true, false) {
		return
	}
	<-h.done
	h.log.WithComponent("market_data").Info("market data handler stopped")
}

func (h *Handler) run() {
	defer close(h.done)

	log := h.log.WithComponent("market_data")
	if h.opts.Core >= 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if res := hotpath.PinCurrentThread(h.opts.Core); !res.Applied {
			log.WithFields(logger.Fields{"core": h.opts.Core, "reason": res.Reason}).
				Warn("cpu pinning unavailable, running unpinned")
		}
	}

	for h.running.Load() {
		msg, ok := h.ring.TryPop()
		if !ok {
			runtime.Gosched()
			continue
		}
		start := hotpath.NowNanos()
		h.apply(msg)
		h.observeLatency(hotpath.NowNanos() - start)
	}
}

// observeLatency folds one sample into the smoothed per-message
// processing latency: avg = (avg*7 + latest) / 8.
func (h *Handler) observeLatency(ns int64) {
	old := h.avgProcessNs.Load()
	if old == 0 {
		h.avgProcessNs.Store(ns)
		return
	}
	h.avgProcessNs.Store((old*7 + ns) / 8)
}

func (h *Handler) apply(msg models.NormalizedMessage) {
	switch m := msg.(type) {
	case models.QuoteUpdate:
		h.applyQuote(m)
	case models.BookSnapshot:
		h.applySnapshot(m)
	case models.TradeEvent:
		h.trades.Add(1)
		if h.onTrade != nil {
			h.onTrade(m)
		}
	case models.OrderFill:
		// Fills belong on the execution engine's queue, not here.
		h.misroutedFills.Add(1)
		h.log.WithComponent("market_data").WithFields(logger.Fields{
			"order_id": m.OrderID,
		}).Warn("order fill on market data queue, dropping")
	}
}

func (h *Handler) applyQuote(m models.QuoteUpdate) {
	h.quoteUpdates.Add(1)
	q := models.Quote{
		MarketID:  m.MarketID,
		Venue:     m.Protocol,
		BidPrice:  m.BidPrice,
		BidSize:   m.BidSize,
		AskPrice:  m.AskPrice,
		AskSize:   m.AskSize,
		Timestamp: m.Timestamp,
	}
	h.mu.Lock()
	h.quotes[m.MarketID] = q // unconditional, last writer wins
	h.mu.Unlock()
}

func (h *Handler) applySnapshot(m models.BookSnapshot) {
	book := bookFromSnapshot(m)
	if book.Crossed() {
		h.crossedRejected.Add(1)
		h.log.WithComponent("market_data").WithFields(logger.Fields{
			"market_id": m.MarketID,
			"protocol":  string(m.Protocol),
			"sequence":  m.Sequence,
		}).Error("crossed book snapshot rejected")
		return
	}
	h.bookSnapshots.Add(1)

	quote, hasQuote := quoteFromBook(m.Protocol, book)

	h.mu.Lock()
	h.books[m.MarketID] = book
	if hasQuote {
		h.quotes[m.MarketID] = quote
	}
	h.mu.Unlock()

	if h.onBook != nil {
		h.onBook(book.Copy())
	}
}

func quoteFromBook(venue models.Protocol, book *Book) (models.Quote, bool) {
	bid, okB := book.BestBid()
	ask, okA := book.BestAsk()
	if !okB && !okA {
		return models.Quote{}, false
	}
	return models.Quote{
		MarketID:  book.MarketID,
		Venue:     venue,
		BidPrice:  bid.Price,
		BidSize:   bid.Size,
		AskPrice:  ask.Price,
		AskSize:   ask.Size,
		Timestamp: book.Updated,
	}, true
}

// GetQuote returns the current top-of-book for a market, false when the
// market has never been seen.
func (h *Handler) GetQuote(marketID string) (models.Quote, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	q, ok := h.quotes[marketID]
	return q, ok
}

// GetBook returns a deep copy of the current book for a market, false
// when the market has never been seen.
func (h *Handler) GetBook(marketID string) (*Book, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	book, ok := h.books[marketID]
	if !ok {
		return nil, false
	}
	return book.Copy(), true
}

// Markets lists every market id seen on either the quote or book path,
// sorted for deterministic output.
func (h *Handler) Markets() []string {
	h.mu.RLock()
	seen := make(map[string]struct{}, len(h.quotes)+len(h.books))
	for id := range h.quotes {
		seen[id] = struct{}{}
	}
	for id := range h.books {
		seen[id] = struct{}{}
	}
	h.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Stats returns the counter snapshot.
func (h *Handler) Stats() Stats {
	return Stats{
		QuoteUpdates:    h.quoteUpdates.Load(),
		BookSnapshots:   h.bookSnapshots.Load(),
		Trades:          h.trades.Load(),
		CrossedRejected: h.crossedRejected.Load(),
		MisroutedFills:  h.misroutedFills.Load(),
		AvgProcessNs:    h.avgProcessNs.Load(),
		QueueLen:        h.ring.Len(),
	}
}

// String implements fmt.Stringer for log-friendly stats output.
func (s Stats) String() string {
	return fmt.Sprintf("quotes=%d books=%d trades=%d crossed=%d avg_ns=%d queue=%d",
		s.QuoteUpdates, s.BookSnapshots, s.Trades, s.CrossedRejected, s.AvgProcessNs, s.QueueLen)
}

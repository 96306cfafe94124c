// Package arb scans venue quote feeds for cross-venue spreads and
// maintains the live opportunity set.
package arb

import (
	"math"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"arbflow/internal/hotpath"
	"arbflow/logger"
	"arbflow/models"
)

// QuoteSource is one venue feed's view of the market: in practice a
// market data handler. The detector polls one source per venue so
// identical market ids on different venues never collide.
type QuoteSource interface {
	GetQuote(marketID string) (models.Quote, bool)
	Markets() []string
}

// OpportunityCallback fires synchronously on every upsert into the live
// set. It runs on the detector thread and must not block.
type OpportunityCallback func(models.Opportunity)

// Options configures the detector. Core below 0 leaves the scan thread
// unpinned.
type Options struct {
	ScanInterval time.Duration
	MaxQuoteAge  time.Duration
	MinSpreadBps float64
	MinProfit    float64
	FeesBps      map[models.Protocol]float64
	Markets      []string // allow-list; empty means every known market
	Core         int
}

// Stats is a counter snapshot for diagnostics.
type Stats struct {
	Scans             uint64
	Found             uint64
	TheoreticalProfit float64
	Live              int
}

// Detector computes pairwise venue spreads on a fixed interval.
// Start and Stop are idempotent.
type Detector struct {
	opts    Options
	sources []QuoteSource
	log     *logger.Log

	mu   sync.Mutex
	live map[models.OpportunityKey]models.Opportunity

	onOpportunity OpportunityCallback

	running atomic.Bool
	stop    chan struct{}
	done    chan struct{}

	scans             atomic.Uint64
	found             atomic.Uint64
	theoreticalProfit float64 // guarded by mu
}

// NewDetector builds a detector over one quote source per venue feed.
func NewDetector(opts Options, sources ...QuoteSource) *Detector {
	return &Detector{
		opts:    opts,
		sources: sources,
		log:     logger.GetLogger(),
		live:    make(map[models.OpportunityKey]models.Opportunity),
	}
}

// OnOpportunity registers the upsert callback. Set before Start.
func (d *Detector) OnOpportunity(cb OpportunityCallback) { d.onOpportunity = cb }

// Start launches the scan thread. Calling Start on a running detector is
// a no-op.
func (d *Detector) Start() error {
	if !d.running.CompareAndSwap(false, true) {
		return nil
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.run()
	d.log.WithComponent("arb_detector").WithFields(logger.Fields{
		"scan_interval": d.opts.ScanInterval.String(),
		"markets":       len(d.opts.Markets),
	}).Info("arbitrage detector started")
	return nil
}

// Stop joins the scan thread. Calling Stop on an idle detector is a
// no-op.
func (d *Detector) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	close(d.stop)
	<-d.done
	d.log.WithComponent("arb_detector").Info("arbitrage detector stopped")
}

func (d *Detector) run() {
	defer close(d.done)

	if d.opts.Core >= 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		hotpath.PinCurrentThread(d.opts.Core)
	}

	ticker := time.NewTicker(d.opts.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.scan()
		}
	}
}

func (d *Detector) scan() {
	d.scans.Add(1)
	for _, market := range d.trackedMarkets() {
		d.CheckMarket(market)
	}
	d.purge(time.Now())
}

func (d *Detector) trackedMarkets() []string {
	if len(d.opts.Markets) > 0 {
		return d.opts.Markets
	}
	seen := make(map[string]struct{})
	for _, src := range d.sources {
		for _, id := range src.Markets() {
			seen[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CheckMarket evaluates every venue pair for one market, upserts the
// survivors into the live set and returns them.
func (d *Detector) CheckMarket(marketID string) []models.Opportunity {
	quotes := make([]models.Quote, 0, len(d.sources))
	for _, src := range d.sources {
		if q, ok := src.GetQuote(marketID); ok {
			quotes = append(quotes, q)
		}
	}
	if len(quotes) < 2 {
		return nil
	}

	now := time.Now()
	var out []models.Opportunity
	for i := 0; i < len(quotes); i++ {
		for j := i + 1; j < len(quotes); j++ {
			if quotes[i].Venue == quotes[j].Venue {
				continue
			}
			// Evaluate both directions; at most one has positive spread.
			if opp, ok := d.evaluate(marketID, quotes[i], quotes[j], now); ok {
				d.upsert(opp)
				out = append(out, opp)
			}
			if opp, ok := d.evaluate(marketID, quotes[j], quotes[i], now); ok {
				d.upsert(opp)
				out = append(out, opp)
			}
		}
	}
	return out
}

// evaluate prices the buy-on-buyQ / sell-on-sellQ direction. The
// opportunity survives only with positive spread above the bps floor and
// profit after fees above the absolute floor.
func (d *Detector) evaluate(marketID string, buyQ, sellQ models.Quote, now time.Time) (models.Opportunity, bool) {
	if buyQ.AskPrice <= 0 || buyQ.AskSize <= 0 || sellQ.BidPrice <= 0 || sellQ.BidSize <= 0 {
		return models.Opportunity{}, false
	}

	spread := sellQ.BidPrice - buyQ.AskPrice
	if spread <= 0 {
		return models.Opportunity{}, false
	}

	mid := (sellQ.BidPrice + buyQ.AskPrice) / 2
	spreadBps := spread / mid * 10000
	if spreadBps < d.opts.MinSpreadBps {
		return models.Opportunity{}, false
	}

	maxSize := math.Min(buyQ.AskSize, sellQ.BidSize)
	expected := spread * maxSize
	buyFee := d.opts.FeesBps[buyQ.Venue] / 10000 * buyQ.AskPrice * maxSize
	sellFee := d.opts.FeesBps[sellQ.Venue] / 10000 * sellQ.BidPrice * maxSize
	profit := expected - buyFee - sellFee
	if profit < d.opts.MinProfit {
		return models.Opportunity{}, false
	}

	age := buyQ.Age(now)
	if a := sellQ.Age(now); a > age {
		age = a
	}
	confidence := 1 - float64(age)/float64(d.opts.MaxQuoteAge)
	if confidence < 0 {
		confidence = 0
	}

	return models.Opportunity{
		MarketID:        marketID,
		BuyVenue:        buyQ.Venue,
		SellVenue:       sellQ.Venue,
		BuyPrice:        buyQ.AskPrice,
		SellPrice:       sellQ.BidPrice,
		MaxSize:         maxSize,
		Spread:          spread,
		SpreadBps:       spreadBps,
		ExpectedProfit:  expected,
		ProfitAfterFees: profit,
		Confidence:      confidence,
		Stale:           age > d.opts.MaxQuoteAge,
		DetectedAt:      now,
		QuoteAge:        age,
	}, true
}

func (d *Detector) upsert(opp models.Opportunity) {
	d.mu.Lock()
	if _, exists := d.live[opp.Key()]; !exists {
		d.found.Add(1)
		d.theoreticalProfit += opp.ProfitAfterFees
	}
	d.live[opp.Key()] = opp
	d.mu.Unlock()

	if d.onOpportunity != nil {
		d.onOpportunity(opp)
	}
}

// purge drops live entries that have not been refreshed within ten
// staleness windows.
func (d *Detector) purge(now time.Time) {
	cutoff := 10 * d.opts.MaxQuoteAge
	d.mu.Lock()
	for key, opp := range d.live {
		if now.Sub(opp.DetectedAt) > cutoff {
			delete(d.live, key)
		}
	}
	d.mu.Unlock()
}

// Opportunities snapshots the live set, most profitable first.
func (d *Detector) Opportunities() []models.Opportunity {
	d.mu.Lock()
	out := make([]models.Opportunity, 0, len(d.live))
	for _, opp := range d.live {
		out = append(out, opp)
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ProfitAfterFees > out[j].ProfitAfterFees
	})
	return out
}

// BestOpportunity returns the single highest profit-after-fees entry.
func (d *Detector) BestOpportunity() (models.Opportunity, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var best models.Opportunity
	found := false
	for _, opp := range d.live {
		if !found || opp.ProfitAfterFees > best.ProfitAfterFees {
			best = opp
			found = true
		}
	}
	return best, found
}

// Stats returns the counter snapshot.
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	live := len(d.live)
	profit := d.theoreticalProfit
	d.mu.Unlock()
	return Stats{
		Scans:             d.scans.Load(),
		Found:             d.found.Load(),
		TheoreticalProfit: profit,
		Live:              live,
	}
}

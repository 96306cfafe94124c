// Package engine owns the order lifecycle: risk gating, venue
// submission, execution report application and position tracking.
package engine

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sugawarayuuta/sonnet"

	"arbflow/config"
	"arbflow/internal/hotpath"
	"arbflow/internal/mpsc"
	"arbflow/logger"
	"arbflow/models"
)

// OrderTransport delivers a serialized order to a venue. The engine
// treats any error as fatal for that order.
type OrderTransport interface {
	Send(protocol models.Protocol, payload []byte) error
}

// OrderCallback fires on every state change of one order. It receives a
// snapshot copy and runs on an engine thread, so it must not block.
type OrderCallback func(models.Order)

// Options configures the engine. Cores of -1 leave threads unpinned;
// RealtimePriority of 0 keeps the default scheduler class.
type Options struct {
	OrderQueueSize   int
	ReportQueueSize  int
	OrderCore        int
	ReportCore       int
	RealtimePriority int
	Risk             config.RiskConfig
}

// Stats is a counter snapshot for diagnostics.
type Stats struct {
	Submitted          uint64
	RiskRejected       uint64
	SendErrors         uint64
	Fills              uint64
	Volume             float64
	ReportsDropped     uint64
	InvalidTransitions uint64
	OpenOrders         int
}

// Engine runs two consumer threads over lock-free rings: one draining
// order submissions toward venues, one draining execution reports back
// into order state.
type Engine struct {
	opts      Options
	transport OrderTransport
	risk      *RiskChecker
	positions *PositionBook
	log       *logger.Log

	orderRing  *mpsc.Ring[*models.Order]
	reportRing *mpsc.Ring[models.ExecutionReport]

	dispatchLatency *hotpath.LatencyStats

	mu       sync.Mutex
	orders   map[uint64]*models.Order
	byClient map[string]uint64
	volume   float64

	cbMu      sync.Mutex
	callbacks map[uint64]OrderCallback

	nextID  atomic.Uint64
	running atomic.Bool
	stop    chan struct{}
	done    sync.WaitGroup

	submitted          atomic.Uint64
	riskRejected       atomic.Uint64
	sendErrors         atomic.Uint64
	fills              atomic.Uint64
	reportsDropped     atomic.Uint64
	invalidTransitions atomic.Uint64
}

// wireOrder is the payload shape sent to venues.
type wireOrder struct {
	ClientID string  `json:"client_id"`
	MarketID string  `json:"market_id"`
	Side     string  `json:"side"`
	Type     string  `json:"type"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// NewEngine builds an engine over the given transport.
func NewEngine(opts Options, transport OrderTransport) *Engine {
	if opts.OrderQueueSize <= 0 {
		opts.OrderQueueSize = 4096
	}
	if opts.ReportQueueSize <= 0 {
		opts.ReportQueueSize = 4096
	}
	positions := NewPositionBook()
	return &Engine{
		opts:            opts,
		transport:       transport,
		risk:            NewRiskChecker(opts.Risk, positions),
		positions:       positions,
		log:             logger.GetLogger(),
		orderRing:       mpsc.New[*models.Order](opts.OrderQueueSize),
		reportRing:      mpsc.New[models.ExecutionReport](opts.ReportQueueSize),
		dispatchLatency: hotpath.NewLatencyStats(8192),
		orders:          make(map[uint64]*models.Order),
		byClient:        make(map[string]uint64),
		callbacks:       make(map[uint64]OrderCallback),
	}
}

// Risk exposes the checker so orchestration can feed realized PnL.
func (e *Engine) Risk() *RiskChecker { return e.risk }

// Start launches the order and report threads. Idempotent.
func (e *Engine) Start() error {
	if !e.running.CompareAndSwap(false, true) {
		return nil
	}
	e.stop = make(chan struct{})
	e.done.Add(2)
	go e.runOrders()
	go e.runReports()
	e.log.WithComponent("execution_engine").WithFields(logger.Fields{
		"order_queue":  e.opts.OrderQueueSize,
		"report_queue": e.opts.ReportQueueSize,
	}).Info("execution engine started")
	return nil
}

// Stop joins both threads. Queued items are drained before exit.
// Idempotent.
func (e *Engine) Stop() {
	if !e.running.CompareAndSwap(true, false) {
		return
	}
	close(e.stop)
	e.done.Wait()
	e.log.WithComponent("execution_engine").Info("execution engine stopped")
}

// SubmitOrder gates the request through risk checks and hands it to the
// order thread. The returned id is valid whenever err is nil; the
// callback sees every subsequent state change.
func (e *Engine) SubmitOrder(req models.OrderRequest, cb OrderCallback) (uint64, error) {
	now := time.Now()
	if err := e.risk.Check(req, now); err != nil {
		e.riskRejected.Add(1)
		e.log.WithComponent("execution_engine").WithFields(logger.Fields{
			"market": req.MarketID,
			"venue":  string(req.Venue),
			"reason": err.Error(),
		}).Warn("order rejected by risk check")
		if cb != nil {
			// Rejected orders are never stored or queued; the caller
			// still sees the terminal snapshot.
			e.invoke(cb, models.Order{
				MarketID: req.MarketID,
				Venue:    req.Venue,
				Side:     req.Side,
				Type:     req.Type,
				Price:    req.Price,
				Quantity: req.Quantity,
				Status:   models.OrderRejected,
				ErrorMsg: err.Error(),
				Created:  now,
				Updated:  now,
			})
		}
		return 0, err
	}

	order := &models.Order{
		ID:       e.nextID.Add(1),
		ClientID: uuid.NewString(),
		MarketID: req.MarketID,
		Venue:    req.Venue,
		Side:     req.Side,
		Type:     req.Type,
		Status:   models.OrderPending,
		Price:    req.Price,
		Quantity: req.Quantity,
		Created:  now,
		Updated:  now,
	}

	e.mu.Lock()
	e.orders[order.ID] = order
	e.byClient[order.ClientID] = order.ID
	e.mu.Unlock()

	if cb != nil {
		e.cbMu.Lock()
		e.callbacks[order.ID] = cb
		e.cbMu.Unlock()
	}

	if !e.orderRing.TryPush(order) {
		e.failOrder(order.ID, "order queue full")
		return order.ID, fmt.Errorf("order queue full")
	}
	e.submitted.Add(1)
	return order.ID, nil
}

// CancelOrder marks a non-terminal order cancelled. The cancel is local
// only; no message is sent to the venue.
func (e *Engine) CancelOrder(id uint64) error {
	e.mu.Lock()
	order, ok := e.orders[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("order %d not found", id)
	}
	if order.Status.Terminal() {
		status := order.Status
		e.mu.Unlock()
		return fmt.Errorf("order %d already %s", id, status)
	}
	order.Status = models.OrderCancelled
	order.Updated = time.Now()
	snapshot := *order
	e.mu.Unlock()

	e.notify(snapshot)
	return nil
}

// HandleReport enqueues an execution report for the report thread. A
// false return means the report ring was full and the report was
// dropped.
func (e *Engine) HandleReport(rep models.ExecutionReport) bool {
	if e.reportRing.TryPush(rep) {
		return true
	}
	e.reportsDropped.Add(1)
	return false
}

// HandleFill translates a venue fill into an execution report and
// enqueues it. Fills name orders by the client id that went out on the
// wire; unknown ids are dropped.
func (e *Engine) HandleFill(fill models.OrderFill) bool {
	e.mu.Lock()
	id, ok := e.byClient[fill.OrderID]
	var quantity float64
	if ok {
		quantity = e.orders[id].Quantity
	}
	e.mu.Unlock()
	if !ok {
		e.reportsDropped.Add(1)
		e.log.WithComponent("execution_engine").WithFields(logger.Fields{
			"client_id": fill.OrderID,
			"market":    fill.MarketID,
		}).Warn("fill for unknown client id dropped")
		return false
	}

	status := models.OrderPartiallyFilled
	cumulative := quantity - fill.Remaining
	if fill.Complete {
		status = models.OrderFilled
		cumulative = quantity
	}
	return e.HandleReport(models.ExecutionReport{
		OrderID:   id,
		Status:    status,
		Price:     fill.Price,
		FilledQty: cumulative,
		Remaining: fill.Remaining,
		Timestamp: fill.Timestamp,
	})
}

// GetOrder returns a snapshot copy of one order.
func (e *Engine) GetOrder(id uint64) (models.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	order, ok := e.orders[id]
	if !ok {
		return models.Order{}, false
	}
	return *order, true
}

// Position returns the signed net position for one market.
func (e *Engine) Position(marketID string) float64 {
	return e.positions.Get(marketID)
}

// Positions returns a copy of every non-flat position.
func (e *Engine) Positions() map[string]float64 {
	return e.positions.All()
}

// Stats returns the counter snapshot.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	open := 0
	for _, order := range e.orders {
		if !order.Status.Terminal() {
			open++
		}
	}
	volume := e.volume
	e.mu.Unlock()
	return Stats{
		Submitted:          e.submitted.Load(),
		RiskRejected:       e.riskRejected.Load(),
		SendErrors:         e.sendErrors.Load(),
		Fills:              e.fills.Load(),
		Volume:             volume,
		ReportsDropped:     e.reportsDropped.Load(),
		InvalidTransitions: e.invalidTransitions.Load(),
		OpenOrders:         open,
	}
}

func (e *Engine) runOrders() {
	defer e.done.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if e.opts.OrderCore >= 0 {
		hotpath.PinCurrentThread(e.opts.OrderCore)
	}
	e.requestRealtime("order")

	for {
		order, ok := e.orderRing.TryPop()
		if !ok {
			select {
			case <-e.stop:
				if e.orderRing.Empty() {
					return
				}
			default:
			}
			runtime.Gosched()
			continue
		}
		start := hotpath.NowNanos()
		e.dispatch(order)
		e.dispatchLatency.Record(hotpath.NowNanos() - start)
	}
}

// requestRealtime asks for SCHED_FIFO when configured. Refusal is a
// degraded mode, not an error; unprivileged runs hit it every time.
func (e *Engine) requestRealtime(thread string) {
	if e.opts.RealtimePriority <= 0 {
		return
	}
	if res := hotpath.RequestRealtimePriority(e.opts.RealtimePriority); !res.Applied {
		e.log.WithComponent("execution_engine").WithFields(logger.Fields{
			"thread": thread,
			"reason": res.Reason,
		}).Warn("realtime priority not applied")
	}
}

// DispatchLatency snapshots and clears the accumulated order dispatch
// timings. Clearing on read keeps sample memory bounded between
// reporting intervals.
func (e *Engine) DispatchLatency() hotpath.Summary {
	summary := e.dispatchLatency.Snapshot()
	e.dispatchLatency.Reset()
	return summary
}

// dispatch serializes one order and pushes it to its venue.
func (e *Engine) dispatch(order *models.Order) {
	e.mu.Lock()
	if order.Status != models.OrderPending {
		// Cancelled before it reached the wire.
		e.mu.Unlock()
		return
	}
	payload, err := sonnet.Marshal(wireOrder{
		ClientID: order.ClientID,
		MarketID: order.MarketID,
		Side:     string(order.Side),
		Type:     string(order.Type),
		Price:    order.Price,
		Quantity: order.Quantity,
	})
	if err != nil {
		order.Status = models.OrderError
		order.ErrorMsg = fmt.Sprintf("serialize: %v", err)
		order.Updated = time.Now()
		snapshot := *order
		e.mu.Unlock()
		e.sendErrors.Add(1)
		e.notify(snapshot)
		return
	}
	venue := order.Venue
	id := order.ID
	e.mu.Unlock()

	if err := e.transport.Send(venue, payload); err != nil {
		e.sendErrors.Add(1)
		e.log.WithComponent("execution_engine").WithError(err).WithFields(logger.Fields{
			"order_id": id,
			"venue":    string(venue),
		}).Error("order send failed")
		e.failOrder(id, err.Error())
		return
	}

	e.mu.Lock()
	now := time.Now()
	order.Status = models.OrderSubmitted
	order.Submitted = now
	order.Updated = now
	snapshot := *order
	e.mu.Unlock()
	e.notify(snapshot)
}

func (e *Engine) runReports() {
	defer e.done.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if e.opts.ReportCore >= 0 {
		hotpath.PinCurrentThread(e.opts.ReportCore)
	}
	e.requestRealtime("report")

	for {
		rep, ok := e.reportRing.TryPop()
		if !ok {
			select {
			case <-e.stop:
				if e.reportRing.Empty() {
					return
				}
			default:
			}
			runtime.Gosched()
			continue
		}
		e.apply(rep)
	}
}

// apply folds one execution report into order state. FilledQty on the
// report is cumulative; positions move by the delta.
func (e *Engine) apply(rep models.ExecutionReport) {
	e.mu.Lock()
	order, ok := e.orders[rep.OrderID]
	if !ok {
		e.mu.Unlock()
		e.reportsDropped.Add(1)
		e.log.WithComponent("execution_engine").WithFields(logger.Fields{
			"order_id": rep.OrderID,
		}).Warn("report for unknown order dropped")
		return
	}
	// Terminal orders accept nothing, including re-sent copies of the
	// terminal report itself. Counting the same fill twice would corrupt
	// positions and the fill counter.
	if order.Status.Terminal() || (rep.Status != order.Status && !order.Status.CanTransition(rep.Status)) {
		e.mu.Unlock()
		e.invalidTransitions.Add(1)
		e.log.WithComponent("execution_engine").WithFields(logger.Fields{
			"order_id": rep.OrderID,
			"from":     string(order.Status),
			"to":       string(rep.Status),
		}).Warn("invalid status transition dropped")
		return
	}

	delta := rep.FilledQty - order.FilledQty
	if delta > 0 {
		if rep.Price > 0 {
			// Volume-weighted average over all fills.
			order.AvgFillPrice = (order.AvgFillPrice*order.FilledQty + rep.Price*delta) / rep.FilledQty
		}
		order.FilledQty = rep.FilledQty
		e.volume += delta
	}
	order.Status = rep.Status
	if rep.Reason != "" && (rep.Status == models.OrderRejected || rep.Status == models.OrderError) {
		order.ErrorMsg = rep.Reason
	}
	if !rep.Timestamp.IsZero() {
		order.Updated = rep.Timestamp
	} else {
		order.Updated = time.Now()
	}
	snapshot := *order
	e.mu.Unlock()

	if delta > 0 {
		e.positions.Apply(snapshot.MarketID, snapshot.Side.Sign()*delta)
	}
	if rep.Status == models.OrderFilled {
		e.fills.Add(1)
	}
	e.notify(snapshot)
}

// failOrder transitions an order to the error state with a message.
func (e *Engine) failOrder(id uint64, msg string) {
	e.mu.Lock()
	order, ok := e.orders[id]
	if !ok || order.Status.Terminal() {
		e.mu.Unlock()
		return
	}
	order.Status = models.OrderError
	order.ErrorMsg = msg
	order.Updated = time.Now()
	snapshot := *order
	e.mu.Unlock()
	e.notify(snapshot)
}

// notify invokes the order's callback with a snapshot, dropping the
// registration once the order is terminal. Callback panics are contained.
func (e *Engine) notify(snapshot models.Order) {
	e.cbMu.Lock()
	cb, ok := e.callbacks[snapshot.ID]
	if ok && snapshot.Status.Terminal() {
		delete(e.callbacks, snapshot.ID)
	}
	e.cbMu.Unlock()
	if !ok {
		return
	}
	e.invoke(cb, snapshot)
}

// invoke runs one callback with panic containment.
func (e *Engine) invoke(cb OrderCallback, snapshot models.Order) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithComponent("execution_engine").WithFields(logger.Fields{
				"order_id": snapshot.ID,
				"panic":    fmt.Sprint(r),
			}).Error("order callback panicked")
		}
	}()
	cb(snapshot)
}

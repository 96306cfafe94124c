package engine

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"arbflow/config"
	"arbflow/internal/venue"
	"arbflow/models"
)

// fakeTransport records sent payloads and can be told to fail.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []wireOrder
	failAll bool
}

func (f *fakeTransport) Send(protocol models.Protocol, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return fmt.Errorf("venue %s unreachable", protocol)
	}
	var w wireOrder
	if err := sonnet.Unmarshal(payload, &w); err != nil {
		return err
	}
	f.sent = append(f.sent, w)
	return nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) last() wireOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timeout: %s", msg)
		case <-time.After(time.Millisecond):
		}
	}
}

func permissiveRisk() config.RiskConfig {
	return config.RiskConfig{
		MaxOrderSize:         1000,
		MaxPositionPerMarket: 10000,
		MaxTotalPosition:     100000,
		MaxOrdersPerSecond:   100000,
	}
}

func newTestEngine(t *testing.T, transport OrderTransport, risk config.RiskConfig) *Engine {
	t.Helper()
	e := NewEngine(Options{
		OrderQueueSize:  256,
		ReportQueueSize: 256,
		OrderCore:       -1,
		ReportCore:      -1,
		Risk:            risk,
	}, transport)
	if err := e.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(e.Stop)
	return e
}

func limitBuy(market string, qty float64) models.OrderRequest {
	return models.OrderRequest{
		MarketID: market,
		Venue:    models.ProtocolPolyStream,
		Side:     models.SideBuy,
		Type:     models.OrderTypeLimit,
		Price:    0.51,
		Quantity: qty,
	}
}

func TestRiskRejectionIsDeterministic(t *testing.T) {
	risk := config.RiskConfig{
		MaxOrderSize:         100,
		MaxPositionPerMarket: 10000,
		MaxTotalPosition:     100000,
		MaxOrdersPerSecond:   100000,
	}
	sizes := []float64{50, 150, 100, 100.001, 1, 0}

	run := func() []bool {
		checker := NewRiskChecker(risk, NewPositionBook())
		out := make([]bool, len(sizes))
		for i, size := range sizes {
			out[i] = checker.Check(limitBuy("M", size), time.Now()) == nil
		}
		return out
	}

	first := run()
	second := run()
	want := []bool{true, false, true, false, true, false}
	for i := range sizes {
		if first[i] != want[i] || second[i] != want[i] {
			t.Fatalf("size %v: run1=%v run2=%v want=%v", sizes[i], first[i], second[i], want[i])
		}
	}
}

func TestRiskRejectionInvokesCallbackSynchronously(t *testing.T) {
	e := NewEngine(Options{OrderCore: -1, ReportCore: -1, Risk: config.RiskConfig{MaxOrderSize: 1}}, &fakeTransport{})

	var rejected []models.Order
	id, err := e.SubmitOrder(limitBuy("M", 50), func(o models.Order) {
		rejected = append(rejected, o)
	})
	if err == nil || id != 0 {
		t.Fatalf("oversize order accepted: id=%d err=%v", id, err)
	}
	if len(rejected) != 1 || rejected[0].Status != models.OrderRejected {
		t.Fatalf("callback = %+v, want one rejected snapshot", rejected)
	}
	if !strings.Contains(rejected[0].ErrorMsg, "max order size") {
		t.Fatalf("reason = %q", rejected[0].ErrorMsg)
	}
	if e.Stats().RiskRejected != 1 || e.Stats().Submitted != 0 {
		t.Fatalf("stats = %+v", e.Stats())
	}
}

func TestRiskLimits(t *testing.T) {
	now := time.Now()

	t.Run("order size", func(t *testing.T) {
		checker := NewRiskChecker(config.RiskConfig{MaxOrderSize: 100}, NewPositionBook())
		if err := checker.Check(limitBuy("M", 200), now); err == nil || !strings.Contains(err.Error(), "max order size") {
			t.Fatalf("got %v", err)
		}
	})

	t.Run("position per market", func(t *testing.T) {
		positions := NewPositionBook()
		positions.Apply("M", 100)
		checker := NewRiskChecker(config.RiskConfig{MaxPositionPerMarket: 150}, positions)
		if err := checker.Check(limitBuy("M", 60), now); err == nil || !strings.Contains(err.Error(), "max position per market") {
			t.Fatalf("got %v", err)
		}
		// A sell shrinks the long position and passes.
		sell := limitBuy("M", 60)
		sell.Side = models.SideSell
		if err := checker.Check(sell, now); err != nil {
			t.Fatalf("reducing sell rejected: %v", err)
		}
	})

	t.Run("total position", func(t *testing.T) {
		positions := NewPositionBook()
		positions.Apply("A", 100)
		positions.Apply("B", -120)
		checker := NewRiskChecker(config.RiskConfig{MaxTotalPosition: 250}, positions)
		if err := checker.Check(limitBuy("C", 90), now); err == nil || !strings.Contains(err.Error(), "max total position") {
			t.Fatalf("got %v", err)
		}
		if err := checker.Check(limitBuy("C", 20), now); err != nil {
			t.Fatalf("within total limit rejected: %v", err)
		}
	})

	t.Run("orders per second", func(t *testing.T) {
		checker := NewRiskChecker(config.RiskConfig{MaxOrdersPerSecond: 2}, NewPositionBook())
		if err := checker.Check(limitBuy("M", 10), now); err != nil {
			t.Fatalf("first in window: %v", err)
		}
		if err := checker.Check(limitBuy("M", 10), now); err != nil {
			t.Fatalf("second in window: %v", err)
		}
		if err := checker.Check(limitBuy("M", 10), now); err == nil || !strings.Contains(err.Error(), "max orders per second") {
			t.Fatalf("third in window: %v", err)
		}
		if err := checker.Check(limitBuy("M", 10), now.Add(1100*time.Millisecond)); err != nil {
			t.Fatalf("after window: %v", err)
		}
	})

	t.Run("daily loss", func(t *testing.T) {
		checker := NewRiskChecker(config.RiskConfig{MaxDailyLoss: 50}, NewPositionBook())
		checker.RecordPnL(-60)
		if err := checker.Check(limitBuy("M", 10), now); err == nil || !strings.Contains(err.Error(), "max daily loss") {
			t.Fatalf("got %v", err)
		}
	})
}

func TestUnaddressedVenueBecomesError(t *testing.T) {
	// Empty pool: every protocol is unaddressed.
	e := newTestEngine(t, NewPoolTransport(venue.NewPool(4)), permissiveRisk())

	id, err := e.SubmitOrder(limitBuy("M", 10), nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool {
		order, ok := e.GetOrder(id)
		return ok && order.Status == models.OrderError
	}, "order never errored")

	order, _ := e.GetOrder(id)
	if !strings.Contains(order.ErrorMsg, "no connected venue") {
		t.Fatalf("error msg = %q", order.ErrorMsg)
	}
	if e.Stats().SendErrors != 1 {
		t.Fatalf("send errors = %d", e.Stats().SendErrors)
	}
}

func TestTerminalStatusIsMonotonic(t *testing.T) {
	transport := &fakeTransport{}
	e := newTestEngine(t, transport, permissiveRisk())

	id, err := e.SubmitOrder(limitBuy("M", 10), nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool {
		order, _ := e.GetOrder(id)
		return order.Status == models.OrderSubmitted
	}, "order never submitted")

	e.HandleReport(models.ExecutionReport{OrderID: id, Status: models.OrderFilled, Price: 0.51, FilledQty: 10})
	waitFor(t, func() bool {
		order, _ := e.GetOrder(id)
		return order.Status == models.OrderFilled
	}, "order never filled")

	// Reports that leave a terminal state are dropped.
	e.HandleReport(models.ExecutionReport{OrderID: id, Status: models.OrderCancelled})
	e.HandleReport(models.ExecutionReport{OrderID: id, Status: models.OrderAcknowledged})
	waitFor(t, func() bool { return e.Stats().InvalidTransitions == 2 }, "invalid transitions not counted")

	order, _ := e.GetOrder(id)
	if order.Status != models.OrderFilled {
		t.Fatalf("terminal state left: %s", order.Status)
	}

	// Backwards transitions on a live order are dropped too.
	id2, _ := e.SubmitOrder(limitBuy("M", 5), nil)
	waitFor(t, func() bool {
		order, _ := e.GetOrder(id2)
		return order.Status == models.OrderSubmitted
	}, "second order never submitted")
	e.HandleReport(models.ExecutionReport{OrderID: id2, Status: models.OrderAcknowledged})
	waitFor(t, func() bool {
		order, _ := e.GetOrder(id2)
		return order.Status == models.OrderAcknowledged
	}, "ack not applied")
	e.HandleReport(models.ExecutionReport{OrderID: id2, Status: models.OrderSubmitted})
	waitFor(t, func() bool { return e.Stats().InvalidTransitions == 3 }, "backwards transition not counted")
}

func TestDuplicateFillReportCountedOnce(t *testing.T) {
	transport := &fakeTransport{}
	e := newTestEngine(t, transport, permissiveRisk())

	id, err := e.SubmitOrder(limitBuy("M", 10), nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool { return transport.count() == 1 }, "order never sent")

	fill := models.ExecutionReport{OrderID: id, Status: models.OrderFilled, Price: 0.51, FilledQty: 10}
	e.HandleReport(fill)
	waitFor(t, func() bool {
		order, _ := e.GetOrder(id)
		return order.Status == models.OrderFilled
	}, "fill not applied")

	// A venue re-sending the terminal report must not double-count the
	// fill or move the position again.
	e.HandleReport(fill)
	waitFor(t, func() bool { return e.Stats().InvalidTransitions == 1 }, "duplicate report not dropped")

	stats := e.Stats()
	if stats.Fills != 1 || stats.Volume != 10 {
		t.Fatalf("stats after duplicate = %+v", stats)
	}
	if pos := e.Position("M"); pos != 10 {
		t.Fatalf("position = %v, want +10", pos)
	}
}

func TestDispatchLatencyTracked(t *testing.T) {
	transport := &fakeTransport{}
	e := newTestEngine(t, transport, permissiveRisk())

	if _, err := e.SubmitOrder(limitBuy("M", 10), nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool { return transport.count() == 1 }, "order never sent")
	waitFor(t, func() bool { return e.dispatchLatency.Count() > 0 }, "dispatch not timed")

	sum := e.DispatchLatency()
	if sum.Count == 0 || sum.MaxNs <= 0 {
		t.Fatalf("summary = %+v", sum)
	}
	// Reading drains the accumulated samples.
	if again := e.DispatchLatency(); again.Count != 0 {
		t.Fatalf("summary after drain = %+v", again)
	}
}

func TestEndToEndLimitBuyFill(t *testing.T) {
	transport := &fakeTransport{}
	e := newTestEngine(t, transport, permissiveRisk())

	var (
		mu       sync.Mutex
		statuses []models.OrderStatus
	)
	id, err := e.SubmitOrder(limitBuy("TEST", 10), func(o models.Order) {
		mu.Lock()
		statuses = append(statuses, o.Status)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitFor(t, func() bool { return transport.count() == 1 }, "order never reached transport")
	wire := transport.last()
	if wire.MarketID != "TEST" || wire.Side != "buy" || wire.Type != "limit" ||
		wire.Price != 0.51 || wire.Quantity != 10 || wire.ClientID == "" {
		t.Fatalf("wire order = %+v", wire)
	}

	e.HandleReport(models.ExecutionReport{OrderID: id, Status: models.OrderAcknowledged})
	e.HandleReport(models.ExecutionReport{OrderID: id, Status: models.OrderPartiallyFilled, Price: 0.51, FilledQty: 4, Remaining: 6})
	e.HandleReport(models.ExecutionReport{OrderID: id, Status: models.OrderFilled, Price: 0.51, FilledQty: 10})

	waitFor(t, func() bool {
		order, _ := e.GetOrder(id)
		return order.Status == models.OrderFilled
	}, "fill not applied")

	order, _ := e.GetOrder(id)
	if order.FilledQty != 10 || order.AvgFillPrice != 0.51 {
		t.Fatalf("order = %+v", order)
	}
	if pos := e.Position("TEST"); pos != 10 {
		t.Fatalf("position = %v, want +10", pos)
	}

	stats := e.Stats()
	if stats.Fills != 1 || stats.Volume != 10 || stats.OpenOrders != 0 {
		t.Fatalf("stats = %+v", stats)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(statuses) == 0 || statuses[len(statuses)-1] != models.OrderFilled {
		t.Fatalf("callback statuses = %v", statuses)
	}
}

func TestSellFillMovesPositionNegative(t *testing.T) {
	transport := &fakeTransport{}
	e := newTestEngine(t, transport, permissiveRisk())

	req := limitBuy("S", 8)
	req.Side = models.SideSell
	id, err := e.SubmitOrder(req, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool { return transport.count() == 1 }, "order never sent")

	e.HandleReport(models.ExecutionReport{OrderID: id, Status: models.OrderFilled, Price: 0.51, FilledQty: 8})
	waitFor(t, func() bool { return e.Position("S") == -8 }, "short position not applied")
}

func TestCancelOrderIsLocal(t *testing.T) {
	// Engine never started: the order stays pending and cancellable.
	e := NewEngine(Options{OrderCore: -1, ReportCore: -1, Risk: permissiveRisk()}, &fakeTransport{})

	id, err := e.SubmitOrder(limitBuy("M", 10), nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := e.CancelOrder(id); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	order, _ := e.GetOrder(id)
	if order.Status != models.OrderCancelled {
		t.Fatalf("status = %s", order.Status)
	}
	if err := e.CancelOrder(id); err == nil {
		t.Fatalf("second cancel succeeded")
	}
	if err := e.CancelOrder(9999); err == nil {
		t.Fatalf("cancel of unknown order succeeded")
	}
}

func TestVenueFillResolvesClientID(t *testing.T) {
	transport := &fakeTransport{}
	e := newTestEngine(t, transport, permissiveRisk())

	id, err := e.SubmitOrder(limitBuy("M", 10), nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool { return transport.count() == 1 }, "order never sent")
	order, _ := e.GetOrder(id)

	if !e.HandleFill(models.OrderFill{
		OrderID: order.ClientID, MarketID: "M", Side: models.SideBuy,
		Price: 0.51, FilledSize: 4, Remaining: 6,
	}) {
		t.Fatalf("fill not accepted")
	}
	waitFor(t, func() bool {
		o, _ := e.GetOrder(id)
		return o.Status == models.OrderPartiallyFilled && o.FilledQty == 4
	}, "partial fill not applied")

	e.HandleFill(models.OrderFill{
		OrderID: order.ClientID, MarketID: "M", Side: models.SideBuy,
		Price: 0.51, FilledSize: 6, Remaining: 0, Complete: true,
	})
	waitFor(t, func() bool {
		o, _ := e.GetOrder(id)
		return o.Status == models.OrderFilled && o.FilledQty == 10
	}, "completing fill not applied")

	if e.HandleFill(models.OrderFill{OrderID: "not-a-client-id"}) {
		t.Fatalf("unknown client id accepted")
	}
}

func TestCallbackPanicContained(t *testing.T) {
	transport := &fakeTransport{}
	e := newTestEngine(t, transport, permissiveRisk())

	id, err := e.SubmitOrder(limitBuy("M", 10), func(models.Order) {
		panic("boom")
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitFor(t, func() bool { return transport.count() == 1 }, "order never sent")

	// The engine survives the panic and keeps applying reports.
	e.HandleReport(models.ExecutionReport{OrderID: id, Status: models.OrderFilled, Price: 0.51, FilledQty: 10})
	waitFor(t, func() bool {
		order, _ := e.GetOrder(id)
		return order.Status == models.OrderFilled
	}, "engine stalled after callback panic")
}

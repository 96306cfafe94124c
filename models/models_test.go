package models

import (
	"testing"
	"time"
)

func TestOrderStatusTerminal(t *testing.T) {
	terminals := []OrderStatus{OrderFilled, OrderCancelled, OrderRejected, OrderError}
	for _, s := range terminals {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []OrderStatus{OrderPending, OrderSubmitted, OrderAcknowledged, OrderPartiallyFilled} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		ok       bool
	}{
		{OrderPending, OrderSubmitted, true},
		{OrderPending, OrderRejected, true},
		{OrderSubmitted, OrderAcknowledged, true},
		{OrderAcknowledged, OrderPartiallyFilled, true},
		{OrderPartiallyFilled, OrderFilled, true},
		{OrderSubmitted, OrderError, true},
		{OrderAcknowledged, OrderSubmitted, false},
		{OrderFilled, OrderCancelled, false},
		{OrderCancelled, OrderSubmitted, false},
		{OrderRejected, OrderFilled, false},
		{OrderError, OrderAcknowledged, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Errorf("%s -> %s: got %v want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestSideSign(t *testing.T) {
	if SideBuy.Sign() != 1 || SideSell.Sign() != -1 {
		t.Fatalf("unexpected side signs: buy=%v sell=%v", SideBuy.Sign(), SideSell.Sign())
	}
}

func TestQuoteMidAndAge(t *testing.T) {
	now := time.Now()
	q := Quote{BidPrice: 0.48, AskPrice: 0.52, Timestamp: now.Add(-time.Second)}
	if mid := q.Mid(); mid < 0.4999 || mid > 0.5001 {
		t.Fatalf("mid = %v, want 0.50", mid)
	}
	if age := q.Age(now); age != time.Second {
		t.Fatalf("age = %v, want 1s", age)
	}
	empty := Quote{AskPrice: 0.52}
	if empty.Mid() != 0 {
		t.Fatalf("mid of one-sided quote should be 0")
	}
}

package models

import "time"

// OrderType is the execution style requested for an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeIOC    OrderType = "ioc"
	OrderTypeFOK    OrderType = "fok"
	OrderTypeGTC    OrderType = "gtc"
)

// OrderStatus is the lifecycle state of an order. Transitions are
// monotonic; the four terminal states are never left once entered.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderSubmitted       OrderStatus = "submitted"
	OrderAcknowledged    OrderStatus = "acknowledged"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderRejected        OrderStatus = "rejected"
	OrderError           OrderStatus = "error"
)

// Terminal reports whether the status is final.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected, OrderError:
		return true
	}
	return false
}

// rank orders statuses along the lifecycle so transitions can be checked
// for monotonicity. Terminal states share the top rank.
func (s OrderStatus) rank() int {
	switch s {
	case OrderPending:
		return 0
	case OrderSubmitted:
		return 1
	case OrderAcknowledged:
		return 2
	case OrderPartiallyFilled:
		return 3
	default:
		return 4
	}
}

// CanTransition reports whether moving from s to next respects the order
// state machine: never backwards, never out of a terminal state.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s.Terminal() {
		return false
	}
	return next.rank() >= s.rank()
}

// OrderRequest is what a caller hands to the execution engine or router.
type OrderRequest struct {
	MarketID string
	Venue    Protocol
	Side     Side
	Type     OrderType
	Price    float64
	Quantity float64
}

// Order is the engine-owned record of a submitted order. Callers only
// ever see snapshot copies.
type Order struct {
	ID           uint64 // process-unique, monotonic
	ClientID     string // uuid sent to the venue
	ExternalID   string // venue-assigned, empty until acknowledged
	MarketID     string
	Venue        Protocol
	Side         Side
	Type         OrderType
	Status       OrderStatus
	Price        float64
	Quantity     float64
	FilledQty    float64
	AvgFillPrice float64
	Created      time.Time
	Submitted    time.Time
	Updated      time.Time
	ErrorMsg     string
}

// ExecutionReport carries a fill or status update back into the engine's
// report pipeline.
type ExecutionReport struct {
	OrderID   uint64
	Status    OrderStatus
	Price     float64
	FilledQty float64
	Remaining float64
	Reason    string
	Timestamp time.Time
}

package broker

import "time"

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == Buy || s == Sell }

// Opposite returns the closing side for s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType selects the fill rule applied by the engine.
type OrderType string

const (
	Market    OrderType = "market"
	Limit     OrderType = "limit"
	Stop      OrderType = "stop"
	StopLimit OrderType = "stop_limit"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	switch t {
	case Market, Limit, Stop, StopLimit:
		return true
	}
	return false
}

// Status is the order lifecycle state machine.
type Status string

const (
	StatusCreated   Status = "created"
	StatusPending   Status = "pending"
	StatusPartial   Status = "partial"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
)

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// transition. Partial re-enters itself on additional fills.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusCreated:
		switch next {
		case StatusPending, StatusPartial, StatusFilled, StatusCancelled, StatusRejected:
			return true
		}
	case StatusPending:
		switch next {
		case StatusPartial, StatusFilled, StatusCancelled, StatusRejected:
			return true
		}
	case StatusPartial:
		switch next {
		case StatusPartial, StatusFilled, StatusCancelled:
			return true
		}
	}
	return false
}

// Order is one order as tracked by an engine. The engine that created it is
// its sole owner; everyone else holds the ID and queries current state.
type Order struct {
	ID         string
	Symbol     string
	Side       Side
	Quantity   float64
	Price      float64 // reference price for limit/stop types
	Type       OrderType
	Status     Status
	FilledQty  float64
	AvgPrice   float64 // volume-weighted over all fills, zero until first fill
	Commission float64 // cumulative
	CreatedAt  time.Time
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() float64 { return o.Quantity - o.FilledQty }

// Response builds the OrderResponse view of the order.
func (o Order) Response() OrderResponse {
	return OrderResponse{
		OrderID:      o.ID,
		Status:       o.Status,
		FilledQty:    o.FilledQty,
		AvgPrice:     o.AvgPrice,
		RemainingQty: o.Remaining(),
	}
}

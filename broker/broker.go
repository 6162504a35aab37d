package broker

import (
	"context"
	"errors"
)

// Errors shared by every ExecutionEngine implementation.
var (
	// ErrOrderNotFound is returned when an order id is unknown to the engine.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidOrderState is returned when an operation is illegal for the
	// order's current status, e.g. cancelling an already filled order.
	ErrInvalidOrderState = errors.New("invalid order state")
)

// OrderRequest describes an order to be submitted to an engine.
//
// Price is the reference price for limit, stop and stop-limit orders and is
// ignored for market orders. Remainder marks a resubmission of an unfilled
// remainder by the lifecycle manager; the simulated exchange fills these in
// full whenever they are price-eligible.
type OrderRequest struct {
	Symbol    string
	Side      Side
	Quantity  float64
	Type      OrderType
	Price     float64
	Remainder bool
}

// OrderResponse is the engine's answer to a submit or cancel call.
type OrderResponse struct {
	OrderID      string
	Status       Status
	FilledQty    float64
	AvgPrice     float64
	RemainingQty float64
}

// ExecutionEngine is the capability the lifecycle manager and trade executor
// are written against. The simulated exchange implements it; a live-broker
// adapter is a drop-in alternative.
type ExecutionEngine interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (OrderResponse, error)
	CancelOrder(ctx context.Context, orderID string) (OrderResponse, error)
	GetPosition(ctx context.Context, symbol string) (Position, bool, error)
	GetAccount(ctx context.Context) (Account, error)
	GetOrder(ctx context.Context, orderID string) (Order, bool, error)
}

// PositionSizer maps an entry/stop pair and an account value to a share
// count. A size of zero means "decline the trade".
type PositionSizer interface {
	Calculate(entryPrice, stopPrice, accountValue float64) float64
}

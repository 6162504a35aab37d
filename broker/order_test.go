package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, StatusCreated.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusPartial.Terminal())
	assert.True(t, StatusFilled.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusRejected.Terminal())
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	assert.True(t, StatusCreated.CanTransition(StatusPending))
	assert.True(t, StatusCreated.CanTransition(StatusFilled))
	assert.True(t, StatusPending.CanTransition(StatusPartial))
	assert.True(t, StatusPartial.CanTransition(StatusPartial), "partial re-enters itself on additional fills")
	assert.True(t, StatusPartial.CanTransition(StatusFilled))
	assert.True(t, StatusPartial.CanTransition(StatusCancelled))

	// No transition escapes a terminal state.
	for _, from := range []Status{StatusFilled, StatusCancelled, StatusRejected} {
		for _, to := range []Status{StatusCreated, StatusPending, StatusPartial, StatusFilled, StatusCancelled, StatusRejected} {
			assert.False(t, from.CanTransition(to), "%s -> %s", from, to)
		}
	}

	assert.False(t, StatusPending.CanTransition(StatusCreated))
	assert.False(t, StatusPartial.CanTransition(StatusRejected))
}

func TestSide(t *testing.T) {
	t.Parallel()

	assert.True(t, Buy.Valid())
	assert.True(t, Sell.Valid())
	assert.False(t, Side("hold").Valid())

	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, Buy, Sell.Opposite())
}

func TestOrderTypeValid(t *testing.T) {
	t.Parallel()

	for _, typ := range []OrderType{Market, Limit, Stop, StopLimit} {
		assert.True(t, typ.Valid())
	}
	assert.False(t, OrderType("iceberg").Valid())
}

func TestOrderResponse(t *testing.T) {
	t.Parallel()

	o := Order{
		ID:        "O1",
		Symbol:    "AAPL",
		Quantity:  100,
		FilledQty: 40,
		AvgPrice:  150.10,
		Status:    StatusPartial,
	}

	resp := o.Response()
	assert.Equal(t, "O1", resp.OrderID)
	assert.Equal(t, StatusPartial, resp.Status)
	assert.Equal(t, 40.0, resp.FilledQty)
	assert.Equal(t, 150.10, resp.AvgPrice)
	assert.Equal(t, 60.0, resp.RemainingQty)
	assert.Equal(t, 60.0, o.Remaining())
}

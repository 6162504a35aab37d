package sim

import (
	"context"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/paperbroker/broker"
	"github.com/rustyeddy/paperbroker/journal"
	"github.com/rustyeddy/paperbroker/slippage"
)

type testJournal struct {
	fills  []journal.FillRecord
	equity []journal.EquitySnapshot
}

func (j *testJournal) RecordFill(r journal.FillRecord) error { j.fills = append(j.fills, r); return nil }
func (j *testJournal) RecordExecution(journal.ExecutionRecord) error { return nil }
func (j *testJournal) RecordEquity(r journal.EquitySnapshot) error {
	j.equity = append(j.equity, r)
	return nil
}
func (j *testJournal) Close() error { return nil }

type engineOpts struct {
	cash        float64
	commission  float64
	partialProb float64
	basePct     float64
	seed        int64
}

func newTestEngine(t *testing.T, opts engineOpts) (*Engine, *testJournal) {
	t.Helper()

	if opts.cash == 0 {
		opts.cash = 100000
	}
	if opts.seed == 0 {
		opts.seed = 1
	}

	slip, err := slippage.New(slippage.Config{
		BasePct: opts.basePct,
		Rand:    rand.New(rand.NewSource(opts.seed)),
	})
	require.NoError(t, err)

	j := &testJournal{}
	e, err := NewEngine(Config{
		InitialCash:     opts.cash,
		CommissionPct:   opts.commission,
		PartialFillProb: opts.partialProb,
		Rand:            rand.New(rand.NewSource(opts.seed)),
	}, slip, j, zerolog.Nop())
	require.NoError(t, err)
	return e, j
}

func submit(t *testing.T, e *Engine, req broker.OrderRequest) broker.OrderResponse {
	t.Helper()
	resp, err := e.SubmitOrder(context.Background(), req)
	require.NoError(t, err)
	return resp
}

func TestNewEngineValidation(t *testing.T) {
	t.Parallel()

	slip, err := slippage.New(slippage.Config{})
	require.NoError(t, err)

	_, err = NewEngine(Config{InitialCash: 0}, slip, nil, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewEngine(Config{InitialCash: 1000, CommissionPct: -1}, slip, nil, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewEngine(Config{InitialCash: 1000, PartialFillProb: 1.5}, slip, nil, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewEngine(Config{InitialCash: 1000}, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestSetPriceRejectsNonPositive(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, engineOpts{})
	assert.Error(t, e.SetPrice("AAPL", 0))
	assert.Error(t, e.SetPrice("AAPL", -1))
	assert.NoError(t, e.SetPrice("AAPL", 150))
}

func TestSubmitOrderValidation(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, engineOpts{})
	require.NoError(t, e.SetPrice("AAPL", 150))
	ctx := context.Background()

	_, err := e.SubmitOrder(ctx, broker.OrderRequest{Symbol: "AAPL", Side: broker.Buy, Quantity: 0, Type: broker.Market})
	assert.Error(t, err)

	_, err = e.SubmitOrder(ctx, broker.OrderRequest{Symbol: "AAPL", Side: "hold", Quantity: 10, Type: broker.Market})
	assert.Error(t, err)

	_, err = e.SubmitOrder(ctx, broker.OrderRequest{Symbol: "AAPL", Side: broker.Buy, Quantity: 10, Type: "iceberg"})
	assert.Error(t, err)

	_, err = e.SubmitOrder(ctx, broker.OrderRequest{Symbol: "AAPL", Side: broker.Buy, Quantity: 10, Type: broker.Limit})
	assert.Error(t, err, "limit order needs a positive price")

	_, err = e.SubmitOrder(ctx, broker.OrderRequest{Symbol: "TSLA", Side: broker.Buy, Quantity: 10, Type: broker.Market})
	assert.ErrorIs(t, err, ErrNoPriceSet)
}

func TestMarketBuyFillsWithSlippageAndCommission(t *testing.T) {
	t.Parallel()

	e, j := newTestEngine(t, engineOpts{basePct: 0.001, commission: 0.001})
	require.NoError(t, e.SetPrice("AAPL", 150.00))

	resp := submit(t, e, broker.OrderRequest{Symbol: "AAPL", Side: broker.Buy, Quantity: 10, Type: broker.Market})

	assert.Equal(t, broker.StatusFilled, resp.Status)
	assert.Equal(t, 10.0, resp.FilledQty)
	assert.InDelta(t, 150.15, resp.AvgPrice, 1e-9)
	assert.Zero(t, resp.RemainingQty)

	acct, err := e.GetAccount(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 100000-10*150.15*1.001, acct.Cash, 1e-9)

	pos, ok, err := e.GetPosition(context.Background(), "AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, broker.Long, pos.Side)
	assert.Equal(t, 10.0, pos.Quantity)
	assert.InDelta(t, 150.15, pos.EntryPrice, 1e-9)

	require.Len(t, j.fills, 1)
	assert.InDelta(t, 10*150.15*0.001, j.fills[0].Commission, 1e-9)
	require.Len(t, j.equity, 1)
}

func TestMarketSellSlipsDown(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, engineOpts{basePct: 0.001})
	require.NoError(t, e.SetPrice("AAPL", 150.00))

	resp := submit(t, e, broker.OrderRequest{Symbol: "AAPL", Side: broker.Sell, Quantity: 10, Type: broker.Market})

	assert.Equal(t, broker.StatusFilled, resp.Status)
	assert.InDelta(t, 149.85, resp.AvgPrice, 1e-9)

	acct, err := e.GetAccount(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 100000+10*149.85, acct.Cash, 1e-9)

	pos, ok, err := e.GetPosition(context.Background(), "AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, broker.Short, pos.Side)
}

func TestLimitBuyFillsAtCurrentPriceNotLimit(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, engineOpts{basePct: 0.001})
	require.NoError(t, e.SetPrice("AAPL", 148.00))

	resp := submit(t, e, broker.OrderRequest{Symbol: "AAPL", Side: broker.Buy, Quantity: 10, Type: broker.Limit, Price: 150.00})

	assert.Equal(t, broker.StatusFilled, resp.Status)
	assert.InDelta(t, 148.00, resp.AvgPrice, 1e-9, "limit fills at the better current price with zero slippage")
}

func TestLimitBuyWaitsWhenPriceTooHigh(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, engineOpts{})
	require.NoError(t, e.SetPrice("AAPL", 152.00))
	ctx := context.Background()

	resp := submit(t, e, broker.OrderRequest{Symbol: "AAPL", Side: broker.Buy, Quantity: 10, Type: broker.Limit, Price: 150.00})
	assert.Equal(t, broker.StatusPending, resp.Status)

	require.NoError(t, e.SetPrice("AAPL", 149.00))
	require.NoError(t, e.ProcessPendingOrders(ctx))

	ord, ok, err := e.GetOrder(ctx, resp.OrderID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, broker.StatusFilled, ord.Status)
	assert.InDelta(t, 149.00, ord.AvgPrice, 1e-9)
}

func TestStopSellTriggersOnPriceDrop(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, engineOpts{})
	require.NoError(t, e.SetPrice("AAPL", 150.00))
	ctx := context.Background()

	resp := submit(t, e, broker.OrderRequest{Symbol: "AAPL", Side: broker.Sell, Quantity: 10, Type: broker.Stop, Price: 145.00})
	assert.Equal(t, broker.StatusPending, resp.Status)

	require.NoError(t, e.SetPrice("AAPL", 144.00))
	require.NoError(t, e.ProcessPendingOrders(ctx))

	ord, ok, err := e.GetOrder(ctx, resp.OrderID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, broker.StatusFilled, ord.Status)
}

func TestStopLimitFillsAtLimitPrice(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, engineOpts{})
	require.NoError(t, e.SetPrice("AAPL", 150.00))
	ctx := context.Background()

	// Buy stop-limit at 152: triggers once current >= 152, then fills only
	// while current <= 152.
	resp := submit(t, e, broker.OrderRequest{Symbol: "AAPL", Side: broker.Buy, Quantity: 10, Type: broker.StopLimit, Price: 152.00})
	assert.Equal(t, broker.StatusPending, resp.Status)

	// Triggered but gapped through the limit: stays pending.
	require.NoError(t, e.SetPrice("AAPL", 153.00))
	require.NoError(t, e.ProcessPendingOrders(ctx))
	ord, _, err := e.GetOrder(ctx, resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, broker.StatusPending, ord.Status)

	// Price comes back inside the limit: fills at the limit price.
	require.NoError(t, e.SetPrice("AAPL", 151.00))
	require.NoError(t, e.ProcessPendingOrders(ctx))
	ord, _, err = e.GetOrder(ctx, resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, broker.StatusFilled, ord.Status)
	assert.InDelta(t, 152.00, ord.AvgPrice, 1e-9)
}

func TestPartialFillFirstAttemptOnly(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, engineOpts{partialProb: 1.0})
	require.NoError(t, e.SetPrice("AAPL", 150.00))
	ctx := context.Background()

	resp := submit(t, e, broker.OrderRequest{Symbol: "AAPL", Side: broker.Buy, Quantity: 100, Type: broker.Market})

	assert.Equal(t, broker.StatusPartial, resp.Status)
	assert.GreaterOrEqual(t, resp.FilledQty, 30.0)
	assert.LessOrEqual(t, resp.FilledQty, 70.0)

	// The draw is spent; the next evaluation fills the remainder in full.
	require.NoError(t, e.ProcessPendingOrders(ctx))
	ord, _, err := e.GetOrder(ctx, resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, broker.StatusFilled, ord.Status)
	assert.Equal(t, 100.0, ord.FilledQty)
}

func TestRemainderOrdersSkipPartialDraw(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, engineOpts{partialProb: 1.0})
	require.NoError(t, e.SetPrice("AAPL", 150.00))

	resp := submit(t, e, broker.OrderRequest{
		Symbol: "AAPL", Side: broker.Buy, Quantity: 60, Type: broker.Market, Remainder: true,
	})
	assert.Equal(t, broker.StatusFilled, resp.Status)
	assert.Equal(t, 60.0, resp.FilledQty)
}

func TestAvgPriceIsVolumeWeighted(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, engineOpts{partialProb: 1.0})
	require.NoError(t, e.SetPrice("AAPL", 100.00))
	ctx := context.Background()

	resp := submit(t, e, broker.OrderRequest{Symbol: "AAPL", Side: broker.Buy, Quantity: 100, Type: broker.Market})
	require.Equal(t, broker.StatusPartial, resp.Status)
	first := resp.FilledQty

	require.NoError(t, e.SetPrice("AAPL", 110.00))
	require.NoError(t, e.ProcessPendingOrders(ctx))

	ord, _, err := e.GetOrder(ctx, resp.OrderID)
	require.NoError(t, err)
	require.Equal(t, broker.StatusFilled, ord.Status)

	want := (first*100.00 + (100-first)*110.00) / 100
	assert.InDelta(t, want, ord.AvgPrice, 1e-9)
}

func TestCashConservationAcrossFills(t *testing.T) {
	t.Parallel()

	e, j := newTestEngine(t, engineOpts{partialProb: 0.5, commission: 0.002, basePct: 0.001, seed: 7})
	require.NoError(t, e.SetPrice("AAPL", 150.00))
	require.NoError(t, e.SetPrice("TSLA", 250.00))
	ctx := context.Background()

	submit(t, e, broker.OrderRequest{Symbol: "AAPL", Side: broker.Buy, Quantity: 100, Type: broker.Market})
	submit(t, e, broker.OrderRequest{Symbol: "TSLA", Side: broker.Sell, Quantity: 40, Type: broker.Market})
	require.NoError(t, e.ProcessPendingOrders(ctx))
	require.NoError(t, e.ProcessPendingOrders(ctx))

	want := 100000.0
	for _, f := range j.fills {
		if f.Side == string(broker.Buy) {
			want -= f.Quantity*f.Price + f.Commission
		} else {
			want += f.Quantity*f.Price - f.Commission
		}
	}

	acct, err := e.GetAccount(ctx)
	require.NoError(t, err)
	assert.InDelta(t, want, acct.Cash, 1e-9)
}

func TestCancelOrder(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, engineOpts{})
	require.NoError(t, e.SetPrice("AAPL", 150.00))
	ctx := context.Background()

	resp := submit(t, e, broker.OrderRequest{Symbol: "AAPL", Side: broker.Buy, Quantity: 10, Type: broker.Limit, Price: 140.00})
	require.Equal(t, broker.StatusPending, resp.Status)

	cancelled, err := e.CancelOrder(ctx, resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, broker.StatusCancelled, cancelled.Status)

	// Terminal orders cannot be cancelled again.
	_, err = e.CancelOrder(ctx, resp.OrderID)
	assert.ErrorIs(t, err, broker.ErrInvalidOrderState)

	_, err = e.CancelOrder(ctx, "no-such-order")
	assert.ErrorIs(t, err, broker.ErrOrderNotFound)
}

func TestCancelledOrderNeverFillsAgain(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, engineOpts{})
	require.NoError(t, e.SetPrice("AAPL", 150.00))
	ctx := context.Background()

	resp := submit(t, e, broker.OrderRequest{Symbol: "AAPL", Side: broker.Buy, Quantity: 10, Type: broker.Limit, Price: 140.00})
	_, err := e.CancelOrder(ctx, resp.OrderID)
	require.NoError(t, err)

	require.NoError(t, e.SetPrice("AAPL", 139.00))
	require.NoError(t, e.ProcessPendingOrders(ctx))

	ord, _, err := e.GetOrder(ctx, resp.OrderID)
	require.NoError(t, err)
	assert.Equal(t, broker.StatusCancelled, ord.Status)
	assert.Zero(t, ord.FilledQty)
}

func TestPositionReduceAndFlip(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, engineOpts{})
	require.NoError(t, e.SetPrice("AAPL", 100.00))
	ctx := context.Background()

	submit(t, e, broker.OrderRequest{Symbol: "AAPL", Side: broker.Buy, Quantity: 100, Type: broker.Market})

	// Sell half: long position shrinks.
	submit(t, e, broker.OrderRequest{Symbol: "AAPL", Side: broker.Sell, Quantity: 50, Type: broker.Market})
	pos, ok, err := e.GetPosition(ctx, "AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, broker.Long, pos.Side)
	assert.Equal(t, 50.0, pos.Quantity)

	// Sell past flat: position flips short for the excess.
	submit(t, e, broker.OrderRequest{Symbol: "AAPL", Side: broker.Sell, Quantity: 80, Type: broker.Market})
	pos, ok, err = e.GetPosition(ctx, "AAPL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, broker.Short, pos.Side)
	assert.Equal(t, 30.0, pos.Quantity)

	// Buy exactly flat: position is deleted, not zeroed.
	submit(t, e, broker.OrderRequest{Symbol: "AAPL", Side: broker.Buy, Quantity: 30, Type: broker.Market})
	_, ok, err = e.GetPosition(ctx, "AAPL")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAccountEquityMarksPositions(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, engineOpts{})
	require.NoError(t, e.SetPrice("AAPL", 100.00))
	ctx := context.Background()

	submit(t, e, broker.OrderRequest{Symbol: "AAPL", Side: broker.Buy, Quantity: 100, Type: broker.Market})
	require.NoError(t, e.SetPrice("AAPL", 110.00))

	acct, err := e.GetAccount(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 100000-100*100.00, acct.Cash, 1e-9)
	assert.InDelta(t, acct.Cash+100*110.00, acct.Equity, 1e-9)
}

func TestReset(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t, engineOpts{})
	require.NoError(t, e.SetPrice("AAPL", 150.00))
	ctx := context.Background()

	resp := submit(t, e, broker.OrderRequest{Symbol: "AAPL", Side: broker.Buy, Quantity: 10, Type: broker.Market})
	e.Reset()

	acct, err := e.GetAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100000.0, acct.Cash)

	_, ok, err := e.GetOrder(ctx, resp.OrderID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = e.SubmitOrder(ctx, broker.OrderRequest{Symbol: "AAPL", Side: broker.Buy, Quantity: 10, Type: broker.Market})
	assert.ErrorIs(t, err, ErrNoPriceSet, "prices are cleared by reset")
}

func TestConcurrentSubmitsKeepLedgerConsistent(t *testing.T) {
	t.Parallel()

	e, j := newTestEngine(t, engineOpts{commission: 0.001})
	require.NoError(t, e.SetPrice("AAPL", 100.00))
	ctx := context.Background()

	const workers = 8
	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		side := broker.Buy
		if i%2 == 1 {
			side = broker.Sell
		}
		go func(side broker.Side) {
			defer func() { done <- struct{}{} }()
			for k := 0; k < 50; k++ {
				_, err := e.SubmitOrder(ctx, broker.OrderRequest{
					Symbol: "AAPL", Side: side, Quantity: 10, Type: broker.Market,
				})
				assert.NoError(t, err)
			}
		}(side)
	}
	for i := 0; i < workers; i++ {
		<-done
	}

	want := 100000.0
	for _, f := range j.fills {
		if f.Side == string(broker.Buy) {
			want -= f.Quantity*f.Price + f.Commission
		} else {
			want += f.Quantity*f.Price - f.Commission
		}
	}
	acct, err := e.GetAccount(ctx)
	require.NoError(t, err)
	assert.InDelta(t, want, acct.Cash, 1e-6)
}

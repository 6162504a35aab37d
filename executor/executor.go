// Package executor turns strategy signals into risk-checked, sized,
// submitted orders and keeps the open-trade table.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/paperbroker/broker"
	"github.com/rustyeddy/paperbroker/journal"
	"github.com/rustyeddy/paperbroker/lifecycle"
	"github.com/rustyeddy/paperbroker/risk"
)

// Signal is one instruction from the strategy layer. Direction is +1 for
// long, -1 for short and 0 to close the symbol's open trade.
type Signal struct {
	Symbol     string
	Direction  int
	EntryPrice float64
	StopPrice  float64
	TakeProfit float64 // optional, zero means none
	Strategy   string
}

// Result is the outcome of one ExecuteSignal call. Business declines
// (risk-gate rejection, zero size) come back as Success=false with a
// Reason; they are not errors.
type Result struct {
	Success      bool
	OrderID      string
	Reason       string
	PositionSize float64
}

// OpenTrade is one entry in the executor's open-trade table.
type OpenTrade struct {
	Symbol     string
	Side       broker.Side
	Quantity   float64
	OrderID    string
	EntryPrice float64
	StopPrice  float64
	TakeProfit float64
	Strategy   string
	OpenedAt   time.Time
}

// Executor is the public entry point of the execution core.
type Executor struct {
	engine  broker.ExecutionEngine
	manager *lifecycle.Manager
	gate    *risk.Gate
	sizer   broker.PositionSizer
	journal journal.Journal
	log     zerolog.Logger

	// OnExecution, when set, is invoked with the result of every
	// successful execution.
	OnExecution func(Result)

	mu   sync.Mutex
	open map[string]OpenTrade
}

// New builds an executor. journal may be nil.
func New(engine broker.ExecutionEngine, manager *lifecycle.Manager, gate *risk.Gate, sizer broker.PositionSizer, j journal.Journal, log zerolog.Logger) *Executor {
	if j == nil {
		j = journal.Discard{}
	}
	return &Executor{
		engine:  engine,
		manager: manager,
		gate:    gate,
		sizer:   sizer,
		journal: j,
		log:     log.With().Str("component", "executor").Logger(),
		open:    make(map[string]OpenTrade),
	}
}

// ExecuteSignal processes one signal end to end. Business declines are
// reported in the Result; engine validation and state errors are returned
// alongside a populated Result so a signal loop can log and continue.
func (x *Executor) ExecuteSignal(ctx context.Context, sig Signal) (Result, error) {
	if sig.Direction == 0 {
		return x.closeTrade(ctx, sig)
	}

	side := broker.Buy
	if sig.Direction < 0 {
		side = broker.Sell
	}

	acct, err := x.engine.GetAccount(ctx)
	if err != nil {
		return Result{Reason: "account query failed"}, fmt.Errorf("execute %s: %w", sig.Symbol, err)
	}

	// Size is unknown until the gate passes; 1 satisfies the gate's
	// positivity check.
	check := x.gate.PreTradeCheck(sig.Symbol, side, 1, sig.EntryPrice, acct.Equity, x.openSymbols())
	if !check.Passed {
		x.log.Info().Str("symbol", sig.Symbol).Str("reason", check.Reason).Msg("signal rejected by risk gate")
		return x.decline(sig, side, check.Reason), nil
	}

	size := x.sizer.Calculate(sig.EntryPrice, sig.StopPrice, acct.Equity)
	if size <= 0 {
		x.log.Info().Str("symbol", sig.Symbol).Msg("signal declined: insufficient capital")
		return x.decline(sig, side, "insufficient capital"), nil
	}

	resp, err := x.manager.SubmitOrder(ctx, broker.OrderRequest{
		Symbol:   sig.Symbol,
		Side:     side,
		Quantity: size,
		Type:     broker.Market,
	})
	if err != nil {
		return Result{Reason: "order submission failed", PositionSize: size},
			fmt.Errorf("execute %s: %w", sig.Symbol, err)
	}

	trade := OpenTrade{
		Symbol:     sig.Symbol,
		Side:       side,
		Quantity:   size,
		OrderID:    resp.OrderID,
		EntryPrice: sig.EntryPrice,
		StopPrice:  sig.StopPrice,
		TakeProfit: sig.TakeProfit,
		Strategy:   sig.Strategy,
		OpenedAt:   time.Now().UTC(),
	}
	x.mu.Lock()
	x.open[sig.Symbol] = trade
	x.mu.Unlock()
	x.gate.RegisterPosition()

	res := Result{Success: true, OrderID: resp.OrderID, Reason: "submitted", PositionSize: size}
	x.record(sig, side, res)

	x.log.Info().
		Str("symbol", sig.Symbol).
		Str("side", string(side)).
		Float64("size", size).
		Str("order_id", resp.OrderID).
		Str("strategy", sig.Strategy).
		Msg("signal executed")

	if x.OnExecution != nil {
		x.OnExecution(res)
	}
	return res, nil
}

// closeTrade exits the symbol's open position with a market order on the
// opposite side for the full position size.
func (x *Executor) closeTrade(ctx context.Context, sig Signal) (Result, error) {
	pos, ok, err := x.engine.GetPosition(ctx, sig.Symbol)
	if err != nil {
		return Result{Reason: "position query failed"}, fmt.Errorf("close %s: %w", sig.Symbol, err)
	}
	if !ok {
		return x.decline(sig, "", fmt.Sprintf("no open position for %s", sig.Symbol)), nil
	}

	side := broker.Sell
	if pos.Side == broker.Short {
		side = broker.Buy
	}

	resp, err := x.manager.SubmitOrder(ctx, broker.OrderRequest{
		Symbol:   sig.Symbol,
		Side:     side,
		Quantity: pos.Quantity,
		Type:     broker.Market,
	})
	if err != nil {
		return Result{Reason: "close submission failed", PositionSize: pos.Quantity},
			fmt.Errorf("close %s: %w", sig.Symbol, err)
	}

	x.mu.Lock()
	_, had := x.open[sig.Symbol]
	delete(x.open, sig.Symbol)
	x.mu.Unlock()
	if had {
		x.gate.ClosePosition()
	}

	res := Result{Success: true, OrderID: resp.OrderID, Reason: "closed", PositionSize: pos.Quantity}
	x.record(sig, side, res)

	x.log.Info().
		Str("symbol", sig.Symbol).
		Str("side", string(side)).
		Float64("size", pos.Quantity).
		Str("order_id", resp.OrderID).
		Msg("position closed")

	if x.OnExecution != nil {
		x.OnExecution(res)
	}
	return res, nil
}

// OpenTrades returns a copy of the open-trade table.
func (x *Executor) OpenTrades() map[string]OpenTrade {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make(map[string]OpenTrade, len(x.open))
	for k, v := range x.open {
		out[k] = v
	}
	return out
}

func (x *Executor) openSymbols() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	syms := make([]string, 0, len(x.open))
	for s := range x.open {
		syms = append(syms, s)
	}
	return syms
}

func (x *Executor) decline(sig Signal, side broker.Side, reason string) Result {
	res := Result{Reason: reason}
	x.record(sig, side, res)
	return res
}

func (x *Executor) record(sig Signal, side broker.Side, res Result) {
	if err := x.journal.RecordExecution(journal.ExecutionRecord{
		OrderID:  res.OrderID,
		Symbol:   sig.Symbol,
		Side:     string(side),
		Strategy: sig.Strategy,
		Quantity: res.PositionSize,
		Success:  res.Success,
		Reason:   res.Reason,
		Time:     time.Now().UTC(),
	}); err != nil {
		x.log.Error().Err(err).Str("symbol", sig.Symbol).Msg("record execution")
	}
}

// Package sim implements a simulated exchange for one paper-trading
// account. Orders are matched against prices pushed in through SetPrice,
// with slippage, commission and optional partial fills. Cash, order and
// position state mutate together under a single mutex so no caller can
// observe a fill half-applied.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/paperbroker/broker"
	"github.com/rustyeddy/paperbroker/journal"
	"github.com/rustyeddy/paperbroker/pkg/id"
	"github.com/rustyeddy/paperbroker/slippage"
)

// ErrNoPriceSet is returned when an order references a symbol that has no
// price yet.
var ErrNoPriceSet = errors.New("no price set")

// Partial fills cover 30-70% of the requested quantity.
const (
	partialMinFrac = 0.30
	partialMaxFrac = 0.70
)

// Config holds account and matching parameters for the engine.
type Config struct {
	InitialCash     float64
	CommissionPct   float64 // fraction of fill value charged on every fill
	PartialFillProb float64 // chance the first fill attempt is partial

	// Rand drives the partial-fill draw. Nil means a time-seeded source.
	Rand *rand.Rand
}

func (c Config) validate() error {
	if c.InitialCash <= 0 {
		return fmt.Errorf("initial cash %v must be positive", c.InitialCash)
	}
	if c.CommissionPct < 0 {
		return fmt.Errorf("commission pct %v is negative", c.CommissionPct)
	}
	if c.PartialFillProb < 0 || c.PartialFillProb > 1 {
		return fmt.Errorf("partial fill probability %v outside [0, 1]", c.PartialFillProb)
	}
	return nil
}

// orderState is engine-side bookkeeping that does not belong on the order
// itself.
type orderState struct {
	attempted bool // a fill has been applied; the partial draw is spent
	triggered bool // stop condition has fired and stays fired
}

// Engine is a simulated exchange implementing broker.ExecutionEngine.
type Engine struct {
	mu          sync.Mutex
	cash        float64
	initialCash float64
	orders      map[string]*broker.Order
	states      map[string]*orderState
	positions   map[string]*broker.Position
	prices      map[string]float64
	vols        map[string]float64

	slip    *slippage.Model
	journal journal.Journal
	rng     *rand.Rand
	cfg     Config
	log     zerolog.Logger
}

// NewEngine builds an engine with the given matching parameters. The
// journal receives every fill and an equity snapshot after each one.
func NewEngine(cfg Config, slip *slippage.Model, j journal.Journal, log zerolog.Logger) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	if slip == nil {
		return nil, errors.New("engine config: slippage model is required")
	}
	if j == nil {
		j = journal.Discard{}
	}

	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Engine{
		cash:        cfg.InitialCash,
		initialCash: cfg.InitialCash,
		orders:      make(map[string]*broker.Order),
		states:      make(map[string]*orderState),
		positions:   make(map[string]*broker.Position),
		prices:      make(map[string]float64),
		vols:        make(map[string]float64),
		slip:        slip,
		journal:     j,
		rng:         rng,
		cfg:         cfg,
		log:         log.With().Str("component", "sim").Logger(),
	}, nil
}

// SetPrice establishes the reference price used by all subsequent fill
// attempts for symbol until changed again.
func (e *Engine) SetPrice(symbol string, price float64) error {
	if price <= 0 {
		return fmt.Errorf("set price %s: price %v must be positive", symbol, price)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
	return nil
}

// SetVolatility sets the volatility fed into the slippage model for symbol.
// Defaults to zero when never set.
func (e *Engine) SetVolatility(symbol string, vol float64) error {
	if vol < 0 {
		return fmt.Errorf("set volatility %s: volatility %v is negative", symbol, vol)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.vols[symbol] = vol
	return nil
}

// SubmitOrder validates the request, creates the order and immediately
// attempts a fill against the current price. The response carries the
// post-attempt status.
func (e *Engine) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResponse, error) {
	if req.Quantity <= 0 {
		return broker.OrderResponse{}, fmt.Errorf("submit order: quantity %v must be positive", req.Quantity)
	}
	if !req.Side.Valid() {
		return broker.OrderResponse{}, fmt.Errorf("submit order: unknown side %q", req.Side)
	}
	if !req.Type.Valid() {
		return broker.OrderResponse{}, fmt.Errorf("submit order: unknown order type %q", req.Type)
	}
	if req.Type != broker.Market && req.Price <= 0 {
		return broker.OrderResponse{}, fmt.Errorf("submit order: %s order needs a positive price, got %v", req.Type, req.Price)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.prices[req.Symbol]; !ok {
		return broker.OrderResponse{}, fmt.Errorf("submit order %s: %w", req.Symbol, ErrNoPriceSet)
	}

	o := &broker.Order{
		ID:        id.New(),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Type:      req.Type,
		Status:    broker.StatusCreated,
		CreatedAt: time.Now().UTC(),
	}
	st := &orderState{}
	if req.Remainder {
		// Resubmitted remainders are exempt from the partial draw and
		// fill in full whenever eligible.
		st.attempted = true
	}
	e.orders[o.ID] = o
	e.states[o.ID] = st

	if err := e.evaluateLocked(o); err != nil {
		return broker.OrderResponse{}, err
	}

	e.log.Debug().
		Str("order_id", o.ID).
		Str("symbol", o.Symbol).
		Str("side", string(o.Side)).
		Str("type", string(o.Type)).
		Float64("quantity", o.Quantity).
		Str("status", string(o.Status)).
		Msg("order submitted")

	return o.Response(), nil
}

// CancelOrder moves an order to cancelled. Legal only from created, pending
// or partial.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) (broker.OrderResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[orderID]
	if !ok {
		return broker.OrderResponse{}, fmt.Errorf("cancel order %s: %w", orderID, broker.ErrOrderNotFound)
	}
	if !o.Status.CanTransition(broker.StatusCancelled) {
		return broker.OrderResponse{}, fmt.Errorf("cancel order %s: %w: status %s", orderID, broker.ErrInvalidOrderState, o.Status)
	}

	o.Status = broker.StatusCancelled
	e.log.Debug().Str("order_id", orderID).Msg("order cancelled")
	return o.Response(), nil
}

// ProcessPendingOrders re-evaluates every order still in pending or partial
// against the latest price for its symbol. This is how stop and limit
// orders eventually trigger.
func (e *Engine) ProcessPendingOrders(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, o := range e.orders {
		if o.Status != broker.StatusPending && o.Status != broker.StatusPartial {
			continue
		}
		if err := e.evaluateLocked(o); err != nil {
			return err
		}
	}
	return nil
}

// GetOrder returns a copy of the order, or false when the id is unknown.
func (e *Engine) GetOrder(ctx context.Context, orderID string) (broker.Order, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[orderID]
	if !ok {
		return broker.Order{}, false, nil
	}
	return *o, true, nil
}

// GetPosition returns the open position for symbol, or false when flat.
func (e *Engine) GetPosition(ctx context.Context, symbol string) (broker.Position, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.positions[symbol]
	if !ok {
		return broker.Position{}, false, nil
	}
	return *p, true, nil
}

// GetAccount computes the account snapshot from current cash, positions and
// latest prices.
func (e *Engine) GetAccount(ctx context.Context) (broker.Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accountLocked(), nil
}

func (e *Engine) accountLocked() broker.Account {
	equity := e.cash
	for sym, p := range e.positions {
		price, ok := e.prices[sym]
		if !ok {
			price = p.EntryPrice
		}
		equity += p.MarketValue(price)
	}
	return broker.Account{
		Cash:           e.cash,
		Equity:         equity,
		BuyingPower:    e.cash,
		PortfolioValue: equity,
	}
}

// Reset restores cash to initial capital and clears all orders, positions
// and prices. Test harness use only.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cash = e.initialCash
	e.orders = make(map[string]*broker.Order)
	e.states = make(map[string]*orderState)
	e.positions = make(map[string]*broker.Position)
	e.prices = make(map[string]float64)
	e.vols = make(map[string]float64)
}

// evaluateLocked runs one fill attempt for o against the current price.
// Market orders always fill; limit orders fill at the current price when it
// is at least as good as the limit; stop orders become market orders once
// triggered; stop-limits trigger like stops and then fill like limits.
func (e *Engine) evaluateLocked(o *broker.Order) error {
	price, ok := e.prices[o.Symbol]
	if !ok {
		return fmt.Errorf("evaluate order %s: %w", o.Symbol, ErrNoPriceSet)
	}
	st := e.states[o.ID]

	var fillPrice float64
	fill := false

	switch o.Type {
	case broker.Market:
		p, err := e.slippedPriceLocked(o, price)
		if err != nil {
			return err
		}
		fillPrice, fill = p, true

	case broker.Limit:
		// Limit orders never slip through their bound.
		if limitEligible(o.Side, price, o.Price) {
			fillPrice, fill = price, true
		}

	case broker.Stop:
		if !st.triggered && stopTriggered(o.Side, price, o.Price) {
			st.triggered = true
		}
		if st.triggered {
			p, err := e.slippedPriceLocked(o, price)
			if err != nil {
				return err
			}
			fillPrice, fill = p, true
		}

	case broker.StopLimit:
		if !st.triggered && stopTriggered(o.Side, price, o.Price) {
			st.triggered = true
		}
		if st.triggered && limitEligible(o.Side, price, o.Price) {
			fillPrice, fill = o.Price, true
		}
	}

	if !fill {
		if o.Status == broker.StatusCreated {
			o.Status = broker.StatusPending
		}
		return nil
	}

	qty := o.Remaining()
	if !st.attempted && e.cfg.PartialFillProb > 0 && e.rng.Float64() < e.cfg.PartialFillProb {
		frac := partialMinFrac + e.rng.Float64()*(partialMaxFrac-partialMinFrac)
		qty = math.Floor(o.Remaining() * frac)
		if qty < 1 {
			qty = 1
		}
		if qty > o.Remaining() {
			qty = o.Remaining()
		}
	}
	st.attempted = true

	e.applyFillLocked(o, qty, fillPrice)
	return nil
}

func (e *Engine) slippedPriceLocked(o *broker.Order, price float64) (float64, error) {
	return e.slip.Apply(price, o.Side, e.vols[o.Symbol], o.Remaining())
}

// applyFillLocked mutates order, cash and position as one unit.
func (e *Engine) applyFillLocked(o *broker.Order, qty, fillPrice float64) {
	fillValue := qty * fillPrice
	commission := fillValue * e.cfg.CommissionPct

	o.AvgPrice = (o.AvgPrice*o.FilledQty + fillPrice*qty) / (o.FilledQty + qty)
	o.FilledQty += qty
	o.Commission += commission

	if o.Side == broker.Buy {
		e.cash -= fillValue + commission
	} else {
		e.cash += fillValue - commission
	}

	e.applyToPositionLocked(o.Symbol, o.Side, qty, fillPrice)

	if o.FilledQty >= o.Quantity {
		o.Status = broker.StatusFilled
	} else {
		o.Status = broker.StatusPartial
	}

	now := time.Now().UTC()
	if err := e.journal.RecordFill(journal.FillRecord{
		OrderID:    o.ID,
		Symbol:     o.Symbol,
		Side:       string(o.Side),
		Quantity:   qty,
		Price:      fillPrice,
		Commission: commission,
		Time:       now,
	}); err != nil {
		e.log.Error().Err(err).Str("order_id", o.ID).Msg("record fill")
	}

	acct := e.accountLocked()
	if err := e.journal.RecordEquity(journal.EquitySnapshot{
		Time:   now,
		Cash:   acct.Cash,
		Equity: acct.Equity,
	}); err != nil {
		e.log.Error().Err(err).Msg("record equity")
	}

	e.log.Debug().
		Str("order_id", o.ID).
		Str("symbol", o.Symbol).
		Float64("qty", qty).
		Float64("price", fillPrice).
		Float64("commission", commission).
		Str("status", string(o.Status)).
		Msg("fill applied")
}

// applyToPositionLocked folds a fill into the symbol's position. Same
// direction updates the volume-weighted entry; the opposite direction
// reduces, deletes or flips it.
func (e *Engine) applyToPositionLocked(symbol string, side broker.Side, qty, price float64) {
	dir := broker.Long
	if side == broker.Sell {
		dir = broker.Short
	}

	p, ok := e.positions[symbol]
	if !ok {
		e.positions[symbol] = &broker.Position{
			Symbol:     symbol,
			Side:       dir,
			Quantity:   qty,
			EntryPrice: price,
		}
		return
	}

	if p.Side == dir {
		p.EntryPrice = (p.EntryPrice*p.Quantity + price*qty) / (p.Quantity + qty)
		p.Quantity += qty
		return
	}

	switch {
	case qty < p.Quantity:
		p.Quantity -= qty
	case qty == p.Quantity:
		delete(e.positions, symbol)
	default:
		p.Side = dir
		p.Quantity = qty - p.Quantity
		p.EntryPrice = price
	}
}

func limitEligible(side broker.Side, current, limit float64) bool {
	if side == broker.Buy {
		return current <= limit
	}
	return current >= limit
}

func stopTriggered(side broker.Side, current, stop float64) bool {
	if side == broker.Buy {
		return current >= stop
	}
	return current <= stop
}

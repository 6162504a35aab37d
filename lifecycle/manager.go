package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/paperbroker/broker"
)

// ErrShutDown is returned by SubmitOrder after Shutdown has been called.
var ErrShutDown = errors.New("lifecycle manager is shut down")

// Callbacks are the lifecycle notifications. All are optional and invoked
// synchronously; the manager never blocks on them beyond making the call.
type Callbacks struct {
	OnOrderCreated   func(orderID string)
	OnOrderFilled    func(orderID string)
	OnOrderCancelled func(orderID string)
}

// Config tunes the manager.
type Config struct {
	Policy RetryPolicy

	// PollCap bounds the wait between polls of an order that has not
	// filled at all yet, so a never-triggered stop order is re-checked
	// promptly without burning retries. Default 5s.
	PollCap time.Duration

	// ShutdownTimeout bounds how long Shutdown waits for monitors to
	// exit. Default 10s.
	ShutdownTimeout time.Duration
}

// managed wraps an order id with the monitoring bookkeeping. Internal to
// the manager; queries expose only order snapshots.
type managed struct {
	orderID     string
	req         broker.OrderRequest
	submittedAt time.Time
	retryCount  int
	parentID    string // original order when this is a resubmitted remainder
	last        broker.Order
}

// Manager owns one monitoring goroutine per outstanding order submitted
// through it. Shutdown is the single join point for all of them.
type Manager struct {
	engine  broker.ExecutionEngine
	policy  RetryPolicy
	cb      Callbacks
	pollCap time.Duration
	joinTmo time.Duration
	log     zerolog.Logger

	mu     sync.Mutex
	orders map[string]*managed
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager builds a manager over engine. cb fields may be nil.
func NewManager(engine broker.ExecutionEngine, cfg Config, cb Callbacks, log zerolog.Logger) *Manager {
	if cfg.PollCap <= 0 {
		cfg.PollCap = 5 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		engine:  engine,
		policy:  cfg.Policy,
		cb:      cb,
		pollCap: cfg.PollCap,
		joinTmo: cfg.ShutdownTimeout,
		log:     log.With().Str("component", "lifecycle").Logger(),
		orders:  make(map[string]*managed),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SubmitOrder submits through the engine, records the order and starts a
// monitoring goroutine unless it filled completely on submission.
// OnOrderCreated fires synchronously before SubmitOrder returns.
func (m *Manager) SubmitOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResponse, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return broker.OrderResponse{}, ErrShutDown
	}
	m.mu.Unlock()

	resp, err := m.engine.SubmitOrder(ctx, req)
	if err != nil {
		return broker.OrderResponse{}, err
	}

	mo := &managed{
		orderID:     resp.OrderID,
		req:         req,
		submittedAt: time.Now(),
		last:        m.snapshot(ctx, resp, req),
	}
	needsMonitor := resp.Status != broker.StatusFilled && !resp.Status.Terminal()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		// Shutdown ran between the engine accepting the order and the
		// manager recording it, so its cancellation sweep never saw the
		// order. Undo the submission here.
		if !resp.Status.Terminal() {
			if _, err := m.engine.CancelOrder(ctx, resp.OrderID); err != nil {
				m.log.Error().Err(err).Str("order_id", resp.OrderID).Msg("cancel order submitted during shutdown")
			}
		}
		return broker.OrderResponse{}, ErrShutDown
	}
	m.orders[mo.orderID] = mo
	if needsMonitor {
		// Add under mu together with the closed check: Shutdown flips
		// closed before it waits on the group.
		m.wg.Add(1)
	}
	m.mu.Unlock()

	if m.cb.OnOrderCreated != nil {
		m.cb.OnOrderCreated(resp.OrderID)
	}

	if resp.Status == broker.StatusFilled {
		if m.cb.OnOrderFilled != nil {
			m.cb.OnOrderFilled(resp.OrderID)
		}
		return resp, nil
	}
	if resp.Status.Terminal() {
		return resp, nil
	}

	go m.monitor(mo)

	return resp, nil
}

// Shutdown stops every monitoring goroutine, then cancels every order still
// in a non-terminal state and waits for the cancellations to be
// acknowledged. No simulated exposure survives a completed Shutdown.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(m.joinTmo):
		return fmt.Errorf("shutdown: monitors did not exit within %s", m.joinTmo)
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}

	for _, id := range m.trackedIDs() {
		ord, ok, err := m.engine.GetOrder(ctx, id)
		if err != nil {
			m.log.Error().Err(err).Str("order_id", id).Msg("shutdown: get order")
			continue
		}
		if !ok || ord.Status.Terminal() {
			continue
		}
		if _, err := m.engine.CancelOrder(ctx, id); err != nil {
			m.log.Error().Err(err).Str("order_id", id).Msg("shutdown: cancel order")
			continue
		}
		m.setStatus(id, broker.StatusCancelled)
		if m.cb.OnOrderCancelled != nil {
			m.cb.OnOrderCancelled(id)
		}
	}
	return nil
}

// monitor is the per-order routine. It runs an explicit loop rather than
// recursing on resubmission, so cancellation and stack depth stay bounded.
// When a partial fill is resubmitted the routine carries its retry count to
// the child order and restarts its elapsed clock at the child's submission.
func (m *Manager) monitor(mo *managed) {
	defer m.wg.Done()

	start := time.Now()
	log := m.log.With().Str("order_id", mo.orderID).Logger()

	for {
		if m.ctx.Err() != nil {
			return
		}

		ord, ok, err := m.engine.GetOrder(m.ctx, mo.orderID)
		if err != nil {
			log.Error().Err(err).Msg("monitor: get order")
			return
		}
		if !ok {
			// The engine lost an order we submitted. Inconsistent, not
			// retryable; other orders continue unaffected.
			log.Error().Msg("monitor: order vanished from engine")
			return
		}
		m.update(ord)

		if ord.FilledQty >= ord.Quantity {
			if m.cb.OnOrderFilled != nil {
				m.cb.OnOrderFilled(mo.orderID)
			}
			return
		}
		if ord.Status.Terminal() {
			// Cancelled or rejected outside this routine.
			return
		}

		if !m.policy.ShouldRetry(mo.retryCount, time.Since(start)) {
			if _, err := m.engine.CancelOrder(m.ctx, mo.orderID); err != nil {
				if errors.Is(err, broker.ErrInvalidOrderState) {
					// Raced to a terminal state; re-poll to pick it up.
					continue
				}
				log.Error().Err(err).Msg("monitor: cancel order")
				return
			}
			m.setStatus(mo.orderID, broker.StatusCancelled)
			log.Info().Int("retries", mo.retryCount).Msg("order cancelled by retry policy")
			if m.cb.OnOrderCancelled != nil {
				m.cb.OnOrderCancelled(mo.orderID)
			}
			return
		}

		if ord.FilledQty > 0 {
			if !m.sleep(m.policy.Delay(mo.retryCount)) {
				return
			}
			mo.retryCount++

			child, ok := m.resubmit(mo, log)
			if !ok {
				return
			}
			if child == nil {
				// Parent reached a terminal state while we slept.
				continue
			}
			mo = child
			start = time.Now()
			log = m.log.With().Str("order_id", mo.orderID).Logger()
			continue
		}

		// Nothing filled yet. Wait and re-poll without spending a retry,
		// so a stop order that simply has not triggered is not penalized.
		wait := m.policy.Delay(mo.retryCount)
		if wait > m.pollCap {
			wait = m.pollCap
		}
		if !m.sleep(wait) {
			return
		}
	}
}

// resubmit cancels the partially filled order and submits a new one for the
// unfilled remainder. Returns (nil, true) when the parent went terminal in
// the meantime and the caller should re-poll, and (nil, false) when the
// routine must stop. The remainder across all children never exceeds the
// parent's requested quantity because the parent is cancelled first.
func (m *Manager) resubmit(mo *managed, log zerolog.Logger) (*managed, bool) {
	if _, err := m.engine.CancelOrder(m.ctx, mo.orderID); err != nil {
		if errors.Is(err, broker.ErrInvalidOrderState) {
			return nil, true
		}
		log.Error().Err(err).Msg("resubmit: cancel parent")
		return nil, false
	}

	ord, ok, err := m.engine.GetOrder(m.ctx, mo.orderID)
	if err != nil {
		log.Error().Err(err).Msg("resubmit: get order")
		return nil, false
	}
	if !ok {
		log.Error().Msg("resubmit: order vanished from engine")
		return nil, false
	}
	m.update(ord)

	remainder := ord.Quantity - ord.FilledQty
	if remainder <= 0 {
		if m.cb.OnOrderFilled != nil {
			m.cb.OnOrderFilled(mo.orderID)
		}
		return nil, false
	}

	req := mo.req
	req.Quantity = remainder
	req.Remainder = true

	resp, err := m.engine.SubmitOrder(m.ctx, req)
	if err != nil {
		// A misbehaving engine must not amplify retries; stop here.
		log.Error().Err(err).Float64("remainder", remainder).Msg("resubmit: submit failed")
		return nil, false
	}

	child := &managed{
		orderID:     resp.OrderID,
		req:         req,
		submittedAt: time.Now(),
		retryCount:  mo.retryCount,
		parentID:    mo.orderID,
		last:        m.snapshot(m.ctx, resp, req),
	}
	m.track(child)

	log.Info().
		Str("child_id", resp.OrderID).
		Float64("remainder", remainder).
		Int("retry", mo.retryCount).
		Msg("remainder resubmitted")

	if m.cb.OnOrderCreated != nil {
		m.cb.OnOrderCreated(resp.OrderID)
	}
	if resp.Status == broker.StatusFilled {
		if m.cb.OnOrderFilled != nil {
			m.cb.OnOrderFilled(resp.OrderID)
		}
		return nil, false
	}
	return child, true
}

// sleep waits for d or until the manager is shut down. Reports whether the
// full wait elapsed.
func (m *Manager) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-m.ctx.Done():
		return false
	}
}

// GetOrder returns the manager's last observed snapshot of the order.
func (m *Manager) GetOrder(orderID string) (broker.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mo, ok := m.orders[orderID]
	if !ok {
		return broker.Order{}, false
	}
	return mo.last, true
}

// OrdersBySymbol returns snapshots of every managed order for symbol.
func (m *Manager) OrdersBySymbol(symbol string) []broker.Order {
	return m.filter(func(o broker.Order) bool { return o.Symbol == symbol })
}

// OrdersByStatus returns snapshots of every managed order in status.
func (m *Manager) OrdersByStatus(status broker.Status) []broker.Order {
	return m.filter(func(o broker.Order) bool { return o.Status == status })
}

// AllOrders returns snapshots of every order ever managed.
func (m *Manager) AllOrders() []broker.Order {
	return m.filter(func(broker.Order) bool { return true })
}

func (m *Manager) filter(keep func(broker.Order) bool) []broker.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []broker.Order
	for _, mo := range m.orders {
		if keep(mo.last) {
			out = append(out, mo.last)
		}
	}
	return out
}

func (m *Manager) track(mo *managed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[mo.orderID] = mo
}

func (m *Manager) trackedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.orders))
	for id := range m.orders {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) update(ord broker.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mo, ok := m.orders[ord.ID]; ok {
		mo.last = ord
	}
}

func (m *Manager) setStatus(orderID string, s broker.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mo, ok := m.orders[orderID]; ok {
		mo.last.Status = s
	}
}

// snapshot seeds the managed table entry from the submit response, falling
// back to the request fields when the engine has no richer view yet.
func (m *Manager) snapshot(ctx context.Context, resp broker.OrderResponse, req broker.OrderRequest) broker.Order {
	if ord, ok, err := m.engine.GetOrder(ctx, resp.OrderID); err == nil && ok {
		return ord
	}
	return broker.Order{
		ID:        resp.OrderID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Price:     req.Price,
		Type:      req.Type,
		Status:    resp.Status,
		FilledQty: resp.FilledQty,
		AvgPrice:  resp.AvgPrice,
	}
}

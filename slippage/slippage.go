// Package slippage turns a requested price into a realistically worse fill
// price. The model is deterministic (base + volatility + order size) plus a
// bounded uniform random component drawn from an injected source, so tests
// can pin the outcome with a seeded generator.
package slippage

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rustyeddy/paperbroker/broker"
)

// ErrInvalidParameter is returned for out-of-range inputs to Apply and for
// invalid model configuration.
var ErrInvalidParameter = errors.New("invalid parameter")

// Config holds the model coefficients. All values are fractions of price,
// e.g. BasePct 0.001 means 10 basis points.
type Config struct {
	BasePct          float64 // constant slippage, 0 <= BasePct <= 0.1
	VolatilityFactor float64 // per unit of volatility
	SizeImpactFactor float64 // per share of order size
	RandomFactor     float64 // uniform noise drawn from (-RandomFactor, +RandomFactor)

	// Rand supplies the random component. Nil means a time-seeded source.
	Rand *rand.Rand
}

// Model applies slippage to fill prices. Safe for concurrent use.
type Model struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

// New validates cfg and builds a model. Invalid coefficients fail
// construction; nothing is clamped.
func New(cfg Config) (*Model, error) {
	if cfg.BasePct < 0 || cfg.BasePct > 0.1 {
		return nil, fmt.Errorf("%w: base pct %v outside [0, 0.1]", ErrInvalidParameter, cfg.BasePct)
	}
	if cfg.VolatilityFactor < 0 {
		return nil, fmt.Errorf("%w: volatility factor %v is negative", ErrInvalidParameter, cfg.VolatilityFactor)
	}
	if cfg.SizeImpactFactor < 0 {
		return nil, fmt.Errorf("%w: size impact factor %v is negative", ErrInvalidParameter, cfg.SizeImpactFactor)
	}
	if cfg.RandomFactor < 0 {
		return nil, fmt.Errorf("%w: random factor %v is negative", ErrInvalidParameter, cfg.RandomFactor)
	}

	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Model{cfg: cfg, rng: rng}, nil
}

// Apply returns the adjusted fill price for an order. Buys slip up, sells
// slip down; the total slippage percentage is floored at zero so the random
// term can never improve on the requested price.
func (m *Model) Apply(price float64, side broker.Side, volatility, orderSize float64) (float64, error) {
	if err := validate(price, side, volatility, orderSize); err != nil {
		return 0, err
	}

	pct := m.DeterministicPct(volatility, orderSize) + m.noise()
	if pct < 0 {
		pct = 0
	}

	if side == broker.Buy {
		return price * (1 + pct), nil
	}
	return price * (1 - pct), nil
}

// Amount returns the absolute dollar difference between the requested price
// and one application of the model.
func (m *Model) Amount(price float64, side broker.Side, volatility, orderSize float64) (float64, error) {
	adjusted, err := m.Apply(price, side, volatility, orderSize)
	if err != nil {
		return 0, err
	}
	diff := adjusted - price
	if diff < 0 {
		diff = -diff
	}
	return diff, nil
}

// DeterministicPct returns the slippage percentage excluding the random
// term. Intended for diagnostics.
func (m *Model) DeterministicPct(volatility, orderSize float64) float64 {
	return m.cfg.BasePct + volatility*m.cfg.VolatilityFactor + orderSize*m.cfg.SizeImpactFactor
}

func (m *Model) noise() float64 {
	if m.cfg.RandomFactor == 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return (m.rng.Float64()*2 - 1) * m.cfg.RandomFactor
}

func validate(price float64, side broker.Side, volatility, orderSize float64) error {
	if price <= 0 {
		return fmt.Errorf("%w: price %v must be positive", ErrInvalidParameter, price)
	}
	if !side.Valid() {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidParameter, side)
	}
	if volatility < 0 {
		return fmt.Errorf("%w: volatility %v is negative", ErrInvalidParameter, volatility)
	}
	if orderSize <= 0 {
		return fmt.Errorf("%w: order size %v must be positive", ErrInvalidParameter, orderSize)
	}
	return nil
}

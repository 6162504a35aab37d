// Package risk holds the pre-trade gate and position sizing.
package risk

import (
	"fmt"
	"sync"

	"github.com/rustyeddy/paperbroker/broker"
)

// CheckResult is the outcome of one pre-trade check.
type CheckResult struct {
	Passed bool
	Reason string
}

func pass() CheckResult { return CheckResult{Passed: true} }

func fail(format string, args ...any) CheckResult {
	return CheckResult{Reason: fmt.Sprintf(format, args...)}
}

// Gate performs pre-trade validation. The check itself has no side
// effects; RegisterPosition and ClosePosition are explicit counters the
// caller updates when trades open and close.
type Gate struct {
	maxPositions int

	mu   sync.Mutex
	open int
}

func NewGate(maxPositions int) *Gate {
	return &Gate{maxPositions: maxPositions}
}

// PreTradeCheck validates a prospective trade, short-circuiting on the
// first failure: position-count limit, duplicate symbol, positive quantity.
func (g *Gate) PreTradeCheck(symbol string, side broker.Side, quantity, entryPrice, accountValue float64, openPositions []string) CheckResult {
	if len(openPositions) >= g.maxPositions {
		return fail("at maximum positions (%d)", g.maxPositions)
	}
	for _, s := range openPositions {
		if s == symbol {
			return fail("position already exists for %s", symbol)
		}
	}
	if quantity <= 0 {
		return fail("quantity must be positive, got %v", quantity)
	}
	return pass()
}

// RegisterPosition records a newly opened position.
func (g *Gate) RegisterPosition() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.open++
}

// ClosePosition records a closed position.
func (g *Gate) ClosePosition() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open > 0 {
		g.open--
	}
}

// OpenCount returns the number of positions registered as open.
func (g *Gate) OpenCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

package risk

import "math"

// Sizer computes share counts from a fixed risk fraction of account value:
// shares = floor(accountValue * RiskPct / |entry - stop|), capped so the
// position's notional never exceeds the account value. It implements
// broker.PositionSizer.
type Sizer struct {
	RiskPct float64 // fraction of account value risked per trade, e.g. 0.01
}

// Calculate returns the share count for the trade, or zero to decline it
// (no stop distance, no capital, or too expensive to buy a single share).
func (s Sizer) Calculate(entryPrice, stopPrice, accountValue float64) float64 {
	if entryPrice <= 0 || accountValue <= 0 {
		return 0
	}
	dist := math.Abs(entryPrice - stopPrice)
	if dist == 0 {
		return 0
	}

	shares := math.Floor(accountValue * s.RiskPct / dist)
	if maxAffordable := math.Floor(accountValue / entryPrice); shares > maxAffordable {
		shares = maxAffordable
	}
	if shares < 0 {
		return 0
	}
	return shares
}

package broker

// PositionSide is the direction of an open position.
type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
)

// Position is the per-symbol aggregate of all fills. A symbol has at most
// one open position; a flat position is deleted rather than zeroed.
type Position struct {
	Symbol     string
	Side       PositionSide
	Quantity   float64
	EntryPrice float64 // volume-weighted across all same-direction fills
}

// MarketValue returns the signed mark-to-market value of the position at
// the given price. Shorts contribute negatively to equity.
func (p Position) MarketValue(price float64) float64 {
	if p.Side == Short {
		return -p.Quantity * price
	}
	return p.Quantity * price
}

// Account is a point-in-time snapshot computed from cash, positions and the
// latest prices.
type Account struct {
	Cash           float64
	Equity         float64
	BuyingPower    float64
	PortfolioValue float64
}

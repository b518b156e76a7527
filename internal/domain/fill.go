package domain

// Side is the direction of an order or fill from the wallet's point of view.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// MarketKind distinguishes spot instruments from perpetual futures.
type MarketKind string

const (
	MarketSpot MarketKind = "spot"
	MarketPerp MarketKind = "perp"
)

// OrderKind is the normalised order type attached to fills and trades.
type OrderKind string

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
	OrderKindStop   OrderKind = "stop"
)

// Fill is one normalised execution attributed to the wallet.
type Fill struct {
	Side          Side
	Price         float64
	Quantity      float64
	Fee           float64
	Rebate        float64
	Timestamp     int64 // unix seconds
	TransactionID string
	InstrumentID  uint32
	Market        MarketKind
	OrderKind     OrderKind
	Leverage      int
}

// PositionLot is the unclosed remainder of a fill waiting in a FIFO queue.
type PositionLot struct {
	Price         float64
	Quantity      float64
	Fee           float64
	Timestamp     int64
	TransactionID string
	OrderKind     OrderKind
	Leverage      int
}

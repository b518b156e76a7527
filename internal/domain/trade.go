package domain

import "time"

// TradeSide is the direction of a closed round trip.
type TradeSide string

const (
	TradeSideLong  TradeSide = "long"
	TradeSideShort TradeSide = "short"
)

// Trade is a closed (or partially closed) round trip produced by FIFO
// matching. Size is the entry notional of the matched quantity.
type Trade struct {
	ID                 string     `json:"id"`
	Symbol             string     `json:"symbol"`
	Side               TradeSide  `json:"side"`
	EntryPrice         float64    `json:"entryPrice"`
	ExitPrice          float64    `json:"exitPrice"`
	Size               float64    `json:"size"`
	PnL                float64    `json:"pnl"`
	PnLPercent         float64    `json:"pnlPercent"`
	Fees               float64    `json:"fees"`
	EntryTime          time.Time  `json:"entryTime"`
	ExitTime           time.Time  `json:"exitTime"`
	OrderKind          OrderKind  `json:"orderType"`
	Leverage           int        `json:"leverage"`
	EntryTransactionID string     `json:"entryTxSignature"`
	ExitTransactionID  string     `json:"txSignature"`
	InstrumentID       uint32     `json:"instrId"`
	Market             MarketKind `json:"marketType"`
}

// Quantity returns the matched base quantity of the trade.
func (t Trade) Quantity() float64 {
	if t.EntryPrice <= 0 {
		return 0
	}
	return t.Size / t.EntryPrice
}

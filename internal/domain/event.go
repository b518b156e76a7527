package domain

// LogEvent is one decoded protocol event. The set of implementations is
// closed: PlaceOrderEvent, FillEvent and FeeEvent.
type LogEvent interface {
	logEvent()
}

// PlaceOrderEvent records an order submitted by the transaction signer. It
// provides the context for fills that follow it in the same transaction.
type PlaceOrderEvent struct {
	Market       MarketKind
	InstrumentID uint32
	Side         Side
	OrderType    int // 0 limit, 1 market, 2 stop
	IOC          bool
	Leverage     int
}

// FillEvent records a match against an order book. Side is the side of the
// matched order as reported by the program.
type FillEvent struct {
	Market       MarketKind
	InstrumentID uint32 // zero when the program log omits it
	Side         Side
	Price        float64
	Quantity     float64
	Rebate       float64
}

// FeeEvent records fees charged for the preceding fill. Amount may be
// reported signed; consumers store its magnitude.
type FeeEvent struct {
	Market MarketKind
	Amount float64
}

func (PlaceOrderEvent) logEvent() {}
func (FillEvent) logEvent()       {}
func (FeeEvent) logEvent()        {}

// Package matching turns decoded protocol events into closed round-trip
// trades: fill extraction per transaction followed by FIFO matching per
// instrument.
package matching

import (
	"math"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
)

// ExtractFills walks each transaction's events in log order and returns the
// wallet's fills. Transactions are processed in the order given.
func ExtractFills(txs []domain.DecodedTransaction) []domain.Fill {
	var fills []domain.Fill
	for _, tx := range txs {
		fills = appendTxFills(fills, tx)
	}
	return fills
}

// appendTxFills runs the per-transaction state machine. The only state is the
// most recent unconsumed place-order event and the index of the last fill
// emitted by this transaction (for fee attribution).
func appendTxFills(fills []domain.Fill, tx domain.DecodedTransaction) []domain.Fill {
	var order *domain.PlaceOrderEvent
	last := -1

	for _, ev := range tx.Events {
		switch e := ev.(type) {
		case domain.PlaceOrderEvent:
			o := e
			order = &o

		case domain.FillEvent:
			fill := domain.Fill{
				Price:         e.Price,
				Quantity:      e.Quantity,
				Rebate:        math.Abs(e.Rebate),
				Timestamp:     tx.Timestamp,
				TransactionID: tx.ID,
				Market:        e.Market,
				Leverage:      1,
			}

			if order != nil && contextApplies(*order, e) {
				fill.Side = order.Side
				fill.InstrumentID = order.InstrumentID
				fill.OrderKind = OrderKindOf(order.OrderType, order.IOC)
				if e.Market == domain.MarketPerp && order.Leverage > 1 {
					fill.Leverage = order.Leverage
				}
				order = nil
			} else {
				// A resting order of ours was hit; the event reports the
				// matched side, so we were on the other one.
				fill.Side = e.Side.Opposite()
				fill.InstrumentID = e.InstrumentID
				fill.OrderKind = domain.OrderKindLimit
			}

			if !validQuantity(fill.Price) || !validQuantity(fill.Quantity) {
				last = -1
				continue
			}
			fills = append(fills, fill)
			last = len(fills) - 1

		case domain.FeeEvent:
			if last >= 0 && !math.IsNaN(e.Amount) && !math.IsInf(e.Amount, 0) {
				fills[last].Fee += math.Abs(e.Amount)
			}
		}
	}
	return fills
}

// contextApplies reports whether a place-order event describes the order
// that produced fill: same market, and the same instrument when the fill
// names one.
func contextApplies(order domain.PlaceOrderEvent, fill domain.FillEvent) bool {
	if order.Market != fill.Market {
		return false
	}
	return fill.InstrumentID == 0 || fill.InstrumentID == order.InstrumentID
}

// OrderKindOf normalises the program's order type. Immediate-or-cancel
// orders are reported as market orders.
func OrderKindOf(orderType int, ioc bool) domain.OrderKind {
	switch {
	case ioc:
		return domain.OrderKindMarket
	case orderType == 1:
		return domain.OrderKindMarket
	case orderType == 2:
		return domain.OrderKindStop
	default:
		return domain.OrderKindLimit
	}
}

func validQuantity(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

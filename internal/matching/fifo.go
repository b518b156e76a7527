package matching

import (
	"time"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
)

// DustQuantity is the size below which a lot or an unmatched remainder is
// treated as fully consumed.
const DustQuantity = 1e-12

// Residual holds the lots left open after matching one instrument.
type Residual struct {
	Longs  []domain.PositionLot
	Shorts []domain.PositionLot
}

// Instrument carries the metadata stamped on every trade of one instrument.
type Instrument struct {
	ID     uint32
	Symbol string
	Market domain.MarketKind
}

// MatchInstrument FIFO-matches fills of a single instrument. fills must be
// sorted by timestamp ascending. Trades are returned in emission order with
// empty IDs; fills with a non-positive price or quantity are skipped.
func MatchInstrument(fills []domain.Fill, inst Instrument) ([]domain.Trade, Residual) {
	var (
		trades []domain.Trade
		book   Residual
	)

	for _, fill := range fills {
		if !validQuantity(fill.Price) || !validQuantity(fill.Quantity) {
			continue
		}

		opposing, same := &book.Shorts, &book.Longs
		if fill.Side == domain.SideSell {
			opposing, same = &book.Longs, &book.Shorts
		}

		remaining := fill.Quantity
		for remaining > DustQuantity && len(*opposing) > 0 {
			lot := &(*opposing)[0]
			matched := min(remaining, lot.Quantity)

			entryFee := lot.Fee * matched / lot.Quantity
			if lot.Quantity-matched <= DustQuantity {
				entryFee = lot.Fee
			}
			exitFee := fill.Fee * matched / fill.Quantity

			trades = append(trades, closeLot(*lot, fill, inst, matched, entryFee+exitFee))

			lot.Fee -= entryFee
			lot.Quantity -= matched
			remaining -= matched
			if lot.Quantity <= DustQuantity {
				*opposing = (*opposing)[1:]
			}
		}

		if remaining > DustQuantity {
			*same = append(*same, domain.PositionLot{
				Price:         fill.Price,
				Quantity:      remaining,
				Fee:           fill.Fee * remaining / fill.Quantity,
				Timestamp:     fill.Timestamp,
				TransactionID: fill.TransactionID,
				OrderKind:     fill.OrderKind,
				Leverage:      fill.Leverage,
			})
		}
	}

	return trades, book
}

// closeLot builds the trade for matched units of lot closed by fill. A fill
// on the sell side closes a long lot.
func closeLot(lot domain.PositionLot, fill domain.Fill, inst Instrument, matched, fees float64) domain.Trade {
	side := domain.TradeSideShort
	gross := (lot.Price - fill.Price) * matched
	if fill.Side == domain.SideSell {
		side = domain.TradeSideLong
		gross = (fill.Price - lot.Price) * matched
	}

	notional := matched * lot.Price
	pnl := gross - fees
	var pct float64
	if notional > 0 {
		pct = pnl / notional * 100
	}

	return domain.Trade{
		Symbol:             inst.Symbol,
		Side:               side,
		EntryPrice:         lot.Price,
		ExitPrice:          fill.Price,
		Size:               notional,
		PnL:                pnl,
		PnLPercent:         pct,
		Fees:               fees,
		EntryTime:          time.Unix(lot.Timestamp, 0).UTC(),
		ExitTime:           time.Unix(fill.Timestamp, 0).UTC(),
		OrderKind:          fill.OrderKind,
		Leverage:           lot.Leverage,
		EntryTransactionID: lot.TransactionID,
		ExitTransactionID:  fill.TransactionID,
		InstrumentID:       inst.ID,
		Market:             inst.Market,
	}
}

package matching

import (
	"sort"
	"strconv"
	"strings"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
)

// SortTransactions orders txs by timestamp ascending in place. Equal
// timestamps are ordered by transaction id so the result does not depend on
// arrival order.
func SortTransactions(txs []domain.DecodedTransaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].Timestamp != txs[j].Timestamp {
			return txs[i].Timestamp < txs[j].Timestamp
		}
		return txs[i].ID < txs[j].ID
	})
}

// Reconstruct extracts fills from txs, matches each instrument in isolation
// and returns all closed trades, most recent exit first. txs is not
// modified. Trade ids are assigned "tx-0", "tx-1", ... in ascending
// instrument id order, then emission order.
func Reconstruct(txs []domain.DecodedTransaction, resolver domain.InstrumentResolver) []domain.Trade {
	sorted := make([]domain.DecodedTransaction, len(txs))
	copy(sorted, txs)
	SortTransactions(sorted)

	fills := ExtractFills(sorted)
	if len(fills) == 0 {
		return []domain.Trade{}
	}

	byInstrument := make(map[uint32][]domain.Fill)
	for _, f := range fills {
		byInstrument[f.InstrumentID] = append(byInstrument[f.InstrumentID], f)
	}
	ids := make([]uint32, 0, len(byInstrument))
	for id := range byInstrument {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	all := make([]domain.Trade, 0, len(fills))
	for _, id := range ids {
		group := byInstrument[id]
		trades, _ := MatchInstrument(group, describe(id, group, resolver))
		for i := range trades {
			trades[i].ID = "tx-" + strconv.Itoa(len(all)+i)
		}
		all = append(all, trades...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].ExitTime.After(all[j].ExitTime)
	})
	return all
}

// describe resolves display metadata for an instrument once. The resolver's
// market kind wins; fills are consulted when it has none.
func describe(id uint32, fills []domain.Fill, resolver domain.InstrumentResolver) Instrument {
	inst := Instrument{ID: id, Market: domain.MarketSpot}
	if len(fills) > 0 && fills[0].Market != "" {
		inst.Market = fills[0].Market
	}

	raw := "INSTR-" + strconv.FormatUint(uint64(id), 10)
	if resolver != nil {
		if kind := resolver.MarketKindFor(id); kind != "" {
			inst.Market = kind
		}
		if s := resolver.SymbolFor(id); s != "" {
			raw = s
		}
	}
	inst.Symbol = FormatSymbol(raw, inst.Market)
	return inst
}

// FormatSymbol renders perp symbols as "BASE-PERP". Spot symbols are
// returned unchanged.
func FormatSymbol(symbol string, market domain.MarketKind) string {
	if market != domain.MarketPerp {
		return symbol
	}
	if strings.HasSuffix(strings.ToUpper(symbol), "-PERP") {
		return symbol
	}
	base, _, _ := strings.Cut(symbol, "/")
	return base + "-PERP"
}

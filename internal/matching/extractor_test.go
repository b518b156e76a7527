package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
)

func TestExtractFills_ContextConsumedByFill(t *testing.T) {
	tx := domain.DecodedTransaction{
		ID:        "sig-1",
		Timestamp: 1700000000,
		Events: []domain.LogEvent{
			domain.PlaceOrderEvent{Market: domain.MarketPerp, InstrumentID: 4, Side: domain.SideBuy, OrderType: 1, Leverage: 5},
			domain.FillEvent{Market: domain.MarketPerp, Side: domain.SideSell, Price: 100, Quantity: 2},
			domain.FeeEvent{Market: domain.MarketPerp, Amount: -0.3},
			domain.FillEvent{Market: domain.MarketPerp, InstrumentID: 4, Side: domain.SideBuy, Price: 101, Quantity: 1, Rebate: -0.01},
		},
	}

	fills := ExtractFills([]domain.DecodedTransaction{tx})
	require.Len(t, fills, 2)

	first := fills[0]
	assert.Equal(t, domain.SideBuy, first.Side)
	assert.Equal(t, uint32(4), first.InstrumentID)
	assert.Equal(t, domain.OrderKindMarket, first.OrderKind)
	assert.Equal(t, 5, first.Leverage)
	assert.InDelta(t, 0.3, first.Fee, 1e-12)
	assert.Equal(t, "sig-1", first.TransactionID)
	assert.Equal(t, int64(1700000000), first.Timestamp)

	// Context was consumed: the second fill is passive and inverts the
	// matched side.
	second := fills[1]
	assert.Equal(t, domain.SideSell, second.Side)
	assert.Equal(t, domain.OrderKindLimit, second.OrderKind)
	assert.Equal(t, 1, second.Leverage)
	assert.Zero(t, second.Fee)
	assert.InDelta(t, 0.01, second.Rebate, 1e-12)
}

func TestExtractFills_ContextForOtherInstrumentIgnored(t *testing.T) {
	tx := domain.DecodedTransaction{
		ID: "sig-2",
		Events: []domain.LogEvent{
			domain.PlaceOrderEvent{Market: domain.MarketSpot, InstrumentID: 1, Side: domain.SideSell, IOC: true, Leverage: 1},
			domain.FillEvent{Market: domain.MarketSpot, InstrumentID: 2, Side: domain.SideSell, Price: 5, Quantity: 1},
			domain.FillEvent{Market: domain.MarketSpot, InstrumentID: 1, Side: domain.SideBuy, Price: 6, Quantity: 1},
		},
	}

	fills := ExtractFills([]domain.DecodedTransaction{tx})
	require.Len(t, fills, 2)
	assert.Equal(t, domain.SideBuy, fills[0].Side)
	assert.Equal(t, uint32(2), fills[0].InstrumentID)
	assert.Equal(t, domain.SideSell, fills[1].Side)
	assert.Equal(t, uint32(1), fills[1].InstrumentID)
	assert.Equal(t, domain.OrderKindMarket, fills[1].OrderKind)
}

func TestExtractFills_SpotLeverageAlwaysOne(t *testing.T) {
	tx := domain.DecodedTransaction{
		ID: "sig-3",
		Events: []domain.LogEvent{
			domain.PlaceOrderEvent{Market: domain.MarketSpot, InstrumentID: 1, Side: domain.SideBuy, Leverage: 10},
			domain.FillEvent{Market: domain.MarketSpot, Price: 5, Quantity: 1},
		},
	}
	fills := ExtractFills([]domain.DecodedTransaction{tx})
	require.Len(t, fills, 1)
	assert.Equal(t, 1, fills[0].Leverage)
}

func TestExtractFills_FeeDoesNotCrossTransactions(t *testing.T) {
	txs := []domain.DecodedTransaction{
		{ID: "a", Events: []domain.LogEvent{
			domain.FillEvent{Market: domain.MarketSpot, Side: domain.SideBuy, Price: 1, Quantity: 1},
		}},
		{ID: "b", Events: []domain.LogEvent{
			domain.FeeEvent{Market: domain.MarketSpot, Amount: 9},
		}},
	}
	fills := ExtractFills(txs)
	require.Len(t, fills, 1)
	assert.Zero(t, fills[0].Fee)
}

func TestExtractFills_FeesAfterFillAreSummed(t *testing.T) {
	tx := domain.DecodedTransaction{
		ID: "sig-5",
		Events: []domain.LogEvent{
			domain.FillEvent{Market: domain.MarketSpot, InstrumentID: 1, Side: domain.SideBuy, Price: 10, Quantity: 1},
			domain.FeeEvent{Market: domain.MarketSpot, Amount: 0.2},
			domain.FeeEvent{Market: domain.MarketSpot, Amount: -0.05},
		},
	}
	fills := ExtractFills([]domain.DecodedTransaction{tx})
	require.Len(t, fills, 1)
	assert.InDelta(t, 0.25, fills[0].Fee, 1e-12)
}

func TestExtractFills_MalformedFillSkipped(t *testing.T) {
	tx := domain.DecodedTransaction{
		ID: "sig-4",
		Events: []domain.LogEvent{
			domain.FillEvent{Market: domain.MarketSpot, Side: domain.SideBuy, Price: 0, Quantity: 1},
			domain.FeeEvent{Market: domain.MarketSpot, Amount: 1},
		},
	}
	assert.Empty(t, ExtractFills([]domain.DecodedTransaction{tx}))
}

func TestOrderKindOf(t *testing.T) {
	assert.Equal(t, domain.OrderKindMarket, OrderKindOf(0, true))
	assert.Equal(t, domain.OrderKindMarket, OrderKindOf(2, true))
	assert.Equal(t, domain.OrderKindMarket, OrderKindOf(1, false))
	assert.Equal(t, domain.OrderKindStop, OrderKindOf(2, false))
	assert.Equal(t, domain.OrderKindLimit, OrderKindOf(0, false))
	assert.Equal(t, domain.OrderKindLimit, OrderKindOf(7, false))
}

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdigaliarsen/deriverse-insights/internal/cache/memory"
	"github.com/abdigaliarsen/deriverse-insights/internal/config"
	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
	"github.com/abdigaliarsen/deriverse-insights/internal/pipeline"
	"github.com/abdigaliarsen/deriverse-insights/internal/service"
)

type stubRunner struct {
	trades []domain.Trade
}

func (s stubRunner) Run(_ context.Context, wallet string, _ domain.ProgressFunc, _ pipeline.TradesFunc) (pipeline.Result, error) {
	return pipeline.Result{Wallet: wallet, Trades: s.trades, Signatures: 7}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOnceMode_WritesJSONLines(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "once"

	trades := []domain.Trade{
		{ID: "tx-1", Symbol: "SOL-PERP", Side: domain.TradeSideLong, PnL: 12.5},
		{ID: "tx-0", Symbol: "SOL/USDC", Side: domain.TradeSideShort, PnL: -2.5},
	}
	deps := &Dependencies{
		History: service.NewHistoryService(service.HistoryDeps{
			Runner: stubRunner{trades: trades},
			Cache:  memory.NewTradeCache(time.Minute),
		}, service.HistoryConfig{}, discardLogger()),
	}

	var out bytes.Buffer
	a := New(&cfg, discardLogger())
	a.out = &out

	require.NoError(t, a.OnceMode(context.Background(), deps))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var first domain.Trade
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "tx-1", first.ID)
	assert.InDelta(t, 10.0, totalPnL(trades), 1e-9)
}

func TestOnceMode_InvalidWallet(t *testing.T) {
	cfg := config.Defaults()
	cfg.Wallet = "not-a-wallet"
	deps := &Dependencies{
		History: service.NewHistoryService(service.HistoryDeps{
			Runner: stubRunner{},
			Cache:  memory.NewTradeCache(time.Minute),
		}, service.HistoryConfig{}, discardLogger()),
	}

	err := New(&cfg, discardLogger()).OnceMode(context.Background(), deps)
	assert.ErrorIs(t, err, domain.ErrInvalidWallet)
}

func TestNewInstrumentRegistry(t *testing.T) {
	reg := newInstrumentRegistry([]config.InstrumentConfig{
		{ID: 0, Symbol: "SOL/USDC"},
		{ID: 1, Symbol: "SOL-PERP"},
		{ID: 2, Symbol: "BTC/USDC", Kind: "perp"},
	})

	assert.Equal(t, domain.MarketSpot, reg.MarketKindFor(0))
	assert.Equal(t, domain.MarketPerp, reg.MarketKindFor(1))
	assert.Equal(t, domain.MarketPerp, reg.MarketKindFor(2))
	assert.Equal(t, "SOL-PERP", reg.SymbolFor(1))
}

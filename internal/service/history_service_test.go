package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdigaliarsen/deriverse-insights/internal/cache/memory"
	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
	"github.com/abdigaliarsen/deriverse-insights/internal/pipeline"
	"github.com/abdigaliarsen/deriverse-insights/internal/retry"
)

const testWallet = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

type runnerFunc func(ctx context.Context, wallet string, progress domain.ProgressFunc, onTrades pipeline.TradesFunc) (pipeline.Result, error)

func (f runnerFunc) Run(ctx context.Context, wallet string, progress domain.ProgressFunc, onTrades pipeline.TradesFunc) (pipeline.Result, error) {
	return f(ctx, wallet, progress, onTrades)
}

func staticRunner(calls *atomic.Int32, trades ...domain.Trade) runnerFunc {
	return func(_ context.Context, wallet string, progress domain.ProgressFunc, onTrades pipeline.TradesFunc) (pipeline.Result, error) {
		calls.Add(1)
		progress.Report(domain.Progress{Phase: domain.PhaseSignatures, Message: "Finding transactions..."})
		onTrades(trades)
		return pipeline.Result{
			Wallet:     wallet,
			Trades:     trades,
			Signatures: 3,
			Decoded:    2,
			Stats:      pipeline.FetchStats{Requested: 3, Fetched: 2, Failed: 1},
		}, nil
	}
}

type memTradeStore struct {
	mu       sync.Mutex
	byWallet map[string][]domain.Trade
	err      error
}

func (m *memTradeStore) ReplaceWallet(_ context.Context, wallet string, trades []domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.byWallet == nil {
		m.byWallet = make(map[string][]domain.Trade)
	}
	m.byWallet[wallet] = trades
	return nil
}

func (m *memTradeStore) ListByWallet(_ context.Context, wallet string, _ domain.ListOpts) ([]domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byWallet[wallet], nil
}

func (m *memTradeStore) CountByWallet(_ context.Context, wallet string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.byWallet[wallet])), nil
}

type memRunStore struct {
	mu   sync.Mutex
	runs []domain.RunRecord
}

func (m *memRunStore) Insert(_ context.Context, run domain.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *memRunStore) ListByWallet(_ context.Context, wallet string, _ int) ([]domain.RunRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RunRecord
	for _, r := range m.runs {
		if r.Wallet == wallet {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRunStore) snapshot() []domain.RunRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.RunRecord(nil), m.runs...)
}

type fakeExporter struct {
	calls atomic.Int32
}

func (f *fakeExporter) ExportTrades(_ context.Context, wallet string, _ []domain.Trade) (string, error) {
	f.calls.Add(1)
	return "exports/" + wallet + "/x.csv", nil
}

func (f *fakeExporter) ListExports(context.Context, string) ([]domain.BlobInfo, error) {
	return []domain.BlobInfo{{Path: "exports/x.csv"}}, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	statuses []string
}

func (f *fakeNotifier) NotifyRun(_ context.Context, run domain.RunRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, run.Status)
	return nil
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, fmt.Errorf("redis: %w", domain.ErrLockHeld)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func oneTrade() domain.Trade {
	return domain.Trade{ID: "tx-0", Symbol: "SOL", Side: domain.TradeSideLong, EntryPrice: 10, ExitPrice: 11, Size: 10, PnL: 1}
}

func TestTrades_CachesCompletedRun(t *testing.T) {
	var calls atomic.Int32
	store := &memTradeStore{}
	runs := &memRunStore{}
	exp := &fakeExporter{}
	notifier := &fakeNotifier{}
	svc := NewHistoryService(HistoryDeps{
		Runner:   staticRunner(&calls, oneTrade()),
		Cache:    memory.NewTradeCache(time.Minute),
		Trades:   store,
		Runs:     runs,
		Exporter: exp,
		Notifier: notifier,
	}, HistoryConfig{ExportOnComplete: true}, discardLogger())

	ctx := context.Background()
	first, err := svc.Trades(ctx, " "+testWallet+" ")
	require.NoError(t, err)
	assert.False(t, first.IsCached)
	assert.Equal(t, testWallet, first.Wallet)
	assert.Len(t, first.Trades, 1)
	assert.Equal(t, 3, first.TotalSignatures)
	assert.NotEmpty(t, first.RunID)
	assert.Equal(t, "exports/"+testWallet+"/x.csv", first.ExportPath)

	second, err := svc.Trades(ctx, testWallet)
	require.NoError(t, err)
	assert.True(t, second.IsCached)
	assert.Len(t, second.Trades, 1)
	assert.Equal(t, int32(1), calls.Load())

	stored, total, err := svc.Stored(ctx, testWallet, domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, stored, 1)
	assert.Equal(t, int64(1), total)

	recorded := runs.snapshot()
	require.Len(t, recorded, 1)
	assert.Equal(t, domain.RunCompleted, recorded[0].Status)
	assert.Equal(t, 2, recorded[0].Fetched)
	assert.Equal(t, 1, recorded[0].Dropped)
	assert.Equal(t, 1, recorded[0].Trades)
	assert.Equal(t, []string{domain.RunCompleted}, notifier.statuses)
	assert.Equal(t, int32(1), exp.calls.Load())
}

func TestTrades_InvalidWallet(t *testing.T) {
	var calls atomic.Int32
	svc := NewHistoryService(HistoryDeps{
		Runner: staticRunner(&calls),
		Cache:  memory.NewTradeCache(time.Minute),
	}, HistoryConfig{}, discardLogger())

	_, err := svc.Trades(context.Background(), "not-a-wallet")
	require.ErrorIs(t, err, domain.ErrInvalidWallet)
	assert.Equal(t, int32(0), calls.Load())
}

func TestRefresh_SkipsCache(t *testing.T) {
	var calls atomic.Int32
	cache := memory.NewTradeCache(time.Minute)
	cache.Set(context.Background(), testWallet, []domain.Trade{oneTrade(), oneTrade()}, 9)
	svc := NewHistoryService(HistoryDeps{
		Runner: staticRunner(&calls, oneTrade()),
		Cache:  cache,
	}, HistoryConfig{}, discardLogger())

	hist, err := svc.Refresh(context.Background(), testWallet)
	require.NoError(t, err)
	assert.False(t, hist.IsCached)
	assert.Len(t, hist.Trades, 1)
	assert.Equal(t, int32(1), calls.Load())

	cached, ok := cache.Get(context.Background(), testWallet)
	require.True(t, ok)
	assert.Len(t, cached, 1)
}

func TestRun_FailureNotCached(t *testing.T) {
	runs := &memRunStore{}
	notifier := &fakeNotifier{}
	cache := memory.NewTradeCache(time.Minute)
	svc := NewHistoryService(HistoryDeps{
		Runner: runnerFunc(func(context.Context, string, domain.ProgressFunc, pipeline.TradesFunc) (pipeline.Result, error) {
			return pipeline.Result{Trades: []domain.Trade{}}, errors.New("discovery: rpc down")
		}),
		Cache:    cache,
		Runs:     runs,
		Notifier: notifier,
	}, HistoryConfig{}, discardLogger())

	_, err := svc.Trades(context.Background(), testWallet)
	require.Error(t, err)

	_, ok := cache.Get(context.Background(), testWallet)
	assert.False(t, ok)
	recorded := runs.snapshot()
	require.Len(t, recorded, 1)
	assert.Equal(t, domain.RunFailed, recorded[0].Status)
	assert.Equal(t, "discovery: rpc down", recorded[0].Error)
	assert.Equal(t, []string{domain.RunFailed}, notifier.statuses)
}

// cancellingLedger serves two transactions and cancels the run as soon as
// the first fetch starts, while the fetches themselves still complete.
type cancellingLedger struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (l *cancellingLedger) ListSignatures(_ context.Context, _, before string, _ int) ([]domain.SignatureEntry, error) {
	if before != "" {
		return nil, nil
	}
	t1, t2 := int64(200), int64(100)
	return []domain.SignatureEntry{{Signature: "close", BlockTime: &t1}, {Signature: "open", BlockTime: &t2}}, nil
}

func (l *cancellingLedger) GetTransaction(ctx context.Context, sig string) (*domain.RawTransaction, error) {
	l.once.Do(l.cancel)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	return &domain.RawTransaction{ID: sig, LogLines: []string{sig}}, nil
}

// roundTripDecoder turns "open" into a buy and "close" into a sell.
type roundTripDecoder struct{}

func (roundTripDecoder) Decode(ctx context.Context, lines []string) ([]domain.LogEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	side, price := domain.SideBuy, 100.0
	if lines[0] == "close" {
		side, price = domain.SideSell, 110.0
	}
	return []domain.LogEvent{
		domain.PlaceOrderEvent{Market: domain.MarketSpot, InstrumentID: 1, Side: side},
		domain.FillEvent{Market: domain.MarketSpot, InstrumentID: 1, Side: side.Opposite(), Price: price, Quantity: 10},
	}, nil
}

func TestRun_CancelledMidBatchNotCached(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ledger := &cancellingLedger{cancel: cancel}
	logger := discardLogger()
	policy := retry.Policy{MaxAttempts: 2, BaseDelay: time.Microsecond}
	runner := pipeline.NewOrchestrator(
		pipeline.NewDiscovery(ledger, pipeline.DiscoveryConfig{Retry: policy}, logger),
		pipeline.NewFetcher(ledger, pipeline.FetcherConfig{BatchSize: 2, Retry: policy}, nil, logger),
		roundTripDecoder{},
		nil,
		nil,
		logger,
	)

	runs := &memRunStore{}
	store := &memTradeStore{}
	cache := memory.NewTradeCache(time.Minute)
	svc := NewHistoryService(HistoryDeps{
		Runner: runner,
		Cache:  cache,
		Trades: store,
		Runs:   runs,
	}, HistoryConfig{}, logger)

	hist, err := svc.Trades(ctx, testWallet)
	require.ErrorIs(t, err, domain.ErrCancelled)
	// The batch in flight at cancellation is kept in the partial result.
	assert.Len(t, hist.Trades, 1)

	_, ok := cache.Get(context.Background(), testWallet)
	assert.False(t, ok)
	stored, _, err := svc.Stored(context.Background(), testWallet, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, stored)

	recorded := runs.snapshot()
	require.Len(t, recorded, 1)
	assert.Equal(t, domain.RunCancelled, recorded[0].Status)
	assert.Equal(t, 2, recorded[0].Fetched)
}

func TestRun_NewRunSupersedesPrevious(t *testing.T) {
	started := make(chan struct{})
	var n atomic.Int32
	runner := runnerFunc(func(ctx context.Context, wallet string, _ domain.ProgressFunc, _ pipeline.TradesFunc) (pipeline.Result, error) {
		if n.Add(1) == 1 {
			close(started)
			<-ctx.Done()
			return pipeline.Result{Wallet: wallet, Trades: []domain.Trade{oneTrade()}},
				fmt.Errorf("pipeline: %w: %w", domain.ErrCancelled, context.Cause(ctx))
		}
		return pipeline.Result{Wallet: wallet, Trades: []domain.Trade{}}, nil
	})
	runs := &memRunStore{}
	svc := NewHistoryService(HistoryDeps{
		Runner: runner,
		Cache:  memory.NewTradeCache(time.Minute),
		Runs:   runs,
	}, HistoryConfig{}, discardLogger())

	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Trades(context.Background(), testWallet)
		firstErr <- err
	}()
	<-started

	_, err := svc.Refresh(context.Background(), testWallet)
	require.NoError(t, err)

	select {
	case err := <-firstErr:
		require.ErrorIs(t, err, domain.ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("first run was not cancelled")
	}

	statuses := map[string]int{}
	for _, r := range runs.snapshot() {
		statuses[r.Status]++
	}
	assert.Equal(t, map[string]int{domain.RunCancelled: 1, domain.RunCompleted: 1}, statuses)
}

func TestRun_LockHeldElsewhere(t *testing.T) {
	var calls atomic.Int32
	svc := NewHistoryService(HistoryDeps{
		Runner: staticRunner(&calls),
		Cache:  memory.NewTradeCache(time.Minute),
		Locks:  heldLocks{},
	}, HistoryConfig{LockWait: 10 * time.Millisecond}, discardLogger())

	_, err := svc.Trades(context.Background(), testWallet)
	require.ErrorIs(t, err, domain.ErrRunInProgress)
	assert.Equal(t, int32(0), calls.Load())
}

func TestRefreshAsync_PublishesEvents(t *testing.T) {
	var calls atomic.Int32
	bus := memory.NewSignalBus()
	svc := NewHistoryService(HistoryDeps{
		Runner: staticRunner(&calls, oneTrade()),
		Cache:  memory.NewTradeCache(time.Minute),
		Bus:    bus,
	}, HistoryConfig{}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := bus.Subscribe(ctx, ProgressChannelPrefix+"*")
	require.NoError(t, err)

	require.NoError(t, svc.RefreshAsync(ctx, testWallet))

	var types []string
	timeout := time.After(2 * time.Second)
	for len(types) == 0 || types[len(types)-1] != "done" {
		select {
		case payload := <-events:
			var evt RunEvent
			require.NoError(t, json.Unmarshal(payload, &evt))
			assert.Equal(t, testWallet, evt.Wallet)
			types = append(types, evt.Type)
		case <-timeout:
			t.Fatalf("no done event, got %v", types)
		}
	}
	assert.Equal(t, []string{"progress", "trades", "done"}, types)
	require.NoError(t, svc.Shutdown(context.Background()))
}

func TestClearCacheAndListings(t *testing.T) {
	cache := memory.NewTradeCache(time.Minute)
	cache.Set(context.Background(), testWallet, []domain.Trade{oneTrade()}, 1)
	svc := NewHistoryService(HistoryDeps{
		Runner:   staticRunner(new(atomic.Int32)),
		Cache:    cache,
		Exporter: &fakeExporter{},
	}, HistoryConfig{}, discardLogger())

	require.NoError(t, svc.ClearCache(context.Background(), testWallet))
	_, ok := cache.Get(context.Background(), testWallet)
	assert.False(t, ok)

	runs, err := svc.Runs(context.Background(), testWallet, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)

	exports, err := svc.Exports(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Len(t, exports, 1)

	_, _, err = svc.Stored(context.Background(), testWallet, domain.ListOpts{})
	require.ErrorIs(t, err, domain.ErrNotFound)

	assert.False(t, svc.Cancel(testWallet))
}

// Package service coordinates reconstruction runs with the cache, the
// stores and the outer surfaces.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
	"github.com/abdigaliarsen/deriverse-insights/internal/metrics"
	"github.com/abdigaliarsen/deriverse-insights/internal/pipeline"
	"github.com/abdigaliarsen/deriverse-insights/internal/retry"
)

// ProgressChannelPrefix prefixes the signal bus channel carrying a wallet's
// run events.
const ProgressChannelPrefix = "progress:"

const (
	defaultLockTTL  = 10 * time.Minute
	defaultLockWait = 5 * time.Second
	lockPollEvery   = 100 * time.Millisecond
)

// Reconstructor runs the reconstruction pipeline for one wallet.
// *pipeline.Orchestrator satisfies it.
type Reconstructor interface {
	Run(ctx context.Context, wallet string, progress domain.ProgressFunc, onTrades pipeline.TradesFunc) (pipeline.Result, error)
}

// RunNotifier announces finished runs.
type RunNotifier interface {
	NotifyRun(ctx context.Context, run domain.RunRecord) error
}

// HistoryConfig tunes the history service.
type HistoryConfig struct {
	LockTTL          time.Duration
	LockWait         time.Duration
	ExportOnComplete bool
}

// HistoryDeps holds the collaborators of a HistoryService. Only Runner and
// Cache are required.
type HistoryDeps struct {
	Runner   Reconstructor
	Cache    domain.TradeCache
	Trades   domain.TradeStore
	Runs     domain.RunStore
	Exporter domain.TradeExporter
	Locks    domain.LockManager
	Bus      domain.SignalBus
	Notifier RunNotifier
	Metrics  *metrics.Metrics
}

// History is the answer to a trade history request.
type History struct {
	Wallet          string         `json:"wallet"`
	Trades          []domain.Trade `json:"trades"`
	IsCached        bool           `json:"isCached"`
	TotalSignatures int            `json:"totalSignatures"`
	RunID           string         `json:"runId,omitempty"`
	ExportPath      string         `json:"exportPath,omitempty"`
}

// RunEvent is published on the wallet's progress channel.
type RunEvent struct {
	Type     string           `json:"type"` // "progress", "trades", "done", "error"
	RunID    string           `json:"runId"`
	Wallet   string           `json:"wallet"`
	Progress *domain.Progress `json:"progress,omitempty"`
	Trades   []domain.Trade   `json:"trades,omitempty"`
	Status   string           `json:"status,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type activeRun struct {
	id     string
	cancel context.CancelFunc
}

// HistoryService serves wallet trade histories. At most one run per wallet
// is active in a process; starting a new one cancels the previous.
type HistoryService struct {
	deps   HistoryDeps
	cfg    HistoryConfig
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]activeRun
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewHistoryService creates a HistoryService.
func NewHistoryService(deps HistoryDeps, cfg HistoryConfig, logger *slog.Logger) *HistoryService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = defaultLockWait
	}
	return &HistoryService{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "history_service")),
		active: make(map[string]activeRun),
		now:    time.Now,
	}
}

// Trades returns the wallet's trade history, from cache when fresh and
// otherwise by running the pipeline and waiting for it.
func (s *HistoryService) Trades(ctx context.Context, wallet string) (History, error) {
	wallet, err := domain.ValidateWallet(wallet)
	if err != nil {
		return History{}, err
	}

	if trades, ok := s.deps.Cache.Get(ctx, wallet); ok {
		s.deps.Metrics.ObserveCache(true)
		return History{Wallet: wallet, Trades: trades, IsCached: true}, nil
	}
	s.deps.Metrics.ObserveCache(false)

	return s.run(ctx, wallet)
}

// Refresh clears the cached history and rebuilds it.
func (s *HistoryService) Refresh(ctx context.Context, wallet string) (History, error) {
	wallet, err := domain.ValidateWallet(wallet)
	if err != nil {
		return History{}, err
	}
	s.deps.Cache.Clear(ctx, wallet)
	return s.run(ctx, wallet)
}

// RefreshAsync clears the cached history and rebuilds it in the background.
// Progress and the result are published on the wallet's progress channel.
// The run outlives ctx's cancellation but not Shutdown.
func (s *HistoryService) RefreshAsync(ctx context.Context, wallet string) error {
	wallet, err := domain.ValidateWallet(wallet)
	if err != nil {
		return err
	}
	s.deps.Cache.Clear(ctx, wallet)

	bg := context.WithoutCancel(ctx)
	s.wg.Go(func() {
		if _, err := s.run(bg, wallet); err != nil && !errors.Is(err, domain.ErrCancelled) {
			s.logger.WarnContext(bg, "background run failed",
				slog.String("wallet", wallet),
				slog.String("error", err.Error()),
			)
		}
	})
	return nil
}

// ClearCache drops the wallet's cached history.
func (s *HistoryService) ClearCache(ctx context.Context, wallet string) error {
	wallet, err := domain.ValidateWallet(wallet)
	if err != nil {
		return err
	}
	s.deps.Cache.Clear(ctx, wallet)
	return nil
}

// Cancel stops the wallet's active run, if any.
func (s *HistoryService) Cancel(wallet string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.active[wallet]
	if ok {
		run.cancel()
	}
	return ok
}

// Stored returns persisted trades for the wallet and the total count.
func (s *HistoryService) Stored(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Trade, int64, error) {
	wallet, err := domain.ValidateWallet(wallet)
	if err != nil {
		return nil, 0, err
	}
	if s.deps.Trades == nil {
		return nil, 0, fmt.Errorf("history_service: %w: trade store not configured", domain.ErrNotFound)
	}
	trades, err := s.deps.Trades.ListByWallet(ctx, wallet, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("history_service: list trades: %w", err)
	}
	total, err := s.deps.Trades.CountByWallet(ctx, wallet)
	if err != nil {
		return nil, 0, fmt.Errorf("history_service: count trades: %w", err)
	}
	return trades, total, nil
}

// Runs returns the wallet's most recent run records.
func (s *HistoryService) Runs(ctx context.Context, wallet string, limit int) ([]domain.RunRecord, error) {
	wallet, err := domain.ValidateWallet(wallet)
	if err != nil {
		return nil, err
	}
	if s.deps.Runs == nil {
		return []domain.RunRecord{}, nil
	}
	runs, err := s.deps.Runs.ListByWallet(ctx, wallet, limit)
	if err != nil {
		return nil, fmt.Errorf("history_service: list runs: %w", err)
	}
	return runs, nil
}

// Exports lists the wallet's uploaded exports, newest first.
func (s *HistoryService) Exports(ctx context.Context, wallet string) ([]domain.BlobInfo, error) {
	wallet, err := domain.ValidateWallet(wallet)
	if err != nil {
		return nil, err
	}
	if s.deps.Exporter == nil {
		return []domain.BlobInfo{}, nil
	}
	return s.deps.Exporter.ListExports(ctx, wallet)
}

// Shutdown cancels every active run and waits for background runs to end.
func (s *HistoryService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, run := range s.active {
		run.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes one reconstruction and records its outcome.
func (s *HistoryService) run(ctx context.Context, wallet string) (History, error) {
	runID := uuid.NewString()
	runCtx, release := s.register(ctx, wallet, runID)
	defer release()

	if s.deps.Locks != nil {
		unlock, err := s.acquireLock(runCtx, wallet)
		switch {
		case err == nil:
			defer unlock()
		case errors.Is(err, domain.ErrLockHeld):
			return History{}, fmt.Errorf("history_service: %s: %w", wallet, domain.ErrRunInProgress)
		case runCtx.Err() != nil:
			return History{}, fmt.Errorf("history_service: %w: %w", domain.ErrCancelled, context.Cause(runCtx))
		default:
			s.logger.WarnContext(ctx, "run lock unavailable, continuing without it",
				slog.String("wallet", wallet),
				slog.String("error", err.Error()),
			)
		}
	}

	started := s.now()
	res, runErr := s.deps.Runner.Run(runCtx, wallet,
		func(p domain.Progress) {
			s.publish(runCtx, RunEvent{Type: "progress", RunID: runID, Wallet: wallet, Progress: &p})
		},
		func(trades []domain.Trade) {
			s.publish(runCtx, RunEvent{Type: "trades", RunID: runID, Wallet: wallet, Trades: trades})
		},
	)

	status := domain.RunCompleted
	switch {
	case runErr == nil:
	case errors.Is(runErr, domain.ErrCancelled):
		status = domain.RunCancelled
	default:
		status = domain.RunFailed
	}

	// Bookkeeping runs even when the run itself was cancelled.
	persistCtx := context.WithoutCancel(ctx)
	hist := History{
		Wallet:          wallet,
		Trades:          res.Trades,
		TotalSignatures: res.Signatures,
		RunID:           runID,
	}
	if status == domain.RunCompleted {
		hist.ExportPath = s.complete(persistCtx, wallet, res)
	}

	record := domain.RunRecord{
		ID:         runID,
		Wallet:     wallet,
		Status:     status,
		Signatures: res.Signatures,
		Fetched:    res.Stats.Fetched,
		Dropped:    res.Stats.Pruned + res.Stats.Failed,
		Decoded:    res.Decoded,
		Trades:     len(res.Trades),
		StartedAt:  started,
		FinishedAt: s.now(),
	}
	if runErr != nil {
		record.Error = runErr.Error()
	}
	s.finish(persistCtx, record)

	final := RunEvent{Type: "done", RunID: runID, Wallet: wallet, Status: status}
	if runErr != nil {
		final.Type = "error"
		final.Error = runErr.Error()
	}
	s.publish(persistCtx, final)

	if runErr != nil {
		return hist, runErr
	}
	return hist, nil
}

// register records the wallet's active run, cancelling any previous one. The
// returned release func cancels the run context and forgets the entry.
func (s *HistoryService) register(ctx context.Context, wallet, runID string) (context.Context, func()) {
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if prev, ok := s.active[wallet]; ok {
		s.logger.InfoContext(ctx, "superseding active run",
			slog.String("wallet", wallet),
			slog.String("previous_run", prev.id),
		)
		prev.cancel()
	}
	s.active[wallet] = activeRun{id: runID, cancel: cancel}
	s.mu.Unlock()

	return runCtx, func() {
		cancel()
		s.mu.Lock()
		if cur, ok := s.active[wallet]; ok && cur.id == runID {
			delete(s.active, wallet)
		}
		s.mu.Unlock()
	}
}

// acquireLock takes the wallet's distributed lock, polling for up to
// LockWait while a superseded run releases it.
func (s *HistoryService) acquireLock(ctx context.Context, wallet string) (func(), error) {
	deadline := s.now().Add(s.cfg.LockWait)
	for {
		unlock, err := s.deps.Locks.Acquire(ctx, "history:"+wallet, s.cfg.LockTTL)
		if err == nil || !errors.Is(err, domain.ErrLockHeld) || !s.now().Before(deadline) {
			return unlock, err
		}
		if err := retry.Sleep(ctx, lockPollEvery); err != nil {
			return nil, err
		}
	}
}

// complete caches, persists and optionally exports a finished history. It
// returns the export path, or "" when nothing was exported.
func (s *HistoryService) complete(ctx context.Context, wallet string, res pipeline.Result) string {
	s.deps.Cache.Set(ctx, wallet, res.Trades, res.Signatures)

	if s.deps.Trades != nil {
		if err := s.deps.Trades.ReplaceWallet(ctx, wallet, res.Trades); err != nil {
			s.logger.WarnContext(ctx, "persist trades failed",
				slog.String("wallet", wallet),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.deps.Exporter == nil || !s.cfg.ExportOnComplete {
		return ""
	}
	path, err := s.deps.Exporter.ExportTrades(ctx, wallet, res.Trades)
	if err != nil {
		s.logger.WarnContext(ctx, "export trades failed",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return path
}

// finish records the run in the audit log, metrics and notifications.
func (s *HistoryService) finish(ctx context.Context, record domain.RunRecord) {
	s.deps.Metrics.ObserveRun(record.Status, record.Trades, record.Duration())

	if s.deps.Runs != nil {
		if err := s.deps.Runs.Insert(ctx, record); err != nil {
			s.logger.WarnContext(ctx, "record run failed",
				slog.String("run_id", record.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.deps.Notifier != nil {
		if err := s.deps.Notifier.NotifyRun(ctx, record); err != nil {
			s.logger.WarnContext(ctx, "notify run failed",
				slog.String("run_id", record.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "run finished",
		slog.String("run_id", record.ID),
		slog.String("wallet", record.Wallet),
		slog.String("status", record.Status),
		slog.Int("trades", record.Trades),
		slog.Duration("took", record.Duration()),
	)
}

// publish sends a run event on the wallet's progress channel. Failures are
// logged and otherwise ignored.
func (s *HistoryService) publish(ctx context.Context, evt RunEvent) {
	if s.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := s.deps.Bus.Publish(context.WithoutCancel(ctx), ProgressChannelPrefix+evt.Wallet, payload); err != nil {
		s.logger.DebugContext(ctx, "publish run event failed",
			slog.String("wallet", evt.Wallet),
			slog.String("error", err.Error()),
		)
	}
}

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
	"github.com/abdigaliarsen/deriverse-insights/internal/metrics"
	"github.com/abdigaliarsen/deriverse-insights/internal/retry"
)

const (
	DefaultBatchSize  = 25
	DefaultBatchDelay = 100 * time.Millisecond
)

// FetcherConfig tunes the transaction fetcher.
type FetcherConfig struct {
	BatchSize  int
	BatchDelay time.Duration
	Retry      retry.Policy
}

// FetchStats counts fetch outcomes. Fetched + Pruned + Failed equals the
// number of signatures attempted.
type FetchStats struct {
	Requested int `json:"requested"`
	Fetched   int `json:"fetched"`
	Pruned    int `json:"pruned"`
	Failed    int `json:"failed"`
	Batches   int `json:"batches"`
}

// Attempted returns the number of signatures whose fetch has finished.
func (s FetchStats) Attempted() int {
	return s.Fetched + s.Pruned + s.Failed
}

// Batch is the outcome of one fetch batch.
type Batch struct {
	Index        int // zero-based
	Total        int
	Transactions []domain.RawTransaction
	Stats        FetchStats // cumulative
}

// BatchFunc is called synchronously after each batch completes.
type BatchFunc func(Batch)

// Fetcher downloads transactions in fixed-size concurrent batches.
type Fetcher struct {
	client  domain.LedgerClient
	cfg     FetcherConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewFetcher creates a Fetcher. Zero config values take the defaults.
func NewFetcher(client domain.LedgerClient, cfg FetcherConfig, m *metrics.Metrics, logger *slog.Logger) *Fetcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchDelay < 0 {
		cfg.BatchDelay = 0
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy
	}
	return &Fetcher{
		client:  client,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With(slog.String("component", "fetcher")),
	}
}

type fetchOutcome int

const (
	outcomeFetched fetchOutcome = iota
	outcomePruned
	outcomeFailed
)

// Fetch downloads the transactions for sigs. Each fetch is retried per the
// retry policy; exhausted and pruned fetches are omitted from the result and
// counted in the stats. Cancellation is checked at batch boundaries: a batch
// that has started runs to completion under a detached context and is
// delivered to onBatch, but no new batch is started.
//
// On cancellation, including cancellation during the final batch, the
// transactions fetched so far are returned together with an error wrapping
// domain.ErrCancelled.
func (f *Fetcher) Fetch(ctx context.Context, sigs []domain.SignatureRecord, onBatch BatchFunc) ([]domain.RawTransaction, FetchStats, error) {
	stats := FetchStats{Requested: len(sigs)}
	out := make([]domain.RawTransaction, 0, len(sigs))
	total := (len(sigs) + f.cfg.BatchSize - 1) / f.cfg.BatchSize

	for i, start := 0, 0; start < len(sigs); i, start = i+1, start+f.cfg.BatchSize {
		if ctx.Err() != nil {
			return out, stats, cancelled(ctx)
		}

		end := min(start+f.cfg.BatchSize, len(sigs))
		batch := f.fetchBatch(ctx, sigs[start:end], &stats)
		stats.Batches++
		out = append(out, batch...)

		if onBatch != nil {
			onBatch(Batch{Index: i, Total: total, Transactions: batch, Stats: stats})
		}
		if ctx.Err() != nil {
			return out, stats, cancelled(ctx)
		}

		if end < len(sigs) {
			if err := retry.Sleep(ctx, f.cfg.BatchDelay); err != nil {
				return out, stats, cancelled(ctx)
			}
		}
	}

	f.logger.DebugContext(ctx, "fetch complete",
		slog.Int("requested", stats.Requested),
		slog.Int("fetched", stats.Fetched),
		slog.Int("pruned", stats.Pruned),
		slog.Int("failed", stats.Failed),
	)
	return out, stats, nil
}

// fetchBatch fetches every signature in sigs concurrently and returns the
// successful results in input order. Goroutines never return an error, so
// one failing fetch does not cancel its siblings. Calls run under a context
// detached from ctx's cancellation; once ctx is cancelled, failed calls are
// not retried.
func (f *Fetcher) fetchBatch(ctx context.Context, sigs []domain.SignatureRecord, stats *FetchStats) []domain.RawTransaction {
	results := make([]*domain.RawTransaction, len(sigs))
	outcomes := make([]fetchOutcome, len(sigs))

	policy := f.cfg.Retry
	retryable := policy.Retryable
	policy.Retryable = func(err error) bool {
		if ctx.Err() != nil {
			return false
		}
		return retryable == nil || retryable(err)
	}
	policy.OnRetry = func(attempt int, err error) {
		f.metrics.ObserveRetry("getTransaction")
	}
	batchCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	for i, sig := range sigs {
		g.Go(func() error {
			tx, err := retry.DoValue(batchCtx, policy, func(ctx context.Context) (*domain.RawTransaction, error) {
				return f.client.GetTransaction(ctx, sig.ID)
			})
			switch {
			case err != nil:
				outcomes[i] = outcomeFailed
				f.logger.WarnContext(batchCtx, "transaction fetch failed",
					slog.String("signature", sig.ID),
					slog.String("error", err.Error()),
				)
			case tx == nil:
				outcomes[i] = outcomePruned
			default:
				if tx.BlockTime == nil {
					tx.BlockTime = sig.BlockTime
				}
				results[i] = tx
				outcomes[i] = outcomeFetched
			}
			return nil
		})
	}
	_ = g.Wait()

	batch := make([]domain.RawTransaction, 0, len(sigs))
	var fetched, pruned, failed int
	for i, o := range outcomes {
		switch o {
		case outcomeFetched:
			fetched++
			batch = append(batch, *results[i])
		case outcomePruned:
			pruned++
		case outcomeFailed:
			failed++
		}
	}
	stats.Fetched += fetched
	stats.Pruned += pruned
	stats.Failed += failed

	f.metrics.AddTransactions("fetched", fetched)
	f.metrics.AddTransactions("pruned", pruned)
	f.metrics.AddTransactions("failed", failed)
	return batch
}

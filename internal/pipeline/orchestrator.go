package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
	"github.com/abdigaliarsen/deriverse-insights/internal/matching"
	"github.com/abdigaliarsen/deriverse-insights/internal/metrics"
)

// Result summarises one reconstruction run.
type Result struct {
	Wallet     string
	Trades     []domain.Trade
	Signatures int
	Decoded    int
	Stats      FetchStats
}

// TradesFunc receives the full trade list rebuilt after a fetch batch that
// produced new decoded transactions.
type TradesFunc func(trades []domain.Trade)

// Orchestrator runs discovery, fetching, decoding and matching for one
// wallet.
type Orchestrator struct {
	discovery *Discovery
	fetcher   *Fetcher
	decoder   domain.EventDecoder
	resolver  domain.InstrumentResolver
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(
	discovery *Discovery,
	fetcher *Fetcher,
	decoder domain.EventDecoder,
	resolver domain.InstrumentResolver,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		discovery: discovery,
		fetcher:   fetcher,
		decoder:   decoder,
		resolver:  resolver,
		metrics:   m,
		logger:    logger.With(slog.String("component", "orchestrator")),
	}
}

// Run reconstructs the trade history of wallet. progress and onTrades may be
// nil. On cancellation Run returns the trades rebuilt from what was decoded
// before the cancellation point, together with an error wrapping
// domain.ErrCancelled.
func (o *Orchestrator) Run(ctx context.Context, wallet string, progress domain.ProgressFunc, onTrades TradesFunc) (Result, error) {
	res := Result{Wallet: wallet, Trades: []domain.Trade{}}

	sigs, err := o.discovery.Discover(ctx, wallet, progress)
	res.Signatures = len(sigs)
	if err != nil {
		return res, err
	}
	if len(sigs) == 0 {
		progress.Report(domain.Progress{Phase: domain.PhaseDone, Message: "No transactions found"})
		return res, nil
	}

	// Decoding a delivered batch is not a suspension point; it must not be
	// cut short by cancellation.
	decodeCtx := context.WithoutCancel(ctx)

	var decoded []domain.DecodedTransaction
	raw, stats, fetchErr := o.fetcher.Fetch(ctx, sigs, func(b Batch) {
		added := 0
		for _, tx := range b.Transactions {
			if dtx, ok := o.decode(decodeCtx, tx); ok {
				decoded = append(decoded, dtx)
				added++
			}
		}
		o.metrics.AddTransactions("decoded", added)

		done := b.Stats.Attempted()
		progress.Report(domain.Progress{
			Phase:   domain.PhaseTransactions,
			Current: done,
			Total:   len(sigs),
			Message: fmt.Sprintf("Loading %d/%d txs (%d decoded)...", done, len(sigs), len(decoded)),
		})

		if added > 0 && onTrades != nil {
			onTrades(matching.Reconstruct(decoded, o.resolver))
		}
	})
	res.Stats = stats
	res.Decoded = len(decoded)

	if fetchErr != nil && !errors.Is(fetchErr, domain.ErrCancelled) {
		return res, fetchErr
	}

	progress.Report(domain.Progress{
		Phase:   domain.PhaseDecoding,
		Current: len(decoded),
		Total:   len(raw),
		Message: fmt.Sprintf("Matching fills from %d decoded transactions...", len(decoded)),
	})
	res.Trades = matching.Reconstruct(decoded, o.resolver)

	if fetchErr != nil {
		o.logger.InfoContext(ctx, "run cancelled",
			slog.String("wallet", wallet),
			slog.Int("decoded", len(decoded)),
			slog.Int("trades", len(res.Trades)),
		)
		return res, fetchErr
	}

	progress.Report(domain.Progress{
		Phase:   domain.PhaseDone,
		Current: len(res.Trades),
		Total:   len(res.Trades),
		Message: fmt.Sprintf("Found %d trades", len(res.Trades)),
	})

	o.logger.InfoContext(ctx, "run complete",
		slog.String("wallet", wallet),
		slog.Int("signatures", res.Signatures),
		slog.Int("fetched", stats.Fetched),
		slog.Int("pruned", stats.Pruned),
		slog.Int("failed", stats.Failed),
		slog.Int("decoded", res.Decoded),
		slog.Int("trades", len(res.Trades)),
	)
	return res, nil
}

// decode turns a raw transaction into a decoded one. Decoder errors and
// transactions with no protocol events are dropped.
func (o *Orchestrator) decode(ctx context.Context, tx domain.RawTransaction) (domain.DecodedTransaction, bool) {
	events, err := o.decoder.Decode(ctx, tx.LogLines)
	if err != nil {
		o.logger.DebugContext(ctx, "decode failed",
			slog.String("signature", tx.ID),
			slog.String("error", err.Error()),
		)
		return domain.DecodedTransaction{}, false
	}
	if len(events) == 0 {
		return domain.DecodedTransaction{}, false
	}

	var ts int64
	if tx.BlockTime != nil {
		ts = *tx.BlockTime
	}
	return domain.DecodedTransaction{ID: tx.ID, Timestamp: ts, Events: events}, true
}

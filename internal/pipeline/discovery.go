package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
	"github.com/abdigaliarsen/deriverse-insights/internal/retry"
)

const (
	// DefaultPageSize is the largest page getSignaturesForAddress serves.
	DefaultPageSize = 1000
	// DefaultMaxTransactions caps how far back a wallet's history is read.
	DefaultMaxTransactions = 2000
)

// DiscoveryConfig tunes signature discovery.
type DiscoveryConfig struct {
	PageSize      int
	MaxSignatures int
	Retry         retry.Policy
}

// Discovery pages backwards through a wallet's signature history.
type Discovery struct {
	client domain.LedgerClient
	cfg    DiscoveryConfig
	logger *slog.Logger
}

// NewDiscovery creates a Discovery. Zero config values take the defaults.
func NewDiscovery(client domain.LedgerClient, cfg DiscoveryConfig, logger *slog.Logger) *Discovery {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxSignatures <= 0 {
		cfg.MaxSignatures = DefaultMaxTransactions
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultPolicy
	}
	return &Discovery{
		client: client,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "discovery")),
	}
}

// Discover returns the wallet's successful transaction signatures, newest
// first, up to the configured cap. Failed transactions are skipped. Paging
// stops at the cap or at the first empty or short page.
//
// When ctx is cancelled the records gathered so far are returned together
// with an error wrapping domain.ErrCancelled.
func (d *Discovery) Discover(ctx context.Context, wallet string, progress domain.ProgressFunc) ([]domain.SignatureRecord, error) {
	var (
		out    []domain.SignatureRecord
		before string
		pages  int
	)

	progress.Report(domain.Progress{
		Phase:   domain.PhaseSignatures,
		Message: "Finding transactions...",
	})

	for len(out) < d.cfg.MaxSignatures {
		if ctx.Err() != nil {
			return out, cancelled(ctx)
		}

		page, err := retry.DoValue(ctx, d.cfg.Retry, func(ctx context.Context) ([]domain.SignatureEntry, error) {
			return d.client.ListSignatures(ctx, wallet, before, d.cfg.PageSize)
		})
		if err != nil {
			if ctx.Err() != nil {
				return out, cancelled(ctx)
			}
			return out, fmt.Errorf("pipeline: list signatures (page %d): %w", pages+1, err)
		}
		pages++
		if len(page) == 0 {
			break
		}

		for _, e := range page {
			if e.Failed {
				continue
			}
			out = append(out, domain.SignatureRecord{ID: e.Signature, BlockTime: e.BlockTime})
		}
		before = page[len(page)-1].Signature

		progress.Report(domain.Progress{
			Phase:   domain.PhaseSignatures,
			Current: len(out),
			Total:   d.cfg.MaxSignatures,
			Message: fmt.Sprintf("Found %d transactions...", len(out)),
		})

		if len(page) < d.cfg.PageSize {
			break
		}
	}

	if len(out) > d.cfg.MaxSignatures {
		out = out[:d.cfg.MaxSignatures]
	}

	d.logger.DebugContext(ctx, "signature discovery complete",
		slog.String("wallet", wallet),
		slog.Int("pages", pages),
		slog.Int("signatures", len(out)),
	)
	return out, nil
}

// cancelled wraps ctx's error so that callers can match both
// domain.ErrCancelled and the underlying context error.
func cancelled(ctx context.Context) error {
	return fmt.Errorf("pipeline: %w: %w", domain.ErrCancelled, context.Cause(ctx))
}

package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeStore persists reconstructed trade history per wallet. ReplaceWallet
// swaps the wallet's full history atomically; histories are never merged.
type TradeStore interface {
	ReplaceWallet(ctx context.Context, wallet string, trades []Trade) error
	ListByWallet(ctx context.Context, wallet string, opts ListOpts) ([]Trade, error)
	CountByWallet(ctx context.Context, wallet string) (int64, error)
}

// Run statuses recorded in RunRecord.Status.
const (
	RunCompleted = "completed"
	RunCancelled = "cancelled"
	RunFailed    = "failed"
)

// RunRecord summarises one reconstruction run for the audit log.
type RunRecord struct {
	ID         string
	Wallet     string
	Status     string
	Signatures int
	Fetched    int
	Dropped    int
	Decoded    int
	Trades     int
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// RunStore persists an append-only log of reconstruction runs.
type RunStore interface {
	Insert(ctx context.Context, run RunRecord) error
	ListByWallet(ctx context.Context, wallet string, limit int) ([]RunRecord, error)
}

// Duration is the wall time of the run.
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

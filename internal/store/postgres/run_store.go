package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
)

// RunStore implements domain.RunStore using PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a new RunStore backed by the given connection pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Insert appends a run record.
func (s *RunStore) Insert(ctx context.Context, run domain.RunRecord) error {
	const query = `
		INSERT INTO reconstruction_runs (
			id, wallet, status, signatures, fetched, dropped, decoded, trades,
			error, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		run.ID, run.Wallet, run.Status, run.Signatures, run.Fetched, run.Dropped,
		run.Decoded, run.Trades, run.Error, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert run %s: %w", run.ID, err)
	}
	return nil
}

// ListByWallet returns the wallet's most recent runs, newest first.
func (s *RunStore) ListByWallet(ctx context.Context, wallet string, limit int) ([]domain.RunRecord, error) {
	query, args := buildListQuery(
		`SELECT id::text, wallet, status, signatures, fetched, dropped, decoded,
			trades, error, started_at, finished_at
		FROM reconstruction_runs WHERE wallet = $1`,
		[]any{wallet}, "started_at", "started_at DESC", domain.ListOpts{Limit: limit},
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.RunRecord
	for rows.Next() {
		var r domain.RunRecord
		if err := rows.Scan(
			&r.ID, &r.Wallet, &r.Status, &r.Signatures, &r.Fetched, &r.Dropped,
			&r.Decoded, &r.Trades, &r.Error, &r.StartedAt, &r.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list runs rows: %w", err)
	}
	return runs, nil
}

// Compile-time interface check.
var _ domain.RunStore = (*RunStore)(nil)

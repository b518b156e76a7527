package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Each wallet's
// history is stored as the full output of its latest run.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `trade_id, symbol, side, entry_price, exit_price, size,
	pnl, pnl_percent, fees, entry_time, exit_time, order_kind, leverage,
	entry_tx, exit_tx, instrument_id, market`

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var instrumentID int64
		if err := rows.Scan(
			&t.ID, &t.Symbol, &t.Side, &t.EntryPrice, &t.ExitPrice, &t.Size,
			&t.PnL, &t.PnLPercent, &t.Fees, &t.EntryTime, &t.ExitTime,
			&t.OrderKind, &t.Leverage, &t.EntryTransactionID,
			&t.ExitTransactionID, &instrumentID, &t.Market,
		); err != nil {
			return nil, err
		}
		t.InstrumentID = uint32(instrumentID)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ReplaceWallet deletes the wallet's stored trades and inserts trades in one
// transaction.
func (s *TradeStore) ReplaceWallet(ctx context.Context, wallet string, trades []domain.Trade) error {
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM wallet_trades WHERE wallet = $1`, wallet); err != nil {
			return fmt.Errorf("postgres: clear trades for %s: %w", wallet, err)
		}
		if len(trades) == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		const query = `
			INSERT INTO wallet_trades (
				wallet, trade_id, symbol, side, entry_price, exit_price, size,
				pnl, pnl_percent, fees, entry_time, exit_time, order_kind,
				leverage, entry_tx, exit_tx, instrument_id, market
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7,
				$8, $9, $10, $11, $12, $13,
				$14, $15, $16, $17, $18
			)`

		for _, t := range trades {
			batch.Queue(query,
				wallet, t.ID, t.Symbol, string(t.Side), t.EntryPrice, t.ExitPrice, t.Size,
				t.PnL, t.PnLPercent, t.Fees, t.EntryTime, t.ExitTime, string(t.OrderKind),
				t.Leverage, t.EntryTransactionID, t.ExitTransactionID, int64(t.InstrumentID), string(t.Market),
			)
		}

		br := tx.SendBatch(ctx, batch)
		for i := range trades {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("postgres: close trade batch: %w", err)
		}
		return nil
	})
}

// ListByWallet returns the wallet's trades, most recent exit first, with
// pagination and optional exit-time filtering.
func (s *TradeStore) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := buildListQuery(
		`SELECT `+tradeSelectCols+` FROM wallet_trades WHERE wallet = $1`,
		[]any{wallet}, "exit_time", "exit_time DESC, trade_id", opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades by wallet: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades by wallet: %w", err)
	}
	return trades, nil
}

// CountByWallet returns how many trades are stored for wallet.
func (s *TradeStore) CountByWallet(ctx context.Context, wallet string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM wallet_trades WHERE wallet = $1`, wallet).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count trades by wallet: %w", err)
	}
	return n, nil
}

// buildListQuery appends time filters, ordering and pagination to base,
// numbering placeholders after the ones already in args.
func buildListQuery(base string, args []any, timeCol, orderBy string, opts domain.ListOpts) (string, []any) {
	query := base
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", timeCol, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", timeCol, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY " + orderBy

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
)

const (
	// TradeKeyPrefix namespaces cached trade lists by wallet.
	TradeKeyPrefix = "deriverse-wallet-trades-"
	// DefaultTradeTTL is how long a reconstructed history stays fresh.
	DefaultTradeTTL = 5 * time.Minute
)

// TradeCache implements domain.TradeCache as one JSON-encoded
// domain.CacheEntry per wallet.
//
// Key schema:
//
//	deriverse-wallet-trades-{wallet} - string, JSON CacheEntry
//
// Freshness is decided from the entry's FetchedAt. The key also carries a
// Redis expiry of the same length so abandoned wallets are evicted.
type TradeCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewTradeCache creates a TradeCache. A non-positive ttl selects
// DefaultTradeTTL.
func NewTradeCache(c *Client, ttl time.Duration, logger *slog.Logger) *TradeCache {
	if ttl <= 0 {
		ttl = DefaultTradeTTL
	}
	return &TradeCache{
		rdb:    c.Underlying(),
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With(slog.String("component", "trade_cache")),
	}
}

// WithClock replaces the cache's time source.
func (tc *TradeCache) WithClock(now func() time.Time) *TradeCache {
	tc.now = now
	return tc
}

func tradeKey(wallet string) string { return TradeKeyPrefix + wallet }

// Get returns the cached trades for wallet when an entry exists, carries the
// current schema version and is younger than the TTL.
func (tc *TradeCache) Get(ctx context.Context, wallet string) ([]domain.Trade, bool) {
	entry, ok := tc.Entry(ctx, wallet)
	if !ok {
		return nil, false
	}
	return entry.Trades, true
}

// Entry is Get returning the whole cache record.
func (tc *TradeCache) Entry(ctx context.Context, wallet string) (domain.CacheEntry, bool) {
	data, err := tc.rdb.Get(ctx, tradeKey(wallet)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			tc.logger.WarnContext(ctx, "cache read failed",
				slog.String("wallet", wallet),
				slog.String("error", err.Error()),
			)
		}
		return domain.CacheEntry{}, false
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		tc.logger.WarnContext(ctx, "cache entry undecodable",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		return domain.CacheEntry{}, false
	}

	if entry.Version != domain.CacheVersion || tc.now().Sub(entry.FetchedAt) > tc.ttl {
		return domain.CacheEntry{}, false
	}
	if entry.Trades == nil {
		entry.Trades = []domain.Trade{}
	}
	return entry, true
}

// Set replaces the wallet's entry.
func (tc *TradeCache) Set(ctx context.Context, wallet string, trades []domain.Trade, totalSignatures int) {
	if trades == nil {
		trades = []domain.Trade{}
	}
	data, err := json.Marshal(domain.CacheEntry{
		Version:         domain.CacheVersion,
		Wallet:          wallet,
		Trades:          trades,
		FetchedAt:       tc.now().UTC(),
		TotalSignatures: totalSignatures,
	})
	if err != nil {
		tc.logger.WarnContext(ctx, "cache entry unencodable",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := tc.rdb.Set(ctx, tradeKey(wallet), data, tc.ttl).Err(); err != nil {
		tc.logger.WarnContext(ctx, "cache write failed",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
	}
}

// Clear removes the wallet's entry.
func (tc *TradeCache) Clear(ctx context.Context, wallet string) {
	if err := tc.rdb.Del(ctx, tradeKey(wallet)).Err(); err != nil {
		tc.logger.WarnContext(ctx, "cache clear failed",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
	}
}

// Compile-time interface check.
var _ domain.TradeCache = (*TradeCache)(nil)

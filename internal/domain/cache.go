package domain

import (
	"context"
	"time"
)

// CacheVersion is the schema version stamped on every cached entry. Bump it
// whenever the serialised Trade layout changes so stale entries read as
// misses instead of being misparsed.
const CacheVersion = 1

// CacheEntry is the persisted form of a wallet's reconstructed trades.
type CacheEntry struct {
	Version         int       `json:"version"`
	Wallet          string    `json:"wallet"`
	Trades          []Trade   `json:"trades"`
	FetchedAt       time.Time `json:"fetchedAt"`
	TotalSignatures int       `json:"totalSignatures"`
}

// TradeCache is a short-lived, wallet-keyed store of reconstructed trades.
// Implementations never surface errors: failures degrade to cache misses.
type TradeCache interface {
	Get(ctx context.Context, wallet string) ([]Trade, bool)
	Set(ctx context.Context, wallet string, trades []Trade, totalSignatures int)
	Clear(ctx context.Context, wallet string)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out for progress and completion events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

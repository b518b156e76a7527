// Package memory provides in-process implementations of the cache and
// pub/sub interfaces for single-instance deployments and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
)

// TradeCache is a mutex-guarded map of cache entries.
type TradeCache struct {
	mu      sync.RWMutex
	entries map[string]domain.CacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewTradeCache creates an empty cache whose entries stay fresh for ttl.
func NewTradeCache(ttl time.Duration) *TradeCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TradeCache{
		entries: make(map[string]domain.CacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the cache's time source.
func (c *TradeCache) WithClock(now func() time.Time) *TradeCache {
	c.now = now
	return c
}

// Get returns the wallet's cached trades while the entry is fresh and
// matches the current cache version.
func (c *TradeCache) Get(ctx context.Context, wallet string) ([]domain.Trade, bool) {
	entry, ok := c.Entry(ctx, wallet)
	if !ok {
		return nil, false
	}
	return entry.Trades, true
}

// Entry returns a copy of the wallet's fresh entry.
func (c *TradeCache) Entry(_ context.Context, wallet string) (domain.CacheEntry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[wallet]
	c.mu.RUnlock()

	if !ok || entry.Version != domain.CacheVersion || c.now().Sub(entry.FetchedAt) > c.ttl {
		return domain.CacheEntry{}, false
	}
	entry.Trades = append([]domain.Trade{}, entry.Trades...)
	return entry, true
}

// Set replaces the wallet's entry, stamped with the current time.
func (c *TradeCache) Set(_ context.Context, wallet string, trades []domain.Trade, totalSignatures int) {
	entry := domain.CacheEntry{
		Version:         domain.CacheVersion,
		Wallet:          wallet,
		Trades:          append([]domain.Trade{}, trades...),
		FetchedAt:       c.now().UTC(),
		TotalSignatures: totalSignatures,
	}
	c.mu.Lock()
	c.entries[wallet] = entry
	c.mu.Unlock()
}

// Clear removes the wallet's entry.
func (c *TradeCache) Clear(_ context.Context, wallet string) {
	c.mu.Lock()
	delete(c.entries, wallet)
	c.mu.Unlock()
}

// Prune drops expired entries and returns how many were removed.
func (c *TradeCache) Prune() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for wallet, entry := range c.entries {
		if now.Sub(entry.FetchedAt) > c.ttl {
			delete(c.entries, wallet)
			n++
		}
	}
	return n
}

var _ domain.TradeCache = (*TradeCache)(nil)

// Package solana is a thin Solana JSON-RPC client covering the two calls the
// history pipeline needs: backwards signature listing and transaction fetch.
package solana

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
	"github.com/abdigaliarsen/deriverse-insights/internal/metrics"
)

// MainnetRPC is used when no RPC URL is configured.
const MainnetRPC = "https://api.mainnet-beta.solana.com"

// ClientConfig holds connection parameters for the RPC client.
type ClientConfig struct {
	URL        string
	Commitment string // "confirmed" or "finalized"
	Timeout    time.Duration

	// RatePerSecond bounds outgoing calls through Limiter. Zero disables
	// limiting.
	RatePerSecond int
	Limiter       domain.RateLimiter

	Metrics *metrics.Metrics
}

// Client talks JSON-RPC 2.0 to a Solana node.
type Client struct {
	rpc        *rpc.Client
	commitment string
	limiter    domain.RateLimiter
	rate       int
	limitKey   string
	metrics    *metrics.Metrics
}

// New dials the configured endpoint. HTTP endpoints do not open a
// connection until the first call.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	url := cfg.URL
	if url == "" {
		url = MainnetRPC
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	commitment := cfg.Commitment
	if commitment == "" {
		commitment = "confirmed"
	}

	rc, err := rpc.DialOptions(ctx, url, rpc.WithHTTPClient(&http.Client{Timeout: timeout}))
	if err != nil {
		return nil, fmt.Errorf("solana: dial %s: %w", url, err)
	}

	return &Client{
		rpc:        rc,
		commitment: commitment,
		limiter:    cfg.Limiter,
		rate:       cfg.RatePerSecond,
		limitKey:   "solana-rpc:" + url,
		metrics:    cfg.Metrics,
	}, nil
}

// Close releases the underlying transport.
func (c *Client) Close() {
	c.rpc.Close()
}

type signatureInfo struct {
	Signature string `json:"signature"`
	Slot      uint64 `json:"slot"`
	Err       any    `json:"err"`
	BlockTime *int64 `json:"blockTime"`
}

// ListSignatures returns up to limit signatures for address, newest first,
// strictly older than before when before is non-empty.
func (c *Client) ListSignatures(ctx context.Context, address, before string, limit int) ([]domain.SignatureEntry, error) {
	opts := map[string]any{
		"limit":      limit,
		"commitment": c.commitment,
	}
	if before != "" {
		opts["before"] = before
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var infos []signatureInfo
	err := c.rpc.CallContext(ctx, &infos, "getSignaturesForAddress", address, opts)
	c.metrics.ObserveRPC("getSignaturesForAddress", err)
	if err != nil {
		return nil, fmt.Errorf("solana: getSignaturesForAddress: %w", err)
	}

	out := make([]domain.SignatureEntry, 0, len(infos))
	for _, info := range infos {
		out = append(out, domain.SignatureEntry{
			Signature: info.Signature,
			BlockTime: info.BlockTime,
			Failed:    info.Err != nil,
		})
	}
	return out, nil
}

type transactionResult struct {
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Meta      *struct {
		Err         any      `json:"err"`
		LogMessages []string `json:"logMessages"`
	} `json:"meta"`
}

// GetTransaction fetches a confirmed transaction. It returns (nil, nil) when
// the node no longer has the transaction or it carries no log messages.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*domain.RawTransaction, error) {
	opts := map[string]any{
		"encoding":                       "json",
		"commitment":                     c.commitment,
		"maxSupportedTransactionVersion": 0,
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var res *transactionResult
	err := c.rpc.CallContext(ctx, &res, "getTransaction", signature, opts)
	c.metrics.ObserveRPC("getTransaction", err)
	if err != nil {
		return nil, fmt.Errorf("solana: getTransaction %s: %w", signature, err)
	}
	if res == nil || res.Meta == nil || len(res.Meta.LogMessages) == 0 {
		return nil, nil
	}

	return &domain.RawTransaction{
		ID:        signature,
		BlockTime: res.BlockTime,
		LogLines:  res.Meta.LogMessages,
	}, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil || c.rate <= 0 {
		return nil
	}
	if err := c.limiter.Wait(ctx, c.limitKey, c.rate, time.Second); err != nil {
		return fmt.Errorf("solana: rate limit: %w", err)
	}
	return nil
}

// IsTransient reports whether err is worth retrying: transport failures
// including request timeouts, HTTP 429 and 5xx responses, and node-side
// errors other than malformed requests. A request timeout matches
// context.DeadlineExceeded and stays retryable; the retry loop itself stops
// once the caller's context is done.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case -32600, -32601, -32602: // invalid request, method not found, invalid params
			return false
		}
	}
	return true
}

// Compile-time interface check.
var _ domain.LedgerClient = (*Client)(nil)

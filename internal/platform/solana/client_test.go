package solana

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newNode starts a fake JSON-RPC node that answers with the result returned by
// handle for each request.
func newNode(t *testing.T, handle func(req rpcRequest) any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  handle(req),
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(context.Background(), ClientConfig{URL: url})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestListSignatures(t *testing.T) {
	var gotBefore atomic.Value
	srv := newNode(t, func(req rpcRequest) any {
		if req.Method != "getSignaturesForAddress" {
			t.Errorf("unexpected method %s", req.Method)
		}
		var opts map[string]any
		_ = json.Unmarshal(req.Params[1], &opts)
		if b, ok := opts["before"].(string); ok {
			gotBefore.Store(b)
		}
		return []map[string]any{
			{"signature": "sig-b", "slot": 2, "err": nil, "blockTime": 1700000100},
			{"signature": "sig-a", "slot": 1, "err": map[string]any{"InstructionError": []any{0, "Custom"}}, "blockTime": nil},
		}
	})

	c := newTestClient(t, srv.URL)
	entries, err := c.ListSignatures(context.Background(), "wallet", "sig-c", 1000)
	if err != nil {
		t.Fatalf("list signatures: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Signature != "sig-b" || entries[0].Failed || entries[0].BlockTime == nil || *entries[0].BlockTime != 1700000100 {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	if !entries[1].Failed || entries[1].BlockTime != nil {
		t.Fatalf("expected failed entry without block time, got %+v", entries[1])
	}
	if gotBefore.Load() != "sig-c" {
		t.Fatalf("expected before cursor sig-c, got %v", gotBefore.Load())
	}
}

func TestGetTransaction(t *testing.T) {
	srv := newNode(t, func(req rpcRequest) any {
		var sig string
		_ = json.Unmarshal(req.Params[0], &sig)
		switch sig {
		case "pruned":
			return nil
		case "no-logs":
			return map[string]any{"slot": 5, "blockTime": 1700000000, "meta": map[string]any{"err": nil}}
		default:
			return map[string]any{
				"slot":      5,
				"blockTime": 1700000000,
				"meta": map[string]any{
					"err":         nil,
					"logMessages": []string{"Program log: Instruction: NewOrder", "Program data: AAEC"},
				},
			}
		}
	})

	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	tx, err := c.GetTransaction(ctx, "sig-1")
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if tx == nil || tx.ID != "sig-1" || len(tx.LogLines) != 2 || *tx.BlockTime != 1700000000 {
		t.Fatalf("unexpected transaction: %+v", tx)
	}

	for _, sig := range []string{"pruned", "no-logs"} {
		tx, err := c.GetTransaction(ctx, sig)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", sig, err)
		}
		if tx != nil {
			t.Fatalf("%s: expected nil transaction, got %+v", sig, tx)
		}
	}
}

func TestGetTransaction_HTTPErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.GetTransaction(context.Background(), "sig")
	if err == nil {
		t.Fatal("expected error on 429")
	}
	if !IsTransient(err) {
		t.Fatalf("expected 429 to be transient: %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"cancelled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"server error", rpc.HTTPError{StatusCode: 502}, true},
		{"bad request", rpc.HTTPError{StatusCode: 400}, false},
		{"network", errors.New("connection reset"), true},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestGetTransaction_RequestTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(300 * time.Millisecond):
		}
	}))
	defer srv.Close()

	c, err := New(context.Background(), ClientConfig{URL: srv.URL, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	defer c.Close()

	_, err = c.GetTransaction(context.Background(), "sig")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected a deadline error, got %v", err)
	}
	if !IsTransient(err) {
		t.Fatalf("expected request timeout to be transient: %v", err)
	}
}

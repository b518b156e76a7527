package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
	"github.com/abdigaliarsen/deriverse-insights/internal/service"
)

// HistoryService defines the methods the wallet handler requires from the
// service layer.
type HistoryService interface {
	Trades(ctx context.Context, wallet string) (service.History, error)
	RefreshAsync(ctx context.Context, wallet string) error
	ClearCache(ctx context.Context, wallet string) error
	Cancel(wallet string) bool
	Stored(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Trade, int64, error)
	Runs(ctx context.Context, wallet string, limit int) ([]domain.RunRecord, error)
	Exports(ctx context.Context, wallet string) ([]domain.BlobInfo, error)
}

// WalletHandler serves per-wallet trade history endpoints.
type WalletHandler struct {
	history HistoryService
	logger  *slog.Logger
}

// NewWalletHandler creates a WalletHandler.
func NewWalletHandler(history HistoryService, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{history: history, logger: logger}
}

// storedTradesResponse wraps persisted trades with paging metadata.
type storedTradesResponse struct {
	Trades []domain.Trade `json:"trades"`
	Total  int64          `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// runResponse is the JSON form of a run record.
type runResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Signatures int    `json:"signatures"`
	Fetched    int    `json:"fetched"`
	Dropped    int    `json:"dropped"`
	Decoded    int    `json:"decoded"`
	Trades     int    `json:"trades"`
	Error      string `json:"error,omitempty"`
	StartedAt  string `json:"startedAt"`
	DurationMS int64  `json:"durationMs"`
}

// GetTrades returns the wallet's trade history, running the pipeline when
// nothing fresh is cached.
// GET /api/wallets/{wallet}/trades
func (h *WalletHandler) GetTrades(w http.ResponseWriter, r *http.Request) {
	hist, err := h.history.Trades(r.Context(), r.PathValue("wallet"))
	if err != nil {
		h.fail(w, r, "get trades", err)
		return
	}
	if hist.Trades == nil {
		hist.Trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, hist)
}

// Refresh clears the cache and starts a background run. Progress streams
// on /ws.
// POST /api/wallets/{wallet}/refresh
func (h *WalletHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	wallet := r.PathValue("wallet")
	if err := h.history.RefreshAsync(r.Context(), wallet); err != nil {
		h.fail(w, r, "refresh", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"wallet": wallet,
	})
}

// Cancel stops the wallet's active run.
// DELETE /api/wallets/{wallet}/run
func (h *WalletHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if !h.history.Cancel(r.PathValue("wallet")) {
		writeError(w, http.StatusNotFound, "no active run")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearCache drops the wallet's cached history.
// DELETE /api/wallets/{wallet}/cache
func (h *WalletHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.history.ClearCache(r.Context(), r.PathValue("wallet")); err != nil {
		h.fail(w, r, "clear cache", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListStored returns persisted trades with pagination and time filters.
// GET /api/wallets/{wallet}/history?limit=50&offset=0&since=...&until=...
func (h *WalletHandler) ListStored(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	trades, total, err := h.history.Stored(r.Context(), r.PathValue("wallet"), opts)
	if err != nil {
		h.fail(w, r, "list stored trades", err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, storedTradesResponse{
		Trades: trades,
		Total:  total,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// ListRuns returns the wallet's most recent runs.
// GET /api/wallets/{wallet}/runs?limit=20
func (h *WalletHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.history.Runs(r.Context(), r.PathValue("wallet"), parseLimit(r, 20, 100))
	if err != nil {
		h.fail(w, r, "list runs", err)
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, runResponse{
			ID:         run.ID,
			Status:     run.Status,
			Signatures: run.Signatures,
			Fetched:    run.Fetched,
			Dropped:    run.Dropped,
			Decoded:    run.Decoded,
			Trades:     run.Trades,
			Error:      run.Error,
			StartedAt:  run.StartedAt.UTC().Format(time.RFC3339),
			DurationMS: run.Duration().Milliseconds(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

// ListExports returns the wallet's uploaded exports, newest first.
// GET /api/wallets/{wallet}/exports
func (h *WalletHandler) ListExports(w http.ResponseWriter, r *http.Request) {
	infos, err := h.history.Exports(r.Context(), r.PathValue("wallet"))
	if err != nil {
		h.fail(w, r, "list exports", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exports": infos})
}

// fail logs err and writes the mapped status. Client errors are logged at
// debug level.
func (h *WalletHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	level := slog.LevelError
	if status < http.StatusInternalServerError {
		level = slog.LevelDebug
	}
	h.logger.Log(r.Context(), level, "handler: "+op+" failed",
		slog.String("wallet", r.PathValue("wallet")),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
	writeError(w, status, err.Error())
}

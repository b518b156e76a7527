package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
	"github.com/abdigaliarsen/deriverse-insights/internal/metrics"
	"github.com/abdigaliarsen/deriverse-insights/internal/server"
	"github.com/abdigaliarsen/deriverse-insights/internal/server/handler"
	"github.com/abdigaliarsen/deriverse-insights/internal/server/ws"
)

const shutdownTimeout = 10 * time.Second

// ServerMode serves the HTTP API and the progress WebSocket until ctx is
// cancelled, then drains in-flight runs.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode",
		slog.Int("port", a.cfg.Server.Port),
	)

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{StartedAt: time.Now().UTC()})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		RateLimit:    a.cfg.Server.RateLimit,
		RateWindow:   a.cfg.Server.RateWindow.Duration,
		WriteTimeout: a.cfg.Server.WriteTimeout.Duration,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, a.logger),
		Wallets: handler.NewWalletHandler(deps.History, a.logger),
		Metrics: metrics.Handler(deps.Registry),
	}, hub, deps.RateLimiter, deps.Metrics, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := deps.History.Shutdown(shutCtx); err != nil {
			a.logger.Warn("background runs did not stop in time",
				slog.String("error", err.Error()),
			)
		}
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// OnceMode reconstructs the configured wallet and writes one JSON trade per
// line to the app's output.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	wallet := a.cfg.Wallet
	a.logger.InfoContext(ctx, "starting once mode", slog.String("wallet", wallet))

	hist, err := deps.History.Trades(ctx, wallet)
	if err != nil {
		return fmt.Errorf("once mode: %w", err)
	}

	enc := json.NewEncoder(a.out)
	for _, t := range hist.Trades {
		if err := enc.Encode(t); err != nil {
			return fmt.Errorf("once mode: write trade: %w", err)
		}
	}

	a.logger.InfoContext(ctx, "once mode complete",
		slog.String("wallet", wallet),
		slog.Int("signatures", hist.TotalSignatures),
		slog.Int("trades", len(hist.Trades)),
		slog.String("pnl", fmt.Sprintf("%.2f", totalPnL(hist.Trades))),
	)
	return nil
}

// totalPnL sums realized PnL across trades.
func totalPnL(trades []domain.Trade) float64 {
	var sum float64
	for _, t := range trades {
		sum += t.PnL
	}
	return sum
}

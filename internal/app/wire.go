package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/abdigaliarsen/deriverse-insights/internal/blob/s3"
	"github.com/abdigaliarsen/deriverse-insights/internal/cache/memory"
	"github.com/abdigaliarsen/deriverse-insights/internal/cache/redis"
	"github.com/abdigaliarsen/deriverse-insights/internal/config"
	"github.com/abdigaliarsen/deriverse-insights/internal/decoder"
	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
	"github.com/abdigaliarsen/deriverse-insights/internal/instruments"
	"github.com/abdigaliarsen/deriverse-insights/internal/metrics"
	"github.com/abdigaliarsen/deriverse-insights/internal/notify"
	"github.com/abdigaliarsen/deriverse-insights/internal/pipeline"
	"github.com/abdigaliarsen/deriverse-insights/internal/platform/solana"
	"github.com/abdigaliarsen/deriverse-insights/internal/retry"
	"github.com/abdigaliarsen/deriverse-insights/internal/server/handler"
	"github.com/abdigaliarsen/deriverse-insights/internal/service"
	"github.com/abdigaliarsen/deriverse-insights/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	// Caches
	TradeCache  domain.TradeCache
	RateLimiter domain.RateLimiter // nil with the memory backend
	LockManager domain.LockManager // nil with the memory backend
	SignalBus   domain.SignalBus

	// Optional persistence
	TradeStore domain.TradeStore
	RunStore   domain.RunStore
	Exporter   domain.TradeExporter

	History *service.HistoryService

	// Health probes keyed by dependency name.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Registry: prometheus.NewRegistry(),
		Checks:   make(map[string]handler.Check),
	}
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.NewMetrics(deps.Registry)

	// --- Cache backend ---
	switch cfg.Cache.Backend {
	case "redis":
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.TradeCache = redis.NewTradeCache(redisClient, cfg.Cache.TTL.Duration, logger)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	default:
		deps.TradeCache = memory.NewTradeCache(cfg.Cache.TTL.Duration)
		deps.SignalBus = memory.NewSignalBus()
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.RunStore = postgres.NewRunStore(pool)
		deps.Checks["postgres"] = pool.Ping
	}

	// --- S3 exports ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Exporter = s3blob.NewTradeExporter(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			cfg.S3.Prefix,
			cfg.S3.Format,
		)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Ledger RPC ---
	ledger, err := solana.New(ctx, solana.ClientConfig{
		URL:           cfg.Solana.RPCURL,
		Commitment:    cfg.Solana.Commitment,
		Timeout:       cfg.Solana.Timeout.Duration,
		RatePerSecond: cfg.Solana.RateLimitPerSec,
		Limiter:       deps.RateLimiter,
		Metrics:       deps.Metrics,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: solana: %w", err)
	}
	closers = append(closers, ledger.Close)

	// --- Pipeline ---
	policy := retry.Policy{
		MaxAttempts: cfg.Fetcher.MaxRetries + 1,
		BaseDelay:   cfg.Fetcher.RetryBase.Duration,
		MaxDelay:    cfg.Fetcher.RetryMax.Duration,
		Retryable:   solana.IsTransient,
	}
	discovery := pipeline.NewDiscovery(ledger, pipeline.DiscoveryConfig{
		PageSize:      cfg.Fetcher.SignaturesPerPage,
		MaxSignatures: cfg.Fetcher.MaxTransactions,
		Retry:         policy,
	}, logger)
	fetcher := pipeline.NewFetcher(ledger, pipeline.FetcherConfig{
		BatchSize:  cfg.Fetcher.BatchSize,
		BatchDelay: cfg.Fetcher.BatchDelay.Duration,
		Retry:      policy,
	}, deps.Metrics, logger)

	decoderCfg := cfg.Decoder
	dec := decoder.NewSafe(decoder.NewHandle(func(context.Context) (domain.EventDecoder, error) {
		return decoder.NewHTTPDecoder(decoderCfg.URL, decoderCfg.APIKey, decoderCfg.Timeout.Duration), nil
	}), logger)

	orchestrator := pipeline.NewOrchestrator(discovery, fetcher, dec, newInstrumentRegistry(cfg.Instruments), deps.Metrics, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramAPI,
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, cfg.Notify.DiscordUsername))
	}

	histDeps := service.HistoryDeps{
		Runner:   orchestrator,
		Cache:    deps.TradeCache,
		Trades:   deps.TradeStore,
		Runs:     deps.RunStore,
		Exporter: deps.Exporter,
		Locks:    deps.LockManager,
		Bus:      deps.SignalBus,
		Metrics:  deps.Metrics,
	}
	if len(senders) > 0 {
		histDeps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}
	deps.History = service.NewHistoryService(histDeps, service.HistoryConfig{
		ExportOnComplete: cfg.S3.Enabled && cfg.S3.ExportOnComplete,
	}, logger)

	return deps, cleanup, nil
}

// newInstrumentRegistry converts configured instruments into a registry.
// Kinds left empty are inferred from the symbol.
func newInstrumentRegistry(list []config.InstrumentConfig) *instruments.Registry {
	out := make([]instruments.Instrument, 0, len(list))
	for _, in := range list {
		out = append(out, instruments.Instrument{
			ID:     in.ID,
			Symbol: in.Symbol,
			Kind:   domain.MarketKind(in.Kind),
		})
	}
	return instruments.NewRegistry(out)
}

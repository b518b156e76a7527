// Package config defines the top-level configuration for deriverse-insights
// and provides validation helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
)

// DefaultWallet is reconstructed in once mode when no wallet is configured.
const DefaultWallet = "FzzkRifeTpLAcgS52SnHeFbHmeYqscyPaiNADBrckEJu"

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by DERIVERSE_* environment variables.
type Config struct {
	Solana      SolanaConfig       `toml:"solana"`
	Fetcher     FetcherConfig      `toml:"fetcher"`
	Decoder     DecoderConfig      `toml:"decoder"`
	Cache       CacheConfig        `toml:"cache"`
	Redis       RedisConfig        `toml:"redis"`
	Postgres    PostgresConfig     `toml:"postgres"`
	S3          S3Config           `toml:"s3"`
	Server      ServerConfig       `toml:"server"`
	Notify      NotifyConfig       `toml:"notify"`
	Instruments []InstrumentConfig `toml:"instruments"`
	Mode        string             `toml:"mode"`
	LogLevel    string             `toml:"log_level"`
	Wallet      string             `toml:"wallet"`
}

// SolanaConfig holds the RPC endpoint and call limits.
type SolanaConfig struct {
	RPCURL          string   `toml:"rpc_url"`
	Commitment      string   `toml:"commitment"`
	Timeout         duration `toml:"timeout"`
	RateLimitPerSec int      `toml:"rate_limit_per_sec"`
}

// FetcherConfig tunes signature discovery and batched transaction fetching.
type FetcherConfig struct {
	BatchSize         int      `toml:"batch_size"`
	BatchDelay        duration `toml:"batch_delay"`
	MaxRetries        int      `toml:"max_retries"`
	RetryBase         duration `toml:"retry_base"`
	RetryMax          duration `toml:"retry_max"`
	MaxTransactions   int      `toml:"max_transactions"`
	SignaturesPerPage int      `toml:"signatures_per_page"`
}

// DecoderConfig points at the event decoder sidecar.
type DecoderConfig struct {
	URL     string   `toml:"url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// CacheConfig selects the result cache backend.
type CacheConfig struct {
	Backend string   `toml:"backend"` // "redis" or "memory"
	TTL     duration `toml:"ttl"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds PostgreSQL connection parameters for history
// persistence.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters for trade exports.
type S3Config struct {
	Enabled          bool   `toml:"enabled"`
	Endpoint         string `toml:"endpoint"`
	Region           string `toml:"region"`
	Bucket           string `toml:"bucket"`
	AccessKey        string `toml:"access_key"`
	SecretKey        string `toml:"secret_key"`
	UseSSL           bool   `toml:"use_ssl"`
	ForcePathStyle   bool   `toml:"force_path_style"`
	Prefix           string `toml:"prefix"`
	Format           string `toml:"format"` // "csv" or "jsonl"
	ExportOnComplete bool   `toml:"export_on_complete"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	APIKey       string   `toml:"api_key"`
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   duration `toml:"rate_window"`
	WriteTimeout duration `toml:"write_timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	TelegramAPI       string   `toml:"telegram_api"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	DiscordUsername   string   `toml:"discord_username"`
	Events            []string `toml:"events"`
}

// InstrumentConfig declares one instrument's display metadata. Kind may be
// omitted, in which case it is inferred from the symbol.
type InstrumentConfig struct {
	ID     uint32 `toml:"id"`
	Symbol string `toml:"symbol"`
	Kind   string `toml:"kind"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Solana: SolanaConfig{
			RPCURL:          "https://api.mainnet-beta.solana.com",
			Commitment:      "confirmed",
			Timeout:         duration{30 * time.Second},
			RateLimitPerSec: 0,
		},
		Fetcher: FetcherConfig{
			BatchSize:         25,
			BatchDelay:        duration{100 * time.Millisecond},
			MaxRetries:        3,
			RetryBase:         duration{1 * time.Second},
			RetryMax:          duration{8 * time.Second},
			MaxTransactions:   2000,
			SignaturesPerPage: 1000,
		},
		Decoder: DecoderConfig{
			URL:     "http://localhost:8787/decode",
			Timeout: duration{10 * time.Second},
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     duration{5 * time.Minute},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "deriverse",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Region: "us-east-1",
			Prefix: "exports",
			Format: "csv",
		},
		Server: ServerConfig{
			Port:         8080,
			RateWindow:   duration{time.Minute},
			WriteTimeout: duration{5 * time.Minute},
		},
		Mode:     "server",
		LogLevel: "info",
		Wallet:   DefaultWallet,
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"once":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, once)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if strings.EqualFold(c.Mode, "once") {
		if _, err := domain.ValidateWallet(c.Wallet); err != nil {
			errs = append(errs, "wallet: "+err.Error())
		}
	}

	// Solana
	if u, err := url.Parse(c.Solana.RPCURL); err != nil || u.Host == "" {
		errs = append(errs, fmt.Sprintf("solana: rpc_url %q is not a valid URL", c.Solana.RPCURL))
	}
	if c.Solana.Commitment != "confirmed" && c.Solana.Commitment != "finalized" {
		errs = append(errs, fmt.Sprintf("solana: commitment must be confirmed or finalized, got %q", c.Solana.Commitment))
	}
	if c.Solana.RateLimitPerSec < 0 {
		errs = append(errs, "solana: rate_limit_per_sec must be >= 0")
	}

	// Fetcher
	if c.Fetcher.BatchSize < 1 {
		errs = append(errs, "fetcher: batch_size must be >= 1")
	}
	if c.Fetcher.MaxRetries < 0 {
		errs = append(errs, "fetcher: max_retries must be >= 0")
	}
	if c.Fetcher.MaxTransactions < 1 {
		errs = append(errs, "fetcher: max_transactions must be >= 1")
	}
	if c.Fetcher.SignaturesPerPage < 1 || c.Fetcher.SignaturesPerPage > 1000 {
		errs = append(errs, fmt.Sprintf("fetcher: signatures_per_page must be 1-1000, got %d", c.Fetcher.SignaturesPerPage))
	}

	// Decoder
	if c.Decoder.URL == "" {
		errs = append(errs, "decoder: url must not be empty")
	}

	// Cache
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when cache.backend is redis")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	default:
		errs = append(errs, fmt.Sprintf("cache: unknown backend %q (valid: redis, memory)", c.Cache.Backend))
	}
	if c.Cache.TTL.Duration <= 0 {
		errs = append(errs, "cache: ttl must be > 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.Format != "csv" && c.S3.Format != "jsonl" {
			errs = append(errs, fmt.Sprintf("s3: format must be csv or jsonl, got %q", c.S3.Format))
		}
	}

	// Server
	if strings.EqualFold(c.Mode, "server") {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	// Instruments
	seen := make(map[uint32]bool, len(c.Instruments))
	for _, in := range c.Instruments {
		if strings.TrimSpace(in.Symbol) == "" {
			errs = append(errs, fmt.Sprintf("instruments: id %d has an empty symbol", in.ID))
		}
		if seen[in.ID] {
			errs = append(errs, fmt.Sprintf("instruments: duplicate id %d", in.ID))
		}
		seen[in.ID] = true
		if in.Kind != "" && in.Kind != string(domain.MarketSpot) && in.Kind != string(domain.MarketPerp) {
			errs = append(errs, fmt.Sprintf("instruments: id %d has unknown kind %q", in.ID, in.Kind))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

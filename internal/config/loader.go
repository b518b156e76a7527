package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies DERIVERSE_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known DERIVERSE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Solana ──
	setStr(&cfg.Solana.RPCURL, "DERIVERSE_SOLANA_RPC_URL")
	setStr(&cfg.Solana.Commitment, "DERIVERSE_SOLANA_COMMITMENT")
	setDuration(&cfg.Solana.Timeout, "DERIVERSE_SOLANA_TIMEOUT")
	setInt(&cfg.Solana.RateLimitPerSec, "DERIVERSE_SOLANA_RATE_LIMIT_PER_SEC")

	// ── Fetcher ──
	setInt(&cfg.Fetcher.BatchSize, "DERIVERSE_FETCHER_BATCH_SIZE")
	setDuration(&cfg.Fetcher.BatchDelay, "DERIVERSE_FETCHER_BATCH_DELAY")
	setInt(&cfg.Fetcher.MaxRetries, "DERIVERSE_FETCHER_MAX_RETRIES")
	setDuration(&cfg.Fetcher.RetryBase, "DERIVERSE_FETCHER_RETRY_BASE")
	setDuration(&cfg.Fetcher.RetryMax, "DERIVERSE_FETCHER_RETRY_MAX")
	setInt(&cfg.Fetcher.MaxTransactions, "DERIVERSE_FETCHER_MAX_TRANSACTIONS")
	setInt(&cfg.Fetcher.SignaturesPerPage, "DERIVERSE_FETCHER_SIGNATURES_PER_PAGE")

	// ── Decoder ──
	setStr(&cfg.Decoder.URL, "DERIVERSE_DECODER_URL")
	setStr(&cfg.Decoder.APIKey, "DERIVERSE_DECODER_API_KEY")
	setDuration(&cfg.Decoder.Timeout, "DERIVERSE_DECODER_TIMEOUT")

	// ── Cache ──
	setStr(&cfg.Cache.Backend, "DERIVERSE_CACHE_BACKEND")
	setDuration(&cfg.Cache.TTL, "DERIVERSE_CACHE_TTL")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "DERIVERSE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "DERIVERSE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "DERIVERSE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "DERIVERSE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "DERIVERSE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "DERIVERSE_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "DERIVERSE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "DERIVERSE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "DERIVERSE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "DERIVERSE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "DERIVERSE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "DERIVERSE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "DERIVERSE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "DERIVERSE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "DERIVERSE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "DERIVERSE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "DERIVERSE_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "DERIVERSE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "DERIVERSE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "DERIVERSE_S3_REGION")
	setStr(&cfg.S3.Bucket, "DERIVERSE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "DERIVERSE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "DERIVERSE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "DERIVERSE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "DERIVERSE_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "DERIVERSE_S3_PREFIX")
	setStr(&cfg.S3.Format, "DERIVERSE_S3_FORMAT")
	setBool(&cfg.S3.ExportOnComplete, "DERIVERSE_S3_EXPORT_ON_COMPLETE")

	// ── Server ──
	setInt(&cfg.Server.Port, "DERIVERSE_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform-assigned port wins
	setStringSlice(&cfg.Server.CORSOrigins, "DERIVERSE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "DERIVERSE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "DERIVERSE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "DERIVERSE_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.WriteTimeout, "DERIVERSE_SERVER_WRITE_TIMEOUT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "DERIVERSE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "DERIVERSE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.TelegramAPI, "DERIVERSE_NOTIFY_TELEGRAM_API")
	setStr(&cfg.Notify.DiscordWebhookURL, "DERIVERSE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.DiscordUsername, "DERIVERSE_NOTIFY_DISCORD_USERNAME")
	setStringSlice(&cfg.Notify.Events, "DERIVERSE_NOTIFY_EVENTS")

	// ── Instruments ──
	setInstruments(&cfg.Instruments, "DERIVERSE_INSTRUMENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "DERIVERSE_MODE")
	setStr(&cfg.LogLevel, "DERIVERSE_LOG_LEVEL")
	setStr(&cfg.Wallet, "DERIVERSE_WALLET")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setInstruments replaces the instrument list from a comma-separated
// "id:symbol[:kind]" list, e.g. "0:SOL/USDC,1:SOL-PERP:perp". The variable
// is ignored when any entry fails to parse.
func setInstruments(dst *[]InstrumentConfig, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []InstrumentConfig
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, ":", 3)
		if len(parts) < 2 {
			return
		}
		id, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 32)
		if err != nil {
			return
		}
		in := InstrumentConfig{ID: uint32(id), Symbol: strings.TrimSpace(parts[1])}
		if len(parts) == 3 {
			in.Kind = strings.TrimSpace(parts[2])
		}
		out = append(out, in)
	}
	if len(out) > 0 {
		*dst = out
	}
}

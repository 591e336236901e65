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
// built-in defaults, applies INDEXCORE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known INDEXCORE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "INDEXCORE_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "INDEXCORE_CHAIN_ID")
	setStr(&cfg.Chain.PrivateKey, "INDEXCORE_CHAIN_PRIVATE_KEY")
	setStr(&cfg.Chain.EncryptedKeyPath, "INDEXCORE_CHAIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Chain.KeyPassword, "INDEXCORE_CHAIN_KEY_PASSWORD")
	setUint64(&cfg.Chain.GasLimit, "INDEXCORE_CHAIN_GAS_LIMIT")
	setBool(&cfg.Chain.Simulated, "INDEXCORE_CHAIN_SIMULATED")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "INDEXCORE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "INDEXCORE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "INDEXCORE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "INDEXCORE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "INDEXCORE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "INDEXCORE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "INDEXCORE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "INDEXCORE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "INDEXCORE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "INDEXCORE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "INDEXCORE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "INDEXCORE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "INDEXCORE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "INDEXCORE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "INDEXCORE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "INDEXCORE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "INDEXCORE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "INDEXCORE_S3_REGION")
	setStr(&cfg.S3.Bucket, "INDEXCORE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "INDEXCORE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "INDEXCORE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "INDEXCORE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "INDEXCORE_S3_FORCE_PATH_STYLE")

	// ── MEV ──
	setDuration(&cfg.MEV.CommitRevealDelay, "INDEXCORE_MEV_COMMIT_REVEAL_DELAY")
	setDuration(&cfg.MEV.BatchWindow, "INDEXCORE_MEV_BATCH_WINDOW")
	setInt64(&cfg.MEV.MaxImpactBps, "INDEXCORE_MEV_MAX_IMPACT_BPS")
	setInt(&cfg.MEV.HFLimit, "INDEXCORE_MEV_HF_LIMIT")

	// ── Settlement ──
	setInt(&cfg.Settlement.Workers, "INDEXCORE_SETTLEMENT_WORKERS")
	setInt(&cfg.Settlement.MaxRetries, "INDEXCORE_SETTLEMENT_MAX_RETRIES")
	setDuration(&cfg.Settlement.AttemptTimeout, "INDEXCORE_SETTLEMENT_ATTEMPT_TIMEOUT")

	// ── Archiver ──
	setBool(&cfg.Archiver.Enabled, "INDEXCORE_ARCHIVER_ENABLED")
	setDuration(&cfg.Archiver.Interval, "INDEXCORE_ARCHIVER_INTERVAL")
	setInt(&cfg.Archiver.RetentionDays, "INDEXCORE_ARCHIVER_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "INDEXCORE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "INDEXCORE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "INDEXCORE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "INDEXCORE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "INDEXCORE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "INDEXCORE_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "INDEXCORE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "INDEXCORE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "INDEXCORE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "INDEXCORE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStringSlice(&cfg.Pairs, "INDEXCORE_PAIRS")
	setStr(&cfg.Mode, "INDEXCORE_MODE")
	setStr(&cfg.LogLevel, "INDEXCORE_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
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

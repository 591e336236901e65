// Package config defines the top-level configuration for the execution core
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by INDEXCORE_* environment variables.
type Config struct {
	Chain      ChainConfig      `toml:"chain"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Book       BookConfig       `toml:"book"`
	Router     RouterConfig     `toml:"router"`
	MEV        MEVConfig        `toml:"mev"`
	Settlement SettlementConfig `toml:"settlement"`
	Archiver   ArchiverConfig   `toml:"archiver"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Pairs      []string         `toml:"pairs"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ChainConfig holds the EVM endpoint and signer used for AMM swaps.
type ChainConfig struct {
	RPCURL           string            `toml:"rpc_url"`
	ChainID          int64             `toml:"chain_id"`
	PrivateKey       string            `toml:"private_key"`
	EncryptedKeyPath string            `toml:"encrypted_key_path"`
	KeyPassword      string            `toml:"key_password"`
	GasLimit         uint64            `toml:"gas_limit"`
	Pools            map[string]string `toml:"pools"` // pair -> pool contract address
	// Simulated runs match without an RPC endpoint, using in-memory pools
	// seeded from SimReserves.
	Simulated   bool             `toml:"simulated"`
	SimReserves map[string]int64 `toml:"sim_reserves"` // pair -> base reserve units
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// BookConfig holds matching-engine and write-behind parameters.
type BookConfig struct {
	PersistInterval        duration `toml:"persist_interval"`
	PersistMaxBatch        int      `toml:"persist_max_batch"`
	MirrorFailureThreshold int      `toml:"mirror_failure_threshold"`
	MirrorGracePeriod      duration `toml:"mirror_grace_period"`
}

// RouterConfig holds liquidity-routing parameters.
type RouterConfig struct {
	ChunkFraction            float64  `toml:"chunk_fraction"`
	MaxIterations            int      `toml:"max_iterations"`
	DustUnits                int64    `toml:"dust_units"`
	LargeOrderThresholdUnits int64    `toml:"large_order_threshold_units"`
	LargeOrderAMMFraction    float64  `toml:"large_order_amm_fraction"`
	HighPriorityUnits        int64    `toml:"high_priority_units"`
	MaxRetries               int      `toml:"max_retries"`
	SlippageBps              int64    `toml:"slippage_bps"`
	SwapDeadline             duration `toml:"swap_deadline"`
	SnapshotDepth            int      `toml:"snapshot_depth"`
}

// MEVConfig holds commit-reveal, detector, and batch auction parameters.
type MEVConfig struct {
	CommitRevealDelay  duration `toml:"commit_reveal_delay"`
	CommitmentTTL      duration `toml:"commitment_ttl"`
	BatchWindow        duration `toml:"batch_window"`
	BatchGrace         duration `toml:"batch_grace"`
	MaxImpactBps       int64    `toml:"max_impact_bps"`
	SandwichWindow     duration `toml:"sandwich_window"`
	SandwichSizeTolBps int64    `toml:"sandwich_size_tol_bps"`
	FrontRunWindow     duration `toml:"front_run_window"`
	FrontRunEdgeBps    int64    `toml:"front_run_edge_bps"`
	BackRunBurst       int      `toml:"back_run_burst"`
	BackRunWindow      duration `toml:"back_run_window"`
	HFLimit            int      `toml:"hf_limit"`
	RiskScoreDelta     int64    `toml:"risk_score_delta"`
	VerifyWorkers      int64    `toml:"verify_workers"`
}

// SettlementConfig holds settlement queue parameters.
type SettlementConfig struct {
	Workers        int      `toml:"workers"`
	PollInterval   duration `toml:"poll_interval"`
	AttemptTimeout duration `toml:"attempt_timeout"`
	MaxRetries     int      `toml:"max_retries"`
	RetryBaseDelay duration `toml:"retry_base_delay"`
	RetryMaxDelay  duration `toml:"retry_max_delay"`
}

// ArchiverConfig holds cold-archive parameters.
type ArchiverConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"` // requests per window per client, 0 disables
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration for TOML text decoding.
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
		Chain: ChainConfig{
			ChainID:   137,
			GasLimit:  400_000,
			Pools:     map[string]string{},
			Simulated: true,
			SimReserves: map[string]int64{
				"WBTC-USDC": 1_000_000_000_000,
			},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "indexcore",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "indexcore-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Book: BookConfig{
			PersistInterval:        duration{200 * time.Millisecond},
			PersistMaxBatch:        256,
			MirrorFailureThreshold: 3,
			MirrorGracePeriod:      duration{5 * time.Second},
		},
		Router: RouterConfig{
			ChunkFraction:            0.10,
			MaxIterations:            64,
			DustUnits:                1_000,
			LargeOrderThresholdUnits: 100_000_000,
			LargeOrderAMMFraction:    0.50,
			HighPriorityUnits:        50_000_000,
			MaxRetries:               3,
			SlippageBps:              50,
			SwapDeadline:             duration{30 * time.Second},
			SnapshotDepth:            50,
		},
		MEV: MEVConfig{
			CommitRevealDelay:  duration{2 * time.Second},
			CommitmentTTL:      duration{5 * time.Minute},
			BatchWindow:        duration{5 * time.Second},
			BatchGrace:         duration{time.Minute},
			MaxImpactBps:       300,
			SandwichWindow:     duration{10 * time.Second},
			SandwichSizeTolBps: 500,
			FrontRunWindow:     duration{5 * time.Second},
			FrontRunEdgeBps:    10,
			BackRunBurst:       5,
			BackRunWindow:      duration{3 * time.Second},
			HFLimit:            60,
			RiskScoreDelta:     10,
			VerifyWorkers:      8,
		},
		Settlement: SettlementConfig{
			Workers:        4,
			PollInterval:   duration{250 * time.Millisecond},
			AttemptTimeout: duration{30 * time.Second},
			MaxRetries:     3,
			RetryBaseDelay: duration{time.Second},
			RetryMaxDelay:  duration{30 * time.Second},
		},
		Archiver: ArchiverConfig{
			Enabled:       false,
			Interval:      duration{time.Hour},
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   600,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"settlement_failed", "book_degraded", "error"},
		},
		Pairs:    []string{"WBTC-USDC"},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"settle":  true,
	"monitor": true,
	"full":    true,
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
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, settle, monitor, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if len(c.Pairs) == 0 {
		errs = append(errs, "pairs: at least one trading pair must be configured")
	}
	for _, p := range c.Pairs {
		if !strings.Contains(p, "-") {
			errs = append(errs, fmt.Sprintf("pairs: %q is not a BASE-QUOTE pair", p))
		}
	}

	// Chain credentials are only needed when swaps go on-chain.
	if !c.Chain.Simulated {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url is required when simulated is false")
		}
		if c.Chain.PrivateKey == "" && c.Chain.EncryptedKeyPath == "" {
			errs = append(errs, "chain: either private_key or encrypted_key_path is required when simulated is false")
		}
		if c.Chain.EncryptedKeyPath != "" && c.Chain.KeyPassword == "" {
			errs = append(errs, "chain: key_password is required when encrypted_key_path is set")
		}
		for _, p := range c.Pairs {
			if c.Chain.Pools[p] == "" {
				errs = append(errs, fmt.Sprintf("chain: no pool address configured for pair %q", p))
			}
		}
	}

	if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "") {
		errs = append(errs, "postgres: either dsn or host/database/user must be set")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr is required")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: invalid port %d", c.Server.Port))
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be positive when rate_limit is set")
	}

	if c.Archiver.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket is required when the archiver is enabled")
		}
		if c.Archiver.RetentionDays <= 0 {
			errs = append(errs, "archiver: retention_days must be positive")
		}
	}

	if c.Router.ChunkFraction <= 0 || c.Router.ChunkFraction > 1 {
		errs = append(errs, "router: chunk_fraction must be in (0, 1]")
	}
	if c.Router.LargeOrderAMMFraction < 0 || c.Router.LargeOrderAMMFraction > 1 {
		errs = append(errs, "router: large_order_amm_fraction must be in [0, 1]")
	}
	if c.Router.SlippageBps < 0 || c.Router.SlippageBps >= 10_000 {
		errs = append(errs, "router: slippage_bps must be in [0, 10000)")
	}

	if c.MEV.BatchWindow.Duration <= 0 {
		errs = append(errs, "mev: batch_window must be positive")
	}
	if c.MEV.MaxImpactBps < 0 {
		errs = append(errs, "mev: max_impact_bps must not be negative")
	}

	if c.Settlement.Workers <= 0 {
		errs = append(errs, "settlement: workers must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

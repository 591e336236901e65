package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTOML drops a config file into a temp dir and returns its path.
func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeTOML(t, `
mode = "serve"
pairs = ["WETH-USDC", "WBTC-USDC"]

[server]
port = 9100

[mev]
batch_window = "2s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "serve", cfg.Mode)
	assert.Equal(t, []string{"WETH-USDC", "WBTC-USDC"}, cfg.Pairs)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.MEV.BatchWindow.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 4, cfg.Settlement.Workers)
	assert.True(t, cfg.Chain.Simulated)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeTOML(t, `
mode = "serve"

[server]
port = 9100
`)

	t.Setenv("INDEXCORE_MODE", "settle")
	t.Setenv("INDEXCORE_SERVER_PORT", "9200")
	t.Setenv("INDEXCORE_SETTLEMENT_WORKERS", "8")
	t.Setenv("INDEXCORE_MEV_BATCH_WINDOW", "750ms")
	t.Setenv("INDEXCORE_PAIRS", "WETH-USDC,WBTC-USDC")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "settle", cfg.Mode)
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Settlement.Workers)
	assert.Equal(t, 750*time.Millisecond, cfg.MEV.BatchWindow.Duration)
	assert.Equal(t, []string{"WETH-USDC", "WBTC-USDC"}, cfg.Pairs)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Pairs = nil
	cfg.Redis.Addr = ""
	cfg.Settlement.Workers = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "at least one trading pair")
	assert.Contains(t, err.Error(), "redis: addr is required")
	assert.Contains(t, err.Error(), "settlement: workers must be positive")
}

func TestValidateChainCredentials(t *testing.T) {
	cfg := Defaults()
	cfg.Chain.Simulated = false

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc_url is required")
	assert.Contains(t, err.Error(), "private_key or encrypted_key_path")
	assert.Contains(t, err.Error(), "no pool address configured")

	cfg.Chain.RPCURL = "https://polygon-rpc.example"
	cfg.Chain.PrivateKey = "0bad"
	cfg.Chain.Pools = map[string]string{"WBTC-USDC": "0x0000000000000000000000000000000000000001"}
	require.NoError(t, cfg.Validate())
}

func TestValidateArchiverRequiresBucket(t *testing.T) {
	cfg := Defaults()
	cfg.Archiver.Enabled = true
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: bucket is required")
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Chain.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "pgpass"
	cfg.Redis.Password = "redispass"
	cfg.S3.SecretKey = "s3secret"
	cfg.Server.APIKey = "apikey"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Chain.PrivateKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Server.APIKey)

	// The source config is untouched.
	assert.Equal(t, "deadbeef", cfg.Chain.PrivateKey)

	// Mutating the copy's slices must not leak back.
	red.Pairs[0] = "mutated"
	assert.Equal(t, "WBTC-USDC", cfg.Pairs[0])
}

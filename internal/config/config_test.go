package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func validBody(t *testing.T) string {
	t.Helper()
	return `{
		"rpc_url": "https://api.mainnet-beta.solana.com",
		"mint": "` + solana.NewWallet().PublicKey().String() + `"
	}`
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validBody(t)))
	require.NoError(t, err)

	assert.Equal(t, ModeTransactions, cfg.Mode)
	assert.Equal(t, DefaultPollIntervalMs, cfg.PollIntervalMs)
	assert.Equal(t, DefaultStatsIntervalMs, cfg.StatsIntervalMs)
	assert.Equal(t, DefaultSignatureLimit, cfg.SignatureLimit)
	assert.Equal(t, DefaultLedgerFile, cfg.LedgerFile)
	assert.Equal(t, 2*time.Second, cfg.PollInterval())
	assert.Equal(t, 30*time.Second, cfg.StatsInterval())
}

func TestLoadExplicitValues(t *testing.T) {
	body := `{
		"rpc_url": "http://localhost:8899",
		"mint": "` + solana.NewWallet().PublicKey().String() + `",
		"mode": "polling",
		"poll_interval_ms": 500,
		"ledger_file": "out/ledger.json",
		"debug_logging": true
	}`
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)

	assert.Equal(t, ModePolling, cfg.Mode)
	assert.Equal(t, 500, cfg.PollIntervalMs)
	assert.Equal(t, "out/ledger.json", cfg.LedgerFile)
	assert.True(t, cfg.DebugLogging)
}

func TestLoadRejectsInvalid(t *testing.T) {
	mint := solana.NewWallet().PublicKey().String()
	cases := map[string]string{
		"missing rpc_url": `{"mint": "` + mint + `"}`,
		"bad rpc scheme":  `{"rpc_url": "ws://node", "mint": "` + mint + `"}`,
		"missing mint":    `{"rpc_url": "http://localhost:8899"}`,
		"bad mint":        `{"rpc_url": "http://localhost:8899", "mint": "not-a-key"}`,
		"bad mode":        `{"rpc_url": "http://localhost:8899", "mint": "` + mint + `", "mode": "hybrid"}`,
		"bad interval":    `{"rpc_url": "http://localhost:8899", "mint": "` + mint + `", "poll_interval_ms": 0}`,
		"bad limit":       `{"rpc_url": "http://localhost:8899", "mint": "` + mint + `", "signature_limit": 5000}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

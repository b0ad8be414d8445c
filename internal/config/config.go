// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/viper"
)

// Watch modes. Transactions derives events from confirmed transaction
// records and never emits CLAIM entries; Polling diffs raw vault balances
// each tick and records both fee accrual and claims.
const (
	ModeTransactions = "transactions"
	ModePolling      = "polling"
)

type Config struct {
	RPCURL          string `mapstructure:"rpc_url"`
	Mint            string `mapstructure:"mint"`
	Mode            string `mapstructure:"mode"`
	PollIntervalMs  int    `mapstructure:"poll_interval_ms"`
	StatsIntervalMs int    `mapstructure:"stats_interval_ms"`
	SignatureLimit  int    `mapstructure:"signature_limit"`
	LedgerFile      string `mapstructure:"ledger_file"`
	HistoryDir      string `mapstructure:"history_dir"`
	DebugLogging    bool   `mapstructure:"debug_logging"`
}

// PollInterval returns the watch tick interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// StatsInterval returns the periodic stats reporting interval.
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.StatsIntervalMs) * time.Millisecond
}

const (
	DefaultPollIntervalMs  = 2000
	DefaultStatsIntervalMs = 30000
	DefaultSignatureLimit  = 50
	DefaultLedgerFile      = "data/ledger.json"
	DefaultHistoryDir      = "data/history"
)

// Load reads the config file at path, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"mode":              ModeTransactions,
		"poll_interval_ms":  DefaultPollIntervalMs,
		"stats_interval_ms": DefaultStatsIntervalMs,
		"signature_limit":   DefaultSignatureLimit,
		"ledger_file":       DefaultLedgerFile,
		"history_dir":       DefaultHistoryDir,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	loadEnvironmentVariables(v, &cfg)

	return &cfg, validate(&cfg)
}

func validate(cfg *Config) error {
	if cfg.RPCURL == "" {
		return errors.New("missing rpc_url in configuration")
	}
	if err := validateURL(cfg.RPCURL, "http"); err != nil {
		return errors.New("invalid RPC URL protocol")
	}

	if cfg.Mint == "" {
		return errors.New("missing mint in configuration")
	}
	if _, err := solana.PublicKeyFromBase58(cfg.Mint); err != nil {
		return fmt.Errorf("invalid mint address: %w", err)
	}

	if cfg.Mode != ModeTransactions && cfg.Mode != ModePolling {
		return fmt.Errorf("invalid mode %q: must be %q or %q", cfg.Mode, ModeTransactions, ModePolling)
	}

	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.PollIntervalMs <= 0 {
		return errors.New("invalid poll_interval_ms")
	}
	if cfg.StatsIntervalMs <= 0 {
		return errors.New("invalid stats_interval_ms")
	}
	if cfg.SignatureLimit <= 0 || cfg.SignatureLimit > 1000 {
		return errors.New("signature_limit must be between 1 and 1000")
	}
	if cfg.LedgerFile == "" {
		return errors.New("missing ledger_file in configuration")
	}
	return nil
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) {
	v.AutomaticEnv()
	v.SetEnvPrefix("FEELEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if envRPC := v.GetString("RPC_URL"); envRPC != "" {
		cfg.RPCURL = strings.TrimSpace(envRPC)
	}
	if envMint := v.GetString("MINT"); envMint != "" {
		cfg.Mint = strings.TrimSpace(envMint)
	}
}

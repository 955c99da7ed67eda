// Package config defines the top-level configuration for the WagerWars engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by WAGERWARS_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Chain    ChainConfig    `toml:"chain"`
	Engine   EngineConfig   `toml:"engine"`
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the command signing key.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds the signing domain and the block clock.
type ChainConfig struct {
	ChainID int64 `toml:"chain_id"`
	// BlockInterval advances the ledger height by one block per tick in
	// ledger mode. Zero leaves the height to advance-height commands.
	BlockInterval duration `toml:"block_interval"`
}

// EngineConfig holds market and fee parameters.
type EngineConfig struct {
	FeeBps               int64  `toml:"fee_bps"`
	MinResolutionHorizon uint64 `toml:"min_resolution_horizon"`
	ManagerStakeMin      int64  `toml:"manager_stake_min"`
	MaxOutcomes          int    `toml:"max_outcomes"`
	PlatformVersion      string `toml:"platform_version"`
	EventChannel         string `toml:"event_channel"`
}

// StoreConfig selects the ledger backend.
type StoreConfig struct {
	Backend string `toml:"backend"` // postgres | memory
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

// RedisConfig holds Redis connection parameters. An empty Addr runs without
// Redis: in-process caches and bus are used instead.
type RedisConfig struct {
	Addr           string   `toml:"addr"`
	Password       string   `toml:"password"`
	DB             int      `toml:"db"`
	PoolSize       int      `toml:"pool_size"`
	MaxRetries     int      `toml:"max_retries"`
	TLSEnabled     bool     `toml:"tls_enabled"`
	KeyPrefix      string   `toml:"key_prefix"`
	StreamMaxLen   int64    `toml:"stream_max_len"`
	StreamBlock    duration `toml:"stream_block"`
	MarketCacheTTL duration `toml:"market_cache_ttl"`
}

// S3Config holds S3-compatible object storage parameters. An empty Bucket
// disables snapshots and trade archives.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// LedgerConfig tunes the command processor.
type LedgerConfig struct {
	CommandStream    string   `toml:"command_stream"`
	ResultStream     string   `toml:"result_stream"`
	LeaderKey        string   `toml:"leader_key"`
	BatchSize        int      `toml:"batch_size"`
	PollInterval     duration `toml:"poll_interval"`
	RateLimit        int      `toml:"rate_limit"`
	RateWindow       duration `toml:"rate_window"`
	DedupTTL         duration `toml:"dedup_ttl"`
	LeaderTTL        duration `toml:"leader_ttl"`
	SnapshotInterval duration `toml:"snapshot_interval"`
}

// MetricsConfig holds the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	QueueSize         int      `toml:"queue_size"`
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
		Chain: ChainConfig{
			ChainID: 31337,
		},
		Engine: EngineConfig{
			FeeBps:               200,
			MinResolutionHorizon: 3600,
			ManagerStakeMin:      1_000_000_000,
			MaxOutcomes:          10,
			PlatformVersion:      "1.0.0",
			EventChannel:         "events",
		},
		Store: StoreConfig{
			Backend: "postgres",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "wagerwars",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			PoolSize:       20,
			MaxRetries:     3,
			KeyPrefix:      "wagerwars:",
			StreamMaxLen:   100_000,
			StreamBlock:    duration{2 * time.Second},
			MarketCacheTTL: duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "wagerwars-ledger",
			ForcePathStyle: true,
		},
		Ledger: LedgerConfig{
			CommandStream:    "commands",
			ResultStream:     "results",
			LeaderKey:        "ledger:leader",
			BatchSize:        64,
			PollInterval:     duration{250 * time.Millisecond},
			RateLimit:        120,
			RateWindow:       duration{time.Minute},
			DedupTTL:         duration{24 * time.Hour},
			LeaderTTL:        duration{15 * time.Second},
			SnapshotInterval: duration{time.Hour},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9102",
		},
		Notify: NotifyConfig{
			Events:    []string{"market_created", "market_resolved", "market_cancelled"},
			QueueSize: 256,
		},
		Mode:     "command",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"command":  true,
	"ledger":   true,
	"snapshot": true,
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
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: command, ledger, snapshot)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet
	if c.Wallet.PrivateKey != "" && c.Wallet.EncryptedKeyPath != "" {
		errs = append(errs, "wallet: set only one of private_key and encrypted_key_path")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Chain
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}
	if c.Chain.BlockInterval.Duration < 0 {
		errs = append(errs, "chain: block_interval must not be negative")
	}

	// Engine
	if c.Engine.FeeBps < 0 || c.Engine.FeeBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("engine: fee_bps must be 0-9999, got %d", c.Engine.FeeBps))
	}
	if c.Engine.ManagerStakeMin <= 0 {
		errs = append(errs, "engine: manager_stake_min must be > 0")
	}
	if c.Engine.MaxOutcomes < 2 {
		errs = append(errs, "engine: max_outcomes must be >= 2")
	}

	// Store
	switch c.Store.Backend {
	case "memory":
		if strings.EqualFold(c.Mode, "ledger") {
			errs = append(errs, "store: backend memory cannot serve ledger mode")
		}
	case "postgres":
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
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: postgres, memory)", c.Store.Backend))
	}

	// Redis
	if c.Redis.Addr == "" && strings.EqualFold(c.Mode, "ledger") {
		errs = append(errs, "redis: addr is required for ledger mode")
	}
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Bucket != "" && c.S3.Endpoint == "" && c.S3.Region == "" {
		errs = append(errs, "s3: endpoint or region must be set")
	}
	if c.S3.Bucket == "" && strings.EqualFold(c.Mode, "snapshot") {
		errs = append(errs, "s3: bucket is required for snapshot mode")
	}

	// Ledger
	if c.Ledger.CommandStream == "" || c.Ledger.ResultStream == "" {
		errs = append(errs, "ledger: command_stream and result_stream must not be empty")
	}
	if c.Ledger.CommandStream == c.Ledger.ResultStream && c.Ledger.CommandStream != "" {
		errs = append(errs, "ledger: command_stream and result_stream must differ")
	}
	if c.Ledger.BatchSize < 1 {
		errs = append(errs, "ledger: batch_size must be >= 1")
	}
	if c.Ledger.RateLimit < 0 {
		errs = append(errs, "ledger: rate_limit must be >= 0")
	}
	if c.Ledger.LeaderTTL.Duration < time.Second {
		errs = append(errs, "ledger: leader_ttl must be at least 1s")
	}

	// Metrics
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics: addr must not be empty when enabled")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Package config defines the top-level configuration for the bridge daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"tidebridge/internal/bridge"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by BRIDGE_* environment variables.
type Config struct {
	Ledger    LedgerConfig    `toml:"ledger"`
	Relay     RelayConfig     `toml:"relay"`
	Worker    WorkerConfig    `toml:"worker"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Positions PositionsConfig `toml:"positions"`
	Postgres  PostgresConfig  `toml:"postgres"`
	NATS      NATSConfig      `toml:"nats"`
	Redis     RedisConfig     `toml:"redis"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	LogLevel  string          `toml:"log_level"`
}

// LedgerConfig holds escrow ledger parameters.
type LedgerConfig struct {
	PendingCap  int              `toml:"pending_cap"`
	MinDeposits map[string]int64 `toml:"min_deposits"`
}

// RelayConfig holds the custodial relay's signing credentials.
type RelayConfig struct {
	PrivateKey string `toml:"private_key"`
}

// WorkerConfig holds bridge worker and lease parameters.
type WorkerConfig struct {
	PositionTypes  []string `toml:"position_types"`
	Strategies     []string `toml:"strategies"`
	RecoverOnStart bool     `toml:"recover_on_start"`

	LeaseEnabled bool     `toml:"lease_enabled"`
	LeaseKey     string   `toml:"lease_key"`
	LeaseTTL     duration `toml:"lease_ttl"`
	LeaseRefresh duration `toml:"lease_refresh"`
	LeaseRetry   duration `toml:"lease_retry"`

	InvariantCheckInterval duration `toml:"invariant_check_interval"`
}

// SchedulerConfig holds the reactive scheduler's band table.
type SchedulerConfig struct {
	BatchLimit int          `toml:"batch_limit"`
	Bands      []BandConfig `toml:"bands"`
}

// BandConfig is one backlog-threshold-to-delay row.
type BandConfig struct {
	Threshold int      `toml:"threshold"`
	Delay     duration `toml:"delay"`
}

// BandTable converts the configured bands into the scheduler's form.
func (s SchedulerConfig) BandTable() []bridge.Band {
	bands := make([]bridge.Band, 0, len(s.Bands))
	for _, b := range s.Bands {
		bands = append(bands, bridge.Band{Threshold: b.Threshold, Delay: b.Delay.Duration})
	}
	return bands
}

// PositionsConfig selects and configures the position-ledger backend.
type PositionsConfig struct {
	// Mode is "memory" (in-process, dev and test) or "http" (remote service).
	Mode    string `toml:"mode"`
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
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
	MaxOpenConns  int    `toml:"max_open_conns"`
	RunMigrations bool   `toml:"run_migrations"`
	MigrationsDir string `toml:"migrations_dir"`
}

// ConnString returns the DSN, building one from the discrete fields when no
// explicit dsn was configured.
func (p PostgresConfig) ConnString() string {
	if strings.TrimSpace(p.DSN) != "" {
		return p.DSN
	}
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		p.Host, p.Port, p.Database, p.User, p.Password, p.SSLMode)
}

// NATSConfig holds JetStream publishing parameters.
type NATSConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
}

// RedisConfig holds Redis connection parameters for the worker lease.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// ArchiveConfig holds S3-compatible object storage parameters for the
// finalized-event archive.
type ArchiveConfig struct {
	Enabled        bool     `toml:"enabled"`
	Interval       duration `toml:"interval"`
	RetentionDays  int      `toml:"retention_days"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
}

// ServerConfig holds the HTTP API and metrics listener parameters. AdminKey
// guards the /api/admin routes separately from the read/submit surface;
// leaving either key empty disables auth for that surface.
type ServerConfig struct {
	Port        int    `toml:"port"`
	APIKey      string `toml:"api_key"`
	AdminKey    string `toml:"admin_key"`
	MetricsPort int    `toml:"metrics_port"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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

// Defaults returns a Config populated with reasonable default values for a
// local single-node deployment. Secrets (relay key, API keys) have no
// defaults and must come from the file or the environment.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			PendingCap: 16,
			MinDeposits: map[string]int64{
				"USDC": 1_000,
			},
		},
		Worker: WorkerConfig{
			RecoverOnStart:         true,
			LeaseEnabled:           true,
			LeaseKey:               bridge.DefaultLeaseKey,
			LeaseTTL:               duration{bridge.DefaultLeaseTTL},
			LeaseRefresh:           duration{bridge.DefaultLeaseRefreshEvery},
			LeaseRetry:             duration{bridge.DefaultLeaseRetryEvery},
			InvariantCheckInterval: duration{bridge.DefaultInvariantEvery},
		},
		Scheduler: SchedulerConfig{
			BatchLimit: bridge.DefaultBatchLimit,
			Bands:      defaultBands(),
		},
		Positions: PositionsConfig{
			Mode: "memory",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "bridge",
			User:          "postgres",
			SSLMode:       "disable",
			MaxOpenConns:  10,
			RunMigrations: true,
			MigrationsDir: "migrations",
		},
		NATS: NATSConfig{
			Enabled: true,
			URL:     "nats://localhost:4222",
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Archive: ArchiveConfig{
			Enabled:        false,
			Interval:       duration{1 * time.Hour},
			RetentionDays:  30,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "bridge-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:        8080,
			MetricsPort: 9090,
		},
		Notify: NotifyConfig{
			Events: []string{
				bridge.AlertBatchAborted,
				bridge.AlertRecoveryRun,
				bridge.AlertLeaseLost,
				bridge.AlertInvariantViolation,
			},
		},
		LogLevel: "info",
	}
}

// defaultBands mirrors the scheduler's built-in table so the TOML file and
// the code agree on one source of truth.
func defaultBands() []BandConfig {
	src := bridge.DefaultBands()
	bands := make([]BandConfig, 0, len(src))
	for _, b := range src {
		bands = append(bands, BandConfig{Threshold: b.Threshold, Delay: duration{b.Delay}})
	}
	return bands
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validPositionModes enumerates the accepted values for Positions.Mode.
var validPositionModes = map[string]bool{
	"memory": true,
	"http":   true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger
	if c.Ledger.PendingCap < 1 {
		errs = append(errs, fmt.Sprintf("ledger: pending_cap must be >= 1, got %d", c.Ledger.PendingCap))
	}
	for asset, min := range c.Ledger.MinDeposits {
		if min < 1 {
			errs = append(errs, fmt.Sprintf("ledger: min_deposits[%s] must be >= 1, got %d", asset, min))
		}
	}

	// Relay
	if strings.TrimSpace(c.Relay.PrivateKey) == "" {
		errs = append(errs, "relay: private_key must be set")
	}

	// Worker
	if c.Worker.LeaseEnabled {
		if c.Worker.LeaseKey == "" {
			errs = append(errs, "worker: lease_key must not be empty when the lease is enabled")
		}
		if c.Worker.LeaseTTL.Duration <= 0 {
			errs = append(errs, "worker: lease_ttl must be positive")
		}
		if c.Worker.LeaseRefresh.Duration <= 0 {
			errs = append(errs, "worker: lease_refresh must be positive")
		}
		if c.Worker.LeaseRefresh.Duration >= c.Worker.LeaseTTL.Duration {
			errs = append(errs, "worker: lease_refresh must be shorter than lease_ttl")
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr is required when worker.lease_enabled is set")
		}
	}
	if c.Worker.InvariantCheckInterval.Duration <= 0 {
		errs = append(errs, "worker: invariant_check_interval must be positive")
	}

	// Scheduler
	if c.Scheduler.BatchLimit < 1 {
		errs = append(errs, fmt.Sprintf("scheduler: batch_limit must be >= 1, got %d", c.Scheduler.BatchLimit))
	}
	if err := bridge.ValidateBands(c.Scheduler.BandTable()); err != nil {
		errs = append(errs, fmt.Sprintf("scheduler: %v", err))
	}

	// Positions
	if !validPositionModes[c.Positions.Mode] {
		errs = append(errs, fmt.Sprintf("positions: unknown mode %q (valid: memory, http)", c.Positions.Mode))
	}
	if c.Positions.Mode == "http" && c.Positions.BaseURL == "" {
		errs = append(errs, "positions: base_url is required for http mode")
	}

	// Postgres
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
	if c.Postgres.MaxOpenConns < 1 {
		errs = append(errs, "postgres: max_open_conns must be >= 1")
	}
	if c.Postgres.RunMigrations && c.Postgres.MigrationsDir == "" {
		errs = append(errs, "postgres: migrations_dir must not be empty when run_migrations is set")
	}

	// NATS
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, "nats: url must not be empty when enabled")
	}

	// Redis
	if c.Redis.Addr != "" && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.Endpoint == "" {
			errs = append(errs, "archive: endpoint must not be empty when enabled")
		}
		if c.Archive.Bucket == "" {
			errs = append(errs, "archive: bucket must not be empty when enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, fmt.Sprintf("server: metrics_port must be 1-65535, got %d", c.Server.MetricsPort))
	}
	if c.Server.MetricsPort == c.Server.Port {
		errs = append(errs, "server: metrics_port must differ from port")
	}

	// Telegram token and chat id must be set together.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads configuration in three layers: built-in defaults, then the TOML
// file at path (skipped when path is empty or the file does not exist), then
// BRIDGE_* environment variables. A .env file in the working directory is
// loaded before the env pass so local development can keep secrets out of
// the TOML file.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return Config{}, fmt.Errorf("decode config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	// Missing .env is fine; environment variables may come from elsewhere.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnvOverrides maps BRIDGE_* environment variables onto cfg. Only
// variables that are present and non-empty replace the configured values.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.LogLevel, "BRIDGE_LOG_LEVEL")

	setInt(&cfg.Ledger.PendingCap, "BRIDGE_LEDGER_PENDING_CAP")

	setStr(&cfg.Relay.PrivateKey, "BRIDGE_RELAY_PRIVATE_KEY")

	setStringSlice(&cfg.Worker.PositionTypes, "BRIDGE_WORKER_POSITION_TYPES")
	setStringSlice(&cfg.Worker.Strategies, "BRIDGE_WORKER_STRATEGIES")
	setBool(&cfg.Worker.RecoverOnStart, "BRIDGE_WORKER_RECOVER_ON_START")
	setBool(&cfg.Worker.LeaseEnabled, "BRIDGE_WORKER_LEASE_ENABLED")
	setStr(&cfg.Worker.LeaseKey, "BRIDGE_WORKER_LEASE_KEY")
	setDuration(&cfg.Worker.LeaseTTL, "BRIDGE_WORKER_LEASE_TTL")
	setDuration(&cfg.Worker.LeaseRefresh, "BRIDGE_WORKER_LEASE_REFRESH")
	setDuration(&cfg.Worker.LeaseRetry, "BRIDGE_WORKER_LEASE_RETRY")
	setDuration(&cfg.Worker.InvariantCheckInterval, "BRIDGE_WORKER_INVARIANT_CHECK_INTERVAL")

	setInt(&cfg.Scheduler.BatchLimit, "BRIDGE_SCHEDULER_BATCH_LIMIT")

	setStr(&cfg.Positions.Mode, "BRIDGE_POSITIONS_MODE")
	setStr(&cfg.Positions.BaseURL, "BRIDGE_POSITIONS_BASE_URL")
	setStr(&cfg.Positions.APIKey, "BRIDGE_POSITIONS_API_KEY")

	setStr(&cfg.Postgres.DSN, "BRIDGE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BRIDGE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BRIDGE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BRIDGE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BRIDGE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BRIDGE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BRIDGE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.MaxOpenConns, "BRIDGE_POSTGRES_MAX_OPEN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BRIDGE_POSTGRES_RUN_MIGRATIONS")
	setStr(&cfg.Postgres.MigrationsDir, "BRIDGE_POSTGRES_MIGRATIONS_DIR")

	setBool(&cfg.NATS.Enabled, "BRIDGE_NATS_ENABLED")
	setStr(&cfg.NATS.URL, "BRIDGE_NATS_URL")

	setStr(&cfg.Redis.Addr, "BRIDGE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BRIDGE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BRIDGE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BRIDGE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BRIDGE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BRIDGE_REDIS_TLS_ENABLED")

	setBool(&cfg.Archive.Enabled, "BRIDGE_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "BRIDGE_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "BRIDGE_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Endpoint, "BRIDGE_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "BRIDGE_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "BRIDGE_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "BRIDGE_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "BRIDGE_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.UseSSL, "BRIDGE_ARCHIVE_USE_SSL")
	setBool(&cfg.Archive.ForcePathStyle, "BRIDGE_ARCHIVE_FORCE_PATH_STYLE")

	setInt(&cfg.Server.Port, "BRIDGE_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "BRIDGE_SERVER_API_KEY")
	setStr(&cfg.Server.AdminKey, "BRIDGE_SERVER_ADMIN_KEY")
	setInt(&cfg.Server.MetricsPort, "BRIDGE_SERVER_METRICS_PORT")

	setStr(&cfg.Notify.TelegramToken, "BRIDGE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BRIDGE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BRIDGE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BRIDGE_NOTIFY_EVENTS")
}

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

// setStringSlice splits a comma-separated value, trimming whitespace around
// each element and dropping empties.
func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}

// Package config defines the top-level configuration of the ledger service
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADELEDGER_* environment variables.
type Config struct {
	Store     StoreConfig     `toml:"store"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Cache     CacheConfig     `toml:"cache"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Sync      SyncConfig      `toml:"sync"`
	Archive   ArchiveConfig   `toml:"archive"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// StoreConfig selects and configures the ledger database.
type StoreConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string `toml:"driver"`

	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`

	SQLitePath string `toml:"sqlite_path"`

	RunMigrations  bool     `toml:"run_migrations"`
	ConnectTimeout duration `toml:"connect_timeout"`
	// TxTimeout bounds one reconciliation transaction.
	TxTimeout duration `toml:"tx_timeout"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; without
// it locks are process-local and caches are not shared across replicas.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	LockTTL    duration `toml:"lock_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// CacheConfig tunes the tenant-scoped query cache.
type CacheConfig struct {
	Enabled         bool     `toml:"enabled"`
	PositionsTTL    duration `toml:"positions_ttl"`
	TradesTTL       duration `toml:"trades_ttl"`
	PnLTTL          duration `toml:"pnl_ttl"`
	DailyStatTTL    duration `toml:"daily_stat_ttl"`
	CleanupInterval duration `toml:"cleanup_interval"`
	StatsInterval   duration `toml:"stats_interval"`
}

// ReconcileConfig holds the reconciliation rules.
type ReconcileConfig struct {
	// Timezone is the IANA zone trading days are cut in.
	Timezone          string   `toml:"timezone"`
	ExcludedExchanges []string `toml:"excluded_exchanges"`
	DailyLossLimit    float64  `toml:"daily_loss_limit"`
}

// SyncConfig drives the directory feed poller.
type SyncConfig struct {
	Enabled  bool     `toml:"enabled"`
	FeedDir  string   `toml:"feed_dir"`
	Interval duration `toml:"interval"`
	Workers  int      `toml:"workers"`
}

// ArchiveConfig schedules the trade archive to S3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// ServerConfig holds HTTP API server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "30s", "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so that BurntSushi/toml can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Modes the binary can run in.
const (
	ModeServer = "server"
	ModeSync   = "sync"
	ModeFull   = "full"
)

var validModes = map[string]bool{ModeServer: true, ModeSync: true, ModeFull: true}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Defaults returns a Config populated with sensible default values. These are
// used as the base layer before TOML and env-var overrides are applied.
func Defaults() Config {
	return Config{
		Store: StoreConfig{
			Driver:         "sqlite",
			Host:           "localhost",
			Port:           5432,
			Database:       "tradeledger",
			User:           "postgres",
			SSLMode:        "disable",
			PoolMaxConns:   10,
			PoolMinConns:   2,
			SQLitePath:     "tradeledger.db",
			RunMigrations:  true,
			ConnectTimeout: duration{10 * time.Second},
			TxTimeout:      duration{30 * time.Second},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "tradeledger:",
			LockTTL:    duration{30 * time.Second},
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "tradeledger-archive",
			ForcePathStyle: true,
		},
		Cache: CacheConfig{
			Enabled:         true,
			PositionsTTL:    duration{2 * time.Second},
			TradesTTL:       duration{10 * time.Second},
			PnLTTL:          duration{5 * time.Second},
			DailyStatTTL:    duration{5 * time.Second},
			CleanupInterval: duration{time.Minute},
			StatsInterval:   duration{5 * time.Minute},
		},
		Reconcile: ReconcileConfig{
			Timezone:          "Asia/Kolkata",
			ExcludedExchanges: []string{"NSE", "BSE"},
			DailyLossLimit:    5000,
		},
		Sync: SyncConfig{
			FeedDir:  "feed",
			Interval: duration{30 * time.Second},
			Workers:  4,
		},
		Archive: ArchiveConfig{
			Cron:          "0 3 1 * *",
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"*"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"loss_limit_hit", "reconcile_failed", "archive_done"},
		},
		Mode:     ModeFull,
		LogLevel: "info",
	}
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, sync, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Store
	switch c.Store.Driver {
	case "postgres":
		if strings.TrimSpace(c.Store.DSN) == "" {
			if c.Store.Host == "" {
				errs = append(errs, "store: host must not be empty (or set store.dsn)")
			}
			if c.Store.Port <= 0 || c.Store.Port > 65535 {
				errs = append(errs, fmt.Sprintf("store: port must be 1-65535, got %d", c.Store.Port))
			}
			if c.Store.Database == "" {
				errs = append(errs, "store: database must not be empty")
			}
		}
		if c.Store.PoolMaxConns < 1 {
			errs = append(errs, "store: pool_max_conns must be >= 1")
		}
		if c.Store.PoolMinConns < 0 {
			errs = append(errs, "store: pool_min_conns must be >= 0")
		}
		if c.Store.PoolMinConns > c.Store.PoolMaxConns {
			errs = append(errs, "store: pool_min_conns must not exceed pool_max_conns")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, "store: sqlite_path must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, sqlite)", c.Store.Driver))
	}
	if c.Store.TxTimeout.Duration <= 0 {
		errs = append(errs, "store: tx_timeout must be > 0")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration <= 0 {
			errs = append(errs, "redis: lock_ttl must be > 0")
		} else if c.Redis.LockTTL.Duration < c.Store.TxTimeout.Duration {
			errs = append(errs, "redis: lock_ttl must not be shorter than store.tx_timeout")
		}
	}

	// Cache
	for name, d := range map[string]duration{
		"positions_ttl":    c.Cache.PositionsTTL,
		"trades_ttl":       c.Cache.TradesTTL,
		"pnl_ttl":          c.Cache.PnLTTL,
		"daily_stat_ttl":   c.Cache.DailyStatTTL,
		"cleanup_interval": c.Cache.CleanupInterval,
		"stats_interval":   c.Cache.StatsInterval,
	} {
		if d.Duration < 0 {
			errs = append(errs, fmt.Sprintf("cache: %s must not be negative", name))
		}
	}

	// Reconcile
	if _, err := time.LoadLocation(c.Reconcile.Timezone); err != nil || c.Reconcile.Timezone == "" {
		errs = append(errs, fmt.Sprintf("reconcile: unknown timezone %q", c.Reconcile.Timezone))
	}
	if c.Reconcile.DailyLossLimit < 0 {
		errs = append(errs, "reconcile: daily_loss_limit must be >= 0")
	}

	// Sync
	if c.Sync.Enabled {
		if c.Sync.FeedDir == "" {
			errs = append(errs, "sync: feed_dir must not be empty")
		}
		if c.Sync.Interval.Duration <= 0 {
			errs = append(errs, "sync: interval must be > 0")
		}
		if c.Sync.Workers < 1 {
			errs = append(errs, "sync: workers must be >= 1")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if _, err := cron.ParseStandard(c.Archive.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("archive: invalid cron %q: %v", c.Archive.Cron, err))
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
	}

	// Server
	if c.Mode != ModeSync {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

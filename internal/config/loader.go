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

// envPrefix is the prefix of every environment override.
const envPrefix = "TRADELEDGER_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADELEDGER_* environment variable overrides,
// and returns the final Config. An empty path skips the file. The returned
// Config has NOT been validated; the caller should invoke Config.Validate()
// after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADELEDGER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Store ──
	setStr(&cfg.Store.Driver, "STORE_DRIVER")
	setStr(&cfg.Store.DSN, "STORE_DSN")
	setStr(&cfg.Store.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Store.Host, "STORE_HOST")
	setInt(&cfg.Store.Port, "STORE_PORT")
	setStr(&cfg.Store.Database, "STORE_DATABASE")
	setStr(&cfg.Store.User, "STORE_USER")
	setStr(&cfg.Store.Password, "STORE_PASSWORD")
	setStr(&cfg.Store.SSLMode, "STORE_SSL_MODE")
	setInt(&cfg.Store.PoolMaxConns, "STORE_POOL_MAX_CONNS")
	setInt(&cfg.Store.PoolMinConns, "STORE_POOL_MIN_CONNS")
	setStr(&cfg.Store.SQLitePath, "STORE_SQLITE_PATH")
	setBool(&cfg.Store.RunMigrations, "STORE_RUN_MIGRATIONS")
	setDuration(&cfg.Store.ConnectTimeout, "STORE_CONNECT_TIMEOUT")
	setDuration(&cfg.Store.TxTimeout, "STORE_TX_TIMEOUT")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.LockTTL, "REDIS_LOCK_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// ── Cache ──
	setBool(&cfg.Cache.Enabled, "CACHE_ENABLED")
	setDuration(&cfg.Cache.PositionsTTL, "CACHE_POSITIONS_TTL")
	setDuration(&cfg.Cache.TradesTTL, "CACHE_TRADES_TTL")
	setDuration(&cfg.Cache.PnLTTL, "CACHE_PNL_TTL")
	setDuration(&cfg.Cache.DailyStatTTL, "CACHE_DAILY_STAT_TTL")
	setDuration(&cfg.Cache.CleanupInterval, "CACHE_CLEANUP_INTERVAL")
	setDuration(&cfg.Cache.StatsInterval, "CACHE_STATS_INTERVAL")

	// ── Reconcile ──
	setStr(&cfg.Reconcile.Timezone, "RECONCILE_TIMEZONE")
	setStringSlice(&cfg.Reconcile.ExcludedExchanges, "RECONCILE_EXCLUDED_EXCHANGES")
	setFloat64(&cfg.Reconcile.DailyLossLimit, "RECONCILE_DAILY_LOSS_LIMIT")

	// ── Sync ──
	setBool(&cfg.Sync.Enabled, "SYNC_ENABLED")
	setStr(&cfg.Sync.FeedDir, "SYNC_FEED_DIR")
	setDuration(&cfg.Sync.Interval, "SYNC_INTERVAL")
	setInt(&cfg.Sync.Workers, "SYNC_WORKERS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each reads envPrefix+key and only mutates the target
// when the variable is present and non-empty.
// ---------------------------------------------------------------------------

func getenv(key string) string {
	return os.Getenv(envPrefix + key)
}

func setStr(dst *string, key string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := getenv(key); v != "" {
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

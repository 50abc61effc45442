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
// built-in defaults, applies PREDICTION_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PREDICTION_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Secrets can be injected at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setDuration(&cfg.Engine.MaxStaleness, "PREDICTION_ENGINE_MAX_STALENESS")
	setDuration(&cfg.Engine.ResolveWindow, "PREDICTION_ENGINE_RESOLVE_WINDOW")

	// ── Storage ──
	setStr(&cfg.Storage.Backend, "PREDICTION_STORAGE_BACKEND")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PREDICTION_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PREDICTION_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PREDICTION_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PREDICTION_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PREDICTION_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PREDICTION_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PREDICTION_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PREDICTION_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PREDICTION_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PREDICTION_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "PREDICTION_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "PREDICTION_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDICTION_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDICTION_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PREDICTION_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PREDICTION_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PREDICTION_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PREDICTION_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PREDICTION_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PREDICTION_S3_REGION")
	setStr(&cfg.S3.Bucket, "PREDICTION_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PREDICTION_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PREDICTION_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PREDICTION_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PREDICTION_S3_FORCE_PATH_STYLE")

	// ── Oracle ──
	setStr(&cfg.Oracle.Provider, "PREDICTION_ORACLE_PROVIDER")
	setStr(&cfg.Oracle.PythURL, "PREDICTION_ORACLE_PYTH_URL")
	setDuration(&cfg.Oracle.Timeout, "PREDICTION_ORACLE_TIMEOUT")
	setBool(&cfg.Oracle.WriteThrough, "PREDICTION_ORACLE_WRITE_THROUGH")
	setBool(&cfg.Oracle.FallbackToCache, "PREDICTION_ORACLE_FALLBACK_TO_CACHE")

	// ── Keeper ──
	setDuration(&cfg.Keeper.Interval, "PREDICTION_KEEPER_INTERVAL")
	setDuration(&cfg.Keeper.LockTTL, "PREDICTION_KEEPER_LOCK_TTL")
	setInt(&cfg.Keeper.Concurrency, "PREDICTION_KEEPER_CONCURRENCY")
	setInt(&cfg.Keeper.BatchSize, "PREDICTION_KEEPER_BATCH_SIZE")
	setStr(&cfg.Keeper.PrivateKey, "PREDICTION_KEEPER_PRIVATE_KEY")
	setStr(&cfg.Keeper.EncryptedKeyPath, "PREDICTION_KEEPER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Keeper.KeyPassword, "PREDICTION_KEEPER_KEY_PASSWORD")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PREDICTION_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PREDICTION_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PREDICTION_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.AuthMaxSkew, "PREDICTION_SERVER_AUTH_MAX_SKEW")
	setStr(&cfg.Server.AdminAPIKey, "PREDICTION_SERVER_ADMIN_API_KEY")
	setInt(&cfg.Server.RateLimit, "PREDICTION_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "PREDICTION_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PREDICTION_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PREDICTION_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PREDICTION_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PREDICTION_NOTIFY_EVENTS")

	// ── Log ──
	setStr(&cfg.Log.File, "PREDICTION_LOG_FILE")
	setInt(&cfg.Log.MaxSizeMB, "PREDICTION_LOG_MAX_SIZE_MB")
	setInt(&cfg.Log.MaxBackups, "PREDICTION_LOG_MAX_BACKUPS")
	setInt(&cfg.Log.MaxAgeDays, "PREDICTION_LOG_MAX_AGE_DAYS")
	setBool(&cfg.Log.Compress, "PREDICTION_LOG_COMPRESS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PREDICTION_MODE")
	setStr(&cfg.LogLevel, "PREDICTION_LOG_LEVEL")
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

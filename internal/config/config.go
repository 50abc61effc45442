// Package config defines the top-level configuration for the prediction
// market service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PREDICTION_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Storage  StorageConfig  `toml:"storage"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Oracle   OracleConfig   `toml:"oracle"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Log      LogConfig      `toml:"log"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig tunes settlement.
type EngineConfig struct {
	// MaxStaleness rejects oracle observations older than this. Zero disables
	// the check.
	MaxStaleness duration `toml:"max_staleness"`
	// ResolveWindow marks markets settled later than this after their
	// deadline as undecided. Zero disables it.
	ResolveWindow duration `toml:"resolve_window"`
}

// StorageConfig selects the ledger backend.
type StorageConfig struct {
	Backend string `toml:"backend"`
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
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the settlement
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// OracleConfig selects the price source used at settlement.
type OracleConfig struct {
	// Provider is one of "pyth", "redis" or "static".
	Provider string   `toml:"provider"`
	PythURL  string   `toml:"pyth_url"`
	Timeout  duration `toml:"timeout"`
	// WriteThrough caches every pyth observation in Redis.
	WriteThrough bool `toml:"write_through"`
	// FallbackToCache reads the Redis cache when pyth fails.
	FallbackToCache bool `toml:"fallback_to_cache"`
	// StaticPrices maps hex feed ids to decimal prices for the static provider.
	StaticPrices map[string]string `toml:"static_prices"`
}

// KeeperConfig holds the background settlement sweep parameters.
type KeeperConfig struct {
	Interval         duration `toml:"interval"`
	LockTTL          duration `toml:"lock_ttl"`
	Concurrency      int      `toml:"concurrency"`
	BatchSize        int      `toml:"batch_size"`
	PrivateKey       string   `toml:"private_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
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

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// AuthMaxSkew bounds the age of a signed request timestamp.
	AuthMaxSkew duration `toml:"auth_max_skew"`
	AdminAPIKey string   `toml:"admin_api_key"`
	// RateLimit is the number of mutating requests one identity may send per
	// RateWindow. Zero disables limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// LogConfig routes logs to a rotating file when File is set.
type LogConfig struct {
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
}

// LedgerConfig lists the value units registered in the ledger.
type LedgerConfig struct {
	Units []UnitConfig `toml:"units"`
}

// UnitConfig describes one value denomination.
type UnitConfig struct {
	Address  string `toml:"address"`
	Symbol   string `toml:"symbol"`
	Decimals uint8  `toml:"decimals"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			MaxStaleness: duration{60 * time.Second},
		},
		Storage: StorageConfig{Backend: "memory"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "prediction",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "prediction-archive",
			ForcePathStyle: true,
		},
		Oracle: OracleConfig{
			Provider:     "pyth",
			PythURL:      "https://hermes.pyth.network",
			Timeout:      duration{5 * time.Second},
			StaticPrices: map[string]string{},
		},
		Keeper: KeeperConfig{
			Interval:    duration{15 * time.Second},
			LockTTL:     duration{30 * time.Second},
			Concurrency: 4,
			BatchSize:   100,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			AuthMaxSkew: duration{5 * time.Minute},
			RateLimit:   60,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_created", "market_settled", "winnings_claimed"},
		},
		Log: LogConfig{
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Ledger: LedgerConfig{
			Units: []UnitConfig{{
				Address:  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
				Symbol:   "USDC",
				Decimals: 6,
			}},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"keeper": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validProviders = map[string]bool{
	"pyth":   true,
	"redis":  true,
	"static": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, keeper, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if c.Engine.MaxStaleness.Duration < 0 {
		errs = append(errs, "engine: max_staleness must be >= 0")
	}
	if c.Engine.ResolveWindow.Duration < 0 {
		errs = append(errs, "engine: resolve_window must be >= 0")
	}

	// Storage
	switch c.Storage.Backend {
	case "memory":
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
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: memory, postgres)", c.Storage.Backend))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Oracle
	if !validProviders[c.Oracle.Provider] {
		errs = append(errs, fmt.Sprintf("oracle: unknown provider %q (valid: pyth, redis, static)", c.Oracle.Provider))
	}
	if c.Oracle.Provider == "pyth" && c.Oracle.PythURL == "" {
		errs = append(errs, "oracle: pyth_url must not be empty for the pyth provider")
	}
	needsRedis := c.Oracle.Provider == "redis" || c.Oracle.WriteThrough || c.Oracle.FallbackToCache
	if needsRedis && !c.Redis.Enabled {
		errs = append(errs, "oracle: redis must be enabled for the redis provider, write_through or fallback_to_cache")
	}
	for feed, price := range c.Oracle.StaticPrices {
		if len(common.FromHex(feed)) != common.HashLength {
			errs = append(errs, fmt.Sprintf("oracle: static price feed %q is not a 32-byte hex id", feed))
		}
		if _, err := decimal.NewFromString(price); err != nil {
			errs = append(errs, fmt.Sprintf("oracle: static price %q for %s is not a decimal", price, feed))
		}
	}

	// Keeper
	if mode == "keeper" || mode == "full" {
		if c.Keeper.PrivateKey == "" && c.Keeper.EncryptedKeyPath == "" {
			errs = append(errs, "keeper: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Keeper.EncryptedKeyPath != "" && c.Keeper.KeyPassword == "" {
			errs = append(errs, "keeper: key_password is required when encrypted_key_path is set")
		}
		if c.Keeper.Interval.Duration <= 0 {
			errs = append(errs, "keeper: interval must be > 0")
		}
		if c.Keeper.Concurrency < 1 {
			errs = append(errs, "keeper: concurrency must be >= 1")
		}
		if c.Keeper.BatchSize < 1 {
			errs = append(errs, "keeper: batch_size must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.AuthMaxSkew.Duration <= 0 {
			errs = append(errs, "server: auth_max_skew must be > 0")
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Ledger
	if len(c.Ledger.Units) == 0 {
		errs = append(errs, "ledger: at least one value unit must be configured")
	}
	for i, u := range c.Ledger.Units {
		if !common.IsHexAddress(u.Address) {
			errs = append(errs, fmt.Sprintf("ledger: units[%d].address %q is not a hex address", i, u.Address))
		}
		if u.Decimals > 18 {
			errs = append(errs, fmt.Sprintf("ledger: units[%d].decimals must be <= 18", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Keeper.PrivateKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	return cfg
}

func TestDefaultsWithKeeperKeyValidate(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Storage.Backend = "sqlite"
	cfg.Oracle.Provider = "chainlink"
	cfg.Server.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"unknown mode", "storage: unknown backend", "oracle: unknown provider", "server: port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"server mode needs no keeper key", func(c *Config) { c.Mode = "server"; c.Keeper.PrivateKey = "" }, ""},
		{"keeper mode needs a key", func(c *Config) { c.Mode = "keeper"; c.Keeper.PrivateKey = "" }, "keeper: either private_key"},
		{"encrypted key needs password", func(c *Config) { c.Keeper.EncryptedKeyPath = "/tmp/key" }, "key_password"},
		{"redis provider needs redis", func(c *Config) { c.Oracle.Provider = "redis" }, "redis must be enabled"},
		{"redis provider with redis", func(c *Config) { c.Oracle.Provider = "redis"; c.Redis.Enabled = true }, ""},
		{"bad static feed", func(c *Config) { c.Oracle.StaticPrices = map[string]string{"0x01": "1"} }, "32-byte hex id"},
		{"bad static price", func(c *Config) {
			c.Oracle.StaticPrices = map[string]string{"0x" + strings.Repeat("ab", 32): "abc"}
		}, "not a decimal"},
		{"negative staleness", func(c *Config) { c.Engine.MaxStaleness = duration{-time.Second} }, "max_staleness"},
		{"no units", func(c *Config) { c.Ledger.Units = nil }, "at least one value unit"},
		{"bad unit address", func(c *Config) { c.Ledger.Units[0].Address = "usdc" }, "not a hex address"},
		{"postgres pool", func(c *Config) { c.Storage.Backend = "postgres"; c.Postgres.PoolMaxConns = 0 }, "pool_max_conns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "server"

[engine]
max_staleness = "2m"
resolve_window = "24h"

[oracle]
provider = "static"

[oracle.static_prices]
"0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace" = "2500.5"

[[ledger.units]]
address = "0x0000000000000000000000000000000000000001"
symbol = "TEST"
decimals = 2
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PREDICTION_SERVER_PORT", "9100")
	t.Setenv("PREDICTION_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != "server" {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if cfg.Engine.MaxStaleness.Duration != 2*time.Minute || cfg.Engine.ResolveWindow.Duration != 24*time.Hour {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want env override 9100", cfg.Server.Port)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("cors = %v", cfg.Server.CORSOrigins)
	}
	if len(cfg.Ledger.Units) != 1 || cfg.Ledger.Units[0].Symbol != "TEST" {
		t.Errorf("units = %+v", cfg.Ledger.Units)
	}
	if len(cfg.Oracle.StaticPrices) != 1 {
		t.Errorf("static prices = %v", cfg.Oracle.StaticPrices)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.Server.AdminAPIKey = "admin"

	out := RedactedConfig(&cfg)
	if out.Keeper.PrivateKey != redacted || out.Postgres.Password != redacted || out.Server.AdminAPIKey != redacted {
		t.Errorf("secrets not redacted: %+v", out)
	}
	if out.Redis.Password != "" {
		t.Errorf("empty secret should stay empty, got %q", out.Redis.Password)
	}
	if cfg.Postgres.Password != "hunter2" {
		t.Error("original mutated")
	}
	out.Server.CORSOrigins[0] = "changed"
	if cfg.Server.CORSOrigins[0] == "changed" {
		t.Error("cors slice shared with original")
	}
}

// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, overrides, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/romulus-ai/romulus-gateway/internal/tier"
)

// clearOverrides blanks the stand-alone override variables for the test.
func clearOverrides(t *testing.T) {
	t.Helper()
	for _, v := range []string{"ROMULUS_TOKEN", "SOLANA_RPC", "HYPERCORE_URL", "PORT", "ROMULUS_JWT_SECRET"} {
		t.Setenv(v, "")
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	clearOverrides(t)

	path := writeConfig(t, "gateway.yaml", `
server:
  http_addr: "0.0.0.0:8080"
  grpc_addr: "0.0.0.0:50051"

database:
  path: "./journal.db"

solana:
  rpc_url: "https://rpc.example.com"
  token_mint: "MintAddress111"
  timeout: "3s"

hypercore:
  url: "http://hypercore.internal:8443"
  timeout: "45s"
  reconcile_interval: "2m"
  images:
    coding: "registry.example.com/coding:v2"

auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
  strict_oracle: true
  replay_protection: true
  protect_usage: true
  rate_limit: 2.5
  rate_burst: 10
  replay_window: "2m"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
  path: "/metrics"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Path != "./journal.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./journal.db")
	}
	if cfg.Solana.TokenMint != "MintAddress111" {
		t.Errorf("Solana.TokenMint = %q", cfg.Solana.TokenMint)
	}
	if cfg.Solana.Timeout != 3*time.Second {
		t.Errorf("Solana.Timeout = %v, want 3s", cfg.Solana.Timeout)
	}
	if cfg.Hypercore.Timeout != 45*time.Second {
		t.Errorf("Hypercore.Timeout = %v, want 45s", cfg.Hypercore.Timeout)
	}
	if cfg.Hypercore.ReconcileInterval != 2*time.Minute {
		t.Errorf("Hypercore.ReconcileInterval = %v, want 2m", cfg.Hypercore.ReconcileInterval)
	}
	if got := cfg.Hypercore.Images["coding"]; got != "registry.example.com/coding:v2" {
		t.Errorf("Hypercore.Images[coding] = %q", got)
	}
	if !cfg.Auth.StrictOracle || !cfg.Auth.ReplayProtection || !cfg.Auth.ProtectUsage {
		t.Errorf("auth flags not loaded: %+v", cfg.Auth)
	}
	if cfg.Auth.RateLimit != 2.5 || cfg.Auth.RateBurst != 10 {
		t.Errorf("rate limit = %v/%d, want 2.5/10", cfg.Auth.RateLimit, cfg.Auth.RateBurst)
	}
	if cfg.Auth.ReplayWindow != 2*time.Minute {
		t.Errorf("Auth.ReplayWindow = %v, want 2m", cfg.Auth.ReplayWindow)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_TOML(t *testing.T) {
	clearOverrides(t)

	path := writeConfig(t, "gateway.toml", `
[server]
http_addr = "127.0.0.1:3000"

[solana]
token_mint = "TomlMint"

[hypercore]
url = "http://127.0.0.1:9000"

[[tiers]]
name = "small"
min_balance = 10.0
cores = 1
memory_mb = 512

[[tiers]]
name = "large"
min_balance = 1000.0
cores = 4
memory_mb = 4096
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:3000" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Solana.TokenMint != "TomlMint" {
		t.Errorf("Solana.TokenMint = %q", cfg.Solana.TokenMint)
	}
	// Unset fields keep defaults.
	if cfg.Solana.RPCURL != DefaultSolanaRPC {
		t.Errorf("Solana.RPCURL = %q, want default", cfg.Solana.RPCURL)
	}

	table, err := cfg.TierTable()
	if err != nil {
		t.Fatalf("TierTable() error = %v", err)
	}
	got, ok := table.Resolve(500)
	if !ok || got.Name != "small" {
		t.Errorf("Resolve(500) = %+v, %v", got, ok)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearOverrides(t)

	cfg, err := Load(writeConfig(t, "empty.yaml", "logging:\n  level: warn\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, DefaultHTTPAddr)
	}
	if cfg.Solana.TokenMint != DefaultTokenMint {
		t.Errorf("Solana.TokenMint = %q, want default", cfg.Solana.TokenMint)
	}
	if cfg.Hypercore.URL != DefaultHypercoreURL {
		t.Errorf("Hypercore.URL = %q, want default", cfg.Hypercore.URL)
	}
	if cfg.Database.Path != DefaultDatabasePath {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, DefaultDatabasePath)
	}
	if cfg.Auth.ReplayWindow != DefaultReplayWindow {
		t.Errorf("Auth.ReplayWindow = %v, want %v", cfg.Auth.ReplayWindow, DefaultReplayWindow)
	}
	if cfg.Solana.Timeout != DefaultOracleTimeout {
		t.Errorf("Solana.Timeout = %v, want %v", cfg.Solana.Timeout, DefaultOracleTimeout)
	}
	if cfg.Auth.StrictOracle || cfg.Auth.ReplayProtection || cfg.Auth.ProtectUsage {
		t.Errorf("auth hardening should default off: %+v", cfg.Auth)
	}

	table, err := cfg.TierTable()
	if err != nil {
		t.Fatalf("TierTable() error = %v", err)
	}
	if table.Lowest().Name != tier.Basic {
		t.Errorf("default lowest tier = %q", table.Lowest().Name)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	clearOverrides(t)
	t.Setenv("TEST_JWT_SECRET", "fedcba9876543210fedcba9876543210")

	cfg, err := Load(writeConfig(t, "gateway.yaml", `
auth:
  jwt_secret: "${TEST_JWT_SECRET}"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != "fedcba9876543210fedcba9876543210" {
		t.Errorf("Auth.JWTSecret = %q", cfg.Auth.JWTSecret)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearOverrides(t)
	t.Setenv("ROMULUS_TOKEN", "EnvMint")
	t.Setenv("SOLANA_RPC", "https://env-rpc.example.com")
	t.Setenv("HYPERCORE_URL", "http://env-hypercore:1234")
	t.Setenv("PORT", "4000")

	cfg, err := Load(writeConfig(t, "gateway.yaml", `
solana:
  token_mint: "FileMint"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Solana.TokenMint != "EnvMint" {
		t.Errorf("Solana.TokenMint = %q, want env override", cfg.Solana.TokenMint)
	}
	if cfg.Solana.RPCURL != "https://env-rpc.example.com" {
		t.Errorf("Solana.RPCURL = %q", cfg.Solana.RPCURL)
	}
	if cfg.Hypercore.URL != "http://env-hypercore:1234" {
		t.Errorf("Hypercore.URL = %q", cfg.Hypercore.URL)
	}
	if cfg.Server.HTTPAddr != ":4000" {
		t.Errorf("Server.HTTPAddr = %q, want :4000", cfg.Server.HTTPAddr)
	}
}

func TestFromEnv(t *testing.T) {
	clearOverrides(t)
	t.Setenv("PORT", "3100")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.Server.HTTPAddr != ":3100" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	clearOverrides(t)

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad oracle timeout", "solana:\n  timeout: \"soon\"\n", "solana.timeout"},
		{"bad reconcile interval", "hypercore:\n  reconcile_interval: \"1x\"\n", "hypercore.reconcile_interval"},
		{"negative replay window", "auth:\n  replay_window: \"-1m\"\n", "auth.replay_window"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "gateway.yaml", tt.content))
			if err == nil {
				t.Fatal("Load() expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	clearOverrides(t)
	_, err := Load(writeConfig(t, "gateway.yaml", "server: [unclosed"))
	if err == nil {
		t.Fatal("Load() expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"no http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"tailscale replaces http addr", func(c *Config) {
			c.Server.HTTPAddr = ""
			c.Tailscale.Enabled = true
			c.Tailscale.Hostname = "romulus"
		}, ""},
		{"tailscale needs hostname", func(c *Config) { c.Tailscale.Enabled = true }, "tailscale.hostname"},
		{"no database path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"no mint", func(c *Config) { c.Solana.TokenMint = "" }, "solana.token_mint"},
		{"bad rpc scheme", func(c *Config) { c.Solana.RPCURL = "ftp://rpc" }, "solana.rpc_url"},
		{"no hypercore url", func(c *Config) { c.Hypercore.URL = "" }, "hypercore.url"},
		{"short jwt secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "auth.jwt_secret"},
		{"negative rate limit", func(c *Config) { c.Auth.RateLimit = -1 }, "auth.rate_limit"},
		{"bad container port", func(c *Config) { c.Hypercore.ContainerPort = 70000 }, "hypercore.container_port"},
		{"descending tiers", func(c *Config) {
			c.Tiers = []tier.Tier{
				{Name: "a", MinBalance: 10, Cores: 1, MemoryMB: 1},
				{Name: "b", MinBalance: 5, Cores: 1, MemoryMB: 1},
			}
		}, "tiers"},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

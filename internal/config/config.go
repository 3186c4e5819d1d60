// ABOUTME: Configuration loading and parsing for romulus-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/romulus-ai/romulus-gateway/internal/tier"
)

// Defaults used when neither the config file nor the environment set a value.
const (
	DefaultHTTPAddr          = ":3000"
	DefaultGRPCAddr          = ":50051"
	DefaultTokenMint         = "5ruEtrHGgqxE3Zo1UdRAvVrdetLwq6SFJvLjgth6pump"
	DefaultSolanaRPC         = "https://api.mainnet-beta.solana.com"
	DefaultHypercoreURL      = "http://localhost:8443"
	DefaultDatabasePath      = ":memory:"
	DefaultOracleTimeout     = 5 * time.Second
	DefaultHypercoreTimeout  = 30 * time.Second
	DefaultReconcileInterval = time.Minute
	DefaultReplayWindow      = 5 * time.Minute
	DefaultMetricsPath       = "/metrics"
)

// Config represents the complete romulus-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Solana    SolanaConfig    `yaml:"solana" toml:"solana"`
	Hypercore HypercoreConfig `yaml:"hypercore" toml:"hypercore"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Tiers     []tier.Tier     `yaml:"tiers" toml:"tiers"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	// GRPCAddr may be empty to disable the gRPC listener.
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // Serve HTTP over TLS with tailscale certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds event journal configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// SolanaConfig holds balance oracle configuration
type SolanaConfig struct {
	RPCURL    string `yaml:"rpc_url" toml:"rpc_url"`
	TokenMint string `yaml:"token_mint" toml:"token_mint"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// HypercoreConfig holds provisioner configuration
type HypercoreConfig struct {
	URL string `yaml:"url" toml:"url"`
	// Images overrides the default image per agent type.
	Images        map[string]string `yaml:"images" toml:"images"`
	ExposedPort   string            `yaml:"exposed_port" toml:"exposed_port"`
	ContainerPort int               `yaml:"container_port" toml:"container_port"`

	Timeout           time.Duration `yaml:"-" toml:"-"`
	ReconcileInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	TimeoutRaw           string `yaml:"timeout" toml:"timeout"`
	ReconcileIntervalRaw string `yaml:"reconcile_interval" toml:"reconcile_interval"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	// JWTSecret protects admin endpoints when set.
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`

	StrictOracle     bool    `yaml:"strict_oracle" toml:"strict_oracle"`
	ReplayProtection bool    `yaml:"replay_protection" toml:"replay_protection"`
	ProtectUsage     bool    `yaml:"protect_usage" toml:"protect_usage"`
	RateLimit        float64 `yaml:"rate_limit" toml:"rate_limit"`
	RateBurst        int     `yaml:"rate_burst" toml:"rate_burst"`

	ReplayWindow    time.Duration `yaml:"-" toml:"-"`
	ReplayWindowRaw string        `yaml:"replay_window" toml:"replay_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns a configuration matching the stand-alone defaults.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: DefaultHTTPAddr, GRPCAddr: DefaultGRPCAddr},
		Database: DatabaseConfig{Path: DefaultDatabasePath},
		Solana: SolanaConfig{
			RPCURL:    DefaultSolanaRPC,
			TokenMint: DefaultTokenMint,
		},
		Hypercore: HypercoreConfig{URL: DefaultHypercoreURL},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Metrics:   MetricsConfig{Enabled: true, Path: DefaultMetricsPath},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, then the
// stand-alone overrides (ROMULUS_TOKEN, SOLANA_RPC, HYPERCORE_URL, PORT) apply.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	return finish(cfg)
}

// FromEnv builds a configuration from defaults and environment overrides only.
func FromEnv() (*Config, error) {
	return finish(Default())
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg)

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides applies the environment variables the stand-alone
// service has always honored. They win over file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ROMULUS_TOKEN"); v != "" {
		cfg.Solana.TokenMint = v
	}
	if v := os.Getenv("SOLANA_RPC"); v != "" {
		cfg.Solana.RPCURL = v
	}
	if v := os.Getenv("HYPERCORE_URL"); v != "" {
		cfg.Hypercore.URL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.HTTPAddr = ":" + v
	}
	if v := os.Getenv("ROMULUS_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// HTTP address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Solana.TokenMint == "" {
		return fmt.Errorf("solana.token_mint is required")
	}
	if err := validateHTTPURL("solana.rpc_url", c.Solana.RPCURL); err != nil {
		return err
	}
	if err := validateHTTPURL("hypercore.url", c.Hypercore.URL); err != nil {
		return err
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}
	if c.Auth.RateLimit < 0 {
		return fmt.Errorf("auth.rate_limit must not be negative")
	}
	if c.Auth.RateBurst < 0 {
		return fmt.Errorf("auth.rate_burst must not be negative")
	}

	if c.Hypercore.ContainerPort < 0 || c.Hypercore.ContainerPort > 65535 {
		return fmt.Errorf("hypercore.container_port %d out of range", c.Hypercore.ContainerPort)
	}

	if len(c.Tiers) > 0 {
		if _, err := tier.NewTable(c.Tiers); err != nil {
			return fmt.Errorf("tiers: %w", err)
		}
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

func validateHTTPURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme", field)
	}
	return nil
}

// TierTable returns the configured tier table, or the default one.
func (c *Config) TierTable() (*tier.Table, error) {
	if len(c.Tiers) == 0 {
		return tier.MustDefault(), nil
	}
	return tier.NewTable(c.Tiers)
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name   string
		raw    string
		target *time.Duration
		def    time.Duration
	}{
		{"solana.timeout", cfg.Solana.TimeoutRaw, &cfg.Solana.Timeout, DefaultOracleTimeout},
		{"hypercore.timeout", cfg.Hypercore.TimeoutRaw, &cfg.Hypercore.Timeout, DefaultHypercoreTimeout},
		{"hypercore.reconcile_interval", cfg.Hypercore.ReconcileIntervalRaw, &cfg.Hypercore.ReconcileInterval, DefaultReconcileInterval},
		{"auth.replay_window", cfg.Auth.ReplayWindowRaw, &cfg.Auth.ReplayWindow, DefaultReplayWindow},
	}

	for _, f := range fields {
		if f.raw == "" {
			*f.target = f.def
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.target = d
	}
	return nil
}

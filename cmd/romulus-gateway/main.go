// ABOUTME: Entry point for romulus-gateway, the token-gated agent provisioning server
// ABOUTME: Dispatches serve, init and the operator subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/romulus-ai/romulus-gateway/internal/config"
	"github.com/romulus-ai/romulus-gateway/internal/gateway"
	"github.com/romulus-ai/romulus-gateway/internal/tier"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                            _
 _ __ ___  _ __ ___  _   _| |_   _ ___
| '__/ _ \| '_ ' _ \| | | | | | | / __|
| | | (_) | | | | | | |_| | | |_| \__ \
|_|  \___/|_| |_| |_|\__,_|_|\__,_|___/
                              gateway
`

// envConfigSource labels a configuration built from the environment alone.
const envConfigSource = "(environment)"

// getConfigPath returns the path to the gateway config file.
// Priority: ROMULUS_CONFIG env var > XDG_CONFIG_HOME/romulus/gateway.yaml > ~/.config/romulus/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("ROMULUS_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "romulus", "gateway.yaml")
}

// getDataPath returns the path to the romulus data directory.
// Priority: XDG_DATA_HOME/romulus > ~/.local/share/romulus
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "romulus")
}

// loadConfig loads the config file at path. A missing file falls back to
// defaults plus environment overrides, so the gateway runs with env vars alone.
// Returns the config and a label describing where it came from.
func loadConfig(path string) (*config.Config, string, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		cfg, err := config.FromEnv()
		if err != nil {
			return nil, "", fmt.Errorf("loading config from environment: %w", err)
		}
		return cfg, envConfigSource, nil
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func printUsage() {
	fmt.Println("Usage: romulus-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                          Start the gateway server")
	fmt.Println("  init                           Create a new config file interactively")
	fmt.Println("  health                         Check gateway health")
	fmt.Println("  tiers                          Show the tier table")
	fmt.Println("  agents                         List live agents (admin)")
	fmt.Println("  sign [--key KEY]               Print signed auth headers for a wallet secret key")
	fmt.Println("  token [--subject S] [--ttl D]  Mint an admin token")
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "tiers":
		err = runTiers(ctx)
	case "agents":
		err = runAgents(ctx)
	case "sign":
		err = runSign(args)
	case "token":
		err = runToken(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, source, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", source)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	if cfg.Server.GRPCAddr != "" {
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	} else {
		fmt.Printf("gRPC:      ")
		gray.Println("disabled")
	}
	green.Print("    ▶ ")
	fmt.Printf("Hypercore: %s\n", cfg.Hypercore.URL)
	green.Print("    ▶ ")
	fmt.Printf("Token:     %s\n", cfg.Solana.TokenMint)

	// Tailscale status
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! admin endpoints are unauthenticated (no auth.jwt_secret)")
	}

	fmt.Println()

	logger.Info("starting romulus-gateway",
		"config", source,
		"grpc_addr", cfg.Server.GRPCAddr,
		"http_addr", cfg.Server.HTTPAddr,
	)

	// Create and run gateway
	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	if source != envConfigSource {
		go reloadOnHangup(ctx, gw, source, logger)
	}

	return gw.Run(ctx)
}

// tierReloader applies a new tier table to a running gateway.
type tierReloader interface {
	ReloadTiers(t *tier.Table)
}

// reloadOnHangup re-reads the tier table from path on every SIGHUP until
// ctx is done.
func reloadOnHangup(ctx context.Context, gw tierReloader, path string, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := reloadTiers(gw, path); err != nil {
				logger.Warn("tier reload failed, keeping current table", "config", path, "error", err)
			}
		}
	}
}

// reloadTiers loads the config at path and applies its tier table.
func reloadTiers(gw tierReloader, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	table, err := cfg.TierTable()
	if err != nil {
		return fmt.Errorf("building tier table: %w", err)
	}
	gw.ReloadTiers(table)
	return nil
}

// parseFlags parses "--name value" and "--name=value" arguments. Only the
// names in allowed are accepted.
func parseFlags(args []string, allowed ...string) (map[string]string, error) {
	known := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		known[name] = true
	}

	out := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}

		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !known[name] {
			return nil, fmt.Errorf("unknown flag: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		out[name] = value
	}
	return out, nil
}

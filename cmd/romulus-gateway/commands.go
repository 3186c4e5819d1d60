// ABOUTME: Operator subcommands that talk to a running gateway or mint credentials
// ABOUTME: health, tiers and agents call the HTTP API; sign and token work offline

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/romulus-ai/romulus-gateway/internal/auth"
	"github.com/romulus-ai/romulus-gateway/internal/broker"
	"github.com/romulus-ai/romulus-gateway/internal/config"
	"github.com/romulus-ai/romulus-gateway/internal/tier"
)

// defaultTokenTTL is the lifetime of tokens minted by "token".
const defaultTokenTTL = 30 * 24 * time.Hour

// gatewayURL returns the base URL of the gateway's HTTP API.
// ROMULUS_GATEWAY_URL wins; otherwise the configured listen address is used,
// with wildcard hosts mapped to localhost.
func gatewayURL(cfg *config.Config) string {
	if u := os.Getenv("ROMULUS_GATEWAY_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	host, port, err := net.SplitHostPort(cfg.Server.HTTPAddr)
	if err != nil {
		return "http://" + cfg.Server.HTTPAddr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// tokenPath is where "token" saves the admin token for "agents" to read.
func tokenPath() string {
	return filepath.Join(filepath.Dir(getConfigPath()), "token")
}

// getToken returns the admin token from ROMULUS_ADMIN_TOKEN or the token file.
func getToken() string {
	if t := os.Getenv("ROMULUS_ADMIN_TOKEN"); t != "" {
		return t
	}
	data, err := os.ReadFile(tokenPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// getJSON fetches url and decodes a 200 response into out.
func getJSON(ctx context.Context, url, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}

	var health struct {
		Status    string `json:"status"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := getJSON(ctx, gatewayURL(cfg)+"/health", "", &health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if health.Status != "ok" {
		return fmt.Errorf("unhealthy: status %q", health.Status)
	}

	fmt.Println("healthy")
	return nil
}

func runTiers(ctx context.Context) error {
	cfg, _, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}

	var byName map[string]tier.Tier
	if err := getJSON(ctx, gatewayURL(cfg)+"/tiers", "", &byName); err != nil {
		return fmt.Errorf("fetching tiers: %w", err)
	}

	tiers := make([]tier.Tier, 0, len(byName))
	for _, t := range byName {
		tiers = append(tiers, t)
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinBalance < tiers[j].MinBalance })

	printTiers(os.Stdout, tiers)
	return nil
}

func printTiers(out io.Writer, tiers []tier.Tier) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tMIN BALANCE\tCORES\tMEMORY")
	for _, t := range tiers {
		fmt.Fprintf(w, "%s\t%.0f\t%d\t%d MB\n", t.Name, t.MinBalance, t.Cores, t.MemoryMB)
	}
	_ = w.Flush()
}

func runAgents(ctx context.Context) error {
	cfg, _, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}

	var res broker.AgentsResult
	if err := getJSON(ctx, gatewayURL(cfg)+"/admin/agents", getToken(), &res); err != nil {
		return fmt.Errorf("listing agents: %w", err)
	}

	if res.Count == 0 {
		fmt.Println("No live agents")
		return nil
	}
	printAgents(os.Stdout, res.Agents, time.Now())
	return nil
}

func printAgents(out io.Writer, agents []broker.Agent, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWALLET\tTIER\tUPTIME\tURL")
	for _, a := range agents {
		uptime := now.Sub(time.UnixMilli(a.SpawnedAt)).Truncate(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Wallet, a.Tier, uptime, a.URL)
	}
	_ = w.Flush()
}

// runSign prints auth headers for the wallet whose base-58 secret key is
// given by --key or ROMULUS_SECRET_KEY.
func runSign(args []string) error {
	flags, err := parseFlags(args, "key")
	if err != nil {
		return err
	}

	key := flags["key"]
	if key == "" {
		key = os.Getenv("ROMULUS_SECRET_KEY")
	}
	if key == "" {
		return fmt.Errorf("secret key required: pass --key or set ROMULUS_SECRET_KEY")
	}

	priv, ok := auth.DecodeSecretKey(key)
	if !ok {
		return fmt.Errorf("secret key must be base-58 encoded, 32 or 64 bytes")
	}

	printHeaders(os.Stdout, auth.SignChallenge(priv, time.Now().UnixMilli()))
	return nil
}

func printHeaders(out io.Writer, c auth.Credentials) {
	fmt.Fprintf(out, "%s: %s\n", auth.WalletHeader, c.Wallet)
	fmt.Fprintf(out, "%s: %s\n", auth.SignatureHeader, c.Signature)
	fmt.Fprintf(out, "%s: %s\n", auth.TimestampHeader, c.Timestamp)
}

// runToken mints an admin token with the configured jwt_secret and saves it
// for "agents".
func runToken(args []string) error {
	flags, err := parseFlags(args, "subject", "ttl")
	if err != nil {
		return err
	}

	subject := flags["subject"]
	if subject == "" {
		subject = "admin"
	}
	ttl := defaultTokenTTL
	if raw := flags["ttl"]; raw != "" {
		ttl, err = time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			return fmt.Errorf("--ttl must be a positive duration, got %q", raw)
		}
	}

	cfg, source, err := loadConfig(getConfigPath())
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret not configured in %s", source)
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	path := tokenPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Fprintf(os.Stderr, "  ✓ Saved token: %s (expires %s)\n", path, time.Now().Add(ttl).UTC().Format("Jan 02, 2006"))
	fmt.Println(token)
	return nil
}

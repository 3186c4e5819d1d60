// ABOUTME: Gateway orchestrator that wires auth, broker and journal behind gRPC and HTTP servers
// ABOUTME: Manages listeners (TCP or tailscale), the stop reconciler and graceful shutdown

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/romulus-ai/romulus-gateway/internal/auth"
	"github.com/romulus-ai/romulus-gateway/internal/broker"
	"github.com/romulus-ai/romulus-gateway/internal/config"
	"github.com/romulus-ai/romulus-gateway/internal/feed"
	"github.com/romulus-ai/romulus-gateway/internal/metrics"
	"github.com/romulus-ai/romulus-gateway/internal/oracle"
	"github.com/romulus-ai/romulus-gateway/internal/provisioner"
	"github.com/romulus-ai/romulus-gateway/internal/session"
	"github.com/romulus-ai/romulus-gateway/internal/store"
	"github.com/romulus-ai/romulus-gateway/internal/tier"
)

// tailscaleGRPCPort is the tailnet port the gRPC service listens on.
const tailscaleGRPCPort = ":50051"

// Gateway orchestrates the romulus-gateway server components.
// It serves the wallet-gated agent API over HTTP and gRPC.
type Gateway struct {
	config      *config.Config
	journal     store.Journal
	metrics     *metrics.Metrics
	tiers       *tier.Resolver
	guard       *auth.Guard
	broker      *broker.Broker
	reconciler  *broker.Reconciler
	feed        *feed.Broadcaster
	jwtVerifier *auth.JWTVerifier
	grpcServer  *grpc.Server
	health      *health.Server
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// injectable collaborators, defaulted from config in New
	oracle      oracle.BalanceOracle
	provisioner provisioner.Provisioner
	now         func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithOracle replaces the Solana balance oracle.
func WithOracle(o oracle.BalanceOracle) Option {
	return func(g *Gateway) { g.oracle = o }
}

// WithProvisioner replaces the Hypercore client.
func WithProvisioner(p provisioner.Provisioner) Option {
	return func(g *Gateway) { g.provisioner = p }
}

// WithClock sets the time source used for freshness checks and uptime.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// initJournal opens the event journal configured in cfg.
func initJournal(cfg *config.Config) (store.Journal, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}
	return s, nil
}

// createGRPCServer creates a gRPC server that authenticates wallet metadata.
// Tiers, and Usage unless usage is protected, are served without credentials.
func createGRPCServer(cfg *config.Config, guard auth.Authenticator) *grpc.Server {
	public := []string{methodTiers}
	if !cfg.Auth.ProtectUsage {
		public = append(public, methodUsage)
	}

	return grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(auth.UnaryInterceptor(guard, public...)),
	)
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gw := &Gateway{
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(gw)
	}

	table, err := cfg.TierTable()
	if err != nil {
		return nil, fmt.Errorf("loading tier table: %w", err)
	}
	gw.tiers = tier.NewResolver(table)

	if cfg.Auth.JWTSecret != "" {
		gw.jwtVerifier, err = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating JWT verifier: %w", err)
		}
	} else {
		logger.Warn("admin endpoints are open - no jwt_secret configured")
	}

	journal, err := initJournal(cfg)
	if err != nil {
		return nil, err
	}
	gw.journal = journal

	if cfg.Metrics.Enabled {
		gw.metrics = metrics.New()
	}

	if gw.oracle == nil {
		gw.oracle = oracle.NewSolanaOracle(cfg.Solana.RPCURL, nil)
	}
	if gw.provisioner == nil {
		gw.provisioner = provisioner.NewHypercoreClient(cfg.Hypercore.URL, cfg.Hypercore.Timeout, nil)
	}

	gw.guard = auth.NewGuard(gw.oracle, gw.tiers, auth.GuardConfig{
		Mint:             cfg.Solana.TokenMint,
		ReplayWindow:     cfg.Auth.ReplayWindow,
		OracleTimeout:    cfg.Solana.Timeout,
		StrictOracle:     cfg.Auth.StrictOracle,
		ReplayProtection: cfg.Auth.ReplayProtection,
		RateLimit:        cfg.Auth.RateLimit,
		RateBurst:        cfg.Auth.RateBurst,
	}, logger.With("component", "auth"),
		auth.WithGuardClock(gw.now),
		auth.WithGuardMetrics(gw.metrics),
	)

	gw.feed = feed.New(logger)
	registry := session.NewRegistry(logger.With("component", "session"), session.WithClock(gw.now))
	gw.broker = broker.New(registry, gw.provisioner, gw.tiers, broker.Config{
		Images:        cfg.Hypercore.Images,
		ExposedPort:   cfg.Hypercore.ExposedPort,
		ContainerPort: cfg.Hypercore.ContainerPort,
	}, logger.With("component", "broker"),
		broker.WithJournal(journal),
		broker.WithFeed(gw.feed),
		broker.WithMetrics(gw.metrics),
	)
	gw.reconciler = broker.NewReconciler(journal, gw.provisioner, cfg.Hypercore.ReconcileInterval,
		gw.metrics, logger.With("component", "reconciler"), broker.ReconcileFeed(gw.feed))

	gw.grpcServer = createGRPCServer(cfg, gw.guard)
	registerGatewayServer(gw.grpcServer, newGatewayService(gw, logger.With("component", "grpc")))
	gw.health = health.NewServer()
	healthpb.RegisterHealthServer(gw.grpcServer, gw.health)
	gw.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	mux := http.NewServeMux()
	gw.registerHTTPRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("gateway configured",
		"tiers", len(table.Tiers()),
		"token_mint", cfg.Solana.TokenMint,
		"hypercore_url", cfg.Hypercore.URL,
		"journal", cfg.Database.Path,
		"replay_protection", cfg.Auth.ReplayProtection,
		"strict_oracle", cfg.Auth.StrictOracle,
	)

	return gw, nil
}

// Handler returns the HTTP handler serving the gateway API.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListeners creates standard TCP listeners for gRPC and HTTP.
// grpcLn is nil when no gRPC address is configured.
func (g *Gateway) setupTCPListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	if g.config.Server.GRPCAddr != "" {
		grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		if grpcLn != nil {
			_ = grpcLn.Close()
		}
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddresses() {
	if g.config.Server.GRPCAddr != "" || g.config.Server.HTTPAddr != "" {
		g.logger.Warn("server.grpc_addr and server.http_addr are ignored when tailscale is enabled",
			"grpc_addr", g.config.Server.GRPCAddr,
			"http_addr", g.config.Server.HTTPAddr,
		)
	}
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddresses()
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// startServers starts gRPC and HTTP servers in goroutines, returning error channel.
func (g *Gateway) startServers(grpcLn, httpLn net.Listener) chan error {
	errCh := make(chan error, 2)

	if grpcLn != nil {
		go func() {
			g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
			if err := g.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	} else {
		g.logger.Info("gRPC server disabled")
	}

	go func() {
		g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		g.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (g *Gateway) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		g.logger.Error("additional server error", "error", additionalErr)
	default:
	}
}

// Run starts the gateway servers and the stop reconciler, and blocks until
// the context is canceled. Returns nil on graceful shutdown, or an error if
// a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	grpcListener, httpListener, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}

	reconcileCtx, stopReconciler := context.WithCancel(ctx)
	reconcileDone := make(chan struct{})
	go func() {
		defer close(reconcileDone)
		g.reconciler.Run(reconcileCtx)
	}()

	errCh := g.startServers(grpcListener, httpListener)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	stopReconciler()
	<-reconcileDone

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "romulus-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners creates a tsnet server and returns listeners for gRPC and HTTP.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)

	return listenTailnet(tsnetNode{g.tsnetServer}, tsCfg, g.logger)
}

// tailnetNode is the part of a tailscale node the gateway listens through.
type tailnetNode interface {
	Listen(network, addr string) (net.Listener, error)
	ListenFunnel(network, addr string, opts ...tsnet.FunnelOption) (net.Listener, error)
	CertificateSource() (func(*tls.ClientHelloInfo) (*tls.Certificate, error), error)
	Close() error
}

// tsnetNode adapts a tsnet.Server to tailnetNode.
type tsnetNode struct{ *tsnet.Server }

func (n tsnetNode) CertificateSource() (func(*tls.ClientHelloInfo) (*tls.Certificate, error), error) {
	lc, err := n.LocalClient()
	if err != nil {
		return nil, err
	}
	return lc.GetCertificate, nil
}

// listenTailnet opens the gRPC listener and the HTTP listener selected by
// cfg: funnel (public HTTPS on :443), tailnet-only HTTPS with node certs on
// :443, or plain HTTP on :80. On failure every opened listener and the node
// are closed.
func listenTailnet(node tailnetNode, cfg config.TailscaleConfig, logger *slog.Logger) (grpcLn, httpLn net.Listener, err error) {
	fail := func(err error, open ...net.Listener) (net.Listener, net.Listener, error) {
		for _, ln := range open {
			_ = ln.Close()
		}
		_ = node.Close()
		return nil, nil, err
	}

	grpcLn, err = node.Listen("tcp", tailscaleGRPCPort)
	if err != nil {
		return fail(fmt.Errorf("listening on tailscale gRPC port: %w", err))
	}

	switch {
	case cfg.Funnel:
		logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		httpLn, err = node.ListenFunnel("tcp", ":443")
		if err != nil {
			return fail(fmt.Errorf("listening on tailscale funnel port: %w", err), grpcLn)
		}
	case cfg.HTTPS:
		logger.Info("enabling HTTPS with tailscale certs on :443")
		ln, err := node.Listen("tcp", ":443")
		if err != nil {
			return fail(fmt.Errorf("listening on tailscale HTTPS port: %w", err), grpcLn)
		}
		getCert, err := node.CertificateSource()
		if err != nil {
			return fail(fmt.Errorf("getting tailscale certificates: %w", err), ln, grpcLn)
		}
		httpLn = tls.NewListener(ln, &tls.Config{
			GetCertificate: getCert,
			MinVersion:     tls.VersionTLS12,
		})
	default:
		httpLn, err = node.Listen("tcp", ":80")
		if err != nil {
			return fail(fmt.Errorf("listening on tailscale HTTP port: %w", err), grpcLn)
		}
	}
	return grpcLn, httpLn, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// ReloadTiers swaps the tier table used by the guard and the broker.
// Running sessions keep the resources they were spawned with.
func (g *Gateway) ReloadTiers(t *tier.Table) {
	g.tiers.Reload(t)
	g.logger.Info("tier table reloaded", "tiers", len(t.Tiers()), "lowest_min", t.Lowest().MinBalance)
}

// Shutdown gracefully stops all gateway servers and releases resources.
// Live sessions are not stopped; their containers keep running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway", "live_sessions", g.broker.Agents().Count)

	var errs []error
	// Ends open event streams, which HTTP shutdown would otherwise wait on.
	g.feed.Close()
	g.health.Shutdown()
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	g.guard.Close()
	errs = appendCloseError(errs, "journal close", g.journal.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

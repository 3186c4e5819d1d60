// ABOUTME: Tests for Gateway construction, lifecycle and shared test fixtures
// ABOUTME: Uses a fake provisioner, a static oracle and a controllable clock

package gateway

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romulus-ai/romulus-gateway/internal/config"
	"github.com/romulus-ai/romulus-gateway/internal/oracle"
	"github.com/romulus-ai/romulus-gateway/internal/provisioner"
	"github.com/romulus-ai/romulus-gateway/internal/tier"
)

// fakeProvisioner hands out sequential ids and records every call.
type fakeProvisioner struct {
	mu       sync.Mutex
	next     int
	spawns   []*provisioner.SpawnRequest
	stops    []string
	spawnErr error
	stopErr  error
}

func (f *fakeProvisioner) Spawn(_ context.Context, req *provisioner.SpawnRequest) (*provisioner.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return nil, f.spawnErr
	}
	f.next++
	f.spawns = append(f.spawns, req)
	id := fmt.Sprintf("agent-%d", f.next)
	return &provisioner.Handle{ID: id, URL: "https://" + id + ".hypercore.test"}, nil
}

func (f *fakeProvisioner) Stop(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, id)
	return f.stopErr
}

func (f *fakeProvisioner) setStopErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopErr = err
}

func (f *fakeProvisioner) lastSpawn() *provisioner.SpawnRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.spawns) == 0 {
		return nil
	}
	return f.spawns[len(f.spawns)-1]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv bundles a gateway with its fakes.
type testEnv struct {
	gw       *Gateway
	prov     *fakeProvisioner
	balances oracle.Static
	clock    *testClock
}

// wallet creates a keypair holding balance tokens.
func (e *testEnv) wallet(t *testing.T, balance float64) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	c := signFor(priv, e.clock.Now())
	e.balances[c.Wallet] = balance
	return priv
}

// testConfig creates a minimal config for testing.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Server.GRPCAddr = ""
	return cfg
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEnv builds a gateway over fakes. mutate may adjust the config first.
func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	env := &testEnv{
		prov:     &fakeProvisioner{},
		balances: oracle.Static{},
		clock:    &testClock{now: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)},
	}

	gw, err := New(cfg, testLogger(),
		WithOracle(env.balances),
		WithProvisioner(env.prov),
		WithClock(env.clock.Now),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	env.gw = gw
	return env
}

func TestGatewayNew(t *testing.T) {
	env := newTestEnv(t, nil)
	gw := env.gw

	assert.NotNil(t, gw.guard)
	assert.NotNil(t, gw.broker)
	assert.NotNil(t, gw.reconciler)
	assert.NotNil(t, gw.journal)
	assert.NotNil(t, gw.metrics)
	assert.Nil(t, gw.jwtVerifier)
	assert.Len(t, gw.tiers.Table().Tiers(), 4)
}

func TestGatewayNew_DefaultsCollaborators(t *testing.T) {
	gw, err := New(testConfig(), testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	assert.IsType(t, &oracle.SolanaOracle{}, gw.oracle)
	assert.IsType(t, &provisioner.HypercoreClient{}, gw.provisioner)
}

func TestGatewayNew_WithJWTSecret(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Auth.JWTSecret = "0123456789abcdef0123456789abcdef"
	})
	assert.NotNil(t, env.gw.jwtVerifier)
}

func TestGatewayNew_MetricsDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Metrics.Enabled = false })
	assert.Nil(t, env.gw.metrics)

	rec := serve(env, get("/metrics"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGatewayNew_InvalidTiers(t *testing.T) {
	cfg := testConfig()
	cfg.Tiers = []tier.Tier{
		{Name: "basic", MinBalance: 100, Cores: 1, MemoryMB: 1024},
		{Name: "basic", MinBalance: 200, Cores: 2, MemoryMB: 2048},
	}

	_, err := New(cfg, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, tier.ErrInvalidTable)
}

// freeAddr returns a loopback address with an available port.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestGatewayRunAndShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.Server.HTTPAddr = freeAddr(t)
	cfg.Server.GRPCAddr = freeAddr(t)

	gw, err := New(cfg, testLogger(), WithProvisioner(&fakeProvisioner{}), WithOracle(oracle.Static{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestGatewayRun_ListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig()
	cfg.Server.HTTPAddr = ln.Addr().String()

	gw, err := New(cfg, testLogger(), WithProvisioner(&fakeProvisioner{}), WithOracle(oracle.Static{}))
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	err = gw.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on HTTP address")
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/var/lib/romulus")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/romulus", dir)

	t.Setenv("HOME", "/home/op")
	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.Equal(t, "/home/op/.local/share/romulus-gateway/tailscale", dir)
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	_, err := resolveTailscaleAuthKey("")
	assert.Error(t, err)

	key, err := resolveTailscaleAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)
}

func TestAppendCloseError(t *testing.T) {
	var errs []error
	errs = appendCloseError(errs, "ok", nil)
	assert.Empty(t, errs)

	errs = appendCloseError(errs, "journal close", io.ErrClosedPipe)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], io.ErrClosedPipe)
	assert.Contains(t, errs[0].Error(), "journal close")
}

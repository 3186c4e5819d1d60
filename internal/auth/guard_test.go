// ABOUTME: Tests for the wallet guard's authentication pipeline
// ABOUTME: Covers freshness fence-posts, signature checks, oracle modes, and tier resolution

package auth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romulus-ai/romulus-gateway/internal/oracle"
	"github.com/romulus-ai/romulus-gateway/internal/tier"
)

var testNow = time.UnixMilli(1_700_000_000_000)

type failingOracle struct{ calls int }

func (f *failingOracle) Balance(context.Context, string, string) (float64, error) {
	f.calls++
	return 0, errors.New("rpc unreachable")
}

func walletOf(priv ed25519.PrivateKey) string {
	return SignChallenge(priv, 0).Wallet
}

func newTestGuard(t *testing.T, o oracle.BalanceOracle, cfg GuardConfig) *Guard {
	t.Helper()
	g := NewGuard(o, tier.NewResolver(tier.MustDefault()), cfg, slog.Default(),
		WithGuardClock(func() time.Time { return testNow }))
	t.Cleanup(g.Close)
	return g
}

func TestAuthenticate_Success(t *testing.T) {
	priv := generateWallet(t)
	g := newTestGuard(t, oracle.Static{walletOf(priv): 600_000}, GuardConfig{Mint: "mint"})

	id, err := g.Authenticate(context.Background(), SignChallenge(priv, testNow.UnixMilli()))
	require.NoError(t, err)
	assert.Equal(t, walletOf(priv), id.Wallet)
	assert.Equal(t, 600_000.0, id.Balance)
	assert.Equal(t, tier.Standard, id.Tier.Name)
	assert.Equal(t, 2, id.Tier.Cores)
	assert.Equal(t, 2048, id.Tier.MemoryMB)
}

func TestAuthenticate_MissingCredentials(t *testing.T) {
	g := newTestGuard(t, oracle.Static{}, GuardConfig{})
	full := SignChallenge(generateWallet(t), testNow.UnixMilli())

	cases := map[string]Credentials{
		"no wallet":    {Signature: full.Signature, Timestamp: full.Timestamp},
		"no signature": {Wallet: full.Wallet, Timestamp: full.Timestamp},
		"no timestamp": {Wallet: full.Wallet, Signature: full.Signature},
		"empty":        {},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := g.Authenticate(context.Background(), c)
			assert.ErrorIs(t, err, ErrMissingCredentials)
		})
	}
}

func TestAuthenticate_FreshnessFencePost(t *testing.T) {
	priv := generateWallet(t)
	g := newTestGuard(t, oracle.Static{walletOf(priv): 100_000}, GuardConfig{})
	now := testNow.UnixMilli()
	window := DefaultReplayWindow.Milliseconds()

	tests := []struct {
		name string
		ts   int64
		ok   bool
	}{
		{"exact now", now, true},
		{"window edge past", now - window, true},
		{"window edge future", now + window, true},
		{"one ms too old", now - window - 1, false},
		{"one ms too far ahead", now + window + 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Authenticate(context.Background(), SignChallenge(priv, tt.ts))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrTimestampExpired)
			}
		})
	}
}

func TestAuthenticate_NonNumericTimestamp(t *testing.T) {
	priv := generateWallet(t)
	g := newTestGuard(t, oracle.Static{walletOf(priv): 100_000}, GuardConfig{})
	ts := strconv.FormatInt(testNow.UnixMilli(), 10)

	for _, bad := range []string{"abc", ts + "x", "1.5e12", " " + ts, "0x1"} {
		c := SignChallenge(priv, testNow.UnixMilli())
		c.Timestamp = bad
		_, err := g.Authenticate(context.Background(), c)
		assert.ErrorIs(t, err, ErrTimestampExpired, "timestamp %q", bad)
	}
}

func TestAuthenticate_InvalidSignature(t *testing.T) {
	signer := generateWallet(t)
	victim := generateWallet(t)
	o := &failingOracle{}
	g := newTestGuard(t, o, GuardConfig{})

	c := SignChallenge(signer, testNow.UnixMilli())
	c.Wallet = walletOf(victim)

	_, err := g.Authenticate(context.Background(), c)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Zero(t, o.calls, "oracle must not be consulted before the signature passes")
}

func TestAuthenticate_SignatureForOtherTimestamp(t *testing.T) {
	priv := generateWallet(t)
	g := newTestGuard(t, oracle.Static{walletOf(priv): 100_000}, GuardConfig{})

	c := SignChallenge(priv, testNow.UnixMilli())
	c.Timestamp = strconv.FormatInt(testNow.UnixMilli()+1, 10)

	_, err := g.Authenticate(context.Background(), c)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestAuthenticate_InsufficientHoldings(t *testing.T) {
	priv := generateWallet(t)
	g := newTestGuard(t, oracle.Static{walletOf(priv): 99_999.5}, GuardConfig{})

	_, err := g.Authenticate(context.Background(), SignChallenge(priv, testNow.UnixMilli()))
	require.ErrorIs(t, err, ErrInsufficientHoldings)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, 99_999.5, authErr.Balance)
	assert.Equal(t, 100_000.0, authErr.Required)
}

func TestAuthenticate_OracleFailureTreatedAsZero(t *testing.T) {
	priv := generateWallet(t)
	g := newTestGuard(t, &failingOracle{}, GuardConfig{})

	_, err := g.Authenticate(context.Background(), SignChallenge(priv, testNow.UnixMilli()))
	require.ErrorIs(t, err, ErrInsufficientHoldings)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Zero(t, authErr.Balance)
}

func TestAuthenticate_InfiniteBalanceDenied(t *testing.T) {
	priv := generateWallet(t)
	g := newTestGuard(t, oracle.Static{walletOf(priv): math.Inf(1)}, GuardConfig{})

	_, err := g.Authenticate(context.Background(), SignChallenge(priv, testNow.UnixMilli()))
	require.ErrorIs(t, err, ErrInsufficientHoldings)

	rec := httptest.NewRecorder()
	WriteAuthError(rec, err)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "Insufficient $ROMULUS holdings", body["error"])
	assert.Equal(t, 0.0, body["balance"])
	assert.Equal(t, 100_000.0, body["required"])
}

func TestAuthenticate_StrictOracle(t *testing.T) {
	priv := generateWallet(t)
	g := newTestGuard(t, &failingOracle{}, GuardConfig{StrictOracle: true})

	_, err := g.Authenticate(context.Background(), SignChallenge(priv, testNow.UnixMilli()))
	assert.ErrorIs(t, err, ErrOracleUnavailable)
	assert.NotErrorIs(t, err, ErrInsufficientHoldings)
	assert.Contains(t, err.Error(), "rpc unreachable")
}

func TestAuthenticate_ReplayProtection(t *testing.T) {
	priv := generateWallet(t)
	c := SignChallenge(priv, testNow.UnixMilli())

	open := newTestGuard(t, oracle.Static{walletOf(priv): 100_000}, GuardConfig{})
	for i := 0; i < 3; i++ {
		_, err := open.Authenticate(context.Background(), c)
		assert.NoError(t, err, "reuse within the window is allowed by default")
	}

	strict := newTestGuard(t, oracle.Static{walletOf(priv): 100_000}, GuardConfig{ReplayProtection: true})
	_, err := strict.Authenticate(context.Background(), c)
	require.NoError(t, err)
	_, err = strict.Authenticate(context.Background(), c)
	assert.ErrorIs(t, err, ErrReplayDetected)

	fresh := SignChallenge(priv, testNow.UnixMilli()-1)
	_, err = strict.Authenticate(context.Background(), fresh)
	assert.NoError(t, err)
}

func TestAuthenticate_RateLimited(t *testing.T) {
	priv := generateWallet(t)
	g := newTestGuard(t, oracle.Static{walletOf(priv): 100_000}, GuardConfig{RateLimit: 0.001, RateBurst: 2})

	c := SignChallenge(priv, testNow.UnixMilli())
	c.Source = "203.0.113.9"

	for i := 0; i < 2; i++ {
		_, err := g.Authenticate(context.Background(), c)
		require.NoError(t, err)
	}
	_, err := g.Authenticate(context.Background(), c)
	assert.ErrorIs(t, err, ErrRateLimited)

	c.Source = "203.0.113.10"
	_, err = g.Authenticate(context.Background(), c)
	assert.NoError(t, err, "limits are per source")
}

func TestAuthenticate_TierReload(t *testing.T) {
	priv := generateWallet(t)
	resolver := tier.NewResolver(tier.MustDefault())
	g := NewGuard(oracle.Static{walletOf(priv): 50}, resolver, GuardConfig{}, slog.Default(),
		WithGuardClock(func() time.Time { return testNow }))
	defer g.Close()

	c := SignChallenge(priv, testNow.UnixMilli())
	_, err := g.Authenticate(context.Background(), c)
	require.ErrorIs(t, err, ErrInsufficientHoldings)

	table, err := tier.NewTable([]tier.Tier{{Name: "trial", MinBalance: 10, Cores: 1, MemoryMB: 512}})
	require.NoError(t, err)
	resolver.Reload(table)

	id, err := g.Authenticate(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "trial", id.Tier.Name)
}

// ABOUTME: Wallet authentication and balance-tier authorization for gated calls
// ABOUTME: Checks credentials, freshness, signature, and token holdings in one pass

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/romulus-ai/romulus-gateway/internal/dedupe"
	"github.com/romulus-ai/romulus-gateway/internal/metrics"
	"github.com/romulus-ai/romulus-gateway/internal/oracle"
	"github.com/romulus-ai/romulus-gateway/internal/tier"
)

// DefaultReplayWindow bounds how far a signed timestamp may drift from now in either direction.
const DefaultReplayWindow = 5 * time.Minute

// replayCacheSize is the maximum number of credential sets remembered for replay rejection.
const replayCacheSize = 100_000

// Rejection reasons. AuthError unwraps to exactly one of these.
var (
	ErrMissingCredentials   = errors.New("missing auth headers")
	ErrTimestampExpired     = errors.New("timestamp expired")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrInsufficientHoldings = errors.New("insufficient token holdings")
	ErrOracleUnavailable    = errors.New("balance lookup unavailable")
	ErrRateLimited          = errors.New("too many authentication attempts")
	ErrReplayDetected       = errors.New("credentials already used")
)

// AuthError is a rejected authentication attempt.
type AuthError struct {
	Reason error

	// Balance and Required are set for ErrInsufficientHoldings.
	Balance  float64
	Required float64

	// Cause is the underlying failure, if any (e.g. the oracle error).
	Cause error
}

func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Cause)
	}
	return e.Reason.Error()
}

func (e *AuthError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Reason, e.Cause}
	}
	return []error{e.Reason}
}

// Credentials are the three caller-supplied values of a gated call.
type Credentials struct {
	Wallet    string
	Signature string
	Timestamp string

	// Source identifies the caller's network origin for rate limiting. Optional.
	Source string
}

// Identity is an authenticated and authorized wallet, valid for one request.
type Identity struct {
	Wallet  string
	Balance float64
	Tier    tier.Tier
}

// GuardConfig holds the authentication policy.
type GuardConfig struct {
	// Mint is the token whose balance determines the tier.
	Mint string

	// ReplayWindow is the allowed |now - timestamp|. Zero means DefaultReplayWindow.
	ReplayWindow time.Duration

	// OracleTimeout bounds each balance lookup. Zero disables the bound.
	OracleTimeout time.Duration

	// StrictOracle surfaces oracle failures as ErrOracleUnavailable instead
	// of treating them as a zero balance.
	StrictOracle bool

	// ReplayProtection rejects a credential set presented more than once.
	ReplayProtection bool

	// RateLimit is the allowed attempts per second per source. Zero disables.
	RateLimit float64
	RateBurst int
}

// Guard authenticates wallet credentials.
type Guard struct {
	oracle  oracle.BalanceOracle
	tiers   *tier.Resolver
	cfg     GuardConfig
	now     func() time.Time
	replays *dedupe.Cache
	limiter *RateLimiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithGuardClock overrides the time source used for freshness checks.
func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// WithGuardMetrics counts rejections by reason.
func WithGuardMetrics(m *metrics.Metrics) GuardOption {
	return func(g *Guard) { g.metrics = m }
}

// NewGuard creates a guard resolving balances through o and tiers through tiers.
func NewGuard(o oracle.BalanceOracle, tiers *tier.Resolver, cfg GuardConfig, logger *slog.Logger, opts ...GuardOption) *Guard {
	if cfg.ReplayWindow <= 0 {
		cfg.ReplayWindow = DefaultReplayWindow
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Guard{
		oracle: oracle.WithTimeout(o, cfg.OracleTimeout),
		tiers:  tiers,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(g)
	}

	if cfg.ReplayProtection {
		// A timestamp stays acceptable for a full window on each side of now.
		g.replays = dedupe.New(2*cfg.ReplayWindow, replayCacheSize, dedupe.WithClock(g.now))
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = NewRateLimiter(cfg.RateLimit, burst)
	}
	return g
}

// Close releases background resources.
func (g *Guard) Close() {
	if g.replays != nil {
		g.replays.Close()
	}
	if g.limiter != nil {
		g.limiter.Stop()
	}
}

// Authenticate runs the full check and returns the caller's identity.
// Every rejection is an *AuthError.
func (g *Guard) Authenticate(ctx context.Context, c Credentials) (*Identity, error) {
	if c.Wallet == "" || c.Signature == "" || c.Timestamp == "" {
		return nil, g.reject(c, &AuthError{Reason: ErrMissingCredentials})
	}

	if g.limiter != nil && c.Source != "" && !g.limiter.Allow(c.Source) {
		return nil, g.reject(c, &AuthError{Reason: ErrRateLimited})
	}

	if !g.fresh(c.Timestamp) {
		return nil, g.reject(c, &AuthError{Reason: ErrTimestampExpired})
	}

	if !VerifySignature(c.Wallet, Challenge(c.Timestamp), c.Signature) {
		return nil, g.reject(c, &AuthError{Reason: ErrInvalidSignature})
	}

	if g.replays != nil && g.replays.CheckAndMark(c.Wallet+"|"+c.Timestamp+"|"+c.Signature) {
		return nil, g.reject(c, &AuthError{Reason: ErrReplayDetected})
	}

	balance, err := g.oracle.Balance(ctx, c.Wallet, g.cfg.Mint)
	if err != nil {
		if g.cfg.StrictOracle {
			return nil, g.reject(c, &AuthError{Reason: ErrOracleUnavailable, Cause: err})
		}
		g.logger.Warn("balance lookup failed, treating as zero", "wallet", c.Wallet, "error", err)
		balance = 0
	}

	t, ok := g.tiers.Resolve(balance)
	if !ok {
		return nil, g.reject(c, &AuthError{
			Reason:   ErrInsufficientHoldings,
			Balance:  balance,
			Required: g.tiers.Table().Lowest().MinBalance,
		})
	}

	g.logger.Debug("wallet authenticated", "wallet", c.Wallet, "balance", balance, "tier", t.Name)
	return &Identity{Wallet: c.Wallet, Balance: balance, Tier: t}, nil
}

// fresh reports whether ts (epoch milliseconds) lies within the replay window of now.
func (g *Guard) fresh(ts string) bool {
	millis, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	skew := g.now().UnixMilli() - millis
	if skew < 0 {
		skew = -skew
	}
	return skew <= g.cfg.ReplayWindow.Milliseconds()
}

func (g *Guard) reject(c Credentials, err *AuthError) *AuthError {
	g.metrics.AuthFailure(err.Reason.Error())
	g.logger.Warn("auth failure",
		"reason", err.Reason.Error(),
		"wallet", c.Wallet,
		"source", c.Source,
	)
	return err
}

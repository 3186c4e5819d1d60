// ABOUTME: HTTP middleware authenticating wallet headers and admin bearer tokens
// ABOUTME: Maps auth rejections to status codes and JSON error bodies

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
)

// Wallet credential headers.
const (
	WalletHeader    = "X-Wallet"
	SignatureHeader = "X-Signature"
	TimestampHeader = "X-Timestamp"
)

// Authenticator authenticates wallet credentials. *Guard implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, c Credentials) (*Identity, error)
}

// CredentialsFromRequest extracts wallet credentials from request headers.
func CredentialsFromRequest(r *http.Request) Credentials {
	return Credentials{
		Wallet:    strings.TrimSpace(r.Header.Get(WalletHeader)),
		Signature: strings.TrimSpace(r.Header.Get(SignatureHeader)),
		Timestamp: strings.TrimSpace(r.Header.Get(TimestampHeader)),
		Source:    remoteHost(r.RemoteAddr),
	}
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// HTTPStatus returns the status code for an authentication failure.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInsufficientHoldings):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrOracleUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

// PublicMessage returns the client-facing message for an authentication failure.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredentials):
		return "Missing auth headers"
	case errors.Is(err, ErrTimestampExpired):
		return "Timestamp expired"
	case errors.Is(err, ErrInvalidSignature):
		return "Invalid signature"
	case errors.Is(err, ErrInsufficientHoldings):
		return "Insufficient $ROMULUS holdings"
	case errors.Is(err, ErrOracleUnavailable):
		return "Balance lookup unavailable, retry later"
	case errors.Is(err, ErrRateLimited):
		return "Too many authentication attempts"
	case errors.Is(err, ErrReplayDetected):
		return "Credentials already used"
	default:
		return "Unauthorized"
	}
}

// WriteAuthError writes err as a JSON error response.
func WriteAuthError(w http.ResponseWriter, err error) {
	body := map[string]any{"error": PublicMessage(err)}

	var authErr *AuthError
	if errors.As(err, &authErr) && errors.Is(err, ErrInsufficientHoldings) {
		balance := authErr.Balance
		if math.IsNaN(balance) || math.IsInf(balance, 0) {
			balance = 0
		}
		body["balance"] = balance
		body["required"] = authErr.Required
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(body)
}

// WalletAuthMiddleware authenticates every request with the guard and
// attaches the resulting Identity to the request context.
func WalletAuthMiddleware(guard Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := guard.Authenticate(r.Context(), CredentialsFromRequest(r))
			if err != nil {
				WriteAuthError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// RequireAdminHTTP rejects requests without a valid admin bearer token.
// A nil verifier leaves the endpoints open, matching a gateway run without
// auth.jwt_secret.
func RequireAdminHTTP(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if verifier == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeJSONError(w, http.StatusUnauthorized, errMsg)
				return
			}

			subject, err := verifier.Verify(token)
			if err != nil {
				if logger != nil {
					logger.Warn("admin auth failure", "error", err, "source", remoteHost(r.RemoteAddr))
				}
				if errors.Is(err, ErrNotAdmin) {
					writeJSONError(w, http.StatusForbidden, "admin role required")
					return
				}
				writeJSONError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAdmin(r.Context(), subject)))
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

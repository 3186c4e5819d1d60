// Package auth authenticates wallet callers and gates them by token holdings.
//
// # Wallet Authentication
//
// Every gated call carries three values, as HTTP headers or gRPC metadata:
//
//   - X-Wallet: the caller's base-58 ed25519 public key
//   - X-Timestamp: epoch milliseconds, decimal
//   - X-Signature: base-58 detached signature of "romulus:" + X-Timestamp
//
// The Guard checks them in order: presence, per-source rate limit, freshness
// (|now - timestamp| within the replay window, five minutes by default),
// signature, optional single-use replay protection, then the token balance
// reported by the oracle. The balance is resolved against the tier table and
// callers below the lowest tier are rejected with ErrInsufficientHoldings.
//
// Oracle failures count as a zero balance unless StrictOracle is set, in
// which case they surface as ErrOracleUnavailable.
//
// # Transports
//
//	WalletAuthMiddleware(guard)        // net/http
//	UnaryInterceptor(guard, public...) // gRPC
//
// Both attach the resulting Identity to the request context; handlers read it
// with IdentityFromContext.
//
// # Admin Tokens
//
// Operator endpoints accept HS256 JWTs carrying role=admin, issued with
// JWTVerifier.Generate and checked by RequireAdminHTTP.
package auth

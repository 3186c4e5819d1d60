// ABOUTME: gRPC interceptor authenticating wallet credentials from metadata
// ABOUTME: Maps auth rejections onto gRPC status codes

package auth

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// Wallet credential metadata keys.
const (
	WalletMetadataKey    = "x-wallet"
	SignatureMetadataKey = "x-signature"
	TimestampMetadataKey = "x-timestamp"
)

// CredentialsFromMetadata extracts wallet credentials from incoming gRPC metadata.
func CredentialsFromMetadata(ctx context.Context) Credentials {
	md, _ := metadata.FromIncomingContext(ctx)
	first := func(key string) string {
		if vals := md.Get(key); len(vals) > 0 {
			return vals[0]
		}
		return ""
	}

	c := Credentials{
		Wallet:    first(WalletMetadataKey),
		Signature: first(SignatureMetadataKey),
		Timestamp: first(TimestampMetadataKey),
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		c.Source = remoteHost(p.Addr.String())
	}
	return c
}

// GRPCStatus converts an authentication failure into a gRPC status error.
func GRPCStatus(err error) error {
	code := codes.Unauthenticated
	switch {
	case errors.Is(err, ErrInsufficientHoldings):
		code = codes.PermissionDenied
	case errors.Is(err, ErrRateLimited):
		code = codes.ResourceExhausted
	case errors.Is(err, ErrOracleUnavailable):
		code = codes.Unavailable
	}
	return status.Error(code, PublicMessage(err))
}

// UnaryInterceptor authenticates every unary call except the methods listed
// in public, attaching the Identity to the handler's context.
func UnaryInterceptor(guard Authenticator, public ...string) grpc.UnaryServerInterceptor {
	open := make(map[string]bool, len(public))
	for _, m := range public {
		open[m] = true
	}

	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if open[info.FullMethod] {
			return handler(ctx, req)
		}

		id, err := guard.Authenticate(ctx, CredentialsFromMetadata(ctx))
		if err != nil {
			return nil, GRPCStatus(err)
		}
		return handler(WithIdentity(ctx, id), req)
	}
}

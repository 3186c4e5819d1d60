// ABOUTME: Request context carriers for authenticated wallets and admin subjects
// ABOUTME: Provides WithIdentity/IdentityFromContext for handlers behind the auth layer

package auth

import (
	"context"
)

type identityKey struct{}

type adminKey struct{}

// WithIdentity returns a new context carrying the authenticated identity.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity attached by the auth layer, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}

// MustIdentityFromContext returns the identity, panicking if the handler was
// mounted without the auth layer.
func MustIdentityFromContext(ctx context.Context) *Identity {
	id := IdentityFromContext(ctx)
	if id == nil {
		panic("auth: Identity not found in context")
	}
	return id
}

// WithAdmin returns a new context carrying the admin token subject.
func WithAdmin(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, adminKey{}, subject)
}

// AdminFromContext returns the admin subject, or "" if the request is not an admin call.
func AdminFromContext(ctx context.Context) string {
	s, _ := ctx.Value(adminKey{}).(string)
	return s
}

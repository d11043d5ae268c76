package identity

import (
	"context"
)

// principalContextKey is the key used to store a Principal in the request context.
//
// Using an empty struct as the key prevents collisions with other context keys,
// as each empty struct type is distinct even if they have the same name in
// different packages.
type principalContextKey struct{}

// WithPrincipal stores a Principal in the context.
// If principal is nil, the original context is returned unchanged.
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	if principal == nil {
		return ctx
	}
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// FromContext retrieves the Principal from the context.
// Returns the principal and true if present, nil and false otherwise.
func FromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(principalContextKey{}).(*Principal)
	return principal, ok
}

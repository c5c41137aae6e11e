package middleware

import (
	"context"
	"fmt"

	"github.com/hourglasshq/hourglass/internal/authz"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal attaches the authenticated principal to the context. Only
// the request gate calls this; handlers read, never write.
func WithPrincipal(ctx context.Context, p authz.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal extracts the authenticated principal. Returns an error when
// the request did not pass the gate.
func GetPrincipal(ctx context.Context) (authz.Principal, error) {
	val := ctx.Value(principalKey)
	if val == nil {
		return authz.Principal{}, fmt.Errorf("principal not found in context")
	}
	p, ok := val.(authz.Principal)
	if !ok {
		return authz.Principal{}, fmt.Errorf("principal has wrong type: %T", val)
	}
	return p, nil
}

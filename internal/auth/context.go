package auth

import (
	"context"
	"time"
)

// Principal is the authenticated caller attached to a request.
type Principal struct {
	Identity
	TokenID   string
	ExpiresAt time.Time
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func PrincipalFromClaims(c Claims) Principal {
	p := Principal{Identity: c.Payload, TokenID: c.ID}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	return p
}

package grpcserver

import (
	"context"

	"github.com/and161185/practigate/internal/claims"
)

type ctxKey string

const claimsKey ctxKey = "pg.claims"

// WithClaims stores authenticated claims in context.
func WithClaims(ctx context.Context, c *claims.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

// ClaimsFromCtx fetches claims from context.
func ClaimsFromCtx(ctx context.Context) (*claims.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*claims.Claims)
	if !ok || c == nil {
		return nil, false
	}
	return c, true
}

// Package identity contains the collaborators that talk to the identity provider:
// claims retrieval, session tokens and session-change notifications.
package identity

import (
	"context"
	"time"

	"github.com/and161185/practigate/internal/claims"
)

// Provider returns the claims of the currently signed-in principal.
// A nil result with a nil error means nobody is signed in; an error is transient.
type Provider interface {
	CurrentClaims(ctx context.Context) (*claims.Claims, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (*claims.Claims, error)

// CurrentClaims calls f.
func (f ProviderFunc) CurrentClaims(ctx context.Context) (*claims.Claims, error) { return f(ctx) }

// TokenSource yields the bearer token of the current session.
// It returns errs.ErrNoSession when nobody is signed in.
type TokenSource interface {
	Token() (string, error)
}

// ContextTokenSource is a TokenSource whose token depends on the caller
// carried by ctx, e.g. the browsing session of an HTTP request.
type ContextTokenSource interface {
	TokenSource
	TokenContext(ctx context.Context) (string, error)
}

// TokenFor reads the token for ctx, preferring the context-aware form.
func TokenFor(ctx context.Context, ts TokenSource) (string, error) {
	if cs, ok := ts.(ContextTokenSource); ok {
		return cs.TokenContext(ctx)
	}
	return ts.Token()
}

// TokenStore persists the session token between runs.
type TokenStore interface {
	TokenSource
	Save(token string, expiresAt time.Time) error
	Clear() error
}

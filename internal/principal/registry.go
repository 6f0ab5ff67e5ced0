// Package principal resolves the identity behind each browsing session. Every
// scope gets its own token, claims cache and change notifier, so one
// browser's sign-in or sign-out never leaks into another's.
package principal

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/and161185/practigate/internal/claims"
	"github.com/and161185/practigate/internal/claimscache"
	"github.com/and161185/practigate/internal/errs"
	"github.com/and161185/practigate/internal/guard"
	"github.com/and161185/practigate/internal/identity"
	"github.com/and161185/practigate/internal/session"
)

// DefaultMaxPrincipals bounds how many scopes keep a live claims cache.
const DefaultMaxPrincipals = 10000

// ProviderFactory builds the claims provider reading tokens.
type ProviderFactory func(tokens identity.TokenSource) identity.Provider

// Options tunes the registry. Zero values select the defaults.
type Options struct {
	MaxPrincipals int
	Cache         claimscache.Options
	Now           func() time.Time
}

// Principal is the identity of one browsing scope.
type Principal struct {
	scope   string
	session *identity.Session
	cache   *claimscache.Cache
	tokens  identity.TokenStore
}

// Scope returns the browsing-session scope id; empty for the anonymous principal.
func (p *Principal) Scope() string { return p.scope }

// Session returns the sign-in state of the scope.
func (p *Principal) Session() *identity.Session { return p.session }

// Cache returns the scope's claims cache.
func (p *Principal) Cache() *claimscache.Cache { return p.cache }

// Changes delivers the scope's session events. Events arrive after the
// claims cache was invalidated.
func (p *Principal) Changes() identity.Subscriber { return p.session.Notifier() }

// Claims returns the scope's claims for purpose, nil without a principal.
func (p *Principal) Claims(ctx context.Context, purpose claimscache.Purpose) *claims.Claims {
	return p.cache.Get(ctx, purpose)
}

// Token returns the scope's access token.
func (p *Principal) Token() (string, error) { return p.tokens.Token() }

// TokenContext returns the scope's access token, bounded by ctx.
func (p *Principal) TokenContext(ctx context.Context) (string, error) {
	return identity.TokenFor(ctx, p.tokens)
}

func (p *Principal) release() { p.session.Notifier().Close() }

// Registry hands out one Principal per browsing scope. Least recently used
// principals are dropped once MaxPrincipals is reached; their tokens stay in
// the session store and are picked up again on the next request.
type Registry struct {
	store    session.Store
	provider ProviderFactory
	log      *zap.Logger
	opts     Options

	mu        sync.Mutex
	live      *lru.Cache[string, *Principal]
	anon      *Principal
	closeOnce sync.Once
}

var _ identity.ContextTokenSource = (*Registry)(nil)

// NewRegistry creates a registry keeping tokens in store.
func NewRegistry(store session.Store, provider ProviderFactory, logger *zap.Logger, opts Options) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxPrincipals <= 0 {
		opts.MaxPrincipals = DefaultMaxPrincipals
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &Registry{store: store, provider: provider, log: logger.Named("principal"), opts: opts}
	live, err := lru.NewWithEvict(opts.MaxPrincipals, func(scope string, p *Principal) {
		r.log.Debug("principal evicted", zap.String("scope", scope))
		p.release()
	})
	if err != nil {
		return nil, err
	}
	r.live = live
	r.anon = r.build("", noTokens{})
	return r, nil
}

func (r *Registry) build(scope string, tokens identity.TokenStore) *Principal {
	cache := claimscache.New(r.provider(tokens), r.log, r.opts.Cache)
	return &Principal{
		scope:   scope,
		session: identity.NewSession(tokens, identity.NewNotifier(), cache),
		cache:   cache,
		tokens:  tokens,
	}
}

// For returns the principal of scope. An empty scope yields the anonymous
// principal, which never has claims.
func (r *Registry) For(scope string) *Principal {
	if scope == "" {
		return r.anon
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.live.Get(scope); ok {
		return p
	}
	p := r.build(scope, &scopedTokens{scope: session.NewScope(r.store, scope), now: r.opts.Now})
	r.live.Add(scope, p)
	return p
}

// Session returns the sign-in state of scope.
func (r *Registry) Session(scope string) *identity.Session { return r.For(scope).Session() }

// FromContext returns the principal of the scope carried by ctx.
func (r *Registry) FromContext(ctx context.Context) *Principal {
	return r.For(guard.ScopeFromContext(ctx))
}

// ClaimsSource reads authorization claims of the request's principal.
func (r *Registry) ClaimsSource() guard.ClaimsSource {
	return guard.ClaimsSourceFunc(func(ctx context.Context) (*claims.Claims, error) {
		return r.FromContext(ctx).Claims(ctx, claimscache.PurposeAuthorization), nil
	})
}

// Token implements identity.TokenSource. Without a request there is no
// principal to speak for.
func (r *Registry) Token() (string, error) { return "", errs.ErrNoSession }

// TokenContext returns the token of the principal carried by ctx.
func (r *Registry) TokenContext(ctx context.Context) (string, error) {
	return r.FromContext(ctx).TokenContext(ctx)
}

// ClaimsChanged tells the principal carried by ctx that its claims changed server-side.
func (r *Registry) ClaimsChanged(ctx context.Context) {
	r.FromContext(ctx).Session().ClaimsChanged()
}

// Len reports how many scopes currently hold a live principal.
func (r *Registry) Len() int { return r.live.Len() }

// Close releases every live principal.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		r.live.Purge()
		r.anon.release()
	})
}

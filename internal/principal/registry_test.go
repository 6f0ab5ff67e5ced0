package principal

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/practigate/internal/claims"
	"github.com/and161185/practigate/internal/claimscache"
	"github.com/and161185/practigate/internal/errs"
	"github.com/and161185/practigate/internal/guard"
	"github.com/and161185/practigate/internal/identity"
	"github.com/and161185/practigate/internal/session"
)

var signingKey = []byte("registry-test-key")

type fixture struct {
	reg     *Registry
	store   *session.MemoryStore
	fetches *atomic.Int32
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	store := session.NewMemoryStore()
	var fetches atomic.Int32
	reg, err := NewRegistry(store, func(tokens identity.TokenSource) identity.Provider {
		return identity.ProviderFunc(func(ctx context.Context) (*claims.Claims, error) {
			fetches.Add(1)
			tok, err := identity.TokenFor(ctx, tokens)
			if errors.Is(err, errs.ErrNoSession) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			return identity.ParseAccessToken(tok, signingKey)
		})
	}, zaptest.NewLogger(t), opts)
	require.NoError(t, err)
	t.Cleanup(reg.Close)
	return fixture{reg: reg, store: store, fetches: &fetches}
}

func issue(t *testing.T, subject string, role claims.Role) (string, time.Time) {
	t.Helper()
	tok, exp, err := identity.IssueAccessToken(&claims.Claims{Subject: subject, Role: role}, signingKey, time.Hour)
	require.NoError(t, err)
	return tok, exp
}

func TestRegistry_ScopesAreIsolated(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	alice, other := session.NewScopeID(), session.NewScopeID()

	tok, exp := issue(t, "p-1", claims.RolePractitioner)
	require.NoError(t, f.reg.Session(alice).SignIn(tok, exp))

	ctx := guard.WithScope(context.Background(), alice)
	c, err := f.reg.ClaimsSource().Claims(ctx)
	require.NoError(t, err)
	require.Equal(t, "p-1", c.Subject)

	c, err = f.reg.ClaimsSource().Claims(guard.WithScope(context.Background(), other))
	require.NoError(t, err)
	require.Nil(t, c)

	got, err := f.reg.TokenContext(ctx)
	require.NoError(t, err)
	require.Equal(t, tok, got)
	_, err = f.reg.TokenContext(guard.WithScope(context.Background(), other))
	require.ErrorIs(t, err, errs.ErrNoSession)

	require.NoError(t, f.reg.Session(other).SignOut())
	require.NotNil(t, f.reg.For(alice).Claims(ctx, claimscache.PurposeAuthorization))
}

func TestRegistry_AnonymousPrincipal(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})

	anon := f.reg.FromContext(context.Background())
	require.Same(t, anon, f.reg.For(""))
	require.Empty(t, anon.Scope())

	tok, exp := issue(t, "p-1", claims.RolePractitioner)
	require.Error(t, anon.Session().SignIn(tok, exp))
	require.Nil(t, anon.Claims(context.Background(), claimscache.PurposeAuthorization))

	_, err := f.reg.Token()
	require.ErrorIs(t, err, errs.ErrNoSession)
	require.Zero(t, f.reg.Len())
}

func TestRegistry_SignInRefreshesBeforeAnnouncing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	scope := session.NewScopeID()
	p := f.reg.For(scope)
	ctx := guard.WithScope(context.Background(), scope)

	require.Nil(t, p.Claims(ctx, claimscache.PurposeAuthorization))

	events, cancel := p.Changes().Subscribe()
	defer cancel()

	tok, exp := issue(t, "ph-1", claims.RolePharmacy)
	require.NoError(t, p.Session().SignIn(tok, exp))
	require.Equal(t, identity.EventSignedIn, (<-events).Kind)
	c := p.Claims(ctx, claimscache.PurposeAuthorization)
	require.NotNil(t, c, "claims read after the event belong to the new principal")
	require.Equal(t, claims.RolePharmacy, c.Role)

	calls := f.fetches.Load()
	f.reg.ClaimsChanged(ctx)
	require.Equal(t, identity.EventClaimsUpdated, (<-events).Kind)
	_, ok := p.Cache().Snapshot()
	require.False(t, ok)
	require.NotNil(t, p.Claims(ctx, claimscache.PurposeAuthorization))
	require.Equal(t, calls+1, f.fetches.Load())

	require.NoError(t, p.Session().SignOut())
	require.Equal(t, identity.EventSignedOut, (<-events).Kind)
	require.Nil(t, p.Claims(ctx, claimscache.PurposeAuthorization))
}

func TestRegistry_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{MaxPrincipals: 2})
	a, b, c := session.NewScopeID(), session.NewScopeID(), session.NewScopeID()

	tok, exp := issue(t, "p-1", claims.RolePractitioner)
	require.NoError(t, f.reg.Session(a).SignIn(tok, exp))
	events, cancel := f.reg.For(a).Changes().Subscribe()
	defer cancel()

	f.reg.For(b)
	f.reg.For(c)
	require.Equal(t, 2, f.reg.Len())

	_, open := <-events
	require.False(t, open, "evicted principal ends its subscriptions")

	got, err := f.reg.For(a).Token()
	require.NoError(t, err, "the token outlives eviction")
	require.Equal(t, tok, got)
}

func TestRegistry_ExpiredToken(t *testing.T) {
	t.Parallel()
	now := time.Now()
	clock := func() time.Time { return now }
	f := newFixture(t, Options{Now: func() time.Time { return clock() }})
	scope := session.NewScopeID()

	tok, _ := issue(t, "p-1", claims.RolePractitioner)
	require.NoError(t, f.reg.Session(scope).SignIn(tok, now.Add(time.Minute)))
	got, err := f.reg.For(scope).Token()
	require.NoError(t, err)
	require.Equal(t, tok, got)

	later := now.Add(2 * time.Minute)
	clock = func() time.Time { return later }
	_, err = f.reg.For(scope).Token()
	require.ErrorIs(t, err, errs.ErrNoSession)
}

func TestRegistry_Close(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Options{})
	events, cancel := f.reg.For(session.NewScopeID()).Changes().Subscribe()
	defer cancel()

	f.reg.Close()
	f.reg.Close()
	_, open := <-events
	require.False(t, open)
	require.Zero(t, f.reg.Len())
}

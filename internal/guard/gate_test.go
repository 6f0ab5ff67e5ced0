package guard

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/practigate/internal/claims"
	"github.com/and161185/practigate/internal/identity"
)

func TestGate_NothingVisibleWhileChecking(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	src := ClaimsSourceFunc(func(ctx context.Context) (*claims.Claims, error) {
		<-release
		return principal(claims.RoleAdmin, true, true), nil
	})
	gate := NewGate(New(src, zaptest.NewLogger(t), Options{}), Request{Path: "/admin"})

	require.Equal(t, StateUnknown, gate.State())
	require.False(t, gate.Visible())

	done := make(chan struct{})
	go func() {
		defer close(done)
		gate.Evaluate(context.Background())
	}()

	require.Eventually(t, func() bool { return gate.State() == StateChecking }, time.Second, time.Millisecond)
	rendered := gate.Render(func() { t.Error("protected content rendered while checking") })
	require.False(t, rendered)
	_, ok := gate.Decision()
	require.False(t, ok)

	close(release)
	<-done
	require.True(t, gate.Visible())
	require.True(t, gate.Render(func() {}))
}

func TestGate_LatestEvaluationWins(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	release := make(chan struct{})
	src := ClaimsSourceFunc(func(ctx context.Context) (*claims.Claims, error) {
		if calls.Add(1) == 1 {
			<-release
			return nil, nil
		}
		return principal(claims.RolePractitioner, true, false), nil
	})
	gate := NewGate(New(src, zaptest.NewLogger(t), Options{}), Request{Path: "/practitioner"})

	var (
		wg        sync.WaitGroup
		committed bool
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, committed = gate.Evaluate(context.Background())
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	d, ok := gate.Evaluate(context.Background())
	require.True(t, ok)
	require.True(t, d.Authorized())
	require.Equal(t, StateAuthorized, gate.State())

	close(release)
	wg.Wait()
	require.False(t, committed, "superseded evaluation is dropped")
	require.Equal(t, StateAuthorized, gate.State())
}

func TestGate_TransitionsAndPolicyChange(t *testing.T) {
	t.Parallel()

	g := New(static(principal(claims.RolePharmacy, false, false)), zaptest.NewLogger(t), Options{})
	gate := NewGate(g, Request{Path: "/pharmacy"})

	var mu sync.Mutex
	var seen []State
	gate.OnChange(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	_, ok := gate.SetPolicy(context.Background(), Policy{Roles: []claims.Role{claims.RolePharmacy}})
	require.True(t, ok)
	require.True(t, gate.Visible())

	d, ok := gate.SetPolicy(context.Background(), Policy{RequireVerified: true})
	require.True(t, ok)
	require.Equal(t, NotVerified, d.Code)
	require.False(t, gate.Visible())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []State{StateChecking, StateAuthorized, StateChecking, StateUnauthorized}, seen)
}

func TestGate_WatchReevaluatesOnSessionEvents(t *testing.T) {
	t.Parallel()

	var signedIn atomic.Bool
	src := ClaimsSourceFunc(func(context.Context) (*claims.Claims, error) {
		if signedIn.Load() {
			return principal(claims.RoleAdmin, true, true), nil
		}
		return nil, nil
	})
	gate := NewGate(New(src, zaptest.NewLogger(t), Options{}), Request{Path: "/admin"})
	gate.Evaluate(context.Background())
	require.Equal(t, StateUnauthorized, gate.State())

	n := identity.NewNotifier()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gate.Watch(ctx, n)
	require.Eventually(t, func() bool { return n.Subscribers() == 1 }, time.Second, time.Millisecond)

	signedIn.Store(true)
	n.Publish(identity.EventSignedIn)
	require.Eventually(t, gate.Visible, time.Second, time.Millisecond)

	signedIn.Store(false)
	n.Publish(identity.EventSignedOut)
	require.Eventually(t, func() bool { return gate.State() == StateUnauthorized }, time.Second, time.Millisecond)
}

package navigation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/practigate/internal/errs"
	"github.com/and161185/practigate/internal/session"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newTracker(t *testing.T) (*Tracker, *session.MemoryStore, *time.Time) {
	t.Helper()
	now := t0
	store := session.NewMemoryStore().WithClock(func() time.Time { return now })
	return NewTracker(store, zaptest.NewLogger(t), 0), store, &now
}

func TestHistory_LoopDetection(t *testing.T) {
	t.Parallel()

	tr, _, now := newTracker(t)
	ctx := context.Background()
	h := tr.History("s1")

	for i := 0; i < LoopMax; i++ {
		brk, err := h.ShouldBreak(ctx, *now)
		require.NoError(t, err)
		require.False(t, brk)
		require.NoError(t, h.Record(ctx, *now))
		*now = now.Add(5 * time.Second)
	}

	brk, err := h.ShouldBreak(ctx, *now)
	require.NoError(t, err)
	require.True(t, brk, "3 redirects within 30s")

	require.NoError(t, h.Reset(ctx))
	brk, err = h.ShouldBreak(ctx, *now)
	require.NoError(t, err)
	require.False(t, brk)
}

func TestHistory_WindowAndCap(t *testing.T) {
	t.Parallel()

	tr, _, now := newTracker(t)
	ctx := context.Background()
	h := tr.History("s1")

	require.NoError(t, h.Record(ctx, *now))
	require.NoError(t, h.Record(ctx, now.Add(time.Second)))
	*now = now.Add(40 * time.Second)
	require.NoError(t, h.Record(ctx, *now))

	recent, err := h.Recent(ctx, *now)
	require.NoError(t, err)
	require.Len(t, recent, 1, "old redirects fall out of the window")

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Record(ctx, now.Add(time.Duration(i)*time.Millisecond)))
	}
	recent, err = h.Recent(ctx, now.Add(10*time.Millisecond))
	require.NoError(t, err)
	require.Len(t, recent, LoopMax)
}

func TestHistory_ScopesAreIsolated(t *testing.T) {
	t.Parallel()

	tr, _, now := newTracker(t)
	ctx := context.Background()
	for i := 0; i < LoopMax; i++ {
		require.NoError(t, tr.History("a").Record(ctx, *now))
	}
	brk, err := tr.History("b").ShouldBreak(ctx, *now)
	require.NoError(t, err)
	require.False(t, brk)
}

func TestReturnPaths_SaveConsume(t *testing.T) {
	t.Parallel()

	tr, _, now := newTracker(t)
	ctx := context.Background()
	rp := tr.ReturnPaths("s1")

	require.ErrorIs(t, rp.Save(ctx, "https://evil.example", *now), errs.ErrUnsafeTarget)

	require.NoError(t, rp.Save(ctx, "/professional/license", *now))
	got, ok, err := rp.Peek(ctx, *now)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "/professional/license", got.Path)
	require.Equal(t, DefaultReturnMaxAge, got.MaxAge())

	path, ok, err := rp.Consume(ctx, *now)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "/professional/license", path)

	_, ok, err = rp.Consume(ctx, *now)
	require.NoError(t, err)
	require.False(t, ok, "consumed once")
}

func TestReturnPaths_Expiry(t *testing.T) {
	t.Parallel()

	tr, _, now := newTracker(t)
	ctx := context.Background()
	rp := tr.ReturnPaths("s1")

	require.NoError(t, rp.Save(ctx, "/profile", *now))
	_, ok, err := rp.Peek(ctx, now.Add(DefaultReturnMaxAge))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReturnPaths_ClearIfArrived(t *testing.T) {
	t.Parallel()

	tr, _, now := newTracker(t)
	ctx := context.Background()
	rp := tr.ReturnPaths("s1")

	require.NoError(t, rp.Save(ctx, "/practitioner/dashboard?tab=2", *now))
	require.NoError(t, rp.ClearIfArrived(ctx, "/profile", *now))
	_, ok, _ := rp.Peek(ctx, *now)
	require.True(t, ok)

	require.NoError(t, rp.ClearIfArrived(ctx, "/practitioner/dashboard", *now))
	_, ok, _ = rp.Peek(ctx, *now)
	require.False(t, ok)
}

func TestReturnPaths_UnsafeStoredValueDiscarded(t *testing.T) {
	t.Parallel()

	tr, store, now := newTracker(t)
	ctx := context.Background()

	raw := []byte(`{"path":"//evil.example","saved_at":"2025-03-01T09:00:00Z","max_age_ms":600000}`)
	require.NoError(t, store.Put(ctx, "s1", ReturnPathKey, raw, time.Time{}))

	_, ok, err := tr.ReturnPaths("s1").Peek(ctx, *now)
	require.NoError(t, err)
	require.False(t, ok)
	_, err = store.Get(ctx, "s1", ReturnPathKey)
	require.ErrorIs(t, err, errs.ErrNotFound, "violation clears the entry")
}

func TestTracker_Clear(t *testing.T) {
	t.Parallel()

	tr, store, now := newTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.History("s1").Record(ctx, *now))
	require.NoError(t, tr.ReturnPaths("s1").Save(ctx, "/profile", *now))
	require.NoError(t, store.Put(ctx, "s1", "other", []byte("keep"), time.Time{}))

	require.NoError(t, tr.Clear(ctx, "s1"))

	_, err := store.Get(ctx, "s1", HistoryKey)
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = store.Get(ctx, "s1", ReturnPathKey)
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = store.Get(ctx, "s1", "other")
	require.NoError(t, err)
}

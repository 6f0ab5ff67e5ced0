package session

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/practigate/internal/errs"
)

func TestMemoryStore_Basics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryStore()

	_, err := m.Get(ctx, "s1", "k")
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, m.Put(ctx, "s1", "k", []byte("v1"), time.Time{}))
	require.NoError(t, m.Put(ctx, "s2", "k", []byte("v2"), time.Time{}))

	v, err := m.Get(ctx, "s1", "k")
	require.NoError(t, err)
	require.Equal(t, "v1", string(v))

	v[0] = 'X'
	v, _ = m.Get(ctx, "s1", "k")
	require.Equal(t, "v1", string(v), "returned slice is a copy")

	require.NoError(t, m.Delete(ctx, "s1", "k"))
	_, err = m.Get(ctx, "s1", "k")
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, m.Clear(ctx, "s2"))
	_, err = m.Get(ctx, "s2", "k")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestMemoryStore_Expiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryStore().WithClock(func() time.Time { return now })

	require.NoError(t, m.Put(ctx, "s", "short", []byte("a"), now.Add(time.Minute)))
	require.NoError(t, m.Put(ctx, "s", "long", []byte("b"), now.Add(time.Hour)))

	now = now.Add(2 * time.Minute)
	_, err := m.Get(ctx, "s", "short")
	require.ErrorIs(t, err, errs.ErrNotFound)

	now = now.Add(2 * time.Hour)
	n, err := m.Purge(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestMemoryStore_SizeCap(t *testing.T) {
	t.Parallel()

	m := NewMemoryStore()
	err := m.Put(context.Background(), "s", "k", bytes.Repeat([]byte("x"), MaxEntrySize+1), time.Time{})
	require.ErrorIs(t, err, errs.ErrEntryTooLarge)
}

func TestScope(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryStore()
	id := NewScopeID()
	s := NewScope(m, id)
	require.Equal(t, id, s.ID())
	require.NotEqual(t, id, NewScopeID())

	require.NoError(t, s.Put(ctx, "a", []byte("1"), time.Time{}))
	v, err := m.Get(ctx, id, "a")
	require.NoError(t, err)
	require.Equal(t, "1", string(v))

	require.NoError(t, s.Clear(ctx))
	_, err = s.Get(ctx, "a")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

package identity

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/practigate/internal/errs"
)

func Test_DefaultConfigDir_XDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	got := DefaultConfigDir()
	if got != filepath.Join(dir, "practigate") {
		t.Fatalf("DefaultConfigDir=%q", got)
	}
	s := NewFileTokenStore("")
	if !strings.HasPrefix(s.Path(), got) || !strings.HasSuffix(s.Path(), "session.json") {
		t.Fatalf("Path unexpected: %s", s.Path())
	}
}

func TestFileTokenStore_SaveLoadClear(t *testing.T) {
	t.Parallel()

	s := NewFileTokenStore(t.TempDir())

	_, err := s.Token()
	require.ErrorIs(t, err, errs.ErrNoSession)

	require.NoError(t, s.Save("tok", time.Now().Add(time.Minute)))
	tok, err := s.Token()
	require.NoError(t, err)
	require.Equal(t, "tok", tok)

	fi, err := os.Stat(s.Path())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	require.NoError(t, s.Save("tok2", time.Now().Add(-time.Minute)))
	_, err = s.Token()
	require.ErrorIs(t, err, errs.ErrNoSession, "expired token is no session")

	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear(), "clearing twice is fine")
	_, err = s.Token()
	require.ErrorIs(t, err, errs.ErrNoSession)
}

func TestFileTokenStore_Corrupt(t *testing.T) {
	t.Parallel()

	s := NewFileTokenStore(t.TempDir())
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o700))
	require.NoError(t, os.WriteFile(s.Path(), []byte("{"), 0o600))

	_, err := s.Token()
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrNoSession)
}

func TestStaticToken(t *testing.T) {
	t.Parallel()

	v, err := StaticToken(" abc ").Token()
	require.NoError(t, err)
	require.Equal(t, "abc", v)

	_, err = StaticToken("").Token()
	require.ErrorIs(t, err, errs.ErrNoSession)
}

package guard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/practigate/internal/claims"
	"github.com/and161185/practigate/internal/errs"
)

const sampleRoutes = `
routes:
  - prefix: /practitioner
    roles: [practitioner]
    require_verified: true
    preserve_return_path: true
  - prefix: /practitioner/billing
    roles: [practitioner]
    require_verified: true
    require_elevated: true
  - prefix: /admin/
    roles: [Admin]
    redirect_to: /forbidden
`

func TestParseRoutes_Match(t *testing.T) {
	t.Parallel()

	table, err := ParseRoutes([]byte(sampleRoutes))
	require.NoError(t, err)
	require.Equal(t, 3, table.Len())

	p, ok := table.Match("/practitioner/billing/invoices")
	require.True(t, ok)
	require.True(t, p.RequireElevatedAssurance, "longest prefix wins")

	p, ok = table.Match("/practitioner")
	require.True(t, ok)
	require.True(t, p.PreserveReturnPath)
	require.False(t, p.RequireElevatedAssurance)

	p, ok = table.Match("/admin")
	require.True(t, ok)
	require.Equal(t, []claims.Role{claims.RoleAdmin}, p.Roles)
	require.Equal(t, "/forbidden", p.RedirectTo)

	_, ok = table.Match("/practitioners")
	require.False(t, ok, "segment boundary")
	_, ok = (*RouteTable)(nil).Match("/admin")
	require.False(t, ok)
}

func TestParseRoutes_Invalid(t *testing.T) {
	t.Parallel()

	_, err := ParseRoutes([]byte("routes:\n  - prefix: admin\n"))
	require.Error(t, err)

	_, err = ParseRoutes([]byte("routes:\n  - prefix: /a\n  - prefix: /a/\n"))
	require.Error(t, err)

	_, err = ParseRoutes([]byte("routes:\n  - prefix: /a\n    roles: [owner]\n"))
	require.ErrorIs(t, err, errs.ErrInvalidClaims)

	_, err = ParseRoutes([]byte("routes:\n  - prefix: /a\n    redirect_to: https://evil.example\n"))
	require.ErrorIs(t, err, errs.ErrUnsafeTarget)

	_, err = ParseRoutes([]byte("routes: ["))
	require.Error(t, err)
}

func TestLoadRoutes(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRoutes), 0o600))
	table, err := LoadRoutes(path)
	require.NoError(t, err)
	require.Equal(t, 3, table.Len())

	_, err = LoadRoutes(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/practigate/migrations"
)

func TestEmbeddedMigrations(t *testing.T) {
	t.Parallel()

	names, err := fs.Glob(migrations.FS, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	for _, n := range names {
		b, err := fs.ReadFile(migrations.FS, n)
		require.NoError(t, err)
		require.True(t, strings.Contains(string(b), "-- +goose Up"), n)
		require.True(t, strings.Contains(string(b), "-- +goose Down"), n)
	}
}

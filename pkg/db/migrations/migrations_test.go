package migrations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jingkaihe/primforge/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllMigrationsApplyAndRollBack(t *testing.T) {
	ctx := context.Background()
	conn, err := db.OpenMigrated(ctx, filepath.Join(t.TempDir(), "history.db"), All())
	require.NoError(t, err)
	defer conn.Close()

	var tables []string
	require.NoError(t, conn.Select(&tables, "SELECT name FROM sqlite_master WHERE type='table' AND name LIKE 'install_%' ORDER BY name"))
	assert.Equal(t, []string{"install_actions", "install_runs"}, tables)

	runner := db.NewMigrationRunner(conn)
	for range All() {
		require.NoError(t, runner.Rollback(ctx, All()))
	}
	versions, err := runner.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestVersionsAreUniqueAndOrdered(t *testing.T) {
	var prev int64
	for _, m := range All() {
		assert.Greater(t, m.Version, prev, m.Description)
		prev = m.Version
	}
}

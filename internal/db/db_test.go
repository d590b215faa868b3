package db

import (
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n)
	require.NoError(t, err)
	return n > 0
}

func TestEmbeddedMigrationsFS(t *testing.T) {
	t.Parallel()
	migFS, err := getMigrationsFS()
	require.NoError(t, err)

	entries, err := fs.ReadDir(migFS, ".")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Zero(t, len(entries)%2, "every migration needs an up and a down file")
}

func TestNewDBMigratesToLatest(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.EqualValues(t, 3, version)
	assert.False(t, dirty)

	for _, table := range []string{"runs", "triplets", "stage_timings"} {
		assert.True(t, tableExists(t, db, table), table)
	}

	// Running again is a no-op.
	require.NoError(t, db.MigrateUp())
}

func TestMigrateDown(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	require.NoError(t, db.MigrateDown())
	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.EqualValues(t, 2, version)
	assert.False(t, tableExists(t, db, "stage_timings"))
	assert.True(t, tableExists(t, db, "triplets"))
}

func TestForeignKeysEnabled(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	var on int
	require.NoError(t, db.QueryRow(`PRAGMA foreign_keys`).Scan(&on))
	assert.Equal(t, 1, on)

	_, err := db.Exec(`INSERT INTO stage_timings (run_id, stage, duration_ns) VALUES ('missing', 'fit_triplets', 1)`)
	assert.Error(t, err)
}

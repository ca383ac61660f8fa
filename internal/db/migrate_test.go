package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name,
	).Scan(&n))
	return n > 0
}

func TestNewDBAppliesAllMigrations(t *testing.T) {
	db := openTestDB(t)

	latest, err := LatestMigrationVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)

	version, dirty, err := db.MigrateVersion(MigrationsFS())
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, latest, version)

	for _, table := range []string{"sessions", "readings", "commands"} {
		assert.True(t, tableExists(t, db, table), table)
	}
}

func TestMigrateDownAndUp(t *testing.T) {
	db := openTestDB(t)
	fsys := MigrationsFS()

	require.NoError(t, db.MigrateDown(fsys))
	version, _, err := db.MigrateVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, tableExists(t, db, "commands"))
	assert.True(t, tableExists(t, db, "readings"))

	require.NoError(t, db.MigrateUp(fsys))
	assert.True(t, tableExists(t, db, "commands"))

	require.NoError(t, db.MigrateTo(fsys, 1))
	assert.False(t, tableExists(t, db, "commands"))
	require.NoError(t, db.MigrateTo(fsys, 2))
	require.NoError(t, db.MigrateUp(fsys), "no change is not an error")
}

func TestLatestMigrationVersionErrors(t *testing.T) {
	_, err := LatestMigrationVersion(fstest.MapFS{})
	assert.ErrorContains(t, err, "no migration files found")

	_, err = LatestMigrationVersion(fstest.MapFS{
		"init.up.sql": &fstest.MapFile{Data: []byte("SELECT 1;")},
	})
	assert.ErrorContains(t, err, "could not determine")

	v, err := LatestMigrationVersion(fstest.MapFS{
		"000003_x.up.sql":   &fstest.MapFile{},
		"000010_y.up.sql":   &fstest.MapFile{},
		"000010_y.down.sql": &fstest.MapFile{},
	})
	require.NoError(t, err)
	assert.Equal(t, uint(10), v)
}

package db

import (
	"bytes"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openUnmigrated(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "stewart.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&n))
	return n > 0
}

func TestLatestMigrationVersion(t *testing.T) {
	v, err := LatestMigrationVersion(MigrationsFS())
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)

	_, err = LatestMigrationVersion(fstest.MapFS{"README.md": {Data: []byte("x")}})
	assert.Error(t, err)
}

func TestMigrateUpDown(t *testing.T) {
	db := openUnmigrated(t)
	fsys := MigrationsFS()

	v, dirty, err := db.MigrateVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(0), v)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateUp(fsys))
	v, _, err = db.MigrateVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.True(t, tableExists(t, db, "platform_geometry"))
	assert.True(t, tableExists(t, db, "serial_config"))
	assert.True(t, tableExists(t, db, "pid_gains"))

	// Up again is a no-op.
	require.NoError(t, db.MigrateUp(fsys))

	require.NoError(t, db.MigrateDown(fsys))
	v, _, err = db.MigrateVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, tableExists(t, db, "pid_gains"))
	assert.True(t, tableExists(t, db, "platform_geometry"))

	require.NoError(t, db.MigrateTo(fsys, 2))
	assert.True(t, tableExists(t, db, "pid_gains"))
}

func TestMigrateForce(t *testing.T) {
	db := openUnmigrated(t)
	fsys := MigrationsFS()
	require.NoError(t, db.MigrateUp(fsys))

	require.NoError(t, db.MigrateForce(fsys, 1))
	v, dirty, err := db.MigrateVersion(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)
	// Forcing records the version without touching the schema.
	assert.True(t, tableExists(t, db, "pid_gains"))
}

func TestGetMigrationStatus(t *testing.T) {
	db := openUnmigrated(t)
	fsys := MigrationsFS()

	status, err := db.GetMigrationStatus(fsys)
	require.NoError(t, err)
	assert.Equal(t, uint(0), status.CurrentVersion)
	assert.Equal(t, uint(2), status.LatestVersion)
	assert.True(t, status.Pending())

	require.NoError(t, db.MigrateUp(fsys))
	status, err = db.GetMigrationStatus(fsys)
	require.NoError(t, err)
	assert.True(t, status.TableExists)
	assert.False(t, status.Pending())
	assert.False(t, status.Dirty)
}

func TestMigrateUp_BrokenMigrationLeavesDirty(t *testing.T) {
	db := openUnmigrated(t)
	fsys := fstest.MapFS{
		"000001_ok.up.sql":    {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"000001_ok.down.sql":  {Data: []byte("DROP TABLE a;")},
		"000002_bad.up.sql":   {Data: []byte("CREATE TABLE nope (;")},
		"000002_bad.down.sql": {Data: []byte("SELECT 1;")},
	}

	require.Error(t, db.MigrateUp(fsys))
	status, err := db.GetMigrationStatus(fsys)
	require.NoError(t, err)
	assert.True(t, status.Dirty)
	assert.Equal(t, uint(2), status.CurrentVersion)
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stewart.db")

	var out bytes.Buffer
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "current version: 0")
	assert.Contains(t, out.String(), "2 migration(s) pending")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	assert.Contains(t, out.String(), "current version: 2 (dirty: false)")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "up to date")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"down"}, path, &out))
	assert.Contains(t, out.String(), "current version: 1")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"version", "2"}, path, &out))
	assert.Contains(t, out.String(), "migrated to version 2")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"force", "2"}, path, &out))
	assert.Contains(t, out.String(), "forced to 2")
}

func TestRunMigrateCommand_Usage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stewart.db")
	var out bytes.Buffer

	assert.ErrorIs(t, RunMigrateCommand(nil, path, &out), ErrUsage)
	assert.Contains(t, out.String(), "Usage: stewart migrate")

	out.Reset()
	assert.ErrorIs(t, RunMigrateCommand([]string{"sideways"}, path, &out), ErrUsage)
	assert.Contains(t, out.String(), "unknown migrate action: sideways")

	out.Reset()
	assert.ErrorIs(t, RunMigrateCommand([]string{"version"}, path, &out), ErrUsage)
	assert.ErrorIs(t, RunMigrateCommand([]string{"force", "x"}, path, &out), ErrUsage)

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"help"}, path, &out))
	assert.Contains(t, out.String(), "force <N>")
}

package db

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "stewart.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var synchronous int
	require.NoError(t, db.QueryRow("PRAGMA synchronous").Scan(&synchronous))
	assert.Equal(t, 1, synchronous) // NORMAL

	var tempStore int
	require.NoError(t, db.QueryRow("PRAGMA temp_store").Scan(&tempStore))
	assert.Equal(t, 2, tempStore) // MEMORY
}

func TestNewDB_ReopenKeepsSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stewart.db")
	db, err := NewDB(path)
	require.NoError(t, err)
	require.NoError(t, db.SaveSerialConfig(SerialConfig{PortPath: "/dev/ttyACM0", AutoOpen: true}))
	require.NoError(t, db.Close())

	db, err = NewDB(path)
	require.NoError(t, err)
	defer db.Close()
	cfg, err := db.LoadSerialConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "/dev/ttyACM0", cfg.PortPath)
}

func TestOpenDB_BadPath(t *testing.T) {
	_, err := OpenDB(filepath.Join(t.TempDir(), "missing", "dir", "stewart.db"))
	assert.Error(t, err)
}

func TestServeBackup(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.SaveSerialConfig(SerialConfig{PortPath: "/dev/ttyUSB0"}))

	rec := httptest.NewRecorder()
	db.serveBackup(rec, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "stewart-backup-")

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	raw, err := io.ReadAll(gz)
	require.NoError(t, err)

	// The backup is itself a database holding the saved row.
	backupPath := filepath.Join(t.TempDir(), "restored.db")
	require.NoError(t, os.WriteFile(backupPath, raw, 0o644))
	restored, err := OpenDB(backupPath)
	require.NoError(t, err)
	defer restored.Close()
	cfg, err := restored.LoadSerialConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "/dev/ttyUSB0", cfg.PortPath)
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))
}

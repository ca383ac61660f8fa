package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/twin.bridge/internal/monitoring"
)

func init() {
	monitoring.SetLogger(nil)
}

var t0 = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func startTestSession(t *testing.T, db *DB) Session {
	t.Helper()
	s, err := db.StartSession(50195, "192.168.137.172", t0)
	require.NoError(t, err)
	return s
}

package service_test

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/Avidan87/KAI-sub000/internal/db"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	sqldb, _ := newTestDBAt(t)
	return sqldb
}

// newTestDBAt also returns the file path so a test can open further handles.
func newTestDBAt(t *testing.T) (*sql.DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kai.db")
	sqldb, err := db.Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.ApplyMigrations(sqldb); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return sqldb, path
}

// openSecondHandle opens another pool on path, as a second process would.
func openSecondHandle(t *testing.T, path string, busy time.Duration) *sql.DB {
	t.Helper()
	other, err := db.OpenWithBusyTimeout(path, busy)
	if err != nil {
		t.Fatalf("open second handle: %v", err)
	}
	t.Cleanup(func() { _ = other.Close() })
	return other
}

package store

import (
	"context"
	"path/filepath"
	"testing"
)

// OpenTest opens a migrated SQLite database in a temp dir, closed when the test ends.
func OpenTest(t testing.TB) *DB {
	t.Helper()
	db, err := NewDB(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "attendance.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

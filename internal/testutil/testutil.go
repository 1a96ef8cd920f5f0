// Package testutil provides shared test fixtures for PowerBot's internal
// packages: a migrated, throwaway SQLite store per test.
package testutil

import (
	"path/filepath"
	"runtime"
	"testing"

	"powerbot/internal/store"
)

// OpenDB opens a fresh SQLite database under t.TempDir(), applies the
// repo's migrations, and registers cleanup to close it.
func OpenDB(t *testing.T) *store.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "powerbot.db")
	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(migrationsDir(t)); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	return db
}

// migrationsDir locates migrations/sqlite relative to this source file so
// tests work regardless of the package under test's own directory depth.
func migrationsDir(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("resolve testutil source path")
	}
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "migrations", "sqlite")
}

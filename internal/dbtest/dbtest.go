// Package dbtest opens throwaway migrated databases for tests.
package dbtest

import (
	"testing"

	"github.com/jmoiron/sqlx"

	"pharmanear/m/internal/database"
	"pharmanear/m/internal/migrations"
)

// Open returns a migrated in-memory SQLite database closed at test cleanup.
func Open(t testing.TB) *sqlx.DB {
	t.Helper()
	db, err := database.Connect(":memory:")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

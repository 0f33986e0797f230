package handlers

import (
	"path/filepath"
	"testing"

	"gorm.io/gorm"

	"github.com/vanguard-ops/console/internal/database"
)

// OpenTestDB creates a migrated SQLite database in a per-test file.
func OpenTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(database.Options{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "handlers.db"),
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

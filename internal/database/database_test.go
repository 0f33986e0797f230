package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vanguard-ops/console/internal/models"
)

func TestOpen_SQLiteFileAndMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(Options{Driver: "sqlite", Path: path})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	for _, m := range Models() {
		assert.True(t, db.Migrator().HasTable(m), "missing table for %T", m)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(Options{Driver: "oracle"})
	assert.Error(t, err)
}

func TestOpen_TranslatesUniqueViolations(t *testing.T) {
	db, err := Open(Options{Driver: "sqlite", Path: "file:" + t.Name() + "?mode=memory&cache=shared"})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	row := models.AuditLog{ScopeKey: "c1", ChainIndex: 1, EventType: "x"}
	require.NoError(t, db.Create(&row).Error)
	dup := models.AuditLog{ScopeKey: "c1", ChainIndex: 1, EventType: "y"}
	err = db.Create(&dup).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestSQLiteDSN(t *testing.T) {
	dsn := SQLiteDSN("data/vanguard.db")
	assert.Contains(t, dsn, "file:data/vanguard.db?")
	assert.Contains(t, dsn, "_txlock=immediate")
	assert.Contains(t, dsn, "_journal_mode=WAL")

	mem := SQLiteDSN("file:x?mode=memory&cache=shared")
	assert.Contains(t, mem, "mode=memory&cache=shared&_busy_timeout=5000")
	assert.NotContains(t, mem, "_journal_mode=WAL")
}

package database

import (
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vanguard-ops/console/internal/models"
)

// Options selects and tunes the database connection.
type Options struct {
	Driver string // sqlite or postgres
	Path   string // sqlite file path or DSN
	DSN    string // postgres DSN
	Debug  bool
}

// Open connects to the configured database. Driver errors are translated
// so that unique violations surface as gorm.ErrDuplicatedKey, which the
// ledger relies on to detect a lost append race.
func Open(opts Options) (*gorm.DB, error) {
	cfg := &gorm.Config{TranslateError: true}
	if !opts.Debug {
		cfg.Logger = gormlogger.Default.LogMode(gormlogger.Silent)
	}
	switch opts.Driver {
	case "", "sqlite":
		db, err := gorm.Open(sqlite.Open(SQLiteDSN(opts.Path)), cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		return db, nil
	case "postgres":
		db, err := gorm.Open(postgres.Open(opts.DSN), cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres database: %w", err)
		}
		return db, nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
}

// SQLiteDSN adds the pragmas the server needs to a sqlite path. Write
// transactions take the lock up front so that concurrent ledger appends
// queue instead of failing on upgrade.
func SQLiteDSN(path string) string {
	params := []string{"_busy_timeout=5000", "_foreign_keys=on", "_txlock=immediate"}
	if !strings.Contains(path, ":memory:") && !strings.Contains(path, "mode=memory") {
		params = append(params, "_journal_mode=WAL")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return path + sep + strings.Join(params, "&")
}

// Models lists every persisted record.
func Models() []interface{} {
	return []interface{}{
		&models.Community{},
		&models.User{},
		&models.Role{},
		&models.RolePermission{},
		&models.Membership{},
		&models.Session{},
		&models.SensitiveModeGrant{},
		&models.AuditLog{},
		&models.ApprovalRequest{},
		&models.CommandExecution{},
		&models.CommandToggle{},
		&models.SecurityEvent{},
		&models.Setting{},
	}
}

// Migrate creates or updates the schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

package store

import (
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"parking-status-backend/internal/model"
)

// NewSQLiteTest opens a migrated, file-backed SQLite database in a temp dir.
// SQLite is single-writer, so the pool is limited to one connection.
func NewSQLiteTest(t testing.TB) (Store, *gorm.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parking.db")
	gdb, err := gorm.Open(sqlite.Open("file:"+path+"?_busy_timeout=5000"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := gdb.AutoMigrate(
		&model.Slot{},
		&model.Reservation{},
		&model.WaitlistEntry{},
		&model.UsageLog{},
		&model.PushSubscription{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewGormStore(gdb), gdb
}

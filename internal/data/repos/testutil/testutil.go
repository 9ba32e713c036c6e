package testutil

import (
	"os"
	"sync"
	"testing"

	"gorm.io/gorm"

	"github.com/yungbote/splitstore/internal/data/db"
	"github.com/yungbote/splitstore/internal/platform/logger"
)

var (
	logOnce sync.Once
	logg    *logger.Logger
	logErr  error
)

func Logger(tb testing.TB) *logger.Logger {
	tb.Helper()
	logOnce.Do(func() {
		logg, logErr = logger.New("test")
	})
	if logErr != nil {
		tb.Fatalf("failed to init logger: %v", logErr)
	}
	return logg
}

// DB returns a migrated database private to the calling test. TEST_POSTGRES_DSN
// selects a shared Postgres; otherwise each call opens a fresh in-memory SQLite.
func DB(tb testing.TB) *gorm.DB {
	tb.Helper()
	opts := db.Options{Driver: db.DriverSQLite, SQLitePath: ":memory:", Silent: true}
	if dsn := os.Getenv("TEST_POSTGRES_DSN"); dsn != "" {
		opts = db.Options{Driver: db.DriverPostgres, DSN: dsn, Silent: true}
	}
	svc, err := db.NewService(opts, Logger(tb))
	if err != nil {
		tb.Fatalf("failed to init test db: %v", err)
	}
	tb.Cleanup(func() { _ = svc.Close() })
	if err := svc.AutoMigrateAll(); err != nil {
		tb.Fatalf("migrate test db: %v", err)
	}
	if svc.Driver() == db.DriverPostgres {
		// Shared database: start every test from empty collections.
		if err := svc.DB().Exec("TRUNCATE course_index, structures, definitions").Error; err != nil {
			tb.Fatalf("truncate test db: %v", err)
		}
	}
	return svc.DB()
}

func Tx(tb testing.TB, db *gorm.DB) *gorm.DB {
	tb.Helper()
	tx := db.Begin()
	if tx.Error != nil {
		tb.Fatalf("begin tx: %v", tx.Error)
	}
	tb.Cleanup(func() {
		_ = tx.Rollback().Error
	})
	return tx
}

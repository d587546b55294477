// Package testutil provides the shared in-memory database used by the
// package test suites.
package testutil

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mini-compete/models"
)

// OpenDB returns a migrated in-memory SQLite database. The pool is capped at
// one connection so concurrent transactions serialize at the driver instead
// of failing with lock errors; the admission engine's own guarantees are
// still exercised because goroutines interleave above the transaction
// boundary.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap test db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(
		&models.User{},
		&models.Competition{},
		&models.Registration{},
		&models.MailBox{},
		&models.Job{},
		&models.FailedJob{},
		&models.IdempotencyRecord{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

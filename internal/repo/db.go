// Package repo implements the persistence layer of the inbox on GORM.
//
// Functions are thin: they accept a context and a *gorm.DB (which may be a
// transaction), compose a query and return domain models. Business rules
// live in the services package.
//
// Error semantics:
//   - Missing rows surface as ErrNotFound (gorm.ErrRecordNotFound).
//   - Unique-key violations surface as ErrDuplicate.
//   - Optimistic version mismatches surface as ErrStaleVersion.
//   - Other database errors are returned unchanged.
package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates an insert collided with a unique index.
var ErrDuplicate = errors.New("duplicate")

// ErrStaleVersion indicates a conditional update matched no row because
// the stored version moved on.
var ErrStaleVersion = errors.New("stale version")

// OpenSQLite opens (or creates) a SQLite database. Connection PRAGMAs are
// passed in the DSN so every pooled connection gets them. Plugins (e.g.
// tracing) are registered before the handle is returned.
func OpenSQLite(path string, plugins ...gorm.Plugin) (*gorm.DB, error) {
	// Fail early if the parent directory does not exist.
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	for _, p := range plugins {
		if err := db.Use(p); err != nil {
			return nil, fmt.Errorf("register gorm plugin %s: %w", p.Name(), err)
		}
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}

// AutoMigrate creates or updates every inbox table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(domain.AllModels()...)
}

// isUniqueViolation recognizes unique-index failures. glebarez/sqlite often
// returns plain-text errors instead of gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}

func create(db *gorm.DB, v any) error {
	if err := db.Create(v).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func first[T any](db *gorm.DB, query string, args ...any) (*T, error) {
	var out T
	if err := db.Where(query, args...).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// expectOne turns a zero-row conditional update into ErrStaleVersion.
func expectOne(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleVersion
	}
	return nil
}

func now() time.Time { return time.Now().UTC() }

package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/thomasbruketta/therapy-ops-agent/internal/domain"
)

// GormLedger keeps keys in the idempotency_ledger table with a unique index on
// the key. It backs LEDGER_BACKEND=sqlite and LEDGER_BACKEND=postgres.
type GormLedger struct {
	DB *gorm.DB
}

// NewGormLedger wraps an already-migrated database.
func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{DB: db}
}

// OpenSQLite opens (or creates) a SQLite database and applies PRAGMAs.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if the parent directory is missing instead of surfacing
	// sqlite's "out of memory (14)".
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// One writer is plenty for a batch job.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}
	return db, nil
}

// OpenPostgres opens a shared ledger database.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

// AutoMigrate creates the ledger table and its unique index.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&domain.LedgerEntry{})
}

func newGormFromDB(db *gorm.DB) (Ledger, func() error, error) {
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, nil, err
	}
	if err := AutoMigrate(db); err != nil {
		return nil, nil, err
	}
	closeFn := func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return NewGormLedger(db), closeFn, nil
}

// HasBeenSent implements Ledger.
func (g *GormLedger) HasBeenSent(ctx context.Context, key string) (bool, error) {
	var n int64
	err := g.DB.WithContext(ctx).
		Model(&domain.LedgerEntry{}).
		Where("key = ?", key).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkSent implements Ledger. A unique-index violation means the key is
// already present and is not an error.
func (g *GormLedger) MarkSent(ctx context.Context, key string) error {
	rec := &domain.LedgerEntry{
		ID:        uuid.NewString(),
		Key:       key,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.DB.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return err
	}
	return nil
}

// Keys returns every stored key in ascending order.
func (g *GormLedger) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := g.DB.WithContext(ctx).
		Model(&domain.LedgerEntry{}).
		Order("key ASC").
		Pluck("key", &keys).Error
	return keys, err
}

// glebarez/sqlite often reports UNIQUE violations as plain text.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key value")
}

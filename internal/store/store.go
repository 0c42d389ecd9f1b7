// Package store provides the SQLite-backed review archive and
// dashboard settings. The JSON state file remains the canonical
// lifecycle store; this database is a query and reporting surface that
// outlives the bounded in-state review history.
package store

import (
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/prpatrol/prpatrol/internal/model"
	"github.com/prpatrol/prpatrol/pkg/errors"
	"github.com/prpatrol/prpatrol/pkg/logger"
)

// Store aggregates the data access interfaces.
type Store interface {
	Archive() ArchiveStore
	Settings() SettingsStore

	// DB returns the underlying connection for advanced operations.
	DB() *gorm.DB

	// Transaction executes operations within a database transaction.
	Transaction(fn func(Store) error) error
}

// gormStore implements Store using GORM.
type gormStore struct {
	db       *gorm.DB
	archive  ArchiveStore
	settings SettingsStore
}

// Open opens (creating if needed) the SQLite database at path and runs
// auto-migration.
func Open(path string) (Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, errors.Wrap(errors.ErrCodeDBConnection, "failed to create database directory", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDBConnection, "failed to open database", err)
	}

	// Single connection with WAL: SQLite tolerates one writer, and
	// the archive is written from a handful of goroutines.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDBConnection, "failed to access database pool", err)
	}
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetMaxOpenConns(1)
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		logger.Warn("Failed to enable WAL mode", zap.Error(err))
	}

	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDBConnection, "failed to migrate database schema", err)
	}

	logger.Info("Database opened", zap.String("path", path))
	return NewStore(db), nil
}

// NewStore creates a Store on an existing connection, used by tests.
func NewStore(db *gorm.DB) Store {
	return &gormStore{
		db:       db,
		archive:  newArchiveStore(db),
		settings: newSettingsStore(db),
	}
}

func (s *gormStore) Archive() ArchiveStore   { return s.archive }
func (s *gormStore) Settings() SettingsStore { return s.settings }
func (s *gormStore) DB() *gorm.DB            { return s.db }

func (s *gormStore) Transaction(fn func(Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lexitype/lexitype/internal/chapter"
	"github.com/lexitype/lexitype/internal/review"
	"github.com/lexitype/lexitype/internal/server"
	"github.com/lexitype/lexitype/internal/syncer"
)

// OpenLocal opens the device-side SQLite store and migrates its schema: the
// four synced tables, the chapter bookkeeping tables, and the sync watermark.
func OpenLocal(path string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&review.WordReviewRecord{},
		&review.ReviewConfig{},
		&review.ReviewHistoryRecord{},
		&review.FamiliarWord{},
		&chapter.ChapterProgress{},
		&chapter.ChapterSession{},
		&syncer.SyncState{},
		&migrationRecord{},
	)
	if err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger, localMigrations()); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("local database initialized", zap.String("path", path))
	}
	return db, nil
}

// OpenServer opens the server-side SQLite store holding per-user sync records.
func OpenServer(path string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&server.SyncRecord{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger, serverMigrations()); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("server database initialized", zap.String("path", path))
	}
	return db, nil
}

func open(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}

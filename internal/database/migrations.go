package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationResetGraduatedCounters = "2026-08-20_reset_graduated_practice_counters"
	migrationPurgeStaleTombstones   = "2026-08-22_purge_stale_sync_tombstones"

	tombstoneRetention = 180 * 24 * time.Hour
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func localMigrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationResetGraduatedCounters, apply: resetGraduatedCounters},
	}
}

func serverMigrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationPurgeStaleTombstones, apply: purgeStaleTombstones},
	}
}

func applyMigrations(db *gorm.DB, logger *zap.Logger, migrations []migrationDefinition) error {
	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Graduated words left the review cycle but some carried stale daily counters
// from before graduation handling zeroed them.
func resetGraduatedCounters(db *gorm.DB) error {
	return db.Exec(
		"UPDATE word_review_records SET today_practice_count = 0 WHERE is_graduated = 1 AND today_practice_count <> 0;",
	).Error
}

// Delete tombstones only need to live long enough for every device to observe
// them; anything older than the retention window is noise.
func purgeStaleTombstones(db *gorm.DB) error {
	cutoff := time.Now().UTC().Add(-tombstoneRetention).UnixMilli()
	return db.Exec(
		"DELETE FROM sync_records WHERE is_deleted = 1 AND server_modified_at < ?;", cutoff,
	).Error
}

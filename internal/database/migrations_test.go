package database

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lexitype/lexitype/internal/review"
	"github.com/lexitype/lexitype/internal/server"
)

func TestOpenLocalResetsGraduatedCounters(t *testing.T) {
	databasePath := filepath.Join(t.TempDir(), "local.db")

	db, err := OpenLocal(databasePath, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open local database: %v", err)
	}

	// Recreate the pre-migration state: a graduated record carrying a stale
	// daily counter. Drop the migration marker so the next open reapplies it.
	record := review.WordReviewRecord{
		UUID:               "u-1",
		Word:               "ephemeral",
		IntervalSequence:   []float64{1, 3, 7},
		IsGraduated:        true,
		TodayPracticeCount: 5,
		SyncStatus:         review.SyncStatusSynced,
	}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("failed to insert record: %v", err)
	}
	if err := db.Where("name = ?", migrationResetGraduatedCounters).Delete(&migrationRecord{}).Error; err != nil {
		t.Fatalf("failed to drop migration marker: %v", err)
	}

	if _, err := OpenLocal(databasePath, zap.NewNop()); err != nil {
		t.Fatalf("failed to reopen local database: %v", err)
	}

	var stored review.WordReviewRecord
	if err := db.Where("uuid = ?", "u-1").Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload record: %v", err)
	}
	if stored.TodayPracticeCount != 0 {
		t.Fatalf("expected graduated counter to be reset, got %d", stored.TodayPracticeCount)
	}

	var marker migrationRecord
	if err := db.Where("name = ?", migrationResetGraduatedCounters).Take(&marker).Error; err != nil {
		t.Fatalf("expected migration record to be created: %v", err)
	}
	if marker.AppliedAtSeconds == 0 {
		t.Fatalf("expected migration timestamp to be set")
	}
}

func TestOpenServerPurgesStaleTombstones(t *testing.T) {
	databasePath := filepath.Join(t.TempDir(), "server.db")

	db, err := OpenServer(databasePath, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open server database: %v", err)
	}

	stale := server.SyncRecord{
		UserID:           "user-1",
		Table:            "wordReviewRecords",
		UUID:             "u-old",
		PayloadJSON:      "{}",
		IsDeleted:        true,
		ServerModifiedAt: time.Now().UTC().Add(-200 * 24 * time.Hour).UnixMilli(),
	}
	fresh := server.SyncRecord{
		UserID:           "user-1",
		Table:            "wordReviewRecords",
		UUID:             "u-new",
		PayloadJSON:      "{}",
		IsDeleted:        true,
		ServerModifiedAt: time.Now().UTC().UnixMilli(),
	}
	if err := db.Create(&stale).Error; err != nil {
		t.Fatalf("failed to insert stale tombstone: %v", err)
	}
	if err := db.Create(&fresh).Error; err != nil {
		t.Fatalf("failed to insert fresh tombstone: %v", err)
	}
	if err := db.Where("name = ?", migrationPurgeStaleTombstones).Delete(&migrationRecord{}).Error; err != nil {
		t.Fatalf("failed to drop migration marker: %v", err)
	}

	if _, err := OpenServer(databasePath, zap.NewNop()); err != nil {
		t.Fatalf("failed to reopen server database: %v", err)
	}

	var remaining []server.SyncRecord
	if err := db.Find(&remaining).Error; err != nil {
		t.Fatalf("failed to list records: %v", err)
	}
	if len(remaining) != 1 || remaining[0].UUID != "u-new" {
		t.Fatalf("expected only the fresh tombstone to survive, got %+v", remaining)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := OpenLocal("", zap.NewNop()); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := OpenServer("", zap.NewNop()); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

package chapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// StoreError carries a dot-separated operation code alongside the cause.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

const (
	opProgressStoreNew = "chapter.progress_store.new"
	opProgressLoad     = "chapter.progress.load"
	opProgressSave     = "chapter.progress.save"
	opProgressCleanup  = "chapter.progress.cleanup"
	opProgressActive   = "chapter.progress.active"
)

// DateKey formats a timestamp as the calendar-day key chapter progress is
// scoped to.
func DateKey(at time.Time) string {
	return at.Format("2006-01-02")
}

// ChapterProgress is the per-(date, chapter) counter row. Progress is device
// bookkeeping only; it is never synced and is purged at date rollover.
type ChapterProgress struct {
	ID             int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Date           string `gorm:"column:date;size:16;not null;uniqueIndex:idx_chapter_progress_day"`
	ChapterNumber  int    `gorm:"column:chapter_number;not null;uniqueIndex:idx_chapter_progress_day"`
	PracticeCount  int    `gorm:"column:practice_count;not null;default:0"`
	CompletedWords int    `gorm:"column:completed_words;not null;default:0"`
	IsCompleted    bool   `gorm:"column:is_completed;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (ChapterProgress) TableName() string {
	return "chapter_progress"
}

// ChapterSession remembers the last active chapter of a calendar day so a
// reload resumes instead of restarting.
type ChapterSession struct {
	Date          string `gorm:"column:date;primaryKey;size:16"`
	ActiveChapter int    `gorm:"column:active_chapter;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (ChapterSession) TableName() string {
	return "chapter_sessions"
}

// ProgressStoreConfig assembles a ProgressStore.
type ProgressStoreConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// ProgressStore persists intra-day chapter counters and the active chapter.
type ProgressStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewProgressStore validates the configuration and constructs a ProgressStore.
func NewProgressStore(cfg ProgressStoreConfig) (*ProgressStore, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opProgressStoreNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &ProgressStore{db: cfg.Database, logger: logger}, nil
}

// ForDate returns the counters recorded for a calendar day keyed by chapter
// number.
func (s *ProgressStore) ForDate(ctx context.Context, date string) (map[int]ChapterProgress, error) {
	var rows []ChapterProgress
	err := s.db.WithContext(ctx).Where("date = ?", date).Find(&rows).Error
	if err != nil {
		s.logError(opProgressLoad, "query_failed", err, zap.String("date", date))
		return nil, newStoreError(opProgressLoad, "query_failed", err)
	}
	progress := make(map[int]ChapterProgress, len(rows))
	for _, row := range rows {
		progress[row.ChapterNumber] = row
	}
	return progress, nil
}

// RecordPractice increments the practice counter of one chapter.
func (s *ProgressStore) RecordPractice(ctx context.Context, date string, chapterNumber int) error {
	return s.upsert(ctx, date, chapterNumber, func(row *ChapterProgress) {
		row.PracticeCount++
	})
}

// RecordCompletion stores the final counters when a chapter finishes.
func (s *ProgressStore) RecordCompletion(ctx context.Context, date string, chapterNumber, completedWords int) error {
	return s.upsert(ctx, date, chapterNumber, func(row *ChapterProgress) {
		row.CompletedWords = completedWords
		row.IsCompleted = true
	})
}

// SetActive remembers the chapter the session is currently in.
func (s *ProgressStore) SetActive(ctx context.Context, date string, chapterNumber int) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"active_chapter"}),
	}).Create(&ChapterSession{Date: date, ActiveChapter: chapterNumber}).Error
	if err != nil {
		s.logError(opProgressActive, "save_failed", err, zap.String("date", date))
		return newStoreError(opProgressActive, "save_failed", err)
	}
	return nil
}

// Active returns the last active chapter of the day, zero when none.
func (s *ProgressStore) Active(ctx context.Context, date string) (int, error) {
	var session ChapterSession
	err := s.db.WithContext(ctx).Where("date = ?", date).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		s.logError(opProgressActive, "query_failed", err, zap.String("date", date))
		return 0, newStoreError(opProgressActive, "query_failed", err)
	}
	return session.ActiveChapter, nil
}

// ShouldCleanup reports whether rows from a previous calendar day remain.
func (s *ProgressStore) ShouldCleanup(ctx context.Context, today string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&ChapterProgress{}).
		Where("date <> ?", today).
		Count(&count).Error
	if err != nil {
		s.logError(opProgressCleanup, "count_failed", err, zap.String("date", today))
		return false, newStoreError(opProgressCleanup, "count_failed", err)
	}
	return count > 0, nil
}

// CleanupExpired purges counters and session markers from previous days.
func (s *ProgressStore) CleanupExpired(ctx context.Context, today string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("date <> ?", today).Delete(&ChapterProgress{}).Error; err != nil {
			s.logError(opProgressCleanup, "progress_delete_failed", err, zap.String("date", today))
			return newStoreError(opProgressCleanup, "progress_delete_failed", err)
		}
		if err := tx.Where("date <> ?", today).Delete(&ChapterSession{}).Error; err != nil {
			s.logError(opProgressCleanup, "session_delete_failed", err, zap.String("date", today))
			return newStoreError(opProgressCleanup, "session_delete_failed", err)
		}
		return nil
	})
}

func (s *ProgressStore) upsert(ctx context.Context, date string, chapterNumber int, mutate func(*ChapterProgress)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row ChapterProgress
		err := tx.Where("date = ? AND chapter_number = ?", date, chapterNumber).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row = ChapterProgress{Date: date, ChapterNumber: chapterNumber}
		} else if err != nil {
			s.logError(opProgressSave, "select_failed", err, zap.String("date", date), zap.Int("chapter", chapterNumber))
			return newStoreError(opProgressSave, "select_failed", err)
		}
		mutate(&row)
		if err := tx.Save(&row).Error; err != nil {
			s.logError(opProgressSave, "save_failed", err, zap.String("date", date), zap.Int("chapter", chapterNumber))
			return newStoreError(opProgressSave, "save_failed", err)
		}
		return nil
	})
}

func (s *ProgressStore) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("chapter store error", attrs...)
}

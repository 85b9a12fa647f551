package review

import (
	"errors"
	"fmt"
	"strings"
)

// SyncStatus tracks a record's position in the device/server sync lifecycle.
type SyncStatus string

const (
	// SyncStatusSynced means the record matches the last acknowledged server state.
	SyncStatusSynced SyncStatus = "synced"
	// SyncStatusLocalNew marks a record created on this device and never pushed.
	SyncStatusLocalNew SyncStatus = "local_new"
	// SyncStatusLocalModified marks a record changed locally since the last sync.
	SyncStatusLocalModified SyncStatus = "local_modified"
	// SyncStatusLocalDeleted marks a record awaiting delete confirmation from the server.
	SyncStatusLocalDeleted SyncStatus = "local_deleted"
)

const maxWordLength = 190

var (
	// ErrInvalidWord indicates that a word key is empty or exceeds storage bounds.
	ErrInvalidWord = errors.New("review: invalid word")
	// ErrInvalidIntervals indicates an empty or non-positive interval sequence.
	ErrInvalidIntervals = errors.New("review: invalid interval sequence")
)

// Word represents a validated word key.
type Word string

// NewWord validates raw input and returns a Word.
func NewWord(rawInput string) (Word, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidWord)
	}
	if len(trimmed) > maxWordLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidWord, maxWordLength)
	}
	return Word(trimmed), nil
}

// String returns the underlying word.
func (w Word) String() string {
	return string(w)
}

// HistoryEntry is one answer in a record's append-only review trail.
type HistoryEntry struct {
	Timestamp int64 `json:"timestamp"`
	IsCorrect bool  `json:"isCorrect"`
}

// WordReviewRecord is the per-word scheduling state. A word is scheduled once
// regardless of how many dictionaries it appears in; provenance lives in
// SourceDicts and PreferredDict.
type WordReviewRecord struct {
	ID                   int64          `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	UUID                 string         `gorm:"column:uuid;size:64;not null;uniqueIndex" json:"uuid"`
	Word                 string         `gorm:"column:word;size:190;not null;uniqueIndex" json:"word"`
	SourceDicts          []string       `gorm:"column:source_dicts;type:text;serializer:json" json:"sourceDicts"`
	PreferredDict        string         `gorm:"column:preferred_dict;size:190;not null;default:''" json:"preferredDict"`
	IntervalSequence     []float64      `gorm:"column:interval_sequence;type:text;serializer:json" json:"intervalSequence"`
	CurrentIntervalIndex int            `gorm:"column:current_interval_index;not null;default:0" json:"currentIntervalIndex"`
	IsGraduated          bool           `gorm:"column:is_graduated;not null;default:false" json:"isGraduated"`
	ConsecutiveCorrect   int            `gorm:"column:consecutive_correct;not null;default:0" json:"consecutiveCorrect"`
	TotalReviews         int            `gorm:"column:total_reviews;not null;default:0" json:"totalReviews"`
	TodayPracticeCount   int            `gorm:"column:today_practice_count;not null;default:0" json:"todayPracticeCount"`
	FirstSeenAt          int64          `gorm:"column:first_seen_at;not null" json:"firstSeenAt"`
	LastPracticedAt      int64          `gorm:"column:last_practiced_at;not null" json:"lastPracticedAt"`
	NextReviewAt         int64          `gorm:"column:next_review_at;not null;index" json:"nextReviewAt"`
	ReviewHistory        []HistoryEntry `gorm:"column:review_history;type:text;serializer:json" json:"reviewHistory"`
	SyncStatus           SyncStatus     `gorm:"column:sync_status;size:32;not null;default:'local_new'" json:"sync_status"`
	LastModified         int64          `gorm:"column:last_modified;not null" json:"last_modified"`
}

// TableName provides the explicit table binding for GORM.
func (WordReviewRecord) TableName() string {
	return "word_review_records"
}

// IsDue reports whether the record is scheduled for review at nowMillis.
// Graduated records are never due.
func (r WordReviewRecord) IsDue(nowMillis int64) bool {
	if r.IsGraduated {
		return false
	}
	return nowMillis >= r.NextReviewAt
}

// DaysOverdue returns how many days past the scheduled review time nowMillis is,
// never negative.
func (r WordReviewRecord) DaysOverdue(nowMillis int64) float64 {
	overdue := float64(nowMillis-r.NextReviewAt) / float64(millisPerDay)
	if overdue < 0 {
		return 0
	}
	return overdue
}

// ReviewHistoryRecord is an append-only audit row, one per scheduled review.
type ReviewHistoryRecord struct {
	ID                  int64      `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	UUID                string     `gorm:"column:uuid;size:64;not null;uniqueIndex" json:"uuid"`
	Word                string     `gorm:"column:word;size:190;not null;index" json:"word"`
	Dict                string     `gorm:"column:dict;size:190;not null;default:''" json:"dict"`
	ReviewedAt          int64      `gorm:"column:reviewed_at;not null;index" json:"reviewedAt"`
	IsCorrect           bool       `gorm:"column:is_correct;not null" json:"isCorrect"`
	IntervalIndexBefore int        `gorm:"column:interval_index_before;not null" json:"intervalIndexBefore"`
	IntervalIndexAfter  int        `gorm:"column:interval_index_after;not null" json:"intervalIndexAfter"`
	SyncStatus          SyncStatus `gorm:"column:sync_status;size:32;not null;default:'local_new'" json:"sync_status"`
	LastModified        int64      `gorm:"column:last_modified;not null" json:"last_modified"`
}

// TableName provides the explicit table binding for GORM.
func (ReviewHistoryRecord) TableName() string {
	return "review_histories"
}

// FamiliarWord flags a word the user marked as already known; flagged words are
// excluded from plan backfill.
type FamiliarWord struct {
	ID           int64      `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	UUID         string     `gorm:"column:uuid;size:64;not null;uniqueIndex" json:"uuid"`
	Word         string     `gorm:"column:word;size:190;not null;uniqueIndex:idx_familiar_word_dict" json:"word"`
	Dict         string     `gorm:"column:dict;size:190;not null;uniqueIndex:idx_familiar_word_dict" json:"dict"`
	MarkedAt     int64      `gorm:"column:marked_at;not null" json:"markedAt"`
	SyncStatus   SyncStatus `gorm:"column:sync_status;size:32;not null;default:'local_new'" json:"sync_status"`
	LastModified int64      `gorm:"column:last_modified;not null" json:"last_modified"`
}

// TableName provides the explicit table binding for GORM.
func (FamiliarWord) TableName() string {
	return "familiar_words"
}

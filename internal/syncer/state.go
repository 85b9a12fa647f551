package syncer

import (
	"context"
	"errors"
	"strconv"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const watermarkKey = "last_sync_timestamp"

// SyncState is a key/value row for device-local sync bookkeeping.
type SyncState struct {
	Key   string `gorm:"column:key;primaryKey;size:64"`
	Value string `gorm:"column:value;size:190;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (SyncState) TableName() string {
	return "sync_state"
}

// StateStore persists the sync watermark and related scalars. The engine never
// touches it: the caller reads the watermark before a round and persists the
// new one after a successful round.
type StateStore struct {
	db *gorm.DB
}

// NewStateStore wraps the database handle.
func NewStateStore(db *gorm.DB) (*StateStore, error) {
	if db == nil {
		return nil, errors.New("syncer: database handle is required")
	}
	return &StateStore{db: db}, nil
}

// Watermark returns the persisted watermark, zero when no round has succeeded.
func (s *StateStore) Watermark(ctx context.Context) (int64, error) {
	value, err := s.Get(ctx, watermarkKey)
	if err != nil {
		return 0, err
	}
	if value == "" {
		return 0, nil
	}
	watermark, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, err
	}
	return watermark, nil
}

// SetWatermark persists the watermark returned by a successful round.
func (s *StateStore) SetWatermark(ctx context.Context, watermark int64) error {
	return s.Set(ctx, watermarkKey, strconv.FormatInt(watermark, 10))
}

// Get returns the stored value for key, empty when absent.
func (s *StateStore) Get(ctx context.Context, key string) (string, error) {
	var state SyncState
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return state.Value, nil
}

// Set stores the value under key, inserting or overwriting.
func (s *StateStore) Set(ctx context.Context, key, value string) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&SyncState{Key: key, Value: value}).Error
}

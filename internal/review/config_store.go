package review

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lexitype/lexitype/internal/syncer"
)

// TableReviewConfigs is the wire name of the configuration table.
const TableReviewConfigs = "reviewConfigs"

const (
	opConfigStoreNew    = "review.config_store.new"
	opConfigGet         = "review.config.get"
	opConfigUpdate      = "review.config.update"
	opConfigPending     = "review.configs.pending_changes"
	opConfigApplyRemote = "review.configs.apply_remote"
	opConfigAckPush     = "review.configs.acknowledge_push"
)

// ConfigStoreConfig assembles a ConfigStore.
type ConfigStoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// ConfigStore owns the single-row review_configs table. The row is created
// lazily with defaults on first read so a fresh device syncs its config like
// any other record.
type ConfigStore struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewConfigStore validates the configuration and constructs a ConfigStore.
func NewConfigStore(cfg ConfigStoreConfig) (*ConfigStore, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opConfigStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newStoreError(opConfigStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &ConfigStore{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Get returns the active configuration, creating the default row when none
// exists yet.
func (s *ConfigStore) Get(ctx context.Context) (ReviewConfig, error) {
	var stored ReviewConfig
	err := s.db.WithContext(ctx).Where("user_id = ?", "default").Take(&stored).Error
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		logError(s.logger, opConfigGet, "select_failed", err)
		return ReviewConfig{}, newStoreError(opConfigGet, "select_failed", err)
	}

	configID, err := s.idProvider.NewID()
	if err != nil {
		logError(s.logger, opConfigGet, "id_generation_failed", err)
		return ReviewConfig{}, newStoreError(opConfigGet, "id_generation_failed", err)
	}
	created := DefaultConfig()
	created.UUID = configID
	created.SyncStatus = SyncStatusLocalNew
	created.LastModified = s.clock().UnixMilli()
	if err := s.db.WithContext(ctx).Create(&created).Error; err != nil {
		logError(s.logger, opConfigGet, "insert_failed", err)
		return ReviewConfig{}, newStoreError(opConfigGet, "insert_failed", err)
	}
	return created, nil
}

// Update validates and persists new configuration values. Identity fields and
// sync bookkeeping stay managed by the store.
func (s *ConfigStore) Update(ctx context.Context, next ReviewConfig) (ReviewConfig, error) {
	if err := next.Validate(); err != nil {
		return ReviewConfig{}, newStoreError(opConfigUpdate, "invalid_config", err)
	}
	current, err := s.Get(ctx)
	if err != nil {
		return ReviewConfig{}, err
	}
	current.BaseIntervals = append([]float64(nil), next.BaseIntervals...)
	current.DailyReviewTarget = next.DailyReviewTarget
	current.MaxReviewsPerDay = next.MaxReviewsPerDay
	current.EnableNotifications = next.EnableNotifications
	current.NotificationTime = next.NotificationTime
	if current.SyncStatus == SyncStatusSynced {
		current.SyncStatus = SyncStatusLocalModified
	}
	current.LastModified = s.clock().UnixMilli()
	if err := s.db.WithContext(ctx).Save(&current).Error; err != nil {
		logError(s.logger, opConfigUpdate, "save_failed", err)
		return ReviewConfig{}, newStoreError(opConfigUpdate, "save_failed", err)
	}
	return current, nil
}

// ApplyPreset replaces the configuration with a named preset.
func (s *ConfigStore) ApplyPreset(ctx context.Context, name string) (ReviewConfig, error) {
	preset, err := PresetConfig(name)
	if err != nil {
		return ReviewConfig{}, newStoreError(opConfigUpdate, "unknown_preset", err)
	}
	return s.Update(ctx, preset)
}

// Reset restores the default configuration.
func (s *ConfigStore) Reset(ctx context.Context) (ReviewConfig, error) {
	return s.Update(ctx, DefaultConfig())
}

// Table implements syncer.TableStore.
func (s *ConfigStore) Table() string {
	return TableReviewConfigs
}

// PendingChanges implements syncer.TableStore.
func (s *ConfigStore) PendingChanges(ctx context.Context) ([]syncer.Envelope, error) {
	var configs []ReviewConfig
	err := s.db.WithContext(ctx).
		Where("sync_status <> ?", SyncStatusSynced).
		Order("id ASC").
		Find(&configs).Error
	if err != nil {
		logError(s.logger, opConfigPending, "query_failed", err)
		return nil, newStoreError(opConfigPending, "query_failed", err)
	}
	envelopes := make([]syncer.Envelope, 0, len(configs))
	for _, config := range configs {
		envelope, ok, err := pendingEnvelope(TableReviewConfigs, config.SyncStatus, config)
		if err != nil {
			logError(s.logger, opConfigPending, "marshal_failed", err)
			return nil, newStoreError(opConfigPending, "marshal_failed", err)
		}
		if ok {
			envelopes = append(envelopes, envelope)
		}
	}
	return envelopes, nil
}

// ApplyRemote implements syncer.TableStore. The config row is unique per user,
// so an incoming snapshot matches by uuid first and falls back to the user row
// when the two devices created their defaults independently.
func (s *ConfigStore) ApplyRemote(ctx context.Context, envelope syncer.Envelope) error {
	meta, err := envelope.Meta()
	if err != nil {
		return newStoreError(opConfigApplyRemote, "invalid_envelope", err)
	}
	var incoming ReviewConfig
	if err := json.Unmarshal(envelope.Data, &incoming); err != nil {
		return newStoreError(opConfigApplyRemote, "unmarshal_failed", err)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var local ReviewConfig
		found := true
		err := tx.Where("uuid = ?", meta.UUID).Take(&local).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = tx.Where("user_id = ?", incoming.UserID).Take(&local).Error
		}
		if errors.Is(err, gorm.ErrRecordNotFound) {
			found = false
		} else if err != nil {
			logError(s.logger, opConfigApplyRemote, "select_failed", err, zap.String("uuid", meta.UUID))
			return newStoreError(opConfigApplyRemote, "select_failed", err)
		}

		switch decideMerge(found, local.SyncStatus, local.LastModified, envelope.Action, meta) {
		case mergeKeepLocal:
			return nil
		case mergeDelete:
			if err := tx.Delete(&ReviewConfig{}, local.ID).Error; err != nil {
				logError(s.logger, opConfigApplyRemote, "delete_failed", err, zap.String("uuid", meta.UUID))
				return newStoreError(opConfigApplyRemote, "delete_failed", err)
			}
			return nil
		case mergeInsert, mergeOverwrite:
			incoming.ID = local.ID
			incoming.SyncStatus = SyncStatusSynced
			incoming.LastModified = meta.ServerModifiedAt
			if err := tx.Save(&incoming).Error; err != nil {
				logError(s.logger, opConfigApplyRemote, "save_failed", err, zap.String("uuid", meta.UUID))
				return newStoreError(opConfigApplyRemote, "save_failed", err)
			}
		}
		return nil
	})
}

// AcknowledgePush implements syncer.TableStore.
func (s *ConfigStore) AcknowledgePush(ctx context.Context, envelope syncer.Envelope) error {
	meta, err := envelope.Meta()
	if err != nil {
		return newStoreError(opConfigAckPush, "invalid_envelope", err)
	}
	if envelope.Action == syncer.ActionDelete {
		err := s.db.WithContext(ctx).
			Where("uuid = ? AND sync_status = ?", meta.UUID, SyncStatusLocalDeleted).
			Delete(&ReviewConfig{}).Error
		if err != nil {
			logError(s.logger, opConfigAckPush, "delete_failed", err, zap.String("uuid", meta.UUID))
			return newStoreError(opConfigAckPush, "delete_failed", err)
		}
		return nil
	}
	err = s.db.WithContext(ctx).
		Model(&ReviewConfig{}).
		Where("uuid = ? AND last_modified = ?", meta.UUID, meta.LastModified).
		Update("sync_status", SyncStatusSynced).Error
	if err != nil {
		logError(s.logger, opConfigAckPush, "update_failed", err, zap.String("uuid", meta.UUID))
		return newStoreError(opConfigAckPush, "update_failed", err)
	}
	return nil
}

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

// TableReviewHistories is the wire name of the audit table.
const TableReviewHistories = "reviewHistories"

const (
	opHistoryStoreNew    = "review.history_store.new"
	opHistoryList        = "review.history.list"
	opHistoryPending     = "review.histories.pending_changes"
	opHistoryApplyRemote = "review.histories.apply_remote"
	opHistoryAckPush     = "review.histories.acknowledge_push"
)

// HistoryStoreConfig assembles a HistoryStore.
type HistoryStoreConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// HistoryStore reads the append-only review audit trail and carries it through
// sync. Rows are written by WordStore inside the review transaction.
type HistoryStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewHistoryStore validates the configuration and constructs a HistoryStore.
func NewHistoryStore(cfg HistoryStoreConfig) (*HistoryStore, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opHistoryStoreNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &HistoryStore{db: cfg.Database, logger: logger}, nil
}

// ListForWord returns the most recent reviews of one word, newest first.
func (s *HistoryStore) ListForWord(ctx context.Context, word Word, limit int) ([]ReviewHistoryRecord, error) {
	query := s.db.WithContext(ctx).
		Where("word = ?", word.String()).
		Order("reviewed_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []ReviewHistoryRecord
	if err := query.Find(&records).Error; err != nil {
		logError(s.logger, opHistoryList, "query_failed", err, zap.String("word", word.String()))
		return nil, newStoreError(opHistoryList, "query_failed", err)
	}
	return records, nil
}

// ListRange returns reviews whose timestamp falls in [from, to), oldest first.
// Statistics aggregation reads through this.
func (s *HistoryStore) ListRange(ctx context.Context, from, to time.Time) ([]ReviewHistoryRecord, error) {
	var records []ReviewHistoryRecord
	err := s.db.WithContext(ctx).
		Where("reviewed_at >= ? AND reviewed_at < ?", from.UnixMilli(), to.UnixMilli()).
		Order("reviewed_at ASC").
		Find(&records).Error
	if err != nil {
		logError(s.logger, opHistoryList, "query_failed", err)
		return nil, newStoreError(opHistoryList, "query_failed", err)
	}
	return records, nil
}

// Table implements syncer.TableStore.
func (s *HistoryStore) Table() string {
	return TableReviewHistories
}

// PendingChanges implements syncer.TableStore.
func (s *HistoryStore) PendingChanges(ctx context.Context) ([]syncer.Envelope, error) {
	var records []ReviewHistoryRecord
	err := s.db.WithContext(ctx).
		Where("sync_status <> ?", SyncStatusSynced).
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		logError(s.logger, opHistoryPending, "query_failed", err)
		return nil, newStoreError(opHistoryPending, "query_failed", err)
	}
	envelopes := make([]syncer.Envelope, 0, len(records))
	for _, record := range records {
		envelope, ok, err := pendingEnvelope(TableReviewHistories, record.SyncStatus, record)
		if err != nil {
			logError(s.logger, opHistoryPending, "marshal_failed", err, zap.String("word", record.Word))
			return nil, newStoreError(opHistoryPending, "marshal_failed", err)
		}
		if ok {
			envelopes = append(envelopes, envelope)
		}
	}
	return envelopes, nil
}

// ApplyRemote implements syncer.TableStore.
func (s *HistoryStore) ApplyRemote(ctx context.Context, envelope syncer.Envelope) error {
	meta, err := envelope.Meta()
	if err != nil {
		return newStoreError(opHistoryApplyRemote, "invalid_envelope", err)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var local ReviewHistoryRecord
		found := true
		err := tx.Where("uuid = ?", meta.UUID).Take(&local).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			found = false
		} else if err != nil {
			logError(s.logger, opHistoryApplyRemote, "select_failed", err, zap.String("uuid", meta.UUID))
			return newStoreError(opHistoryApplyRemote, "select_failed", err)
		}

		switch decideMerge(found, local.SyncStatus, local.LastModified, envelope.Action, meta) {
		case mergeKeepLocal:
			return nil
		case mergeDelete:
			if err := tx.Delete(&ReviewHistoryRecord{}, local.ID).Error; err != nil {
				logError(s.logger, opHistoryApplyRemote, "delete_failed", err, zap.String("uuid", meta.UUID))
				return newStoreError(opHistoryApplyRemote, "delete_failed", err)
			}
			return nil
		case mergeInsert, mergeOverwrite:
			var incoming ReviewHistoryRecord
			if err := json.Unmarshal(envelope.Data, &incoming); err != nil {
				return newStoreError(opHistoryApplyRemote, "unmarshal_failed", err)
			}
			incoming.ID = local.ID
			incoming.SyncStatus = SyncStatusSynced
			incoming.LastModified = meta.ServerModifiedAt
			if err := tx.Save(&incoming).Error; err != nil {
				logError(s.logger, opHistoryApplyRemote, "save_failed", err, zap.String("uuid", meta.UUID))
				return newStoreError(opHistoryApplyRemote, "save_failed", err)
			}
		}
		return nil
	})
}

// AcknowledgePush implements syncer.TableStore.
func (s *HistoryStore) AcknowledgePush(ctx context.Context, envelope syncer.Envelope) error {
	meta, err := envelope.Meta()
	if err != nil {
		return newStoreError(opHistoryAckPush, "invalid_envelope", err)
	}
	if envelope.Action == syncer.ActionDelete {
		err := s.db.WithContext(ctx).
			Where("uuid = ? AND sync_status = ?", meta.UUID, SyncStatusLocalDeleted).
			Delete(&ReviewHistoryRecord{}).Error
		if err != nil {
			logError(s.logger, opHistoryAckPush, "delete_failed", err, zap.String("uuid", meta.UUID))
			return newStoreError(opHistoryAckPush, "delete_failed", err)
		}
		return nil
	}
	err = s.db.WithContext(ctx).
		Model(&ReviewHistoryRecord{}).
		Where("uuid = ? AND last_modified = ?", meta.UUID, meta.LastModified).
		Update("sync_status", SyncStatusSynced).Error
	if err != nil {
		logError(s.logger, opHistoryAckPush, "update_failed", err, zap.String("uuid", meta.UUID))
		return newStoreError(opHistoryAckPush, "update_failed", err)
	}
	return nil
}

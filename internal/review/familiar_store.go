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

// TableFamiliarWords is the wire name of the familiar-word table.
const TableFamiliarWords = "familiarWords"

const (
	opFamiliarStoreNew    = "review.familiar_store.new"
	opFamiliarMark        = "review.familiar.mark"
	opFamiliarUnmark      = "review.familiar.unmark"
	opFamiliarList        = "review.familiar.list"
	opFamiliarPending     = "review.familiar.pending_changes"
	opFamiliarApplyRemote = "review.familiar.apply_remote"
	opFamiliarAckPush     = "review.familiar.acknowledge_push"
)

// FamiliarStoreConfig assembles a FamiliarStore.
type FamiliarStoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// FamiliarStore owns the familiar_words table. Words marked familiar are
// excluded from daily plans entirely.
type FamiliarStore struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewFamiliarStore validates the configuration and constructs a FamiliarStore.
func NewFamiliarStore(cfg FamiliarStoreConfig) (*FamiliarStore, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opFamiliarStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newStoreError(opFamiliarStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &FamiliarStore{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Mark flags a word as familiar in the given dictionary. Marking twice is a
// no-op; a tombstoned mark is revived.
func (s *FamiliarStore) Mark(ctx context.Context, word Word, dict string) error {
	at := s.clock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing FamiliarWord
		err := tx.Where("word = ? AND dict = ?", word.String(), dict).Take(&existing).Error
		if err == nil {
			if existing.SyncStatus != SyncStatusLocalDeleted {
				return nil
			}
			existing.SyncStatus = SyncStatusLocalModified
			existing.MarkedAt = at.UnixMilli()
			existing.LastModified = at.UnixMilli()
			if saveErr := tx.Save(&existing).Error; saveErr != nil {
				logError(s.logger, opFamiliarMark, "save_failed", saveErr, zap.String("word", word.String()))
				return newStoreError(opFamiliarMark, "save_failed", saveErr)
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logError(s.logger, opFamiliarMark, "select_failed", err, zap.String("word", word.String()))
			return newStoreError(opFamiliarMark, "select_failed", err)
		}

		markID, err := s.idProvider.NewID()
		if err != nil {
			logError(s.logger, opFamiliarMark, "id_generation_failed", err)
			return newStoreError(opFamiliarMark, "id_generation_failed", err)
		}
		created := FamiliarWord{
			UUID:         markID,
			Word:         word.String(),
			Dict:         dict,
			MarkedAt:     at.UnixMilli(),
			SyncStatus:   SyncStatusLocalNew,
			LastModified: at.UnixMilli(),
		}
		if err := tx.Create(&created).Error; err != nil {
			logError(s.logger, opFamiliarMark, "insert_failed", err, zap.String("word", word.String()))
			return newStoreError(opFamiliarMark, "insert_failed", err)
		}
		return nil
	})
}

// Unmark removes the familiar flag. Marks never pushed are dropped outright;
// synced marks become tombstones until the server confirms.
func (s *FamiliarStore) Unmark(ctx context.Context, word Word, dict string) error {
	at := s.clock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing FamiliarWord
		err := tx.Where("word = ? AND dict = ?", word.String(), dict).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			logError(s.logger, opFamiliarUnmark, "select_failed", err, zap.String("word", word.String()))
			return newStoreError(opFamiliarUnmark, "select_failed", err)
		}
		if existing.SyncStatus == SyncStatusLocalNew {
			if err := tx.Delete(&FamiliarWord{}, existing.ID).Error; err != nil {
				logError(s.logger, opFamiliarUnmark, "delete_failed", err, zap.String("word", word.String()))
				return newStoreError(opFamiliarUnmark, "delete_failed", err)
			}
			return nil
		}
		existing.SyncStatus = SyncStatusLocalDeleted
		existing.LastModified = at.UnixMilli()
		if err := tx.Save(&existing).Error; err != nil {
			logError(s.logger, opFamiliarUnmark, "save_failed", err, zap.String("word", word.String()))
			return newStoreError(opFamiliarUnmark, "save_failed", err)
		}
		return nil
	})
}

// WordSet returns the set of words currently marked familiar in any
// dictionary. Tombstoned marks are excluded.
func (s *FamiliarStore) WordSet(ctx context.Context) (map[string]struct{}, error) {
	var words []string
	err := s.db.WithContext(ctx).
		Model(&FamiliarWord{}).
		Where("sync_status <> ?", SyncStatusLocalDeleted).
		Distinct("word").
		Pluck("word", &words).Error
	if err != nil {
		logError(s.logger, opFamiliarList, "query_failed", err)
		return nil, newStoreError(opFamiliarList, "query_failed", err)
	}
	set := make(map[string]struct{}, len(words))
	for _, word := range words {
		set[word] = struct{}{}
	}
	return set, nil
}

// Table implements syncer.TableStore.
func (s *FamiliarStore) Table() string {
	return TableFamiliarWords
}

// PendingChanges implements syncer.TableStore.
func (s *FamiliarStore) PendingChanges(ctx context.Context) ([]syncer.Envelope, error) {
	var records []FamiliarWord
	err := s.db.WithContext(ctx).
		Where("sync_status <> ?", SyncStatusSynced).
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		logError(s.logger, opFamiliarPending, "query_failed", err)
		return nil, newStoreError(opFamiliarPending, "query_failed", err)
	}
	envelopes := make([]syncer.Envelope, 0, len(records))
	for _, record := range records {
		envelope, ok, err := pendingEnvelope(TableFamiliarWords, record.SyncStatus, record)
		if err != nil {
			logError(s.logger, opFamiliarPending, "marshal_failed", err, zap.String("word", record.Word))
			return nil, newStoreError(opFamiliarPending, "marshal_failed", err)
		}
		if ok {
			envelopes = append(envelopes, envelope)
		}
	}
	return envelopes, nil
}

// ApplyRemote implements syncer.TableStore.
func (s *FamiliarStore) ApplyRemote(ctx context.Context, envelope syncer.Envelope) error {
	meta, err := envelope.Meta()
	if err != nil {
		return newStoreError(opFamiliarApplyRemote, "invalid_envelope", err)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var local FamiliarWord
		found := true
		err := tx.Where("uuid = ?", meta.UUID).Take(&local).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			found = false
		} else if err != nil {
			logError(s.logger, opFamiliarApplyRemote, "select_failed", err, zap.String("uuid", meta.UUID))
			return newStoreError(opFamiliarApplyRemote, "select_failed", err)
		}

		switch decideMerge(found, local.SyncStatus, local.LastModified, envelope.Action, meta) {
		case mergeKeepLocal:
			return nil
		case mergeDelete:
			if err := tx.Delete(&FamiliarWord{}, local.ID).Error; err != nil {
				logError(s.logger, opFamiliarApplyRemote, "delete_failed", err, zap.String("uuid", meta.UUID))
				return newStoreError(opFamiliarApplyRemote, "delete_failed", err)
			}
			return nil
		case mergeInsert, mergeOverwrite:
			var incoming FamiliarWord
			if err := json.Unmarshal(envelope.Data, &incoming); err != nil {
				return newStoreError(opFamiliarApplyRemote, "unmarshal_failed", err)
			}
			incoming.ID = local.ID
			incoming.SyncStatus = SyncStatusSynced
			incoming.LastModified = meta.ServerModifiedAt
			if err := tx.Save(&incoming).Error; err != nil {
				logError(s.logger, opFamiliarApplyRemote, "save_failed", err, zap.String("uuid", meta.UUID))
				return newStoreError(opFamiliarApplyRemote, "save_failed", err)
			}
		}
		return nil
	})
}

// AcknowledgePush implements syncer.TableStore.
func (s *FamiliarStore) AcknowledgePush(ctx context.Context, envelope syncer.Envelope) error {
	meta, err := envelope.Meta()
	if err != nil {
		return newStoreError(opFamiliarAckPush, "invalid_envelope", err)
	}
	if envelope.Action == syncer.ActionDelete {
		err := s.db.WithContext(ctx).
			Where("uuid = ? AND sync_status = ?", meta.UUID, SyncStatusLocalDeleted).
			Delete(&FamiliarWord{}).Error
		if err != nil {
			logError(s.logger, opFamiliarAckPush, "delete_failed", err, zap.String("uuid", meta.UUID))
			return newStoreError(opFamiliarAckPush, "delete_failed", err)
		}
		return nil
	}
	err = s.db.WithContext(ctx).
		Model(&FamiliarWord{}).
		Where("uuid = ? AND last_modified = ?", meta.UUID, meta.LastModified).
		Update("sync_status", SyncStatusSynced).Error
	if err != nil {
		logError(s.logger, opFamiliarAckPush, "update_failed", err, zap.String("uuid", meta.UUID))
		return newStoreError(opFamiliarAckPush, "update_failed", err)
	}
	return nil
}

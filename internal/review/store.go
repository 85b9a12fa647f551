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

// TableWordReviewRecords is the wire name of the scheduling table.
const TableWordReviewRecords = "wordReviewRecords"

const (
	opWordStoreNew     = "review.word_store.new"
	opRecordReview     = "review.record_review"
	opRecordPractice   = "review.record_practice"
	opListRecords      = "review.list_records"
	opSaveBatch        = "review.save_batch"
	opMarkDeleted      = "review.mark_deleted"
	opResetDailyCounts = "review.reset_daily_counts"
	opWordPending      = "review.words.pending_changes"
	opWordApplyRemote  = "review.words.apply_remote"
	opWordAckPush      = "review.words.acknowledge_push"
)

// ErrRecordNotFound indicates an operation against a word with no record.
var ErrRecordNotFound = errors.New("review: record not found")

// WordStoreConfig assembles a WordStore.
type WordStoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// WordStore owns the word_review_records table: the practice write path, the
// plan read path, and the table's side of the sync protocol.
type WordStore struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewWordStore validates the configuration and constructs a WordStore.
func NewWordStore(cfg WordStoreConfig) (*WordStore, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opWordStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newStoreError(opWordStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &WordStore{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Get returns the record for word. The second return value is false when the
// word has never been reviewed or its record awaits delete confirmation.
func (s *WordStore) Get(ctx context.Context, word Word) (WordReviewRecord, bool, error) {
	var record WordReviewRecord
	err := s.db.WithContext(ctx).
		Where("word = ? AND sync_status <> ?", word.String(), SyncStatusLocalDeleted).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return WordReviewRecord{}, false, nil
	}
	if err != nil {
		logError(s.logger, opListRecords, "select_failed", err, zap.String("word", word.String()))
		return WordReviewRecord{}, false, newStoreError(opListRecords, "select_failed", err)
	}
	return record, true, nil
}

// RecordReview applies one answered review to the word, creating the record on
// first sight with the supplied seed intervals. The record update and its
// audit row commit in one transaction.
func (s *WordStore) RecordReview(ctx context.Context, word Word, dict string, isCorrect bool, seedIntervals []float64) (WordReviewRecord, error) {
	at := s.clock()
	var updated WordReviewRecord
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, found, err := s.lockRecord(tx, word)
		if err != nil {
			logError(s.logger, opRecordReview, "select_failed", err, zap.String("word", word.String()))
			return newStoreError(opRecordReview, "select_failed", err)
		}

		if !found {
			recordID, err := s.idProvider.NewID()
			if err != nil {
				logError(s.logger, opRecordReview, "id_generation_failed", err)
				return newStoreError(opRecordReview, "id_generation_failed", err)
			}
			existing, err = NewRecord(recordID, word, dict, seedIntervals, at)
			if err != nil {
				logError(s.logger, opRecordReview, "seed_failed", err, zap.String("word", word.String()))
				return newStoreError(opRecordReview, "seed_failed", err)
			}
		} else {
			absorbDict(&existing, dict)
			// Reviewing a word pending deletion revives it.
			if existing.SyncStatus == SyncStatusLocalDeleted {
				existing.SyncStatus = SyncStatusLocalModified
			}
		}

		indexBefore := existing.CurrentIntervalIndex
		updated = Transition(existing, isCorrect, at)
		if err := tx.Save(&updated).Error; err != nil {
			logError(s.logger, opRecordReview, "save_failed", err, zap.String("word", word.String()))
			return newStoreError(opRecordReview, "save_failed", err)
		}

		historyID, err := s.idProvider.NewID()
		if err != nil {
			logError(s.logger, opRecordReview, "id_generation_failed", err)
			return newStoreError(opRecordReview, "id_generation_failed", err)
		}
		history := ReviewHistoryRecord{
			UUID:                historyID,
			Word:                updated.Word,
			Dict:                updated.PreferredDict,
			ReviewedAt:          at.UnixMilli(),
			IsCorrect:           isCorrect,
			IntervalIndexBefore: indexBefore,
			IntervalIndexAfter:  updated.CurrentIntervalIndex,
			SyncStatus:          SyncStatusLocalNew,
			LastModified:        at.UnixMilli(),
		}
		if err := tx.Create(&history).Error; err != nil {
			logError(s.logger, opRecordReview, "history_insert_failed", err, zap.String("word", word.String()))
			return newStoreError(opRecordReview, "history_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return WordReviewRecord{}, txErr
	}
	return updated, nil
}

// RecordPractice counts a repeat drill against an existing record without
// advancing its schedule.
func (s *WordStore) RecordPractice(ctx context.Context, word Word) (WordReviewRecord, error) {
	at := s.clock()
	var updated WordReviewRecord
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, found, err := s.lockRecord(tx, word)
		if err != nil {
			logError(s.logger, opRecordPractice, "select_failed", err, zap.String("word", word.String()))
			return newStoreError(opRecordPractice, "select_failed", err)
		}
		if !found || existing.SyncStatus == SyncStatusLocalDeleted {
			return newStoreError(opRecordPractice, "record_not_found", ErrRecordNotFound)
		}
		updated = RecordPractice(existing, at)
		if err := tx.Save(&updated).Error; err != nil {
			logError(s.logger, opRecordPractice, "save_failed", err, zap.String("word", word.String()))
			return newStoreError(opRecordPractice, "save_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return WordReviewRecord{}, txErr
	}
	return updated, nil
}

// ListActive returns every record still in the review cycle: not graduated and
// not pending deletion. Plan generation starts from this set.
func (s *WordStore) ListActive(ctx context.Context) ([]WordReviewRecord, error) {
	var records []WordReviewRecord
	err := s.db.WithContext(ctx).
		Where("is_graduated = ? AND sync_status <> ?", false, SyncStatusLocalDeleted).
		Order("next_review_at ASC").
		Find(&records).Error
	if err != nil {
		logError(s.logger, opListRecords, "query_failed", err)
		return nil, newStoreError(opListRecords, "query_failed", err)
	}
	return records, nil
}

// ListAll returns every record not pending deletion, graduated ones included.
func (s *WordStore) ListAll(ctx context.Context) ([]WordReviewRecord, error) {
	var records []WordReviewRecord
	err := s.db.WithContext(ctx).
		Where("sync_status <> ?", SyncStatusLocalDeleted).
		Order("word ASC").
		Find(&records).Error
	if err != nil {
		logError(s.logger, opListRecords, "query_failed", err)
		return nil, newStoreError(opListRecords, "query_failed", err)
	}
	return records, nil
}

// SaveBatch persists accumulated record updates and their audit rows in one
// transaction. The chapter flush path uses this so a chapter commits atomically.
func (s *WordStore) SaveBatch(ctx context.Context, records []WordReviewRecord, histories []ReviewHistoryRecord) error {
	if len(records) == 0 && len(histories) == 0 {
		return nil
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range records {
			if err := tx.Save(&records[i]).Error; err != nil {
				logError(s.logger, opSaveBatch, "record_save_failed", err, zap.String("word", records[i].Word))
				return newStoreError(opSaveBatch, "record_save_failed", err)
			}
		}
		for i := range histories {
			if err := tx.Create(&histories[i]).Error; err != nil {
				logError(s.logger, opSaveBatch, "history_insert_failed", err, zap.String("word", histories[i].Word))
				return newStoreError(opSaveBatch, "history_insert_failed", err)
			}
		}
		return nil
	})
	return txErr
}

// MarkDeleted removes the word from scheduling. A record never pushed is
// dropped outright; a synced record stays as a tombstone until the server
// confirms the delete.
func (s *WordStore) MarkDeleted(ctx context.Context, word Word) error {
	at := s.clock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, found, err := s.lockRecord(tx, word)
		if err != nil {
			logError(s.logger, opMarkDeleted, "select_failed", err, zap.String("word", word.String()))
			return newStoreError(opMarkDeleted, "select_failed", err)
		}
		if !found {
			return nil
		}
		if existing.SyncStatus == SyncStatusLocalNew {
			if err := tx.Delete(&WordReviewRecord{}, existing.ID).Error; err != nil {
				logError(s.logger, opMarkDeleted, "delete_failed", err, zap.String("word", word.String()))
				return newStoreError(opMarkDeleted, "delete_failed", err)
			}
			return nil
		}
		existing.SyncStatus = SyncStatusLocalDeleted
		existing.LastModified = at.UnixMilli()
		if err := tx.Save(&existing).Error; err != nil {
			logError(s.logger, opMarkDeleted, "save_failed", err, zap.String("word", word.String()))
			return newStoreError(opMarkDeleted, "save_failed", err)
		}
		return nil
	})
}

// ResetDailyCounts zeroes per-day practice counters for records last touched
// before dayStart. The reset is local bookkeeping and does not mark records
// as modified for sync.
func (s *WordStore) ResetDailyCounts(ctx context.Context, dayStart time.Time) error {
	err := s.db.WithContext(ctx).
		Model(&WordReviewRecord{}).
		Where("today_practice_count > 0 AND last_practiced_at < ?", dayStart.UnixMilli()).
		Update("today_practice_count", 0).Error
	if err != nil {
		logError(s.logger, opResetDailyCounts, "update_failed", err)
		return newStoreError(opResetDailyCounts, "update_failed", err)
	}
	return nil
}

// Table implements syncer.TableStore.
func (s *WordStore) Table() string {
	return TableWordReviewRecords
}

// PendingChanges implements syncer.TableStore with one full-snapshot envelope
// per unsynced record.
func (s *WordStore) PendingChanges(ctx context.Context) ([]syncer.Envelope, error) {
	var records []WordReviewRecord
	err := s.db.WithContext(ctx).
		Where("sync_status <> ?", SyncStatusSynced).
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		logError(s.logger, opWordPending, "query_failed", err)
		return nil, newStoreError(opWordPending, "query_failed", err)
	}
	envelopes := make([]syncer.Envelope, 0, len(records))
	for _, record := range records {
		envelope, ok, err := pendingEnvelope(TableWordReviewRecords, record.SyncStatus, record)
		if err != nil {
			logError(s.logger, opWordPending, "marshal_failed", err, zap.String("word", record.Word))
			return nil, newStoreError(opWordPending, "marshal_failed", err)
		}
		if ok {
			envelopes = append(envelopes, envelope)
		}
	}
	return envelopes, nil
}

// ApplyRemote implements syncer.TableStore under the last-write-wins policy.
func (s *WordStore) ApplyRemote(ctx context.Context, envelope syncer.Envelope) error {
	meta, err := envelope.Meta()
	if err != nil {
		return newStoreError(opWordApplyRemote, "invalid_envelope", err)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var local WordReviewRecord
		found := true
		err := tx.Where("uuid = ?", meta.UUID).Take(&local).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			found = false
		} else if err != nil {
			logError(s.logger, opWordApplyRemote, "select_failed", err, zap.String("uuid", meta.UUID))
			return newStoreError(opWordApplyRemote, "select_failed", err)
		}

		switch decideMerge(found, local.SyncStatus, local.LastModified, envelope.Action, meta) {
		case mergeKeepLocal:
			return nil
		case mergeDelete:
			if err := tx.Delete(&WordReviewRecord{}, local.ID).Error; err != nil {
				logError(s.logger, opWordApplyRemote, "delete_failed", err, zap.String("uuid", meta.UUID))
				return newStoreError(opWordApplyRemote, "delete_failed", err)
			}
			return nil
		case mergeInsert, mergeOverwrite:
			var incoming WordReviewRecord
			if err := json.Unmarshal(envelope.Data, &incoming); err != nil {
				return newStoreError(opWordApplyRemote, "unmarshal_failed", err)
			}
			incoming.ID = local.ID
			incoming.SyncStatus = SyncStatusSynced
			incoming.LastModified = meta.ServerModifiedAt
			if err := tx.Save(&incoming).Error; err != nil {
				logError(s.logger, opWordApplyRemote, "save_failed", err, zap.String("uuid", meta.UUID))
				return newStoreError(opWordApplyRemote, "save_failed", err)
			}
		}
		return nil
	})
}

// AcknowledgePush implements syncer.TableStore. Confirmed deletes are removed
// physically; other pushes become synced unless the record changed again while
// the round was in flight.
func (s *WordStore) AcknowledgePush(ctx context.Context, envelope syncer.Envelope) error {
	meta, err := envelope.Meta()
	if err != nil {
		return newStoreError(opWordAckPush, "invalid_envelope", err)
	}
	if envelope.Action == syncer.ActionDelete {
		err := s.db.WithContext(ctx).
			Where("uuid = ? AND sync_status = ?", meta.UUID, SyncStatusLocalDeleted).
			Delete(&WordReviewRecord{}).Error
		if err != nil {
			logError(s.logger, opWordAckPush, "delete_failed", err, zap.String("uuid", meta.UUID))
			return newStoreError(opWordAckPush, "delete_failed", err)
		}
		return nil
	}
	err = s.db.WithContext(ctx).
		Model(&WordReviewRecord{}).
		Where("uuid = ? AND last_modified = ?", meta.UUID, meta.LastModified).
		Update("sync_status", SyncStatusSynced).Error
	if err != nil {
		logError(s.logger, opWordAckPush, "update_failed", err, zap.String("uuid", meta.UUID))
		return newStoreError(opWordAckPush, "update_failed", err)
	}
	return nil
}

func (s *WordStore) lockRecord(tx *gorm.DB, word Word) (WordReviewRecord, bool, error) {
	var record WordReviewRecord
	err := tx.Where("word = ?", word.String()).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return WordReviewRecord{}, false, nil
	}
	if err != nil {
		return WordReviewRecord{}, false, err
	}
	return record, true, nil
}

func absorbDict(record *WordReviewRecord, dict string) {
	if dict == "" {
		return
	}
	for _, existing := range record.SourceDicts {
		if existing == dict {
			return
		}
	}
	record.SourceDicts = append(append([]string(nil), record.SourceDicts...), dict)
	if record.PreferredDict == "" {
		record.PreferredDict = dict
	}
}

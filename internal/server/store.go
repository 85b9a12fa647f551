package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lexitype/lexitype/internal/syncer"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a dot-separated operation code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

const (
	opSyncServiceNew = "server.sync_service.new"
	opApplyRound     = "server.apply_round"
)

// SyncRecord is the server-side row for one synced client record. The payload
// stays opaque JSON; the server only reads the sync metadata, so new record
// kinds need no server change.
type SyncRecord struct {
	ID               int64  `gorm:"column:id;primaryKey;autoIncrement"`
	UserID           string `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_sync_records_key"`
	Table            string `gorm:"column:table_name;size:64;not null;uniqueIndex:idx_sync_records_key"`
	UUID             string `gorm:"column:uuid;size:64;not null;uniqueIndex:idx_sync_records_key"`
	PayloadJSON      string `gorm:"column:payload_json;type:text;not null"`
	LastModified     int64  `gorm:"column:last_modified;not null"`
	ServerModifiedAt int64  `gorm:"column:server_modified_at;not null;index"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (SyncRecord) TableName() string {
	return "sync_records"
}

// SyncServiceConfig assembles a SyncService.
type SyncServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// SyncService is the remote store behind POST /sync. One round applies the
// client's pushed envelopes under last-write-wins and returns every change
// stamped after the client's watermark. Replaying a round is harmless: an
// envelope whose last_modified does not beat the stored row is skipped.
type SyncService struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewSyncService validates the configuration and constructs a SyncService.
func NewSyncService(cfg SyncServiceConfig) (*SyncService, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opSyncServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &SyncService{db: cfg.Database, clock: clock, logger: logger}, nil
}

// RoundOutcome is the server's answer to one sync round.
type RoundOutcome struct {
	NewSyncTimestamp int64
	ServerChanges    []syncer.Envelope
	Applied          int
	Skipped          int
}

// ApplyRound runs one sync round for userID: merge the pushed changes, then
// collect everything changed since the client's watermark. Both halves commit
// in one transaction so a failed round leaves the store untouched.
func (s *SyncService) ApplyRound(ctx context.Context, userID string, watermark int64, changes []syncer.Envelope) (RoundOutcome, error) {
	now := s.clock().UnixMilli()
	// A round landing in the same millisecond as a previous one must still
	// produce changes visible above the client watermark.
	if now <= watermark {
		now = watermark + 1
	}

	outcome := RoundOutcome{NewSyncTimestamp: now}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, change := range changes {
			applied, err := s.applyChange(tx, userID, change, now)
			if err != nil {
				return err
			}
			if applied {
				outcome.Applied++
			} else {
				outcome.Skipped++
			}
		}

		var rows []SyncRecord
		err := tx.Where("user_id = ? AND server_modified_at > ?", userID, watermark).
			Order("server_modified_at ASC, id ASC").
			Find(&rows).Error
		if err != nil {
			s.logError(opApplyRound, "changes_query_failed", err, zap.String("user_id", userID))
			return newServiceError(opApplyRound, "changes_query_failed", err)
		}
		for _, row := range rows {
			envelope, err := rowEnvelope(row)
			if err != nil {
				s.logError(opApplyRound, "row_marshal_failed", err,
					zap.String("user_id", userID),
					zap.String("uuid", row.UUID))
				continue
			}
			outcome.ServerChanges = append(outcome.ServerChanges, envelope)
		}
		return nil
	})
	if txErr != nil {
		return RoundOutcome{}, txErr
	}
	return outcome, nil
}

// applyChange merges one pushed envelope. Malformed envelopes are skipped, not
// fatal: one bad record must not abort the round.
func (s *SyncService) applyChange(tx *gorm.DB, userID string, change syncer.Envelope, now int64) (bool, error) {
	meta, err := change.Meta()
	if err != nil {
		s.logError(opApplyRound, "invalid_envelope", err, zap.String("table", change.Table))
		return false, nil
	}

	var existing SyncRecord
	found := true
	err = tx.Where("user_id = ? AND table_name = ? AND uuid = ?", userID, change.Table, meta.UUID).
		Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		found = false
	} else if err != nil {
		s.logError(opApplyRound, "record_select_failed", err,
			zap.String("user_id", userID),
			zap.String("uuid", meta.UUID))
		return false, newServiceError(opApplyRound, "record_select_failed", err)
	}

	if found && meta.LastModified <= existing.LastModified {
		return false, nil
	}

	record := SyncRecord{
		UserID:           userID,
		Table:            change.Table,
		UUID:             meta.UUID,
		PayloadJSON:      string(change.Data),
		LastModified:     meta.LastModified,
		ServerModifiedAt: now,
		IsDeleted:        change.Action == syncer.ActionDelete,
	}
	if found {
		record.ID = existing.ID
	}
	if err := tx.Save(&record).Error; err != nil {
		s.logError(opApplyRound, "record_save_failed", err,
			zap.String("user_id", userID),
			zap.String("uuid", meta.UUID))
		return false, newServiceError(opApplyRound, "record_save_failed", err)
	}
	return true, nil
}

// rowEnvelope rebuilds a wire envelope from a stored row, stamping the
// server-side modification time into the payload.
func rowEnvelope(row SyncRecord) (syncer.Envelope, error) {
	payload := map[string]any{}
	if row.PayloadJSON != "" {
		if err := json.Unmarshal([]byte(row.PayloadJSON), &payload); err != nil {
			return syncer.Envelope{}, err
		}
	}
	payload["uuid"] = row.UUID
	payload["last_modified"] = row.LastModified
	payload["serverModifiedAt"] = row.ServerModifiedAt
	data, err := json.Marshal(payload)
	if err != nil {
		return syncer.Envelope{}, err
	}
	action := syncer.ActionUpdate
	if row.IsDeleted {
		action = syncer.ActionDelete
	}
	return syncer.Envelope{Table: row.Table, Action: action, Data: data}, nil
}

func (s *SyncService) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("sync service error", attrs...)
}

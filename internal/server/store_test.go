package server

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lexitype/lexitype/internal/syncer"
)

func newTestSyncService(t *testing.T, now *time.Time) *SyncService {
	t.Helper()
	dsn := fmt.Sprintf("file:server_sync_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&SyncRecord{}))
	service, err := NewSyncService(SyncServiceConfig{
		Database: db,
		Clock:    func() time.Time { return *now },
	})
	require.NoError(t, err)
	return service
}

func pushEnvelope(t *testing.T, table, uuid string, lastModified int64, action syncer.Action, extra map[string]any) syncer.Envelope {
	t.Helper()
	payload := map[string]any{"uuid": uuid, "last_modified": lastModified}
	for key, value := range extra {
		payload[key] = value
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return syncer.Envelope{Table: table, Action: action, Data: data}
}

func TestApplyRoundStoresAndEchoesChanges(t *testing.T) {
	now := time.UnixMilli(5_000)
	service := newTestSyncService(t, &now)
	ctx := context.Background()

	change := pushEnvelope(t, "wordReviewRecords", "u-1", 4_000, syncer.ActionCreate,
		map[string]any{"word": "ephemeral"})
	outcome, err := service.ApplyRound(ctx, "user-1", 0, []syncer.Envelope{change})
	require.NoError(t, err)
	require.Equal(t, 1, outcome.Applied)
	require.Zero(t, outcome.Skipped)
	require.Equal(t, int64(5_000), outcome.NewSyncTimestamp)

	// A round with watermark zero sees its own freshly stored row.
	require.Len(t, outcome.ServerChanges, 1)
	echoed := outcome.ServerChanges[0]
	require.Equal(t, "wordReviewRecords", echoed.Table)
	require.Equal(t, syncer.ActionUpdate, echoed.Action)

	meta, err := echoed.Meta()
	require.NoError(t, err)
	require.Equal(t, "u-1", meta.UUID)
	require.Equal(t, int64(4_000), meta.LastModified)
	require.Equal(t, int64(5_000), meta.ServerModifiedAt)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(echoed.Data, &payload))
	require.Equal(t, "ephemeral", payload["word"])
}

func TestApplyRoundIsIdempotentOnReplay(t *testing.T) {
	now := time.UnixMilli(5_000)
	service := newTestSyncService(t, &now)
	ctx := context.Background()

	change := pushEnvelope(t, "wordReviewRecords", "u-1", 4_000, syncer.ActionCreate, nil)
	first, err := service.ApplyRound(ctx, "user-1", 0, []syncer.Envelope{change})
	require.NoError(t, err)
	require.Equal(t, 1, first.Applied)

	now = time.UnixMilli(6_000)
	replay, err := service.ApplyRound(ctx, "user-1", first.NewSyncTimestamp, []syncer.Envelope{change})
	require.NoError(t, err)
	require.Zero(t, replay.Applied)
	require.Equal(t, 1, replay.Skipped)
	require.Empty(t, replay.ServerChanges)
}

func TestApplyRoundLastWriteWins(t *testing.T) {
	now := time.UnixMilli(5_000)
	service := newTestSyncService(t, &now)
	ctx := context.Background()

	initial := pushEnvelope(t, "wordReviewRecords", "u-1", 4_000, syncer.ActionCreate,
		map[string]any{"word": "first"})
	_, err := service.ApplyRound(ctx, "user-1", 0, []syncer.Envelope{initial})
	require.NoError(t, err)

	now = time.UnixMilli(6_000)
	stale := pushEnvelope(t, "wordReviewRecords", "u-1", 3_000, syncer.ActionUpdate,
		map[string]any{"word": "stale"})
	fresh := pushEnvelope(t, "wordReviewRecords", "u-1", 4_500, syncer.ActionUpdate,
		map[string]any{"word": "fresh"})
	outcome, err := service.ApplyRound(ctx, "user-1", 0, []syncer.Envelope{stale, fresh})
	require.NoError(t, err)
	require.Equal(t, 1, outcome.Applied)
	require.Equal(t, 1, outcome.Skipped)

	require.Len(t, outcome.ServerChanges, 1)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(outcome.ServerChanges[0].Data, &payload))
	require.Equal(t, "fresh", payload["word"])
}

func TestApplyRoundFiltersByWatermark(t *testing.T) {
	now := time.UnixMilli(5_000)
	service := newTestSyncService(t, &now)
	ctx := context.Background()

	change := pushEnvelope(t, "wordReviewRecords", "u-1", 4_000, syncer.ActionCreate, nil)
	first, err := service.ApplyRound(ctx, "device-a", 0, []syncer.Envelope{change})
	require.NoError(t, err)

	// Another device of the same user catches up from watermark zero.
	now = time.UnixMilli(6_000)
	behind, err := service.ApplyRound(ctx, "device-a", 0, nil)
	require.NoError(t, err)
	require.Len(t, behind.ServerChanges, 1)

	caughtUp, err := service.ApplyRound(ctx, "device-a", first.NewSyncTimestamp, nil)
	require.NoError(t, err)
	require.Empty(t, caughtUp.ServerChanges)
}

func TestApplyRoundIsolatesUsers(t *testing.T) {
	now := time.UnixMilli(5_000)
	service := newTestSyncService(t, &now)
	ctx := context.Background()

	change := pushEnvelope(t, "wordReviewRecords", "u-1", 4_000, syncer.ActionCreate, nil)
	_, err := service.ApplyRound(ctx, "user-1", 0, []syncer.Envelope{change})
	require.NoError(t, err)

	other, err := service.ApplyRound(ctx, "user-2", 0, nil)
	require.NoError(t, err)
	require.Empty(t, other.ServerChanges)
}

func TestApplyRoundKeepsTimestampAboveWatermark(t *testing.T) {
	now := time.UnixMilli(5_000)
	service := newTestSyncService(t, &now)

	outcome, err := service.ApplyRound(context.Background(), "user-1", 9_000, nil)
	require.NoError(t, err)
	require.Equal(t, int64(9_001), outcome.NewSyncTimestamp)
}

func TestApplyRoundSkipsMalformedEnvelopes(t *testing.T) {
	now := time.UnixMilli(5_000)
	service := newTestSyncService(t, &now)
	ctx := context.Background()

	missingUUID := syncer.Envelope{
		Table:  "wordReviewRecords",
		Action: syncer.ActionCreate,
		Data:   json.RawMessage(`{"last_modified":4000}`),
	}
	valid := pushEnvelope(t, "wordReviewRecords", "u-1", 4_000, syncer.ActionCreate, nil)
	outcome, err := service.ApplyRound(ctx, "user-1", 0, []syncer.Envelope{missingUUID, valid})
	require.NoError(t, err)
	require.Equal(t, 1, outcome.Applied)
	require.Equal(t, 1, outcome.Skipped)
}

func TestApplyRoundStoresDeletes(t *testing.T) {
	now := time.UnixMilli(5_000)
	service := newTestSyncService(t, &now)
	ctx := context.Background()

	create := pushEnvelope(t, "wordReviewRecords", "u-1", 4_000, syncer.ActionCreate, nil)
	_, err := service.ApplyRound(ctx, "user-1", 0, []syncer.Envelope{create})
	require.NoError(t, err)

	now = time.UnixMilli(6_000)
	tombstone := pushEnvelope(t, "wordReviewRecords", "u-1", 5_500, syncer.ActionDelete, nil)
	outcome, err := service.ApplyRound(ctx, "user-1", 0, []syncer.Envelope{tombstone})
	require.NoError(t, err)
	require.Equal(t, 1, outcome.Applied)

	require.Len(t, outcome.ServerChanges, 1)
	require.Equal(t, syncer.ActionDelete, outcome.ServerChanges[0].Action)
}

package syncer

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func TestStateStoreWatermark(t *testing.T) {
	dsn := fmt.Sprintf("file:syncer_state_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&SyncState{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := NewStateStore(db)
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	ctx := context.Background()

	watermark, err := store.Watermark(ctx)
	if err != nil {
		t.Fatalf("unexpected watermark error: %v", err)
	}
	if watermark != 0 {
		t.Fatalf("expected zero watermark before the first round, got %d", watermark)
	}

	if err := store.SetWatermark(ctx, 1_700_000_123_456); err != nil {
		t.Fatalf("unexpected set error: %v", err)
	}
	if err := store.SetWatermark(ctx, 1_700_000_999_999); err != nil {
		t.Fatalf("unexpected overwrite error: %v", err)
	}

	watermark, err = store.Watermark(ctx)
	if err != nil {
		t.Fatalf("unexpected watermark error: %v", err)
	}
	if watermark != 1_700_000_999_999 {
		t.Fatalf("expected latest watermark, got %d", watermark)
	}
}

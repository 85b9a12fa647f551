package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/lexitype/lexitype/internal/chapter"
	"github.com/lexitype/lexitype/internal/review"
)

type stubIDProvider struct {
	next int
}

func (p *stubIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("id-%d", p.next), nil
}

type sessionFixture struct {
	session *Session
	words   *review.WordStore
	now     *time.Time
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:session_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&review.WordReviewRecord{},
		&review.ReviewConfig{},
		&review.ReviewHistoryRecord{},
		&review.FamiliarWord{},
		&chapter.ChapterProgress{},
		&chapter.ChapterSession{},
	))

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	provider := &stubIDProvider{}

	words, err := review.NewWordStore(review.WordStoreConfig{Database: db, Clock: clock, IDProvider: provider})
	require.NoError(t, err)
	configs, err := review.NewConfigStore(review.ConfigStoreConfig{Database: db, Clock: clock, IDProvider: provider})
	require.NoError(t, err)
	familiar, err := review.NewFamiliarStore(review.FamiliarStoreConfig{Database: db, Clock: clock, IDProvider: provider})
	require.NoError(t, err)
	progress, err := chapter.NewProgressStore(chapter.ProgressStoreConfig{Database: db})
	require.NoError(t, err)

	session, err := New(Config{
		Words:      words,
		Configs:    configs,
		Familiar:   familiar,
		Progress:   progress,
		IDProvider: provider,
		Clock:      func() time.Time { return now },
	})
	require.NoError(t, err)
	return &sessionFixture{session: session, words: words, now: &now}
}

func TestCompleteReviewCreatesAndSchedules(t *testing.T) {
	fixture := newSessionFixture(t)
	ctx := context.Background()

	record, err := fixture.session.CompleteReview(ctx, "ephemeral", "cet6", true)
	require.NoError(t, err)
	require.Equal(t, 1, record.CurrentIntervalIndex)
	require.Equal(t, 1, record.TotalReviews)

	record, err = fixture.session.CompleteReview(ctx, "ephemeral", "cet6", false)
	require.NoError(t, err)
	require.Equal(t, 0, record.CurrentIntervalIndex)
	require.Equal(t, 0, record.ConsecutiveCorrect)
}

func TestTodayPlanReflectsStoreState(t *testing.T) {
	fixture := newSessionFixture(t)
	ctx := context.Background()

	_, err := fixture.session.CompleteReview(ctx, "overdue", "cet6", true)
	require.NoError(t, err)
	_, err = fixture.session.CompleteReview(ctx, "known", "cet6", true)
	require.NoError(t, err)
	require.NoError(t, fixture.session.MarkFamiliar(ctx, "known", "cet6"))

	// Both words were rescheduled 3 days out; move past that.
	*fixture.now = fixture.now.Add(96 * time.Hour)

	todayPlan, err := fixture.session.TodayPlan(ctx)
	require.NoError(t, err)
	require.Len(t, todayPlan.Words, 1)
	require.Equal(t, "overdue", todayPlan.Words[0].Word)
	require.Equal(t, 1, todayPlan.UrgentCount)
}

func TestChapterFlowFlushesOnCompletion(t *testing.T) {
	fixture := newSessionFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, fixture.session.RecordAnswer(ctx, "early", "cet6", true), ErrNoActiveChapter)
	_, err := fixture.session.CompleteChapter(ctx, 0)
	require.ErrorIs(t, err, ErrNoActiveChapter)
	require.ErrorIs(t, fixture.session.StartChapter(ctx, 0), ErrChapterOutOfRange)

	require.NoError(t, fixture.session.StartChapter(ctx, 1))
	require.NoError(t, fixture.session.RecordAnswer(ctx, "alpha", "cet6", true))
	require.NoError(t, fixture.session.RecordAnswer(ctx, "beta", "cet6", false))

	// Answers stay in memory until the chapter completes.
	word, err := review.NewWord("alpha")
	require.NoError(t, err)
	_, found, err := fixture.words.Get(ctx, word)
	require.NoError(t, err)
	require.False(t, found)

	result, err := fixture.session.CompleteChapter(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, 2, result.Records)
	require.Equal(t, 2, result.Histories)

	record, found, err := fixture.words.Get(ctx, word)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1, record.CurrentIntervalIndex)

	chapters, active, err := fixture.session.Chapters(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, active)
	require.NotEmpty(t, chapters)
	first := chapters[0]
	require.Equal(t, 2, first.PracticeCount)
	require.Equal(t, 2, first.CompletedWords)
	require.True(t, first.IsCompleted)
}

func TestRolloverResetsCountersOncePerDay(t *testing.T) {
	fixture := newSessionFixture(t)
	ctx := context.Background()

	_, err := fixture.session.CompleteReview(ctx, "ephemeral", "cet6", true)
	require.NoError(t, err)
	require.NoError(t, fixture.session.StartChapter(ctx, 1))
	require.NoError(t, fixture.session.RecordAnswer(ctx, "drill", "cet6", true))

	word, err := review.NewWord("ephemeral")
	require.NoError(t, err)
	record, _, err := fixture.words.Get(ctx, word)
	require.NoError(t, err)
	require.Equal(t, 1, record.TodayPracticeCount)

	// Same day: rollover is a no-op.
	require.NoError(t, fixture.session.Rollover(ctx))
	record, _, err = fixture.words.Get(ctx, word)
	require.NoError(t, err)
	require.Equal(t, 1, record.TodayPracticeCount)

	*fixture.now = fixture.now.Add(24 * time.Hour)
	require.NoError(t, fixture.session.Rollover(ctx))

	record, _, err = fixture.words.Get(ctx, word)
	require.NoError(t, err)
	require.Zero(t, record.TodayPracticeCount)

	// Yesterday's chapter bookkeeping is purged with the rollover.
	_, active, err := fixture.session.Chapters(ctx)
	require.NoError(t, err)
	require.Zero(t, active)
}

func TestConfigLifecycleThroughSession(t *testing.T) {
	fixture := newSessionFixture(t)
	ctx := context.Background()

	cfg, err := fixture.session.Config(ctx)
	require.NoError(t, err)
	require.Equal(t, review.DefaultConfig().DailyReviewTarget, cfg.DailyReviewTarget)

	cfg.DailyReviewTarget = 25
	updated, err := fixture.session.UpdateConfig(ctx, cfg)
	require.NoError(t, err)
	require.Equal(t, 25, updated.DailyReviewTarget)

	preset, err := fixture.session.ApplyPreset(ctx, "intensive")
	require.NoError(t, err)
	require.Equal(t, 80, preset.DailyReviewTarget)
	require.Equal(t, 0.5, preset.BaseIntervals[0])

	restored, err := fixture.session.ResetConfig(ctx)
	require.NoError(t, err)
	require.Equal(t, review.DefaultConfig().DailyReviewTarget, restored.DailyReviewTarget)
}

func TestDeleteWordRemovesFromPlans(t *testing.T) {
	fixture := newSessionFixture(t)
	ctx := context.Background()

	_, err := fixture.session.CompleteReview(ctx, "ephemeral", "cet6", true)
	require.NoError(t, err)
	require.NoError(t, fixture.session.DeleteWord(ctx, "ephemeral"))

	*fixture.now = fixture.now.Add(96 * time.Hour)
	todayPlan, err := fixture.session.TodayPlan(ctx)
	require.NoError(t, err)
	require.Empty(t, todayPlan.Words)
}

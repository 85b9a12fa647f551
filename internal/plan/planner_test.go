package plan

import (
	"testing"
	"time"

	"github.com/lexitype/lexitype/internal/review"
)

func testRecord(t *testing.T, word string, nextReviewAt time.Time, intervalIndex int) review.WordReviewRecord {
	t.Helper()
	return review.WordReviewRecord{
		UUID:                 "uuid-" + word,
		Word:                 word,
		IntervalSequence:     []float64{1, 3, 7, 15, 30, 60},
		CurrentIntervalIndex: intervalIndex,
		NextReviewAt:         nextReviewAt.UnixMilli(),
		LastPracticedAt:      nextReviewAt.Add(-24 * time.Hour).UnixMilli(),
	}
}

func planConfig() review.ReviewConfig {
	cfg := review.DefaultConfig()
	cfg.DailyReviewTarget = 3
	cfg.MaxReviewsPerDay = 4
	return cfg
}

func TestGeneratePartitionsUrgentAndDue(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	records := []review.WordReviewRecord{
		testRecord(t, "urgent", now.Add(-48*time.Hour), 0),
		testRecord(t, "due", now.Add(-2*time.Hour), 2),
		testRecord(t, "upcoming", now.Add(48*time.Hour), 1),
	}

	result := Generate(records, nil, planConfig(), DefaultPlannerConfig(), now)
	if result.UrgentCount != 1 || result.DueCount != 1 {
		t.Fatalf("expected 1 urgent and 1 due, got %d/%d", result.UrgentCount, result.DueCount)
	}
	if len(result.Words) != 3 {
		t.Fatalf("expected backfill to reach the target of 3, got %d", len(result.Words))
	}
	if result.Words[0].Word != "urgent" {
		t.Fatalf("most overdue word must rank first, got %q", result.Words[0].Word)
	}
	if result.BackfillCount != 1 || result.Words[2].Word != "upcoming" {
		t.Fatalf("expected the upcoming word as backfill, got %+v", result.Words)
	}
}

func TestGeneratePriorityFavorsLowerProgress(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	overdueAt := now.Add(-30 * time.Hour)
	records := []review.WordReviewRecord{
		testRecord(t, "advanced", overdueAt, 4),
		testRecord(t, "novice", overdueAt, 1),
	}

	result := Generate(records, nil, planConfig(), DefaultPlannerConfig(), now)
	if result.Words[0].Word != "novice" {
		t.Fatalf("equally overdue words must rank by lower progress first, got %q", result.Words[0].Word)
	}
}

func TestGenerateCapsAtMaxReviews(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	var records []review.WordReviewRecord
	for _, word := range []string{"a", "b", "c", "d", "e", "f"} {
		records = append(records, testRecord(t, word, now.Add(-72*time.Hour), 0))
	}

	result := Generate(records, nil, planConfig(), DefaultPlannerConfig(), now)
	if len(result.Words) != 4 {
		t.Fatalf("expected cap at 4 words, got %d", len(result.Words))
	}
	if result.BackfillCount != 0 {
		t.Fatalf("a capped plan must not backfill")
	}
}

func TestGenerateExcludesGraduatedAndFamiliar(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	graduated := testRecord(t, "done", now.Add(-48*time.Hour), 6)
	graduated.IsGraduated = true
	graduated.NextReviewAt = 0
	records := []review.WordReviewRecord{
		graduated,
		testRecord(t, "known", now.Add(-48*time.Hour), 0),
		testRecord(t, "active", now.Add(-48*time.Hour), 0),
	}
	familiar := map[string]struct{}{"known": {}}

	result := Generate(records, familiar, planConfig(), DefaultPlannerConfig(), now)
	if len(result.Words) != 1 || result.Words[0].Word != "active" {
		t.Fatalf("expected only the active word, got %+v", result.Words)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	overdueAt := now.Add(-30 * time.Hour)
	records := []review.WordReviewRecord{
		testRecord(t, "beta", overdueAt, 1),
		testRecord(t, "alpha", overdueAt, 1),
	}

	first := Generate(records, nil, planConfig(), DefaultPlannerConfig(), now)
	second := Generate(records, nil, planConfig(), DefaultPlannerConfig(), now)
	if first.Words[0].Word != second.Words[0].Word {
		t.Fatalf("generation must be deterministic")
	}
	if first.Words[0].Word != "alpha" {
		t.Fatalf("ties must break on the word itself, got %q", first.Words[0].Word)
	}
}

func TestGenerateGradesDifficulty(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	planner := DefaultPlannerConfig()
	cfg := review.DefaultConfig()

	empty := Generate(nil, nil, cfg, planner, now)
	if empty.Difficulty != DifficultyEasy || len(empty.Words) != 0 {
		t.Fatalf("empty plan must grade easy, got %s", empty.Difficulty)
	}
	if empty.EstimatedTime != 0 {
		t.Fatalf("empty plan needs no time, got %s", empty.EstimatedTime)
	}

	hard := Generate([]review.WordReviewRecord{
		testRecord(t, "a", now.Add(-72*time.Hour), 0),
		testRecord(t, "b", now.Add(-96*time.Hour), 0),
		testRecord(t, "c", now.Add(-2*time.Hour), 0),
	}, nil, cfg, planner, now)
	if hard.Difficulty != DifficultyHard {
		t.Fatalf("mostly urgent must grade hard, got %s", hard.Difficulty)
	}
	if hard.EstimatedTime != 30*time.Second {
		t.Fatalf("expected 10s per word, got %s", hard.EstimatedTime)
	}

	easy := Generate([]review.WordReviewRecord{
		testRecord(t, "a", now.Add(-2*time.Hour), 0),
		testRecord(t, "b", now.Add(-3*time.Hour), 0),
	}, nil, cfg, planner, now)
	if easy.Difficulty != DifficultyEasy {
		t.Fatalf("no urgent words must grade easy, got %s", easy.Difficulty)
	}
}

func TestSummarize(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	graduated := testRecord(t, "done", now, 6)
	graduated.IsGraduated = true
	records := []review.WordReviewRecord{
		graduated,
		testRecord(t, "urgent", now.Add(-48*time.Hour), 0),
		testRecord(t, "due", now.Add(-time.Hour), 3),
		testRecord(t, "later", now.Add(48*time.Hour), 3),
	}

	stats := Summarize(records, DefaultPlannerConfig(), now)
	if stats.TotalTracked != 4 || stats.Graduated != 1 {
		t.Fatalf("unexpected totals: %+v", stats)
	}
	if stats.Urgent != 1 || stats.Due != 1 || stats.NotYetDue != 1 {
		t.Fatalf("unexpected partition: %+v", stats)
	}
	if stats.AverageProgress <= 0 || stats.AverageProgress > 1 {
		t.Fatalf("average progress out of range: %f", stats.AverageProgress)
	}

	if empty := Summarize(nil, DefaultPlannerConfig(), now); empty.TotalTracked != 0 {
		t.Fatalf("expected empty statistics")
	}
}

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lexitype/lexitype/internal/chapter"
	"github.com/lexitype/lexitype/internal/plan"
	"github.com/lexitype/lexitype/internal/review"
)

var (
	// ErrNoActiveChapter indicates an answer or completion with no chapter
	// started.
	ErrNoActiveChapter = errors.New("session: no active chapter")
	// ErrChapterOutOfRange indicates a chapter number outside today's plan.
	ErrChapterOutOfRange = errors.New("session: chapter number out of range")

	errMissingWords    = errors.New("session: word store is required")
	errMissingConfigs  = errors.New("session: config store is required")
	errMissingFamiliar = errors.New("session: familiar store is required")
	errMissingProgress = errors.New("session: progress store is required")
	errMissingIDs      = errors.New("session: id provider is required")
)

// Config assembles a Session.
type Config struct {
	Words      *review.WordStore
	Configs    *review.ConfigStore
	Familiar   *review.FamiliarStore
	Progress   *chapter.ProgressStore
	IDProvider review.IDProvider
	Planner    plan.PlannerConfig
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Session is the inbound facade the presentation layer drives. It owns the
// daily rollover check and the single in-flight chapter accumulator; store
// writes all happen through the underlying stores.
type Session struct {
	words      *review.WordStore
	configs    *review.ConfigStore
	familiar   *review.FamiliarStore
	progress   *chapter.ProgressStore
	idProvider review.IDProvider
	planner    plan.PlannerConfig
	clock      func() time.Time
	logger     *zap.Logger

	mu            sync.Mutex
	activeChapter int
	accumulator   *chapter.Accumulator
	rolledOver    string
}

// New validates the configuration and constructs a Session.
func New(cfg Config) (*Session, error) {
	if cfg.Words == nil {
		return nil, errMissingWords
	}
	if cfg.Configs == nil {
		return nil, errMissingConfigs
	}
	if cfg.Familiar == nil {
		return nil, errMissingFamiliar
	}
	if cfg.Progress == nil {
		return nil, errMissingProgress
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDs
	}
	planner := cfg.Planner
	if planner == (plan.PlannerConfig{}) {
		planner = plan.DefaultPlannerConfig()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		words:      cfg.Words,
		configs:    cfg.Configs,
		familiar:   cfg.Familiar,
		progress:   cfg.Progress,
		idProvider: cfg.IDProvider,
		planner:    planner,
		clock:      clock,
		logger:     logger,
	}, nil
}

// CompleteReview applies one answered word immediately, outside any chapter.
// Safe to call for a word with no prior record; one is created from the
// config's seed intervals.
func (s *Session) CompleteReview(ctx context.Context, rawWord, dict string, isCorrect bool) (review.WordReviewRecord, error) {
	word, err := review.NewWord(rawWord)
	if err != nil {
		return review.WordReviewRecord{}, err
	}
	if err := s.Rollover(ctx); err != nil {
		return review.WordReviewRecord{}, err
	}
	cfg, err := s.configs.Get(ctx)
	if err != nil {
		return review.WordReviewRecord{}, err
	}
	return s.words.RecordReview(ctx, word, dict, isCorrect, cfg.BaseIntervals)
}

// TodayPlan recomputes the daily plan. Read-only and idempotent.
func (s *Session) TodayPlan(ctx context.Context) (plan.DailyPlan, error) {
	if err := s.Rollover(ctx); err != nil {
		return plan.DailyPlan{}, err
	}
	records, err := s.words.ListActive(ctx)
	if err != nil {
		return plan.DailyPlan{}, err
	}
	familiar, err := s.familiar.WordSet(ctx)
	if err != nil {
		return plan.DailyPlan{}, err
	}
	cfg, err := s.configs.Get(ctx)
	if err != nil {
		return plan.DailyPlan{}, err
	}
	return plan.Generate(records, familiar, cfg, s.planner, s.clock()), nil
}

// Statistics summarizes the full record set.
func (s *Session) Statistics(ctx context.Context) (plan.Statistics, error) {
	records, err := s.words.ListAll(ctx)
	if err != nil {
		return plan.Statistics{}, err
	}
	return plan.Summarize(records, s.planner, s.clock()), nil
}

// Chapters slices today's plan into fixed-size chapters, decorated with the
// day's progress counters, and returns the chapter to resume.
func (s *Session) Chapters(ctx context.Context) ([]chapter.Chapter, int, error) {
	todayPlan, err := s.TodayPlan(ctx)
	if err != nil {
		return nil, 0, err
	}
	chapters := chapter.Split(todayPlan.Words, chapter.DefaultChapterSize)

	date := chapter.DateKey(s.clock())
	progress, err := s.progress.ForDate(ctx, date)
	if err != nil {
		return nil, 0, err
	}
	for i := range chapters {
		if row, ok := progress[chapters[i].Number]; ok {
			chapters[i].PracticeCount = row.PracticeCount
			chapters[i].CompletedWords = row.CompletedWords
			chapters[i].IsCompleted = row.IsCompleted
		}
	}
	active, err := s.progress.Active(ctx, date)
	if err != nil {
		return nil, 0, err
	}
	return chapters, active, nil
}

// StartChapter opens chapter number for practice, replacing any chapter left
// open. Answers accumulate in memory until CompleteChapter flushes them.
func (s *Session) StartChapter(ctx context.Context, number int) error {
	if number < 1 {
		return fmt.Errorf("%w: %d", ErrChapterOutOfRange, number)
	}
	cfg, err := s.configs.Get(ctx)
	if err != nil {
		return err
	}
	accumulator, err := chapter.NewAccumulator(chapter.AccumulatorConfig{
		Records:       s.words,
		IDProvider:    s.idProvider,
		SeedIntervals: cfg.BaseIntervals,
	})
	if err != nil {
		return err
	}
	date := chapter.DateKey(s.clock())
	if err := s.progress.SetActive(ctx, date, number); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accumulator != nil && s.accumulator.Len() > 0 {
		s.logger.Warn("discarding unflushed chapter answers",
			zap.Int("chapter", s.activeChapter),
			zap.Int("answers", s.accumulator.Len()))
	}
	s.activeChapter = number
	s.accumulator = accumulator
	return nil
}

// RecordAnswer adds one answered word to the open chapter and bumps the
// chapter's practice counter. The record itself is not written until the
// chapter completes.
func (s *Session) RecordAnswer(ctx context.Context, rawWord, dict string, isCorrect bool) error {
	word, err := review.NewWord(rawWord)
	if err != nil {
		return err
	}

	s.mu.Lock()
	accumulator := s.accumulator
	number := s.activeChapter
	s.mu.Unlock()
	if accumulator == nil {
		return ErrNoActiveChapter
	}

	if err := accumulator.Add(chapter.Answer{
		Word:      word,
		Dict:      dict,
		IsCorrect: isCorrect,
		At:        s.clock(),
	}); err != nil {
		return err
	}
	return s.progress.RecordPractice(ctx, chapter.DateKey(s.clock()), number)
}

// CompleteChapter flushes the open chapter's answers to the store as one
// batch and records its completion. The flush happens before control returns,
// so a sync round never observes a half-flushed chapter.
func (s *Session) CompleteChapter(ctx context.Context, completedWords int) (chapter.FlushResult, error) {
	s.mu.Lock()
	accumulator := s.accumulator
	number := s.activeChapter
	s.mu.Unlock()
	if accumulator == nil {
		return chapter.FlushResult{}, ErrNoActiveChapter
	}

	result, err := accumulator.Flush(ctx)
	if err != nil {
		return chapter.FlushResult{}, err
	}
	date := chapter.DateKey(s.clock())
	if err := s.progress.RecordCompletion(ctx, date, number, completedWords); err != nil {
		return chapter.FlushResult{}, err
	}

	s.mu.Lock()
	if s.accumulator == accumulator {
		s.accumulator = nil
		s.activeChapter = 0
	}
	s.mu.Unlock()
	return result, nil
}

// Config returns the current review configuration.
func (s *Session) Config(ctx context.Context) (review.ReviewConfig, error) {
	return s.configs.Get(ctx)
}

// UpdateConfig replaces the tunable configuration values. Existing records
// keep their assigned interval sequences; only newly created records see the
// new seed.
func (s *Session) UpdateConfig(ctx context.Context, next review.ReviewConfig) (review.ReviewConfig, error) {
	return s.configs.Update(ctx, next)
}

// ApplyPreset switches the configuration to a named preset.
func (s *Session) ApplyPreset(ctx context.Context, name string) (review.ReviewConfig, error) {
	return s.configs.ApplyPreset(ctx, name)
}

// ResetConfig restores the default configuration.
func (s *Session) ResetConfig(ctx context.Context) (review.ReviewConfig, error) {
	return s.configs.Reset(ctx)
}

// MarkFamiliar flags a word as known, removing it from future plans.
func (s *Session) MarkFamiliar(ctx context.Context, rawWord, dict string) error {
	word, err := review.NewWord(rawWord)
	if err != nil {
		return err
	}
	return s.familiar.Mark(ctx, word, dict)
}

// UnmarkFamiliar clears the familiar flag.
func (s *Session) UnmarkFamiliar(ctx context.Context, rawWord, dict string) error {
	word, err := review.NewWord(rawWord)
	if err != nil {
		return err
	}
	return s.familiar.Unmark(ctx, word, dict)
}

// DeleteWord removes a word from scheduling; the deletion propagates through
// sync as a tombstone.
func (s *Session) DeleteWord(ctx context.Context, rawWord string) error {
	word, err := review.NewWord(rawWord)
	if err != nil {
		return err
	}
	return s.words.MarkDeleted(ctx, word)
}

// Rollover runs the calendar-day maintenance once per day: zero the per-day
// practice counters and purge stale chapter progress. Keyed on the calendar
// date, not a wall-clock delta, so it is cheap to call on every entry point.
func (s *Session) Rollover(ctx context.Context) error {
	now := s.clock()
	today := chapter.DateKey(now)

	s.mu.Lock()
	alreadyDone := s.rolledOver == today
	s.mu.Unlock()
	if alreadyDone {
		return nil
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if err := s.words.ResetDailyCounts(ctx, dayStart); err != nil {
		return err
	}
	stale, err := s.progress.ShouldCleanup(ctx, today)
	if err != nil {
		return err
	}
	if stale {
		if err := s.progress.CleanupExpired(ctx, today); err != nil {
			return err
		}
		s.logger.Info("chapter progress rolled over", zap.String("date", today))
	}

	s.mu.Lock()
	s.rolledOver = today
	s.mu.Unlock()
	return nil
}

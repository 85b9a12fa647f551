package plan

import (
	"sort"
	"time"

	"github.com/lexitype/lexitype/internal/review"
)

// Difficulty grades the expected load of a daily plan.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyNormal Difficulty = "normal"
	DifficultyHard   Difficulty = "hard"
)

const millisPerDay = int64(24 * time.Hour / time.Millisecond)

// PlannerConfig holds the policy tuning values of plan generation. The grace
// period and priority weights are deliberately configuration, not constants.
type PlannerConfig struct {
	// GracePeriodDays separates urgent from merely due: a word overdue by
	// more than this many days is urgent.
	GracePeriodDays float64
	// OverdueWeight multiplies days overdue in the priority score.
	OverdueWeight float64
	// ProgressWeight multiplies remaining interval steps in the priority
	// score, surfacing low-progress words first among equally overdue ones.
	ProgressWeight float64
	// SecondsPerWord sizes the estimated session time.
	SecondsPerWord int
	// EasyThreshold and HardThreshold grade difficulty from the
	// urgent-to-total ratio.
	EasyThreshold float64
	HardThreshold float64
}

// DefaultPlannerConfig returns the observed production tuning.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		GracePeriodDays: 1,
		OverdueWeight:   100,
		ProgressWeight:  10,
		SecondsPerWord:  10,
		EasyThreshold:   0.2,
		HardThreshold:   0.5,
	}
}

// DailyPlan is the advisory output of one generation pass. It never mutates
// any record and is recomputed idempotently on every call.
type DailyPlan struct {
	GeneratedAt    int64                     `json:"generatedAt"`
	Words          []review.WordReviewRecord `json:"words"`
	UrgentCount    int                       `json:"urgentCount"`
	DueCount       int                       `json:"dueCount"`
	BackfillCount  int                       `json:"backfillCount"`
	EstimatedTime  time.Duration             `json:"estimatedTime"`
	Difficulty     Difficulty                `json:"difficulty"`
	Recommendation string                    `json:"recommendation"`
}

// Generate builds today's plan from the active records. Familiar words are
// excluded entirely. The word order is deterministic for a fixed input so the
// chapter batcher reproduces the same chapters across reloads.
func Generate(records []review.WordReviewRecord, familiar map[string]struct{}, cfg review.ReviewConfig, planner PlannerConfig, now time.Time) DailyPlan {
	nowMillis := now.UnixMilli()
	graceMillis := daysToMillis(planner.GracePeriodDays)

	var urgent, due, upcoming []review.WordReviewRecord
	for _, record := range records {
		if record.IsGraduated {
			continue
		}
		if _, isFamiliar := familiar[record.Word]; isFamiliar {
			continue
		}
		switch {
		case record.NextReviewAt <= nowMillis-graceMillis:
			urgent = append(urgent, record)
		case record.NextReviewAt <= nowMillis:
			due = append(due, record)
		default:
			upcoming = append(upcoming, record)
		}
	}

	selected := append(append([]review.WordReviewRecord(nil), urgent...), due...)
	sortByPriority(selected, planner, nowMillis)
	if len(selected) > cfg.MaxReviewsPerDay {
		selected = selected[:cfg.MaxReviewsPerDay]
	}

	backfill := 0
	if len(selected) < cfg.DailyReviewTarget {
		sort.SliceStable(upcoming, func(i, j int) bool {
			if upcoming[i].NextReviewAt != upcoming[j].NextReviewAt {
				return upcoming[i].NextReviewAt < upcoming[j].NextReviewAt
			}
			return upcoming[i].Word < upcoming[j].Word
		})
		for _, record := range upcoming {
			if len(selected) >= cfg.DailyReviewTarget {
				break
			}
			selected = append(selected, record)
			backfill++
		}
	}

	plan := DailyPlan{
		GeneratedAt:   nowMillis,
		Words:         selected,
		UrgentCount:   len(urgent),
		DueCount:      len(due),
		BackfillCount: backfill,
		EstimatedTime: time.Duration(len(selected)*planner.SecondsPerWord) * time.Second,
	}
	plan.Difficulty, plan.Recommendation = gradeLoad(len(urgent), len(selected), planner)
	return plan
}

// Priority rises with how overdue a word is and with how far it still is from
// graduation. Ties break on the earlier schedule, then on the word itself, so
// the full ordering is total and reproducible.
func sortByPriority(records []review.WordReviewRecord, planner PlannerConfig, nowMillis int64) {
	sort.SliceStable(records, func(i, j int) bool {
		left, right := priority(records[i], planner, nowMillis), priority(records[j], planner, nowMillis)
		if left != right {
			return left > right
		}
		if records[i].NextReviewAt != records[j].NextReviewAt {
			return records[i].NextReviewAt < records[j].NextReviewAt
		}
		return records[i].Word < records[j].Word
	})
}

func priority(record review.WordReviewRecord, planner PlannerConfig, nowMillis int64) float64 {
	remaining := len(record.IntervalSequence) - record.CurrentIntervalIndex
	if remaining < 0 {
		remaining = 0
	}
	return record.DaysOverdue(nowMillis)*planner.OverdueWeight + float64(remaining)*planner.ProgressWeight
}

func gradeLoad(urgentCount, totalCount int, planner PlannerConfig) (Difficulty, string) {
	if totalCount == 0 {
		return DifficultyEasy, "Nothing due today. A good day to learn new words."
	}
	ratio := float64(urgentCount) / float64(totalCount)
	switch {
	case ratio < planner.EasyThreshold:
		return DifficultyEasy, "Light session ahead. Consider adding new words."
	case ratio > planner.HardThreshold:
		return DifficultyHard, "Many overdue words. Focus on catching up before learning new ones."
	default:
		return DifficultyNormal, "A balanced session. Keep the streak going."
	}
}

func daysToMillis(days float64) int64 {
	return int64(days * float64(millisPerDay))
}

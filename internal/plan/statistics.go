package plan

import (
	"time"

	"github.com/lexitype/lexitype/internal/review"
)

// Statistics summarizes the review workload at one point in time. Read-only
// and advisory, like the plan itself.
type Statistics struct {
	TotalTracked    int     `json:"totalTracked"`
	Graduated       int     `json:"graduated"`
	Urgent          int     `json:"urgent"`
	Due             int     `json:"due"`
	NotYetDue       int     `json:"notYetDue"`
	AverageProgress float64 `json:"averageProgress"`
	AverageStrength float64 `json:"averageStrength"`
}

// Summarize aggregates the full record set using the same urgency boundaries
// as plan generation.
func Summarize(records []review.WordReviewRecord, planner PlannerConfig, now time.Time) Statistics {
	nowMillis := now.UnixMilli()
	graceMillis := daysToMillis(planner.GracePeriodDays)

	stats := Statistics{TotalTracked: len(records)}
	if len(records) == 0 {
		return stats
	}

	var progressSum, strengthSum float64
	for _, record := range records {
		progressSum += progressOf(record)
		strengthSum += review.MemoryStrength(record, now)
		if record.IsGraduated {
			stats.Graduated++
			continue
		}
		switch {
		case record.NextReviewAt <= nowMillis-graceMillis:
			stats.Urgent++
		case record.NextReviewAt <= nowMillis:
			stats.Due++
		default:
			stats.NotYetDue++
		}
	}
	stats.AverageProgress = progressSum / float64(len(records))
	stats.AverageStrength = strengthSum / float64(len(records))
	return stats
}

func progressOf(record review.WordReviewRecord) float64 {
	if record.IsGraduated || len(record.IntervalSequence) == 0 {
		return 1
	}
	index := record.CurrentIntervalIndex
	if index > len(record.IntervalSequence) {
		index = len(record.IntervalSequence)
	}
	return float64(index) / float64(len(record.IntervalSequence))
}

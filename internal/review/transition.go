package review

import (
	"math"
	"time"
)

const millisPerDay = int64(24 * time.Hour / time.Millisecond)

// NewRecord seeds a scheduling record for a word first encountered at firstSeen.
// The first review falls one interval step after first sight.
func NewRecord(uuid string, word Word, dict string, intervals []float64, firstSeen time.Time) (WordReviewRecord, error) {
	if len(intervals) == 0 {
		return WordReviewRecord{}, ErrInvalidIntervals
	}
	for _, days := range intervals {
		if days <= 0 {
			return WordReviewRecord{}, ErrInvalidIntervals
		}
	}

	seenMillis := firstSeen.UnixMilli()
	sequence := append([]float64(nil), intervals...)
	return WordReviewRecord{
		UUID:                 uuid,
		Word:                 word.String(),
		SourceDicts:          []string{dict},
		PreferredDict:        dict,
		IntervalSequence:     sequence,
		CurrentIntervalIndex: 0,
		FirstSeenAt:          seenMillis,
		LastPracticedAt:      seenMillis,
		NextReviewAt:         seenMillis + daysToMillis(sequence[0]),
		ReviewHistory:        []HistoryEntry{},
		SyncStatus:           SyncStatusLocalNew,
		LastModified:         seenMillis,
	}, nil
}

// Transition applies one answered review to a record and returns the updated
// copy. It is a pure function: the same record, answer, and timestamp always
// produce the same output, and the input record is not mutated.
//
// A correct answer advances the interval index; exhausting the sequence
// graduates the word permanently. An incorrect answer steps the index back by
// exactly one (never below zero) and reschedules from the answer timestamp, so
// partial progress survives a lapse.
func Transition(record WordReviewRecord, isCorrect bool, at time.Time) WordReviewRecord {
	atMillis := at.UnixMilli()
	updated := record
	updated.IntervalSequence = append([]float64(nil), record.IntervalSequence...)
	updated.SourceDicts = append([]string(nil), record.SourceDicts...)
	updated.ReviewHistory = append(append([]HistoryEntry(nil), record.ReviewHistory...), HistoryEntry{
		Timestamp: atMillis,
		IsCorrect: isCorrect,
	})

	if isCorrect {
		updated.ConsecutiveCorrect++
		updated.CurrentIntervalIndex++
		if updated.CurrentIntervalIndex >= len(updated.IntervalSequence) {
			updated.IsGraduated = true
			updated.NextReviewAt = 0
		} else {
			updated.NextReviewAt = atMillis + daysToMillis(updated.IntervalSequence[updated.CurrentIntervalIndex])
		}
	} else {
		updated.ConsecutiveCorrect = 0
		if updated.CurrentIntervalIndex > 0 {
			updated.CurrentIntervalIndex--
		}
		updated.IsGraduated = false
		updated.NextReviewAt = atMillis + daysToMillis(updated.IntervalSequence[updated.CurrentIntervalIndex])
	}

	updated.TotalReviews++
	updated.TodayPracticeCount++
	updated.LastPracticedAt = atMillis
	markModified(&updated, atMillis)
	return updated
}

// RecordPractice counts a repeat drill inside the same day without advancing
// the schedule.
func RecordPractice(record WordReviewRecord, at time.Time) WordReviewRecord {
	atMillis := at.UnixMilli()
	updated := record
	updated.TodayPracticeCount++
	updated.LastPracticedAt = atMillis
	markModified(&updated, atMillis)
	return updated
}

// ResetDailyCount zeroes the per-day practice counter at calendar rollover.
func ResetDailyCount(record WordReviewRecord, at time.Time) WordReviewRecord {
	updated := record
	updated.TodayPracticeCount = 0
	markModified(&updated, at.UnixMilli())
	return updated
}

// MemoryStrength estimates recall probability as an exponential decay over the
// time since the last practice, normalized by the current interval step. The
// result is clamped to [0, 1] and is used for ranking only, never to gate
// scheduling.
func MemoryStrength(record WordReviewRecord, now time.Time) float64 {
	if record.IsGraduated {
		return 1.0
	}
	if len(record.IntervalSequence) == 0 {
		return 0
	}
	index := record.CurrentIntervalIndex
	if index >= len(record.IntervalSequence) {
		index = len(record.IntervalSequence) - 1
	}
	intervalMillis := float64(daysToMillis(record.IntervalSequence[index]))
	if intervalMillis <= 0 {
		return 0
	}
	elapsed := float64(now.UnixMilli() - record.LastPracticedAt)
	if elapsed <= 0 {
		return 1.0
	}
	strength := math.Exp(-elapsed / intervalMillis)
	if strength < 0 {
		return 0
	}
	if strength > 1 {
		return 1
	}
	return strength
}

func markModified(record *WordReviewRecord, atMillis int64) {
	if record.SyncStatus == SyncStatusSynced {
		record.SyncStatus = SyncStatusLocalModified
	}
	record.LastModified = atMillis
}

func daysToMillis(days float64) int64 {
	return int64(days * float64(millisPerDay))
}

package chapter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lexitype/lexitype/internal/review"
)

var (
	// ErrAlreadyFlushed rejects answers recorded after the chapter committed.
	ErrAlreadyFlushed = errors.New("chapter: accumulator already flushed")

	errMissingRecords    = errors.New("chapter: record source is required")
	errMissingIDProvider = errors.New("chapter: id provider is required")
	errMissingIntervals  = errors.New("chapter: seed intervals are required")
)

// RecordSource is the slice of the word store the accumulator flushes through.
type RecordSource interface {
	Get(ctx context.Context, word review.Word) (review.WordReviewRecord, bool, error)
	SaveBatch(ctx context.Context, records []review.WordReviewRecord, histories []review.ReviewHistoryRecord) error
}

// Answer is one answered word inside a chapter.
type Answer struct {
	Word      review.Word
	Dict      string
	IsCorrect bool
	At        time.Time
}

// AccumulatorConfig assembles an Accumulator for one chapter run.
type AccumulatorConfig struct {
	Records       RecordSource
	IDProvider    review.IDProvider
	SeedIntervals []float64
}

// Accumulator coalesces the per-word answers of one chapter in memory and
// writes them to the store as a single batch when the chapter completes. This
// bounds store transactions to one per chapter instead of one per answer.
// Flush is idempotent: a second call after success is a no-op, and a failed
// flush leaves the accumulator open for a safe retry.
type Accumulator struct {
	records       RecordSource
	idProvider    review.IDProvider
	seedIntervals []float64

	mu      sync.Mutex
	answers []Answer
	flushed bool
}

// NewAccumulator validates the configuration and constructs an Accumulator.
func NewAccumulator(cfg AccumulatorConfig) (*Accumulator, error) {
	if cfg.Records == nil {
		return nil, errMissingRecords
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	if len(cfg.SeedIntervals) == 0 {
		return nil, errMissingIntervals
	}
	return &Accumulator{
		records:       cfg.Records,
		idProvider:    cfg.IDProvider,
		seedIntervals: append([]float64(nil), cfg.SeedIntervals...),
	}, nil
}

// Add records one answered word. Answers keep submission order.
func (a *Accumulator) Add(answer Answer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.flushed {
		return ErrAlreadyFlushed
	}
	a.answers = append(a.answers, answer)
	return nil
}

// Len returns the number of answers pending flush.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.answers)
}

// FlushResult reports what one flush committed.
type FlushResult struct {
	Records   int
	Histories int
}

// Flush replays the accumulated answers against the current store state and
// commits the resulting records and audit rows in one transaction. Answers for
// the same word apply in submission order on top of each other.
func (a *Accumulator) Flush(ctx context.Context) (FlushResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.flushed {
		return FlushResult{}, nil
	}
	if len(a.answers) == 0 {
		a.flushed = true
		return FlushResult{}, nil
	}

	updated := make(map[string]review.WordReviewRecord, len(a.answers))
	order := make([]string, 0, len(a.answers))
	histories := make([]review.ReviewHistoryRecord, 0, len(a.answers))

	for _, answer := range a.answers {
		key := answer.Word.String()
		record, seen := updated[key]
		if !seen {
			stored, found, err := a.records.Get(ctx, answer.Word)
			if err != nil {
				return FlushResult{}, err
			}
			if found {
				record = stored
			} else {
				recordID, err := a.idProvider.NewID()
				if err != nil {
					return FlushResult{}, err
				}
				record, err = review.NewRecord(recordID, answer.Word, answer.Dict, a.seedIntervals, answer.At)
				if err != nil {
					return FlushResult{}, err
				}
			}
			order = append(order, key)
		}

		indexBefore := record.CurrentIntervalIndex
		record = review.Transition(record, answer.IsCorrect, answer.At)
		updated[key] = record

		historyID, err := a.idProvider.NewID()
		if err != nil {
			return FlushResult{}, err
		}
		histories = append(histories, review.ReviewHistoryRecord{
			UUID:                historyID,
			Word:                record.Word,
			Dict:                record.PreferredDict,
			ReviewedAt:          answer.At.UnixMilli(),
			IsCorrect:           answer.IsCorrect,
			IntervalIndexBefore: indexBefore,
			IntervalIndexAfter:  record.CurrentIntervalIndex,
			SyncStatus:          review.SyncStatusLocalNew,
			LastModified:        answer.At.UnixMilli(),
		})
	}

	records := make([]review.WordReviewRecord, 0, len(order))
	for _, key := range order {
		records = append(records, updated[key])
	}

	if err := a.records.SaveBatch(ctx, records, histories); err != nil {
		return FlushResult{}, err
	}
	a.flushed = true
	return FlushResult{Records: len(records), Histories: len(histories)}, nil
}

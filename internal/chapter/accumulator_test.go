package chapter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lexitype/lexitype/internal/review"
)

type fakeRecordSource struct {
	stored     map[string]review.WordReviewRecord
	saveErr    error
	saveCalls  int
	lastBatch  []review.WordReviewRecord
	lastAudits []review.ReviewHistoryRecord
}

func newFakeRecordSource() *fakeRecordSource {
	return &fakeRecordSource{stored: make(map[string]review.WordReviewRecord)}
}

func (f *fakeRecordSource) Get(_ context.Context, word review.Word) (review.WordReviewRecord, bool, error) {
	record, found := f.stored[word.String()]
	return record, found, nil
}

func (f *fakeRecordSource) SaveBatch(_ context.Context, records []review.WordReviewRecord, histories []review.ReviewHistoryRecord) error {
	f.saveCalls++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.lastBatch = records
	f.lastAudits = histories
	for _, record := range records {
		f.stored[record.Word] = record
	}
	return nil
}

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("id-%d", p.next), nil
}

func mustAccumulator(t *testing.T, source RecordSource) *Accumulator {
	t.Helper()
	accumulator, err := NewAccumulator(AccumulatorConfig{
		Records:       source,
		IDProvider:    &sequenceIDProvider{},
		SeedIntervals: []float64{1, 3, 7},
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	return accumulator
}

func mustWord(t *testing.T, raw string) review.Word {
	t.Helper()
	word, err := review.NewWord(raw)
	if err != nil {
		t.Fatalf("unexpected word error: %v", err)
	}
	return word
}

func TestNewAccumulatorValidatesConfig(t *testing.T) {
	source := newFakeRecordSource()
	provider := &sequenceIDProvider{}
	tests := []struct {
		name string
		cfg  AccumulatorConfig
	}{
		{name: "missing records", cfg: AccumulatorConfig{IDProvider: provider, SeedIntervals: []float64{1}}},
		{name: "missing id provider", cfg: AccumulatorConfig{Records: source, SeedIntervals: []float64{1}}},
		{name: "missing intervals", cfg: AccumulatorConfig{Records: source, IDProvider: provider}},
	}
	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := NewAccumulator(testCase.cfg); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestFlushAppliesAnswersInOrder(t *testing.T) {
	source := newFakeRecordSource()
	accumulator := mustAccumulator(t, source)
	word := mustWord(t, "ephemeral")
	base := time.Unix(1_700_000_000, 0).UTC()

	answers := []Answer{
		{Word: word, Dict: "cet6", IsCorrect: true, At: base},
		{Word: word, Dict: "cet6", IsCorrect: true, At: base.Add(time.Minute)},
		{Word: word, Dict: "cet6", IsCorrect: false, At: base.Add(2 * time.Minute)},
	}
	for _, answer := range answers {
		if err := accumulator.Add(answer); err != nil {
			t.Fatalf("unexpected add error: %v", err)
		}
	}
	if accumulator.Len() != 3 {
		t.Fatalf("expected 3 pending answers, got %d", accumulator.Len())
	}

	result, err := accumulator.Flush(context.Background())
	if err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}
	if result.Records != 1 || result.Histories != 3 {
		t.Fatalf("expected 1 record and 3 audit rows, got %+v", result)
	}

	record := source.stored[word.String()]
	// Two correct steps then one lapse: 0 -> 1 -> 2 -> 1.
	if record.CurrentIntervalIndex != 1 {
		t.Fatalf("expected interval index 1 after replay, got %d", record.CurrentIntervalIndex)
	}
	if record.TotalReviews != 3 {
		t.Fatalf("expected 3 total reviews, got %d", record.TotalReviews)
	}
	if record.ConsecutiveCorrect != 0 {
		t.Fatalf("a lapse must reset the streak, got %d", record.ConsecutiveCorrect)
	}
	if source.lastAudits[2].IntervalIndexBefore != 2 || source.lastAudits[2].IntervalIndexAfter != 1 {
		t.Fatalf("audit rows must track the index transition, got %+v", source.lastAudits[2])
	}
}

func TestFlushIsIdempotent(t *testing.T) {
	source := newFakeRecordSource()
	accumulator := mustAccumulator(t, source)
	word := mustWord(t, "idempotent")
	at := time.Unix(1_700_000_000, 0).UTC()

	if err := accumulator.Add(Answer{Word: word, Dict: "cet6", IsCorrect: true, At: at}); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if _, err := accumulator.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}

	second, err := accumulator.Flush(context.Background())
	if err != nil {
		t.Fatalf("unexpected second flush error: %v", err)
	}
	if second.Records != 0 || second.Histories != 0 {
		t.Fatalf("second flush must be a no-op, got %+v", second)
	}
	if source.saveCalls != 1 {
		t.Fatalf("expected exactly one batch write, got %d", source.saveCalls)
	}
	if err := accumulator.Add(Answer{Word: word, Dict: "cet6", IsCorrect: true, At: at}); !errors.Is(err, ErrAlreadyFlushed) {
		t.Fatalf("expected ErrAlreadyFlushed, got %v", err)
	}
}

func TestFailedFlushStaysOpenForRetry(t *testing.T) {
	source := newFakeRecordSource()
	source.saveErr = errors.New("disk full")
	accumulator := mustAccumulator(t, source)
	word := mustWord(t, "retryable")
	at := time.Unix(1_700_000_000, 0).UTC()

	if err := accumulator.Add(Answer{Word: word, Dict: "cet6", IsCorrect: true, At: at}); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if _, err := accumulator.Flush(context.Background()); err == nil {
		t.Fatalf("expected flush to surface the store error")
	}

	source.saveErr = nil
	result, err := accumulator.Flush(context.Background())
	if err != nil {
		t.Fatalf("retry must succeed once the store recovers: %v", err)
	}
	if result.Records != 1 || result.Histories != 1 {
		t.Fatalf("expected the retry to commit the batch, got %+v", result)
	}
	if source.saveCalls != 2 {
		t.Fatalf("expected two save attempts, got %d", source.saveCalls)
	}
}

func TestFlushBuildsOnStoredRecord(t *testing.T) {
	source := newFakeRecordSource()
	word := mustWord(t, "resumed")
	base := time.Unix(1_700_000_000, 0).UTC()
	existing, err := review.NewRecord("id-existing", word, "cet6", []float64{1, 3, 7}, base.Add(-72*time.Hour))
	if err != nil {
		t.Fatalf("unexpected record error: %v", err)
	}
	existing = review.Transition(existing, true, base.Add(-48*time.Hour))
	source.stored[word.String()] = existing

	accumulator := mustAccumulator(t, source)
	if err := accumulator.Add(Answer{Word: word, Dict: "cet6", IsCorrect: true, At: base}); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
	if _, err := accumulator.Flush(context.Background()); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}

	record := source.stored[word.String()]
	if record.UUID != "id-existing" {
		t.Fatalf("flush must extend the stored record, got uuid %q", record.UUID)
	}
	if record.CurrentIntervalIndex != 2 {
		t.Fatalf("expected interval index 2, got %d", record.CurrentIntervalIndex)
	}

	flushEmpty := mustAccumulator(t, source)
	result, err := flushEmpty.Flush(context.Background())
	if err != nil || result.Records != 0 {
		t.Fatalf("flushing an empty accumulator must be a no-op, got %+v err %v", result, err)
	}
}

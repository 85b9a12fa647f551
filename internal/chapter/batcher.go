package chapter

import (
	"github.com/lexitype/lexitype/internal/review"
)

// DefaultChapterSize is the fixed number of words per practice chapter.
const DefaultChapterSize = 20

// Chapter is one fixed-size practice batch, derived from the daily plan and
// never persisted across days. Counters come from the progress store.
type Chapter struct {
	Number         int                       `json:"number"`
	Words          []review.WordReviewRecord `json:"words"`
	PracticeCount  int                       `json:"practiceCount"`
	CompletedWords int                       `json:"completedWords"`
	IsCompleted    bool                      `json:"isCompleted"`
}

// Split slices the plan's ordered word list into chapters of at most size
// words. The slicing is a cover: concatenating the chapters reproduces the
// input exactly, with no re-sorting inside a chapter. Chapter numbers start
// at 1.
func Split(words []review.WordReviewRecord, size int) []Chapter {
	if size <= 0 {
		size = DefaultChapterSize
	}
	if len(words) == 0 {
		return nil
	}
	chapters := make([]Chapter, 0, (len(words)+size-1)/size)
	for start := 0; start < len(words); start += size {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chapters = append(chapters, Chapter{
			Number: len(chapters) + 1,
			Words:  words[start:end],
		})
	}
	return chapters
}

// Completion returns the fraction of chapter words completed, in [0, 1].
func (c Chapter) Completion() float64 {
	if len(c.Words) == 0 {
		return 0
	}
	completed := c.CompletedWords
	if completed > len(c.Words) {
		completed = len(c.Words)
	}
	return float64(completed) / float64(len(c.Words))
}

package retrieval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
)

// BatchProcessor answers many questions concurrently, e.g. to replay a
// transcript and measure how much of it the knowledge base would cover.
type BatchProcessor struct {
	engine     *Engine
	maxWorkers int
	timeout    time.Duration
}

// BatchResult is the outcome for one question. Match is nil on a miss.
type BatchResult struct {
	Question string `json:"question"`
	Match    *Match `json:"match,omitempty"`
	Err      error  `json:"-"`
}

// BatchSummary counts outcomes across a batch.
type BatchSummary struct {
	Total         int `json:"total"`
	FAQHits       int `json:"faq_hits"`
	KnowledgeHits int `json:"knowledge_hits"`
	Misses        int `json:"misses"`
	Errors        int `json:"errors"`
}

// HitRate is the share of questions answered locally, as a percentage.
func (s BatchSummary) HitRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.FAQHits+s.KnowledgeHits) / float64(s.Total) * 100
}

// NewBatchProcessor creates a new batch processor.
func NewBatchProcessor(engine *Engine, maxWorkers int, timeout time.Duration) *BatchProcessor {
	if maxWorkers <= 0 {
		maxWorkers = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BatchProcessor{
		engine:     engine,
		maxWorkers: maxWorkers,
		timeout:    timeout,
	}
}

// AnswerAll runs FindAnswer for every question with at most maxWorkers in
// flight. Results are in input order. On timeout the partial results are
// returned together with an error.
func (bp *BatchProcessor) AnswerAll(ctx context.Context, questions []string, progress func()) ([]BatchResult, error) {
	if len(questions) == 0 {
		return []BatchResult{}, nil
	}

	processCtx, cancel := context.WithTimeout(ctx, bp.timeout)
	defer cancel()

	type workItem struct {
		index    int
		question string
	}

	workChan := make(chan workItem, len(questions))
	results := make([]BatchResult, len(questions))
	processed := make([]bool, len(questions))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i, q := range questions {
		workChan <- workItem{index: i, question: q}
	}
	close(workChan)

	for i := 0; i < bp.maxWorkers && i < len(questions); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range workChan {
				if processCtx.Err() != nil {
					return
				}
				match, err := bp.engine.FindAnswer(processCtx, item.question)

				mu.Lock()
				results[item.index] = BatchResult{Question: item.question, Match: match, Err: err}
				processed[item.index] = true
				if progress != nil {
					progress()
				}
				mu.Unlock()
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-processCtx.Done():
		<-done
		for i := range results {
			if !processed[i] {
				results[i] = BatchResult{Question: questions[i], Err: processCtx.Err()}
			}
		}
		return results, fmt.Errorf("batch processing timeout after %v", bp.timeout)
	}

	return results, nil
}

// Summarize counts the outcomes of a batch.
func Summarize(results []BatchResult) BatchSummary {
	summary := BatchSummary{Total: len(results)}
	for _, r := range results {
		switch {
		case r.Err != nil:
			summary.Errors++
		case r.Match == nil:
			summary.Misses++
		case r.Match.Source == storage.ReplySourceFAQ:
			summary.FAQHits++
		default:
			summary.KnowledgeHits++
		}
	}
	return summary
}

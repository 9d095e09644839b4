package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage/storagetest"
)

func TestNewBatchProcessor(t *testing.T) {
	bp := NewBatchProcessor(nil, 0, 0)
	assert.Equal(t, 5, bp.maxWorkers)
	assert.Equal(t, 30*time.Second, bp.timeout)

	bp = NewBatchProcessor(nil, 10, time.Minute)
	assert.Equal(t, 10, bp.maxWorkers)
	assert.Equal(t, time.Minute, bp.timeout)
}

func TestBatchProcessor_AnswerAll(t *testing.T) {
	repos := storagetest.NewRepositories(t)
	seedFAQ(t, repos, "When will I get paid?", "Every Friday.", []string{"pay", "paid"}, 10)
	seedKnowledge(t, repos, "do i need to bring my own uniform", "Yes.", 1.0)

	engine := NewEngine(repos.FAQ, repos.Knowledge, testLearningConfig(), observability.NopLogger(), WithoutUsageTracking())
	bp := NewBatchProcessor(engine, 2, 10*time.Second)

	questions := []string{
		"when do i get paid",
		"do I need to bring my own uniform?",
		"can my friend come along",
		"",
	}
	var ticks int
	results, err := bp.AnswerAll(context.Background(), questions, func() { ticks++ })
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, 4, ticks)

	for i, r := range results {
		assert.Equal(t, questions[i], r.Question)
		assert.NoError(t, r.Err)
	}
	require.NotNil(t, results[0].Match)
	assert.Equal(t, storage.ReplySourceFAQ, results[0].Match.Source)
	require.NotNil(t, results[1].Match)
	assert.Equal(t, storage.ReplySourceKnowledgeBase, results[1].Match.Source)
	assert.Nil(t, results[2].Match)
	assert.Nil(t, results[3].Match)

	summary := Summarize(results)
	assert.Equal(t, BatchSummary{Total: 4, FAQHits: 1, KnowledgeHits: 1, Misses: 2}, summary)
	assert.InDelta(t, 50.0, summary.HitRate(), 1e-9)
}

func TestBatchProcessor_Empty(t *testing.T) {
	bp := NewBatchProcessor(nil, 1, time.Second)
	results, err := bp.AnswerAll(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Zero(t, Summarize(results).HitRate())
}

package learning

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/config"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage/storagetest"
)

func ptr[T any](v T) *T { return &v }

func newTestLearner(t *testing.T) (*Learner, *storagetest.Repositories) {
	t.Helper()
	repos := storagetest.NewRepositories(t)
	learner := NewLearner(repos.Knowledge, config.DefaultConfig().Learning, nil, observability.NopLogger())
	return learner, repos
}

func TestLearn_CreatesEntry(t *testing.T) {
	ctx := context.Background()
	learner, repos := newTestLearner(t)

	id, err := learner.Learn(ctx, "Where do I park?", "Staff parking is at gate B.", Metadata{
		Intent: ptr("logistics"),
	})
	require.NoError(t, err)

	entry, err := repos.Knowledge.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Where do I park?", entry.Question)
	assert.Equal(t, "where do i park", entry.QuestionNormalized)
	assert.Equal(t, []string{"park"}, entry.QuestionTokens)
	assert.Equal(t, 0.5, entry.Confidence)
	assert.Equal(t, storage.EntrySourceLLM, entry.Source)
	require.NotNil(t, entry.Intent)
	assert.Equal(t, "logistics", *entry.Intent)
	assert.Nil(t, entry.Category)
}

func TestLearn_MergesSameNormalizedQuestion(t *testing.T) {
	ctx := context.Background()
	learner, repos := newTestLearner(t)

	first, err := learner.Learn(ctx, "Where do I park?", "Gate A.", Metadata{Confidence: ptr(0.6)})
	require.NoError(t, err)
	second, err := learner.Learn(ctx, "where do i PARK", "Gate B.", Metadata{
		Confidence: ptr(0.9),
		Intent:     ptr("logistics"),
		Category:   ptr("site"),
	})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	count, err := repos.Knowledge.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	entry, err := repos.Knowledge.GetByID(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "Gate B.", entry.Answer)
	assert.InDelta(t, 0.75, entry.Confidence, 1e-9)
	require.NotNil(t, entry.Intent)
	assert.Equal(t, "logistics", *entry.Intent)

	_, err = learner.Learn(ctx, "Where do I park?", "Gate C.", Metadata{
		Confidence: ptr(0.75),
		Intent:     ptr("parking"),
	})
	require.NoError(t, err)
	entry, err = repos.Knowledge.GetByID(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "logistics", *entry.Intent, "intent is only filled when unset")
	assert.Equal(t, "site", *entry.Category)
	assert.InDelta(t, 0.75, entry.Confidence, 1e-9)
}

func TestLearn_ClampsConfidence(t *testing.T) {
	ctx := context.Background()
	learner, repos := newTestLearner(t)

	id, err := learner.Learn(ctx, "Is there a bonus for weekend shifts?", "Yes, 10%.", Metadata{Confidence: ptr(7.0)})
	require.NoError(t, err)
	entry, err := repos.Knowledge.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1.0, entry.Confidence)
}

func TestLearn_RejectsEmptyInput(t *testing.T) {
	learner, _ := newTestLearner(t)

	_, err := learner.Learn(context.Background(), " ?! ", "answer", Metadata{})
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	_, err = learner.Learn(context.Background(), "Where do I park?", "   ", Metadata{})
	assert.ErrorIs(t, err, ErrEmptyAnswer)
}

// staleReadStore misses the first lookup, as if a concurrent writer inserted
// the row between the read and the insert.
type staleReadStore struct {
	*storage.KnowledgeRepository
	once sync.Once
}

func (s *staleReadStore) GetByNormalized(ctx context.Context, normalized string) (*storage.KnowledgeEntry, error) {
	stale := false
	s.once.Do(func() { stale = true })
	if stale {
		return nil, storage.ErrNotFound
	}
	return s.KnowledgeRepository.GetByNormalized(ctx, normalized)
}

func TestLearn_UniqueRaceBecomesMerge(t *testing.T) {
	ctx := context.Background()
	repos := storagetest.NewRepositories(t)

	existing := &storage.KnowledgeEntry{
		Question:           "Where do I park?",
		QuestionNormalized: "where do i park",
		QuestionTokens:     []string{"park"},
		Answer:             "Gate A.",
		Confidence:         0.4,
		Source:             storage.EntrySourceAdmin,
	}
	require.NoError(t, repos.Knowledge.Create(ctx, existing))

	learner := NewLearner(&staleReadStore{KnowledgeRepository: repos.Knowledge}, config.DefaultConfig().Learning, nil, observability.NopLogger())
	id, err := learner.Learn(ctx, "Where do I park?", "Gate B.", Metadata{Confidence: ptr(0.8)})
	require.NoError(t, err)
	assert.Equal(t, existing.ID, id)

	entry, err := repos.Knowledge.GetByID(ctx, id)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, entry.Confidence, 1e-9)
	assert.Equal(t, "Gate B.", entry.Answer)
	assert.Equal(t, storage.EntrySourceAdmin, entry.Source)
}

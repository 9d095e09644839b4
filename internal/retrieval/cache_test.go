package retrieval

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/cache"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage/storagetest"
)

type countingSource struct {
	inner FAQSource
	calls atomic.Int32
}

func (s *countingSource) ListActive(ctx context.Context) ([]*storage.FaqEntry, error) {
	s.calls.Add(1)
	return s.inner.ListActive(ctx)
}

func newMemoryCache(t *testing.T) *cache.MemoryClient {
	t.Helper()
	client := cache.NewMemoryClient(100)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestFAQCache_SnapshotAndInvalidate(t *testing.T) {
	ctx := context.Background()
	repos := storagetest.NewRepositories(t)
	seedFAQ(t, repos, "When will I get paid?", "Every Friday.", []string{"pay"}, 10)

	source := &countingSource{inner: repos.FAQ}
	snapshot := NewFAQCache(source, newMemoryCache(t), observability.NopLogger(), FAQCacheConfig{TTL: time.Minute, Enabled: true})

	first, err := snapshot.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := snapshot.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, []string{"pay"}, second[0].Keywords)
	assert.Equal(t, int32(1), source.calls.Load())

	seedFAQ(t, repos, "What should I wear?", "Black and white.", []string{"uniform"}, 5)
	stale, err := snapshot.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	require.NoError(t, snapshot.Invalidate(ctx))
	fresh, err := snapshot.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
	assert.Equal(t, int32(2), source.calls.Load())
}

func TestFAQCache_DisabledPassesThrough(t *testing.T) {
	ctx := context.Background()
	repos := storagetest.NewRepositories(t)
	source := &countingSource{inner: repos.FAQ}
	snapshot := NewFAQCache(source, nil, observability.NopLogger(), DefaultFAQCacheConfig())

	for i := 0; i < 3; i++ {
		_, err := snapshot.ListActive(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), source.calls.Load())
	assert.NoError(t, snapshot.Invalidate(ctx))
}

func TestEngine_UsesFAQCache(t *testing.T) {
	ctx := context.Background()
	repos := storagetest.NewRepositories(t)
	seedFAQ(t, repos, "When will I get paid?", "Every Friday.", []string{"paid"}, 10)

	source := &countingSource{inner: repos.FAQ}
	snapshot := NewFAQCache(source, newMemoryCache(t), observability.NopLogger(), DefaultFAQCacheConfig())
	engine := NewEngine(repos.FAQ, repos.Knowledge, testLearningConfig(), observability.NopLogger(), WithFAQCache(snapshot))

	for i := 0; i < 3; i++ {
		match, err := engine.FindAnswer(ctx, "when do i get paid")
		require.NoError(t, err)
		require.NotNil(t, match)
	}
	assert.Equal(t, int32(1), source.calls.Load())
}

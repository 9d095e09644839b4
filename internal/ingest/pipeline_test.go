package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage/storagetest"
)

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.calls++
	return nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *storagetest.Repositories, *countingInvalidator) {
	t.Helper()
	repos := storagetest.NewRepositories(t)
	inv := &countingInvalidator{}
	return NewPipeline(observability.NopLogger(), repos.FAQ, nil, inv), repos, inv
}

func TestPipeline_ImportCreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	p, repos, inv := newTestPipeline(t)

	path := filepath.Join(t.TempDir(), "faq.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlSeedDoc), 0o600))

	var ticks int
	result, err := p.Import(ctx, ImportRequest{Path: path, Operator: "ops"}, func(done, total int) {
		ticks++
		assert.Equal(t, 2, total)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Parsed)
	assert.Equal(t, 2, result.Created)
	assert.Equal(t, 1, result.Rejected)
	assert.Equal(t, 2, ticks)
	assert.Equal(t, 1, inv.calls)

	active, err := repos.FAQ.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "When will I get paid?", active[0].Question)

	result, err = p.Import(ctx, ImportRequest{Path: path}, nil)
	require.NoError(t, err)
	assert.Zero(t, result.Created)
	assert.Equal(t, 2, result.Updated)

	all, err := repos.FAQ.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPipeline_PruneDeactivatesMissing(t *testing.T) {
	ctx := context.Background()
	p, repos, _ := newTestPipeline(t)
	stale := &storage.FaqEntry{Category: "general", Question: "Old question?", Answer: "Old.", Active: true}
	require.NoError(t, repos.FAQ.Create(ctx, stale))

	seed := "question,answer,keywords\nWhere do I park?,Gate B.,parking\n"
	result, err := p.Import(ctx, ImportRequest{Reader: strings.NewReader(seed), Format: FormatCSV, Prune: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, result.Deactivated)

	got, err := repos.FAQ.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestPipeline_DryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	p, repos, inv := newTestPipeline(t)

	result, err := p.Import(ctx, ImportRequest{Reader: strings.NewReader(yamlSeedDoc), Format: FormatYAML, DryRun: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Parsed)
	assert.Zero(t, result.Created)
	assert.Zero(t, inv.calls)

	all, err := repos.FAQ.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPipeline_UpsertSingle(t *testing.T) {
	ctx := context.Background()
	p, repos, inv := newTestPipeline(t)

	faq := &storage.FaqEntry{Question: " Where do I park? ", Answer: "Gate B.", Keywords: []string{"Parking", "parking"}, Active: true}
	created, err := p.Upsert(ctx, faq, "admin")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, DefaultCategory, faq.Category)
	assert.Equal(t, 1, inv.calls)

	stored, err := repos.FAQ.GetByID(ctx, faq.ID)
	require.NoError(t, err)
	assert.Equal(t, "Where do I park?", stored.Question)
	assert.Equal(t, []string{"parking"}, stored.Keywords)

	again := &storage.FaqEntry{Question: "Where do I park?", Answer: "Gate C.", Active: true}
	created, err = p.Upsert(ctx, again, "admin")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, faq.ID, again.ID)

	_, err = p.Upsert(ctx, &storage.FaqEntry{Question: "No answer?"}, "admin")
	assert.ErrorIs(t, err, ErrInvalidFAQ)
}

func TestPipeline_UnknownFormat(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	_, err := p.Import(context.Background(), ImportRequest{Path: "faq.json"}, nil)
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

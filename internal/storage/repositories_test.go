package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage/storagetest"
)

func strPtr(s string) *string { return &s }

func newEntry(normalized string, confidence float64) *storage.KnowledgeEntry {
	return &storage.KnowledgeEntry{
		Question:           normalized,
		QuestionNormalized: normalized,
		QuestionTokens:     []string{"job"},
		Answer:             "answer",
		Confidence:         confidence,
		Source:             storage.EntrySourceLLM,
	}
}

func TestMigrate_IsIdempotent(t *testing.T) {
	repos := storagetest.NewRepositories(t)

	ran, err := storage.Migrate(context.Background(), repos.DB, storage.DriverSQLite)
	require.NoError(t, err)
	assert.Empty(t, ran)
}

func TestKnowledgeRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repos := storagetest.NewRepositories(t)

	e := newEntry("where is the job", 0.8)
	e.Category = strPtr("logistics")
	require.NoError(t, repos.Knowledge.Create(ctx, e))
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.Equal(t, int64(1), e.Version)

	got, err := repos.Knowledge.GetByNormalized(ctx, "where is the job")
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, []string{"job"}, got.QuestionTokens)
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)
	require.NotNil(t, got.Category)
	assert.Equal(t, "logistics", *got.Category)
	assert.Nil(t, got.Intent)
	assert.Nil(t, got.LastUsedAt)

	_, err = repos.Knowledge.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestKnowledgeRepository_DuplicateNormalizedIsUniqueViolation(t *testing.T) {
	ctx := context.Background()
	repos := storagetest.NewRepositories(t)

	require.NoError(t, repos.Knowledge.Create(ctx, newEntry("how do i cancel", 0.5)))
	err := repos.Knowledge.Create(ctx, newEntry("how do i cancel", 0.6))
	require.Error(t, err)
	assert.True(t, storage.IsUniqueViolation(err))
	assert.False(t, storage.IsUniqueViolation(errors.New("other")))
}

func TestKnowledgeRepository_CreateClampsConfidence(t *testing.T) {
	ctx := context.Background()
	repos := storagetest.NewRepositories(t)

	e := newEntry("too confident", 1.7)
	require.NoError(t, repos.Knowledge.Create(ctx, e))
	got, err := repos.Knowledge.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Confidence)
}

func TestKnowledgeRepository_UpdateDetectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	repos := storagetest.NewRepositories(t)

	e := newEntry("stale", 0.5)
	require.NoError(t, repos.Knowledge.Create(ctx, e))

	first, err := repos.Knowledge.GetByID(ctx, e.ID)
	require.NoError(t, err)
	second, err := repos.Knowledge.GetByID(ctx, e.ID)
	require.NoError(t, err)

	first.Confidence = 0.9
	require.NoError(t, repos.Knowledge.Update(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Confidence = 0.1
	assert.ErrorIs(t, repos.Knowledge.Update(ctx, second), storage.ErrVersionConflict)

	missing := newEntry("missing", 0.5)
	missing.ID = uuid.New()
	assert.ErrorIs(t, repos.Knowledge.Update(ctx, missing), storage.ErrNotFound)
}

func TestKnowledgeRepository_MutateRetriesAfterConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	repos := storagetest.NewRepositories(t)

	e := newEntry("race", 0.5)
	require.NoError(t, repos.Knowledge.Create(ctx, e))

	calls := 0
	updated, err := repos.Knowledge.Mutate(ctx, e.ID, func(cur *storage.KnowledgeEntry) error {
		calls++
		if calls == 1 {
			require.NoError(t, repos.Knowledge.RecordUse(ctx, e.ID, time.Now()))
		}
		cur.Confidence += 0.1
		cur.SuccessCount++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.InDelta(t, 0.6, updated.Confidence, 1e-9)

	got, err := repos.Knowledge.GetByID(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UseCount)
	assert.Equal(t, 1, got.SuccessCount)
	assert.NotNil(t, got.LastUsedAt)
}

func TestKnowledgeRepository_ListCandidates(t *testing.T) {
	ctx := context.Background()
	repos := storagetest.NewRepositories(t)

	for i, c := range []float64{0.2, 0.9, 0.5, 0.375} {
		require.NoError(t, repos.Knowledge.Create(ctx, newEntry(string(rune('a'+i))+" question", c)))
	}

	got, err := repos.Knowledge.ListCandidates(ctx, 0.375)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.InDelta(t, 0.9, got[0].Confidence, 1e-9)
	assert.InDelta(t, 0.5, got[1].Confidence, 1e-9)
	assert.InDelta(t, 0.375, got[2].Confidence, 1e-9)

	n, err := repos.Knowledge.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestFAQRepository_ListActiveOrdersByPriority(t *testing.T) {
	ctx := context.Background()
	repos := storagetest.NewRepositories(t)

	faqs := []*storage.FaqEntry{
		{Category: "pay", Question: "low", Answer: "a", Priority: 1, Active: true},
		{Category: "pay", Question: "high", Answer: "b", Priority: 10, Active: true, Keywords: []string{"pay"}},
		{Category: "pay", Question: "hidden", Answer: "c", Priority: 50, Active: false},
	}
	for _, f := range faqs {
		require.NoError(t, repos.FAQ.Create(ctx, f))
	}

	active, err := repos.FAQ.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "high", active[0].Question)
	assert.Equal(t, []string{"pay"}, active[0].Keywords)
	assert.Equal(t, "low", active[1].Question)
	assert.Equal(t, []string{}, active[1].Keywords)

	require.NoError(t, repos.FAQ.IncrementUse(ctx, faqs[1].ID))
	got, err := repos.FAQ.GetByID(ctx, faqs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UseCount)

	assert.ErrorIs(t, repos.FAQ.Create(ctx, &storage.FaqEntry{Category: "pay", Question: "low", Answer: "dup"}), storage.ErrConflict)
}

func TestFAQRepository_MalformedKeywordsAreTolerated(t *testing.T) {
	ctx := context.Background()
	repos := storagetest.NewRepositories(t)

	f := &storage.FaqEntry{Category: "x", Question: "q", Answer: "a", Active: true}
	require.NoError(t, repos.FAQ.Create(ctx, f))
	_, err := repos.DB.ExecContext(ctx, `UPDATE faq_entries SET keywords = $1 WHERE id = $2`, "{not json", f.ID)
	require.NoError(t, err)

	got, err := repos.FAQ.GetByID(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, got.KeywordsMalformed)
	assert.Empty(t, got.Keywords)
}

func TestFAQRepository_Upsert(t *testing.T) {
	ctx := context.Background()
	repos := storagetest.NewRepositories(t)

	created, err := repos.FAQ.Upsert(ctx, &storage.FaqEntry{Category: "c", Question: "q", Answer: "v1", Active: true})
	require.NoError(t, err)
	assert.True(t, created)

	f := &storage.FaqEntry{Category: "c", Question: "q", Answer: "v2", Active: true, Priority: 3}
	created, err = repos.FAQ.Upsert(ctx, f)
	require.NoError(t, err)
	assert.False(t, created)

	all, err := repos.FAQ.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "v2", all[0].Answer)
	assert.Equal(t, 3, all[0].Priority)
}

func TestResponseLogRepository_FeedbackAndFilter(t *testing.T) {
	ctx := context.Background()
	repos := storagetest.NewRepositories(t)

	kbID := uuid.New()
	l := &storage.ResponseLog{
		CandidateID:     "cand-1",
		IncomingMessage: "when do i get paid",
		AIResponse:      "Every Friday",
		Mode:            storage.ReplyModeSuggest,
		Source:          storage.ReplySourceKnowledgeBase,
		KBEntryID:       &kbID,
		Confidence:      0.8,
		Status:          storage.LogStatusGenerated,
	}
	require.NoError(t, repos.Logs.Create(ctx, l))
	require.NoError(t, repos.Logs.Create(ctx, &storage.ResponseLog{
		CandidateID: "cand-2", IncomingMessage: "x", AIResponse: "y",
		Mode: storage.ReplyModeAuto, Source: storage.ReplySourceLLM, Status: storage.LogStatusSent,
	}))

	final := "Every Friday by 5pm"
	require.NoError(t, repos.Logs.ApplyFeedback(ctx, l.ID, storage.LogStatusEdited, storage.FeedbackEdited, &final, time.Now()))
	assert.ErrorIs(t,
		repos.Logs.ApplyFeedback(ctx, l.ID, storage.LogStatusSent, storage.FeedbackApproved, nil, time.Now()),
		storage.ErrConflict)

	got, err := repos.Logs.GetByID(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.LogStatusEdited, got.Status)
	require.NotNil(t, got.AdminAction)
	assert.Equal(t, storage.FeedbackEdited, *got.AdminAction)
	require.NotNil(t, got.FinalResponse)
	assert.Equal(t, final, *got.FinalResponse)
	require.NotNil(t, got.KBEntryID)
	assert.Equal(t, kbID, *got.KBEntryID)

	edited, err := repos.Logs.List(ctx, storage.ResponseLogFilter{Status: storage.LogStatusEdited})
	require.NoError(t, err)
	require.Len(t, edited, 1)

	byCandidate, err := repos.Logs.List(ctx, storage.ResponseLogFilter{CandidateID: "cand-2", Limit: 10})
	require.NoError(t, err)
	require.Len(t, byCandidate, 1)
	assert.Nil(t, byCandidate[0].KBEntryID)

	assert.ErrorIs(t,
		repos.Logs.ApplyFeedback(ctx, uuid.New(), storage.LogStatusRejected, storage.FeedbackRejected, nil, time.Now()),
		storage.ErrNotFound)
}

func TestPendingFeedbackRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repos := storagetest.NewRepositories(t)
	now := time.Now().UTC()

	fresh := &storage.PendingFeedback{CandidateID: "c1", LogID: uuid.New(), OriginalQuestion: "q1", CreatedAt: now.Add(-time.Minute)}
	old := &storage.PendingFeedback{CandidateID: "c1", LogID: uuid.New(), OriginalQuestion: "q0", CreatedAt: now.Add(-10 * time.Minute)}
	exhausted := &storage.PendingFeedback{CandidateID: "c1", LogID: uuid.New(), OriginalQuestion: "q2", MessagesChecked: 3, CreatedAt: now}
	other := &storage.PendingFeedback{CandidateID: "c2", LogID: uuid.New(), OriginalQuestion: "q3", CreatedAt: now}
	for _, p := range []*storage.PendingFeedback{fresh, old, exhausted, other} {
		require.NoError(t, repos.Pending.Create(ctx, p))
	}

	open, err := repos.Pending.ListOpen(ctx, "c1", now.Add(-5*time.Minute), 3)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, fresh.ID, open[0].ID)

	checked, err := repos.Pending.IncrementChecked(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, checked)

	ok, err := repos.Pending.Resolve(ctx, fresh.ID, storage.ResolutionImplicitApproved, now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repos.Pending.Resolve(ctx, fresh.ID, storage.ResolutionImplicitRejected, now)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repos.Pending.IncrementChecked(ctx, fresh.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err := repos.Pending.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.True(t, got.Resolved)
	require.NotNil(t, got.Resolution)
	assert.Equal(t, storage.ResolutionImplicitApproved, *got.Resolution)

	expired, err := repos.Pending.ExpireBefore(ctx, now.Add(-5*time.Minute), now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	n, err := repos.Pending.CountOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMetricsRepository_AddIsAdditive(t *testing.T) {
	ctx := context.Background()
	repos := storagetest.NewRepositories(t)

	require.NoError(t, repos.Metrics.Add(ctx, storage.DailyMetric{Day: "2026-10-01", KBHits: 1, AvgConfidence: 0.8, ConfidenceSamples: 1}))
	require.NoError(t, repos.Metrics.Add(ctx, storage.DailyMetric{Day: "2026-10-01", KBHits: 1, AvgConfidence: 0.6, ConfidenceSamples: 1}))
	require.NoError(t, repos.Metrics.Add(ctx, storage.DailyMetric{Day: "2026-10-01", LLMCalls: 2}))
	require.NoError(t, repos.Metrics.Add(ctx, storage.DailyMetric{Day: "2026-10-02", SuggestionsRejected: 1}))

	m, err := repos.Metrics.Get(ctx, "2026-10-01")
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.KBHits)
	assert.Equal(t, int64(2), m.LLMCalls)
	assert.Equal(t, int64(2), m.ConfidenceSamples)
	assert.InDelta(t, 0.7, m.AvgConfidence, 1e-9)

	rows, err := repos.Metrics.Range(ctx, "2026-09-01", "2026-10-31")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2026-10-02", rows[1].Day)

	_, err = repos.Metrics.Get(ctx, "2020-01-01")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Error(t, repos.Metrics.Add(ctx, storage.DailyMetric{}))
}

func TestTrainingRepository(t *testing.T) {
	ctx := context.Background()
	repos := storagetest.NewRepositories(t)

	logID := uuid.New()
	require.NoError(t, repos.Training.Create(ctx, &storage.TrainingRecord{
		LogID: &logID, InputText: "q", OutputText: "a", QualityScore: 1.0, Source: "approved",
	}))
	require.NoError(t, repos.Training.Create(ctx, &storage.TrainingRecord{
		InputText: "q2", OutputText: "a2", QualityScore: 0.8, Source: "edited",
	}))

	n, err := repos.Training.Count(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := repos.Training.List(ctx, time.Time{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "q", records[0].InputText)
	assert.Nil(t, records[1].LogID)
}

func TestDayKey(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	assert.Equal(t, "2026-10-17", storage.DayKey(time.Date(2026, 10, 18, 1, 0, 0, 0, loc)))
}

package responder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/config"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/feedback"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/learning"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/metrics"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/retrieval"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage/storagetest"
)

type fixture struct {
	responder *Responder
	repos     *storagetest.Repositories
	fallbacks int
}

func newFixture(t *testing.T, fallback Fallback, finder Finder) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	repos := storagetest.NewRepositories(t)
	logger := observability.NopLogger()

	agg := metrics.NewAggregator(repos.Metrics, metrics.NewCollectors(prometheus.NewRegistry(), "test"), cfg.Metrics, logger)
	learner := learning.NewLearner(repos.Knowledge, cfg.Learning, nil, logger)
	fb := feedback.NewEngine(feedback.Stores{
		Logs:      repos.Logs,
		Knowledge: repos.Knowledge,
		Pending:   repos.Pending,
		Training:  repos.Training,
	}, learner, agg, feedback.Config{Learning: cfg.Learning, Implicit: cfg.Implicit}, nil, logger)

	if finder == nil {
		finder = retrieval.NewEngine(repos.FAQ, repos.Knowledge, cfg.Learning, logger)
	}

	f := &fixture{repos: repos}
	if fallback != nil {
		inner := fallback
		fallback = FallbackFunc(func(ctx context.Context, q string) (*FallbackAnswer, error) {
			f.fallbacks++
			return inner.Answer(ctx, q)
		})
	}
	f.responder = New(Deps{
		Finder:   finder,
		Fallback: fallback,
		Usage:    agg,
		Implicit: fb,
		Logs:     repos.Logs,
		Pending:  repos.Pending,
	}, cfg.Learning, logger)
	return f
}

func (f *fixture) today(t *testing.T) *storage.DailyMetric {
	t.Helper()
	row, err := f.repos.Metrics.Get(context.Background(), storage.DayKey(time.Now()))
	require.NoError(t, err)
	return row
}

func staticFallback(text string) Fallback {
	return FallbackFunc(func(context.Context, string) (*FallbackAnswer, error) {
		return &FallbackAnswer{Text: text, TokensUsed: 42}, nil
	})
}

type brokenFinder struct{}

func (brokenFinder) FindAnswer(context.Context, string) (*retrieval.Match, error) {
	return nil, errors.New("database is locked")
}

func TestReply_FAQHitInSuggestMode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticFallback("model answer"), nil)
	faq := &storage.FaqEntry{
		Category: "payments",
		Question: "When will I get paid?",
		Answer:   "Every Friday.",
		Keywords: []string{"pay", "paid"},
		Priority: 10,
		Active:   true,
	}
	require.NoError(t, f.repos.FAQ.Create(ctx, faq))

	reply, err := f.responder.Reply(ctx, "cand-1", "when do i get paid", "")
	require.NoError(t, err)
	assert.Equal(t, "Every Friday.", reply.Answer)
	assert.Equal(t, storage.ReplySourceFAQ, reply.Source)
	assert.Equal(t, storage.ReplyModeSuggest, reply.Mode)
	assert.Equal(t, storage.LogStatusGenerated, reply.Status)
	require.NotNil(t, reply.FAQID)
	assert.Equal(t, faq.ID, *reply.FAQID)
	assert.Nil(t, reply.KBEntryID)
	assert.Zero(t, f.fallbacks)

	logged, err := f.repos.Logs.GetByID(ctx, reply.LogID)
	require.NoError(t, err)
	assert.Equal(t, storage.LogStatusGenerated, logged.Status)
	assert.Nil(t, logged.KBEntryID)

	open, err := f.repos.Pending.CountOpen(ctx)
	require.NoError(t, err)
	assert.Zero(t, open, "suggested replies are reviewed explicitly")

	row := f.today(t)
	assert.Equal(t, int64(1), row.KBHits)
	assert.Zero(t, row.LLMCalls)
}

func TestReply_FallbackInAutoModeThenImplicitApproval(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticFallback("Yes, parking is free at gate B."), nil)

	reply, err := f.responder.Reply(ctx, "cand-7", "Is there free parking at the venue?", storage.ReplyModeAuto)
	require.NoError(t, err)
	assert.Equal(t, storage.ReplySourceLLM, reply.Source)
	assert.Equal(t, storage.LogStatusSent, reply.Status)
	assert.Zero(t, reply.Confidence)
	assert.Equal(t, 1, f.fallbacks)

	logged, err := f.repos.Logs.GetByID(ctx, reply.LogID)
	require.NoError(t, err)
	assert.Equal(t, 42, logged.TokensUsed)
	assert.Equal(t, int64(1), f.today(t).LLMCalls)

	open, err := f.repos.Pending.CountOpen(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, open)

	outcomes := f.responder.HandleInbound(ctx, "cand-7", "thanks!")
	require.Len(t, outcomes, 1)
	require.NotNil(t, outcomes[0].Resolution)
	assert.Equal(t, storage.ResolutionImplicitApproved, *outcomes[0].Resolution)

	learned, err := f.repos.Knowledge.GetByNormalized(ctx, "is there free parking at the venue")
	require.NoError(t, err)
	assert.InDelta(t, 0.65, learned.Confidence, 1e-9)
	assert.Equal(t, storage.EntrySourceImplicitApproved, learned.Source)
}

func TestReply_RetrievalFailureDegradesToFallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticFallback("From the model."), brokenFinder{})

	reply, err := f.responder.Reply(ctx, "cand-1", "where do i park", storage.ReplyModeSuggest)
	require.NoError(t, err)
	assert.Equal(t, storage.ReplySourceLLM, reply.Source)
	assert.Equal(t, "From the model.", reply.Answer)
}

func TestReply_NoAnswer(t *testing.T) {
	ctx := context.Background()

	t.Run("no fallback", func(t *testing.T) {
		f := newFixture(t, nil, nil)
		_, err := f.responder.Reply(ctx, "cand-1", "where do i park", storage.ReplyModeAuto)
		assert.ErrorIs(t, err, ErrNoAnswer)

		logs, err := f.repos.Logs.List(ctx, storage.ResponseLogFilter{})
		require.NoError(t, err)
		assert.Empty(t, logs)
	})

	t.Run("fallback error", func(t *testing.T) {
		f := newFixture(t, FallbackFunc(func(context.Context, string) (*FallbackAnswer, error) {
			return nil, errors.New("quota exceeded")
		}), nil)
		_, err := f.responder.Reply(ctx, "cand-1", "where do i park", storage.ReplyModeAuto)
		assert.ErrorIs(t, err, ErrNoAnswer)
	})

	t.Run("blank fallback text", func(t *testing.T) {
		f := newFixture(t, staticFallback("  "), nil)
		_, err := f.responder.Reply(ctx, "cand-1", "where do i park", storage.ReplyModeAuto)
		assert.ErrorIs(t, err, ErrNoAnswer)
	})
}

func TestReply_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, staticFallback("x"), nil)

	_, err := f.responder.Reply(ctx, "cand-1", "   ", storage.ReplyModeAuto)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = f.responder.Reply(ctx, "cand-1", "hello?", storage.ReplyMode("loud"))
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestHandleInbound_WithoutOpenRepliesIsQuiet(t *testing.T) {
	f := newFixture(t, nil, nil)
	assert.Empty(t, f.responder.HandleInbound(context.Background(), "cand-9", "hello"))
}

func TestParseMode(t *testing.T) {
	mode, err := ParseMode("", storage.ReplyModeSuggest)
	require.NoError(t, err)
	assert.Equal(t, storage.ReplyModeSuggest, mode)

	mode, err = ParseMode(" AUTO ", storage.ReplyModeSuggest)
	require.NoError(t, err)
	assert.Equal(t, storage.ReplyModeAuto, mode)

	_, err = ParseMode("sometimes", storage.ReplyModeSuggest)
	assert.ErrorIs(t, err, ErrInvalidMode)
}

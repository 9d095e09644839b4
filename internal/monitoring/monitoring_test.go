package monitoring_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/monitoring"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage/storagetest"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/textmatch"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []monitoring.AuditEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if channel != monitoring.DefaultAuditChannel {
		return errors.New("unexpected channel " + channel)
	}
	if ev, ok := message.(monitoring.AuditEvent); ok {
		p.events = append(p.events, ev)
	}
	return p.err
}

func TestAuditLogger_PublishesEvents(t *testing.T) {
	pub := &recordingPublisher{}
	audit := monitoring.NewAuditLogger(observability.NopLogger(), pub)

	entry := &storage.KnowledgeEntry{ID: uuid.New(), QuestionNormalized: "when do i get paid", Confidence: 0.5}
	audit.LogKnowledgeCreated(context.Background(), entry, "llm")
	audit.LogConfidenceChange(context.Background(), entry.ID, 0.7, 0.8, "approved", "admin")

	require.Len(t, pub.events, 2)
	assert.Equal(t, monitoring.AuditKnowledgeCreated, pub.events[0].Action)
	assert.Equal(t, entry.ID, pub.events[0].ResourceID)
	assert.NotEqual(t, uuid.Nil, pub.events[0].ID)
	assert.False(t, pub.events[0].OccurredAt.IsZero())
	assert.Equal(t, 0.8, pub.events[1].Payload["to"])
}

func TestAuditLogger_PublishErrorIsSwallowed(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("redis down")}
	audit := monitoring.NewAuditLogger(observability.NopLogger(), pub)

	assert.NotPanics(t, func() {
		audit.LogFeedback(context.Background(), uuid.New(), storage.FeedbackApproved, "admin")
	})
	assert.Len(t, pub.events, 1)
}

func TestAuditLogger_NilIsNoop(t *testing.T) {
	var audit *monitoring.AuditLogger
	assert.NotPanics(t, func() {
		audit.LogEvent(context.Background(), monitoring.AuditEvent{Action: monitoring.AuditKnowledgeMerged})
	})
}

func TestPendingSweeper_ExpiresOldRecords(t *testing.T) {
	ctx := context.Background()
	repos := storagetest.NewRepositories(t)
	now := time.Now().UTC()

	old := &storage.PendingFeedback{CandidateID: "c1", LogID: uuid.New(), OriginalQuestion: "q", CreatedAt: now.Add(-time.Hour)}
	fresh := &storage.PendingFeedback{CandidateID: "c1", LogID: uuid.New(), OriginalQuestion: "q", CreatedAt: now}
	require.NoError(t, repos.Pending.Create(ctx, old))
	require.NoError(t, repos.Pending.Create(ctx, fresh))

	pub := &recordingPublisher{}
	sweeper := monitoring.NewPendingSweeper(
		observability.NopLogger(),
		monitoring.NewAuditLogger(observability.NopLogger(), pub),
		repos.Pending,
		monitoring.SweeperConfig{Window: 5 * time.Minute},
	)

	result, err := sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Expired)
	assert.Equal(t, 1, result.StillOpen)
	require.Len(t, pub.events, 1)
	assert.Equal(t, monitoring.AuditPendingExpired, pub.events[0].Action)

	got, err := repos.Pending.GetByID(ctx, old.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Resolution)
	assert.Equal(t, storage.ResolutionExpired, *got.Resolution)

	result, err = sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Expired)
	assert.Len(t, pub.events, 1)
}

func TestPendingSweeper_RunStopsOnCancel(t *testing.T) {
	repos := storagetest.NewRepositories(t)
	sweeper := monitoring.NewPendingSweeper(observability.NopLogger(), nil, repos.Pending,
		monitoring.SweeperConfig{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestTokenGuard_FindsAndRepairsStaleTokens(t *testing.T) {
	ctx := context.Background()
	repos := storagetest.NewRepositories(t)

	fresh := &storage.KnowledgeEntry{
		Question:           "Where is the venue?",
		QuestionNormalized: textmatch.Normalize("Where is the venue?"),
		QuestionTokens:     textmatch.Tokenize("Where is the venue?"),
		Answer:             "Hall 3.",
		Confidence:         0.6,
		Source:             storage.EntrySourceLLM,
	}
	require.NoError(t, repos.Knowledge.Create(ctx, fresh))

	stale := &storage.KnowledgeEntry{
		Question:           "When will I get paid?",
		QuestionNormalized: textmatch.Normalize("When will I get paid?"),
		QuestionTokens:     []string{"when", "will", "get", "paid"},
		Answer:             "Fridays.",
		Confidence:         0.7,
		Source:             storage.EntrySourceLLM,
	}
	require.NoError(t, repos.Knowledge.Create(ctx, stale))

	pub := &recordingPublisher{}
	guard := monitoring.NewTokenGuard(observability.NopLogger(), monitoring.NewAuditLogger(observability.NopLogger(), pub), repos.Knowledge, 1)

	found, err := guard.CheckStale(ctx)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, stale.ID, found[0].EntryID)
	assert.False(t, found[0].NormalizedChanged())
	assert.Equal(t, textmatch.Tokenize("When will I get paid?"), found[0].Tokens)

	result, err := guard.Repair(ctx, found, "ops")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Repaired)
	require.Len(t, pub.events, 1)
	assert.Equal(t, monitoring.AuditTokensRepaired, pub.events[0].Action)

	got, err := repos.Knowledge.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, textmatch.Tokenize("When will I get paid?"), got.QuestionTokens)

	found, err = guard.CheckStale(ctx)
	require.NoError(t, err)
	assert.Empty(t, found)
}

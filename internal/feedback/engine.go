// Package feedback turns admin decisions and candidate follow-ups into
// confidence changes on knowledge entries and new learned answers.
package feedback

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/config"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/learning"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/metrics"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/monitoring"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/textmatch"
)

// Training quality scores by outcome.
const (
	QualityApproved = 1.0
	QualityEdited   = 0.8
	QualityImplicit = 0.7
)

// LogStore is the response-log persistence the engine needs.
type LogStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*storage.ResponseLog, error)
	ApplyFeedback(ctx context.Context, id uuid.UUID, status storage.LogStatus, action storage.FeedbackAction, finalResponse *string, at time.Time) error
}

// KnowledgeStore applies confidence deltas.
type KnowledgeStore interface {
	Mutate(ctx context.Context, id uuid.UUID, fn func(e *storage.KnowledgeEntry) error) (*storage.KnowledgeEntry, error)
}

// PendingStore tracks auto-sent replies awaiting an implicit signal.
type PendingStore interface {
	ListOpen(ctx context.Context, candidateID string, since time.Time, maxChecked int) ([]*storage.PendingFeedback, error)
	IncrementChecked(ctx context.Context, id uuid.UUID) (int, error)
	Resolve(ctx context.Context, id uuid.UUID, resolution storage.Resolution, at time.Time) (bool, error)
}

// TrainingStore appends training pairs.
type TrainingStore interface {
	Create(ctx context.Context, t *storage.TrainingRecord) error
}

// Learner writes new knowledge entries.
type Learner interface {
	Learn(ctx context.Context, question, answer string, meta learning.Metadata) (uuid.UUID, error)
}

// MetricsRecorder counts feedback outcomes.
type MetricsRecorder interface {
	UpdateDaily(ctx context.Context, action metrics.Action) error
}

// Stores bundles the persistence used by the engine.
type Stores struct {
	Logs      LogStore
	Knowledge KnowledgeStore
	Pending   PendingStore
	Training  TrainingStore
}

// Config holds the settings of both channels.
type Config struct {
	Learning config.LearningConfig
	Implicit config.ImplicitConfig
}

// Engine runs the explicit and implicit feedback channels.
type Engine struct {
	stores     Stores
	learner    Learner
	recorder   MetricsRecorder
	classifier *Classifier
	config     Config
	audit      *monitoring.AuditLogger
	logger     *observability.Logger
	now        func() time.Time
}

// NewEngine creates a feedback engine. audit may be nil.
func NewEngine(stores Stores, learner Learner, recorder MetricsRecorder, cfg Config, audit *monitoring.AuditLogger, logger *observability.Logger) *Engine {
	return &Engine{
		stores:     stores,
		learner:    learner,
		recorder:   recorder,
		classifier: NewClassifier(nil),
		config:     cfg,
		audit:      audit,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClassifier replaces the follow-up classifier.
func (e *Engine) WithClassifier(c *Classifier) *Engine {
	if c != nil {
		e.classifier = c
	}
	return e
}

// adjustConfidence applies delta to an entry and lets counters update the
// tally fields in the same write. A missing entry is logged and skipped.
func (e *Engine) adjustConfidence(ctx context.Context, entryID uuid.UUID, delta float64, counters func(*storage.KnowledgeEntry), reason, operator string) {
	var before float64
	entry, err := e.stores.Knowledge.Mutate(ctx, entryID, func(k *storage.KnowledgeEntry) error {
		before = k.Confidence
		k.Confidence = textmatch.Clamp01(k.Confidence + delta)
		if counters != nil {
			counters(k)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.logger.Warn().Str("entry_id", entryID.String()).Msg("Referenced knowledge entry no longer exists")
			return
		}
		e.logger.Warn().Err(err).Str("entry_id", entryID.String()).Msg("Failed to apply confidence delta")
		return
	}

	e.logger.Info().
		Str("entry_id", entryID.String()).
		Str("reason", reason).
		Float64("from", before).
		Float64("to", entry.Confidence).
		Msg("Knowledge confidence updated")
	e.audit.LogConfidenceChange(ctx, entryID, before, entry.Confidence, reason, operator)
}

func (e *Engine) learn(ctx context.Context, question, answer string, meta learning.Metadata) {
	if e.learner == nil {
		return
	}
	id, err := e.learner.Learn(ctx, question, answer, meta)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Skipping learning from feedback")
		return
	}
	e.logger.Debug().Str("entry_id", id.String()).Msg("Learned from feedback")
}

func (e *Engine) recordTraining(ctx context.Context, logID uuid.UUID, input, output string, quality float64, source string) {
	if e.stores.Training == nil {
		return
	}
	id := logID
	err := e.stores.Training.Create(ctx, &storage.TrainingRecord{
		LogID:        &id,
		InputText:    input,
		OutputText:   output,
		QualityScore: quality,
		Source:       source,
	})
	if err != nil {
		e.logger.Warn().Err(err).Str("log_id", logID.String()).Msg("Failed to store training record")
	}
}

func (e *Engine) count(ctx context.Context, action metrics.Action) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.UpdateDaily(ctx, action); err != nil {
		e.logger.Warn().Err(err).Str("action", string(action)).Msg("Failed to update daily metrics")
	}
}

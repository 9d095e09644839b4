// Package learning writes question/answer pairs into the knowledge base,
// merging repeats of the same normalized question into one entry.
package learning

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/config"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/monitoring"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/textmatch"
)

var (
	// ErrEmptyQuestion is returned when a question has no text left after
	// normalization.
	ErrEmptyQuestion = errors.New("question is empty after normalization")
	// ErrEmptyAnswer is returned for a blank answer.
	ErrEmptyAnswer = errors.New("answer is empty")
)

// Store is the knowledge persistence the learner needs.
type Store interface {
	GetByNormalized(ctx context.Context, normalized string) (*storage.KnowledgeEntry, error)
	Create(ctx context.Context, e *storage.KnowledgeEntry) error
	Mutate(ctx context.Context, id uuid.UUID, fn func(e *storage.KnowledgeEntry) error) (*storage.KnowledgeEntry, error)
}

// Metadata carries the optional attributes of a learned pair.
type Metadata struct {
	Intent   *string
	Category *string
	// Confidence defaults to the configured default confidence when nil.
	Confidence *float64
	// Source defaults to llm.
	Source storage.EntrySource
	// Operator is recorded on the audit event.
	Operator string
}

// Learner implements the knowledge-base write path.
type Learner struct {
	store  Store
	config config.LearningConfig
	audit  *monitoring.AuditLogger
	logger *observability.Logger
}

// NewLearner creates a learner. audit may be nil.
func NewLearner(store Store, cfg config.LearningConfig, audit *monitoring.AuditLogger, logger *observability.Logger) *Learner {
	if cfg.DefaultConfidence <= 0 {
		cfg.DefaultConfidence = 0.5
	}
	return &Learner{
		store:  store,
		config: cfg,
		audit:  audit,
		logger: logger,
	}
}

// Learn stores answer for question and returns the entry id. When an entry
// with the same normalized question exists it is merged: confidence becomes
// the mean of the stored and incoming values, the answer is replaced and
// intent/category are only filled when unset.
func (l *Learner) Learn(ctx context.Context, question, answer string, meta Metadata) (uuid.UUID, error) {
	normalized := textmatch.Normalize(question)
	if normalized == "" {
		return uuid.Nil, ErrEmptyQuestion
	}
	if textmatch.Normalize(answer) == "" {
		return uuid.Nil, ErrEmptyAnswer
	}

	confidence := l.config.DefaultConfidence
	if meta.Confidence != nil {
		confidence = textmatch.Clamp01(*meta.Confidence)
	}
	if meta.Source == "" {
		meta.Source = storage.EntrySourceLLM
	}
	if meta.Operator == "" {
		meta.Operator = string(meta.Source)
	}

	log := l.logger.WithContext(ctx).WithOperation("learn")

	existing, err := l.store.GetByNormalized(ctx, normalized)
	switch {
	case err == nil:
		return l.merge(ctx, existing.ID, answer, confidence, meta, log)
	case !errors.Is(err, storage.ErrNotFound):
		return uuid.Nil, fmt.Errorf("lookup knowledge entry: %w", err)
	}

	entry := &storage.KnowledgeEntry{
		Question:           question,
		QuestionNormalized: normalized,
		QuestionTokens:     textmatch.Tokenize(normalized),
		Answer:             answer,
		Intent:             meta.Intent,
		Category:           meta.Category,
		Confidence:         confidence,
		Source:             meta.Source,
	}
	if err := l.store.Create(ctx, entry); err != nil {
		if !storage.IsUniqueViolation(err) {
			return uuid.Nil, err
		}
		// Another writer inserted the same question first.
		existing, err := l.store.GetByNormalized(ctx, normalized)
		if err != nil {
			return uuid.Nil, fmt.Errorf("lookup knowledge entry after conflict: %w", err)
		}
		return l.merge(ctx, existing.ID, answer, confidence, meta, log)
	}

	log.Info().
		Str("entry_id", entry.ID.String()).
		Str("source", string(entry.Source)).
		Float64("confidence", entry.Confidence).
		Msg("Learned new knowledge entry")
	l.audit.LogKnowledgeCreated(ctx, entry, meta.Operator)
	return entry.ID, nil
}

func (l *Learner) merge(ctx context.Context, id uuid.UUID, answer string, confidence float64, meta Metadata, log *observability.Logger) (uuid.UUID, error) {
	var previous float64
	entry, err := l.store.Mutate(ctx, id, func(e *storage.KnowledgeEntry) error {
		previous = e.Confidence
		e.Confidence = (e.Confidence + confidence) / 2
		e.Answer = answer
		if e.Intent == nil {
			e.Intent = meta.Intent
		}
		if e.Category == nil {
			e.Category = meta.Category
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("merge knowledge entry: %w", err)
	}

	log.Info().
		Str("entry_id", entry.ID.String()).
		Float64("previous_confidence", previous).
		Float64("confidence", entry.Confidence).
		Msg("Merged knowledge entry")
	l.audit.LogKnowledgeMerged(ctx, entry, previous, meta.Operator)
	return entry.ID, nil
}

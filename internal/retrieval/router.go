// Package retrieval answers candidate questions from the curated FAQ list
// and the learned knowledge base, in that order.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/config"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/textmatch"
)

// FAQStore is the tier-1 persistence the engine needs.
type FAQStore interface {
	FAQSource
	IncrementUse(ctx context.Context, id uuid.UUID) error
}

// KnowledgeStore is the tier-2 persistence the engine needs.
type KnowledgeStore interface {
	ListCandidates(ctx context.Context, minConfidence float64) ([]*storage.KnowledgeEntry, error)
	RecordUse(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Match is a confident local answer.
type Match struct {
	Source     storage.ReplySource `json:"source"`
	Question   string              `json:"question"`
	Answer     string              `json:"answer"`
	Similarity float64             `json:"similarity"`
	Confidence float64             `json:"confidence"`
	// EntryID is the FAQ id for faq matches and the knowledge entry id
	// for knowledge_base matches.
	EntryID  uuid.UUID `json:"entry_id"`
	Intent   *string   `json:"intent,omitempty"`
	Category *string   `json:"category,omitempty"`
}

// KnowledgeEntryID returns the id to store on a response log, which only
// references knowledge entries.
func (m *Match) KnowledgeEntryID() *uuid.UUID {
	if m == nil || m.Source != storage.ReplySourceKnowledgeBase {
		return nil
	}
	id := m.EntryID
	return &id
}

// Engine runs the two-tier lookup.
type Engine struct {
	faqs       FAQStore
	faqList    FAQSource
	knowledge  KnowledgeStore
	scorer     *textmatch.Scorer
	calculator *ConfidenceCalculator
	config     config.LearningConfig
	logger     *observability.Logger
	now        func() time.Time
	trackUsage bool
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithFAQCache reads the tier-1 list through snapshot instead of the store.
func WithFAQCache(snapshot *FAQCache) EngineOption {
	return func(e *Engine) {
		if snapshot != nil {
			e.faqList = snapshot
		}
	}
}

// WithScorer replaces the default scorer.
func WithScorer(s *textmatch.Scorer) EngineOption {
	return func(e *Engine) {
		if s != nil {
			e.scorer = s
		}
	}
}

// WithoutUsageTracking leaves use counts untouched on a hit. Used for dry
// runs that should not skew the admin view.
func WithoutUsageTracking() EngineOption {
	return func(e *Engine) {
		e.trackUsage = false
	}
}

// NewEngine creates a retrieval engine.
func NewEngine(faqs FAQStore, knowledge KnowledgeStore, cfg config.LearningConfig, logger *observability.Logger, opts ...EngineOption) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	e := &Engine{
		faqs:       faqs,
		faqList:    faqs,
		knowledge:  knowledge,
		scorer:     textmatch.NewScorer(),
		calculator: NewConfidenceCalculator(cfg),
		config:     cfg,
		logger:     logger,
		now:        time.Now,
		trackUsage: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enabled reports the master switch.
func (e *Engine) Enabled() bool {
	return e.config.Enabled
}

// FindAnswer returns a confident local answer for question, or nil when the
// caller should fall back to the external model. A non-nil error means the
// lookup itself failed.
func (e *Engine) FindAnswer(ctx context.Context, question string) (*Match, error) {
	if !e.config.Enabled {
		return nil, nil
	}

	start := time.Now()
	log := e.logger.WithContext(ctx).WithOperation("find_answer")

	query := textmatch.NewQuery(question)
	if query.Empty() {
		log.Debug().Msg("Question has no significant tokens")
		return nil, nil
	}

	match, faqErr := e.matchFAQ(ctx, query, log)
	if match != nil {
		log.Info().
			Str("source", string(match.Source)).
			Float64("similarity", match.Similarity).
			Float64("confidence", match.Confidence).
			Int64("latency_ms", time.Since(start).Milliseconds()).
			Msg("Retrieval complete")
		return match, nil
	}
	if faqErr != nil {
		log.Warn().Err(faqErr).Msg("FAQ tier failed, trying knowledge base")
	}

	match, err := e.matchKnowledge(ctx, query, log)
	if err != nil {
		return nil, err
	}
	if match == nil {
		if faqErr != nil {
			return nil, faqErr
		}
		log.Debug().
			Strs("tokens", query.Tokens()).
			Int64("latency_ms", time.Since(start).Milliseconds()).
			Msg("No confident answer")
		return nil, nil
	}

	log.Info().
		Str("source", string(match.Source)).
		Str("entry_id", match.EntryID.String()).
		Float64("similarity", match.Similarity).
		Float64("confidence", match.Confidence).
		Int64("latency_ms", time.Since(start).Milliseconds()).
		Msg("Retrieval complete")
	return match, nil
}

func (e *Engine) matchFAQ(ctx context.Context, query *textmatch.Query, log *observability.Logger) (*Match, error) {
	faqs, err := e.faqList.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active faqs: %w", err)
	}
	if len(faqs) == 0 {
		return nil, nil
	}

	docs := make([]textmatch.Document, len(faqs))
	for i, faq := range faqs {
		if faq.KeywordsMalformed {
			log.Debug().Str("faq_id", faq.ID.String()).Msg("FAQ keywords unreadable, keyword signal ignored")
		}
		// No confidence boost for FAQs; priority order breaks ties.
		docs[i] = textmatch.Document{Text: faq.Question, Keywords: faq.Keywords}
	}

	ranked := e.scorer.FindSimilarQuery(query, docs, 1, 0)
	bestScore := ranked[0].Score
	if !e.calculator.FAQAccepted(bestScore) {
		log.Debug().Float64("best_similarity", bestScore).Msg("No FAQ above threshold")
		return nil, nil
	}
	best := faqs[ranked[0].Index]

	if e.trackUsage {
		if err := e.faqs.IncrementUse(ctx, best.ID); err != nil {
			log.Warn().Err(err).Str("faq_id", best.ID.String()).Msg("Failed to record FAQ use")
		}
	}

	category := best.Category
	return &Match{
		Source:     storage.ReplySourceFAQ,
		Question:   best.Question,
		Answer:     best.Answer,
		Similarity: bestScore,
		Confidence: e.calculator.FAQConfidence(bestScore),
		EntryID:    best.ID,
		Category:   &category,
	}, nil
}

func (e *Engine) matchKnowledge(ctx context.Context, query *textmatch.Query, log *observability.Logger) (*Match, error) {
	candidates, err := e.knowledge.ListCandidates(ctx, e.calculator.CandidateFloor())
	if err != nil {
		return nil, fmt.Errorf("list knowledge candidates: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	docs := make([]textmatch.Document, len(candidates))
	for i, entry := range candidates {
		docs[i] = textmatch.Document{
			Text:       entry.QuestionNormalized,
			Tokens:     entry.QuestionTokens,
			Confidence: entry.Confidence,
		}
	}

	ranked := e.scorer.FindSimilarQuery(query, docs, e.config.TopK, 0)
	log.Debug().Int("candidates", len(candidates)).Float64("best_similarity", ranked[0].Score).Msg("Scored knowledge candidates")

	top := ranked[0]
	entry := candidates[top.Index]
	combined := e.calculator.CombinedConfidence(top.Score, entry.Confidence)
	if !e.calculator.KnowledgeAccepted(combined) {
		log.Debug().
			Str("entry_id", entry.ID.String()).
			Float64("similarity", top.Score).
			Float64("combined", combined).
			Msg("Best knowledge entry below minimum confidence")
		return nil, nil
	}

	if e.trackUsage {
		if err := e.knowledge.RecordUse(ctx, entry.ID, e.now().UTC()); err != nil {
			log.Warn().Err(err).Str("entry_id", entry.ID.String()).Msg("Failed to record knowledge entry use")
		}
	}

	return &Match{
		Source:     storage.ReplySourceKnowledgeBase,
		Question:   entry.Question,
		Answer:     entry.Answer,
		Similarity: top.Score,
		Confidence: combined,
		EntryID:    entry.ID,
		Intent:     entry.Intent,
		Category:   entry.Category,
	}, nil
}

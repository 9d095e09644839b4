package monitoring

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/textmatch"
)

// KnowledgeScanner is the storage the token guard walks and repairs.
type KnowledgeScanner interface {
	List(ctx context.Context, limit, offset int) ([]*storage.KnowledgeEntry, error)
	Mutate(ctx context.Context, id uuid.UUID, fn func(e *storage.KnowledgeEntry) error) (*storage.KnowledgeEntry, error)
}

// TokenGuard detects knowledge entries whose stored normalized form or
// tokens no longer match what the current tokenizer produces, which happens
// after a stopword or synonym table change. Stale tokens silently lower
// similarity scores, so they are rewritten in place.
type TokenGuard struct {
	logger      *observability.Logger
	auditLogger *AuditLogger
	store       KnowledgeScanner
	pageSize    int
}

// StaleEntry is one entry whose stored text features drifted.
type StaleEntry struct {
	EntryID          uuid.UUID `json:"entry_id"`
	Question         string    `json:"question"`
	StoredNormalized string    `json:"stored_normalized"`
	Normalized       string    `json:"normalized"`
	StoredTokens     []string  `json:"stored_tokens"`
	Tokens           []string  `json:"tokens"`
}

// NormalizedChanged reports whether the merge key itself moved.
func (s StaleEntry) NormalizedChanged() bool {
	return s.StoredNormalized != s.Normalized
}

// RepairResult summarizes a repair run.
type RepairResult struct {
	Repaired   int
	Skipped    int
	Errors     []string
	RepairedAt time.Time
}

// NewTokenGuard creates a guard that scans pageSize entries at a time.
func NewTokenGuard(logger *observability.Logger, auditLogger *AuditLogger, store KnowledgeScanner, pageSize int) *TokenGuard {
	if pageSize <= 0 {
		pageSize = 500
	}
	return &TokenGuard{
		logger:      logger,
		auditLogger: auditLogger,
		store:       store,
		pageSize:    pageSize,
	}
}

// CheckStale lists every entry whose stored features differ from a fresh
// normalization of its question.
func (g *TokenGuard) CheckStale(ctx context.Context) ([]StaleEntry, error) {
	var stale []StaleEntry
	scanned := 0
	for offset := 0; ; offset += g.pageSize {
		page, err := g.store.List(ctx, g.pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list knowledge entries: %w", err)
		}
		for _, e := range page {
			normalized := textmatch.Normalize(e.Question)
			tokens := textmatch.Tokenize(e.Question)
			if normalized == e.QuestionNormalized && slices.Equal(tokens, e.QuestionTokens) {
				continue
			}
			stale = append(stale, StaleEntry{
				EntryID:          e.ID,
				Question:         e.Question,
				StoredNormalized: e.QuestionNormalized,
				Normalized:       normalized,
				StoredTokens:     e.QuestionTokens,
				Tokens:           tokens,
			})
		}
		scanned += len(page)
		if len(page) < g.pageSize {
			break
		}
	}

	g.logger.Info().
		Int("scanned", scanned).
		Int("stale", len(stale)).
		Msg("Token check completed")
	return stale, nil
}

// Repair rewrites stale tokens. An entry whose normalized form moved onto
// another entry's key is skipped; merging those is an admin decision.
func (g *TokenGuard) Repair(ctx context.Context, stale []StaleEntry, operator string) (*RepairResult, error) {
	result := &RepairResult{RepairedAt: time.Now().UTC()}
	for _, s := range stale {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		_, err := g.store.Mutate(ctx, s.EntryID, func(e *storage.KnowledgeEntry) error {
			e.QuestionNormalized = textmatch.Normalize(e.Question)
			e.QuestionTokens = textmatch.Tokenize(e.Question)
			return nil
		})
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", s.EntryID, err))
			g.logger.Warn().Err(err).Str("entry_id", s.EntryID.String()).Msg("Failed to repair stored tokens")
			continue
		}
		result.Repaired++
		g.auditLogger.LogEvent(ctx, AuditEvent{
			ResourceType: "knowledge_entry",
			ResourceID:   s.EntryID,
			Action:       AuditTokensRepaired,
			Operator:     operator,
			Payload: map[string]interface{}{
				"normalized_changed": s.NormalizedChanged(),
				"tokens":             s.Tokens,
			},
		})
	}
	return result, nil
}

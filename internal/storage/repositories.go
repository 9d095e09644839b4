package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrNotFound        = errors.New("record not found")
	ErrConflict        = errors.New("record conflict")
	ErrVersionConflict = errors.New("record modified concurrently")
)

// maxMutateAttempts bounds the optimistic retry loop in Mutate.
const maxMutateAttempts = 5

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Repositories bundles every repository over one database.
type Repositories struct {
	DB        *sql.DB
	Knowledge *KnowledgeRepository
	FAQ       *FAQRepository
	Logs      *ResponseLogRepository
	Pending   *PendingFeedbackRepository
	Metrics   *MetricsRepository
	Training  *TrainingRepository
}

// NewRepositories creates all repositories over db.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		DB:        db,
		Knowledge: NewKnowledgeRepository(db),
		FAQ:       NewFAQRepository(db),
		Logs:      NewResponseLogRepository(db),
		Pending:   NewPendingFeedbackRepository(db),
		Metrics:   NewMetricsRepository(db),
		Training:  NewTrainingRepository(db),
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func encodeStrings(values []string) string {
	if values == nil {
		values = []string{}
	}
	b, _ := json.Marshal(values)
	return string(b)
}

func decodeStrings(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func clampConfidence(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// KnowledgeRepository handles learned knowledge entries.
type KnowledgeRepository struct {
	db DB
}

// NewKnowledgeRepository creates a new knowledge repository.
func NewKnowledgeRepository(db DB) *KnowledgeRepository {
	return &KnowledgeRepository{db: db}
}

const knowledgeColumns = `id, question, question_normalized, question_tokens, answer, intent, category,
		confidence, use_count, success_count, edit_count, reject_count, source, version,
		last_used_at, created_at, updated_at`

func scanKnowledgeEntry(row rowScanner) (*KnowledgeEntry, error) {
	e := &KnowledgeEntry{}
	var tokens string
	err := row.Scan(
		&e.ID, &e.Question, &e.QuestionNormalized, &tokens, &e.Answer, &e.Intent, &e.Category,
		&e.Confidence, &e.UseCount, &e.SuccessCount, &e.EditCount, &e.RejectCount, &e.Source, &e.Version,
		&e.LastUsedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	// unreadable tokens are re-derived from question_normalized by the scorer
	e.QuestionTokens, _ = decodeStrings(tokens)
	return e, nil
}

// Create inserts a new entry. A unique violation on question_normalized is
// returned wrapped; check it with IsUniqueViolation.
func (r *KnowledgeRepository) Create(ctx context.Context, e *KnowledgeEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	e.Version = 1
	e.Confidence = clampConfidence(e.Confidence)

	query := `
		INSERT INTO knowledge_entries (id, question, question_normalized, question_tokens, answer,
			intent, category, confidence, use_count, success_count, edit_count, reject_count,
			source, version, last_used_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.Question, e.QuestionNormalized, encodeStrings(e.QuestionTokens), e.Answer,
		e.Intent, e.Category, e.Confidence, e.UseCount, e.SuccessCount, e.EditCount, e.RejectCount,
		e.Source, e.Version, e.LastUsedAt, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert knowledge entry: %w", err)
	}
	return nil
}

// GetByID retrieves an entry by ID.
func (r *KnowledgeRepository) GetByID(ctx context.Context, id uuid.UUID) (*KnowledgeEntry, error) {
	query := `SELECT ` + knowledgeColumns + ` FROM knowledge_entries WHERE id = $1`
	e, err := scanKnowledgeEntry(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// GetByNormalized retrieves the entry keyed by a normalized question.
func (r *KnowledgeRepository) GetByNormalized(ctx context.Context, normalized string) (*KnowledgeEntry, error) {
	query := `SELECT ` + knowledgeColumns + ` FROM knowledge_entries WHERE question_normalized = $1`
	e, err := scanKnowledgeEntry(r.db.QueryRowContext(ctx, query, normalized))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// ListCandidates returns entries whose confidence is at least minConfidence,
// most confident first.
func (r *KnowledgeRepository) ListCandidates(ctx context.Context, minConfidence float64) ([]*KnowledgeEntry, error) {
	query := `SELECT ` + knowledgeColumns + `
		FROM knowledge_entries
		WHERE confidence >= $1
		ORDER BY confidence DESC, created_at ASC`
	return r.query(ctx, query, minConfidence)
}

// List returns a page of entries ordered by confidence.
func (r *KnowledgeRepository) List(ctx context.Context, limit, offset int) ([]*KnowledgeEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + knowledgeColumns + `
		FROM knowledge_entries
		ORDER BY confidence DESC, created_at ASC
		LIMIT $1 OFFSET $2`
	return r.query(ctx, query, limit, offset)
}

// Count returns the number of stored entries.
func (r *KnowledgeRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge_entries`).Scan(&n)
	return n, err
}

func (r *KnowledgeRepository) query(ctx context.Context, query string, args ...interface{}) ([]*KnowledgeEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*KnowledgeEntry
	for rows.Next() {
		e, err := scanKnowledgeEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Update writes e back if nobody changed it since it was read. On success the
// in-memory version is advanced. A stale version yields ErrVersionConflict.
func (r *KnowledgeRepository) Update(ctx context.Context, e *KnowledgeEntry) error {
	e.UpdatedAt = time.Now().UTC()
	e.Confidence = clampConfidence(e.Confidence)

	query := `
		UPDATE knowledge_entries
		SET question = $1, question_normalized = $2, question_tokens = $3, answer = $4,
			intent = $5, category = $6, confidence = $7, use_count = $8, success_count = $9,
			edit_count = $10, reject_count = $11, source = $12, last_used_at = $13,
			updated_at = $14, version = version + 1
		WHERE id = $15 AND version = $16
	`
	result, err := r.db.ExecContext(ctx, query,
		e.Question, e.QuestionNormalized, encodeStrings(e.QuestionTokens), e.Answer,
		e.Intent, e.Category, e.Confidence, e.UseCount, e.SuccessCount,
		e.EditCount, e.RejectCount, e.Source, e.LastUsedAt,
		e.UpdatedAt, e.ID, e.Version,
	)
	if err != nil {
		return fmt.Errorf("update knowledge entry: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := r.GetByID(ctx, e.ID); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	e.Version++
	return nil
}

// Mutate reads the entry, applies fn and writes it back, retrying when a
// concurrent writer wins the race. fn may be called more than once.
func (r *KnowledgeRepository) Mutate(ctx context.Context, id uuid.UUID, fn func(e *KnowledgeEntry) error) (*KnowledgeEntry, error) {
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		e, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(e); err != nil {
			return nil, err
		}
		err = r.Update(ctx, e)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
	}
	return nil, ErrVersionConflict
}

// RecordUse increments use_count and stamps last_used_at.
func (r *KnowledgeRepository) RecordUse(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE knowledge_entries
		SET use_count = use_count + 1, last_used_at = $1, updated_at = $2, version = version + 1
		WHERE id = $3
	`
	at = at.UTC()
	result, err := r.db.ExecContext(ctx, query, at, at, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// FAQRepository handles curated FAQ entries.
type FAQRepository struct {
	db DB
}

// NewFAQRepository creates a new FAQ repository.
func NewFAQRepository(db DB) *FAQRepository {
	return &FAQRepository{db: db}
}

const faqColumns = `id, category, question, answer, keywords, priority, use_count, active, created_at, updated_at`

func scanFaqEntry(row rowScanner) (*FaqEntry, error) {
	f := &FaqEntry{}
	var keywords string
	err := row.Scan(
		&f.ID, &f.Category, &f.Question, &f.Answer, &keywords, &f.Priority,
		&f.UseCount, &f.Active, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	kw, err := decodeStrings(keywords)
	if err != nil {
		f.Keywords = []string{}
		f.KeywordsMalformed = true
		return f, nil
	}
	f.Keywords = kw
	return f, nil
}

// Create inserts a new FAQ entry.
func (r *FAQRepository) Create(ctx context.Context, f *FaqEntry) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	query := `
		INSERT INTO faq_entries (id, category, question, answer, keywords, priority, use_count,
			active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		f.ID, f.Category, f.Question, f.Answer, encodeStrings(f.Keywords), f.Priority,
		f.UseCount, f.Active, f.CreatedAt, f.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert faq entry: %w", err)
	}
	return nil
}

// Update overwrites the editable fields of an FAQ entry.
func (r *FAQRepository) Update(ctx context.Context, f *FaqEntry) error {
	f.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE faq_entries
		SET category = $1, question = $2, answer = $3, keywords = $4, priority = $5,
			active = $6, updated_at = $7
		WHERE id = $8
	`
	result, err := r.db.ExecContext(ctx, query,
		f.Category, f.Question, f.Answer, encodeStrings(f.Keywords), f.Priority,
		f.Active, f.UpdatedAt, f.ID,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("update faq entry: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Upsert creates the entry or updates the existing one with the same
// category and question. It reports whether a new row was created.
func (r *FAQRepository) Upsert(ctx context.Context, f *FaqEntry) (bool, error) {
	existing, err := r.GetByQuestion(ctx, f.Category, f.Question)
	switch {
	case errors.Is(err, ErrNotFound):
		return true, r.Create(ctx, f)
	case err != nil:
		return false, err
	}

	f.ID = existing.ID
	f.UseCount = existing.UseCount
	f.CreatedAt = existing.CreatedAt
	return false, r.Update(ctx, f)
}

// GetByID retrieves an FAQ entry by ID.
func (r *FAQRepository) GetByID(ctx context.Context, id uuid.UUID) (*FaqEntry, error) {
	query := `SELECT ` + faqColumns + ` FROM faq_entries WHERE id = $1`
	f, err := scanFaqEntry(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

// GetByQuestion retrieves an FAQ entry by its category and question text.
func (r *FAQRepository) GetByQuestion(ctx context.Context, category, question string) (*FaqEntry, error) {
	query := `SELECT ` + faqColumns + ` FROM faq_entries WHERE category = $1 AND question = $2`
	f, err := scanFaqEntry(r.db.QueryRowContext(ctx, query, category, question))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return f, err
}

// ListActive returns active entries, highest priority first.
func (r *FAQRepository) ListActive(ctx context.Context) ([]*FaqEntry, error) {
	query := `SELECT ` + faqColumns + `
		FROM faq_entries
		WHERE active = $1
		ORDER BY priority DESC, created_at ASC`
	return r.query(ctx, query, true)
}

// ListAll returns every entry, active or not.
func (r *FAQRepository) ListAll(ctx context.Context) ([]*FaqEntry, error) {
	query := `SELECT ` + faqColumns + `
		FROM faq_entries
		ORDER BY category ASC, priority DESC, created_at ASC`
	return r.query(ctx, query)
}

func (r *FAQRepository) query(ctx context.Context, query string, args ...interface{}) ([]*FaqEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*FaqEntry
	for rows.Next() {
		f, err := scanFaqEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, f)
	}
	return entries, rows.Err()
}

// IncrementUse bumps use_count for a matched FAQ.
func (r *FAQRepository) IncrementUse(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE faq_entries SET use_count = use_count + 1 WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

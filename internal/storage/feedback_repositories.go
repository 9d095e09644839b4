package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ResponseLogRepository handles response log rows.
type ResponseLogRepository struct {
	db DB
}

// NewResponseLogRepository creates a new response log repository.
func NewResponseLogRepository(db DB) *ResponseLogRepository {
	return &ResponseLogRepository{db: db}
}

const responseLogColumns = `id, candidate_id, incoming_message, ai_response, final_response, mode, source,
		kb_entry_id, confidence, intent_detected, response_time_ms, tokens_used, status,
		admin_action, feedback_at, created_at`

func scanResponseLog(row rowScanner) (*ResponseLog, error) {
	l := &ResponseLog{}
	err := row.Scan(
		&l.ID, &l.CandidateID, &l.IncomingMessage, &l.AIResponse, &l.FinalResponse, &l.Mode, &l.Source,
		&l.KBEntryID, &l.Confidence, &l.IntentDetected, &l.ResponseTimeMs, &l.TokensUsed, &l.Status,
		&l.AdminAction, &l.FeedbackAt, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Create inserts a response log.
func (r *ResponseLogRepository) Create(ctx context.Context, l *ResponseLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	l.CreatedAt = l.CreatedAt.UTC()

	query := `
		INSERT INTO response_logs (id, candidate_id, incoming_message, ai_response, final_response,
			mode, source, kb_entry_id, confidence, intent_detected, response_time_ms, tokens_used,
			status, admin_action, feedback_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.ExecContext(ctx, query,
		l.ID, l.CandidateID, l.IncomingMessage, l.AIResponse, l.FinalResponse,
		l.Mode, l.Source, l.KBEntryID, l.Confidence, l.IntentDetected, l.ResponseTimeMs, l.TokensUsed,
		l.Status, l.AdminAction, l.FeedbackAt, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert response log: %w", err)
	}
	return nil
}

// GetByID retrieves a response log by ID.
func (r *ResponseLogRepository) GetByID(ctx context.Context, id uuid.UUID) (*ResponseLog, error) {
	query := `SELECT ` + responseLogColumns + ` FROM response_logs WHERE id = $1`
	l, err := scanResponseLog(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return l, err
}

// ResponseLogFilter narrows List.
type ResponseLogFilter struct {
	Status      LogStatus
	CandidateID string
	Limit       int
	Offset      int
}

// List returns logs newest first.
func (r *ResponseLogRepository) List(ctx context.Context, filter ResponseLogFilter) ([]*ResponseLog, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CandidateID != "" {
		args = append(args, filter.CandidateID)
		where = append(where, fmt.Sprintf("candidate_id = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + responseLogColumns + ` FROM response_logs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*ResponseLog
	for rows.Next() {
		l, err := scanResponseLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ApplyFeedback records the admin decision on a log. A log takes one
// decision only: ErrConflict if it was already reviewed, ErrNotFound if it
// does not exist.
func (r *ResponseLogRepository) ApplyFeedback(ctx context.Context, id uuid.UUID, status LogStatus, action FeedbackAction, finalResponse *string, at time.Time) error {
	query := `
		UPDATE response_logs
		SET status = $1, admin_action = $2, final_response = COALESCE($3, final_response), feedback_at = $4
		WHERE id = $5 AND admin_action IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, status, action, finalResponse, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("apply feedback: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

// PendingFeedbackRepository handles implicit-feedback bookkeeping rows.
type PendingFeedbackRepository struct {
	db DB
}

// NewPendingFeedbackRepository creates a new pending feedback repository.
func NewPendingFeedbackRepository(db DB) *PendingFeedbackRepository {
	return &PendingFeedbackRepository{db: db}
}

const pendingColumns = `id, candidate_id, log_id, original_question, messages_checked, resolved,
		resolution, created_at, resolved_at`

func scanPending(row rowScanner) (*PendingFeedback, error) {
	p := &PendingFeedback{}
	err := row.Scan(
		&p.ID, &p.CandidateID, &p.LogID, &p.OriginalQuestion, &p.MessagesChecked, &p.Resolved,
		&p.Resolution, &p.CreatedAt, &p.ResolvedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Create inserts a pending record.
func (r *PendingFeedbackRepository) Create(ctx context.Context, p *PendingFeedback) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	p.CreatedAt = p.CreatedAt.UTC()

	query := `
		INSERT INTO pending_feedback (id, candidate_id, log_id, original_question, messages_checked,
			resolved, resolution, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.CandidateID, p.LogID, p.OriginalQuestion, p.MessagesChecked,
		p.Resolved, p.Resolution, p.CreatedAt, p.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("insert pending feedback: %w", err)
	}
	return nil
}

// GetByID retrieves a pending record by ID.
func (r *PendingFeedbackRepository) GetByID(ctx context.Context, id uuid.UUID) (*PendingFeedback, error) {
	query := `SELECT ` + pendingColumns + ` FROM pending_feedback WHERE id = $1`
	p, err := scanPending(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListOpen returns the candidate's unresolved records created at or after
// since that have been checked fewer than maxChecked times, oldest first.
// Served by the (candidate_id, resolved, created_at) index.
func (r *PendingFeedbackRepository) ListOpen(ctx context.Context, candidateID string, since time.Time, maxChecked int) ([]*PendingFeedback, error) {
	query := `SELECT ` + pendingColumns + `
		FROM pending_feedback
		WHERE candidate_id = $1 AND resolved = $2 AND created_at >= $3 AND messages_checked < $4
		ORDER BY created_at ASC`
	rows, err := r.db.QueryContext(ctx, query, candidateID, false, since.UTC(), maxChecked)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PendingFeedback
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// IncrementChecked bumps messages_checked on an unresolved record and returns
// the new count. ErrNotFound means the record is gone or already resolved.
func (r *PendingFeedbackRepository) IncrementChecked(ctx context.Context, id uuid.UUID) (int, error) {
	query := `
		UPDATE pending_feedback
		SET messages_checked = messages_checked + 1
		WHERE id = $1 AND resolved = $2
		RETURNING messages_checked
	`
	var checked int
	err := r.db.QueryRowContext(ctx, query, id, false).Scan(&checked)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return checked, err
}

// Resolve closes an unresolved record. It reports false when another caller
// resolved it first, so a signal is never applied twice.
func (r *PendingFeedbackRepository) Resolve(ctx context.Context, id uuid.UUID, resolution Resolution, at time.Time) (bool, error) {
	query := `
		UPDATE pending_feedback
		SET resolved = $1, resolution = $2, resolved_at = $3
		WHERE id = $4 AND resolved = $5
	`
	result, err := r.db.ExecContext(ctx, query, true, resolution, at.UTC(), id, false)
	if err != nil {
		return false, fmt.Errorf("resolve pending feedback: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ExpireBefore resolves every open record created before cutoff as expired.
func (r *PendingFeedbackRepository) ExpireBefore(ctx context.Context, cutoff, at time.Time) (int64, error) {
	query := `
		UPDATE pending_feedback
		SET resolved = $1, resolution = $2, resolved_at = $3
		WHERE resolved = $4 AND created_at < $5
	`
	result, err := r.db.ExecContext(ctx, query, true, ResolutionExpired, at.UTC(), false, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("expire pending feedback: %w", err)
	}
	return result.RowsAffected()
}

// CountOpen returns the number of unresolved records.
func (r *PendingFeedbackRepository) CountOpen(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_feedback WHERE resolved = $1`, false).Scan(&n)
	return n, err
}

// TrainingRepository handles exported training pairs.
type TrainingRepository struct {
	db DB
}

// NewTrainingRepository creates a new training repository.
func NewTrainingRepository(db DB) *TrainingRepository {
	return &TrainingRepository{db: db}
}

// Create appends a training record.
func (r *TrainingRepository) Create(ctx context.Context, t *TrainingRecord) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO training_data (id, log_id, input_text, output_text, quality_score, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.LogID, t.InputText, t.OutputText, t.QualityScore, t.Source, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert training record: %w", err)
	}
	return nil
}

// List returns records created at or after since, oldest first.
func (r *TrainingRepository) List(ctx context.Context, since time.Time, limit, offset int) ([]*TrainingRecord, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `
		SELECT id, log_id, input_text, output_text, quality_score, source, created_at
		FROM training_data
		WHERE created_at >= $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, since.UTC(), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TrainingRecord
	for rows.Next() {
		t := &TrainingRecord{}
		if err := rows.Scan(&t.ID, &t.LogID, &t.InputText, &t.OutputText, &t.QualityScore, &t.Source, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Count returns the number of records created at or after since.
func (r *TrainingRepository) Count(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM training_data WHERE created_at >= $1`, since.UTC()).Scan(&n)
	return n, err
}

// MetricsRepository handles daily metric rows.
type MetricsRepository struct {
	db DB
}

// NewMetricsRepository creates a new metrics repository.
func NewMetricsRepository(db DB) *MetricsRepository {
	return &MetricsRepository{db: db}
}

// Add merges delta into the row for delta.Day, creating it if needed. Counters
// are summed and avg_confidence is combined as a weighted running average.
func (r *MetricsRepository) Add(ctx context.Context, delta DailyMetric) error {
	if delta.Day == "" {
		return fmt.Errorf("daily metric: empty day")
	}
	query := `
		INSERT INTO daily_metrics (day, kb_hits, llm_calls, suggestions_accepted, suggestions_edited,
			suggestions_rejected, implicit_approved, implicit_rejected, avg_confidence,
			confidence_samples, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (day) DO UPDATE SET
			kb_hits = daily_metrics.kb_hits + excluded.kb_hits,
			llm_calls = daily_metrics.llm_calls + excluded.llm_calls,
			suggestions_accepted = daily_metrics.suggestions_accepted + excluded.suggestions_accepted,
			suggestions_edited = daily_metrics.suggestions_edited + excluded.suggestions_edited,
			suggestions_rejected = daily_metrics.suggestions_rejected + excluded.suggestions_rejected,
			implicit_approved = daily_metrics.implicit_approved + excluded.implicit_approved,
			implicit_rejected = daily_metrics.implicit_rejected + excluded.implicit_rejected,
			avg_confidence = CASE
				WHEN daily_metrics.confidence_samples + excluded.confidence_samples = 0 THEN daily_metrics.avg_confidence
				ELSE (daily_metrics.avg_confidence * daily_metrics.confidence_samples
					+ excluded.avg_confidence * excluded.confidence_samples)
					/ (daily_metrics.confidence_samples + excluded.confidence_samples)
			END,
			confidence_samples = daily_metrics.confidence_samples + excluded.confidence_samples,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		delta.Day, delta.KBHits, delta.LLMCalls, delta.SuggestionsAccepted, delta.SuggestionsEdited,
		delta.SuggestionsRejected, delta.ImplicitApproved, delta.ImplicitRejected, delta.AvgConfidence,
		delta.ConfidenceSamples, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert daily metric: %w", err)
	}
	return nil
}

const dailyMetricColumns = `day, kb_hits, llm_calls, suggestions_accepted, suggestions_edited,
		suggestions_rejected, implicit_approved, implicit_rejected, avg_confidence,
		confidence_samples, updated_at`

func scanDailyMetric(row rowScanner) (*DailyMetric, error) {
	m := &DailyMetric{}
	err := row.Scan(
		&m.Day, &m.KBHits, &m.LLMCalls, &m.SuggestionsAccepted, &m.SuggestionsEdited,
		&m.SuggestionsRejected, &m.ImplicitApproved, &m.ImplicitRejected, &m.AvgConfidence,
		&m.ConfidenceSamples, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Get returns the row for a single day.
func (r *MetricsRepository) Get(ctx context.Context, day string) (*DailyMetric, error) {
	query := `SELECT ` + dailyMetricColumns + ` FROM daily_metrics WHERE day = $1`
	m, err := scanDailyMetric(r.db.QueryRowContext(ctx, query, day))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// Range returns rows with fromDay <= day <= toDay, oldest first.
func (r *MetricsRepository) Range(ctx context.Context, fromDay, toDay string) ([]*DailyMetric, error) {
	query := `SELECT ` + dailyMetricColumns + `
		FROM daily_metrics
		WHERE day >= $1 AND day <= $2
		ORDER BY day ASC`
	rows, err := r.db.QueryContext(ctx, query, fromDay, toDay)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*DailyMetric
	for rows.Next() {
		m, err := scanDailyMetric(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Package monitoring provides the knowledge-base audit trail and housekeeping
// of implicit-feedback state.
package monitoring

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/cache"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
)

// DefaultAuditChannel is the pub/sub channel audit events are published on.
const DefaultAuditChannel = "kb.events"

// AuditAction names a mutation of knowledge state.
type AuditAction string

const (
	AuditKnowledgeCreated   AuditAction = "kb_created"
	AuditKnowledgeMerged    AuditAction = "kb_merged"
	AuditConfidenceChanged  AuditAction = "kb_confidence_changed"
	AuditFAQUpserted        AuditAction = "faq_upserted"
	AuditPendingExpired     AuditAction = "pending_expired"
	AuditFeedbackRecorded   AuditAction = "feedback_recorded"
	AuditImplicitResolution AuditAction = "implicit_resolved"
	AuditTokensRepaired     AuditAction = "kb_tokens_repaired"
)

// AuditEvent represents an auditable action.
type AuditEvent struct {
	ID           uuid.UUID              `json:"id"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   uuid.UUID              `json:"resource_id"`
	Action       AuditAction            `json:"action"`
	Operator     string                 `json:"operator"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	OccurredAt   time.Time              `json:"occurred_at"`
}

// AuditLogger writes audit events to the structured log and publishes them.
// A nil *AuditLogger discards events.
type AuditLogger struct {
	logger    *observability.Logger
	publisher cache.Publisher
	channel   string
}

// NewAuditLogger creates a new audit logger. publisher may be nil.
func NewAuditLogger(logger *observability.Logger, publisher cache.Publisher) *AuditLogger {
	if publisher == nil {
		publisher = cache.NopPublisher{}
	}
	return &AuditLogger{
		logger:    logger,
		publisher: publisher,
		channel:   DefaultAuditChannel,
	}
}

// LogEvent records an audit event. Publishing failures are logged, never
// returned, so auditing cannot fail a chat request.
func (a *AuditLogger) LogEvent(ctx context.Context, event AuditEvent) {
	if a == nil {
		return
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	a.logger.Info().
		Str("event_id", event.ID.String()).
		Str("resource_type", event.ResourceType).
		Str("resource_id", event.ResourceID.String()).
		Str("action", string(event.Action)).
		Str("operator", event.Operator).
		Msg("Audit event")

	if err := a.publisher.Publish(ctx, a.channel, event); err != nil {
		a.logger.Warn().Err(err).Str("channel", a.channel).Msg("Failed to publish audit event")
	}
}

// LogKnowledgeCreated records a newly learned entry.
func (a *AuditLogger) LogKnowledgeCreated(ctx context.Context, entry *storage.KnowledgeEntry, operator string) {
	a.LogEvent(ctx, AuditEvent{
		ResourceType: "knowledge_entry",
		ResourceID:   entry.ID,
		Action:       AuditKnowledgeCreated,
		Operator:     operator,
		Payload: map[string]interface{}{
			"question":   entry.QuestionNormalized,
			"confidence": entry.Confidence,
			"source":     string(entry.Source),
		},
	})
}

// LogKnowledgeMerged records a learn call that merged into an existing entry.
func (a *AuditLogger) LogKnowledgeMerged(ctx context.Context, entry *storage.KnowledgeEntry, previousConfidence float64, operator string) {
	a.LogEvent(ctx, AuditEvent{
		ResourceType: "knowledge_entry",
		ResourceID:   entry.ID,
		Action:       AuditKnowledgeMerged,
		Operator:     operator,
		Payload: map[string]interface{}{
			"question":            entry.QuestionNormalized,
			"previous_confidence": previousConfidence,
			"confidence":          entry.Confidence,
		},
	})
}

// LogConfidenceChange records a feedback-driven confidence delta.
func (a *AuditLogger) LogConfidenceChange(ctx context.Context, entryID uuid.UUID, from, to float64, reason, operator string) {
	a.LogEvent(ctx, AuditEvent{
		ResourceType: "knowledge_entry",
		ResourceID:   entryID,
		Action:       AuditConfidenceChanged,
		Operator:     operator,
		Payload: map[string]interface{}{
			"from":   from,
			"to":     to,
			"reason": reason,
		},
	})
}

// LogFAQUpserted records an admin FAQ write.
func (a *AuditLogger) LogFAQUpserted(ctx context.Context, faq *storage.FaqEntry, created bool, operator string) {
	a.LogEvent(ctx, AuditEvent{
		ResourceType: "faq_entry",
		ResourceID:   faq.ID,
		Action:       AuditFAQUpserted,
		Operator:     operator,
		Payload: map[string]interface{}{
			"category": faq.Category,
			"question": faq.Question,
			"created":  created,
			"active":   faq.Active,
		},
	})
}

// LogFeedback records an explicit admin decision on a response log.
func (a *AuditLogger) LogFeedback(ctx context.Context, logID uuid.UUID, action storage.FeedbackAction, operator string) {
	a.LogEvent(ctx, AuditEvent{
		ResourceType: "response_log",
		ResourceID:   logID,
		Action:       AuditFeedbackRecorded,
		Operator:     operator,
		Payload:      map[string]interface{}{"action": string(action)},
	})
}

// LogImplicitResolution records how a pending implicit-feedback row closed.
func (a *AuditLogger) LogImplicitResolution(ctx context.Context, pending *storage.PendingFeedback, resolution storage.Resolution) {
	a.LogEvent(ctx, AuditEvent{
		ResourceType: "pending_feedback",
		ResourceID:   pending.ID,
		Action:       AuditImplicitResolution,
		Operator:     "candidate:" + pending.CandidateID,
		Payload: map[string]interface{}{
			"log_id":           pending.LogID.String(),
			"resolution":       string(resolution),
			"messages_checked": pending.MessagesChecked,
		},
	})
}

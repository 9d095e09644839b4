package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/learning"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/metrics"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
)

var (
	// ErrInvalidAction is returned for an action outside the known set.
	ErrInvalidAction = errors.New("invalid feedback action")
	// ErrEditedAnswerRequired is returned for an edit without replacement text.
	ErrEditedAnswerRequired = errors.New("edited feedback requires the edited answer")
	// ErrAlreadyReviewed is returned when a log already carries a decision.
	ErrAlreadyReviewed = errors.New("response already reviewed")
)

// logStatusFor maps an admin action onto the log lifecycle. An approved
// suggestion is the one that went out.
func logStatusFor(action storage.FeedbackAction) storage.LogStatus {
	switch action {
	case storage.FeedbackApproved:
		return storage.LogStatusSent
	case storage.FeedbackEdited:
		return storage.LogStatusEdited
	case storage.FeedbackRejected:
		return storage.LogStatusRejected
	default:
		return storage.LogStatusDismissed
	}
}

// RecordFeedback applies an admin decision to a response log. Feedback on a
// log that no longer exists is logged and ignored.
func (e *Engine) RecordFeedback(ctx context.Context, logID uuid.UUID, action storage.FeedbackAction, editedAnswer *string, operator string) error {
	if !action.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	if action == storage.FeedbackEdited && (editedAnswer == nil || strings.TrimSpace(*editedAnswer) == "") {
		return ErrEditedAnswerRequired
	}
	if operator == "" {
		operator = "admin"
	}

	log := e.logger.WithContext(ctx).WithOperation("record_feedback")

	entry, err := e.stores.Logs.GetByID(ctx, logID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Warn().Str("log_id", logID.String()).Str("action", string(action)).Msg("Feedback for unknown response log ignored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load response log: %w", err)
	}

	var final *string
	switch action {
	case storage.FeedbackApproved:
		final = &entry.AIResponse
	case storage.FeedbackEdited:
		final = editedAnswer
	}

	if err := e.stores.Logs.ApplyFeedback(ctx, logID, logStatusFor(action), action, final, e.now()); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			log.Warn().Str("log_id", logID.String()).Msg("Response log removed before feedback was applied")
			return nil
		case errors.Is(err, storage.ErrConflict):
			return ErrAlreadyReviewed
		}
		return fmt.Errorf("apply feedback: %w", err)
	}

	if entry.KBEntryID != nil {
		e.applyExplicitDelta(ctx, *entry.KBEntryID, action, editedAnswer, operator)
	}

	if entry.Source == storage.ReplySourceLLM {
		switch {
		case action == storage.FeedbackApproved:
			e.learn(ctx, entry.IncomingMessage, *final, learning.Metadata{
				Intent:   entry.IntentDetected,
				Source:   storage.EntrySourceLLM,
				Operator: operator,
			})
		case action == storage.FeedbackEdited && e.config.Learning.LearnFromEdits:
			e.learn(ctx, entry.IncomingMessage, *final, learning.Metadata{
				Intent:   entry.IntentDetected,
				Source:   storage.EntrySourceAdmin,
				Operator: operator,
			})
		}
	}

	switch action {
	case storage.FeedbackApproved:
		e.recordTraining(ctx, logID, entry.IncomingMessage, *final, QualityApproved, string(action))
	case storage.FeedbackEdited:
		e.recordTraining(ctx, logID, entry.IncomingMessage, *final, QualityEdited, string(action))
	}

	e.count(ctx, metrics.Action(action))
	e.audit.LogFeedback(ctx, logID, action, operator)

	log.Info().
		Str("log_id", logID.String()).
		Str("action", string(action)).
		Str("source", string(entry.Source)).
		Msg("Feedback recorded")
	return nil
}

func (e *Engine) applyExplicitDelta(ctx context.Context, entryID uuid.UUID, action storage.FeedbackAction, editedAnswer *string, operator string) {
	cfg := e.config.Learning
	switch action {
	case storage.FeedbackApproved:
		e.adjustConfidence(ctx, entryID, cfg.BoostApprove, func(k *storage.KnowledgeEntry) {
			k.SuccessCount++
		}, string(action), operator)
	case storage.FeedbackEdited:
		if !cfg.LearnFromEdits {
			return
		}
		e.adjustConfidence(ctx, entryID, cfg.BoostEdit, func(k *storage.KnowledgeEntry) {
			k.Answer = *editedAnswer
			k.EditCount++
		}, string(action), operator)
	case storage.FeedbackRejected:
		e.adjustConfidence(ctx, entryID, -cfg.PenaltyReject, func(k *storage.KnowledgeEntry) {
			k.RejectCount++
		}, string(action), operator)
	}
}

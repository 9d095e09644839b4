package feedback

import (
	"context"
	"errors"
	"fmt"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/learning"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/metrics"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
)

// ImplicitOutcome reports what happened to one pending record.
type ImplicitOutcome struct {
	Pending        *storage.PendingFeedback `json:"pending"`
	Classification Classification           `json:"classification"`
	Repeated       bool                     `json:"repeated"`
	// Resolution is nil while the record stays open.
	Resolution *storage.Resolution `json:"resolution,omitempty"`
}

// ProcessImplicitFeedback reads a candidate's inbound message as a verdict
// on their recent auto-sent replies. Each open record inside the window is
// checked once per message and resolved on the first clear signal, or as
// neutral after NeutralAfter checks without one.
func (e *Engine) ProcessImplicitFeedback(ctx context.Context, candidateID, message string) ([]ImplicitOutcome, error) {
	cfg := e.config.Implicit
	if !cfg.Enabled {
		return nil, nil
	}

	log := e.logger.WithContext(ctx).WithOperation("implicit_feedback").WithCandidate(candidateID)
	now := e.now().UTC()

	open, err := e.stores.Pending.ListOpen(ctx, candidateID, now.Add(-cfg.Window), cfg.MaxMessages)
	if err != nil {
		return nil, fmt.Errorf("list pending feedback: %w", err)
	}
	if len(open) == 0 {
		return nil, nil
	}

	classification := e.classifier.Classify(message)
	outcomes := make([]ImplicitOutcome, 0, len(open))

	for _, p := range open {
		checked, err := e.stores.Pending.IncrementChecked(ctx, p.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return outcomes, fmt.Errorf("increment pending feedback: %w", err)
		}
		p.MessagesChecked = checked

		outcome := ImplicitOutcome{
			Pending:        p,
			Classification: classification,
			Repeated:       IsRepeatedQuestion(p.OriginalQuestion, message),
		}

		resolution, decided := e.decide(outcome, checked)
		if !decided {
			outcomes = append(outcomes, outcome)
			continue
		}

		won, err := e.stores.Pending.Resolve(ctx, p.ID, resolution, now)
		if err != nil {
			return outcomes, err
		}
		if !won {
			// Resolved concurrently by another message or the sweeper.
			continue
		}
		outcome.Resolution = &resolution
		outcomes = append(outcomes, outcome)

		log.Info().
			Str("pending_id", p.ID.String()).
			Str("resolution", string(resolution)).
			Str("rule", classification.Rule).
			Bool("repeated", outcome.Repeated).
			Int("messages_checked", checked).
			Msg("Implicit feedback resolved")
		e.audit.LogImplicitResolution(ctx, p, resolution)

		e.applyImplicit(ctx, p, resolution)
	}

	return outcomes, nil
}

// decide picks a resolution. A repeated question outweighs any sentiment.
func (e *Engine) decide(o ImplicitOutcome, checked int) (storage.Resolution, bool) {
	cfg := e.config.Implicit
	switch {
	case o.Repeated:
		return storage.ResolutionImplicitRejected, true
	case o.Classification.Signal == SignalPositive && o.Classification.Confidence >= cfg.MinSignalConfidence:
		return storage.ResolutionImplicitApproved, true
	case o.Classification.Signal == SignalNegative:
		return storage.ResolutionImplicitRejected, true
	case checked >= cfg.NeutralAfter:
		return storage.ResolutionNeutral, true
	}
	return "", false
}

func (e *Engine) applyImplicit(ctx context.Context, p *storage.PendingFeedback, resolution storage.Resolution) {
	if resolution != storage.ResolutionImplicitApproved && resolution != storage.ResolutionImplicitRejected {
		return
	}

	reply, err := e.stores.Logs.GetByID(ctx, p.LogID)
	if err != nil {
		e.logger.Warn().Err(err).Str("log_id", p.LogID.String()).Msg("Response log for implicit feedback unavailable")
	}

	cfg := e.config.Implicit
	if resolution == storage.ResolutionImplicitApproved {
		if reply != nil && reply.KBEntryID != nil {
			e.adjustConfidence(ctx, *reply.KBEntryID, cfg.ApproveDelta, nil, string(resolution), "candidate")
		}
		if reply != nil && reply.Source == storage.ReplySourceLLM {
			confidence := cfg.LearnedConfidence
			e.learn(ctx, p.OriginalQuestion, reply.AIResponse, learning.Metadata{
				Intent:     reply.IntentDetected,
				Confidence: &confidence,
				Source:     storage.EntrySourceImplicitApproved,
				Operator:   "candidate",
			})
		}
		if reply != nil {
			e.recordTraining(ctx, reply.ID, p.OriginalQuestion, reply.AIResponse, QualityImplicit, string(resolution))
		}
		e.count(ctx, metrics.ActionImplicitApproved)
		return
	}

	if reply != nil && reply.KBEntryID != nil {
		e.adjustConfidence(ctx, *reply.KBEntryID, -cfg.RejectDelta, nil, string(resolution), "candidate")
	}
	e.count(ctx, metrics.ActionImplicitRejected)
}

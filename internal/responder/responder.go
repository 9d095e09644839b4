// Package responder is the chat-facing entry point: it answers from the
// knowledge base when it can, falls back to the external model when it
// cannot, and records every reply for review and implicit feedback.
package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/config"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/feedback"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/metrics"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/retrieval"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
)

var (
	// ErrNoAnswer means neither the knowledge base nor the fallback produced
	// a reply.
	ErrNoAnswer = errors.New("no answer available")
	// ErrEmptyMessage is returned for a blank inbound message.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrInvalidMode is returned for an unknown reply mode.
	ErrInvalidMode = errors.New("invalid reply mode")
)

// FallbackAnswer is a reply produced outside the knowledge base.
type FallbackAnswer struct {
	Text       string
	TokensUsed int
}

// Fallback produces an answer when the knowledge base has none.
type Fallback interface {
	Answer(ctx context.Context, question string) (*FallbackAnswer, error)
}

// FallbackFunc adapts a function to Fallback.
type FallbackFunc func(ctx context.Context, question string) (*FallbackAnswer, error)

// Answer calls f.
func (f FallbackFunc) Answer(ctx context.Context, question string) (*FallbackAnswer, error) {
	return f(ctx, question)
}

// Finder looks up a local answer.
type Finder interface {
	FindAnswer(ctx context.Context, question string) (*retrieval.Match, error)
}

// UsageRecorder counts where replies came from.
type UsageRecorder interface {
	RecordKBHit(ctx context.Context, source storage.ReplySource, confidence float64) error
	RecordLLMCall(ctx context.Context) error
}

// ImplicitProcessor reads inbound messages as feedback.
type ImplicitProcessor interface {
	ProcessImplicitFeedback(ctx context.Context, candidateID, message string) ([]feedback.ImplicitOutcome, error)
}

// LogStore persists reply logs.
type LogStore interface {
	Create(ctx context.Context, l *storage.ResponseLog) error
}

// PendingStore opens implicit-feedback records.
type PendingStore interface {
	Create(ctx context.Context, p *storage.PendingFeedback) error
}

// Reply is the outcome of answering one candidate message.
type Reply struct {
	LogID          uuid.UUID           `json:"log_id"`
	CandidateID    string              `json:"candidate_id"`
	Answer         string              `json:"answer"`
	Source         storage.ReplySource `json:"source"`
	Confidence     float64             `json:"confidence"`
	Mode           storage.ReplyMode   `json:"mode"`
	Status         storage.LogStatus   `json:"status"`
	KBEntryID      *uuid.UUID          `json:"kb_entry_id,omitempty"`
	FAQID          *uuid.UUID          `json:"faq_id,omitempty"`
	ResponseTimeMs int64               `json:"response_time_ms"`
}

// Deps bundles the collaborators of a Responder.
type Deps struct {
	Finder     Finder
	Fallback   Fallback
	Usage      UsageRecorder
	Implicit   ImplicitProcessor
	Logs       LogStore
	Pending    PendingStore
	Collectors *metrics.Collectors
}

// Responder answers candidate messages.
type Responder struct {
	deps   Deps
	config config.LearningConfig
	logger *observability.Logger
}

// New creates a responder. Fallback, Implicit and Collectors may be nil.
func New(deps Deps, cfg config.LearningConfig, logger *observability.Logger) *Responder {
	return &Responder{deps: deps, config: cfg, logger: logger}
}

// ParseMode validates a reply mode. An empty string yields def.
func ParseMode(s string, def storage.ReplyMode) (storage.ReplyMode, error) {
	switch storage.ReplyMode(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return def, nil
	case storage.ReplyModeAuto:
		return storage.ReplyModeAuto, nil
	case storage.ReplyModeSuggest:
		return storage.ReplyModeSuggest, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// DefaultMode is the configured reply mode.
func (r *Responder) DefaultMode() storage.ReplyMode {
	mode, err := ParseMode(r.config.AutoReplyMode, storage.ReplyModeSuggest)
	if err != nil {
		return storage.ReplyModeSuggest
	}
	return mode
}

// Reply answers message for candidateID. In auto mode the reply is marked
// sent and watched for implicit feedback; in suggest mode it waits for an
// admin. A retrieval failure degrades to the fallback.
func (r *Responder) Reply(ctx context.Context, candidateID, message string, mode storage.ReplyMode) (*Reply, error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}
	if mode == "" {
		mode = r.DefaultMode()
	}
	if mode != storage.ReplyModeAuto && mode != storage.ReplyModeSuggest {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	log := r.logger.WithContext(ctx).WithOperation("reply").WithCandidate(candidateID)
	start := time.Now()

	match, err := r.deps.Finder.FindAnswer(ctx, message)
	if err != nil {
		log.Warn().Err(err).Msg("Retrieval failed, falling back to the model")
		match = nil
	}

	reply := &Reply{CandidateID: candidateID, Mode: mode}
	var (
		tokens int
		intent *string
	)

	if match != nil {
		reply.Answer = match.Answer
		reply.Source = match.Source
		reply.Confidence = match.Confidence
		reply.KBEntryID = match.KnowledgeEntryID()
		if match.Source == storage.ReplySourceFAQ {
			id := match.EntryID
			reply.FAQID = &id
		}
		intent = match.Intent
		if err := r.deps.Usage.RecordKBHit(ctx, match.Source, match.Confidence); err != nil {
			log.Warn().Err(err).Msg("Failed to record knowledge base hit")
		}
		r.deps.Collectors.ObserveRetrieval("hit", time.Since(start).Seconds())
	} else {
		r.deps.Collectors.ObserveRetrieval("miss", time.Since(start).Seconds())
		if r.deps.Fallback == nil {
			return nil, ErrNoAnswer
		}
		answer, err := r.deps.Fallback.Answer(ctx, message)
		if err != nil {
			log.Error().Err(err).Msg("Fallback failed")
			return nil, fmt.Errorf("%w: %v", ErrNoAnswer, err)
		}
		if answer == nil || strings.TrimSpace(answer.Text) == "" {
			return nil, ErrNoAnswer
		}
		reply.Answer = answer.Text
		reply.Source = storage.ReplySourceLLM
		tokens = answer.TokensUsed
		if err := r.deps.Usage.RecordLLMCall(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to record model call")
		}
	}

	reply.Status = storage.LogStatusGenerated
	if mode == storage.ReplyModeAuto {
		reply.Status = storage.LogStatusSent
	}
	reply.ResponseTimeMs = time.Since(start).Milliseconds()

	entry := &storage.ResponseLog{
		CandidateID:     candidateID,
		IncomingMessage: message,
		AIResponse:      reply.Answer,
		Mode:            mode,
		Source:          reply.Source,
		KBEntryID:       reply.KBEntryID,
		Confidence:      reply.Confidence,
		IntentDetected:  intent,
		ResponseTimeMs:  reply.ResponseTimeMs,
		TokensUsed:      tokens,
		Status:          reply.Status,
	}
	if err := r.LogResponse(ctx, entry); err != nil {
		return nil, err
	}
	reply.LogID = entry.ID

	log.Info().
		Str("log_id", entry.ID.String()).
		Str("source", string(reply.Source)).
		Str("mode", string(mode)).
		Float64("confidence", reply.Confidence).
		Int64("response_time_ms", reply.ResponseTimeMs).
		Msg("Reply produced")
	return reply, nil
}

// LogResponse persists a reply log. Auto-sent replies also open a pending
// implicit-feedback record; failing to open it only loses that signal.
func (r *Responder) LogResponse(ctx context.Context, entry *storage.ResponseLog) error {
	if err := r.deps.Logs.Create(ctx, entry); err != nil {
		return fmt.Errorf("log response: %w", err)
	}
	if entry.Mode != storage.ReplyModeAuto || r.deps.Pending == nil {
		return nil
	}
	pending := &storage.PendingFeedback{
		CandidateID:      entry.CandidateID,
		LogID:            entry.ID,
		OriginalQuestion: entry.IncomingMessage,
	}
	if err := r.deps.Pending.Create(ctx, pending); err != nil {
		r.logger.Warn().Err(err).Str("log_id", entry.ID.String()).Msg("Failed to open pending feedback")
	}
	return nil
}

// HandleInbound runs the implicit-feedback channel for a new candidate
// message. Failures are logged and never reach the chat pipeline.
func (r *Responder) HandleInbound(ctx context.Context, candidateID, message string) []feedback.ImplicitOutcome {
	if r.deps.Implicit == nil {
		return nil
	}
	outcomes, err := r.deps.Implicit.ProcessImplicitFeedback(ctx, candidateID, message)
	if err != nil {
		r.logger.WithContext(ctx).WithCandidate(candidateID).Warn().Err(err).Msg("Implicit feedback failed")
	}
	return outcomes
}

// Package storage provides database models and repositories for the Knowledge Engine.
package storage

import (
	"time"

	"github.com/google/uuid"
)

// ReplyMode controls whether a generated reply is sent straight away or
// queued for an admin.
type ReplyMode string

const (
	ReplyModeAuto    ReplyMode = "auto"
	ReplyModeSuggest ReplyMode = "suggest"
)

// ReplySource records which tier produced a reply.
type ReplySource string

const (
	ReplySourceFAQ           ReplySource = "faq"
	ReplySourceKnowledgeBase ReplySource = "knowledge_base"
	ReplySourceLLM           ReplySource = "llm"
)

// EntrySource records how a knowledge entry was learned.
type EntrySource string

const (
	EntrySourceLLM              EntrySource = "llm"
	EntrySourceAdmin            EntrySource = "admin"
	EntrySourceFAQ              EntrySource = "faq"
	EntrySourceImplicitApproved EntrySource = "implicit_approved"
)

// LogStatus is the lifecycle state of a response log.
type LogStatus string

const (
	LogStatusGenerated LogStatus = "generated"
	LogStatusSent      LogStatus = "sent"
	LogStatusEdited    LogStatus = "edited"
	LogStatusRejected  LogStatus = "rejected"
	LogStatusDismissed LogStatus = "dismissed"
)

// FeedbackAction is an admin decision on a reply.
type FeedbackAction string

const (
	FeedbackApproved  FeedbackAction = "approved"
	FeedbackEdited    FeedbackAction = "edited"
	FeedbackRejected  FeedbackAction = "rejected"
	FeedbackDismissed FeedbackAction = "dismissed"
)

// Valid reports whether a is a known action.
func (a FeedbackAction) Valid() bool {
	switch a {
	case FeedbackApproved, FeedbackEdited, FeedbackRejected, FeedbackDismissed:
		return true
	}
	return false
}

// Resolution is how a pending implicit-feedback record was closed.
type Resolution string

const (
	ResolutionImplicitApproved Resolution = "implicit_approved"
	ResolutionImplicitRejected Resolution = "implicit_rejected"
	ResolutionNeutral          Resolution = "neutral"
	ResolutionExpired          Resolution = "expired"
)

// KnowledgeEntry is a learned question/answer pair.
type KnowledgeEntry struct {
	ID                 uuid.UUID   `json:"id" db:"id"`
	Question           string      `json:"question" db:"question"`
	QuestionNormalized string      `json:"question_normalized" db:"question_normalized"`
	QuestionTokens     []string    `json:"question_tokens" db:"question_tokens"`
	Answer             string      `json:"answer" db:"answer"`
	Intent             *string     `json:"intent,omitempty" db:"intent"`
	Category           *string     `json:"category,omitempty" db:"category"`
	Confidence         float64     `json:"confidence" db:"confidence"`
	UseCount           int         `json:"use_count" db:"use_count"`
	SuccessCount       int         `json:"success_count" db:"success_count"`
	EditCount          int         `json:"edit_count" db:"edit_count"`
	RejectCount        int         `json:"reject_count" db:"reject_count"`
	Source             EntrySource `json:"source" db:"source"`
	Version            int64       `json:"version" db:"version"`
	LastUsedAt         *time.Time  `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt          time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at" db:"updated_at"`
}

// FaqEntry is a curated, admin-authored answer.
type FaqEntry struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Category  string    `json:"category" db:"category"`
	Question  string    `json:"question" db:"question"`
	Answer    string    `json:"answer" db:"answer"`
	Keywords  []string  `json:"keywords" db:"keywords"`
	Priority  int       `json:"priority" db:"priority"`
	UseCount  int       `json:"use_count" db:"use_count"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// KeywordsMalformed is set when the stored keyword list could not be
	// decoded. Keywords is empty in that case.
	KeywordsMalformed bool `json:"keywords_malformed,omitempty" db:"-"`
}

// ResponseLog is one automated reply attempt.
type ResponseLog struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	CandidateID     string          `json:"candidate_id" db:"candidate_id"`
	IncomingMessage string          `json:"incoming_message" db:"incoming_message"`
	AIResponse      string          `json:"ai_response" db:"ai_response"`
	FinalResponse   *string         `json:"final_response,omitempty" db:"final_response"`
	Mode            ReplyMode       `json:"mode" db:"mode"`
	Source          ReplySource     `json:"source" db:"source"`
	KBEntryID       *uuid.UUID      `json:"kb_entry_id,omitempty" db:"kb_entry_id"`
	Confidence      float64         `json:"confidence" db:"confidence"`
	IntentDetected  *string         `json:"intent_detected,omitempty" db:"intent_detected"`
	ResponseTimeMs  int64           `json:"response_time_ms" db:"response_time_ms"`
	TokensUsed      int             `json:"tokens_used" db:"tokens_used"`
	Status          LogStatus       `json:"status" db:"status"`
	AdminAction     *FeedbackAction `json:"admin_action,omitempty" db:"admin_action"`
	FeedbackAt      *time.Time      `json:"feedback_at,omitempty" db:"feedback_at"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

// PendingFeedback links a candidate to an auto-sent reply awaiting an
// implicit signal.
type PendingFeedback struct {
	ID               uuid.UUID   `json:"id" db:"id"`
	CandidateID      string      `json:"candidate_id" db:"candidate_id"`
	LogID            uuid.UUID   `json:"log_id" db:"log_id"`
	OriginalQuestion string      `json:"original_question" db:"original_question"`
	MessagesChecked  int         `json:"messages_checked" db:"messages_checked"`
	Resolved         bool        `json:"resolved" db:"resolved"`
	Resolution       *Resolution `json:"resolution,omitempty" db:"resolution"`
	CreatedAt        time.Time   `json:"created_at" db:"created_at"`
	ResolvedAt       *time.Time  `json:"resolved_at,omitempty" db:"resolved_at"`
}

// DailyMetric holds one calendar day of counters. Day is formatted YYYY-MM-DD.
type DailyMetric struct {
	Day                 string    `json:"day" db:"day"`
	KBHits              int64     `json:"kb_hits" db:"kb_hits"`
	LLMCalls            int64     `json:"llm_calls" db:"llm_calls"`
	SuggestionsAccepted int64     `json:"suggestions_accepted" db:"suggestions_accepted"`
	SuggestionsEdited   int64     `json:"suggestions_edited" db:"suggestions_edited"`
	SuggestionsRejected int64     `json:"suggestions_rejected" db:"suggestions_rejected"`
	ImplicitApproved    int64     `json:"implicit_approved" db:"implicit_approved"`
	ImplicitRejected    int64     `json:"implicit_rejected" db:"implicit_rejected"`
	AvgConfidence       float64   `json:"avg_confidence" db:"avg_confidence"`
	ConfidenceSamples   int64     `json:"confidence_samples" db:"confidence_samples"`
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"`
}

// DayKey formats t as a daily_metrics key in UTC.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// TrainingRecord is an approved input/output pair kept for offline export.
type TrainingRecord struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	LogID        *uuid.UUID `json:"log_id,omitempty" db:"log_id"`
	InputText    string     `json:"input" db:"input_text"`
	OutputText   string     `json:"output" db:"output_text"`
	QualityScore float64    `json:"quality_score" db:"quality_score"`
	Source       string     `json:"source" db:"source"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

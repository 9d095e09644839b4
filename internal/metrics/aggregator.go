package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/config"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
)

// Action is a feedback outcome counted in the daily row.
type Action string

const (
	ActionApproved         Action = "approved"
	ActionEdited           Action = "edited"
	ActionRejected         Action = "rejected"
	ActionDismissed        Action = "dismissed"
	ActionImplicitApproved Action = "implicit_approved"
	ActionImplicitRejected Action = "implicit_rejected"
)

// Store is the persistence the aggregator needs.
type Store interface {
	Add(ctx context.Context, delta storage.DailyMetric) error
	Range(ctx context.Context, fromDay, toDay string) ([]*storage.DailyMetric, error)
}

// Stats summarizes the trailing window of daily metrics.
type Stats struct {
	Days               int                    `json:"days"`
	From               string                 `json:"from"`
	To                 string                 `json:"to"`
	KBHits             int64                  `json:"kb_hits"`
	LLMCalls           int64                  `json:"llm_calls"`
	HitRate            float64                `json:"hit_rate"` // percentage
	Accepted           int64                  `json:"suggestions_accepted"`
	Edited             int64                  `json:"suggestions_edited"`
	Rejected           int64                  `json:"suggestions_rejected"`
	ImplicitApproved   int64                  `json:"implicit_approved"`
	ImplicitRejected   int64                  `json:"implicit_rejected"`
	ApprovalRate       float64                `json:"approval_rate"` // percentage
	AvgConfidence      float64                `json:"avg_confidence"`
	CostPerCall        float64                `json:"cost_per_call"`
	EstimatedCostSaved float64                `json:"estimated_cost_saved"`
	Series             []*storage.DailyMetric `json:"series"`
}

// Aggregator upserts daily counters and mirrors them into Prometheus.
type Aggregator struct {
	store      Store
	collectors *Collectors
	config     config.MetricsConfig
	logger     *observability.Logger
	now        func() time.Time
}

// NewAggregator creates an aggregator. collectors may be nil.
func NewAggregator(store Store, collectors *Collectors, cfg config.MetricsConfig, logger *observability.Logger) *Aggregator {
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = 30
	}
	return &Aggregator{
		store:      store,
		collectors: collectors,
		config:     cfg,
		logger:     logger,
		now:        time.Now,
	}
}

func (a *Aggregator) today() string {
	return storage.DayKey(a.now())
}

// RecordKBHit counts a question answered locally. source is faq or
// knowledge_base and confidence feeds the day's running average.
func (a *Aggregator) RecordKBHit(ctx context.Context, source storage.ReplySource, confidence float64) error {
	if a.collectors != nil {
		a.collectors.replies.WithLabelValues(string(source)).Inc()
		a.collectors.matchConfidence.Observe(confidence)
		a.collectors.estimatedSaved.Add(a.config.CostPerLLMCall)
	}
	return a.store.Add(ctx, storage.DailyMetric{
		Day:               a.today(),
		KBHits:            1,
		AvgConfidence:     confidence,
		ConfidenceSamples: 1,
	})
}

// RecordLLMCall counts a question that fell back to the external model.
func (a *Aggregator) RecordLLMCall(ctx context.Context) error {
	if a.collectors != nil {
		a.collectors.replies.WithLabelValues(string(storage.ReplySourceLLM)).Inc()
	}
	return a.store.Add(ctx, storage.DailyMetric{Day: a.today(), LLMCalls: 1})
}

// UpdateDaily counts a feedback outcome in today's row. Dismissals only
// reach Prometheus.
func (a *Aggregator) UpdateDaily(ctx context.Context, action Action) error {
	if a.collectors != nil {
		a.collectors.feedback.WithLabelValues(string(action)).Inc()
	}

	delta := storage.DailyMetric{Day: a.today()}
	switch action {
	case ActionApproved:
		delta.SuggestionsAccepted = 1
	case ActionEdited:
		delta.SuggestionsEdited = 1
	case ActionRejected:
		delta.SuggestionsRejected = 1
	case ActionImplicitApproved:
		delta.ImplicitApproved = 1
	case ActionImplicitRejected:
		delta.ImplicitRejected = 1
	case ActionDismissed:
		return nil
	default:
		return fmt.Errorf("unknown metric action %q", action)
	}
	return a.store.Add(ctx, delta)
}

// GetStats aggregates the configured trailing window, today included.
func (a *Aggregator) GetStats(ctx context.Context) (*Stats, error) {
	return a.GetStatsForDays(ctx, a.config.StatsWindow)
}

// GetStatsForDays aggregates the last days calendar days, today included.
func (a *Aggregator) GetStatsForDays(ctx context.Context, days int) (*Stats, error) {
	if days <= 0 {
		days = a.config.StatsWindow
	}
	now := a.now().UTC()
	stats := &Stats{
		Days:        days,
		From:        storage.DayKey(now.AddDate(0, 0, -(days - 1))),
		To:          storage.DayKey(now),
		CostPerCall: a.config.CostPerLLMCall,
	}

	rows, err := a.store.Range(ctx, stats.From, stats.To)
	if err != nil {
		return nil, fmt.Errorf("load daily metrics: %w", err)
	}
	stats.Series = rows
	if stats.Series == nil {
		stats.Series = []*storage.DailyMetric{}
	}

	var confidenceSum float64
	var samples int64
	for _, m := range rows {
		stats.KBHits += m.KBHits
		stats.LLMCalls += m.LLMCalls
		stats.Accepted += m.SuggestionsAccepted
		stats.Edited += m.SuggestionsEdited
		stats.Rejected += m.SuggestionsRejected
		stats.ImplicitApproved += m.ImplicitApproved
		stats.ImplicitRejected += m.ImplicitRejected
		confidenceSum += m.AvgConfidence * float64(m.ConfidenceSamples)
		samples += m.ConfidenceSamples
	}

	if total := stats.KBHits + stats.LLMCalls; total > 0 {
		stats.HitRate = float64(stats.KBHits) / float64(total) * 100
	}
	if reviewed := stats.Accepted + stats.Edited + stats.Rejected; reviewed > 0 {
		stats.ApprovalRate = float64(stats.Accepted+stats.Edited) / float64(reviewed) * 100
	}
	if samples > 0 {
		stats.AvgConfidence = confidenceSum / float64(samples)
	}
	stats.EstimatedCostSaved = float64(stats.KBHits) * a.config.CostPerLLMCall

	a.logger.Debug().
		Int("days", days).
		Int64("kb_hits", stats.KBHits).
		Int64("llm_calls", stats.LLMCalls).
		Float64("hit_rate", stats.HitRate).
		Msg("Computed knowledge base stats")

	return stats, nil
}

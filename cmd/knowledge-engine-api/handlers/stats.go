package handlers

import (
	"net/http"
	"strconv"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/metrics"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
)

// StatsHandler serves learning statistics.
type StatsHandler struct {
	logger     *observability.Logger
	aggregator *metrics.Aggregator
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(logger *observability.Logger, aggregator *metrics.Aggregator) *StatsHandler {
	return &StatsHandler{logger: logger, aggregator: aggregator}
}

// Get handles GET /stats?days=.
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	var (
		stats *metrics.Stats
		err   error
	)
	if v := r.URL.Query().Get("days"); v != "" {
		days, convErr := strconv.Atoi(v)
		if convErr != nil || days <= 0 || days > 366 {
			writeError(w, http.StatusBadRequest, "invalid days", "")
			return
		}
		stats, err = h.aggregator.GetStatsForDays(r.Context(), days)
	} else {
		stats, err = h.aggregator.GetStats(r.Context())
	}
	if err != nil {
		h.logger.WithContext(r.Context()).Error().Err(err).Msg("Get stats failed")
		writeError(w, http.StatusInternalServerError, "stats failed", "")
		return
	}
	writeJSON(h.logger, w, http.StatusOK, stats)
}

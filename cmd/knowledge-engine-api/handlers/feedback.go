package handlers

import (
	"errors"
	"net/http"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/cmd/knowledge-engine-api/middleware"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/feedback"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
)

// FeedbackHandler exposes reply logs and the explicit review channel.
type FeedbackHandler struct {
	logger *observability.Logger
	engine *feedback.Engine
	logs   *storage.ResponseLogRepository
}

// NewFeedbackHandler creates a new feedback handler.
func NewFeedbackHandler(logger *observability.Logger, engine *feedback.Engine, logs *storage.ResponseLogRepository) *FeedbackHandler {
	return &FeedbackHandler{logger: logger, engine: engine, logs: logs}
}

// FeedbackRequestDTO is the body of POST /logs/{id}/feedback.
type FeedbackRequestDTO struct {
	Action       string  `json:"action"`
	EditedAnswer *string `json:"edited_answer,omitempty"`
}

// LogListDTO is a page of reply logs.
type LogListDTO struct {
	Logs   []*storage.ResponseLog `json:"logs"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
}

// ListLogs handles GET /logs?status=&candidate_id=.
func (h *FeedbackHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r, 50, 500)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid paging", err.Error())
		return
	}
	q := r.URL.Query()
	logs, err := h.logs.List(r.Context(), storage.ResponseLogFilter{
		Status:      storage.LogStatus(q.Get("status")),
		CandidateID: q.Get("candidate_id"),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		h.logger.WithContext(r.Context()).Error().Err(err).Msg("List logs failed")
		writeError(w, http.StatusInternalServerError, "list logs failed", "")
		return
	}
	if logs == nil {
		logs = []*storage.ResponseLog{}
	}
	writeJSON(h.logger, w, http.StatusOK, LogListDTO{Logs: logs, Limit: limit, Offset: offset})
}

// Record handles POST /logs/{id}/feedback.
func (h *FeedbackHandler) Record(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logID, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	var req FeedbackRequestDTO
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if _, err := h.logs.GetByID(ctx, logID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "log not found", "")
			return
		}
		h.logger.WithContext(ctx).Error().Err(err).Msg("Load log failed")
		writeError(w, http.StatusInternalServerError, "feedback failed", "")
		return
	}

	operator := middleware.OperatorFromContext(ctx)
	err = h.engine.RecordFeedback(ctx, logID, storage.FeedbackAction(req.Action), req.EditedAnswer, operator)
	switch {
	case errors.Is(err, feedback.ErrInvalidAction), errors.Is(err, feedback.ErrEditedAnswerRequired):
		writeError(w, http.StatusBadRequest, "invalid feedback", err.Error())
		return
	case errors.Is(err, feedback.ErrAlreadyReviewed):
		writeError(w, http.StatusConflict, "log already reviewed", "")
		return
	case err != nil:
		h.logger.WithContext(ctx).Error().Err(err).Str("log_id", logID.String()).Msg("Record feedback failed")
		writeError(w, http.StatusInternalServerError, "feedback failed", "")
		return
	}

	updated, err := h.logs.GetByID(ctx, logID)
	if err != nil {
		writeJSON(h.logger, w, http.StatusOK, map[string]string{"status": "recorded"})
		return
	}
	writeJSON(h.logger, w, http.StatusOK, updated)
}

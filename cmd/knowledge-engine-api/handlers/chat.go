package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/feedback"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/responder"
)

// ChatHandler serves the hooks called by the chat subsystem.
type ChatHandler struct {
	logger    *observability.Logger
	responder *responder.Responder
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(logger *observability.Logger, r *responder.Responder) *ChatHandler {
	return &ChatHandler{logger: logger, responder: r}
}

// ReplyRequestDTO is the body of POST /chat/reply.
type ReplyRequestDTO struct {
	CandidateID string `json:"candidate_id"`
	Message     string `json:"message"`
	Mode        string `json:"mode,omitempty"`
}

// InboundRequestDTO is the body of POST /chat/inbound.
type InboundRequestDTO struct {
	CandidateID string `json:"candidate_id"`
	Message     string `json:"message"`
}

// InboundResponseDTO reports the implicit-feedback outcome.
type InboundResponseDTO struct {
	Checked  int             `json:"checked"`
	Resolved []ResolutionDTO `json:"resolved"`
}

// ResolutionDTO is one pending reply closed by an inbound message.
type ResolutionDTO struct {
	LogID      string `json:"log_id"`
	Resolution string `json:"resolution"`
	Signal     string `json:"signal"`
	Rule       string `json:"rule,omitempty"`
	Repeated   bool   `json:"repeated"`
}

// Reply handles POST /chat/reply.
func (h *ChatHandler) Reply(w http.ResponseWriter, r *http.Request) {
	var req ReplyRequestDTO
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.CandidateID) == "" {
		writeError(w, http.StatusBadRequest, "candidate_id is required", "")
		return
	}

	mode, err := responder.ParseMode(req.Mode, h.responder.DefaultMode())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid mode", err.Error())
		return
	}

	reply, err := h.responder.Reply(r.Context(), req.CandidateID, req.Message, mode)
	switch {
	case errors.Is(err, responder.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "message is required", "")
		return
	case errors.Is(err, responder.ErrNoAnswer):
		writeError(w, http.StatusServiceUnavailable, "no answer available", err.Error())
		return
	case err != nil:
		h.logger.WithContext(r.Context()).Error().Err(err).Msg("Reply failed")
		writeError(w, http.StatusInternalServerError, "reply failed", "")
		return
	}

	writeJSON(h.logger, w, http.StatusOK, reply)
}

// Inbound handles POST /chat/inbound. It always answers 200 once the body
// is valid; feedback failures stay inside the engine.
func (h *ChatHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	var req InboundRequestDTO
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.CandidateID) == "" {
		writeError(w, http.StatusBadRequest, "candidate_id is required", "")
		return
	}

	outcomes := h.responder.HandleInbound(r.Context(), req.CandidateID, req.Message)
	writeJSON(h.logger, w, http.StatusOK, toInboundDTO(outcomes))
}

func toInboundDTO(outcomes []feedback.ImplicitOutcome) InboundResponseDTO {
	dto := InboundResponseDTO{Checked: len(outcomes), Resolved: []ResolutionDTO{}}
	for _, o := range outcomes {
		if o.Resolution == nil {
			continue
		}
		dto.Resolved = append(dto.Resolved, ResolutionDTO{
			LogID:      o.Pending.LogID.String(),
			Resolution: string(*o.Resolution),
			Signal:     string(o.Classification.Signal),
			Rule:       o.Classification.Rule,
			Repeated:   o.Repeated,
		})
	}
	return dto
}

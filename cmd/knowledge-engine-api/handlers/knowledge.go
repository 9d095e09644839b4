package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/cmd/knowledge-engine-api/middleware"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/ingest"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/observability"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/storage"
)

// KnowledgeHandler serves the admin view of the knowledge base and FAQ set.
type KnowledgeHandler struct {
	logger    *observability.Logger
	knowledge *storage.KnowledgeRepository
	faqs      *storage.FAQRepository
	pipeline  *ingest.Pipeline
}

// NewKnowledgeHandler creates a new knowledge handler.
func NewKnowledgeHandler(logger *observability.Logger, knowledge *storage.KnowledgeRepository, faqs *storage.FAQRepository, pipeline *ingest.Pipeline) *KnowledgeHandler {
	return &KnowledgeHandler{logger: logger, knowledge: knowledge, faqs: faqs, pipeline: pipeline}
}

// KnowledgeListDTO is a page of knowledge entries, highest confidence first.
type KnowledgeListDTO struct {
	Entries []*storage.KnowledgeEntry `json:"entries"`
	Total   int                       `json:"total"`
	Limit   int                       `json:"limit"`
	Offset  int                       `json:"offset"`
}

// FAQRequestDTO is the body of POST /faq.
type FAQRequestDTO struct {
	Category string   `json:"category"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Keywords []string `json:"keywords"`
	Priority int      `json:"priority"`
	Active   *bool    `json:"active,omitempty"`
}

// FAQUpsertDTO reports the stored FAQ.
type FAQUpsertDTO struct {
	Created bool              `json:"created"`
	FAQ     *storage.FaqEntry `json:"faq"`
}

// ListKnowledge handles GET /kb.
func (h *KnowledgeHandler) ListKnowledge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, offset, err := pageParams(r, 50, 500)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid paging", err.Error())
		return
	}

	entries, err := h.knowledge.List(ctx, limit, offset)
	if err != nil {
		h.logger.WithContext(ctx).Error().Err(err).Msg("List knowledge failed")
		writeError(w, http.StatusInternalServerError, "list knowledge failed", "")
		return
	}
	total, err := h.knowledge.Count(ctx)
	if err != nil {
		h.logger.WithContext(ctx).Warn().Err(err).Msg("Count knowledge failed")
	}
	if entries == nil {
		entries = []*storage.KnowledgeEntry{}
	}
	writeJSON(h.logger, w, http.StatusOK, KnowledgeListDTO{Entries: entries, Total: total, Limit: limit, Offset: offset})
}

// GetKnowledge handles GET /kb/{id}.
func (h *KnowledgeHandler) GetKnowledge(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	entry, err := h.knowledge.GetByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "knowledge entry not found", "")
		return
	}
	if err != nil {
		h.logger.WithContext(r.Context()).Error().Err(err).Msg("Get knowledge failed")
		writeError(w, http.StatusInternalServerError, "get knowledge failed", "")
		return
	}
	writeJSON(h.logger, w, http.StatusOK, entry)
}

// ListFAQ handles GET /faq. Inactive entries are included with ?all=true.
func (h *KnowledgeHandler) ListFAQ(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))

	var (
		faqs []*storage.FaqEntry
		err  error
	)
	if all {
		faqs, err = h.faqs.ListAll(ctx)
	} else {
		faqs, err = h.faqs.ListActive(ctx)
	}
	if err != nil {
		h.logger.WithContext(ctx).Error().Err(err).Msg("List FAQ failed")
		writeError(w, http.StatusInternalServerError, "list faq failed", "")
		return
	}
	if faqs == nil {
		faqs = []*storage.FaqEntry{}
	}
	writeJSON(h.logger, w, http.StatusOK, map[string]interface{}{"faqs": faqs})
}

// UpsertFAQ handles POST /faq.
func (h *KnowledgeHandler) UpsertFAQ(w http.ResponseWriter, r *http.Request) {
	var req FAQRequestDTO
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	faq := &storage.FaqEntry{
		Category: req.Category,
		Question: req.Question,
		Answer:   req.Answer,
		Keywords: req.Keywords,
		Priority: req.Priority,
		Active:   active,
	}

	created, err := h.pipeline.Upsert(r.Context(), faq, middleware.OperatorFromContext(r.Context()))
	if errors.Is(err, ingest.ErrInvalidFAQ) {
		writeError(w, http.StatusBadRequest, "invalid faq", err.Error())
		return
	}
	if err != nil {
		h.logger.WithContext(r.Context()).Error().Err(err).Msg("Upsert FAQ failed")
		writeError(w, http.StatusInternalServerError, "upsert faq failed", "")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(h.logger, w, status, FAQUpsertDTO{Created: created, FAQ: faq})
}

// ImportFAQ handles POST /faq/import with a raw YAML or CSV seed body.
// The format comes from ?format= or the Content-Type header.
func (h *KnowledgeHandler) ImportFAQ(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format := ingest.Format(q.Get("format"))
	if format == "" {
		switch r.Header.Get("Content-Type") {
		case "text/csv":
			format = ingest.FormatCSV
		default:
			format = ingest.FormatYAML
		}
	}
	prune, _ := strconv.ParseBool(q.Get("prune"))
	dryRun, _ := strconv.ParseBool(q.Get("dry_run"))

	result, err := h.pipeline.Import(r.Context(), ingest.ImportRequest{
		Reader:   http.MaxBytesReader(w, r.Body, 10*maxBodyBytes),
		Format:   format,
		Operator: middleware.OperatorFromContext(r.Context()),
		Prune:    prune,
		DryRun:   dryRun,
	}, nil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "import failed", err.Error())
		return
	}
	writeJSON(h.logger, w, http.StatusOK, result)
}

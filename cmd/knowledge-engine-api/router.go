// Package main provides the API router setup.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/cmd/knowledge-engine-api/handlers"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/cmd/knowledge-engine-api/middleware"
	"github.com/shiftly-ai/shiftly/libs/knowledge-engine/internal/app"
)

// RouterConfig holds HTTP-surface settings.
type RouterConfig struct {
	RequestTimeout time.Duration
	AllowedOrigins []string
	Auth           middleware.AuthConfig
}

// DefaultRouterConfig returns default router settings.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		RequestTimeout: 30 * time.Second,
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates the main API router with all routes configured.
func NewRouter(a *app.App, cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	logger := a.Logger
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestContext)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"knowledge-engine"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		w.Header().Set("Content-Type", "application/json")
		if err := a.Ping(ctx); err != nil {
			logger.Warn().Err(err).Msg("Readiness check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.Write([]byte(`{"status":"ready"}`))
	})

	r.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))

	chatHandler := handlers.NewChatHandler(logger, a.Responder)
	feedbackHandler := handlers.NewFeedbackHandler(logger, a.Feedback, a.Repos.Logs)
	knowledgeHandler := handlers.NewKnowledgeHandler(logger, a.Repos.Knowledge, a.Repos.FAQ, a.Ingest)
	statsHandler := handlers.NewStatsHandler(logger, a.Metrics)

	r.Route("/api/v1", func(r chi.Router) {
		// Candidate conversation traffic from the messaging gateway.
		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKeyAuth(cfg.Auth))
			r.Post("/chat/reply", chatHandler.Reply)
			r.Post("/chat/inbound", chatHandler.Inbound)
		})

		// Admin review surface.
		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKeyAuth(cfg.Auth))

			r.Route("/logs", func(r chi.Router) {
				r.Get("/", feedbackHandler.ListLogs)
				r.Post("/{id}/feedback", feedbackHandler.Record)
			})

			r.Route("/kb", func(r chi.Router) {
				r.Get("/", knowledgeHandler.ListKnowledge)
				r.Get("/{id}", knowledgeHandler.GetKnowledge)
			})

			r.Route("/faq", func(r chi.Router) {
				r.Get("/", knowledgeHandler.ListFAQ)
				r.Post("/", knowledgeHandler.UpsertFAQ)
				r.Post("/import", knowledgeHandler.ImportFAQ)
			})

			r.Get("/stats", statsHandler.Get)
		})
	})

	return r
}

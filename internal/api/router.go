package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/agentoven/agentoven/guardrail-engine/internal/api/handlers"
	"github.com/agentoven/agentoven/guardrail-engine/internal/api/middleware"
	"github.com/agentoven/agentoven/guardrail-engine/internal/config"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter creates the HTTP router with all API routes.
func NewRouter(cfg *config.Config, h *handlers.Handlers) http.Handler {
	r := chi.NewRouter()

	auth := middleware.NewAPIKeyAuth(cfg.Auth.APIKeys, middleware.WithKeyHeader(cfg.Auth.APIKeyHeader))

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.ProjectExtractor(cfg.Project))
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Project-Id", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(auth.Middleware)

	// Health & info
	r.Get("/health", healthHandler(h.Store))
	r.Get("/version", versionHandler(cfg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/agents/{agentID}", func(r chi.Router) {
			r.Route("/guardrails", func(r chi.Router) {
				r.Get("/", h.ListGuardrails)
				r.Post("/", h.CreateGuardrail)
				r.Route("/{guardrailID}", func(r chi.Router) {
					r.Get("/", h.GetGuardrail)
					r.Put("/", h.UpdateGuardrail)
					r.Delete("/", h.DeleteGuardrail)
				})
			})

			r.With(chimw.Timeout(2 * time.Minute)).Post("/evaluate", h.Evaluate)

			r.Route("/tools/{toolName}", func(r chi.Router) {
				r.Post("/invocations", h.RecordInvocation)
				r.Get("/counts", h.GetToolCounts)
			})
		})

		r.Route("/evaluations", func(r chi.Router) {
			r.Get("/", h.ListEvaluations)
			r.Get("/{requestID}", h.GetEvaluation)
		})
	})

	return r
}

func healthHandler(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := p.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{
				"status":  "unhealthy",
				"service": "guardrail-engine",
				"error":   err.Error(),
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "healthy",
			"service": "guardrail-engine",
		})
	}
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "guardrail-engine",
		})
	}
}

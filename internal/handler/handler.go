package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pavelanni/examshield/internal/catalog"
	appI18n "github.com/pavelanni/examshield/internal/i18n"
	"github.com/pavelanni/examshield/internal/llm"
	"github.com/pavelanni/examshield/internal/metrics"
	"github.com/pavelanni/examshield/internal/model"
	"github.com/pavelanni/examshield/internal/store"
	"github.com/pavelanni/examshield/internal/submission"
)

// Reviewer suggests scores for answers that need manual review.
type Reviewer interface {
	SuggestScore(ctx context.Context, q model.Question, answer string) (llm.Suggestion, error)
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store       *store.Store
	catalog     *catalog.Catalog
	submissions *submission.Service
	reviewer    Reviewer
	config      model.ServerConfig
}

// New creates a new Handler. reviewer may be nil, which disables score
// suggestions.
func New(s *store.Store, cat *catalog.Catalog, svc *submission.Service, reviewer Reviewer, cfg model.ServerConfig) *Handler {
	return &Handler{store: s, catalog: cat, submissions: svc, reviewer: reviewer, config: cfg}
}

// Router builds the complete HTTP handler with middleware, health and
// metrics endpoints and the API mounted under the configured base path.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))
	r.Use(metrics.Middleware)
	// Credentials are only allowed for explicit origins; browsers reject
	// them alongside a wildcard origin.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept-Language", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length", "Content-Language"},
		AllowCredentials: len(h.config.AllowedOrigins) > 0,
		MaxAge:           300,
	}))
	r.Use(appI18n.Middleware)

	r.Get("/health", h.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	if h.config.BasePath != "" {
		r.Route(h.config.BasePath, h.Routes)
	} else {
		h.Routes(r)
	}
	return r
}

// Routes registers all API routes.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/exams", func(r chi.Router) {
			r.Post("/", h.handleCreateExam)
			r.Get("/", h.handleListExams)
			r.Post("/import", h.handleImportExams)

			r.Route("/{examID}", func(r chi.Router) {
				r.Get("/", h.handleGetExam)
				r.Put("/", h.handleUpdateExam)
				r.Delete("/", h.handleDeactivateExam)
				r.Get("/public", h.handlePublicExam)
				r.Post("/submit", h.handleSubmit)
				r.Post("/violations", h.handleLogViolation)
				r.Get("/violations", h.handleListViolations)
				r.Get("/attempts", h.handleListAttempts)
				r.Get("/analytics", h.handleAnalytics)
				r.Get("/export", h.handleExport)
			})
		})

		r.Route("/submissions/{submissionID}", func(r chi.Router) {
			r.Get("/", h.handleGetSubmission)
			r.Post("/review", h.handleReview)
			r.Post("/suggestions", h.handleSuggestions)
		})
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

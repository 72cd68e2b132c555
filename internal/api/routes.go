package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(h.logger))
	r.Use(middleware.Recoverer)

	// Public endpoints
	r.Get("/health", h.Health)

	// API v1 routes (authenticated)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(h.cfg))
		r.Use(RateLimitMiddleware(NewRateLimiter(h.cfg.RateLimitPerMinute)))
		r.Use(JSONContentType)

		r.Post("/documents", h.UploadDocument)
		r.Post("/reconcile", h.Reconcile)

		r.Get("/runs", h.ListRuns)
		r.Route("/runs/{runID}", func(r chi.Router) {
			r.Get("/", h.GetRun)
			r.Get("/download/{filetype}", h.Download)
			r.Get("/reviews", h.Reviews)
			r.Post("/reviews/{seq}", h.Adjudicate)
		})
	})

	return r
}

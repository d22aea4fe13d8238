package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/mmeshcher/ecorewards-system/internal/metrics"
	custommiddleware "github.com/mmeshcher/ecorewards-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(metrics.InstrumentHandler)

	// promhttp сжимает ответ сам
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(custommiddleware.GzipMiddleware)
		r.Use(custommiddleware.Logger(h.logger))

		r.Route("/api", func(r chi.Router) {
			r.Get("/health", h.Health)

			r.Route("/users", func(r chi.Router) {
				r.Post("/register", h.Register)
				r.Post("/login", h.Login)
				r.Get("/leaderboard", h.Leaderboard)
				r.Get("/stats", h.Stats)

				r.Group(func(r chi.Router) {
					r.Use(h.authMiddleware.Middleware)

					r.Get("/profile", h.GetProfile)
					r.Put("/profile", h.UpdateProfile)
					r.Get("/dashboard", h.Dashboard)
					r.Get("/rank", h.Rank)
					r.Post("/verify-token", h.VerifyToken)
				})
			})

			r.Route("/devices", func(r chi.Router) {
				r.Use(h.authMiddleware.Middleware)

				r.Get("/history", h.History)

				r.Group(func(r chi.Router) {
					if h.rateLimiter != nil {
						r.Use(h.rateLimiter.Handler)
					}

					r.Post("/scan", h.Scan)
					r.Post("/recycle", h.Recycle)
				})
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, http.StatusNotFound, "")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, http.StatusMethodNotAllowed, "")
	})

	return r
}

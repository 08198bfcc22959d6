package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Token string
	// RateLimitPerMinute is applied per client IP. Zero means 60.
	RateLimitPerMinute int
	Health             []HealthCheck
}

// NewRouter builds and returns the Chi router with all routes configured.
// Health and metrics are unauthenticated; everything else requires bearer auth.
func NewRouter(handlers *Handlers, opts RouterOptions, log *slog.Logger) *chi.Mux {
	limit := opts.RateLimitPerMinute
	if limit <= 0 {
		limit = 60
	}

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/api/v1/health", HealthHandlerFunc(opts.Health, log))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(limit, time.Minute))
		r.Use(BearerAuth(opts.Token))

		r.Post("/api/v1/sessions", handlers.CreateSession)
		r.Route("/api/v1/sessions/{id}", func(r chi.Router) {
			r.Get("/", handlers.GetSession)
			r.Delete("/", handlers.DeleteSession)
			r.Post("/location", handlers.UpdateLocation)
			r.Post("/search", handlers.SearchAt)
			r.Post("/follow", handlers.ResumeFollow)
			r.Post("/refresh", handlers.Refresh)
			r.Put("/filter", handlers.SetFilter)
			r.Put("/sort", handlers.SetSort)
			r.Get("/stream", handlers.Stream)
		})

		r.Get("/api/v1/users/{user}/favorites", handlers.ListFavorites)
		r.Get("/api/v1/users/{user}/favorites/{placeID}", handlers.GetFavorite)
		r.Put("/api/v1/users/{user}/favorites/{placeID}", handlers.PutFavorite)
		r.Delete("/api/v1/users/{user}/favorites/{placeID}", handlers.DeleteFavorite)
	})

	return r
}

// Ensure chi.Mux implements http.Handler.
var _ http.Handler = (*chi.Mux)(nil)

// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/s5unanow/horadus/internal/config"
)

// NewRouter assembles the chi router: health and metrics are open, the API
// group sits behind key auth and per-key rate limiting, mutations behind
// the admin role.
func NewRouter(handler *Handler, keys *KeyManager, cfg *config.SecurityConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", apiKeyHeader},
	}))

	r.Get("/health", handler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(keys, cfg.AuthRequired))
		if cfg.RateLimitReqs > 0 {
			r.Use(httprate.Limit(cfg.RateLimitReqs, cfg.RateLimitWindow,
				httprate.WithKeyFuncs(RateLimitKey)))
		}

		r.Get("/budget", handler.Budget)
		r.Get("/feedback", handler.ListFeedback)
		r.Get("/sources", handler.ListSources)

		r.Route("/trends", func(r chi.Router) {
			r.Get("/", handler.ListTrends)
			r.With(RequireAdmin).Post("/", handler.CreateTrend)

			r.Route("/{trendID}", func(r chi.Router) {
				r.Get("/", handler.GetTrend)
				r.Get("/history", handler.TrendHistory)
				r.Get("/evidence", handler.TrendEvidence)
				r.Get("/calibration", handler.TrendCalibration)
				r.With(RequireAdmin).Post("/outcomes", handler.RecordOutcome)
				r.With(RequireAdmin).Post("/override", handler.TrendOverride)
			})
		})

		r.Route("/events", func(r chi.Router) {
			r.With(RequireAdmin).Post("/{eventID}/feedback", handler.EventFeedback)
		})

		r.With(RequireAdmin).Get("/dead-letters", handler.DeadLetters)
	})

	return r
}

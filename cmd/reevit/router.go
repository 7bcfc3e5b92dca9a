package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/reevit-checkout/internal/health"
	"github.com/noah-isme/reevit-checkout/internal/obs"
	"github.com/noah-isme/reevit-checkout/internal/ratelimit"
	"github.com/noah-isme/reevit-checkout/internal/security"
	"github.com/noah-isme/reevit-checkout/internal/session"
)

type routerDeps struct {
	Logger         zerolog.Logger
	Metrics        *obs.HTTPMetrics
	Tracing        bool
	AllowedOrigins []string
	Health         health.Handler
	Sessions       *session.Handler
	Limiter        ratelimit.Limiter
	RateWindow     time.Duration
	RateMax        int
	Headers        security.Headers
	MaxBodyBytes   int64
}

func newRouter(d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if d.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if d.Metrics != nil {
		r.Use(obs.HTTPObs{Metrics: d.Metrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: d.Logger}.Middleware)
	r.Use(d.Headers.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(d.AllowedOrigins),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	if d.Metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}
	r.Get("/health/live", d.Health.Live)
	r.Get("/health/ready", d.Health.Ready)

	limit := ratelimit.Handler{
		Limiter: d.Limiter,
		Config:  ratelimit.Config{Key: ratelimit.ByClientIP, Window: d.RateWindow, Max: d.RateMax},
		OnError: func(err error) {
			d.Logger.Warn().Err(err).Msg("rate_limit_unavailable")
		},
	}
	r.Route("/v1/sessions", func(s chi.Router) {
		s.Use(limit.Middleware)
		s.Use(security.BodyLimit{Max: d.MaxBodyBytes}.Middleware)
		s.Mount("/", d.Sessions.Routes())
	})
	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

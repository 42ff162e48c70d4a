// Package api exposes ingestion, snapshot reads and metrics over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/vinodismyname/funnelsnap/internal/runtime"
	"github.com/vinodismyname/funnelsnap/internal/security"
	"github.com/vinodismyname/funnelsnap/internal/service"
)

// Header names read by the upload endpoint.
const (
	HeaderUploadMode   = "x-upload-mode"
	HeaderReplaceBases = "x-replace-bases"
)

// Config wires the router to its collaborators.
type Config struct {
	Service     *service.Service
	Admin       *security.AdminKey
	Runtime     *runtime.Controller
	Logger      zerolog.Logger
	CORSOrigins []string
}

// Handlers serves the API routes.
type Handlers struct {
	svc            *service.Service
	admin          *security.AdminKey
	maxUploadBytes int64
}

// NewRouter builds the HTTP handler tree.
func NewRouter(cfg Config) http.Handler {
	limits := cfg.Runtime.LimitsSnapshot()
	h := &Handlers{svc: cfg.Service, admin: cfg.Admin, maxUploadBytes: limits.MaxUploadBytes}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(cfg.Logger))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", security.AdminKeyHeader, HeaderUploadMode, HeaderReplaceBases},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	mw := runtime.NewMiddleware(cfg.Runtime)
	r.Route("/api", func(r chi.Router) {
		r.Use(mw.HTTPMiddleware)

		r.Get("/snapshot", h.GetSnapshot)
		r.Post("/snapshot", h.PostSnapshot)
		r.Get("/logs", h.GetLogs)
		r.Post("/preview", h.PostPreview)
		r.Get("/filters", h.GetFilters)
		r.Get("/rows", h.GetRows)

		r.Route("/metrics", func(r chi.Router) {
			r.Get("/totals", h.GetTotals)
			r.Get("/trend", h.GetTrend)
			r.Get("/weekly", h.GetWeekly)
			r.Get("/breakdown", h.GetBreakdown)
			r.Get("/daily", h.GetDaily)
		})
	})

	return r
}

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"sqlgate/internal/middleware"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	Logger       *slog.Logger
	Metrics      http.Handler
	RateLimit    middleware.RateLimitConfig
	Auth         middleware.AuthConfig
	CORSOrigins  []string
	MaxBodyBytes int64
	// RequestTimeout bounds each gateway call. Zero means no bound beyond
	// the database statement timeout.
	RequestTimeout time.Duration
}

// NewRouter mounts the gateway endpoints. The root banner, /healthz and
// /metrics are public; the gateway endpoints are authenticated and rate
// limited. ctx bounds background work such as limiter cleanup.
func NewRouter(ctx context.Context, svc Service, cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	h := NewHandler(svc, HandlerOptions{MaxBodyBytes: cfg.MaxBodyBytes, Timeout: cfg.RequestTimeout})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.APIKeyHeader, middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/", h.Root)
	r.Get("/healthz", h.Healthz)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(cfg.Auth))
		r.Use(middleware.RateLimiter(ctx, cfg.RateLimit))

		r.Post("/exec", h.Exec)
		r.Post("/explain", h.Explain)
		r.Get("/getMetainfo", h.GetMetaInfo)
		r.Get("/getPolicies", h.GetPolicies)
		r.Post("/reloadPolicies", h.ReloadPolicies)
	})

	return r
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/nimbleai/internal/api/middleware"
	"github.com/eldtechnologies/nimbleai/internal/auth"
	"github.com/eldtechnologies/nimbleai/internal/handlers"
)

// maxBodyBytes bounds request bodies; a 4KB message plus JSON framing fits.
const maxBodyBytes = 16 * 1024

// Options configures the HTTP router.
type Options struct {
	Handler  *handlers.Handler
	Verifier *auth.Verifier

	// Redis enables rate limiting; nil disables it.
	Redis     *redis.Client
	RateLimit middleware.RateLimiterConfig

	AllowedOrigins []string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(maxBodyBytes))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	if opts.Redis != nil {
		limiter := middleware.NewRateLimiter(opts.Redis, logger, opts.RateLimit)
		r.Use(limiter.Middleware)
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := opts.Handler
	authMW := middleware.NewAuthMiddleware(opts.Verifier, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes
	r.Get("/health", h.Health)
	r.Get("/api", h.Root)

	// Authenticated routes (require bearer token)
	r.Group(func(r chi.Router) {
		r.Use(authMW.RequireAuth)

		r.Post("/api/whatsapp/exchange-token", h.ExchangeWhatsAppToken)

		r.Get("/api/integrations", h.ListIntegrations)
		r.Delete("/api/integrations/{provider}", h.DeleteIntegration)

		r.Post("/api/messages", h.PostMessage)
		r.Get("/api/messages", h.GetMessages)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.Error(w, http.StatusNotFound, "not found")
	})

	return r
}

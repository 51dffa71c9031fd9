package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/deskchat/internal/api/middleware"
	"github.com/eldtechnologies/deskchat/internal/broker"
	"github.com/eldtechnologies/deskchat/internal/handlers"
	"github.com/eldtechnologies/deskchat/internal/models"
	"github.com/eldtechnologies/deskchat/internal/store"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Broker  *broker.Broker
	Redis   *store.RedisStore
	Archive store.TranscriptStore // optional

	Handler   handlers.Options
	RateLimit middleware.RateLimiterConfig

	// Origins that may send the session cookie cross-origin. Empty allows
	// any origin without credentials.
	CORSOrigins []string
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, deps Deps) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting
	limiter := middleware.NewRateLimiter(deps.Redis.Client(), logger, deps.RateLimit)
	r.Use(limiter.Middleware)

	// Credentials only go to listed origins
	corsOpts := cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}
	if len(deps.CORSOrigins) > 0 {
		corsOpts.AllowedOrigins = deps.CORSOrigins
		corsOpts.AllowCredentials = true
	}
	r.Use(cors.Handler(corsOpts))

	h := handlers.NewHandler(deps.Broker, deps.Redis, deps.Archive, logger, deps.Handler)
	auth := middleware.NewAuthMiddleware(deps.Redis, logger)
	r.Use(auth.LoadSession)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes
	r.Get("/", h.Root)
	r.Get("/api", h.Root)
	r.Get("/health", h.Health)
	r.Get("/me", h.Me)
	r.Post("/client/login", h.ClientLogin)
	r.Post("/analyst/login", h.AnalystLogin)

	// Session routes
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireSession)

		r.Post("/send_msg", h.SendMessage)
		r.Get("/get_messages", h.GetMessages)
		r.Get("/pop_messages", h.PopMessages)

		r.With(middleware.RequireRole(models.RoleClient)).Post("/client/logout", h.ClientLogout)
		r.With(middleware.RequireRole(models.RoleAnalyst)).Post("/analyst/logout", h.AnalystLogout)
		r.With(middleware.RequireRole(models.RoleAnalyst)).Get("/transcripts", h.ListTranscripts)
	})

	return r
}

package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/voice-turn-core/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/voice-turn-core/internal/http/middleware"
	"github.com/wolfman30/voice-turn-core/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger       *logging.Logger
	Turns        *handlers.TurnHandler
	AdminTenants *handlers.AdminTenantHandler
	// Health pings these dependencies; nil entries are skipped.
	HealthDeps      map[string]handlers.Pinger
	MetricsHandler  http.Handler
	AdminAuthSecret string
	// TurnLimiter caps turn requests per tenant. Nil disables limiting.
	TurnLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	r.Group(func(public chi.Router) {
		public.Get("/health", handlers.HealthCheck(cfg.HealthDeps))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Voice transport routes, scoped by X-Tenant-Id.
	if cfg.Turns != nil {
		r.Route("/v1", func(v1 chi.Router) {
			v1.Use(httpmiddleware.RequireTenant)
			if cfg.TurnLimiter != nil {
				v1.Use(httpmiddleware.RateLimit(cfg.TurnLimiter))
			}
			v1.Post("/turns", cfg.Turns.HandleTurn)
			v1.Post("/calls/{callID}/end", cfg.Turns.HandleEndCall)
		})
	}

	if cfg.AdminTenants != nil && cfg.AdminAuthSecret != "" {
		r.Route("/admin/tenants/{tenantID}", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Post("/invalidate", cfg.AdminTenants.Invalidate)
			admin.Get("/suggestions", cfg.AdminTenants.Suggestions)
		})
	}

	return r
}

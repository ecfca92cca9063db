// Package api provides the HTTP API for camfinder.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/camfinder/camfinder/internal/api/handler"
	"github.com/camfinder/camfinder/internal/api/middleware"
	"github.com/camfinder/camfinder/internal/auth"
	"github.com/camfinder/camfinder/internal/entitlement"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	Service     *entitlement.Service

	// AuthService issues and checks operator tokens. When nil, login answers
	// 503 and every operator route answers 401.
	AuthService *auth.Service

	// Idempotency replays client POSTs carrying an Idempotency-Key. Optional.
	Idempotency *middleware.Idempotency

	// Sweeper backs POST /v1/admin/sweep. Optional.
	Sweeper handler.Sweeper

	RequireTLS bool
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "camfinder-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.SecurityHeaders)            // Security headers
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement behind the load balancer
	r.Use(middleware.ContentTypeJSON)            // JSON content type
	r.Use(middleware.RequireJSON)                // JSON request bodies only

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Service, cfg.Sweeper)
	authHandler := handler.NewAuthHandler(cfg.AuthService)
	deviceHandler := handler.NewDeviceHandler(cfg.Service)
	legacyHandler := handler.NewLegacyHandler(cfg.Service)
	adminHandler := handler.NewAdminHandler(cfg.Service, cfg.Sweeper)

	// A typed nil *auth.Service must not reach RequireOperator as a non-nil interface.
	var validator middleware.TokenValidator
	if cfg.AuthService != nil {
		validator = cfg.AuthService
	}
	operatorOnly := middleware.RequireOperator(validator)

	clientRateLimit := middleware.RateLimitByIP(middleware.ClientRateLimit)
	loginRateLimit := middleware.RateLimitByIP(middleware.LoginRateLimit)
	adminRateLimit := middleware.RateLimitByOperator(middleware.AdminRateLimit)

	// client groups the public device middleware.
	client := func(r chi.Router) chi.Router {
		r = r.With(clientRateLimit)
		if cfg.Idempotency != nil {
			r = r.With(cfg.Idempotency.Middleware())
		}
		return r
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(loginRateLimit)
			r.Post("/login", authHandler.Login)
		})

		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
		})

		r.Group(func(r chi.Router) {
			r = client(r)
			r.Get("/catalog", deviceHandler.Catalog)
			r.Route("/devices", func(r chi.Router) {
				r.Post("/", deviceHandler.Register)
				r.Route("/{deviceId}", func(r chi.Router) {
					r.Get("/", deviceHandler.Status)
					r.Post("/consume", deviceHandler.Consume)
					r.Post("/claims", deviceHandler.SubmitClaim)
				})
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(operatorOnly)
			r.Use(adminRateLimit)

			r.Get("/status", opsHandler.SystemStatus)
			r.Get("/claims", adminHandler.ListClaims)
			r.Post("/sweep", adminHandler.Sweep)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", adminHandler.ListDevices)
				r.Get("/export.xlsx", adminHandler.ExportDevices)
				r.Route("/{deviceId}", func(r chi.Router) {
					r.Get("/", adminHandler.GetDevice)
					r.Delete("/", adminHandler.DeleteDevice)
					r.Post("/grant", adminHandler.Grant)
					r.Post("/revoke", adminHandler.Revoke)
					r.Put("/developer-mode", adminHandler.SetDeveloperMode)
					r.Put("/free-uses", adminHandler.SetFreeUses)
					r.Get("/claims", adminHandler.ListDeviceClaims)
					r.Delete("/claims", adminHandler.ClearDeviceClaims)
					r.Put("/claims/{seq}", adminHandler.SetClaimAdmission)
				})
			})
		})
	})

	// Legacy client routes, kept for older app builds.
	r.Route("/api", func(r chi.Router) {
		r = client(r)
		r.Post("/register_device", legacyHandler.RegisterDevice)
		r.Get("/device_status", legacyHandler.DeviceStatus)
		r.Post("/update_free_count", legacyHandler.UpdateFreeCount)
		r.Post("/verify_payment", legacyHandler.VerifyPayment)
		r.Get("/config", legacyHandler.Config)
	})

	return r
}

package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eventstack/identity/internal/authz"
	"github.com/eventstack/identity/internal/rbac"
	"github.com/eventstack/identity/pkg/health"
	"github.com/eventstack/identity/pkg/middleware"
)

// RouterOptions bundles the handlers and cross-cutting configuration the
// router mounts.
type RouterOptions struct {
	Auth     *AuthHandler
	Sessions *SessionHandler
	Tenants  *TenantHandler
	Admin    *AdminHandler

	AuthBuilder *authz.Builder
	Health      *health.Handler
	Logger      *slog.Logger

	CORS      middleware.CORSConfig
	RateLimit middleware.RateLimitConfig

	TracingEnabled bool
	PprofEnabled   bool
	PprofCIDRs     []string
}

// NewRouter creates a chi router with all identity service routes registered.
func NewRouter(opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	logger := opts.Logger

	// Global middleware
	r.Use(middleware.CORS(opts.CORS))
	r.Use(middleware.Recovery(logger))
	if opts.TracingEnabled {
		r.Use(middleware.Tracing("identity"))
	}
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics("identity"))

	// Health check and metrics endpoints
	r.Get("/health/live", opts.Health.LivenessHandler())
	r.Get("/health/ready", opts.Health.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	if opts.PprofEnabled {
		middleware.RegisterPprof(r, opts.PprofCIDRs, logger)
	}

	authenticate := Authenticate(opts.AuthBuilder, logger)
	limiter := middleware.NewRateLimiter(opts.RateLimit)

	// Credential endpoints (public, rate limited)
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware)
			r.Use(ContentTypeJSON)

			r.Post("/register", opts.Auth.Register)
			r.Post("/login", opts.Auth.Login)
			r.Post("/refresh", opts.Auth.Refresh)
			r.Post("/logout", opts.Auth.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware)

			r.Get("/oauth/google", opts.Auth.GoogleLogin)
			r.Get("/oauth/google/callback", opts.Auth.GoogleCallback)
		})

		// Authenticated account endpoints
		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.Get("/me", opts.Auth.Me)
			r.Post("/logout-all", opts.Auth.LogoutAll)
			r.With(ContentTypeJSON).Post("/change-password", opts.Auth.ChangePassword)
		})
	})

	// Session registry (authenticated)
	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Use(authenticate)

		r.Get("/", opts.Sessions.List)
		r.Delete("/{id}", opts.Sessions.Revoke)
	})

	// Memberships of the calling user (authenticated, cross-tenant)
	r.Route("/api/v1/memberships", func(r chi.Router) {
		r.Use(authenticate)

		r.Get("/", opts.Tenants.ListMine)
		r.With(ContentTypeJSON).Post("/accept", opts.Tenants.AcceptInvitation)
	})

	// Tenants
	r.Route("/api/v1/tenants", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.With(ContentTypeJSON).Post("/", opts.Tenants.Create)
		})

		// Authentication is mounted inside the {tenantID} subtree so the
		// path parameter is already captured when the tenant is resolved.
		r.Route("/{tenantID}", func(r chi.Router) {
			r.Use(authenticate)

			r.With(RequirePermission(rbac.PermTenantRead, logger)).
				Get("/", opts.Tenants.Get)

			r.Route("/members", func(r chi.Router) {
				r.With(RequirePermission(rbac.PermUserList, logger)).
					Get("/", opts.Tenants.ListMembers)
				r.With(RequirePermission(rbac.PermUserCreate, logger), ContentTypeJSON).
					Post("/", opts.Tenants.InviteMember)
				r.With(RequirePermission(rbac.PermUserUpdate, logger), ContentTypeJSON).
					Put("/{id}", opts.Tenants.UpdateMember)
				r.With(RequirePermission(rbac.PermUserDelete, logger)).
					Delete("/{id}", opts.Tenants.RemoveMember)
			})
		})
	})

	// Platform operator endpoints
	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(authenticate)
		r.Use(RequireSystemAdmin(logger))

		r.Get("/tenants", opts.Tenants.List)
		r.Get("/isolation/verify", opts.Admin.VerifyIsolation)
	})

	return r
}

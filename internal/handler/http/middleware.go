package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/eventstack/identity/internal/authz"
	"github.com/eventstack/identity/internal/rbac"
	"github.com/eventstack/identity/internal/tenantscope"
	apperrors "github.com/eventstack/identity/pkg/errors"
	"github.com/eventstack/identity/pkg/httputil"
	"github.com/eventstack/identity/pkg/logger"
)

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if !strings.HasPrefix(ct, "application/json") {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnsupportedMediaType)
				_, _ = w.Write([]byte(`{"error":{"code":"UNSUPPORTED_MEDIA_TYPE","message":"Content-Type must be application/json"}}`))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Authenticate builds the authorization context for the request and attaches
// it, together with the derived tenant scope, to the request context. The
// request logger is re-enriched with the resolved actor and tenant so every
// downstream log line carries them.
func Authenticate(builder *authz.Builder, base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, err := builder.Build(r)
			if err != nil {
				httputil.WriteError(w, r, err, base)
				return
			}

			ctx := authz.WithContext(r.Context(), ac)
			ctx = tenantscope.WithContext(ctx, ac.Scope())

			ctx = logger.WithUserID(ctx, ac.UserID().String())
			if ac.Tenant != nil {
				ctx = logger.WithTenantID(ctx, ac.Tenant.ID.String())
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequirePermission refuses requests whose caller lacks the permission.
// Mount behind Authenticate.
func RequirePermission(perm rbac.Permission, base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, err := authz.Require(r.Context())
			if err != nil {
				httputil.WriteError(w, r, err, base)
				return
			}
			if !ac.HasPermission(perm) {
				httputil.WriteError(w, r, apperrors.Forbidden("permission denied"), base)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSystemAdmin refuses requests from callers without a platform
// administrator role. Mount behind Authenticate.
func RequireSystemAdmin(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, err := authz.Require(r.Context())
			if err != nil {
				httputil.WriteError(w, r, err, base)
				return
			}
			if !ac.IsSystemAdmin() {
				httputil.WriteError(w, r, apperrors.Forbidden("platform administrator role required"), base)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireTenant refuses requests that did not resolve a tenant. Mount behind
// Authenticate on tenant-scoped routes reached by header or subdomain rather
// than a path parameter.
func RequireTenant(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, err := authz.Require(r.Context())
			if err != nil {
				httputil.WriteError(w, r, err, base)
				return
			}
			if ac.Tenant == nil {
				httputil.WriteError(w, r, apperrors.InvalidInput("a tenant must be specified"), base)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

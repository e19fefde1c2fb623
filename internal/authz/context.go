// Package authz builds the per-request authorization context: who the caller
// is, which tenant they are acting in, and what they are allowed to do. The
// context is assembled once by the middleware and read everywhere else;
// nothing downstream re-verifies credentials.
package authz

import (
	"context"

	"github.com/google/uuid"

	"github.com/eventstack/identity/internal/domain"
	"github.com/eventstack/identity/internal/rbac"
	"github.com/eventstack/identity/internal/tenantscope"
	apperrors "github.com/eventstack/identity/pkg/errors"
)

// TenantSource records where the tenant reference on a request came from.
// Path wins over header wins over subdomain; a request whose path and header
// name different tenants is rejected rather than silently picking one.
type TenantSource string

const (
	TenantSourceNone      TenantSource = ""
	TenantSourcePath      TenantSource = "path"
	TenantSourceHeader    TenantSource = "header"
	TenantSourceSubdomain TenantSource = "subdomain"
)

// Context is the immutable authorization context of one request. Fields are
// populated by Builder.Build and never mutated afterwards; handlers treat a
// *Context as read-only.
type Context struct {
	// User is the authenticated caller. Always set.
	User *domain.User

	// TokenID is the jti of the presented access token.
	TokenID uuid.UUID

	// SessionID is the session the access token belongs to (the sid
	// claim), or uuid.Nil for tokens issued without one.
	SessionID uuid.UUID

	// Tenant and Membership are set when the request resolved a tenant.
	// Membership is nil for a system admin acting in a tenant they do not
	// belong to.
	Tenant       *domain.Tenant
	Membership   *domain.TenantMembership
	TenantSource TenantSource

	// Roles are the caller's role names in this request: the system role if
	// any, plus the membership role if any.
	Roles []string

	// Permissions is the effective permission set after role expansion and
	// per-member overrides.
	Permissions rbac.PermissionSet
}

// UserID returns the authenticated user's ID.
func (c *Context) UserID() uuid.UUID {
	return c.User.ID
}

// HasPermission reports whether the caller holds the permission.
func (c *Context) HasPermission(p rbac.Permission) bool {
	return c.Permissions.Has(p)
}

// HasAnyPermission reports whether the caller holds at least one of the
// permissions.
func (c *Context) HasAnyPermission(perms ...rbac.Permission) bool {
	return c.Permissions.HasAny(perms...)
}

// IsSystemAdmin reports whether the caller is a platform operator with
// administrative privileges.
func (c *Context) IsSystemAdmin() bool {
	return rbac.IsSystemAdmin(c.Roles...)
}

// IsTenantAdmin reports whether the caller administers the resolved tenant.
func (c *Context) IsTenantAdmin() bool {
	return c.Membership != nil && rbac.IsTenantAdmin(string(c.Membership.Role))
}

// Scope derives the tenant isolation scope for this request. A request with
// no resolved tenant yields an unresolved scope (or a system scope for
// platform operators).
func (c *Context) Scope() tenantscope.Scope {
	if c.IsSystemAdmin() && c.Tenant == nil {
		return tenantscope.NewSystemScope()
	}
	if c.Tenant == nil {
		return tenantscope.Scope{}
	}
	scope := tenantscope.NewScope(c.Tenant.ID)
	scope.SystemAdmin = c.IsSystemAdmin()
	return scope
}

type contextKey struct{}

// WithContext attaches the authorization context to ctx.
func WithContext(ctx context.Context, ac *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

// FromContext retrieves the authorization context, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	ac, ok := ctx.Value(contextKey{}).(*Context)
	return ac, ok
}

// Require retrieves the authorization context or fails with an
// authentication error. Handlers behind the auth middleware use this.
func Require(ctx context.Context) (*Context, error) {
	ac, ok := FromContext(ctx)
	if !ok {
		return nil, apperrors.Unauthenticated("authentication required")
	}
	return ac, nil
}

// Package tenantscope carries the tenant boundary of the current request.
// A Scope is resolved once by the authorization middleware and threaded
// through context; nothing in the process holds a global "current tenant".
package tenantscope

import (
	"context"

	"github.com/google/uuid"

	apperrors "github.com/eventstack/identity/pkg/errors"
)

// TenantOwned is implemented by entity types that belong to a tenant.
// Only tenant-scoped entities implement it, so a cross-tenant check cannot
// accidentally be applied to global data.
type TenantOwned interface {
	TenantID() uuid.UUID
}

// Scope is the tenant boundary for a single request. The zero value is an
// unresolved scope, which scoped reads must reject.
type Scope struct {
	TenantID    uuid.UUID
	SystemAdmin bool
}

// NewScope creates a scope for the given tenant.
func NewScope(tenantID uuid.UUID) Scope {
	return Scope{TenantID: tenantID}
}

// NewSystemScope creates a scope that crosses tenant boundaries. Only
// system administrators get one.
func NewSystemScope() Scope {
	return Scope{SystemAdmin: true}
}

// Resolved reports whether the scope identifies a tenant or a system admin.
func (s Scope) Resolved() bool {
	return s.SystemAdmin || s.TenantID != uuid.Nil
}

// Check verifies that the entity belongs to this scope's tenant. System
// admin scopes pass everything. An unresolved scope fails everything: the
// caller must never fall back to a default tenant.
func (s Scope) Check(entity TenantOwned) error {
	if s.SystemAdmin {
		return nil
	}
	if s.TenantID == uuid.Nil {
		return apperrors.IsolationViolation("scoped access without a resolved tenant scope")
	}
	if entity.TenantID() != s.TenantID {
		return apperrors.IsolationViolation(
			"entity belongs to tenant " + entity.TenantID().String() + ", scope is tenant " + s.TenantID.String(),
		)
	}
	return nil
}

type contextKey struct{}

// WithContext returns a context carrying the scope.
func WithContext(ctx context.Context, scope Scope) context.Context {
	return context.WithValue(ctx, contextKey{}, scope)
}

// FromContext extracts the scope from the context, if one was set.
func FromContext(ctx context.Context) (Scope, bool) {
	scope, ok := ctx.Value(contextKey{}).(Scope)
	return scope, ok
}

// Require extracts a resolved scope from the context or fails with an
// isolation violation.
func Require(ctx context.Context) (Scope, error) {
	scope, ok := FromContext(ctx)
	if !ok || !scope.Resolved() {
		return Scope{}, apperrors.IsolationViolation("no tenant scope on request context")
	}
	return scope, nil
}

package authz

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eventstack/identity/internal/domain"
	"github.com/eventstack/identity/internal/rbac"
	"github.com/eventstack/identity/internal/repository"
	"github.com/eventstack/identity/internal/tenantscope"
	"github.com/eventstack/identity/internal/token"
	"github.com/eventstack/identity/pkg/database"
	apperrors "github.com/eventstack/identity/pkg/errors"
)

// TenantIDParam is the chi route parameter carrying a tenant reference.
const TenantIDParam = "tenantID"

// TenantHeader is the request header carrying a tenant reference.
const TenantHeader = "X-Tenant-ID"

// Builder assembles the authorization context for a request. The checks run
// in a fixed order: token verification, then the account, then tenant
// resolution, then permission resolution. Access tokens are validated from
// the signature alone; the revocation ledger sits on the refresh path only,
// so a ledger outage never takes authenticated reads down with it.
type Builder struct {
	codec      *token.Codec
	users      repository.UserRepository
	db         database.DBTX
	repos      repository.Binder
	resolver   *rbac.Resolver
	cookieName string
	baseDomain string
	logger     *slog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(
	codec *token.Codec,
	users repository.UserRepository,
	db database.DBTX,
	repos repository.Binder,
	resolver *rbac.Resolver,
	cookieName string,
	baseDomain string,
	logger *slog.Logger,
) *Builder {
	return &Builder{
		codec:      codec,
		users:      users,
		db:         db,
		repos:      repos,
		resolver:   resolver,
		cookieName: cookieName,
		baseDomain: baseDomain,
		logger:     logger,
	}
}

// Build authenticates the request and resolves its tenant and permissions.
func (b *Builder) Build(r *http.Request) (*Context, error) {
	ctx := r.Context()

	raw, err := b.extractToken(r)
	if err != nil {
		return nil, err
	}

	claims, err := b.codec.Verify(raw, token.KindAccess)
	if err != nil {
		return nil, apperrors.Unauthenticated("invalid or expired token")
	}
	jti := claims.TokenID()

	user, err := b.users.GetByID(ctx, claims.SubjectID())
	if err != nil {
		return nil, apperrors.Unauthenticated("invalid or expired token")
	}
	if !user.IsActive {
		return nil, apperrors.Unauthenticated("account is deactivated")
	}

	ac := &Context{
		User:      user,
		TokenID:   jti,
		SessionID: claims.SessionID(),
	}

	ref, source, err := b.resolveTenantRef(r)
	if err != nil {
		return nil, err
	}
	if ref != "" {
		if err := b.attachTenant(r, ac, ref, source); err != nil {
			return nil, err
		}
	}

	ac.Roles = collectRoles(user, ac.Membership)
	perms := b.resolver.EffectivePermissions(ac.Roles...)
	if ac.Membership != nil && len(ac.Membership.Overrides) > 0 {
		perms = rbac.ApplyOverrides(perms, ac.Membership.Overrides)
	}
	ac.Permissions = perms

	return ac, nil
}

// extractToken pulls the access token off the request: the Authorization
// bearer header wins over the session cookie.
func (b *Builder) extractToken(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, rest, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || rest == "" {
			return "", apperrors.Unauthenticated("malformed authorization header")
		}
		return rest, nil
	}

	if cookie, err := r.Cookie(b.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	return "", apperrors.Unauthenticated("authentication required")
}

// resolveTenantRef finds the tenant reference on the request. Precedence is
// path parameter, then header, then subdomain; a path and header that
// disagree are rejected.
func (b *Builder) resolveTenantRef(r *http.Request) (string, TenantSource, error) {
	pathRef := chi.URLParam(r, TenantIDParam)
	headerRef := r.Header.Get(TenantHeader)

	if pathRef != "" && headerRef != "" && !strings.EqualFold(pathRef, headerRef) {
		return "", TenantSourceNone, apperrors.InvalidInput("conflicting tenant references in path and header")
	}
	if pathRef != "" {
		return pathRef, TenantSourcePath, nil
	}
	if headerRef != "" {
		return headerRef, TenantSourceHeader, nil
	}

	if sub := b.subdomain(r.Host); sub != "" {
		return sub, TenantSourceSubdomain, nil
	}

	return "", TenantSourceNone, nil
}

// subdomain extracts the tenant slug from the request host, or "" when the
// host is the apex, carries a reserved label, or is not under the base
// domain at all.
func (b *Builder) subdomain(host string) string {
	if b.baseDomain == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)

	if !strings.HasSuffix(host, "."+b.baseDomain) {
		return ""
	}
	label := strings.TrimSuffix(host, "."+b.baseDomain)
	if label == "" || strings.Contains(label, ".") {
		return ""
	}
	if domain.IsReservedSubdomain(label) {
		return ""
	}
	return label
}

// attachTenant loads the referenced tenant and the caller's membership in
// it. Non-members are refused unless they are platform operators; a pending
// or deactivated membership does not grant access.
func (b *Builder) attachTenant(r *http.Request, ac *Context, ref string, source TenantSource) error {
	ctx := r.Context()

	var tenant *domain.Tenant
	var err error
	if id, parseErr := uuid.Parse(ref); parseErr == nil {
		tenant, err = b.repos.Tenants(b.db).GetByID(ctx, id)
	} else {
		tenant, err = b.repos.Tenants(b.db).GetBySlug(ctx, strings.ToLower(ref))
	}
	if err != nil {
		if !isNotFound(err) {
			return apperrors.ServiceUnavailable("tenant lookup unavailable")
		}
		return apperrors.NotFound("tenant", ref)
	}
	if !tenant.IsActive {
		return apperrors.Forbidden("tenant is deactivated")
	}

	scope := tenantscope.NewScope(tenant.ID)
	scope.SystemAdmin = ac.User.IsSystemAdmin()

	var membership *domain.TenantMembership
	err = tenantscope.WithScope(ctx, b.db, scope, func(tx pgx.Tx) error {
		m, getErr := b.repos.Memberships(tx).GetByUserAndTenant(ctx, ac.User.ID, tenant.ID)
		if getErr != nil {
			return getErr
		}
		membership = m
		return nil
	})
	if err != nil {
		// A store outage is not a missing membership; it must not read as 403.
		if !isNotFound(err) {
			return apperrors.ServiceUnavailable("membership lookup unavailable")
		}
		// Platform operators may act in tenants they do not belong to.
		if !ac.User.IsSystemAdmin() {
			return apperrors.Forbidden("not a member of this tenant")
		}
	} else if !membership.IsActive {
		if !ac.User.IsSystemAdmin() {
			return apperrors.Forbidden("membership is not active")
		}
		membership = nil
	}

	ac.Tenant = tenant
	ac.Membership = membership
	ac.TenantSource = source
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}

// collectRoles gathers the caller's role names: system role first, then the
// tenant membership role.
func collectRoles(user *domain.User, membership *domain.TenantMembership) []string {
	var roles []string
	if user.SystemRole != "" {
		roles = append(roles, string(user.SystemRole))
	}
	if membership != nil {
		roles = append(roles, string(membership.Role))
	}
	return roles
}

// Package repository defines the persistence interfaces for the identity
// service. Implementations live in subpackages (postgres).
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/eventstack/identity/internal/domain"
	"github.com/eventstack/identity/pkg/database"
)

// Binder constructs repositories bound to a specific database handle. It
// lets a service re-bind its repositories to the transaction opened by
// tenantscope.WithScope, so scoped queries run on the connection carrying
// the tenant markers.
type Binder interface {
	Tenants(db database.DBTX) TenantRepository
	Memberships(db database.DBTX) MembershipRepository
}

// UserRepository defines the interface for user persistence operations.
type UserRepository interface {
	// Create inserts a new user into the store.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)

	// GetByEmail retrieves a user by their email address.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// GetByOAuth retrieves a user by their OAuth provider and provider-side ID.
	GetByOAuth(ctx context.Context, provider, oauthID string) (*domain.User, error)

	// Update modifies an existing user in the store.
	Update(ctx context.Context, user *domain.User) error

	// Delete removes a user from the store by their identifier.
	Delete(ctx context.Context, id uuid.UUID) error
}

// SessionRepository defines the interface for session persistence operations.
// Sessions are the durable record of issued refresh tokens; the revocation
// ledger is the fast mirror consulted on every request.
type SessionRepository interface {
	// Create inserts a new session.
	Create(ctx context.Context, session *domain.Session) error

	// GetByID retrieves a session by its unique identifier.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error)

	// GetByRefreshTokenID retrieves the session that currently holds the
	// given refresh token ID.
	GetByRefreshTokenID(ctx context.Context, jti uuid.UUID) (*domain.Session, error)

	// ListActiveByUserID returns the user's live sessions, most recently
	// accessed first.
	ListActiveByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Session, error)

	// Rotate swaps the session's refresh token ID after a refresh, extending
	// its expiry and touching last_accessed_at.
	Rotate(ctx context.Context, id, newJTI uuid.UUID, expiresAt time.Time) error

	// Touch updates last_accessed_at without changing anything else.
	Touch(ctx context.Context, id uuid.UUID) error

	// Revoke marks the session revoked. Revoking an already-revoked session
	// is a no-op, not an error.
	Revoke(ctx context.Context, id uuid.UUID) error

	// RevokeAllByUserID marks all of the user's live sessions revoked and
	// returns how many were affected.
	RevokeAllByUserID(ctx context.Context, userID uuid.UUID) (int64, error)

	// DeleteExpired removes sessions that expired before the cutoff and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// TenantRepository defines the interface for tenant persistence operations.
type TenantRepository interface {
	// Create inserts a new tenant.
	Create(ctx context.Context, tenant *domain.Tenant) error

	// GetByID retrieves a tenant by its unique identifier.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error)

	// GetBySlug retrieves a tenant by its URL slug.
	GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error)

	// Update modifies an existing tenant.
	Update(ctx context.Context, tenant *domain.Tenant) error

	// List returns tenants ordered by creation time, newest first, along
	// with the total count.
	List(ctx context.Context, limit, offset int) ([]domain.Tenant, int, error)
}

// MembershipRepository defines the interface for tenant membership
// persistence operations.
type MembershipRepository interface {
	// Create inserts a new membership.
	Create(ctx context.Context, m *domain.TenantMembership) error

	// GetByID retrieves a membership by its unique identifier.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.TenantMembership, error)

	// GetByUserAndTenant retrieves the user's membership in the tenant.
	GetByUserAndTenant(ctx context.Context, userID, tenantID uuid.UUID) (*domain.TenantMembership, error)

	// GetByInvitationToken retrieves a membership by its invitation token.
	GetByInvitationToken(ctx context.Context, token string) (*domain.TenantMembership, error)

	// ListByUserID returns the user's active memberships.
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]domain.TenantMembership, error)

	// ListByTenantID returns the tenant's memberships ordered by creation
	// time, newest first, along with the total count.
	ListByTenantID(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]domain.TenantMembership, int, error)

	// Update modifies an existing membership.
	Update(ctx context.Context, m *domain.TenantMembership) error

	// Delete removes a membership.
	Delete(ctx context.Context, id uuid.UUID) error
}

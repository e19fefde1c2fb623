package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eventstack/identity/internal/domain"
	"github.com/eventstack/identity/internal/event"
	"github.com/eventstack/identity/internal/repository"
	"github.com/eventstack/identity/internal/tenantscope"
	"github.com/eventstack/identity/pkg/database"
	apperrors "github.com/eventstack/identity/pkg/errors"
	"github.com/eventstack/identity/pkg/slug"
)

// invitationTTL is how long a membership invitation stays acceptable.
const invitationTTL = 7 * 24 * time.Hour

// TenantService manages tenants and their memberships. Every membership
// query runs inside a scoped transaction so the row-level security policies
// see the caller's tenant.
type TenantService struct {
	db       database.DBTX
	repos    repository.Binder
	userRepo repository.UserRepository
	producer *event.Producer
	logger   *slog.Logger
}

// NewTenantService creates a new tenant service.
func NewTenantService(
	db database.DBTX,
	repos repository.Binder,
	userRepo repository.UserRepository,
	producer *event.Producer,
	logger *slog.Logger,
) *TenantService {
	return &TenantService{
		db:       db,
		repos:    repos,
		userRepo: userRepo,
		producer: producer,
		logger:   logger,
	}
}

// --- Input types ---

// InviteMemberInput holds the parameters for inviting a user into a tenant.
type InviteMemberInput struct {
	Email string
	Role  domain.TenantRole
}

// UpdateMemberInput holds the mutable membership fields.
type UpdateMemberInput struct {
	Role      *domain.TenantRole
	IsActive  *bool
	Overrides map[string]bool
}

// auditSystemScope records an activation of the row-level-security override
// on behalf of an ordinary user. Every cross-tenant read outside the
// platform-admin surface must leave one of these lines.
func (s *TenantService) auditSystemScope(ctx context.Context, reason string, userID uuid.UUID) {
	s.logger.InfoContext(ctx, "system scope override",
		slog.String("reason", reason),
		slog.String("user_id", userID.String()),
	)
}

// --- Tenant operations ---

// CreateTenant creates a tenant and its owner membership in one scoped
// transaction. The scope is the new tenant's own ID: the owner row is the
// first row the tenant's RLS policy ever admits.
func (s *TenantService) CreateTenant(ctx context.Context, ownerID uuid.UUID, name string) (*domain.Tenant, error) {
	if name == "" {
		return nil, apperrors.InvalidInput("tenant name is required")
	}

	tenantSlug := slug.Generate(name)
	if tenantSlug == "" {
		return nil, apperrors.InvalidInput("tenant name must contain at least one letter or digit")
	}
	if domain.IsReservedSubdomain(tenantSlug) {
		return nil, apperrors.InvalidInput("tenant name resolves to a reserved slug")
	}

	now := time.Now().UTC()
	tenant := &domain.Tenant{
		ID:        uuid.New(),
		Name:      name,
		Slug:      tenantSlug,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	membership := &domain.TenantMembership{
		ID:        uuid.New(),
		Tenant:    tenant.ID,
		UserID:    ownerID,
		Role:      domain.TenantRoleOwner,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	scope := tenantscope.NewScope(tenant.ID)
	err := tenantscope.WithScope(ctx, s.db, scope, func(tx pgx.Tx) error {
		if err := s.repos.Tenants(tx).Create(ctx, tenant); err != nil {
			return err
		}
		return s.repos.Memberships(tx).Create(ctx, membership)
	})
	if err != nil {
		return nil, err
	}

	if err := s.producer.PublishTenantCreated(ctx, tenant, ownerID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish tenant.created event",
			slog.String("tenant_id", tenant.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "tenant created",
		slog.String("tenant_id", tenant.ID.String()),
		slog.String("slug", tenant.Slug),
		slog.String("owner_id", ownerID.String()),
	)

	return tenant, nil
}

// GetTenant retrieves a tenant by ID.
func (s *TenantService) GetTenant(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	tenant, err := s.repos.Tenants(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get tenant: %w", err)
	}
	return tenant, nil
}

// GetTenantBySlug retrieves a tenant by its URL slug.
func (s *TenantService) GetTenantBySlug(ctx context.Context, tenantSlug string) (*domain.Tenant, error) {
	tenant, err := s.repos.Tenants(s.db).GetBySlug(ctx, tenantSlug)
	if err != nil {
		return nil, fmt.Errorf("get tenant by slug: %w", err)
	}
	return tenant, nil
}

// ListTenants returns all tenants, paginated. System admin surface.
func (s *TenantService) ListTenants(ctx context.Context, limit, offset int) ([]domain.Tenant, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repos.Tenants(s.db).List(ctx, limit, offset)
}

// --- Membership operations ---

// ListMembers returns the memberships of the scoped tenant. The scope comes
// off the request context; without one the read is refused.
func (s *TenantService) ListMembers(ctx context.Context, limit, offset int) ([]domain.TenantMembership, int, error) {
	scope, err := tenantscope.Require(ctx)
	if err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 20
	}

	var members []domain.TenantMembership
	var total int
	err = tenantscope.WithScope(ctx, s.db, scope, func(tx pgx.Tx) error {
		var listErr error
		members, total, listErr = s.repos.Memberships(tx).ListByTenantID(ctx, scope.TenantID, limit, offset)
		return listErr
	})
	if err != nil {
		return nil, 0, err
	}

	return members, total, nil
}

// ListMyMemberships returns the calling user's active memberships across all
// tenants. This read is keyed by the user, not a tenant, so it runs under a
// system scope; the user ID filter is the boundary here.
func (s *TenantService) ListMyMemberships(ctx context.Context, userID uuid.UUID) ([]domain.TenantMembership, error) {
	s.auditSystemScope(ctx, "list caller memberships", userID)

	var memberships []domain.TenantMembership
	err := tenantscope.WithScope(ctx, s.db, tenantscope.NewSystemScope(), func(tx pgx.Tx) error {
		var listErr error
		memberships, listErr = s.repos.Memberships(tx).ListByUserID(ctx, userID)
		return listErr
	})
	if err != nil {
		return nil, err
	}
	return memberships, nil
}

// InviteMember creates a pending membership for an existing user and emits
// the invitation event. The membership stays inactive until accepted.
func (s *TenantService) InviteMember(ctx context.Context, inviterID uuid.UUID, input InviteMemberInput) (*domain.TenantMembership, error) {
	scope, err := tenantscope.Require(ctx)
	if err != nil {
		return nil, err
	}
	if input.Email == "" {
		return nil, apperrors.InvalidInput("email is required")
	}
	if !domain.IsValidTenantRole(string(input.Role)) {
		return nil, apperrors.InvalidInput("invalid tenant role")
	}
	if input.Role == domain.TenantRoleOwner {
		return nil, apperrors.InvalidInput("ownership is transferred, not granted by invitation")
	}

	user, err := s.userRepo.GetByEmail(ctx, input.Email)
	if err != nil {
		return nil, apperrors.NotFound("user", input.Email)
	}

	now := time.Now().UTC()
	invitationToken := uuid.New().String()
	expiresAt := now.Add(invitationTTL)
	membership := &domain.TenantMembership{
		ID:                  uuid.New(),
		Tenant:              scope.TenantID,
		UserID:              user.ID,
		Role:                input.Role,
		IsActive:            false,
		InvitationToken:     &invitationToken,
		InvitationExpiresAt: &expiresAt,
		InvitedBy:           &inviterID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	err = tenantscope.WithScope(ctx, s.db, scope, func(tx pgx.Tx) error {
		return s.repos.Memberships(tx).Create(ctx, membership)
	})
	if err != nil {
		return nil, err
	}

	if err := s.producer.PublishMemberInvited(ctx, membership, user.Email); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish tenant.member-invited event",
			slog.String("membership_id", membership.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "member invited",
		slog.String("tenant_id", scope.TenantID.String()),
		slog.String("user_id", user.ID.String()),
		slog.String("role", string(membership.Role)),
	)

	return membership, nil
}

// AcceptInvitation activates a pending membership. The invitation token is
// the capability: the lookup crosses tenants under a system scope because
// the accepting user has no membership in the tenant yet.
func (s *TenantService) AcceptInvitation(ctx context.Context, userID uuid.UUID, invitationToken string) (*domain.TenantMembership, error) {
	if invitationToken == "" {
		return nil, apperrors.InvalidInput("invitation token is required")
	}
	s.auditSystemScope(ctx, "invitation acceptance", userID)

	var membership *domain.TenantMembership
	err := tenantscope.WithScope(ctx, s.db, tenantscope.NewSystemScope(), func(tx pgx.Tx) error {
		repo := s.repos.Memberships(tx)

		m, err := repo.GetByInvitationToken(ctx, invitationToken)
		if err != nil {
			return apperrors.NotFound("invitation", invitationToken)
		}
		if m.UserID != userID {
			// The invitation is bound to a user; someone else holding the
			// token learns nothing.
			return apperrors.NotFound("invitation", invitationToken)
		}
		if !m.InvitationPending(time.Now().UTC()) {
			return apperrors.InvalidInput("invitation has expired or was already accepted")
		}

		m.IsActive = true
		m.InvitationToken = nil
		m.InvitationExpiresAt = nil
		if err := repo.Update(ctx, m); err != nil {
			return err
		}

		membership = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "invitation accepted",
		slog.String("tenant_id", membership.Tenant.String()),
		slog.String("user_id", userID.String()),
	)

	return membership, nil
}

// UpdateMember changes a member's role, active flag, or permission
// overrides within the scoped tenant.
func (s *TenantService) UpdateMember(ctx context.Context, membershipID uuid.UUID, input UpdateMemberInput) (*domain.TenantMembership, error) {
	scope, err := tenantscope.Require(ctx)
	if err != nil {
		return nil, err
	}
	if input.Role != nil && !domain.IsValidTenantRole(string(*input.Role)) {
		return nil, apperrors.InvalidInput("invalid tenant role")
	}

	var membership *domain.TenantMembership
	err = tenantscope.WithScope(ctx, s.db, scope, func(tx pgx.Tx) error {
		repo := s.repos.Memberships(tx)

		m, err := repo.GetByID(ctx, membershipID)
		if err != nil {
			return apperrors.NotFound("membership", membershipID.String())
		}
		if err := scope.Check(m); err != nil {
			return err
		}

		if input.Role != nil {
			m.Role = *input.Role
		}
		if input.IsActive != nil {
			m.IsActive = *input.IsActive
		}
		if input.Overrides != nil {
			m.Overrides = input.Overrides
		}

		if err := repo.Update(ctx, m); err != nil {
			return err
		}

		membership = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "membership updated",
		slog.String("tenant_id", scope.TenantID.String()),
		slog.String("membership_id", membershipID.String()),
	)

	return membership, nil
}

// RemoveMember deletes a membership from the scoped tenant.
func (s *TenantService) RemoveMember(ctx context.Context, membershipID uuid.UUID) error {
	scope, err := tenantscope.Require(ctx)
	if err != nil {
		return err
	}

	err = tenantscope.WithScope(ctx, s.db, scope, func(tx pgx.Tx) error {
		repo := s.repos.Memberships(tx)

		m, err := repo.GetByID(ctx, membershipID)
		if err != nil {
			return apperrors.NotFound("membership", membershipID.String())
		}
		if err := scope.Check(m); err != nil {
			return err
		}
		if m.Role == domain.TenantRoleOwner {
			return apperrors.InvalidInput("the tenant owner cannot be removed")
		}

		return repo.Delete(ctx, m.ID)
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "member removed",
		slog.String("tenant_id", scope.TenantID.String()),
		slog.String("membership_id", membershipID.String()),
	)

	return nil
}

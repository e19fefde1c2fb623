package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eventstack/identity/internal/domain"
	"github.com/eventstack/identity/pkg/database"
	apperrors "github.com/eventstack/identity/pkg/errors"
)

// TenantRepository implements repository.TenantRepository using PostgreSQL.
type TenantRepository struct {
	pool database.DBTX
}

// NewTenantRepository creates a new PostgreSQL-backed tenant repository.
func NewTenantRepository(pool database.DBTX) *TenantRepository {
	return &TenantRepository{pool: pool}
}

// Create inserts a new tenant into the database.
func (r *TenantRepository) Create(ctx context.Context, t *domain.Tenant) error {
	query := `
		INSERT INTO tenants (id, name, slug, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.pool.Exec(ctx, query,
		t.ID,
		t.Name,
		t.Slug,
		t.IsActive,
		t.CreatedAt,
		t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("tenant", "slug", t.Slug)
		}
		return fmt.Errorf("insert tenant: %w", err)
	}

	return nil
}

// GetByID retrieves a tenant by its ID.
func (r *TenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tenant, error) {
	query := `
		SELECT id, name, slug, is_active, created_at, updated_at
		FROM tenants
		WHERE id = $1`

	return r.scanTenant(ctx, query, id)
}

// GetBySlug retrieves a tenant by its URL slug.
func (r *TenantRepository) GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	query := `
		SELECT id, name, slug, is_active, created_at, updated_at
		FROM tenants
		WHERE slug = $1`

	return r.scanTenant(ctx, query, slug)
}

// Update modifies an existing tenant in the database.
func (r *TenantRepository) Update(ctx context.Context, t *domain.Tenant) error {
	t.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE tenants
		SET name = $1, slug = $2, is_active = $3, updated_at = $4
		WHERE id = $5`

	ct, err := r.pool.Exec(ctx, query,
		t.Name,
		t.Slug,
		t.IsActive,
		t.UpdatedAt,
		t.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("tenant", "slug", t.Slug)
		}
		return fmt.Errorf("update tenant: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("tenant", t.ID.String())
	}

	return nil
}

// List returns tenants ordered by creation time, newest first, with the total count.
func (r *TenantRepository) List(ctx context.Context, limit, offset int) ([]domain.Tenant, int, error) {
	query := `
		SELECT id, name, slug, is_active, created_at, updated_at,
		       count(*) OVER() AS total_count
		FROM tenants
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []domain.Tenant
	var total int
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(
			&t.ID,
			&t.Name,
			&t.Slug,
			&t.IsActive,
			&t.CreatedAt,
			&t.UpdatedAt,
			&total,
		); err != nil {
			return nil, 0, fmt.Errorf("scan tenant row: %w", err)
		}
		tenants = append(tenants, t)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate tenant rows: %w", err)
	}

	if tenants == nil {
		tenants = []domain.Tenant{}
	}

	return tenants, total, nil
}

// scanTenant is a helper that executes a query expected to return a single tenant row.
func (r *TenantRepository) scanTenant(ctx context.Context, query string, args ...any) (*domain.Tenant, error) {
	var t domain.Tenant

	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&t.ID,
		&t.Name,
		&t.Slug,
		&t.IsActive,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan tenant: %w", err)
	}

	return &t, nil
}

// --- Membership Repository ---

// MembershipRepository implements repository.MembershipRepository using PostgreSQL.
type MembershipRepository struct {
	pool database.DBTX
}

// NewMembershipRepository creates a new PostgreSQL-backed membership repository.
func NewMembershipRepository(pool database.DBTX) *MembershipRepository {
	return &MembershipRepository{pool: pool}
}

const membershipColumns = `id, tenant_id, user_id, role, is_active, permissions, invitation_token, invitation_expires_at, invited_by, created_at, updated_at`

// Create inserts a new membership into the database.
func (r *MembershipRepository) Create(ctx context.Context, m *domain.TenantMembership) error {
	overrides, err := marshalOverrides(m.Overrides)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tenant_users (` + membershipColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.pool.Exec(ctx, query,
		m.ID,
		m.Tenant,
		m.UserID,
		m.Role,
		m.IsActive,
		overrides,
		m.InvitationToken,
		m.InvitationExpiresAt,
		m.InvitedBy,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("membership", "user_id", m.UserID.String())
		}
		return fmt.Errorf("insert membership: %w", err)
	}

	return nil
}

// GetByID retrieves a membership by its ID.
func (r *MembershipRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.TenantMembership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM tenant_users
		WHERE id = $1`

	return r.scanMembership(ctx, query, id)
}

// GetByUserAndTenant retrieves the user's membership in the given tenant.
func (r *MembershipRepository) GetByUserAndTenant(ctx context.Context, userID, tenantID uuid.UUID) (*domain.TenantMembership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM tenant_users
		WHERE user_id = $1 AND tenant_id = $2`

	return r.scanMembership(ctx, query, userID, tenantID)
}

// GetByInvitationToken retrieves a membership by its invitation token.
func (r *MembershipRepository) GetByInvitationToken(ctx context.Context, token string) (*domain.TenantMembership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM tenant_users
		WHERE invitation_token = $1`

	return r.scanMembership(ctx, query, token)
}

// ListByUserID returns the user's active memberships.
func (r *MembershipRepository) ListByUserID(ctx context.Context, userID uuid.UUID) ([]domain.TenantMembership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM tenant_users
		WHERE user_id = $1 AND is_active = true
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships by user: %w", err)
	}
	defer rows.Close()

	return collectMemberships(rows)
}

// ListByTenantID returns the tenant's memberships, newest first, with the total count.
func (r *MembershipRepository) ListByTenantID(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]domain.TenantMembership, int, error) {
	query := `
		SELECT ` + membershipColumns + `,
		       count(*) OVER() AS total_count
		FROM tenant_users
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list memberships by tenant: %w", err)
	}
	defer rows.Close()

	var memberships []domain.TenantMembership
	var total int
	for rows.Next() {
		m, overrides, err := scanMembershipRow(rows, &total)
		if err != nil {
			return nil, 0, err
		}
		if err := unmarshalOverrides(overrides, m); err != nil {
			return nil, 0, err
		}
		memberships = append(memberships, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate membership rows: %w", err)
	}

	if memberships == nil {
		memberships = []domain.TenantMembership{}
	}

	return memberships, total, nil
}

// Update modifies an existing membership in the database.
func (r *MembershipRepository) Update(ctx context.Context, m *domain.TenantMembership) error {
	m.UpdatedAt = time.Now().UTC()

	overrides, err := marshalOverrides(m.Overrides)
	if err != nil {
		return err
	}

	query := `
		UPDATE tenant_users
		SET role = $1, is_active = $2, permissions = $3,
		    invitation_token = $4, invitation_expires_at = $5, updated_at = $6
		WHERE id = $7`

	ct, err := r.pool.Exec(ctx, query,
		m.Role,
		m.IsActive,
		overrides,
		m.InvitationToken,
		m.InvitationExpiresAt,
		m.UpdatedAt,
		m.ID,
	)
	if err != nil {
		return fmt.Errorf("update membership: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("membership", m.ID.String())
	}

	return nil
}

// Delete removes a membership from the database.
func (r *MembershipRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM tenant_users WHERE id = $1`

	ct, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("membership", id.String())
	}

	return nil
}

// scanMembership is a helper that executes a query expected to return a single membership row.
func (r *MembershipRepository) scanMembership(ctx context.Context, query string, args ...any) (*domain.TenantMembership, error) {
	var m domain.TenantMembership
	var overrides []byte

	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&m.ID,
		&m.Tenant,
		&m.UserID,
		&m.Role,
		&m.IsActive,
		&overrides,
		&m.InvitationToken,
		&m.InvitationExpiresAt,
		&m.InvitedBy,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan membership: %w", err)
	}

	if err := unmarshalOverrides(overrides, &m); err != nil {
		return nil, err
	}

	return &m, nil
}

func collectMemberships(rows pgx.Rows) ([]domain.TenantMembership, error) {
	var memberships []domain.TenantMembership
	for rows.Next() {
		m, overrides, err := scanMembershipRow(rows, nil)
		if err != nil {
			return nil, err
		}
		if err := unmarshalOverrides(overrides, m); err != nil {
			return nil, err
		}
		memberships = append(memberships, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate membership rows: %w", err)
	}

	if memberships == nil {
		memberships = []domain.TenantMembership{}
	}

	return memberships, nil
}

// scanMembershipRow scans one row into a membership. When total is non-nil
// the row is expected to carry a trailing total_count column.
func scanMembershipRow(rows pgx.Rows, total *int) (*domain.TenantMembership, []byte, error) {
	var m domain.TenantMembership
	var overrides []byte

	dest := []any{
		&m.ID,
		&m.Tenant,
		&m.UserID,
		&m.Role,
		&m.IsActive,
		&overrides,
		&m.InvitationToken,
		&m.InvitationExpiresAt,
		&m.InvitedBy,
		&m.CreatedAt,
		&m.UpdatedAt,
	}
	if total != nil {
		dest = append(dest, total)
	}

	if err := rows.Scan(dest...); err != nil {
		return nil, nil, fmt.Errorf("scan membership row: %w", err)
	}

	return &m, overrides, nil
}

// marshalOverrides encodes per-member permission overrides as JSONB. A nil
// map is stored as an empty object so the column stays NOT NULL.
func marshalOverrides(overrides map[string]bool) ([]byte, error) {
	if overrides == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(overrides)
	if err != nil {
		return nil, fmt.Errorf("marshal permission overrides: %w", err)
	}
	return data, nil
}

func unmarshalOverrides(data []byte, m *domain.TenantMembership) error {
	if len(data) == 0 {
		return nil
	}
	var overrides map[string]bool
	if err := json.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("unmarshal permission overrides: %w", err)
	}
	if len(overrides) > 0 {
		m.Overrides = overrides
	}
	return nil
}

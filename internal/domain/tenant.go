package domain

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents an isolated organization on the platform. The slug is
// unique and doubles as the tenant's subdomain label.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TenantID returns the tenant the row belongs to. A Tenant belongs to itself.
func (t *Tenant) TenantID() uuid.UUID {
	return t.ID
}

// reservedSubdomains are hostname labels that route to the platform itself.
// They are never tenant slugs, and tenant resolution must not treat them as
// one.
var reservedSubdomains = map[string]bool{
	"www":   true,
	"api":   true,
	"admin": true,
	"app":   true,
}

// IsReservedSubdomain reports whether the label is reserved for platform use.
func IsReservedSubdomain(label string) bool {
	return reservedSubdomains[label]
}

// TenantMembership links a user to a tenant with a role and optional
// per-member permission overrides. A user may hold at most one active
// membership per tenant; historical (inactive) rows are retained.
type TenantMembership struct {
	ID       uuid.UUID  `json:"id"`
	Tenant   uuid.UUID  `json:"tenant_id"`
	UserID   uuid.UUID  `json:"user_id"`
	Role     TenantRole `json:"role"`
	IsActive bool       `json:"is_active"`

	// Overrides adjusts the role's permission set per member: true grants a
	// permission the role lacks, false revokes one it has.
	Overrides map[string]bool `json:"permissions,omitempty"`

	// Invitation fields are set while the membership is pending acceptance.
	InvitationToken     *string    `json:"-"`
	InvitationExpiresAt *time.Time `json:"invitation_expires_at,omitempty"`
	InvitedBy           *uuid.UUID `json:"invited_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TenantID returns the tenant the membership row belongs to.
func (m *TenantMembership) TenantID() uuid.UUID {
	return m.Tenant
}

// InvitationPending reports whether the membership is still awaiting
// acceptance of a non-expired invitation.
func (m *TenantMembership) InvitationPending(now time.Time) bool {
	return m.InvitationToken != nil &&
		m.InvitationExpiresAt != nil &&
		m.InvitationExpiresAt.After(now)
}

package postgres

import (
	"github.com/eventstack/identity/internal/repository"
	"github.com/eventstack/identity/pkg/database"
)

// Binder implements repository.Binder for PostgreSQL.
type Binder struct{}

// Tenants returns a tenant repository bound to db.
func (Binder) Tenants(db database.DBTX) repository.TenantRepository {
	return NewTenantRepository(db)
}

// Memberships returns a membership repository bound to db.
func (Binder) Memberships(db database.DBTX) repository.MembershipRepository {
	return NewMembershipRepository(db)
}

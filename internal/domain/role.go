package domain

// SystemRole is a platform-wide operator role. Regular users carry no system
// role at all.
type SystemRole string

// System role constants.
const (
	SystemRoleSuperAdmin    SystemRole = "super_admin"
	SystemRolePlatformAdmin SystemRole = "platform_admin"
	SystemRoleSupport       SystemRole = "support"
)

// ValidSystemRoles returns the set of valid system roles.
func ValidSystemRoles() []SystemRole {
	return []SystemRole{SystemRoleSuperAdmin, SystemRolePlatformAdmin, SystemRoleSupport}
}

// IsValidSystemRole checks whether the given string is a valid system role.
// The empty string is valid: it means the user is not a platform operator.
func IsValidSystemRole(role string) bool {
	if role == "" {
		return true
	}
	for _, r := range ValidSystemRoles() {
		if string(r) == role {
			return true
		}
	}
	return false
}

// TenantRole is a role scoped to a single tenant membership.
type TenantRole string

// Tenant role constants, from most to least privileged.
const (
	TenantRoleOwner       TenantRole = "owner"
	TenantRoleAdmin       TenantRole = "admin"
	TenantRoleManager     TenantRole = "manager"
	TenantRoleOrganizer   TenantRole = "organizer"
	TenantRoleJudge       TenantRole = "judge"
	TenantRoleMentor      TenantRole = "mentor"
	TenantRoleParticipant TenantRole = "participant"
	TenantRoleVolunteer   TenantRole = "volunteer"
	TenantRoleSponsor     TenantRole = "sponsor"
	TenantRoleViewer      TenantRole = "viewer"
)

// ValidTenantRoles returns the set of valid tenant roles.
func ValidTenantRoles() []TenantRole {
	return []TenantRole{
		TenantRoleOwner, TenantRoleAdmin, TenantRoleManager, TenantRoleOrganizer,
		TenantRoleJudge, TenantRoleMentor, TenantRoleParticipant,
		TenantRoleVolunteer, TenantRoleSponsor, TenantRoleViewer,
	}
}

// IsValidTenantRole checks whether the given string is a valid tenant role.
func IsValidTenantRole(role string) bool {
	for _, r := range ValidTenantRoles() {
		if string(r) == role {
			return true
		}
	}
	return false
}

// IsTenantAdmin reports whether the role carries tenant-wide administrative
// privileges.
func (r TenantRole) IsTenantAdmin() bool {
	return r == TenantRoleOwner || r == TenantRoleAdmin
}

package rbac

import (
	"fmt"

	"github.com/eventstack/identity/internal/domain"
)

// Permission is a granular capability string in "resource:action" form.
type Permission string

// Permission constants.
const (
	// User management
	PermUserCreate Permission = "user:create"
	PermUserRead   Permission = "user:read"
	PermUserUpdate Permission = "user:update"
	PermUserDelete Permission = "user:delete"
	PermUserList   Permission = "user:list"

	// Tenant management
	PermTenantCreate   Permission = "tenant:create"
	PermTenantRead     Permission = "tenant:read"
	PermTenantUpdate   Permission = "tenant:update"
	PermTenantDelete   Permission = "tenant:delete"
	PermTenantBilling  Permission = "tenant:billing"
	PermTenantSettings Permission = "tenant:settings"

	// Event management
	PermEventCreate    Permission = "event:create"
	PermEventRead      Permission = "event:read"
	PermEventUpdate    Permission = "event:update"
	PermEventDelete    Permission = "event:delete"
	PermEventPublish   Permission = "event:publish"
	PermEventAnalytics Permission = "event:analytics"
	PermEventSettings  Permission = "event:settings"

	// Team management
	PermTeamCreate Permission = "team:create"
	PermTeamRead   Permission = "team:read"
	PermTeamUpdate Permission = "team:update"
	PermTeamDelete Permission = "team:delete"
	PermTeamJoin   Permission = "team:join"
	PermTeamInvite Permission = "team:invite"
	PermTeamManage Permission = "team:manage"

	// Submission management
	PermSubmissionCreate Permission = "submission:create"
	PermSubmissionRead   Permission = "submission:read"
	PermSubmissionUpdate Permission = "submission:update"
	PermSubmissionDelete Permission = "submission:delete"
	PermSubmissionSubmit Permission = "submission:submit"
	PermSubmissionJudge  Permission = "submission:judge"

	// Judging
	PermJudgeAssign Permission = "judge:assign"
	PermJudgeScore  Permission = "judge:score"
	PermJudgeReview Permission = "judge:review"
	PermJudgeFinal  Permission = "judge:final"

	// Mentoring
	PermMentorProfile      Permission = "mentor:profile"
	PermMentorAvailability Permission = "mentor:availability"
	PermMentorSessions     Permission = "mentor:sessions"

	// Communication
	PermCommSendAll       Permission = "communication:send_all"
	PermCommSendRole      Permission = "communication:send_role"
	PermCommSendTeam      Permission = "communication:send_team"
	PermCommAnnouncements Permission = "communication:announcements"

	// Analytics and reporting
	PermAnalyticsView   Permission = "analytics:view"
	PermAnalyticsExport Permission = "analytics:export"
	PermAnalyticsAdmin  Permission = "analytics:admin"
)

// AllPermissions returns every permission known to the catalog.
func AllPermissions() []Permission {
	return []Permission{
		PermUserCreate, PermUserRead, PermUserUpdate, PermUserDelete, PermUserList,
		PermTenantCreate, PermTenantRead, PermTenantUpdate, PermTenantDelete,
		PermTenantBilling, PermTenantSettings,
		PermEventCreate, PermEventRead, PermEventUpdate, PermEventDelete,
		PermEventPublish, PermEventAnalytics, PermEventSettings,
		PermTeamCreate, PermTeamRead, PermTeamUpdate, PermTeamDelete,
		PermTeamJoin, PermTeamInvite, PermTeamManage,
		PermSubmissionCreate, PermSubmissionRead, PermSubmissionUpdate,
		PermSubmissionDelete, PermSubmissionSubmit, PermSubmissionJudge,
		PermJudgeAssign, PermJudgeScore, PermJudgeReview, PermJudgeFinal,
		PermMentorProfile, PermMentorAvailability, PermMentorSessions,
		PermCommSendAll, PermCommSendRole, PermCommSendTeam, PermCommAnnouncements,
		PermAnalyticsView, PermAnalyticsExport, PermAnalyticsAdmin,
	}
}

// RoleDefinition binds a role name to its direct permission grants and
// optional parent roles whose permissions it inherits.
type RoleDefinition struct {
	Permissions []Permission
	Parents     []string
}

// Catalog is the immutable role → definition table. Build it once at startup
// with NewCatalog; concurrent reads need no locking.
type Catalog struct {
	defs map[string]RoleDefinition
}

// NewCatalog validates the definitions (every parent must itself be defined)
// and returns an immutable catalog.
func NewCatalog(defs map[string]RoleDefinition) (*Catalog, error) {
	copied := make(map[string]RoleDefinition, len(defs))
	for name, def := range defs {
		for _, parent := range def.Parents {
			if _, ok := defs[parent]; !ok {
				return nil, fmt.Errorf("role %q inherits from undefined role %q", name, parent)
			}
		}
		copied[name] = RoleDefinition{
			Permissions: append([]Permission(nil), def.Permissions...),
			Parents:     append([]string(nil), def.Parents...),
		}
	}
	return &Catalog{defs: copied}, nil
}

// Definition returns the definition for the given role name.
func (c *Catalog) Definition(role string) (RoleDefinition, bool) {
	def, ok := c.defs[role]
	return def, ok
}

// Roles returns all role names in the catalog.
func (c *Catalog) Roles() []string {
	names := make([]string, 0, len(c.defs))
	for name := range c.defs {
		names = append(names, name)
	}
	return names
}

// DefaultCatalog returns the platform's built-in role definitions covering
// both system scope and tenant scope.
func DefaultCatalog() *Catalog {
	defs := map[string]RoleDefinition{
		// System roles
		string(domain.SystemRoleSuperAdmin): {
			Permissions: AllPermissions(),
		},
		string(domain.SystemRolePlatformAdmin): {
			Permissions: []Permission{
				PermTenantCreate, PermTenantRead, PermTenantUpdate,
				PermUserRead, PermUserList, PermUserUpdate,
				PermAnalyticsAdmin, PermAnalyticsExport,
				PermCommSendAll,
			},
		},
		string(domain.SystemRoleSupport): {
			Permissions: []Permission{
				PermTenantRead, PermUserRead, PermUserList,
				PermEventRead, PermAnalyticsView,
			},
		},

		// Tenant roles
		string(domain.TenantRoleOwner): {
			Permissions: []Permission{
				PermTenantRead, PermTenantUpdate, PermTenantDelete,
				PermTenantBilling, PermTenantSettings,
				PermUserCreate, PermUserRead, PermUserUpdate,
				PermUserDelete, PermUserList,
				PermEventCreate, PermEventRead, PermEventUpdate,
				PermEventDelete, PermEventPublish, PermEventAnalytics,
				PermEventSettings,
				PermJudgeAssign, PermJudgeFinal,
				PermCommSendAll, PermCommAnnouncements,
				PermAnalyticsAdmin, PermAnalyticsExport,
			},
		},
		string(domain.TenantRoleAdmin): {
			Permissions: []Permission{
				PermTenantRead, PermTenantSettings,
				PermUserCreate, PermUserRead, PermUserUpdate, PermUserList,
				PermEventCreate, PermEventRead, PermEventUpdate,
				PermEventPublish, PermEventAnalytics, PermEventSettings,
				PermJudgeAssign, PermCommSendAll, PermCommAnnouncements,
				PermAnalyticsView, PermAnalyticsExport,
			},
		},
		string(domain.TenantRoleManager): {
			Permissions: []Permission{
				PermEventRead, PermEventUpdate, PermEventAnalytics,
				PermUserRead, PermUserList,
				PermTeamRead, PermTeamManage,
				PermSubmissionRead, PermJudgeAssign,
				PermCommSendRole, PermAnalyticsView,
			},
		},
		string(domain.TenantRoleOrganizer): {
			Permissions: []Permission{
				PermEventRead, PermEventUpdate,
				PermTeamRead, PermSubmissionRead,
				PermCommSendRole, PermAnalyticsView,
			},
		},
		string(domain.TenantRoleJudge): {
			Permissions: []Permission{
				PermSubmissionRead, PermSubmissionJudge,
				PermJudgeScore, PermJudgeReview,
				PermTeamRead,
			},
		},
		string(domain.TenantRoleMentor): {
			Permissions: []Permission{
				PermMentorProfile, PermMentorAvailability, PermMentorSessions,
				PermTeamRead, PermSubmissionRead,
				PermUserRead,
			},
		},
		string(domain.TenantRoleParticipant): {
			Permissions: []Permission{
				PermTeamCreate, PermTeamRead, PermTeamUpdate,
				PermTeamJoin, PermTeamInvite,
				PermSubmissionCreate, PermSubmissionRead,
				PermSubmissionUpdate, PermSubmissionSubmit,
				PermUserRead,
			},
		},
		string(domain.TenantRoleVolunteer): {
			Permissions: []Permission{
				PermEventRead, PermTeamRead, PermUserRead,
			},
		},
		string(domain.TenantRoleSponsor): {
			Permissions: []Permission{
				PermEventRead, PermTeamRead, PermSubmissionRead,
				PermAnalyticsView,
			},
		},
		string(domain.TenantRoleViewer): {
			Permissions: []Permission{
				PermEventRead, PermTeamRead, PermSubmissionRead,
			},
		},
	}

	catalog, err := NewCatalog(defs)
	if err != nil {
		// The built-in definitions have no parents, so this cannot fail.
		panic(fmt.Sprintf("rbac: invalid default catalog: %v", err))
	}
	return catalog
}

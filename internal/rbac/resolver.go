package rbac

import (
	"sort"
	"strings"
	"sync"

	"github.com/eventstack/identity/internal/domain"
)

// PermissionSet is an immutable-by-convention set of permissions. Callers
// must not mutate a set returned by the resolver; use ApplyOverrides to
// derive a modified copy.
type PermissionSet map[Permission]struct{}

// Has reports whether the set contains the permission.
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// HasAny reports whether the set contains at least one of the permissions.
func (s PermissionSet) HasAny(perms ...Permission) bool {
	for _, p := range perms {
		if s.Has(p) {
			return true
		}
	}
	return false
}

// HasAll reports whether the set contains every one of the permissions.
func (s PermissionSet) HasAll(perms ...Permission) bool {
	for _, p := range perms {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// List returns the permissions in sorted order.
func (s PermissionSet) List() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolver expands roles into effective permission sets against an immutable
// catalog. Expansions are cached per role combination; the cache only ever
// grows and entries never invalidate because the catalog cannot change.
type Resolver struct {
	catalog *Catalog

	mu    sync.RWMutex
	cache map[string]PermissionSet
}

// NewResolver creates a Resolver over the given catalog.
func NewResolver(catalog *Catalog) *Resolver {
	return &Resolver{
		catalog: catalog,
		cache:   make(map[string]PermissionSet),
	}
}

// EffectivePermissions returns the union of permissions granted by the given
// roles, including inherited grants. Unknown roles contribute nothing.
func (r *Resolver) EffectivePermissions(roles ...string) PermissionSet {
	key := cacheKey(roles)

	r.mu.RLock()
	cached, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return cached
	}

	set := make(PermissionSet)
	for _, role := range roles {
		r.expand(role, set, map[string]bool{})
	}

	r.mu.Lock()
	r.cache[key] = set
	r.mu.Unlock()

	return set
}

// expand adds the role's permissions (direct and inherited) to set. The
// visited map breaks inheritance cycles: a role already on the current
// expansion path is skipped rather than recursed into.
func (r *Resolver) expand(role string, set PermissionSet, visited map[string]bool) {
	if visited[role] {
		return
	}
	visited[role] = true

	def, ok := r.catalog.Definition(role)
	if !ok {
		return
	}

	for _, p := range def.Permissions {
		set[p] = struct{}{}
	}
	for _, parent := range def.Parents {
		r.expand(parent, set, visited)
	}
}

// ApplyOverrides derives a new set from base with per-member adjustments
// applied: a true value grants the permission, false revokes it. The base
// set is left untouched.
func ApplyOverrides(base PermissionSet, overrides map[string]bool) PermissionSet {
	if len(overrides) == 0 {
		return base
	}

	out := make(PermissionSet, len(base))
	for p := range base {
		out[p] = struct{}{}
	}
	for perm, granted := range overrides {
		if granted {
			out[Permission(perm)] = struct{}{}
		} else {
			delete(out, Permission(perm))
		}
	}
	return out
}

// IsSystemAdmin reports whether any of the roles carries platform-wide
// administrative privileges.
func IsSystemAdmin(roles ...string) bool {
	for _, role := range roles {
		if role == string(domain.SystemRoleSuperAdmin) || role == string(domain.SystemRolePlatformAdmin) {
			return true
		}
	}
	return false
}

// IsTenantAdmin reports whether any of the roles carries tenant-wide
// administrative privileges.
func IsTenantAdmin(roles ...string) bool {
	for _, role := range roles {
		if domain.TenantRole(role).IsTenantAdmin() {
			return true
		}
	}
	return false
}

// cacheKey builds a canonical key for a role combination. Roles are sorted
// so {a,b} and {b,a} share an entry.
func cacheKey(roles []string) string {
	if len(roles) == 1 {
		return roles[0]
	}
	sorted := append([]string(nil), roles...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x1f")
}

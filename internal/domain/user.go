package domain

import (
	"time"

	"github.com/google/uuid"
)

// User represents a registered account on the platform. Tenant-level
// privileges live on TenantMembership; SystemRole is only set for platform
// operators and is empty for regular users.
type User struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	PasswordHash  string     `json:"-"`
	FirstName     string     `json:"first_name"`
	LastName      string     `json:"last_name"`
	SystemRole    SystemRole `json:"system_role,omitempty"`
	IsActive      bool       `json:"is_active"`
	EmailVerified bool       `json:"email_verified"`
	OAuthProvider string     `json:"oauth_provider,omitempty"`
	OAuthID       string     `json:"oauth_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsSystemAdmin reports whether the user holds a platform role that crosses
// tenant boundaries.
func (u *User) IsSystemAdmin() bool {
	return u.SystemRole == SystemRoleSuperAdmin || u.SystemRole == SystemRolePlatformAdmin
}

// TokenPair holds an access and refresh token pair issued at login.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

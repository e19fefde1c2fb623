package domain

import (
	"time"

	"github.com/google/uuid"
)

// Session is the durable record of a login. RefreshTokenID is the jti of the
// refresh token the session was issued with; it rotates on every refresh and
// is how the session is matched to a presented token.
type Session struct {
	ID             uuid.UUID  `json:"id"`
	UserID         uuid.UUID  `json:"user_id"`
	RefreshTokenID uuid.UUID  `json:"-"`
	UserAgent      string     `json:"user_agent,omitempty"`
	IPAddress      string     `json:"ip_address,omitempty"`
	IsActive       bool       `json:"is_active"`
	ExpiresAt      time.Time  `json:"expires_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	CreatedAt      time.Time  `json:"created_at"`

	// Current marks the session the caller's own access token belongs to in
	// listings. Not persisted.
	Current bool `json:"current,omitempty"`
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Live reports whether the session can still back token refreshes: active,
// not revoked, not expired.
func (s *Session) Live(now time.Time) bool {
	return s.IsActive && s.RevokedAt == nil && !s.Expired(now)
}

package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Kind distinguishes access tokens from refresh tokens. The two are never
// interchangeable: a refresh token presented where an access token is
// expected (or vice versa) fails verification with ErrWrongKind.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Verification errors. Expiry is checked before kind so an expired token of
// the wrong kind reports expiry, matching what the client can act on.
var (
	ErrMalformed = errors.New("token malformed")
	ErrExpired   = errors.New("token expired")
	ErrWrongKind = errors.New("token kind mismatch")
)

// Claims are the JWT claims carried by both token kinds. Tokens stay minimal:
// roles and permissions are resolved per request from the database, never
// baked into the token, so a role change takes effect without reissue.
type Claims struct {
	Kind Kind `json:"type"`
	// Sid names the session the token belongs to, so a presented access
	// token can be matched back to its session registry row.
	Sid string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// SessionID returns the sid claim as a UUID, or uuid.Nil if absent or
// invalid.
func (c *Claims) SessionID() uuid.UUID {
	id, err := uuid.Parse(c.Sid)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// TokenID returns the jti as a UUID, or uuid.Nil if absent or invalid.
func (c *Claims) TokenID() uuid.UUID {
	id, err := uuid.Parse(c.ID)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// SubjectID returns the sub claim as a UUID, or uuid.Nil if invalid.
func (c *Claims) SubjectID() uuid.UUID {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// Codec issues and verifies signed tokens. Rotating the secret invalidates
// every outstanding token; there is no multi-key verification.
type Codec struct {
	secret        []byte
	accessExpiry  time.Duration
	refreshExpiry time.Duration
}

// NewCodec creates a Codec with the given secret and expiry durations.
func NewCodec(secret string, accessExpiry, refreshExpiry time.Duration) *Codec {
	return &Codec{
		secret:        []byte(secret),
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
	}
}

// AccessExpiry returns the configured access token lifetime.
func (c *Codec) AccessExpiry() time.Duration {
	return c.accessExpiry
}

// RefreshExpiry returns the configured refresh token lifetime.
func (c *Codec) RefreshExpiry() time.Duration {
	return c.refreshExpiry
}

// IssueAccess creates a signed access token for the subject. The returned
// claims include the generated jti.
func (c *Codec) IssueAccess(subjectID uuid.UUID) (string, *Claims, error) {
	return c.issue(subjectID, uuid.Nil, KindAccess, c.accessExpiry)
}

// IssueSessionAccess creates a signed access token bound to a session via
// the sid claim.
func (c *Codec) IssueSessionAccess(subjectID, sessionID uuid.UUID) (string, *Claims, error) {
	return c.issue(subjectID, sessionID, KindAccess, c.accessExpiry)
}

// IssueRefresh creates a signed refresh token for the subject. The jti is a
// crypto-random UUID; it is what the session registry and revocation ledger
// key on.
func (c *Codec) IssueRefresh(subjectID uuid.UUID) (string, *Claims, error) {
	return c.issue(subjectID, uuid.Nil, KindRefresh, c.refreshExpiry)
}

func (c *Codec) issue(subjectID, sessionID uuid.UUID, kind Kind, expiry time.Duration) (string, *Claims, error) {
	now := time.Now().UTC()
	claims := &Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   subjectID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			Issuer:    "identity-service",
		},
	}
	if sessionID != uuid.Nil {
		claims.Sid = sessionID.String()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign %s token: %w", kind, err)
	}

	return signed, claims, nil
}

// Verify parses the token, checks the signature and expiry, and requires the
// expected kind. Check order is fixed: malformed before expired before wrong
// kind. Refresh tokens must carry a jti.
func (c *Codec) Verify(tokenString string, kind Kind) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %s", ErrExpired, kind)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid claims", ErrMalformed)
	}

	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrWrongKind, claims.Kind, kind)
	}

	if claims.SubjectID() == uuid.Nil {
		return nil, fmt.Errorf("%w: missing subject", ErrMalformed)
	}
	if kind == KindRefresh && claims.TokenID() == uuid.Nil {
		return nil, fmt.Errorf("%w: refresh token missing jti", ErrMalformed)
	}

	return claims, nil
}

// Package ledger is the fast revocation blacklist backing token checks.
// Entries are keyed by token ID (jti) and expire with the token itself, so
// the set stays bounded without a sweeper. The ledger is authoritative for
// denial: a token that verifies cryptographically is still dead if its jti
// is listed here.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrUnavailable is returned when the backing store cannot answer. Callers
// on the authentication path must treat this as a denial, never as "not
// blacklisted".
var ErrUnavailable = errors.New("revocation ledger unavailable")

// Ledger records revoked token IDs and maintains a per-subject reverse index
// used for mass revocation.
type Ledger interface {
	// Blacklist marks a token ID revoked for at least ttl. Idempotent.
	Blacklist(ctx context.Context, jti uuid.UUID, ttl time.Duration) error

	// IsBlacklisted reports whether the token ID is revoked. O(1).
	IsBlacklisted(ctx context.Context, jti uuid.UUID) (bool, error)

	// IndexSubject records that jti belongs to the subject so that all of a
	// subject's outstanding tokens can be found for mass revocation.
	IndexSubject(ctx context.Context, subjectID, jti uuid.UUID, ttl time.Duration) error

	// SubjectTokens returns the token IDs currently indexed for the subject.
	SubjectTokens(ctx context.Context, subjectID uuid.UUID) ([]uuid.UUID, error)

	// RemoveSubjectToken drops a single token ID from the subject's index,
	// used when a token is rotated out rather than revoked.
	RemoveSubjectToken(ctx context.Context, subjectID, jti uuid.UUID) error

	// ClearSubject drops the subject's entire index after mass revocation.
	ClearSubject(ctx context.Context, subjectID uuid.UUID) error
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/eventstack/identity/internal/domain"
	"github.com/eventstack/identity/pkg/database"
	apperrors "github.com/eventstack/identity/pkg/errors"
)

// SessionRepository implements repository.SessionRepository using PostgreSQL.
type SessionRepository struct {
	pool database.DBTX
}

// NewSessionRepository creates a new PostgreSQL-backed session repository.
func NewSessionRepository(pool database.DBTX) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create inserts a new session.
func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	query := `
		INSERT INTO sessions (id, user_id, refresh_token_id, user_agent, ip_address, is_active, expires_at, revoked_at, last_accessed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.pool.Exec(ctx, query,
		s.ID,
		s.UserID,
		s.RefreshTokenID,
		s.UserAgent,
		s.IPAddress,
		s.IsActive,
		s.ExpiresAt,
		s.RevokedAt,
		s.LastAccessedAt,
		s.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("session", "refresh_token_id", s.RefreshTokenID.String())
		}
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	query := `
		SELECT id, user_id, refresh_token_id, user_agent, ip_address, is_active, expires_at, revoked_at, last_accessed_at, created_at
		FROM sessions
		WHERE id = $1`

	return r.scanSession(ctx, query, id)
}

// GetByRefreshTokenID retrieves the session currently holding the given
// refresh token ID. A revoked or rotated-out token ID finds nothing.
func (r *SessionRepository) GetByRefreshTokenID(ctx context.Context, jti uuid.UUID) (*domain.Session, error) {
	query := `
		SELECT id, user_id, refresh_token_id, user_agent, ip_address, is_active, expires_at, revoked_at, last_accessed_at, created_at
		FROM sessions
		WHERE refresh_token_id = $1`

	return r.scanSession(ctx, query, jti)
}

// ListActiveByUserID returns the user's live sessions, most recently accessed first.
func (r *SessionRepository) ListActiveByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Session, error) {
	query := `
		SELECT id, user_id, refresh_token_id, user_agent, ip_address, is_active, expires_at, revoked_at, last_accessed_at, created_at
		FROM sessions
		WHERE user_id = $1 AND is_active = true AND revoked_at IS NULL AND expires_at > now()
		ORDER BY last_accessed_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var s domain.Session
		if err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.RefreshTokenID,
			&s.UserAgent,
			&s.IPAddress,
			&s.IsActive,
			&s.ExpiresAt,
			&s.RevokedAt,
			&s.LastAccessedAt,
			&s.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}

	if sessions == nil {
		sessions = []domain.Session{}
	}

	return sessions, nil
}

// Rotate swaps the session's refresh token ID after a successful refresh.
// Only a live session can rotate; anything else reports not found.
func (r *SessionRepository) Rotate(ctx context.Context, id, newJTI uuid.UUID, expiresAt time.Time) error {
	query := `
		UPDATE sessions
		SET refresh_token_id = $1, expires_at = $2, last_accessed_at = $3
		WHERE id = $4 AND is_active = true AND revoked_at IS NULL`

	ct, err := r.pool.Exec(ctx, query, newJTI, expiresAt, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("rotate session: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("session", id.String())
	}

	return nil
}

// Touch updates last_accessed_at for the session.
func (r *SessionRepository) Touch(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE sessions SET last_accessed_at = $1 WHERE id = $2`

	_, err := r.pool.Exec(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	return nil
}

// Revoke marks the session revoked. Revoking an already-revoked session is a
// no-op so that repeated logout calls stay idempotent.
func (r *SessionRepository) Revoke(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE sessions
		SET is_active = false, revoked_at = $1
		WHERE id = $2 AND revoked_at IS NULL`

	_, err := r.pool.Exec(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}

	return nil
}

// RevokeAllByUserID marks all of the user's live sessions revoked and returns
// how many were affected.
func (r *SessionRepository) RevokeAllByUserID(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `
		UPDATE sessions
		SET is_active = false, revoked_at = $1
		WHERE user_id = $2 AND revoked_at IS NULL`

	ct, err := r.pool.Exec(ctx, query, time.Now().UTC(), userID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions by user: %w", err)
	}

	return ct.RowsAffected(), nil
}

// DeleteExpired removes sessions that expired before the cutoff.
func (r *SessionRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM sessions WHERE expires_at < $1`

	ct, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}

	return ct.RowsAffected(), nil
}

// scanSession is a helper that executes a query expected to return a single session row.
func (r *SessionRepository) scanSession(ctx context.Context, query string, args ...any) (*domain.Session, error) {
	var s domain.Session

	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&s.ID,
		&s.UserID,
		&s.RefreshTokenID,
		&s.UserAgent,
		&s.IPAddress,
		&s.IsActive,
		&s.ExpiresAt,
		&s.RevokedAt,
		&s.LastAccessedAt,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	return &s, nil
}

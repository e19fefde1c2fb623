package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/eventstack/identity/internal/domain"
	"github.com/eventstack/identity/internal/event"
	"github.com/eventstack/identity/internal/ledger"
	"github.com/eventstack/identity/internal/repository"
	apperrors "github.com/eventstack/identity/pkg/errors"
)

// SessionService lists and revokes the durable session registry. Revocation
// always writes the ledger first; the registry row is the audit record, the
// ledger entry is what actually locks the token out.
type SessionService struct {
	sessionRepo repository.SessionRepository
	ledger      ledger.Ledger
	producer    *event.Producer
	logger      *slog.Logger
}

// NewSessionService creates a new session service.
func NewSessionService(
	sessionRepo repository.SessionRepository,
	revocations ledger.Ledger,
	producer *event.Producer,
	logger *slog.Logger,
) *SessionService {
	return &SessionService{
		sessionRepo: sessionRepo,
		ledger:      revocations,
		producer:    producer,
		logger:      logger,
	}
}

// List returns the user's live sessions. The session the caller's own access
// token belongs to (its sid claim) is flagged as current so a UI can mark
// "this device".
func (s *SessionService) List(ctx context.Context, userID, currentSessionID uuid.UUID) ([]domain.Session, error) {
	sessions, err := s.sessionRepo.ListActiveByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	for i := range sessions {
		if currentSessionID != uuid.Nil && sessions[i].ID == currentSessionID {
			sessions[i].Current = true
		}
	}

	return sessions, nil
}

// Revoke revokes one of the user's sessions. A session belonging to someone
// else reads as not found; the endpoint does not confirm foreign session IDs
// exist. Idempotent for already-revoked sessions.
func (s *SessionService) Revoke(ctx context.Context, userID, sessionID uuid.UUID) error {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return apperrors.NotFound("session", sessionID.String())
	}
	if session.UserID != userID {
		return apperrors.NotFound("session", sessionID.String())
	}

	// Blacklist before flipping the row: if the write fails, the registry
	// still says live and the caller can retry.
	ttl := time.Until(session.ExpiresAt)
	if err := s.ledger.Blacklist(ctx, session.RefreshTokenID, ttl); err != nil {
		return apperrors.ServiceUnavailable("token revocation unavailable")
	}
	if err := s.ledger.RemoveSubjectToken(ctx, userID, session.RefreshTokenID); err != nil {
		s.logger.WarnContext(ctx, "failed to drop token from subject index",
			slog.String("user_id", userID.String()),
			slog.String("error", err.Error()),
		)
	}

	if err := s.sessionRepo.Revoke(ctx, session.ID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}

	if err := s.producer.PublishSessionRevoked(ctx, session.ID, session.UserID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish session.revoked event",
			slog.String("session_id", session.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "session revoked",
		slog.String("user_id", userID.String()),
		slog.String("session_id", session.ID.String()),
	)

	return nil
}

// PurgeExpired deletes sessions whose expiry passed more than the retention
// window ago. Run periodically from the app's background loop.
func (s *SessionService) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	n, err := s.sessionRepo.DeleteExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge expired sessions: %w", err)
	}

	if n > 0 {
		s.logger.InfoContext(ctx, "expired sessions purged",
			slog.Int64("count", n),
		)
	}

	return n, nil
}

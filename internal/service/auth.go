package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/eventstack/identity/internal/domain"
	"github.com/eventstack/identity/internal/event"
	"github.com/eventstack/identity/internal/ledger"
	"github.com/eventstack/identity/internal/repository"
	"github.com/eventstack/identity/internal/token"
	apperrors "github.com/eventstack/identity/pkg/errors"
)

// bcryptCost is the cost factor for bcrypt password hashing.
const bcryptCost = 12

// minPasswordLength is the minimum password length required.
const minPasswordLength = 8

// AuthService implements credential verification and the token/session
// lifecycle.
type AuthService struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	codec       *token.Codec
	ledger      ledger.Ledger
	producer    *event.Producer
	logger      *slog.Logger
}

// NewAuthService creates a new auth service.
func NewAuthService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	codec *token.Codec,
	revocations ledger.Ledger,
	producer *event.Producer,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		codec:       codec,
		ledger:      revocations,
		producer:    producer,
		logger:      logger,
	}
}

// --- Input types ---

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// LoginInput holds the parameters for user login.
type LoginInput struct {
	Email    string
	Password string
}

// SessionMeta carries client metadata recorded on the session row.
type SessionMeta struct {
	UserAgent string
	IPAddress string
}

// OAuthInput holds a verified identity returned by an OAuth provider.
type OAuthInput struct {
	Provider  string
	OAuthID   string
	Email     string
	FirstName string
	LastName  string
}

// --- Operations ---

// Register creates a new user account, hashes the password, and opens the
// first session.
func (s *AuthService) Register(ctx context.Context, input RegisterInput, meta SessionMeta) (*domain.User, *domain.TokenPair, error) {
	if input.Email == "" {
		return nil, nil, apperrors.InvalidInput("email is required")
	}
	if input.FirstName == "" {
		return nil, nil, apperrors.InvalidInput("first name is required")
	}
	if input.LastName == "" {
		return nil, nil, apperrors.InvalidInput("last name is required")
	}
	if err := validatePassword(input.Password); err != nil {
		return nil, nil, err
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcryptCost)
	if err != nil {
		return nil, nil, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New(),
		Email:        strings.ToLower(input.Email),
		PasswordHash: string(hashedPassword),
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("create user: %w", err)
	}

	tokens, _, err := s.openSession(ctx, user, meta)
	if err != nil {
		return nil, nil, err
	}

	// Publish registration event (non-blocking on failure).
	if err := s.producer.PublishUserRegistered(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.String("user_id", user.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID.String()),
		slog.String("email", user.Email),
	)

	return user, tokens, nil
}

// Login authenticates a user with email and password and opens a session.
// The rejection is identical for an unknown email and a wrong password, so
// the endpoint cannot be used to enumerate accounts.
func (s *AuthService) Login(ctx context.Context, input LoginInput, meta SessionMeta) (*domain.User, *domain.TokenPair, error) {
	if input.Email == "" {
		return nil, nil, apperrors.InvalidInput("email is required")
	}
	if input.Password == "" {
		return nil, nil, apperrors.InvalidInput("password is required")
	}

	user, err := s.userRepo.GetByEmail(ctx, input.Email)
	if err != nil {
		// Burn a comparison anyway so the miss costs the same as a mismatch.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$12$0000000000000000000000000000000000000000000000000000"), []byte(input.Password))
		return nil, nil, apperrors.Unauthenticated("invalid email or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, nil, apperrors.Unauthenticated("invalid email or password")
	}

	if !user.IsActive {
		return nil, nil, apperrors.Unauthenticated("account is deactivated")
	}

	tokens, session, err := s.openSession(ctx, user, meta)
	if err != nil {
		return nil, nil, err
	}

	if err := s.producer.PublishSessionCreated(ctx, session); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish session.created event",
			slog.String("session_id", session.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID.String()),
		slog.String("session_id", session.ID.String()),
	)

	return user, tokens, nil
}

// CompleteOAuth logs in or provisions a user from a verified OAuth identity.
// An existing account with the same email is linked rather than duplicated.
func (s *AuthService) CompleteOAuth(ctx context.Context, input OAuthInput, meta SessionMeta) (*domain.User, *domain.TokenPair, error) {
	if input.Provider == "" || input.OAuthID == "" || input.Email == "" {
		return nil, nil, apperrors.InvalidInput("incomplete oauth identity")
	}

	user, err := s.userRepo.GetByOAuth(ctx, input.Provider, input.OAuthID)
	if err != nil {
		user, err = s.linkOrProvisionOAuthUser(ctx, input)
		if err != nil {
			return nil, nil, err
		}
	}

	if !user.IsActive {
		return nil, nil, apperrors.Unauthenticated("account is deactivated")
	}

	tokens, session, err := s.openSession(ctx, user, meta)
	if err != nil {
		return nil, nil, err
	}

	s.logger.InfoContext(ctx, "oauth login completed",
		slog.String("user_id", user.ID.String()),
		slog.String("provider", input.Provider),
		slog.String("session_id", session.ID.String()),
	)

	return user, tokens, nil
}

// Refresh rotates a refresh token: the presented token is verified, checked
// against the revocation ledger, matched to its session, and replaced. The
// old token ID is blacklisted so it can never be replayed.
//
// A ledger outage denies the refresh; a dead blacklist must never read as
// "not revoked".
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta SessionMeta) (*domain.TokenPair, error) {
	if refreshToken == "" {
		return nil, apperrors.InvalidInput("refresh token is required")
	}

	claims, err := s.codec.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		return nil, apperrors.Unauthenticated("invalid or expired refresh token")
	}
	jti := claims.TokenID()
	subjectID := claims.SubjectID()

	blacklisted, err := s.ledger.IsBlacklisted(ctx, jti)
	if err != nil {
		return nil, apperrors.ServiceUnavailable("token revocation check unavailable")
	}
	if blacklisted {
		return nil, apperrors.Unauthenticated("invalid or expired refresh token")
	}

	session, err := s.sessionRepo.GetByRefreshTokenID(ctx, jti)
	if err != nil {
		return nil, apperrors.Unauthenticated("invalid or expired refresh token")
	}

	now := time.Now().UTC()
	if !session.Live(now) || session.UserID != subjectID {
		return nil, apperrors.Unauthenticated("invalid or expired refresh token")
	}

	user, err := s.userRepo.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, apperrors.Unauthenticated("invalid or expired refresh token")
	}
	if !user.IsActive {
		return nil, apperrors.Unauthenticated("account is deactivated")
	}

	accessToken, _, err := s.codec.IssueSessionAccess(user.ID, session.ID)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	newRefreshToken, refreshClaims, err := s.codec.IssueRefresh(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	newJTI := refreshClaims.TokenID()

	// Kill the old token before the new one is live. If the blacklist write
	// fails the whole refresh fails and the session keeps its old token.
	if err := s.ledger.Blacklist(ctx, jti, time.Until(claims.ExpiresAt.Time)); err != nil {
		return nil, apperrors.ServiceUnavailable("token revocation unavailable")
	}
	if err := s.ledger.RemoveSubjectToken(ctx, subjectID, jti); err != nil {
		return nil, apperrors.ServiceUnavailable("token revocation unavailable")
	}

	if err := s.sessionRepo.Rotate(ctx, session.ID, newJTI, refreshClaims.ExpiresAt.Time); err != nil {
		return nil, apperrors.Unauthenticated("invalid or expired refresh token")
	}

	if err := s.indexRefreshToken(ctx, user.ID, refreshClaims); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "refresh token rotated",
		slog.String("user_id", user.ID.String()),
		slog.String("session_id", session.ID.String()),
	)

	return s.tokenPair(accessToken, newRefreshToken), nil
}

// Logout revokes the session behind the presented refresh token. Logging out
// twice with the same token is not an error.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return apperrors.InvalidInput("refresh token is required")
	}

	claims, err := s.codec.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		return apperrors.Unauthenticated("invalid or expired refresh token")
	}
	jti := claims.TokenID()
	subjectID := claims.SubjectID()

	if err := s.ledger.Blacklist(ctx, jti, time.Until(claims.ExpiresAt.Time)); err != nil {
		return apperrors.ServiceUnavailable("token revocation unavailable")
	}
	if err := s.ledger.RemoveSubjectToken(ctx, subjectID, jti); err != nil {
		s.logger.WarnContext(ctx, "failed to drop token from subject index",
			slog.String("user_id", subjectID.String()),
			slog.String("error", err.Error()),
		)
	}

	session, err := s.sessionRepo.GetByRefreshTokenID(ctx, jti)
	if err != nil {
		// Token already rotated out or session gone; the blacklist entry
		// above is what matters.
		return nil
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

	s.logger.InfoContext(ctx, "user logged out",
		slog.String("user_id", session.UserID.String()),
		slog.String("session_id", session.ID.String()),
	)

	return nil
}

// LogoutAll revokes every live session of the user. Outstanding refresh
// token IDs are blacklisted before the registry rows are flipped, so there
// is no window in which a session row says revoked but its refresh token
// still passes the blacklist check. Already-issued access tokens age out on
// their own short TTL.
func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	jtis, err := s.ledger.SubjectTokens(ctx, userID)
	if err != nil {
		return 0, apperrors.ServiceUnavailable("token revocation unavailable")
	}

	for _, jti := range jtis {
		if err := s.ledger.Blacklist(ctx, jti, s.codec.RefreshExpiry()); err != nil {
			return 0, apperrors.ServiceUnavailable("token revocation unavailable")
		}
	}

	revoked, err := s.sessionRepo.RevokeAllByUserID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}

	if err := s.ledger.ClearSubject(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "failed to clear subject token index",
			slog.String("user_id", userID.String()),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "all sessions revoked",
		slog.String("user_id", userID.String()),
		slog.Int64("sessions", revoked),
		slog.Int("tokens_blacklisted", len(jtis)),
	)

	return revoked, nil
}

// ChangePassword changes the password of an authenticated user and revokes
// every outstanding session, forcing re-login everywhere.
func (s *AuthService) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	if currentPassword == "" {
		return apperrors.InvalidInput("current password is required")
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if currentPassword == newPassword {
		return apperrors.InvalidInput("new password must be different from current password")
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user for password change: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return apperrors.Unauthenticated("current password is incorrect")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("hash new password: %w", err)
	}

	user.PasswordHash = string(hashedPassword)
	if err := s.userRepo.Update(ctx, user); err != nil {
		return fmt.Errorf("update user password: %w", err)
	}

	revoked, err := s.LogoutAll(ctx, userID)
	if err != nil {
		return err
	}

	if err := s.producer.PublishUserPasswordChanged(ctx, user, revoked); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.password-changed event",
			slog.String("user_id", user.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "password changed",
		slog.String("user_id", user.ID.String()),
	)

	return nil
}

// GetUser retrieves a user by ID.
func (s *AuthService) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// --- Helpers ---

// openSession issues an access/refresh pair and the durable session row
// behind it, and mirrors the refresh token ID into the ledger's subject
// index so mass revocation can find it. Access tokens are never indexed:
// they are validated statelessly and ride out revocation on their short TTL.
func (s *AuthService) openSession(ctx context.Context, user *domain.User, meta SessionMeta) (*domain.TokenPair, *domain.Session, error) {
	sessionID := uuid.New()

	accessToken, _, err := s.codec.IssueSessionAccess(user.ID, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("issue access token: %w", err)
	}
	refreshToken, refreshClaims, err := s.codec.IssueRefresh(user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("issue refresh token: %w", err)
	}

	now := time.Now().UTC()
	session := &domain.Session{
		ID:             sessionID,
		UserID:         user.ID,
		RefreshTokenID: refreshClaims.TokenID(),
		UserAgent:      meta.UserAgent,
		IPAddress:      meta.IPAddress,
		IsActive:       true,
		ExpiresAt:      refreshClaims.ExpiresAt.Time,
		LastAccessedAt: now,
		CreatedAt:      now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, nil, fmt.Errorf("create session: %w", err)
	}

	if err := s.indexRefreshToken(ctx, user.ID, refreshClaims); err != nil {
		return nil, nil, err
	}

	return s.tokenPair(accessToken, refreshToken), session, nil
}

// indexRefreshToken records the refresh token ID in the per-subject reverse
// index. A refresh token that cannot be indexed cannot be mass-revoked
// later, so issuance fails rather than handing out an untrackable token.
func (s *AuthService) indexRefreshToken(ctx context.Context, userID uuid.UUID, c *token.Claims) error {
	if err := s.ledger.IndexSubject(ctx, userID, c.TokenID(), time.Until(c.ExpiresAt.Time)); err != nil {
		return apperrors.ServiceUnavailable("token revocation unavailable")
	}
	return nil
}

func (s *AuthService) tokenPair(accessToken, refreshToken string) *domain.TokenPair {
	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.codec.AccessExpiry().Seconds()),
	}
}

// linkOrProvisionOAuthUser attaches the OAuth identity to an existing
// account with the same email, or creates a fresh one. Provider-asserted
// emails count as verified.
func (s *AuthService) linkOrProvisionOAuthUser(ctx context.Context, input OAuthInput) (*domain.User, error) {
	email := strings.ToLower(input.Email)

	if existing, err := s.userRepo.GetByEmail(ctx, email); err == nil {
		existing.OAuthProvider = input.Provider
		existing.OAuthID = input.OAuthID
		existing.EmailVerified = true
		if err := s.userRepo.Update(ctx, existing); err != nil {
			return nil, fmt.Errorf("link oauth identity: %w", err)
		}
		return existing, nil
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:            uuid.New(),
		Email:         email,
		FirstName:     input.FirstName,
		LastName:      input.LastName,
		IsActive:      true,
		EmailVerified: true,
		OAuthProvider: input.Provider,
		OAuthID:       input.OAuthID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create oauth user: %w", err)
	}

	if err := s.producer.PublishUserRegistered(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.String("user_id", user.ID.String()),
			slog.String("error", err.Error()),
		)
	}

	return user, nil
}

// validatePassword checks that the password meets minimum complexity requirements.
func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.InvalidInput(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	var hasUpper, hasLower, hasDigit bool
	for _, ch := range password {
		switch {
		case unicode.IsUpper(ch):
			hasUpper = true
		case unicode.IsLower(ch):
			hasLower = true
		case unicode.IsDigit(ch):
			hasDigit = true
		}
	}

	if !hasUpper || !hasLower || !hasDigit {
		return apperrors.InvalidInput("password must contain at least one uppercase letter, one lowercase letter, and one digit")
	}

	return nil
}

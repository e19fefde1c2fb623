// Package event publishes identity domain events to Kafka. Consumers
// (notification, audit) act on them; nothing in this service blocks on a
// failed publish.
package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/eventstack/identity/internal/domain"
	pkgkafka "github.com/eventstack/identity/pkg/kafka"
)

// Kafka topics for identity domain events.
var (
	TopicUserRegistered      = pkgkafka.Topic("user", "registered")
	TopicUserPasswordChanged = pkgkafka.Topic("user", "password-changed")
	TopicSessionCreated      = pkgkafka.Topic("session", "created")
	TopicSessionRevoked      = pkgkafka.Topic("session", "revoked")
	TopicTenantCreated       = pkgkafka.Topic("tenant", "created")
	TopicMemberInvited       = pkgkafka.Topic("tenant", "member-invited")
)

// Aggregate type constants.
const (
	AggregateTypeUser    = "user"
	AggregateTypeSession = "session"
	AggregateTypeTenant  = "tenant"
)

// Source identifier for events originating from this service.
const SourceIdentityService = "identity-service"

// UserRegisteredData is the payload for a user.registered event.
type UserRegisteredData struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Provider   string `json:"provider,omitempty"`
	SystemRole string `json:"system_role,omitempty"`
}

// UserPasswordChangedData is the payload for a user.password-changed event.
type UserPasswordChangedData struct {
	UserID          string `json:"user_id"`
	Email           string `json:"email"`
	SessionsRevoked int64  `json:"sessions_revoked"`
}

// SessionData is the payload for session lifecycle events.
type SessionData struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// TenantCreatedData is the payload for a tenant.created event.
type TenantCreatedData struct {
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	OwnerID  string `json:"owner_id"`
}

// MemberInvitedData is the payload for a tenant.member-invited event. The
// invitation token itself rides along so the notification consumer can build
// the accept link; it never appears in logs.
type MemberInvitedData struct {
	TenantID        string `json:"tenant_id"`
	MembershipID    string `json:"membership_id"`
	InvitedEmail    string `json:"invited_email"`
	Role            string `json:"role"`
	InvitedBy       string `json:"invited_by"`
	InvitationToken string `json:"invitation_token"`
}

// Producer publishes identity domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer for the identity service.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishUserRegistered publishes a user.registered event.
func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	data := UserRegisteredData{
		ID:         user.ID.String(),
		Email:      user.Email,
		FirstName:  user.FirstName,
		LastName:   user.LastName,
		Provider:   user.OAuthProvider,
		SystemRole: string(user.SystemRole),
	}

	return p.publish(ctx, TopicUserRegistered, user.ID.String(), AggregateTypeUser, data)
}

// PublishUserPasswordChanged publishes a user.password-changed event.
func (p *Producer) PublishUserPasswordChanged(ctx context.Context, user *domain.User, sessionsRevoked int64) error {
	data := UserPasswordChangedData{
		UserID:          user.ID.String(),
		Email:           user.Email,
		SessionsRevoked: sessionsRevoked,
	}

	return p.publish(ctx, TopicUserPasswordChanged, user.ID.String(), AggregateTypeUser, data)
}

// PublishSessionCreated publishes a session.created event.
func (p *Producer) PublishSessionCreated(ctx context.Context, session *domain.Session) error {
	data := SessionData{
		SessionID: session.ID.String(),
		UserID:    session.UserID.String(),
		IPAddress: session.IPAddress,
		UserAgent: session.UserAgent,
	}

	return p.publish(ctx, TopicSessionCreated, session.ID.String(), AggregateTypeSession, data)
}

// PublishSessionRevoked publishes a session.revoked event.
func (p *Producer) PublishSessionRevoked(ctx context.Context, sessionID, userID uuid.UUID) error {
	data := SessionData{
		SessionID: sessionID.String(),
		UserID:    userID.String(),
	}

	return p.publish(ctx, TopicSessionRevoked, sessionID.String(), AggregateTypeSession, data)
}

// PublishTenantCreated publishes a tenant.created event.
func (p *Producer) PublishTenantCreated(ctx context.Context, tenant *domain.Tenant, ownerID uuid.UUID) error {
	data := TenantCreatedData{
		TenantID: tenant.ID.String(),
		Name:     tenant.Name,
		Slug:     tenant.Slug,
		OwnerID:  ownerID.String(),
	}

	return p.publish(ctx, TopicTenantCreated, tenant.ID.String(), AggregateTypeTenant, data)
}

// PublishMemberInvited publishes a tenant.member-invited event.
func (p *Producer) PublishMemberInvited(ctx context.Context, m *domain.TenantMembership, invitedEmail string) error {
	data := MemberInvitedData{
		TenantID:     m.Tenant.String(),
		MembershipID: m.ID.String(),
		InvitedEmail: invitedEmail,
		Role:         string(m.Role),
	}
	if m.InvitedBy != nil {
		data.InvitedBy = m.InvitedBy.String()
	}
	if m.InvitationToken != nil {
		data.InvitationToken = *m.InvitationToken
	}

	return p.publish(ctx, TopicMemberInvited, m.Tenant.String(), AggregateTypeTenant, data)
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, aggregateType, SourceIdentityService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
	)

	return nil
}

package http

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/eventstack/identity/internal/domain"
	"github.com/eventstack/identity/internal/repository"
	"github.com/eventstack/identity/pkg/database"
	apperrors "github.com/eventstack/identity/pkg/errors"
)

// memStore is a map-backed stand-in for Postgres so request flows can be
// exercised end to end without a database. Row-level security is not
// simulated; the scoped-transaction plumbing runs against fakeDB below.
type memStore struct {
	mu          sync.Mutex
	users       map[uuid.UUID]*domain.User
	sessions    map[uuid.UUID]*domain.Session
	tenants     map[uuid.UUID]*domain.Tenant
	memberships map[uuid.UUID]*domain.TenantMembership
}

func newMemStore() *memStore {
	return &memStore{
		users:       make(map[uuid.UUID]*domain.User),
		sessions:    make(map[uuid.UUID]*domain.Session),
		tenants:     make(map[uuid.UUID]*domain.Tenant),
		memberships: make(map[uuid.UUID]*domain.TenantMembership),
	}
}

// --- User repository ---

type memUserRepo struct{ s *memStore }

func (r *memUserRepo) Create(_ context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == user.Email {
			return apperrors.AlreadyExists("user", "email", user.Email)
		}
	}
	cp := *user
	r.s.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, apperrors.NotFound("user", id.String())
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	email = strings.ToLower(email)
	for _, u := range r.s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("user", email)
}

func (r *memUserRepo) GetByOAuth(_ context.Context, provider, oauthID string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.OAuthProvider == provider && u.OAuthID == oauthID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("user", oauthID)
}

func (r *memUserRepo) Update(_ context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[user.ID]; !ok {
		return apperrors.NotFound("user", user.ID.String())
	}
	cp := *user
	r.s.users[user.ID] = &cp
	return nil
}

func (r *memUserRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[id]; !ok {
		return apperrors.NotFound("user", id.String())
	}
	delete(r.s.users, id)
	return nil
}

// --- Session repository ---

type memSessionRepo struct{ s *memStore }

func (r *memSessionRepo) Create(_ context.Context, session *domain.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *session
	r.s.sessions[session.ID] = &cp
	return nil
}

func (r *memSessionRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return nil, apperrors.NotFound("session", id.String())
	}
	cp := *sess
	return &cp, nil
}

func (r *memSessionRepo) GetByRefreshTokenID(_ context.Context, jti uuid.UUID) (*domain.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sess := range r.s.sessions {
		if sess.RefreshTokenID == jti {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("session", jti.String())
}

func (r *memSessionRepo) ListActiveByUserID(_ context.Context, userID uuid.UUID) ([]domain.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now().UTC()
	out := []domain.Session{}
	for _, sess := range r.s.sessions {
		if sess.UserID == userID && sess.Live(now) {
			out = append(out, *sess)
		}
	}
	return out, nil
}

func (r *memSessionRepo) Rotate(_ context.Context, id, newJTI uuid.UUID, expiresAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok || !sess.IsActive || sess.RevokedAt != nil {
		return apperrors.NotFound("session", id.String())
	}
	sess.RefreshTokenID = newJTI
	sess.ExpiresAt = expiresAt
	sess.LastAccessedAt = time.Now().UTC()
	return nil
}

func (r *memSessionRepo) Touch(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if sess, ok := r.s.sessions[id]; ok {
		sess.LastAccessedAt = time.Now().UTC()
	}
	return nil
}

func (r *memSessionRepo) Revoke(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return apperrors.NotFound("session", id.String())
	}
	if sess.RevokedAt == nil {
		now := time.Now().UTC()
		sess.RevokedAt = &now
		sess.IsActive = false
	}
	return nil
}

func (r *memSessionRepo) RevokeAllByUserID(_ context.Context, userID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now().UTC()
	var n int64
	for _, sess := range r.s.sessions {
		if sess.UserID == userID && sess.RevokedAt == nil {
			sess.RevokedAt = &now
			sess.IsActive = false
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) DeleteExpired(_ context.Context, cutoff time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, sess := range r.s.sessions {
		if sess.ExpiresAt.Before(cutoff) {
			delete(r.s.sessions, id)
			n++
		}
	}
	return n, nil
}

// --- Tenant repository ---

type memTenantRepo struct{ s *memStore }

func (r *memTenantRepo) Create(_ context.Context, tenant *domain.Tenant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tenants {
		if t.Slug == tenant.Slug {
			return apperrors.AlreadyExists("tenant", "slug", tenant.Slug)
		}
	}
	cp := *tenant
	r.s.tenants[tenant.ID] = &cp
	return nil
}

func (r *memTenantRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tenants[id]
	if !ok {
		return nil, apperrors.NotFound("tenant", id.String())
	}
	cp := *t
	return &cp, nil
}

func (r *memTenantRepo) GetBySlug(_ context.Context, slug string) (*domain.Tenant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tenants {
		if t.Slug == slug {
			cp := *t
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("tenant", slug)
}

func (r *memTenantRepo) Update(_ context.Context, tenant *domain.Tenant) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tenants[tenant.ID]; !ok {
		return apperrors.NotFound("tenant", tenant.ID.String())
	}
	cp := *tenant
	r.s.tenants[tenant.ID] = &cp
	return nil
}

func (r *memTenantRepo) List(_ context.Context, limit, offset int) ([]domain.Tenant, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := make([]domain.Tenant, 0, len(r.s.tenants))
	for _, t := range r.s.tenants {
		all = append(all, *t)
	}
	total := len(all)
	if offset >= total {
		return []domain.Tenant{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// --- Membership repository ---

type memMembershipRepo struct{ s *memStore }

func (r *memMembershipRepo) Create(_ context.Context, m *domain.TenantMembership) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.memberships {
		if existing.Tenant == m.Tenant && existing.UserID == m.UserID {
			return apperrors.AlreadyExists("membership", "user", m.UserID.String())
		}
	}
	cp := *m
	r.s.memberships[m.ID] = &cp
	return nil
}

func (r *memMembershipRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.TenantMembership, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.memberships[id]
	if !ok {
		return nil, apperrors.NotFound("membership", id.String())
	}
	cp := *m
	return &cp, nil
}

func (r *memMembershipRepo) GetByUserAndTenant(_ context.Context, userID, tenantID uuid.UUID) (*domain.TenantMembership, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.memberships {
		if m.UserID == userID && m.Tenant == tenantID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("membership", userID.String())
}

func (r *memMembershipRepo) GetByInvitationToken(_ context.Context, token string) (*domain.TenantMembership, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.memberships {
		if m.InvitationToken != nil && *m.InvitationToken == token {
			cp := *m
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("invitation", token)
}

func (r *memMembershipRepo) ListByUserID(_ context.Context, userID uuid.UUID) ([]domain.TenantMembership, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []domain.TenantMembership{}
	for _, m := range r.s.memberships {
		if m.UserID == userID && m.IsActive {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *memMembershipRepo) ListByTenantID(_ context.Context, tenantID uuid.UUID, limit, offset int) ([]domain.TenantMembership, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := []domain.TenantMembership{}
	for _, m := range r.s.memberships {
		if m.Tenant == tenantID {
			all = append(all, *m)
		}
	}
	total := len(all)
	if offset >= total {
		return []domain.TenantMembership{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *memMembershipRepo) Update(_ context.Context, m *domain.TenantMembership) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.memberships[m.ID]; !ok {
		return apperrors.NotFound("membership", m.ID.String())
	}
	cp := *m
	r.s.memberships[m.ID] = &cp
	return nil
}

func (r *memMembershipRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.memberships[id]; !ok {
		return apperrors.NotFound("membership", id.String())
	}
	delete(r.s.memberships, id)
	return nil
}

// memBinder returns the same map-backed repositories regardless of the
// transaction handle.
type memBinder struct{ s *memStore }

func (b *memBinder) Tenants(database.DBTX) repository.TenantRepository {
	return &memTenantRepo{s: b.s}
}

func (b *memBinder) Memberships(database.DBTX) repository.MembershipRepository {
	return &memMembershipRepo{s: b.s}
}

// --- Fake database handle ---

// fakeTx satisfies pgx.Tx for the scoped-transaction plumbing; only the
// methods that plumbing touches are implemented.
type fakeTx struct{ pgx.Tx }

func (fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

// fakeDB satisfies database.DBTX. Queries never reach it; repositories are
// map-backed.
type fakeDB struct{}

func (fakeDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func (fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, pgx.ErrNoRows
}

func (fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func (fakeDB) Begin(context.Context) (pgx.Tx, error) {
	return fakeTx{}, nil
}

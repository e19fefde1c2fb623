package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/eventstack/identity/internal/authz"
	"github.com/eventstack/identity/internal/domain"
	"github.com/eventstack/identity/internal/event"
	"github.com/eventstack/identity/internal/ledger"
	"github.com/eventstack/identity/internal/oauth"
	"github.com/eventstack/identity/internal/rbac"
	"github.com/eventstack/identity/internal/service"
	"github.com/eventstack/identity/internal/token"
	"github.com/eventstack/identity/pkg/health"
	"github.com/eventstack/identity/pkg/httputil"
	pkgkafka "github.com/eventstack/identity/pkg/kafka"
	"github.com/eventstack/identity/pkg/middleware"
)

type routerFixture struct {
	store  *memStore
	redis  *miniredis.Miniredis
	codec  *token.Codec
	ledger *ledger.RedisLedger
	router http.Handler
}

// newRouterFixture assembles the full request pipeline over map-backed
// repositories and a miniredis-backed revocation ledger, so tests exercise
// routing, middleware, handlers and services together.
func newRouterFixture(t *testing.T, rl middleware.RateLimitConfig) *routerFixture {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := newMemStore()
	users := &memUserRepo{s: store}
	sessions := &memSessionRepo{s: store}
	binder := &memBinder{s: store}
	db := fakeDB{}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	led := ledger.NewRedisLedger(client, ledger.DefaultBreakerConfig(), log)

	codec := token.NewCodec("test-secret-key-that-is-long-enough", 30*time.Minute, 7*24*time.Hour)
	resolver := rbac.NewResolver(rbac.DefaultCatalog())

	kafkaProducer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig([]string{"localhost:9092"}), log)
	producer := event.NewProducer(kafkaProducer, log)

	authSvc := service.NewAuthService(users, sessions, codec, led, producer, log)
	sessionSvc := service.NewSessionService(sessions, led, producer, log)
	tenantSvc := service.NewTenantService(db, binder, users, producer, log)

	builder := authz.NewBuilder(codec, users, db, binder, resolver, "access_token", "eventstack.test", log)

	google := oauth.NewGoogleProvider("", "", "")

	router := NewRouter(RouterOptions{
		Auth:        NewAuthHandler(authSvc, google, "access_token", false, log),
		Sessions:    NewSessionHandler(sessionSvc, log),
		Tenants:     NewTenantHandler(tenantSvc, log),
		Admin:       NewAdminHandler(db, log),
		AuthBuilder: builder,
		Health:      health.NewHandler(),
		Logger:      log,
		CORS:        middleware.DefaultCORSConfig(),
		RateLimit:   rl,
	})

	return &routerFixture{
		store:  store,
		redis:  mr,
		codec:  codec,
		ledger: led,
		router: router,
	}
}

// generousRateLimit keeps the limiter out of the way for tests that are not
// about it.
func generousRateLimit() middleware.RateLimitConfig {
	return middleware.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000, TTL: time.Minute}
}

type envelope struct {
	Data  json.RawMessage         `json:"data"`
	Error *httputil.ErrorResponse `json:"error"`
}

func (fx *routerFixture) do(t *testing.T, method, path string, body any, decorate func(*http.Request)) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if decorate != nil {
		decorate(req)
	}

	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec, env
}

func bearer(tok string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func (fx *routerFixture) seedUser(t *testing.T, email, password string, role domain.SystemRole) *domain.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hash),
		FirstName:    "Test",
		LastName:     "User",
		SystemRole:   role,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, (&memUserRepo{s: fx.store}).Create(context.Background(), user))
	return user
}

func (fx *routerFixture) seedTenant(t *testing.T, name, tenantSlug string) *domain.Tenant {
	t.Helper()

	now := time.Now().UTC()
	tenant := &domain.Tenant{
		ID:        uuid.New(),
		Name:      name,
		Slug:      tenantSlug,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, (&memTenantRepo{s: fx.store}).Create(context.Background(), tenant))
	return tenant
}

func (fx *routerFixture) seedMembership(t *testing.T, tenantID, userID uuid.UUID, role domain.TenantRole) *domain.TenantMembership {
	t.Helper()

	now := time.Now().UTC()
	m := &domain.TenantMembership{
		ID:        uuid.New(),
		Tenant:    tenantID,
		UserID:    userID,
		Role:      role,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, (&memMembershipRepo{s: fx.store}).Create(context.Background(), m))
	return m
}

func (fx *routerFixture) login(t *testing.T, email, password string) domain.TokenPair {
	t.Helper()

	rec, env := fx.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, "login failed: %s", rec.Body.String())

	var resp struct {
		Tokens domain.TokenPair `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	require.NotEmpty(t, resp.Tokens.AccessToken)
	require.NotEmpty(t, resp.Tokens.RefreshToken)
	return resp.Tokens
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestRegisterLoginRoundTrip(t *testing.T) {
	fx := newRouterFixture(t, generousRateLimit())

	rec, env := fx.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email":      "Ada@Example.com",
		"password":   "Sw0rdfish-reef",
		"first_name": "Ada",
		"last_name":  "Lovelace",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		User   domain.User      `json:"user"`
		Tokens domain.TokenPair `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "ada@example.com", created.User.Email)
	assert.NotEmpty(t, created.Tokens.AccessToken)

	cookie := findCookie(rec, "access_token")
	require.NotNil(t, cookie, "registration should set the access cookie")
	assert.Equal(t, created.Tokens.AccessToken, cookie.Value)
	assert.True(t, cookie.HttpOnly)

	tokens := fx.login(t, "ada@example.com", "Sw0rdfish-reef")

	rec, env = fx.do(t, http.MethodGet, "/api/v1/auth/me", nil, bearer(tokens.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var me struct {
		User domain.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, created.User.ID, me.User.ID)
}

func TestRegister_InvalidBodyRejected(t *testing.T) {
	fx := newRouterFixture(t, generousRateLimit())

	rec, env := fx.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{
		"email": "not-an-email",
	}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestContentTypeEnforcedOnCredentialEndpoints(t *testing.T) {
	fx := newRouterFixture(t, generousRateLimit())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader([]byte("email=x")))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	fx := newRouterFixture(t, generousRateLimit())

	rec, env := fx.do(t, http.MethodGet, "/api/v1/auth/me", nil, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHENTICATED", env.Error.Code)
}

func TestCookieAuthenticationFallback(t *testing.T) {
	fx := newRouterFixture(t, generousRateLimit())
	fx.seedUser(t, "cook@example.com", "password-1", "")
	tokens := fx.login(t, "cook@example.com", "password-1")

	rec, _ := fx.do(t, http.MethodGet, "/api/v1/auth/me", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "access_token", Value: tokens.AccessToken})
	})

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRefresh_RotationLocksOutReusedToken(t *testing.T) {
	fx := newRouterFixture(t, generousRateLimit())
	fx.seedUser(t, "rotate@example.com", "password-1", "")
	tokens := fx.login(t, "rotate@example.com", "password-1")

	rec, env := fx.do(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": tokens.RefreshToken,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var rotated domain.TokenPair
	require.NoError(t, json.Unmarshal(env.Data, &rotated))
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

	// The consumed refresh token is blacklisted; replaying it must fail.
	rec, env = fx.do(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": tokens.RefreshToken,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHENTICATED", env.Error.Code)
}

func TestLogout_RevokesRefreshTokenAndClearsCookie(t *testing.T) {
	fx := newRouterFixture(t, generousRateLimit())
	fx.seedUser(t, "leave@example.com", "password-1", "")
	tokens := fx.login(t, "leave@example.com", "password-1")

	rec, _ := fx.do(t, http.MethodPost, "/api/v1/auth/logout", map[string]string{
		"refresh_token": tokens.RefreshToken,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cookie := findCookie(rec, "access_token")
	require.NotNil(t, cookie)
	assert.Less(t, cookie.MaxAge, 0, "logout should expire the access cookie")

	rec, _ = fx.do(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": tokens.RefreshToken,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout_AccessTokenOutlivesSessionUntilExpiry(t *testing.T) {
	fx := newRouterFixture(t, generousRateLimit())
	fx.seedUser(t, "listed@example.com", "password-1", "")
	tokens := fx.login(t, "listed@example.com", "password-1")

	rec, _ := fx.do(t, http.MethodPost, "/api/v1/auth/logout", map[string]string{
		"refresh_token": tokens.RefreshToken,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Access tokens are never revoked individually; the one in flight
	// stays good until its TTL runs out.
	rec, _ = fx.do(t, http.MethodGet, "/api/v1/auth/me", nil, bearer(tokens.AccessToken))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestLedgerOutageFailsClosedOnRefreshOnly(t *testing.T) {
	fx := newRouterFixture(t, generousRateLimit())
	fx.seedUser(t, "outage@example.com", "password-1", "")
	tokens := fx.login(t, "outage@example.com", "password-1")

	fx.redis.Close()

	// Access tokens verify from the signature alone, so the outage must
	// not take authenticated reads down.
	rec, _ := fx.do(t, http.MethodGet, "/api/v1/auth/me", nil, bearer(tokens.AccessToken))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Refresh cannot confirm the token is unrevoked; it denies rather
	// than assuming the blacklist is empty.
	rec, env := fx.do(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": tokens.RefreshToken,
	}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "SERVICE_UNAVAILABLE", env.Error.Code)
}

func TestSessionListAndRevoke(t *testing.T) {
	fx := newRouterFixture(t, generousRateLimit())
	fx.seedUser(t, "devices@example.com", "password-1", "")

	first := fx.login(t, "devices@example.com", "password-1")
	second := fx.login(t, "devices@example.com", "password-1")

	rec, env := fx.do(t, http.MethodGet, "/api/v1/sessions", nil, bearer(second.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var sessions []domain.Session
	require.NoError(t, json.Unmarshal(env.Data, &sessions))
	require.Len(t, sessions, 2)

	var current, other *domain.Session
	for i := range sessions {
		if sessions[i].Current {
			current = &sessions[i]
		} else {
			other = &sessions[i]
		}
	}
	require.NotNil(t, current, "the caller's own session should be flagged")
	require.NotNil(t, other)

	rec, _ = fx.do(t, http.MethodDelete, "/api/v1/sessions/"+other.ID.String(), nil, bearer(second.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The revoked session's refresh token no longer works.
	rec, _ = fx.do(t, http.MethodPost, "/api/v1/auth/refresh", map[string]string{
		"refresh_token": first.RefreshToken,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTenantAccessControl(t *testing.T) {
	fx := newRouterFixture(t, generousRateLimit())

	tenant := fx.seedTenant(t, "Acme Corp", "acme-corp")

	owner := fx.seedUser(t, "owner@example.com", "password-1", "")
	fx.seedMembership(t, tenant.ID, owner.ID, domain.TenantRoleOwner)

	viewer := fx.seedUser(t, "viewer@example.com", "password-1", "")
	fx.seedMembership(t, tenant.ID, viewer.ID, domain.TenantRoleViewer)

	fx.seedUser(t, "outsider@example.com", "password-1", "")

	ownerTokens := fx.login(t, "owner@example.com", "password-1")
	viewerTokens := fx.login(t, "viewer@example.com", "password-1")
	outsiderTokens := fx.login(t, "outsider@example.com", "password-1")

	base := "/api/v1/tenants/" + tenant.ID.String()

	t.Run("owner reads the tenant", func(t *testing.T) {
		rec, env := fx.do(t, http.MethodGet, base, nil, bearer(ownerTokens.AccessToken))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var got domain.Tenant
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, tenant.ID, got.ID)
	})

	t.Run("viewer lacks the tenant read permission", func(t *testing.T) {
		rec, env := fx.do(t, http.MethodGet, base, nil, bearer(viewerTokens.AccessToken))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "FORBIDDEN", env.Error.Code)
	})

	t.Run("viewer cannot invite members", func(t *testing.T) {
		rec, _ := fx.do(t, http.MethodPost, base+"/members", map[string]string{
			"email": "new@example.com",
			"role":  "organizer",
		}, bearer(viewerTokens.AccessToken))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("non-member is denied at tenant resolution", func(t *testing.T) {
		rec, env := fx.do(t, http.MethodGet, base, nil, bearer(outsiderTokens.AccessToken))
		assert.Equal(t, http.StatusForbidden, rec.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, "FORBIDDEN", env.Error.Code)
	})
}

func TestTenantResolutionFromHeader(t *testing.T) {
	fx := newRouterFixture(t, generousRateLimit())

	tenant := fx.seedTenant(t, "Acme Corp", "acme-corp")
	member := fx.seedUser(t, "member@example.com", "password-1", "")
	fx.seedMembership(t, tenant.ID, member.ID, domain.TenantRoleOrganizer)

	tokens := fx.login(t, "member@example.com", "password-1")

	rec, env := fx.do(t, http.MethodGet, "/api/v1/auth/me", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
		r.Header.Set("X-Tenant-ID", "acme-corp")
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var me struct {
		Tenant     *domain.Tenant           `json:"tenant"`
		Membership *domain.TenantMembership `json:"membership"`
		Roles      []string                 `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &me))
	require.NotNil(t, me.Tenant)
	assert.Equal(t, tenant.ID, me.Tenant.ID)
	require.NotNil(t, me.Membership)
	assert.Equal(t, domain.TenantRoleOrganizer, me.Membership.Role)
	assert.Contains(t, me.Roles, "organizer")
}

func TestCreateTenantFlow(t *testing.T) {
	fx := newRouterFixture(t, generousRateLimit())
	founder := fx.seedUser(t, "founder@example.com", "password-1", "")
	tokens := fx.login(t, "founder@example.com", "password-1")

	rec, env := fx.do(t, http.MethodPost, "/api/v1/tenants", map[string]string{
		"name": "Acme Corp",
	}, bearer(tokens.AccessToken))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created domain.Tenant
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "acme-corp", created.Slug)

	// The founder holds the owner membership and can read the tenant.
	rec, _ = fx.do(t, http.MethodGet, "/api/v1/tenants/"+created.ID.String(), nil, bearer(tokens.AccessToken))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	m, err := (&memMembershipRepo{s: fx.store}).GetByUserAndTenant(context.Background(), founder.ID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TenantRoleOwner, m.Role)
}

func TestAdminEndpointsRequireSystemRole(t *testing.T) {
	fx := newRouterFixture(t, generousRateLimit())
	fx.seedTenant(t, "Acme Corp", "acme-corp")

	fx.seedUser(t, "plain@example.com", "password-1", "")
	fx.seedUser(t, "root@example.com", "password-1", domain.SystemRoleSuperAdmin)

	plainTokens := fx.login(t, "plain@example.com", "password-1")
	adminTokens := fx.login(t, "root@example.com", "password-1")

	rec, env := fx.do(t, http.MethodGet, "/api/v1/admin/tenants", nil, bearer(plainTokens.AccessToken))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "FORBIDDEN", env.Error.Code)

	rec, env = fx.do(t, http.MethodGet, "/api/v1/admin/tenants", nil, bearer(adminTokens.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var page struct {
		Data       []domain.Tenant `json:"data"`
		TotalCount int             `json:"total_count"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Len(t, page.Data, 1)
	assert.Equal(t, 1, page.TotalCount)
}

func TestRateLimiterThrottlesCredentialEndpoints(t *testing.T) {
	fx := newRouterFixture(t, middleware.RateLimitConfig{
		RequestsPerSecond: 0.1,
		Burst:             2,
		TTL:               time.Minute,
	})

	body := map[string]string{"email": "rl@example.com", "password": "whatever-1"}

	for i := 0; i < 2; i++ {
		rec, _ := fx.do(t, http.MethodPost, "/api/v1/auth/login", body, nil)
		require.NotEqual(t, http.StatusTooManyRequests, rec.Code, "request %d should pass the limiter", i)
	}

	rec, _ := fx.do(t, http.MethodPost, "/api/v1/auth/login", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHealthEndpointsArePublic(t *testing.T) {
	fx := newRouterFixture(t, generousRateLimit())

	rec, _ := fx.do(t, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnconfiguredOAuthProviderIsHidden(t *testing.T) {
	fx := newRouterFixture(t, generousRateLimit())

	rec, env := fx.do(t, http.MethodGet, "/api/v1/auth/oauth/google", nil, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "NOT_FOUND", env.Error.Code)
}

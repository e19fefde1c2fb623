package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func rateLimitedHandler(cfg RateLimitConfig) http.Handler {
	rl := NewRateLimiter(cfg)
	return rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestRateLimiter_AllowsWithinBurst(t *testing.T) {
	h := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 1, Burst: 3})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, "request %d within burst should pass", i)
	}
}

func TestRateLimiter_RejectsOverBurst(t *testing.T) {
	h := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2})

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "10.0.0.2:1234"
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
	}

	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Equal(t, "1", last.Header().Get("Retry-After"))
	assert.Contains(t, last.Body.String(), "RATE_LIMITED")
}

func TestRateLimiter_SeparateBucketsPerIP(t *testing.T) {
	h := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})

	req1 := httptest.NewRequest(http.MethodPost, "/login", nil)
	req1.RemoteAddr = "10.0.0.3:1111"
	rec1 := httptest.NewRecorder()
	h.ServeHTTP(rec1, req1)
	assert.Equal(t, http.StatusOK, rec1.Code)

	// Same IP again: exhausted.
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req1)
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)

	// Different IP: fresh bucket.
	req3 := httptest.NewRequest(http.MethodPost, "/login", nil)
	req3.RemoteAddr = "10.0.0.4:2222"
	rec3 := httptest.NewRecorder()
	h.ServeHTTP(rec3, req3)
	assert.Equal(t, http.StatusOK, rec3.Code)
}

func TestRateLimiter_IgnoresForwardedForHeader(t *testing.T) {
	h := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})

	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Changing X-Forwarded-For must not reset the bucket.
	req2 := httptest.NewRequest(http.MethodPost, "/login", nil)
	req2.RemoteAddr = "10.0.0.5:5678"
	req2.Header.Set("X-Forwarded-For", "1.2.3.4")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, TTL: 10 * time.Millisecond})

	rl.allow("10.0.0.6")
	assert.Len(t, rl.clients, 1)

	time.Sleep(25 * time.Millisecond)

	// Access from another IP triggers the sweep.
	rl.allow("10.0.0.7")

	rl.mu.Lock()
	_, stale := rl.clients["10.0.0.6"]
	rl.mu.Unlock()
	assert.False(t, stale, "idle client should be evicted after TTL")
}

func TestClientIP_StripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.10:44321"
	assert.Equal(t, "192.168.1.10", clientIP(req))
}

package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds settings for the per-client rate limiter.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate allowed per client IP.
	RequestsPerSecond float64
	// Burst is the maximum burst size per client IP.
	Burst int
	// TTL is how long an idle client's limiter is kept before eviction.
	// Defaults to 10 minutes if 0.
	TTL time.Duration
}

// DefaultRateLimitConfig returns limits suitable for credential endpoints
// (login, register, refresh), where brute force is the main concern.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 5,
		Burst:             10,
		TTL:               10 * time.Minute,
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a per-client-IP token bucket. Idle entries are evicted
// lazily on access so the map does not grow without bound.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	cfg     RateLimitConfig

	lastSweep time.Time
}

// NewRateLimiter creates a RateLimiter with the given configuration.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.TTL == 0 {
		cfg.TTL = 10 * time.Minute
	}
	return &RateLimiter{
		clients:   make(map[string]*clientLimiter),
		cfg:       cfg,
		lastSweep: time.Now(),
	}
}

// allow reports whether the client identified by ip may proceed.
func (rl *RateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	// Sweep idle entries at most once per TTL interval.
	if now.Sub(rl.lastSweep) > rl.cfg.TTL {
		for k, c := range rl.clients {
			if now.Sub(c.lastSeen) > rl.cfg.TTL {
				delete(rl.clients, k)
			}
		}
		rl.lastSweep = now
	}

	c, ok := rl.clients[ip]
	if !ok {
		c = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst),
		}
		rl.clients[ip] = c
	}
	c.lastSeen = now

	return c.limiter.Allow()
}

// Middleware returns the HTTP middleware enforcing the rate limit.
// Clients over the limit receive 429 with a Retry-After hint.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		if !rl.allow(ip) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]string{
					"code":    "RATE_LIMITED",
					"message": "too many requests",
				},
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the client address, stripping the port when present.
// X-Forwarded-For is deliberately not consulted: the limiter keys on the
// peer address so a spoofed header cannot reset someone else's bucket.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

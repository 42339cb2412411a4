package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fieldtrack/attendance/internal/http/response"
	"github.com/fieldtrack/attendance/internal/store"
	"github.com/fieldtrack/attendance/pkg/logger"
)

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	Requests int                            // Max requests per window
	Window   time.Duration                  // Time window duration
	KeyFunc  func(r *http.Request) []string // Generates rate limit keys for a request
	SkipFunc func(r *http.Request) bool     // Optional bypass
}

// RateLimiter counts requests per hashed key against a pluggable store.
// Store failures let the request through.
type RateLimiter struct {
	counters store.CounterStore
	config   RateLimitConfig
}

func NewRateLimiter(counters store.CounterStore, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{counters: counters, config: config}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.config.SkipFunc != nil && rl.config.SkipFunc(r) {
				next.ServeHTTP(w, r)
				return
			}

			for _, key := range rl.config.KeyFunc(r) {
				if !rl.allow(r, key) {
					response.RateLimit(w, "Too many requests. Try again later.")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(r *http.Request, key string) bool {
	// Keys are hashed so IPs and emails never appear in the store.
	sum := sha256.Sum256([]byte(key))
	hashed := hex.EncodeToString(sum[:])

	count, err := rl.counters.Incr(r.Context(), hashed, rl.config.Window)
	if err != nil {
		logger.WarnContext(r.Context(), "Rate limit store unavailable", "error", err)
		return true
	}
	return count <= int64(rl.config.Requests)
}

// LoginRateLimitKeyFunc limits login attempts by client IP.
func LoginRateLimitKeyFunc(r *http.Request) []string {
	if ip := ClientIP(r); ip != "" {
		return []string{"login:ip:" + ip}
	}
	return nil
}

// ClientIP extracts the real client IP, honoring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

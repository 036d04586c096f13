package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore keeps one token-bucket limiter per caller key. Idle entries
// are evicted lazily so the map does not grow without bound.
type limiterStore struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	config  RateLimitConfig
	lastGC  time.Time
}

const limiterIdleTTL = 10 * time.Minute

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	return &limiterStore{
		entries: make(map[string]*limiterEntry),
		config:  cfg,
		lastGC:  time.Now(),
	}
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.lastGC) > limiterIdleTTL {
		for k, e := range s.entries {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(s.entries, k)
			}
		}
		s.lastGC = now
	}

	e, ok := s.entries[key]
	if !ok {
		e = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), s.config.BurstSize),
		}
		s.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// RateLimit returns a per-caller rate limiting middleware. Requests are
// keyed by tenant plus client IP so one tenant cannot starve another.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newLimiterStore(cfg)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if tenantID, ok := c.Get("jwt_tenant_id").(string); ok && tenantID != "" {
				key = tenantID + ":" + key
			}

			limiter := store.get(key)
			c.Response().Header().Set("X-RateLimit-Limit", strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64))
			if !limiter.Allow() {
				c.Response().Header().Set("Retry-After", "1")
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}

			return next(c)
		}
	}
}

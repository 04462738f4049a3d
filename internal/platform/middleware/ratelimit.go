package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/medqueue/medqueue/internal/platform/auth"
)

// RateLimitConfig holds rate limiting configuration. A non-positive
// RequestsPerSecond disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
	}
}

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore holds one limiter per caller key and forgets idle callers.
type limiterStore struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	config    RateLimitConfig
	lastSweep time.Time
}

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	return &limiterStore{entries: make(map[string]*limiterEntry), config: cfg}
}

func (s *limiterStore) get(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) > time.Minute {
		for k, e := range s.entries {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(s.entries, k)
			}
		}
		s.lastSweep = now
	}

	e, ok := s.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), s.config.BurstSize)}
		s.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// rateLimitKey prefers the staff identity so a shared front-desk IP is not
// throttled as one caller. Anonymous callers fall back to their IP.
func rateLimitKey(c echo.Context) string {
	if staff, ok := c.Get("staff_id").(string); ok && staff != "" && staff != auth.AnonymousStaffID {
		return "staff:" + staff
	}
	return "ip:" + c.RealIP()
}

// RateLimit throttles callers with a token bucket per key.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.RequestsPerSecond <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	store := newLimiterStore(cfg)
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			now := time.Now()
			limiter := store.get(rateLimitKey(c), now)
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)

			r := limiter.ReserveN(now, 1)
			if delay := r.DelayFrom(now); !r.OK() || delay > 0 {
				r.CancelAt(now)
				retry := int(math.Ceil(delay.Seconds()))
				if retry < 1 {
					retry = 1
				}
				h.Set("Retry-After", strconv.Itoa(retry))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			h.Set("X-RateLimit-Remaining", strconv.Itoa(int(limiter.TokensAt(now))))
			return next(c)
		}
	}
}

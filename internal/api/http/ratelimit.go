package http

import (
	"math"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"github.com/spec-kit/ticket-lifecycle/internal/auth"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// RateLimiterConfig configures the per-key token buckets.
type RateLimiterConfig struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	IdleTimeout     time.Duration
}

type keyedLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter keeps one token bucket per principal, falling back to the client IP for
// unauthenticated routes.
type RateLimiter struct {
	cfg      RateLimiterConfig
	mu       sync.Mutex
	limiters map[string]*keyedLimiter
	swept    time.Time
	now      func() time.Time
}

// NewRateLimiter applies defaults to cfg. A non-positive RPS disables limiting.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Hour
	}
	return &RateLimiter{cfg: cfg, limiters: make(map[string]*keyedLimiter), now: time.Now}
}

// Handle refuses requests over budget with 429 and a Retry-After hint.
func (rl *RateLimiter) Handle(c *fiber.Ctx) error {
	if rl.cfg.RPS <= 0 {
		return c.Next()
	}
	key := "ip:" + c.IP()
	if principal, ok := auth.PrincipalFromContext(c); ok {
		key = "user:" + principal.UserID
	}
	if delay := rl.reserve(key); delay > 0 {
		return apperrors.NewRateLimited("rate limit exceeded", int(math.Ceil(delay.Seconds())))
	}
	return c.Next()
}

// reserve takes a token for key, returning how long to wait when none is available.
func (rl *RateLimiter) reserve(key string) time.Duration {
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.swept) >= rl.cfg.CleanupInterval {
		for k, entry := range rl.limiters {
			if now.Sub(entry.lastAccess) > rl.cfg.IdleTimeout {
				delete(rl.limiters, k)
			}
		}
		rl.swept = now
	}

	entry, ok := rl.limiters[key]
	if !ok {
		entry = &keyedLimiter{limiter: rate.NewLimiter(rate.Limit(rl.cfg.RPS), rl.cfg.Burst)}
		rl.limiters[key] = entry
	}
	entry.lastAccess = now

	r := entry.limiter.ReserveN(now, 1)
	if !r.OK() {
		return time.Second
	}
	delay := r.DelayFrom(now)
	if delay > 0 {
		r.CancelAt(now)
	}
	return delay
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

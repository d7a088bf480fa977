// middleware/ratelimit.go
package middleware

import (
	"sync"
	"time"

	"rewards-ledger/logger"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per member (or per IP when the request
// carries no caller).
type RateLimiter struct {
	limiters map[string]*memberLimiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

type memberLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*memberLimiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		now:      time.Now,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	ml, exists := rl.limiters[key]
	if !exists {
		ml = &memberLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = ml
	}
	ml.lastSeen = rl.now()
	return ml.limiter
}

// Handler rejects requests over the member's budget with 429.
func (rl *RateLimiter) Handler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := CallerFrom(c).AccountID
		if key == "" {
			key = c.IP()
		}

		if !rl.getLimiter(key).Allow() {
			logger.Warnf("[RATE_LIMIT] %s exceeded on %s %s", key, c.Method(), c.Path())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, slow down",
				"code":  "rate_limited",
			})
		}
		return c.Next()
	}
}

// Cleanup drops buckets not used for longer than idle and returns how many
// were removed. Active members keep their partially spent budgets.
func (rl *RateLimiter) Cleanup(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-idle)
	removed := 0
	for key, ml := range rl.limiters {
		if ml.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}
	return removed
}

// StartCleanup evicts buckets idle for longer than idle, checking on
// interval until stop is closed.
func (rl *RateLimiter) StartCleanup(interval, idle time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := rl.Cleanup(idle); n > 0 {
					logger.Debugf("[RATE_LIMIT] Evicted %d idle limiter(s)", n)
				}
			case <-stop:
				return
			}
		}
	}()
}

package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// IPRateLimiter keeps one token bucket per client IP, evicting buckets that
// go quiet so the map stays bounded under churn.
type IPRateLimiter struct {
	limiters map[string]*rateLimiterEntry
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	duration time.Duration
}

type rateLimiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewIPRateLimiter allows requestsPerDuration requests per duration window
// from each IP, with the full window available as burst.
func NewIPRateLimiter(requestsPerDuration int, duration time.Duration) *IPRateLimiter {
	rl := &IPRateLimiter{
		limiters: make(map[string]*rateLimiterEntry),
		rate:     rate.Limit(float64(requestsPerDuration) / duration.Seconds()),
		burst:    requestsPerDuration,
		duration: duration,
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &rateLimiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastAccess = time.Now()
	return entry.limiter
}

func (rl *IPRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.duration)
	defer ticker.Stop()
	for range ticker.C {
		rl.cleanup()
	}
}

// cleanup drops IPs idle for two full windows.
func (rl *IPRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-2 * rl.duration)
	for ip, entry := range rl.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(rl.limiters, ip)
		}
	}
}

// Middleware rejects over-limit requests with 429 and a Retry-After hint.
func (rl *IPRateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			limiter := rl.getLimiter(getClientIP(c))
			if !limiter.Allow() {
				reservation := limiter.Reserve()
				delay := reservation.Delay()
				reservation.Cancel()

				c.Response().Header().Set("Retry-After", delay.String())
				return c.JSON(http.StatusTooManyRequests, ErrorResponse{
					Error:   "Rate limit exceeded",
					Details: "Too many requests. Please try again later.",
				})
			}
			return next(c)
		}
	}
}

// RateLimiterConfig groups the per-route-class limiters.
type RateLimiterConfig struct {
	SessionCreation *IPRateLimiter
	DeviceFeed      *IPRateLimiter
	GeneralAPI      *IPRateLimiter
}

func NewRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		SessionCreation: NewIPRateLimiter(10, time.Minute),  // 10 new sessions per minute
		DeviceFeed:      NewIPRateLimiter(600, time.Minute), // location fixes + audio chunks
		GeneralAPI:      NewIPRateLimiter(120, time.Minute),
	}
}

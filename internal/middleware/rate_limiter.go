package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mroshb/szludo_wallet/pkg/errors"
	"github.com/mroshb/szludo_wallet/pkg/logger"
)

// RateLimiter implements a fixed-window in-memory rate limiter keyed by
// ledger user and by client IP.
type RateLimiter struct {
	userLimits map[uint]*windowCount
	ipLimits   map[string]*windowCount
	mu         sync.Mutex

	userMaxRequests int
	ipMaxRequests   int
	window          time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

type windowCount struct {
	requests  int
	resetTime time.Time
}

// NewRateLimiter creates a new rate limiter. Close stops its cleanup loop.
func NewRateLimiter(userMaxRequests, ipMaxRequests int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		userLimits:      make(map[uint]*windowCount),
		ipLimits:        make(map[string]*windowCount),
		userMaxRequests: userMaxRequests,
		ipMaxRequests:   ipMaxRequests,
		window:          window,
		stop:            make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// allow counts one request against counts[key]. A non-positive max disables
// the limit.
func allow[K comparable](counts map[K]*windowCount, key K, max int, window time.Duration, now time.Time) bool {
	if max <= 0 {
		return true
	}

	limit, exists := counts[key]
	if !exists || now.After(limit.resetTime) {
		counts[key] = &windowCount{
			requests:  1,
			resetTime: now.Add(window),
		}
		return true
	}

	if limit.requests >= max {
		return false
	}

	limit.requests++
	return true
}

func remaining[K comparable](counts map[K]*windowCount, key K, max int, now time.Time) int {
	limit, exists := counts[key]
	if !exists || now.After(limit.resetTime) {
		return max
	}

	left := max - limit.requests
	if left < 0 {
		return 0
	}
	return left
}

// CheckUserLimit checks if user has exceeded rate limit
func (rl *RateLimiter) CheckUserLimit(userID uint) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return allow(rl.userLimits, userID, rl.userMaxRequests, rl.window, time.Now())
}

// CheckIPLimit checks if IP has exceeded rate limit
func (rl *RateLimiter) CheckIPLimit(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return allow(rl.ipLimits, ip, rl.ipMaxRequests, rl.window, time.Now())
}

// GetUserRemaining returns remaining requests for user
func (rl *RateLimiter) GetUserRemaining(userID uint) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return remaining(rl.userLimits, userID, rl.userMaxRequests, time.Now())
}

// GetIPRemaining returns remaining requests for IP
func (rl *RateLimiter) GetIPRemaining(ip string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return remaining(rl.ipLimits, ip, rl.ipMaxRequests, time.Now())
}

// LimitByIP rejects clients that exceed the per-IP budget.
func (rl *RateLimiter) LimitByIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !rl.CheckIPLimit(ip) {
			logger.Warn("IP rate limit exceeded", "ip", ip, "path", c.FullPath())
			rl.reject(c, rl.ipMaxRequests)
			return
		}
		rl.annotate(c, rl.ipMaxRequests, rl.GetIPRemaining(ip))
		c.Next()
	}
}

// LimitByUser rejects authenticated users that exceed the per-user budget.
// It must run after Auth.
func (rl *RateLimiter) LimitByUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserID(c)
		if !ok {
			c.Next()
			return
		}
		if !rl.CheckUserLimit(userID) {
			logger.Warn("User rate limit exceeded", "user_id", userID, "path", c.FullPath())
			rl.reject(c, rl.userMaxRequests)
			return
		}
		// runs after LimitByIP, so the tighter user budget wins the headers
		rl.annotate(c, rl.userMaxRequests, rl.GetUserRemaining(userID))
		c.Next()
	}
}

func (rl *RateLimiter) annotate(c *gin.Context, max, left int) {
	if max <= 0 {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(max))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(left))
}

func (rl *RateLimiter) reject(c *gin.Context, max int) {
	c.Header("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
	rl.annotate(c, max, 0)
	abort(c, http.StatusTooManyRequests, errors.ErrCodeRateLimitExceeded, "too many requests")
}

// cleanup removes expired entries
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
		}

		rl.mu.Lock()
		now := time.Now()

		for userID, limit := range rl.userLimits {
			if now.After(limit.resetTime) {
				delete(rl.userLimits, userID)
			}
		}

		for ip, limit := range rl.ipLimits {
			if now.After(limit.resetTime) {
				delete(rl.ipLimits, ip)
			}
		}

		rl.mu.Unlock()
	}
}

// Close stops the cleanup loop.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// Reset clears all rate limits
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.userLimits = make(map[uint]*windowCount)
	rl.ipLimits = make(map[string]*windowCount)
}

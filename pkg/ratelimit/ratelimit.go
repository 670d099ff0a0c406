// Package ratelimit provides per-caller rate limiting middleware for the
// oversight API. Callers are keyed by reviewer identity when the auth
// middleware resolved one, otherwise by client IP.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	// Rate is the number of requests allowed per second
	Rate float64
	// Burst is the maximum number of requests allowed in a burst
	Burst int
	// CleanupInterval is how often to clean up stale entries
	CleanupInterval time.Duration
	// MaxAge is how long to keep an entry after last access
	MaxAge time.Duration
	// IdentityKey is the gin context key holding the caller identity
	// (defaults to "reviewerId"); client IP is the fallback key
	IdentityKey string
}

// DefaultTaskConfig returns the default limits for the task lifecycle
// endpoints. Reviewers interact at human speed; 20 req/s is generous.
func DefaultTaskConfig() Config {
	return Config{
		Rate:            20,
		Burst:           50,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

// DefaultTokenConfig returns the default limits for the token authority
// endpoints. Verification is called per tool invocation and needs headroom.
func DefaultTokenConfig() Config {
	return Config{
		Rate:            200,
		Burst:           500,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

// entry holds the limiter and last access time for one caller key.
type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// CallerRateLimiter implements per-caller rate limiting with automatic
// cleanup of stale entries.
type CallerRateLimiter struct {
	mu      sync.RWMutex
	entries map[string]*entry
	config  Config
	done    chan struct{}
}

// New creates a per-caller rate limiter and starts its cleanup goroutine.
func New(cfg Config) *CallerRateLimiter {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	if cfg.IdentityKey == "" {
		cfg.IdentityKey = "reviewerId"
	}

	rl := &CallerRateLimiter{
		entries: make(map[string]*entry),
		config:  cfg,
		done:    make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow checks whether a request under the given caller key should pass.
func (rl *CallerRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, exists := rl.entries[key]
	if !exists {
		e = &entry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.Rate), rl.config.Burst),
		}
		rl.entries[key] = e
	}
	e.lastAccess = time.Now()

	return e.limiter.Allow()
}

// key resolves the caller identity from the gin context, falling back to the
// client IP for unauthenticated requests.
func (rl *CallerRateLimiter) key(c *gin.Context) string {
	if v, exists := c.Get(rl.config.IdentityKey); exists {
		if id, ok := v.(string); ok && id != "" {
			return "user:" + id
		}
	}
	return "ip:" + c.ClientIP()
}

// Middleware returns a gin middleware applying per-caller rate limiting.
// Apply it after the auth middleware so authenticated callers are keyed by
// identity rather than shared NAT addresses.
func (rl *CallerRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(rl.key(c)) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded, please try again later",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Stop stops the cleanup goroutine.
func (rl *CallerRateLimiter) Stop() {
	close(rl.done)
}

// cleanup periodically removes stale entries.
func (rl *CallerRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.cleanupStaleEntries()
		}
	}
}

func (rl *CallerRateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, e := range rl.entries {
		if now.Sub(e.lastAccess) > rl.config.MaxAge {
			delete(rl.entries, key)
		}
	}
}

// Len returns the current number of tracked callers (for testing/metrics).
func (rl *CallerRateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.entries)
}

// Config returns a copy of the current configuration (for testing).
func (rl *CallerRateLimiter) Config() Config {
	return rl.config
}

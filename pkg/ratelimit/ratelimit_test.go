package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestDefaultConfigs(t *testing.T) {
	t.Run("task config", func(t *testing.T) {
		cfg := DefaultTaskConfig()
		assert.Equal(t, float64(20), cfg.Rate)
		assert.Equal(t, 50, cfg.Burst)
		assert.Equal(t, time.Minute, cfg.CleanupInterval)
		assert.Equal(t, 5*time.Minute, cfg.MaxAge)
	})

	t.Run("token config", func(t *testing.T) {
		cfg := DefaultTokenConfig()
		assert.Equal(t, float64(200), cfg.Rate)
		assert.Equal(t, 500, cfg.Burst)
	})
}

func TestNewAppliesDefaults(t *testing.T) {
	rl := New(Config{Rate: 1, Burst: 1})
	defer rl.Stop()

	cfg := rl.Config()
	assert.Equal(t, time.Minute, cfg.CleanupInterval)
	assert.Equal(t, 5*time.Minute, cfg.MaxAge)
	assert.Equal(t, "reviewerId", cfg.IdentityKey)
}

func TestAllow(t *testing.T) {
	t.Run("enforces the burst per key", func(t *testing.T) {
		rl := New(Config{Rate: 1, Burst: 2})
		defer rl.Stop()

		assert.True(t, rl.Allow("user:alice"))
		assert.True(t, rl.Allow("user:alice"))
		assert.False(t, rl.Allow("user:alice"))
	})

	t.Run("keys are independent", func(t *testing.T) {
		rl := New(Config{Rate: 1, Burst: 1})
		defer rl.Stop()

		assert.True(t, rl.Allow("user:alice"))
		assert.False(t, rl.Allow("user:alice"))
		assert.True(t, rl.Allow("user:bob"))
		assert.Equal(t, 2, rl.Len())
	})
}

func TestMiddleware(t *testing.T) {
	newRouter := func(rl *CallerRateLimiter, identity string) *gin.Engine {
		router := gin.New()
		if identity != "" {
			router.Use(func(c *gin.Context) { c.Set("reviewerId", identity) })
		}
		router.Use(rl.Middleware())
		router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
		return router
	}

	get := func(router *gin.Engine) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	t.Run("returns 429 once the limit is hit", func(t *testing.T) {
		rl := New(Config{Rate: 1, Burst: 1})
		defer rl.Stop()
		router := newRouter(rl, "alice")

		assert.Equal(t, http.StatusOK, get(router))
		assert.Equal(t, http.StatusTooManyRequests, get(router))
	})

	t.Run("authenticated callers are keyed by identity", func(t *testing.T) {
		rl := New(Config{Rate: 1, Burst: 1})
		defer rl.Stop()

		require.Equal(t, http.StatusOK, get(newRouter(rl, "alice")))
		assert.Equal(t, http.StatusOK, get(newRouter(rl, "bob")))
		assert.Equal(t, http.StatusTooManyRequests, get(newRouter(rl, "alice")))
	})

	t.Run("unauthenticated callers fall back to the client IP", func(t *testing.T) {
		rl := New(Config{Rate: 1, Burst: 1})
		defer rl.Stop()
		router := newRouter(rl, "")

		require.Equal(t, http.StatusOK, get(router))
		assert.Equal(t, http.StatusTooManyRequests, get(router))
		assert.Equal(t, 1, rl.Len())
	})
}

func TestCleanupRemovesStaleEntries(t *testing.T) {
	rl := New(Config{
		Rate:            1,
		Burst:           1,
		CleanupInterval: 10 * time.Millisecond,
		MaxAge:          20 * time.Millisecond,
	})
	defer rl.Stop()

	rl.Allow("user:alice")
	require.Equal(t, 1, rl.Len())

	require.Eventually(t, func() bool { return rl.Len() == 0 }, time.Second, 5*time.Millisecond)
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_FixedWindow(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _, err := limiter.Allow(ctx, "login:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, retryAfter, _ := limiter.Allow(ctx, "login:1.2.3.4")
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retryAfter)

	ok, _, _ = limiter.Allow(ctx, "login:5.6.7.8")
	assert.True(t, ok, "keys are independent")

	now = now.Add(time.Minute)
	ok, _, _ = limiter.Allow(ctx, "login:1.2.3.4")
	assert.True(t, ok, "new window")

	now = now.Add(2 * time.Minute)
	limiter.Cleanup()
	assert.Empty(t, limiter.windows)
}

func TestRateLimiter_Concurrent(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _, _ := limiter.Allow(context.Background(), "k"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}

func TestDistributedRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	limiter := NewDistributedRateLimiter(rdb, &RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}, "")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := limiter.Allow(ctx, "login:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, retryAfter, err := limiter.Allow(ctx, "login:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.LessOrEqual(t, retryAfter, time.Minute)

	assert.True(t, mr.Exists("claimgate:ratelimit:login:1.2.3.4"))

	mr.FastForward(61 * time.Second)
	ok, _, err = limiter.Allow(ctx, "login:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok, "window expired")

	require.NoError(t, limiter.Reset(ctx, "login:1.2.3.4"))
	assert.False(t, mr.Exists("claimgate:ratelimit:login:1.2.3.4"))
}

type stubLimiter struct {
	allowed bool
	err     error
	calls   int
}

func (s *stubLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	s.calls++
	return s.allowed, 30 * time.Second, s.err
}

type countingRecorder struct{ routes []string }

func (c *countingRecorder) RecordRateLimited(route string) { c.routes = append(c.routes, route) }

func TestThrottleMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	t.Run("rejects with retry-after", func(t *testing.T) {
		rec := &countingRecorder{}
		m := NewThrottleMiddleware(&stubLimiter{allowed: false}, nil, rec, false)

		w := httptest.NewRecorder()
		m.Handler("login")(ok).ServeHTTP(w, httptest.NewRequest("POST", "/login", nil))

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "30", w.Header().Get("Retry-After"))
		assert.Equal(t, []string{"login"}, rec.routes)
	})

	t.Run("falls back when redis fails", func(t *testing.T) {
		fallback := &stubLimiter{allowed: false}
		m := NewThrottleMiddleware(&stubLimiter{err: errors.New("connection refused")}, fallback, nil, false)

		w := httptest.NewRecorder()
		m.Handler("magic_link")(ok).ServeHTTP(w, httptest.NewRequest("POST", "/auth/magic-link", nil))

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, 1, fallback.calls)
	})

	t.Run("allows under limit", func(t *testing.T) {
		m := NewThrottleMiddleware(nil, NewRateLimiter(nil), nil, false)

		w := httptest.NewRecorder()
		m.Handler("login")(ok).ServeHTTP(w, httptest.NewRequest("POST", "/login", nil))

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	assert.Equal(t, "10.0.0.1", clientIP(req, false))
	assert.Equal(t, "203.0.113.7", clientIP(req, true))

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", clientIP(req, true))
}

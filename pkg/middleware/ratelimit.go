package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/claimgate/pkg/httputil"
	"github.com/platinummonkey/claimgate/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
}

// LoginRateLimitConfig returns the throttle applied to credential endpoints.
func LoginRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Minute,
	}
}

// RateLimiter is an in-memory fixed-window limiter. It serves single
// instances and stands in when Redis is unreachable.
type RateLimiter struct {
	config  *RateLimitConfig
	windows map[string]*window
	mu      sync.Mutex
	now     func() time.Time
}

type window struct {
	count int
	reset time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = LoginRateLimitConfig()
	}
	return &RateLimiter{
		config:  config,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow counts one request for key and reports whether it is within the
// limit, plus the time left in the current window.
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || !now.Before(w.reset) {
		w = &window{reset: now.Add(rl.config.WindowDuration)}
		rl.windows[key] = w
	}
	w.count++
	return w.count <= rl.config.RequestsPerWindow, w.reset.Sub(now), nil
}

// Cleanup removes expired windows (should be called periodically)
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, w := range rl.windows {
		if !now.Before(w.reset) {
			delete(rl.windows, key)
		}
	}
}

// StartCleanup starts a background goroutine to cleanup old windows
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(rl.config.WindowDuration)
	go func() {
		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// ThrottledRecorder counts rejected requests.
type ThrottledRecorder interface {
	RecordRateLimited(route string)
}

// ThrottleMiddleware limits requests per client IP. When the primary limiter
// errors, the fallback decides.
type ThrottleMiddleware struct {
	primary    Limiter
	fallback   Limiter
	recorder   ThrottledRecorder
	trustProxy bool
}

// NewThrottleMiddleware creates a throttle. primary may be nil, in which case
// only the fallback is consulted.
func NewThrottleMiddleware(primary, fallback Limiter, recorder ThrottledRecorder, trustProxy bool) *ThrottleMiddleware {
	return &ThrottleMiddleware{
		primary:    primary,
		fallback:   fallback,
		recorder:   recorder,
		trustProxy: trustProxy,
	}
}

// Handler throttles the wrapped handler under the given route name.
func (m *ThrottleMiddleware) Handler(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := route + ":" + clientIP(r, m.trustProxy)

			allowed, retryAfter, err := m.allow(r.Context(), key)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Warn("rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				if m.recorder != nil {
					m.recorder.RecordRateLimited(route)
				}
				secs := int(retryAfter.Round(time.Second).Seconds())
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				httputil.WriteTooManyRequests(w, "Too many requests, try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *ThrottleMiddleware) allow(ctx context.Context, key string) (bool, time.Duration, error) {
	if m.primary != nil {
		allowed, retryAfter, err := m.primary.Allow(ctx, key)
		if err == nil {
			return allowed, retryAfter, nil
		}
		observability.FromContext(ctx).WithError(err).Warn("redis rate limiter failed, using in-memory fallback")
	}
	if m.fallback == nil {
		return true, 0, nil
	}
	return m.fallback.Allow(ctx, key)
}

// clientIP returns the caller address. Forwarded headers are honoured only
// behind a trusted proxy.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			return strings.TrimSpace(first)
		}
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			return realIP
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

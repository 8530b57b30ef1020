package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the per-client sliding window limiter.
type RateLimitConfig struct {
	// Max is the number of requests a client may make per Window. Zero or
	// less disables limiting.
	Max    int
	Window time.Duration
	// Key identifies the client. ClientIP is used when nil.
	Key func(*http.Request) string
}

// bucket holds the counts of the current and the previous fixed window.
type bucket struct {
	start time.Time
	curr  float64
	prev  float64
}

type decision struct {
	allowed   bool
	remaining int
	reset     time.Time
}

type limiter struct {
	max    float64
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

func newLimiter(limit int, window time.Duration) *limiter {
	return &limiter{
		max:     float64(limit),
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// take counts one request for key unless the weighted count of the last
// window is already at the limit.
func (l *limiter) take(key string) decision {
	now := l.now()
	start := now.Truncate(l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	switch {
	case !ok:
		b = &bucket{start: start}
		l.buckets[key] = b
	case start.Sub(b.start) >= 2*l.window:
		b.start, b.prev, b.curr = start, 0, 0
	case start.After(b.start):
		b.start, b.prev, b.curr = start, b.curr, 0
	}

	// The previous window counts in proportion to its overlap with the
	// sliding window ending now.
	overlap := 1 - float64(now.Sub(b.start))/float64(l.window)
	used := b.prev*overlap + b.curr
	d := decision{reset: b.start.Add(l.window)}
	if used >= l.max {
		return d
	}
	b.curr++
	d.allowed = true
	d.remaining = max(int(l.max-used-1), 0)
	return d
}

// evict drops buckets that no longer influence any decision.
func (l *limiter) evict() {
	cutoff := l.now().Truncate(l.window).Add(-2 * l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.buckets {
		if !b.start.After(cutoff) {
			delete(l.buckets, key)
		}
	}
}

func (l *limiter) runEviction(ctx context.Context) {
	ticker := time.NewTicker(2 * l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evict()
		}
	}
}

// RateLimit limits each client to cfg.Max requests per sliding cfg.Window.
// Rejected requests get 429 with Retry-After. Every limited response carries
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset. Stale
// client state is evicted in the background until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	if cfg.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Key == nil {
		cfg.Key = ClientIP
	}

	l := newLimiter(cfg.Max, cfg.Window)
	go l.runEviction(ctx)
	return rateLimit(l, cfg.Key)
}

func rateLimit(l *limiter, key func(*http.Request) string) Middleware {
	limit := strconv.Itoa(int(l.max))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.take(key(r))

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.reset.Unix(), 10))
			if d.allowed {
				next.ServeHTTP(w, r)
				return
			}

			wait := max(d.reset.Sub(l.now()), 0)
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"code":429,"message":"rate limit exceeded"}`))
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package rpc

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig bounds requests per client source.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
	// TrustForwardedFor honours X-Forwarded-For when the server sits behind
	// a trusted proxy.
	TrustForwardedFor bool
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rateLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu       sync.Mutex
	visitors map[string]*visitor
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	return &rateLimiter{
		limit:    rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:    burst,
		ttl:      10 * time.Minute,
		visitors: make(map[string]*visitor),
	}
}

func (l *rateLimiter) allow(source string, now time.Time) bool {
	if l == nil {
		return true
	}
	if source == "" {
		source = "unknown"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.ttl {
			delete(l.visitors, key)
		}
	}
	v, ok := l.visitors[source]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[source] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func clientSource(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

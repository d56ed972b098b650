package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	maxTrackedClients = 10000
	clientIdleAfter   = 10 * time.Minute
)

// RateLimit enforces a per-client-IP token bucket in front of the API. It
// protects the process; the per-session dispatch throttle is separate.
// A non-positive rps disables the limiter.
func RateLimit(rps float64, burst int, skipPaths ...string) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst < 1 {
		burst = 1
	}

	rl := &ipRateLimiter{limit: rate.Limit(rps), burst: burst, now: time.Now}
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}
		if !rl.allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limiters == nil {
		l.limiters = make(map[string]*limiterEntry)
	}

	now := l.now()
	e, ok := l.limiters[ip]
	if !ok {
		if len(l.limiters) >= maxTrackedClients {
			l.cleanup(now)
		}
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[ip] = e
	}
	e.lastSeen = now

	return e.limiter.AllowN(now, 1)
}

// cleanup must be called with l.mu held.
func (l *ipRateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-clientIdleAfter)
	for ip, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

package middlewares

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyedLimiter holds one token bucket per key. Idle buckets are evicted.
type KeyedLimiter struct {
	rps   rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu       sync.Mutex
	limiters map[string]*limiterEntry
	swept    time.Time
}

type limiterEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

func NewKeyedLimiter(rps float64, burst int) *KeyedLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &KeyedLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
		now:      time.Now,
		limiters: map[string]*limiterEntry{},
	}
}

func (l *KeyedLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.swept) > l.idle {
		for k, e := range l.limiters {
			if now.Sub(e.seen) > l.idle {
				delete(l.limiters, k)
			}
		}
		l.swept = now
	}

	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[key] = e
	}
	e.seen = now
	return e.limiter.AllowN(now, 1)
}

// RateLimit rejects requests over the limit with 429. The key is the
// authenticated user when known, otherwise the client IP.
func RateLimit(l *KeyedLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if identity, ok := CurrentIdentity(c); ok {
			key = "user:" + strconv.FormatInt(identity.UserID, 10)
		}
		if !l.Allow(key) {
			c.Header("Retry-After", "1")
			abortJSON(c, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		c.Next()
	}
}

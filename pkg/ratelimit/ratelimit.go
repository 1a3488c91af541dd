package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// PerClientLimiter keeps one token bucket per client key (normally the remote
// IP). Buckets idle for staleAfter are evicted by a background sweep so the
// map cannot grow without bound.
type PerClientLimiter struct {
	mu         sync.Mutex
	clients    map[string]*clientBucket
	rps        rate.Limit
	burst      int
	staleAfter time.Duration
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewPerClientLimiter(rps, burst int) *PerClientLimiter {
	l := &PerClientLimiter{
		clients:    make(map[string]*clientBucket),
		rps:        rate.Limit(rps),
		burst:      burst,
		staleAfter: 3 * time.Minute,
	}
	go l.sweep()
	return l
}

// Allow reports whether the client identified by key may proceed.
func (l *PerClientLimiter) Allow(key string) bool {
	l.mu.Lock()
	bucket, ok := l.clients[key]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[key] = bucket
	}
	bucket.lastSeen = time.Now()
	l.mu.Unlock()

	return bucket.limiter.Allow()
}

func (l *PerClientLimiter) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-l.staleAfter)
		l.mu.Lock()
		for key, bucket := range l.clients {
			if bucket.lastSeen.Before(cutoff) {
				delete(l.clients, key)
			}
		}
		l.mu.Unlock()
	}
}

// Middleware returns a gin middleware enforcing the limiter per client IP.
func Middleware(limiter *PerClientLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.Header("X-RateLimit-Remaining", "0")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

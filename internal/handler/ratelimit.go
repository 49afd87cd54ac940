package handler

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterIdle is how long an idle client's bucket is kept.
const limiterIdle = 10 * time.Minute

// RateLimiter returns a Gin middleware that enforces per-IP token-bucket
// rate limiting. rps is the steady-state requests per second; burst is the
// maximum burst size. Buckets live in a TTL cache; every request from a
// client pushes its expiry out by limiterIdle, so only idle buckets expire.
func RateLimiter(rps, burst int) (gin.HandlerFunc, error) {
	return newRateLimiter(rps, burst, limiterIdle)
}

func newRateLimiter(rps, burst int, idle time.Duration) (gin.HandlerFunc, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *rate.Limiter]{
		NumCounters: 1e5,
		MaxCost:     1e4,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limiter cache: %w", err)
	}

	var mu sync.Mutex
	limiterFor := func(ip string) *rate.Limiter {
		if l, ok := cache.Get(ip); ok {
			cache.SetWithTTL(ip, l, 1, idle)
			return l
		}
		mu.Lock()
		defer mu.Unlock()
		if l, ok := cache.Get(ip); ok {
			return l
		}
		l := rate.NewLimiter(rate.Limit(rps), burst)
		cache.SetWithTTL(ip, l, 1, idle)
		cache.Wait()
		return l
	}

	return func(c *gin.Context) {
		if !limiterFor(c.ClientIP()).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}, nil
}

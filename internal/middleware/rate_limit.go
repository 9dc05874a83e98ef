package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter ограничивает частоту запросов с одного IP (token bucket на адрес).
type RateLimiter struct {
	mu      sync.Mutex
	every   time.Duration
	burst   int
	buckets map[string]*bucket
	sweepAt time.Time
}

type bucket struct {
	limiter *rate.Limiter
	seen    time.Time
}

// NewRateLimiter - один запрос в every, с запасом burst
func NewRateLimiter(every time.Duration, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{every: every, burst: burst, buckets: make(map[string]*bucket)}
}

func (rl *RateLimiter) allow(ip string) bool {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	// забываем адреса, молчащие дольше минуты
	if now.After(rl.sweepAt) {
		for k, b := range rl.buckets {
			if now.Sub(b.seen) > time.Minute {
				delete(rl.buckets, k)
			}
		}
		rl.sweepAt = now.Add(time.Minute)
	}

	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Every(rl.every), rl.burst)}
		rl.buckets[ip] = b
	}
	b.seen = now
	return b.limiter.AllowN(now, 1)
}

// Handler отвечает 429, когда адрес исчерпал лимит
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"message": "Слишком много запросов",
			})
			return
		}
		c.Next()
	}
}

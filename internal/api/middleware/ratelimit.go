package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"

	"github.com/vanguard-ops/console/internal/services"
)

// RateLimiter admits or rejects one request for key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// RedisRateLimiter is a GCRA limiter shared by every API node through redis.
type RedisRateLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
}

// NewRedisRateLimiter allows perMinute requests per key with a burst of the
// same size.
func NewRedisRateLimiter(client redis.UniversalClient, perMinute int) *RedisRateLimiter {
	return &RedisRateLimiter{limiter: redis_rate.NewLimiter(client), limit: redis_rate.PerMinute(perMinute)}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	res, err := l.limiter.Allow(ctx, "vanguard:rate:"+key, l.limit)
	if err != nil {
		return true, 0, err
	}
	return res.Allowed > 0, res.RetryAfter, nil
}

// RateLimit throttles authenticated callers per user, falling back to the
// client IP. A nil limiter disables throttling. Limiter failures let the
// request through.
func RateLimit(limiter RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		key := "ip:" + c.ClientIP()
		if actor, ok := ActorFrom(c); ok {
			key = "user:" + actor.UserID
		}
		allowed, retryAfter, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			GetRequestLogger(c).WithError(err).Warn("rate limiter unavailable")
			c.Next()
			return
		}
		if !allowed {
			seconds := int(math.Max(1, math.Ceil(retryAfter.Seconds())))
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": fmt.Sprintf("rate limit exceeded, try again in %ds", seconds),
				"code":  services.CodeConflict,
			})
			return
		}
		c.Next()
	}
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/vanguard-ops/console/internal/services"
)

type fakeLimiter struct {
	mu    sync.Mutex
	limit int
	seen  map[string]int
	err   error
}

func (f *fakeLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, 0, f.err
	}
	if f.seen == nil {
		f.seen = map[string]int{}
	}
	f.seen[key]++
	if f.seen[key] > f.limit {
		return false, 1500 * time.Millisecond, nil
	}
	return true, 0, nil
}

func rateLimitedRouter(limiter RateLimiter, actor *services.ActorContext) *gin.Engine {
	router := gin.New()
	if actor != nil {
		router.Use(func(c *gin.Context) { c.Set(ActorKey, actor) })
	}
	router.Use(RateLimit(limiter))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestRateLimit_ThrottlesPerUser(t *testing.T) {
	limiter := &fakeLimiter{limit: 2}
	router := rateLimitedRouter(limiter, &services.ActorContext{UserID: "u1"})

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = httptest.NewRecorder()
		router.ServeHTTP(last, httptest.NewRequest(http.MethodGet, "/x", nil))
		codes = append(codes, last.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, "2", last.Header().Get("Retry-After"))
	assert.Equal(t, "conflict", decodeBody(t, last)["code"])
	assert.Equal(t, 3, limiter.seen["user:u1"])
}

func TestRateLimit_FallsBackToClientIP(t *testing.T) {
	limiter := &fakeLimiter{limit: 5}
	router := rateLimitedRouter(limiter, nil)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	router.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, 1, limiter.seen["ip:192.0.2.10"])
}

func TestRateLimit_FailsOpen(t *testing.T) {
	router := rateLimitedRouter(&fakeLimiter{err: errors.New("redis down")}, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	router = rateLimitedRouter(nil, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

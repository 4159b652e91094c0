package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ideahub/pkg/observability"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestDistributedRateLimiter_Window(t *testing.T) {
	client, mr := setupRedis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}, "test", nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := limiter.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	remaining, err := limiter.Remaining(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	ttl, err := limiter.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl, "later requests must not extend the window")

	mr.FastForward(time.Minute + time.Second)
	ok, err = limiter.Allow(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "a new window starts after expiry")
}

func TestDistributedRateLimiter_RemainingAndReset(t *testing.T) {
	client, _ := setupRedis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Minute}, "", nil)
	ctx := context.Background()

	remaining, err := limiter.Remaining(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)

	_, err = limiter.Allow(ctx, "fresh")
	require.NoError(t, err)
	remaining, err = limiter.Remaining(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)

	require.NoError(t, limiter.Reset(ctx, "fresh"))
	remaining, err = limiter.Remaining(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)
}

func TestDistributedRateLimiter_Release(t *testing.T) {
	client, mr := setupRedis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}, "test", nil)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, limiter.Release(ctx, "k"))
	remaining, err := limiter.Remaining(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)

	require.NoError(t, limiter.Release(ctx, "expired"))
	assert.False(t, mr.Exists("test:expired"), "releasing an expired window must not leave a negative counter")
}

func TestDistributedRateLimiter_RedisDownFailsOpen(t *testing.T) {
	client, mr := setupRedis(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	limiter := NewDistributedRateLimiter(client, nil, "test", metrics)
	mr.Close()

	ok, err := limiter.Allow(context.Background(), "k")
	assert.Error(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RedisCommandsTotal.WithLabelValues("ratelimit_incr", "error")))
}

func TestDistributedRateLimitMiddleware(t *testing.T) {
	client, _ := setupRedis(t)
	tight := &RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}
	handler := NewDistributedRateLimitMiddleware(client, tight, tight, nil, testLogger()).Handler(okHandler())

	req := func() *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/auth", nil)
		r.RemoteAddr = "203.0.113.9:1234"
		return r
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req())
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":"rate limit exceeded","retry_after":60}`, rec.Body.String())
}

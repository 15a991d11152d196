package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warboardhq/warboard/internal/v1/config"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	l, err := New(&config.Config{
		RateLimitAPIGlobal: "1000-M",
		RateLimitAPIPublic: "3-M",
		RateLimitWsIP:      "2-M",
		RateLimitWsMove:    "3-S",
		RateLimitWsErase:   "2-S",
	}, nil)
	require.NoError(t, err)
	return l
}

func TestNewRejectsBadRate(t *testing.T) {
	_, err := New(&config.Config{RateLimitAPIGlobal: "banana"}, nil)
	assert.Error(t, err)
}

func TestAllowEventWindows(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, l.AllowEvent(ctx, "sock-1", "TOKEN_MOVE"), "move %d", i)
	}
	assert.False(t, l.AllowEvent(ctx, "sock-1", "TOKEN_MOVE"), "window exhausted")

	// Other sockets and other event types have their own windows.
	assert.True(t, l.AllowEvent(ctx, "sock-2", "TOKEN_MOVE"))
	assert.True(t, l.AllowEvent(ctx, "sock-1", "ERASE_AT"))
	assert.True(t, l.AllowEvent(ctx, "sock-1", "ERASE_AT"))
	assert.False(t, l.AllowEvent(ctx, "sock-1", "ERASE_AT"))
}

func TestAllowEventUnlimitedTypes(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		assert.True(t, l.AllowEvent(ctx, "sock-1", "STROKE_ADD"))
	}
}

func apiRequest(t *testing.T, l *Limiter, userID any) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	c.Request.RemoteAddr = "203.0.113.7:1234"
	if userID != nil {
		c.Set("user_id", userID)
	}
	l.APIMiddleware()(c)
	return w
}

func TestAPIMiddlewarePublicLimit(t *testing.T) {
	l := newTestLimiter(t)

	for i := 0; i < 3; i++ {
		w := apiRequest(t, l, nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
	}

	w := apiRequest(t, l, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestAPIMiddlewareAuthedUsesGlobalLimit(t *testing.T) {
	l := newTestLimiter(t)

	// Exhaust the public window first; authed requests are unaffected.
	for i := 0; i < 4; i++ {
		apiRequest(t, l, nil)
	}
	w := apiRequest(t, l, int64(42))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckConnect(t *testing.T) {
	l := newTestLimiter(t)
	gin.SetMode(gin.TestMode)

	connect := func() (bool, *httptest.ResponseRecorder) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/ws/rooms/r1", nil)
		c.Request.RemoteAddr = "203.0.113.9:1234"
		return l.CheckConnect(c), w
	}

	for i := 0; i < 2; i++ {
		ok, _ := connect()
		assert.True(t, ok)
	}
	ok, w := connect()
	assert.False(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

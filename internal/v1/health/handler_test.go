package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(context.Context) error { return f.err }

func probe(t *testing.T, handler gin.HandlerFunc) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)
	handler(c)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestLiveness(t *testing.T) {
	h := NewHandler(nil)
	w, body := probe(t, h.Liveness)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alive", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestReadinessHealthy(t *testing.T) {
	h := NewHandler(fakePinger{})
	w, body := probe(t, h.Readiness)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "healthy", checks["store"])
}

func TestReadinessUnhealthyStore(t *testing.T) {
	h := NewHandler(fakePinger{err: errors.New("connection refused")})
	w, body := probe(t, h.Readiness)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unavailable", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "unhealthy", checks["store"])
}

func TestReadinessWithoutStore(t *testing.T) {
	h := NewHandler(nil)
	w, body := probe(t, h.Readiness)
	assert.Equal(t, http.StatusOK, w.Code)
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "not_configured", checks["store"])
}

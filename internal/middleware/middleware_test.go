package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"party-rooms/internal/infra/memory"
	"party-rooms/internal/middleware"
	"party-rooms/internal/repository/mocks"
	"party-rooms/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, method, path string, headers map[string]string, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Code
}

func TestPlayerToken(t *testing.T) {
	tokens, err := service.NewTokenIssuer("middleware-secret", time.Hour)
	require.NoError(t, err)
	other, err := service.NewTokenIssuer("another-secret", time.Hour)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/rooms/:slug/me", middleware.PlayerToken(tokens), func(c *gin.Context) {
		claims, ok := middleware.PlayerClaimsFrom(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.PlayerID)
	})

	valid, err := tokens.Issue("room-1", "player-1", "abc123")
	require.NoError(t, err)
	forged, err := other.Issue("room-1", "player-1", "abc123")
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		header string
		status int
	}{
		{"valid token", "/rooms/abc123/me", "Bearer " + valid, http.StatusOK},
		{"lowercase scheme", "/rooms/abc123/me", "bearer " + valid, http.StatusOK},
		{"missing header", "/rooms/abc123/me", "", http.StatusUnauthorized},
		{"malformed header", "/rooms/abc123/me", valid, http.StatusUnauthorized},
		{"wrong signature", "/rooms/abc123/me", "Bearer " + forged, http.StatusUnauthorized},
		{"other room", "/rooms/zzz999/me", "Bearer " + valid, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			w := serve(r, http.MethodGet, tt.path, headers, "")
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "player-1", w.Body.String())
			} else {
				assert.Equal(t, "UNAUTHORIZED", errorCode(t, w))
			}
		})
	}
}

func TestAdminSecret(t *testing.T) {
	ok := func(c *gin.Context) { c.Status(http.StatusNoContent) }

	t.Run("configured secret", func(t *testing.T) {
		r := gin.New()
		r.POST("/sweep", middleware.AdminSecret("s3cret", false), ok)

		assert.Equal(t, http.StatusNoContent, serve(r, http.MethodPost, "/sweep", map[string]string{"X-Admin-Secret": "s3cret"}, "").Code)
		w := serve(r, http.MethodPost, "/sweep", map[string]string{"X-Admin-Secret": "s3cret "}, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "UNAUTHORIZED", errorCode(t, w))
		assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPost, "/sweep", nil, "").Code)
	})

	t.Run("no secret without fallback", func(t *testing.T) {
		r := gin.New()
		r.POST("/sweep", middleware.AdminSecret("", false), ok)
		assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodPost, "/sweep", map[string]string{"X-Admin-Secret": ""}, "").Code)
	})

	t.Run("no secret with dev fallback", func(t *testing.T) {
		r := gin.New()
		r.POST("/sweep", middleware.AdminSecret("", true), ok)
		assert.Equal(t, http.StatusNoContent, serve(r, http.MethodPost, "/sweep", nil, "").Code)
	})
}

func TestRateLimit_PerIP(t *testing.T) {
	limiter := service.NewRateLimiter(memory.NewAttemptStore(), "api:ip:", 2, time.Minute)
	r := gin.New()
	r.GET("/api/ping", middleware.RateLimit(limiter), func(c *gin.Context) { c.Status(http.StatusOK) })

	// Act
	first := serve(r, http.MethodGet, "/api/ping", nil, "192.0.2.1:1000")
	second := serve(r, http.MethodGet, "/api/ping", nil, "192.0.2.1:1001")
	third := serve(r, http.MethodGet, "/api/ping", nil, "192.0.2.1:1002")
	otherIP := serve(r, http.MethodGet, "/api/ping", nil, "198.51.100.7:1000")

	// Assert
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusTooManyRequests, third.Code, "同一 IP 超出窗口配额")
	assert.Equal(t, "RATE_LIMITED", errorCode(t, third))
	retry, err := strconv.Atoi(third.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.True(t, retry >= 1 && retry <= 60, "Retry-After = %d", retry)

	assert.Equal(t, http.StatusOK, otherIP.Code, "不同 IP 的计数互不影响")
}

func TestRateLimit_StoreFailure(t *testing.T) {
	store := new(mocks.AttemptStore)
	store.On("Count", mock.Anything, "api:ip:192.0.2.1", time.Minute, mock.Anything).
		Return(0, time.Time{}, errors.New("redis: connection refused"))
	limiter := service.NewRateLimiter(store, "api:ip:", 2, time.Minute)

	r := gin.New()
	r.GET("/api/ping", middleware.RateLimit(limiter), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, http.MethodGet, "/api/ping", nil, "192.0.2.1:1000")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "STORE_UNAVAILABLE", errorCode(t, w))
	store.AssertNotCalled(t, "Record", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTimeout_SetsDeadline(t *testing.T) {
	r := gin.New()
	var deadline time.Time
	var hasDeadline bool
	r.GET("/slow", middleware.Timeout(50*time.Millisecond), func(c *gin.Context) {
		deadline, hasDeadline = c.Request.Context().Deadline()
		select {
		case <-c.Request.Context().Done():
			assert.True(t, errors.Is(c.Request.Context().Err(), context.DeadlineExceeded))
			c.Status(http.StatusServiceUnavailable)
		case <-time.After(2 * time.Second):
			c.Status(http.StatusOK)
		}
	})

	start := time.Now()
	w := serve(r, http.MethodGet, "/slow", nil, "")

	assert.True(t, hasDeadline)
	assert.WithinDuration(t, start.Add(50*time.Millisecond), deadline, time.Second)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	assert.Panics(t, func() { middleware.Timeout(0) })
}

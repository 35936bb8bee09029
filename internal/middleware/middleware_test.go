package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"boxoffice/internal/cache"
	"boxoffice/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type stubLimiter struct {
	decision cache.RateDecision
	err      error
	keys     []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (cache.RateDecision, error) {
	s.keys = append(s.keys, key)
	return s.decision, s.err
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/ping", func(c *gin.Context) {
		id, _ := logger.RequestIDFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"request_id": id, "admin": AdminUser(c)})
	})
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func TestAdminAuth(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		password string
		setAuth  bool
		want     int
	}{
		{name: "valid", user: "admin", password: "secret", setAuth: true, want: http.StatusOK},
		{name: "wrong password", user: "admin", password: "nope", setAuth: true, want: http.StatusUnauthorized},
		{name: "wrong user", user: "root", password: "secret", setAuth: true, want: http.StatusUnauthorized},
		{name: "missing header", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(AdminAuth("admin", "secret"))
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.password)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAdminAuthEmptyPasswordDeniesAll(t *testing.T) {
	r := newRouter(AdminAuth("admin", ""))
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.SetBasicAuth("admin", "")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestID(t *testing.T) {
	r := newRouter(RequestID())

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
	assert.Contains(t, w.Body.String(), `"request_id":"req-123"`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)
}

func TestRecovery(t *testing.T) {
	r := newRouter(Recovery())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRateLimit(t *testing.T) {
	t.Run("allowed", func(t *testing.T) {
		limiter := &stubLimiter{decision: cache.RateDecision{Allowed: true, Limit: 10, Remaining: 9}}
		r := newRouter(RateLimit(limiter, "rl"))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "rl:ip:192.0.2.1:route:/ping", limiter.keys[0])
	})

	t.Run("blocked", func(t *testing.T) {
		limiter := &stubLimiter{decision: cache.RateDecision{Allowed: false, Limit: 10, RetryAfter: 1500 * time.Millisecond}}
		r := newRouter(RateLimit(limiter, "rl"))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "2", w.Header().Get("Retry-After"))
	})

	t.Run("limiter failure lets the request through", func(t *testing.T) {
		limiter := &stubLimiter{err: errors.New("redis down")}
		r := newRouter(RateLimit(limiter, "rl"))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

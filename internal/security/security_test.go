package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTestRouter(sm *SecurityMiddleware) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(sm.SecurityHeaders, sm.RequestTimeout, sm.ValidateContentType, sm.RateLimitByIP)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.POST("/echo", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestSecurityHeaders(t *testing.T) {
	router := newTestRouter(NewSecurityMiddleware(nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("Content-Security-Policy"))
}

func TestValidateContentType(t *testing.T) {
	router := newTestRouter(NewSecurityMiddleware(nil))

	tests := []struct {
		name        string
		contentType string
		body        string
		expected    int
	}{
		{name: "json accepted", contentType: "application/json", body: "{}", expected: http.StatusOK},
		{name: "json with charset accepted", contentType: "application/json; charset=utf-8", body: "{}", expected: http.StatusOK},
		{name: "form rejected", contentType: "application/x-www-form-urlencoded", body: "a=b", expected: http.StatusBadRequest},
		{name: "empty body skips check", contentType: "", body: "", expected: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.expected, w.Code)
		})
	}
}

func TestRateLimitByIP(t *testing.T) {
	router := newTestRouter(NewSecurityMiddleware(&SecurityConfig{
		MaxRequestsPerMin: 30,
		RequestTimeout:    5 * time.Second,
	}))

	limited := false
	for i := 0; i < 100; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		if w.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited)
}

func TestRateLimitByIP_SeparatePerClient(t *testing.T) {
	sm := NewSecurityMiddleware(&SecurityConfig{
		MaxRequestsPerMin: 5,
		RequestTimeout:    5 * time.Second,
	})
	router := newTestRouter(sm)

	// Exhaust the first client's burst.
	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		router.ServeHTTP(w, req)
	}

	// A different client still gets through.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestTimeoutHeader(t *testing.T) {
	router := newTestRouter(NewSecurityMiddleware(&SecurityConfig{
		MaxRequestsPerMin: 100,
		RequestTimeout:    10 * time.Second,
	}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, "10", w.Header().Get("X-Timeout"))
}

package security

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/playmetrics/revpredict/internal/errors"
)

// SecurityConfig holds the knobs for the request-hardening middleware.
type SecurityConfig struct {
	MaxRequestsPerMin int
	RequestTimeout    time.Duration
}

// DefaultSecurityConfig returns sane defaults for a prediction service.
func DefaultSecurityConfig() *SecurityConfig {
	return &SecurityConfig{
		MaxRequestsPerMin: 300,
		RequestTimeout:    30 * time.Second,
	}
}

// SecurityMiddleware provides per-IP rate limiting, security headers,
// content-type validation, and request timeouts.
type SecurityMiddleware struct {
	config   *SecurityConfig
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	lastSeen map[string]time.Time
}

func NewSecurityMiddleware(config *SecurityConfig) *SecurityMiddleware {
	if config == nil {
		config = DefaultSecurityConfig()
	}
	sm := &SecurityMiddleware{
		config:   config,
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
	}
	go sm.cleanupLoop()
	return sm
}

func (sm *SecurityMiddleware) limiterFor(ip string) *rate.Limiter {
	sm.mu.RLock()
	lim, ok := sm.limiters[ip]
	sm.mu.RUnlock()
	if ok {
		sm.mu.Lock()
		sm.lastSeen[ip] = time.Now()
		sm.mu.Unlock()
		return lim
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()
	if lim, ok = sm.limiters[ip]; ok {
		sm.lastSeen[ip] = time.Now()
		return lim
	}
	perSecond := rate.Limit(float64(sm.config.MaxRequestsPerMin) / 60.0)
	lim = rate.NewLimiter(perSecond, sm.config.MaxRequestsPerMin)
	sm.limiters[ip] = lim
	sm.lastSeen[ip] = time.Now()
	return lim
}

// cleanupLoop evicts limiters for clients that have gone quiet so the
// map does not grow without bound.
func (sm *SecurityMiddleware) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-15 * time.Minute)
		sm.mu.Lock()
		for ip, seen := range sm.lastSeen {
			if seen.Before(cutoff) {
				delete(sm.limiters, ip)
				delete(sm.lastSeen, ip)
			}
		}
		sm.mu.Unlock()
	}
}

// RateLimitByIP enforces the configured per-client request rate.
func (sm *SecurityMiddleware) RateLimitByIP(c *gin.Context) {
	if !sm.limiterFor(c.ClientIP()).Allow() {
		appErr := errors.NewRateLimitError("60s")
		c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Error(), "category": appErr.Category})
		c.Abort()
		return
	}
	c.Next()
}

func (sm *SecurityMiddleware) SecurityHeaders(c *gin.Context) {
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("X-Frame-Options", "DENY")
	c.Header("X-XSS-Protection", "1; mode=block")
	if c.Request.TLS != nil {
		c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}
	c.Header("Content-Security-Policy", "default-src 'self'")
	c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
	c.Next()
}

// ValidateContentType rejects bodies that are not JSON on mutating requests.
func (sm *SecurityMiddleware) ValidateContentType(c *gin.Context) {
	if (c.Request.Method == http.MethodPost || c.Request.Method == http.MethodPut) && c.Request.ContentLength > 0 {
		ct := c.GetHeader("Content-Type")
		if !strings.HasPrefix(ct, "application/json") {
			appErr := errors.NewValidationError("content type must be application/json")
			c.JSON(appErr.HTTPStatus, gin.H{"error": appErr.Error(), "category": appErr.Category})
			c.Abort()
			return
		}
	}
	c.Next()
}

// RequestTimeout bounds how long a single request may run.
func (sm *SecurityMiddleware) RequestTimeout(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), sm.config.RequestTimeout)
	defer cancel()

	c.Request = c.Request.WithContext(ctx)
	c.Header("X-Timeout", strconv.Itoa(int(sm.config.RequestTimeout.Seconds())))
	c.Next()
}

package mw

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func do(r http.Handler, method, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "10.0.0.1:1234"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCacheServesRepeatGets(t *testing.T) {
	calls := 0
	r := gin.New()
	r.Use(Cache(NewCacheStore(time.Minute), time.Minute))
	r.GET("/stats", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"calls": calls})
	})

	first := do(r, http.MethodGet, "/stats?days=7", nil)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get(CacheHeader))

	second := do(r, http.MethodGet, "/stats?days=7", nil)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get(CacheHeader))
	assert.Equal(t, "application/json; charset=utf-8", second.Header().Get("Content-Type"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls)

	// A different query string is a different key.
	do(r, http.MethodGet, "/stats?days=30", nil)
	assert.Equal(t, 2, calls)
}

func TestCacheSkipsErrorsAndWrites(t *testing.T) {
	calls := 0
	r := gin.New()
	r.Use(Cache(NewCacheStore(time.Minute), time.Minute))
	r.GET("/fail", func(c *gin.Context) {
		calls++
		c.Status(http.StatusInternalServerError)
	})
	r.POST("/fail", func(c *gin.Context) {
		calls++
		c.Status(http.StatusOK)
	})

	do(r, http.MethodGet, "/fail", nil)
	do(r, http.MethodGet, "/fail", nil)
	assert.Equal(t, 2, calls)

	w := do(r, http.MethodPost, "/fail", nil)
	assert.Empty(t, w.Header().Get(CacheHeader))
	do(r, http.MethodPost, "/fail", nil)
	assert.Equal(t, 4, calls)
}

func TestRateLimiterRejectsAfterBurst(t *testing.T) {
	r := gin.New()
	r.Use(RateLimiter(NewIPRateLimiter(rate.Limit(0.5), 2)))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodGet, "/x", nil).Code)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodGet, "/x", nil).Code)

	w := do(r, http.MethodGet, "/x", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate_limited","message":"too many requests"}`, w.Body.String())
}

func TestRateLimiterIsPerIP(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(1), 1)
	assert.True(t, limiter.GetLimiter("a").Allow())
	assert.False(t, limiter.GetLimiter("a").Allow())
	assert.True(t, limiter.GetLimiter("b").Allow())
	assert.Equal(t, 2, limiter.Len())
}

func TestRateLimiterSweepDropsIdle(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewIPRateLimiter(rate.Limit(1), 1)
	limiter.now = func() time.Time { return now }

	limiter.GetLimiter("old")
	now = now.Add(9 * time.Minute)
	limiter.GetLimiter("new")
	now = now.Add(2 * time.Minute)

	assert.Equal(t, 1, limiter.Sweep())
	assert.Equal(t, 1, limiter.Len())
}

func TestRequestIDAssignsAndPropagates(t *testing.T) {
	var seen string
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) {
		seen = GetRequestID(c)
		c.Status(http.StatusOK)
	})

	w := do(r, http.MethodGet, "/x", nil)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))

	w = do(r, http.MethodGet, "/x", map[string]string{RequestIDHeader: "abc-123"})
	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestAccessLogWritesStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := gin.New()
	r.Use(RequestID(), AccessLog(&logger))
	r.GET("/slots/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	do(r, http.MethodGet, "/slots/9", map[string]string{RequestIDHeader: "rid-1"})

	line := buf.String()
	assert.Contains(t, line, `"level":"warn"`)
	assert.Contains(t, line, `"route":"/slots/:id"`)
	assert.Contains(t, line, `"path":"/slots/9"`)
	assert.Contains(t, line, `"status":404`)
	assert.Contains(t, line, `"request_id":"rid-1"`)
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, http.NoBody)
	req.RemoteAddr = "10.0.0.1:5555"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"http://localhost:8501"}))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := serve(r, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(r, http.MethodGet, "/ping", map[string]string{"Origin": "http://localhost:8501"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:8501", w.Header().Get("Access-Control-Allow-Origin"))

	w = serve(r, http.MethodGet, "/ping", map[string]string{"Origin": "http://evil.example"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(r, http.MethodOptions, "/ping", map[string]string{"Origin": "http://localhost:8501"})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRateLimit(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(1, 2, "/health"))
	r.GET("/api", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api", nil).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api", nil).Code)
	w := serve(r, http.MethodGet, "/api", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/health", nil).Code)
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(0, 0))
	r.GET("/api", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 20; i++ {
		assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api", nil).Code)
	}
}

func TestIPRateLimiter_Cleanup(t *testing.T) {
	now := time.Now()
	l := &ipRateLimiter{limit: 1, burst: 1, now: func() time.Time { return now }}
	l.allow("a")
	now = now.Add(time.Hour)
	l.allow("b")

	l.mu.Lock()
	l.cleanup(now)
	_, hasA := l.limiters["a"]
	_, hasB := l.limiters["b"]
	l.mu.Unlock()

	assert.False(t, hasA)
	assert.True(t, hasB)
}

type recordingObserver struct {
	mu    sync.Mutex
	paths []string
}

func (o *recordingObserver) ObserveHTTP(method, path, status string, _ time.Duration) {
	o.mu.Lock()
	o.paths = append(o.paths, method+" "+path+" "+status)
	o.mu.Unlock()
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	obs := &recordingObserver{}

	r := gin.New()
	r.Use(AccessLog(zap.New(core), obs, "/metrics"))
	r.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, http.MethodGet, "/items/42", nil)
	serve(r, http.MethodGet, "/metrics", nil)

	assert.Equal(t, []string{"GET /items/:id 404", "GET /metrics 200"}, obs.paths)
	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "http request", entries[0].Message)
		assert.Equal(t, zap.WarnLevel, entries[0].Level)
	}
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)

	r := gin.New()
	r.Use(Recovery(zap.New(core)))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := serve(r, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "unexpected error")
	assert.Equal(t, 1, logs.Len())
}

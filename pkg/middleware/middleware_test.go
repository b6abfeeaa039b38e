package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/errors"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/jwt"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(errors.ErrorHandler())
	r.Use(handlers...)
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c.Request.Context()))
	})
	return r
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	r := newEngine(RequestID())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	id := w.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "upstream-id")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "upstream-id", w.Header().Get(RequestIDHeader))
}

func TestRateLimiterRejectsBurstOverflow(t *testing.T) {
	rl := NewRateLimiter(logger.Nop(), RateLimiterOptions{Limit: 0.001, Burst: 2})
	r := newEngine(rl.Middleware())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimiterPurge(t *testing.T) {
	rl := NewRateLimiter(logger.Nop(), RateLimiterOptions{ExpiryDuration: time.Minute})
	rl.getLimiter("a")
	rl.purge(time.Now().Add(2 * time.Minute))
	assert.Empty(t, rl.clients)
}

func TestBearerAuth(t *testing.T) {
	verifier := jwt.NewVerifier("secret", time.Hour)
	token, err := verifier.Issue("user-1", "")
	require.NoError(t, err)

	r := newEngine(BearerAuth(verifier, logger.Nop()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping?token="+token, nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/config"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/di"
	"github.com/developerjeremylive-git/my-chat-agent-sub001/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Env = "test"
	cfg.Room.IdleTimeout = time.Hour
	cfg.Assistant.DefaultModel = "sonar"
	cfg.Security.RateLimit = 1000
	cfg.Security.RateLimitBurst = 1000
	cfg.Observability.ServiceName = "chat-agent-test"
	cfg.Observability.MetricsEnabled = true
	cfg.OpenAPI.Enabled = true
	return cfg
}

func setupRouter(t *testing.T, cfg *config.Config) *Router {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	container, err := di.New(cfg, db, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Close(context.Background())
		_ = sqlDB.Close()
	})

	r := New(container)
	r.SetupRoutes()
	return r
}

func serve(r *Router, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.Engine.ServeHTTP(w, req)
	return w
}

func TestHealthRoutes(t *testing.T) {
	r := setupRouter(t, testConfig())
	r.Container.Health.RunChecks(context.Background())

	for _, path := range []string{"/health", "/api/health"} {
		w := serve(r, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Contains(t, w.Body.String(), `"database"`)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	}
}

func TestChatRoutesAreMounted(t *testing.T) {
	r := setupRouter(t, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/chats", strings.NewReader(`{"title":"Hello"}`))
	req.Header.Set("Content-Type", "application/json")
	w := serve(r, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = serve(r, httptest.NewRequest(http.MethodGet, "/api/chats", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Hello")
}

func TestValidatorRejectsBadSearch(t *testing.T) {
	r := setupRouter(t, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := serve(r, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_FAILED")
}

func TestWebSocketRouteNeedsUpgrade(t *testing.T) {
	r := setupRouter(t, testConfig())

	w := serve(r, httptest.NewRequest(http.MethodGet, "/ws?chatId=abc", nil))
	assert.Equal(t, http.StatusUpgradeRequired, w.Code)

	w = serve(r, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r := setupRouter(t, testConfig())

	w := serve(r, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.Security.AllowedOrigins = []string{"https://app.example"}
	r := setupRouter(t, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/chats", nil)
	req.Header.Set("Origin", "https://app.example")
	w := serve(r, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/chats", nil)
	req.Header.Set("Origin", "https://other.example")
	w = serve(r, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestBearerAuthWhenSecretConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Security.JWTSecret = "test-secret"
	r := setupRouter(t, cfg)

	w := serve(r, httptest.NewRequest(http.MethodGet, "/api/chats", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := r.Container.Verifier.Issue("user-1", "user@example.com")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/chats", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// health stays public
	w = serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEqual(t, http.StatusUnauthorized, w.Code)
}

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/llmgateway/gateway/internal/auth"
	"github.com/llmgateway/gateway/internal/config"
	"github.com/llmgateway/gateway/internal/ratelimit"
	"github.com/llmgateway/gateway/internal/router"
	"github.com/llmgateway/gateway/internal/tokenstore"
	"github.com/llmgateway/gateway/internal/usage"
	"go.uber.org/zap"
)

func newDashboardTestEngine(t *testing.T) (*gin.Engine, *tokenstore.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	aliases := []config.ModelAlias{{Alias: "test-model", Providers: []config.ProviderModel{
		{Provider: "p1", Model: "m1", Priority: 0},
	}}}
	rtr := router.New(aliases, logger)
	limiter := ratelimit.New([]config.RateLimitConfig{{Provider: "p1", RequestsPerMinute: 10, MaxQueueSize: 5}}, logger)

	dir := t.TempDir()
	store := tokenstore.New(dir+"/tokens.json", logger)
	authMgr := auth.New(store, map[string]config.ProviderConfig{}, logger)

	h := NewDashboardHandler(authMgr, rtr, limiter, usage.New(), aliases, logger)
	engine := gin.New()
	engine.GET("/api/dashboard/status", h.Status)
	engine.GET("/api/dashboard/tokens", h.Tokens)
	engine.GET("/api/dashboard/usage", h.Usage)
	engine.GET("/api/dashboard/models", h.Models)
	engine.POST("/api/dashboard/auth/:provider/token", h.ManualInsertToken)
	return engine, store
}

func TestDashboardHandler_Status_ListsConfiguredProviders(t *testing.T) {
	engine, _ := newDashboardTestEngine(t)
	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/status", nil)
	rr := httptest.NewRecorder()
	engine.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"provider":"p1"`) {
		t.Fatalf("missing provider p1 in response: %s", rr.Body.String())
	}
}

func TestDashboardHandler_ManualInsertThenTokensRedacted(t *testing.T) {
	engine, store := newDashboardTestEngine(t)

	body := `{"accessToken":"sk-abcdefgh12345678","refreshToken":"rt-1","expiresAtMillis":9999999999999}`
	req := httptest.NewRequest(http.MethodPost, "/api/dashboard/auth/p1/token", strings.NewReader(body))
	rr := httptest.NewRecorder()
	engine.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("insert status = %d, body = %s", rr.Code, rr.Body.String())
	}

	if _, ok := store.Get("p1"); !ok {
		t.Fatalf("expected token to be persisted")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/dashboard/tokens", nil)
	rr = httptest.NewRecorder()
	engine.ServeHTTP(rr, req)

	var parsed struct {
		Tokens map[string]string `json:"tokens"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Contains(parsed.Tokens["p1"], "sk-abcdefgh12345678") {
		t.Fatalf("full access token leaked in dashboard response: %v", parsed.Tokens)
	}
	if !strings.HasSuffix(parsed.Tokens["p1"], "12345678") {
		t.Fatalf("redacted token = %q, want suffix 12345678", parsed.Tokens["p1"])
	}
}

func TestDashboardHandler_ManualInsertMissingAccessTokenFails(t *testing.T) {
	engine, _ := newDashboardTestEngine(t)

	req := httptest.NewRequest(http.MethodPost, "/api/dashboard/auth/p1/token", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	engine.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

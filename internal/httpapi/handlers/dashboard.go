package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/llmgateway/gateway/internal/auth"
	"github.com/llmgateway/gateway/internal/config"
	"github.com/llmgateway/gateway/internal/ratelimit"
	"github.com/llmgateway/gateway/internal/router"
	"github.com/llmgateway/gateway/internal/tokenstore"
	"github.com/llmgateway/gateway/internal/usage"
	gwerrors "github.com/llmgateway/gateway/pkg/errors"
	"go.uber.org/zap"
)

// DashboardHandler serves the local operator dashboard's JSON API: provider
// status, redacted tokens, usage counters, and device-flow credential
// management.
type DashboardHandler struct {
	authMgr *auth.Manager
	router  *router.Router
	limiter *ratelimit.Limiter
	usage   *usage.Tracker
	aliases []config.ModelAlias
	logger  *zap.Logger
}

// NewDashboardHandler builds a DashboardHandler.
func NewDashboardHandler(authMgr *auth.Manager, rtr *router.Router, limiter *ratelimit.Limiter, usageTracker *usage.Tracker, aliases []config.ModelAlias, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{
		authMgr: authMgr,
		router:  rtr,
		limiter: limiter,
		usage:   usageTracker,
		aliases: aliases,
		logger:  logger.With(zap.String("component", "dashboard_handler")),
	}
}

func providerNames(aliases []config.ModelAlias) []string {
	seen := make(map[string]bool)
	var out []string
	for _, alias := range aliases {
		for _, p := range alias.Providers {
			if !seen[p.Provider] {
				seen[p.Provider] = true
				out = append(out, p.Provider)
			}
		}
	}
	return out
}

type providerStatus struct {
	Provider                 string `json:"provider"`
	RequestsInWindow         int    `json:"requestsInWindow"`
	QueueLength              int    `json:"queueLength"`
	NextAvailableSlotEpochMs int64  `json:"nextAvailableSlotEpochMs"`
}

// Status handles GET /api/dashboard/status: one rate-limiter snapshot per
// configured provider.
func (h *DashboardHandler) Status(c *gin.Context) {
	var out []providerStatus
	for _, p := range providerNames(h.aliases) {
		s := h.limiter.GetStatus(p)
		out = append(out, providerStatus{
			Provider:                 p,
			RequestsInWindow:         s.RequestsInWindow,
			QueueLength:              s.QueueLength,
			NextAvailableSlotEpochMs: s.NextAvailableSlotEpochMs,
		})
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}

// Tokens handles GET /api/dashboard/tokens. Access tokens are redacted to
// their last 8 characters; refresh tokens are never returned.
func (h *DashboardHandler) Tokens(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tokens": h.authMgr.RedactedTokens()})
}

// Usage handles GET /api/dashboard/usage.
func (h *DashboardHandler) Usage(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"usage": h.usage.Snapshot()})
}

// Models handles GET /api/dashboard/models: the configured alias ->
// candidate table.
func (h *DashboardHandler) Models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"modelAliases": h.aliases})
}

// InitiateDeviceFlow handles POST /api/dashboard/auth/:provider/device.
func (h *DashboardHandler) InitiateDeviceFlow(c *gin.Context) {
	provider := c.Param("provider")
	info, err := h.authMgr.InitiateDeviceFlow(c.Request.Context(), provider)
	if err != nil {
		writeGatewayError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// CompleteDeviceFlow handles POST /api/dashboard/auth/:provider/device/complete.
func (h *DashboardHandler) CompleteDeviceFlow(c *gin.Context) {
	provider := c.Param("provider")
	var body struct {
		DeviceCode string `json:"deviceCode"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.DeviceCode == "" {
		WriteError(c, http.StatusBadRequest, gwerrors.NewValidation("deviceCode is required"))
		return
	}

	ts, err := h.authMgr.CompleteDeviceFlow(c.Request.Context(), provider, body.DeviceCode)
	if err != nil {
		writeGatewayError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": ts.Provider, "expiresAtMillis": ts.ExpiresAtMillis})
}

// RefreshToken handles POST /api/dashboard/auth/:provider/refresh.
func (h *DashboardHandler) RefreshToken(c *gin.Context) {
	provider := c.Param("provider")
	ts, err := h.authMgr.RefreshToken(provider)
	if err != nil {
		writeGatewayError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"provider": ts.Provider, "expiresAtMillis": ts.ExpiresAtMillis})
}

// ManualInsertToken handles POST /api/dashboard/auth/:provider/token,
// allowing an operator to paste in an externally-obtained token set.
func (h *DashboardHandler) ManualInsertToken(c *gin.Context) {
	provider := c.Param("provider")
	var body struct {
		AccessToken     string `json:"accessToken"`
		RefreshToken    string `json:"refreshToken"`
		ExpiresAtMillis int64  `json:"expiresAtMillis"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.AccessToken == "" {
		WriteError(c, http.StatusBadRequest, gwerrors.NewValidation("accessToken is required"))
		return
	}

	if err := h.authMgr.InsertToken(tokenstore.TokenSet{
		Provider:        provider,
		AccessToken:     body.AccessToken,
		RefreshToken:    body.RefreshToken,
		ExpiresAtMillis: body.ExpiresAtMillis,
	}); err != nil {
		writeGatewayError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

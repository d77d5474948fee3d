// Package httpapi exposes the gateway's external interfaces: the
// OpenAI-compatible chat-completions API, a health check, Prometheus
// metrics, and a dashboard JSON API for credential management.
package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/llmgateway/gateway/internal/auth"
	"github.com/llmgateway/gateway/internal/config"
	"github.com/llmgateway/gateway/internal/dispatch"
	"github.com/llmgateway/gateway/internal/httpapi/handlers"
	"github.com/llmgateway/gateway/internal/metrics"
	"github.com/llmgateway/gateway/internal/ratelimit"
	"github.com/llmgateway/gateway/internal/router"
	"github.com/llmgateway/gateway/internal/usage"
	gwerrors "github.com/llmgateway/gateway/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server wraps the gateway's HTTP listener. Construct with New; the listener
// only ever binds loopback addresses — ErrNonLoopbackHost otherwise.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// ErrNonLoopbackHost is returned by New when cfg.Host does not resolve to a
// loopback address. The gateway holds live OAuth access tokens in memory and
// is never meant to listen beyond the local machine.
var ErrNonLoopbackHost = fmt.Errorf("gateway.host must be a loopback address")

// Deps bundles every core component the HTTP surface dispatches into.
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	AuthMgr    *auth.Manager
	Router     *router.Router
	Limiter    *ratelimit.Limiter
	Usage      *usage.Tracker
	Metrics    *metrics.Registry
	Aliases    []config.ModelAlias
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// New builds the gin engine and binds it to cfg.Host:cfg.Port. The listener
// is not started until Start is called.
func New(cfg config.GatewayConfig, deps Deps, logger *zap.Logger) (*Server, error) {
	if !isLoopbackHost(cfg.Host) {
		return nil, ErrNonLoopbackHost
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestIDMiddleware())
	engine.Use(ginLogger(logger))

	aliasNames := make([]string, 0, len(deps.Aliases))
	for _, a := range deps.Aliases {
		aliasNames = append(aliasNames, a.Alias)
	}

	chatHandler := handlers.NewChatHandler(deps.Dispatcher, aliasNames, logger)
	dashboardHandler := handlers.NewDashboardHandler(deps.AuthMgr, deps.Router, deps.Limiter, deps.Usage, deps.Aliases, logger)

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if deps.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := engine.Group("/v1")
	{
		v1.POST("/chat/completions", chatHandler.ChatCompletions)
		v1.GET("/models", chatHandler.ListModels)
	}

	dash := engine.Group("/api/dashboard")
	{
		dash.GET("/status", dashboardHandler.Status)
		dash.GET("/tokens", dashboardHandler.Tokens)
		dash.GET("/usage", dashboardHandler.Usage)
		dash.GET("/models", dashboardHandler.Models)
		dash.POST("/auth/:provider/device", dashboardHandler.InitiateDeviceFlow)
		dash.POST("/auth/:provider/device/complete", dashboardHandler.CompleteDeviceFlow)
		dash.POST("/auth/:provider/refresh", dashboardHandler.RefreshToken)
		dash.POST("/auth/:provider/token", dashboardHandler.ManualInsertToken)
	}

	engine.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, gwerrors.NewInvalidRequest("not found"))
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: engine},
		logger: logger.With(zap.String("component", "httpapi")),
	}, nil
}

// Start begins serving in a background goroutine and returns immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("listening", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts the listener down, waiting for in-flight requests
// (including open SSE streams) up to ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down")
	return s.server.Shutdown(ctx)
}

// requestIDMiddleware stamps every response with a fresh UUIDv4
// X-Request-Id header, and stashes it in the gin context under the same key
// for the access-log middleware to read back.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(handlers.RequestIDKey, id)
		c.Header(handlers.RequestIDKey, id)
		c.Next()
	}
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString(handlers.RequestIDKey)),
		)
	}
}

func writeError(c *gin.Context, status int, err error) {
	handlers.WriteError(c, status, err)
}

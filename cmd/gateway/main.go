package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/llmgateway/gateway/internal/auth"
	"github.com/llmgateway/gateway/internal/config"
	"github.com/llmgateway/gateway/internal/dispatch"
	"github.com/llmgateway/gateway/internal/httpapi"
	"github.com/llmgateway/gateway/internal/logger"
	"github.com/llmgateway/gateway/internal/metrics"
	"github.com/llmgateway/gateway/internal/provider"
	_ "github.com/llmgateway/gateway/internal/provider/anthropic"
	_ "github.com/llmgateway/gateway/internal/provider/gemini"
	_ "github.com/llmgateway/gateway/internal/provider/openai"
	"github.com/llmgateway/gateway/internal/ratelimit"
	"github.com/llmgateway/gateway/internal/router"
	"github.com/llmgateway/gateway/internal/tokenstore"
	"github.com/llmgateway/gateway/internal/usage"
	"github.com/llmgateway/gateway/internal/useragent"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	appName         = "llm-gateway"
	appVersion      = "0.1.0"
	shutdownTimeout = 30 * time.Second
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("%s v%s\n", appName, appVersion)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, OutputPath: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting", zap.String("name", appName), zap.String("version", appVersion))

	srv, authMgr, limiter, err := build(cfg, log)
	if err != nil {
		log.Fatal("failed to build gateway", zap.Error(err))
	}

	if err := authMgr.WatchFiles(cfg.Auth.WatchFiles); err != nil {
		log.Fatal("failed to start credential file watcher", zap.Error(err))
	}

	if err := srv.Start(); err != nil {
		log.Fatal("failed to start http server", zap.Error(err))
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := authMgr.StopWatching(); err != nil {
		log.Warn("error stopping credential file watcher", zap.Error(err))
	}
	limiter.Dispose()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	log.Info("stopped")
}

// build wires every core component together from cfg: token store, auth
// manager, router, rate limiter, provider adapters, usage tracker, metrics
// registry, dispatcher, and finally the HTTP surface.
func build(cfg *config.Config, log *zap.Logger) (*httpapi.Server, *auth.Manager, *ratelimit.Limiter, error) {
	store := tokenstore.New(cfg.Auth.TokenStorePath, log)
	authMgr := auth.New(store, cfg.Providers, log)
	rtr := router.New(cfg.ModelAliases, log)
	limiter := ratelimit.New(cfg.RateLimits, log)
	uaPool := useragent.New()
	usageTracker := usage.New()
	metricsReg := metrics.New(prometheus.DefaultRegisterer)
	authMgr.SetMetrics(metricsReg)
	rtr.SetMetrics(metricsReg)
	limiter.SetMetrics(metricsReg)

	adapters := make(map[string]provider.Adapter, len(cfg.Providers))
	for name, pcfg := range cfg.Providers {
		if !pcfg.Enabled {
			continue
		}
		adapter, err := provider.Create(provider.Config{
			Name:        name,
			Type:        pcfg.Type,
			APIEndpoint: pcfg.APIEndpoint,
			Models:      pcfg.Models,
		}, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("build adapter for provider %q: %w", name, err)
		}
		adapters[name] = adapter
	}

	d := dispatch.New(rtr, limiter, authMgr, uaPool, usageTracker, metricsReg, adapters, log)

	srv, err := httpapi.New(cfg.Gateway, httpapi.Deps{
		Dispatcher: d,
		AuthMgr:    authMgr,
		Router:     rtr,
		Limiter:    limiter,
		Usage:      usageTracker,
		Metrics:    metricsReg,
		Aliases:    cfg.ModelAliases,
	}, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build http server: %w", err)
	}

	return srv, authMgr, limiter, nil
}

func printUsage() {
	fmt.Printf(`%s v%s

Usage:
  gateway           Start the gateway server (default)
  gateway version   Show version
  gateway help      Show this help

Environment:
  GATEWAY_*         Configuration overrides (see config.yaml)
`, appName, appVersion)
}

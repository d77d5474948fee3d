// Package router resolves client-visible model aliases to provider
// candidates and remembers which providers have recently failed.
package router

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/llmgateway/gateway/internal/config"
	"github.com/llmgateway/gateway/internal/metrics"
	gwerrors "github.com/llmgateway/gateway/pkg/errors"
	"go.uber.org/zap"
)

const defaultFailureTTL = 60 * time.Second

// Router owns alias resolution and the failed-provider memory. Grounded on
// the same mutex-guarded, lazily-evicted shape as a circuit breaker, but
// failure memory here is a single TTL rather than a multi-state breaker: the
// gateway still attempts a failed candidate when nothing else is available
// (graceful degradation), which a half-open breaker would otherwise block.
type Router struct {
	mu         sync.Mutex
	aliases    map[string]config.ModelAlias
	failed     map[string]time.Time
	failureTTL time.Duration
	logger     *zap.Logger
	metrics    *metrics.Registry
}

// New builds a Router from the configured model aliases.
func New(aliases []config.ModelAlias, logger *zap.Logger) *Router {
	m := make(map[string]config.ModelAlias, len(aliases))
	for _, a := range aliases {
		m[a.Alias] = a
	}
	return &Router{
		aliases:    m,
		failed:     make(map[string]time.Time),
		failureTTL: defaultFailureTTL,
		logger:     logger.With(zap.String("component", "router")),
	}
}

// SetMetrics wires a metrics registry to report the live failed-provider
// count. Nil is safe and disables reporting; intended to be called once
// after New.
func (r *Router) SetMetrics(reg *metrics.Registry) {
	r.mu.Lock()
	r.metrics = reg
	r.mu.Unlock()
}

// reportFailedCountLocked publishes the current failure-map size. Caller
// holds r.mu.
func (r *Router) reportFailedCountLocked() {
	if r.metrics != nil {
		r.metrics.SetFailedProviderCount(len(r.failed))
	}
}

// Resolve expands model into a priority-sorted, non-empty candidate list, or
// fails with an unknown_model invalid_request error.
func (r *Router) Resolve(model string) ([]config.ProviderModel, error) {
	if alias, ok := r.aliases[model]; ok {
		candidates := make([]config.ProviderModel, len(alias.Providers))
		copy(candidates, alias.Providers)
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Priority < candidates[j].Priority })
		return candidates, nil
	}

	if idx := strings.Index(model, "/"); idx >= 0 {
		provider, modelName := model[:idx], model[idx+1:]
		if provider != "" && modelName != "" {
			return []config.ProviderModel{{Provider: provider, Model: modelName, Priority: 0}}, nil
		}
	}

	return nil, gwerrors.NewInvalidRequest("Unknown model: " + model)
}

// Select returns the lowest-priority non-failed candidate, or — when every
// candidate is currently marked failed — the lowest-priority failed one. An
// empty candidate list returns (zero ProviderModel, false).
func (r *Router) Select(candidates []config.ProviderModel) (config.ProviderModel, bool) {
	if len(candidates) == 0 {
		return config.ProviderModel{}, false
	}

	r.mu.Lock()
	r.evictExpiredLocked()
	failedSnapshot := make(map[string]bool, len(r.failed))
	for p := range r.failed {
		failedSnapshot[p] = true
	}
	r.mu.Unlock()

	var available, allFailed []config.ProviderModel
	for _, c := range candidates {
		if failedSnapshot[c.Provider] {
			allFailed = append(allFailed, c)
		} else {
			available = append(available, c)
		}
	}

	if len(available) > 0 {
		return lowestPriority(available), true
	}
	return lowestPriority(allFailed), true
}

func lowestPriority(candidates []config.ProviderModel) config.ProviderModel {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Priority < best.Priority {
			best = c
		}
	}
	return best
}

// GetNextProvider records failedProvider as failed as of now, re-resolves
// model, and selects from the refreshed candidate set.
func (r *Router) GetNextProvider(model, failedProvider string) (config.ProviderModel, bool) {
	r.mu.Lock()
	r.failed[failedProvider] = time.Now()
	r.reportFailedCountLocked()
	r.mu.Unlock()

	candidates, err := r.Resolve(model)
	if err != nil {
		return config.ProviderModel{}, false
	}
	return r.Select(candidates)
}

// evictExpiredLocked drops failure entries older than failureTTL. Caller
// holds r.mu.
func (r *Router) evictExpiredLocked() {
	cutoff := time.Now().Add(-r.failureTTL)
	evicted := false
	for p, t := range r.failed {
		if t.Before(cutoff) {
			delete(r.failed, p)
			evicted = true
		}
	}
	if evicted {
		r.reportFailedCountLocked()
	}
}

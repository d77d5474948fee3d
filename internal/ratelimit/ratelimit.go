// Package ratelimit implements a per-provider sliding-window admission
// control with a bounded FIFO wait queue.
package ratelimit

import (
	"sync"
	"time"

	"github.com/llmgateway/gateway/internal/config"
	"github.com/llmgateway/gateway/internal/metrics"
	gwerrors "github.com/llmgateway/gateway/pkg/errors"
	"github.com/llmgateway/gateway/pkg/safego"
	"go.uber.org/zap"
)

const (
	windowDuration  = 60 * time.Second
	releaseInterval = 1000 * time.Millisecond
)

type waiter struct {
	done          chan error
	enqueuedAtMs  int64
}

type providerState struct {
	mu       sync.Mutex
	name     string
	limit    int
	maxQueue int
	window   []int64 // admission timestamps, ms, ascending
	queue    []*waiter
	ticking  bool
}

// Status reports a provider's current admission state.
type Status struct {
	RequestsInWindow        int
	QueueLength              int
	NextAvailableSlotEpochMs int64
}

// Limiter admits or queues requests per provider according to configured
// sliding-window rate limits.
type Limiter struct {
	mu        sync.RWMutex
	providers map[string]*providerState
	disposed  bool
	logger    *zap.Logger
	metrics   *metrics.Registry
}

// New builds a Limiter from a set of per-provider rate limit configs.
// Providers with no configured entry are admitted immediately by Acquire.
func New(configs []config.RateLimitConfig, logger *zap.Logger) *Limiter {
	l := &Limiter{
		providers: make(map[string]*providerState, len(configs)),
		logger:    logger.With(zap.String("component", "ratelimiter")),
	}
	for _, c := range configs {
		l.providers[c.Provider] = &providerState{
			name:     c.Provider,
			limit:    c.RequestsPerMinute,
			maxQueue: c.MaxQueueSize,
		}
	}
	return l
}

// SetMetrics wires a metrics registry to report live wait-queue depth. Nil
// is safe and disables reporting; intended to be called once after New.
func (l *Limiter) SetMetrics(reg *metrics.Registry) {
	l.mu.Lock()
	l.metrics = reg
	l.mu.Unlock()
}

// reportQueueDepth publishes the current queue length for provider.
func (l *Limiter) reportQueueDepth(provider string, depth int) {
	l.mu.RLock()
	m := l.metrics
	l.mu.RUnlock()
	if m != nil {
		m.SetQueueDepth(provider, depth)
	}
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// Acquire blocks until provider admits the caller, or returns a rate_limit
// error (queue full, or the limiter has been disposed).
func (l *Limiter) Acquire(provider string) error {
	l.mu.RLock()
	disposed := l.disposed
	st, configured := l.providers[provider]
	l.mu.RUnlock()

	if disposed {
		return gwerrors.New(gwerrors.KindRateLimit, "rate limiter disposed")
	}
	if !configured {
		return nil
	}

	st.mu.Lock()
	pruneLocked(st)

	if len(st.window) < st.limit || st.limit == 0 {
		if st.limit > 0 {
			st.window = append(st.window, nowMs())
		}
		st.mu.Unlock()
		return nil
	}

	if len(st.queue) >= st.maxQueue {
		st.mu.Unlock()
		return gwerrors.NewRateLimitQueueFull("queue full")
	}

	w := &waiter{done: make(chan error, 1), enqueuedAtMs: nowMs()}
	st.queue = append(st.queue, w)
	queueLen := len(st.queue)
	needsTicker := !st.ticking
	if needsTicker {
		st.ticking = true
	}
	st.mu.Unlock()
	l.reportQueueDepth(provider, queueLen)

	if needsTicker {
		l.startTicker(provider, st)
	}

	return <-w.done
}

// pruneLocked drops window timestamps older than 60s. Caller holds st.mu.
func pruneLocked(st *providerState) {
	cutoff := nowMs() - windowDuration.Milliseconds()
	i := 0
	for i < len(st.window) && st.window[i] <= cutoff {
		i++
	}
	if i > 0 {
		st.window = st.window[i:]
	}
}

func (l *Limiter) startTicker(provider string, st *providerState) {
	safego.Go(l.logger, "ratelimit-release-"+provider, func() {
		ticker := time.NewTicker(releaseInterval)
		defer ticker.Stop()
		for range ticker.C {
			if l.releaseTick(st) {
				return
			}
		}
	})
}

// releaseTick admits as many queued waiters as window capacity allows.
// Returns true when the queue has drained and the ticker should stop.
func (l *Limiter) releaseTick(st *providerState) bool {
	st.mu.Lock()

	pruneLocked(st)
	for len(st.queue) > 0 && (st.limit == 0 || len(st.window) < st.limit) {
		w := st.queue[0]
		st.queue = st.queue[1:]
		st.window = append(st.window, nowMs())
		w.done <- nil
	}

	queueLen := len(st.queue)
	name := st.name
	done := queueLen == 0
	if done {
		st.ticking = false
	}
	st.mu.Unlock()

	l.reportQueueDepth(name, queueLen)
	return done
}

// GetStatus reports a provider's current window occupancy and queue depth.
func (l *Limiter) GetStatus(provider string) Status {
	l.mu.RLock()
	st, configured := l.providers[provider]
	l.mu.RUnlock()
	if !configured {
		return Status{}
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	pruneLocked(st)

	status := Status{
		RequestsInWindow: len(st.window),
		QueueLength:      len(st.queue),
	}
	if st.limit == 0 || len(st.window) < st.limit {
		status.NextAvailableSlotEpochMs = 0
	} else {
		status.NextAvailableSlotEpochMs = st.window[0] + windowDuration.Milliseconds()
	}
	return status
}

// Dispose stops accepting new admissions and rejects every currently queued
// waiter with a "disposed" error. No Acquire call succeeds after Dispose.
func (l *Limiter) Dispose() {
	l.mu.Lock()
	l.disposed = true
	providers := make([]*providerState, 0, len(l.providers))
	for _, st := range l.providers {
		providers = append(providers, st)
	}
	l.mu.Unlock()

	for _, st := range providers {
		st.mu.Lock()
		for _, w := range st.queue {
			w.done <- gwerrors.New(gwerrors.KindRateLimit, "rate limiter disposed")
		}
		st.queue = nil
		name := st.name
		st.mu.Unlock()
		l.reportQueueDepth(name, 0)
	}
}

package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/llmgateway/gateway/internal/config"
	"github.com/llmgateway/gateway/internal/metrics"
	gwerrors "github.com/llmgateway/gateway/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

func TestLimiter_UnconfiguredProviderAdmitsImmediately(t *testing.T) {
	l := New(nil, zap.NewNop())
	if err := l.Acquire("openai"); err != nil {
		t.Fatalf("Acquire on unconfigured provider returned error: %v", err)
	}
}

func TestLimiter_WindowCountAfterNAdmissions(t *testing.T) {
	l := New([]config.RateLimitConfig{{Provider: "openai", RequestsPerMinute: 5, MaxQueueSize: 10}}, zap.NewNop())
	for i := 0; i < 3; i++ {
		if err := l.Acquire("openai"); err != nil {
			t.Fatalf("Acquire #%d returned error: %v", i, err)
		}
	}
	status := l.GetStatus("openai")
	if status.RequestsInWindow != 3 {
		t.Fatalf("RequestsInWindow = %d, want 3", status.RequestsInWindow)
	}
	if status.QueueLength != 0 {
		t.Fatalf("QueueLength = %d, want 0", status.QueueLength)
	}
}

func TestLimiter_QueueFullRejects(t *testing.T) {
	l := New([]config.RateLimitConfig{{Provider: "openai", RequestsPerMinute: 1, MaxQueueSize: 0}}, zap.NewNop())
	if err := l.Acquire("openai"); err != nil {
		t.Fatalf("first Acquire returned error: %v", err)
	}
	err := l.Acquire("openai")
	if err == nil {
		t.Fatalf("expected queue-full error, got nil")
	}
	ge, ok := gwerrors.As(err)
	if !ok || ge.Kind != gwerrors.KindRateLimit {
		t.Fatalf("expected rate_limit kind, got %+v", err)
	}
	if ge.Retryable {
		t.Fatalf("queue-full error must not be retryable (would trigger provider failover)")
	}
}

func TestLimiter_FIFOReleaseOrder(t *testing.T) {
	l := New([]config.RateLimitConfig{{Provider: "openai", RequestsPerMinute: 1, MaxQueueSize: 5}}, zap.NewNop())
	if err := l.Acquire("openai"); err != nil {
		t.Fatalf("initial Acquire returned error: %v", err)
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := l.Acquire("openai"); err != nil {
				t.Errorf("queued Acquire %d returned error: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)
		time.Sleep(5 * time.Millisecond) // stable enqueue order
	}

	// The window holds one admission per 60s, so the ticker releases each
	// queued waiter roughly a minute after the previous admission; wg.Wait
	// below blocks until all three have been released.
	time.Sleep(1200 * time.Millisecond)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("release order = %v, want strictly increasing (FIFO)", order)
		}
	}
}

func TestLimiter_EnqueuePublishesQueueDepthToMetrics(t *testing.T) {
	l := New([]config.RateLimitConfig{{Provider: "openai", RequestsPerMinute: 1, MaxQueueSize: 5}}, zap.NewNop())
	reg := metrics.New(prometheus.NewRegistry())
	l.SetMetrics(reg)

	if err := l.Acquire("openai"); err != nil {
		t.Fatalf("initial Acquire returned error: %v", err)
	}

	go l.Acquire("openai") // window is full; this waiter enqueues and blocks

	deadline := time.Now().Add(2 * time.Second)
	for {
		m := &dto.Metric{}
		if err := reg.RateLimitQueueDepth.WithLabelValues("openai").(prometheus.Metric).Write(m); err != nil {
			t.Fatalf("Write returned error: %v", err)
		}
		if m.GetGauge().GetValue() == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue depth gauge never reached 1")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLimiter_ProviderIsolation(t *testing.T) {
	l := New([]config.RateLimitConfig{
		{Provider: "openai", RequestsPerMinute: 1, MaxQueueSize: 0},
		{Provider: "gemini", RequestsPerMinute: 5, MaxQueueSize: 0},
	}, zap.NewNop())

	if err := l.Acquire("openai"); err != nil {
		t.Fatalf("openai Acquire returned error: %v", err)
	}
	if err := l.Acquire("openai"); err == nil {
		t.Fatalf("expected openai second Acquire to be rejected")
	}
	if err := l.Acquire("gemini"); err != nil {
		t.Fatalf("gemini Acquire affected by openai saturation: %v", err)
	}
}

func TestLimiter_DisposeRejectsQueuedAndFutureWaiters(t *testing.T) {
	l := New([]config.RateLimitConfig{{Provider: "openai", RequestsPerMinute: 1, MaxQueueSize: 5}}, zap.NewNop())
	if err := l.Acquire("openai"); err != nil {
		t.Fatalf("initial Acquire returned error: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- l.Acquire("openai") }()
	time.Sleep(50 * time.Millisecond)

	l.Dispose()

	if err := <-errCh; err == nil {
		t.Fatalf("expected queued waiter to fail after Dispose")
	}
	if err := l.Acquire("openai"); err == nil {
		t.Fatalf("expected Acquire after Dispose to fail")
	}
}

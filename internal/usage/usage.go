// Package usage implements best-effort, in-memory request and token
// counters per provider and model. Not a billing system: counts reset on
// restart and nothing is persisted.
package usage

import (
	"sync"
	"sync/atomic"
)

type key struct {
	provider string
	model    string
}

type counters struct {
	requests         atomic.Uint64
	promptTokens     atomic.Uint64
	completionTokens atomic.Uint64
	failures         atomic.Uint64
}

// Snapshot is a read-only view of one provider/model's counters.
type Snapshot struct {
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	Requests         uint64 `json:"requests"`
	Failures         uint64 `json:"failures"`
	PromptTokens     uint64 `json:"prompt_tokens"`
	CompletionTokens uint64 `json:"completion_tokens"`
}

// Tracker accumulates per-provider/per-model usage counters.
type Tracker struct {
	mu    sync.RWMutex
	stats map[key]*counters
}

// New builds an empty Tracker.
func New() *Tracker {
	return &Tracker{stats: make(map[key]*counters)}
}

// RecordSuccess registers one successful completion and its token counts.
func (t *Tracker) RecordSuccess(provider, model string, promptTokens, completionTokens int) {
	c := t.entry(provider, model)
	c.requests.Add(1)
	c.promptTokens.Add(uint64(promptTokens))
	c.completionTokens.Add(uint64(completionTokens))
}

// RecordFailure registers one failed attempt against provider/model.
func (t *Tracker) RecordFailure(provider, model string) {
	c := t.entry(provider, model)
	c.requests.Add(1)
	c.failures.Add(1)
}

func (t *Tracker) entry(provider, model string) *counters {
	k := key{provider: provider, model: model}

	t.mu.RLock()
	c, ok := t.stats[k]
	t.mu.RUnlock()
	if ok {
		return c
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.stats[k]; ok {
		return c
	}
	c = &counters{}
	t.stats[k] = c
	return c
}

// Snapshot returns a point-in-time copy of every tracked provider/model pair.
func (t *Tracker) Snapshot() []Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Snapshot, 0, len(t.stats))
	for k, c := range t.stats {
		out = append(out, Snapshot{
			Provider:         k.provider,
			Model:            k.model,
			Requests:         c.requests.Load(),
			Failures:         c.failures.Load(),
			PromptTokens:     c.promptTokens.Load(),
			CompletionTokens: c.completionTokens.Load(),
		})
	}
	return out
}

// Package provider defines the provider-adapter contract: translating a
// canonical request into a provider's own wire format, calling upstream, and
// translating the response or stream back into a provider-shaped result that
// internal/normalize turns into the canonical wire form.
package provider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Message is the canonical chat message shape an Adapter consumes. Role is
// one of system, user, assistant, tool, function.
type Message struct {
	Role         string        `json:"role"`
	Content      string        `json:"content,omitempty"`
	ToolCalls    []ToolCall    `json:"tool_calls,omitempty"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
	ToolCallID   string        `json:"tool_call_id,omitempty"`
	Name         string        `json:"name,omitempty"`
}

// FunctionCall carries a function name plus JSON-encoded arguments, matching
// the OpenAI wire shape used as the canonical in-memory representation.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is one entry of an assistant message's tool_calls array.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// ToolDefinition is one callable tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// Request is the canonical request an Adapter translates into its own wire
// format before calling upstream.
type Request struct {
	Model       string
	Messages    []Message
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Stop        []string
	Tools       []ToolDefinition

	Token     string // bearer access token
	UserAgent string
}

// Usage reports token accounting for a single completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is a single-shot completion result, provider-shaped but already
// collapsed to the fields the normalizer needs.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FunctionCall *FunctionCall
	FinishReason string
	Usage        Usage
}

// StreamChunk is one incremental piece of a streaming completion.
// FinishReason is empty until the final chunk.
type StreamChunk struct {
	Content      string
	ToolCall     *ToolCall
	FunctionCall *FunctionCall
	FinishReason string
}

// StreamEvent is one item of the lazy finite sequence Stream produces: either
// a chunk, or a terminal error. Once Err is non-nil the sequence is over.
type StreamEvent struct {
	Chunk StreamChunk
	Err   error
}

// Adapter is the polymorphic provider contract. Implementations exist for
// OpenAI-shaped, Gemini-shaped, and (supplemental) Anthropic-shaped
// upstreams.
type Adapter interface {
	// Name returns the provider identifier this adapter was constructed for.
	Name() string

	// Call performs a single-shot completion.
	Call(ctx context.Context, req Request) (*Response, error)

	// Stream returns a channel delivering StreamEvents until upstream signals
	// end (an event with a non-nil Err is always the last one); the channel is always
	// closed by the adapter, exactly once, after the final event.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// Config is the adapter-facing slice of a provider's configuration: enough
// to build outbound requests. OAuth fields (clientId, endpoints, ...) belong
// to internal/config.ProviderConfig and are consumed by internal/auth, not
// here.
type Config struct {
	Name        string
	Type        string // "openai" | "gemini" | "anthropic"
	APIEndpoint string
	Models      []string
}

// Factory constructs an Adapter from Config.
type Factory func(cfg Config, logger *zap.Logger) Adapter

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{}
)

// RegisterFactory registers a Factory for the given adapter type name.
// Called from init() in each provider sub-package.
func RegisterFactory(typeName string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[typeName] = factory
}

// Create builds an Adapter using the registered factory for cfg.Type.
func Create(cfg Config, logger *zap.Logger) (Adapter, error) {
	t := cfg.Type
	if t == "" {
		t = "openai"
	}

	factoryMu.RLock()
	factory, ok := factories[t]
	factoryMu.RUnlock()
	if !ok {
		available := make([]string, 0, len(factories))
		factoryMu.RLock()
		for k := range factories {
			available = append(available, k)
		}
		factoryMu.RUnlock()
		return nil, fmt.Errorf("unknown provider type %q (available: %v)", t, available)
	}
	return factory(cfg, logger), nil
}

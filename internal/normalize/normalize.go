// Package normalize implements the pure provider-shaped -> canonical wire
// transformations: responses, stream chunks, and errors.
package normalize

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/llmgateway/gateway/internal/provider"
	gwerrors "github.com/llmgateway/gateway/pkg/errors"
)

// Message is the canonical chat message embedded in a CanonicalResponse
// choice.
type Message struct {
	Role         string                `json:"role"`
	Content      *string               `json:"content"`
	ToolCalls    []provider.ToolCall   `json:"tool_calls,omitempty"`
	FunctionCall *provider.FunctionCall `json:"function_call,omitempty"`
}

// Choice is one entry of a CanonicalResponse.choices array.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason *string `json:"finish_reason"`
	LogProbs     *string `json:"logprobs"`
}

// Usage mirrors provider.Usage in the canonical wire shape.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the canonical non-streaming chat-completion response.
type Response struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Delta carries the incremental content of one streaming chunk.
type Delta struct {
	Role         string                 `json:"role,omitempty"`
	Content      string                 `json:"content,omitempty"`
	ToolCalls    []provider.ToolCall    `json:"tool_calls,omitempty"`
	FunctionCall *provider.FunctionCall `json:"function_call,omitempty"`
}

// StreamChoice is one entry of a CanonicalStreamChunk.choices array.
type StreamChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// StreamChunk is the canonical SSE chat-completion-chunk envelope.
type StreamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []StreamChoice `json:"choices"`
}

// ErrorDetail is the body of a CanonicalError.
type ErrorDetail struct {
	Message string  `json:"message"`
	Type    string  `json:"type"`
	Code    *string `json:"code"`
}

// Error is the canonical error envelope, shared between non-streaming
// responses and mid-stream SSE error frames.
type Error struct {
	Error ErrorDetail `json:"error"`
}

// NewStreamID mints a fresh stream id shared across every chunk of one
// streaming response.
func NewStreamID() string {
	return "chatcmpl-" + uuid.NewString()
}

func strPtr(s string) *string { return &s }

// ToCanonicalResponse maps a provider.Response to the canonical wire shape.
func ToCanonicalResponse(resp *provider.Response, requestedModel string) Response {
	var content *string
	hasToolActivity := resp.FunctionCall != nil || len(resp.ToolCalls) > 0
	if resp.Content != "" || !hasToolActivity {
		content = strPtr(resp.Content)
	}

	msg := Message{
		Role:         "assistant",
		Content:      content,
		ToolCalls:    resp.ToolCalls,
		FunctionCall: resp.FunctionCall,
	}

	return Response{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   requestedModel,
		Choices: []Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: strPtr(mapResponseFinishReason(resp.FinishReason)),
		}},
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
}

func mapResponseFinishReason(reason string) string {
	switch reason {
	case "stop", "length", "tool_calls", "content_filter", "function_call":
		return reason
	default:
		return "stop"
	}
}

// ToCanonicalChunk maps one provider.StreamChunk to the canonical SSE chunk
// shape. streamID is carried unchanged across every chunk of one stream.
// finishReason is nil until the chunk that ends the stream.
func ToCanonicalChunk(chunk provider.StreamChunk, requestedModel, streamID string) StreamChunk {
	delta := Delta{
		Content:      chunk.Content,
		FunctionCall: chunk.FunctionCall,
	}
	if chunk.ToolCall != nil {
		delta.ToolCalls = []provider.ToolCall{*chunk.ToolCall}
	}

	var finishReason *string
	if chunk.FinishReason != "" {
		finishReason = strPtr(mapResponseFinishReason(chunk.FinishReason))
	}

	return StreamChunk{
		ID:      streamID,
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   requestedModel,
		Choices: []StreamChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
	}
}

// kindToErrorTuple maps a GatewayError kind to its (type, code) wire tuple.
func kindToErrorTuple(kind gwerrors.Kind) (string, *string) {
	switch kind {
	case gwerrors.KindAuth:
		return "authentication_error", strPtr("invalid_api_key")
	case gwerrors.KindRateLimit:
		return "rate_limit_error", strPtr("rate_limit_exceeded")
	case gwerrors.KindServiceUnavailable:
		return "server_error", strPtr("service_unavailable")
	case gwerrors.KindInvalidRequest, gwerrors.KindValidation:
		return "invalid_request_error", nil
	default:
		return "server_error", nil
	}
}

// ToCanonicalError maps err to the canonical error envelope. Any error is
// accepted; non-GatewayError values are treated as KindUnknown.
func ToCanonicalError(err error) Error {
	kind := gwerrors.KindOf(err)
	errType, code := kindToErrorTuple(kind)

	message := "an unknown error occurred"
	if err != nil {
		message = err.Error()
	}

	return Error{Error: ErrorDetail{Message: message, Type: errType, Code: code}}
}

// FormatSSE renders v as one SSE "data: <json>\n\n" frame.
func FormatSSE(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return "data: " + string(data) + "\n\n", nil
}

// FormatSSEDone renders the terminal SSE sentinel frame.
func FormatSSEDone() string {
	return "data: [DONE]\n\n"
}

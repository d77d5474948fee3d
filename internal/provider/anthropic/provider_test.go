package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/llmgateway/gateway/internal/provider"
	"go.uber.org/zap"
)

func TestAdapter_Call_UsesAPIKeyHeaderNotBearer(t *testing.T) {
	var gotKey, gotAuth, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("anthropic-version")
		json.NewEncoder(w).Encode(Response{
			Content:    []ContentBlock{{Type: "text", Text: "hi"}},
			StopReason: "end_turn",
		})
	}))
	defer srv.Close()

	a := New(provider.Config{Name: "anthropic", APIEndpoint: srv.URL}, zap.NewNop())
	resp, err := a.Call(context.Background(), provider.Request{Model: "claude-3", Token: "tok"})
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if gotKey != "tok" {
		t.Fatalf("x-api-key = %q, want tok", gotKey)
	}
	if gotAuth != "" {
		t.Fatalf("Authorization header should be unset, got %q", gotAuth)
	}
	if gotVersion != anthropicVersion {
		t.Fatalf("anthropic-version = %q, want %q", gotVersion, anthropicVersion)
	}
	if resp.Content != "hi" || resp.FinishReason != "stop" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestBuildAPIRequest_DefaultsMaxTokensWhenUnset(t *testing.T) {
	req := provider.Request{Messages: []provider.Message{{Role: "user", Content: "hi"}}}
	apiReq := buildAPIRequest(req)
	if apiReq.MaxTokens != defaultMaxTokens {
		t.Fatalf("MaxTokens = %d, want %d", apiReq.MaxTokens, defaultMaxTokens)
	}
}

func TestBuildAPIRequest_SystemMessageExtractedToTopLevelField(t *testing.T) {
	req := provider.Request{
		Messages: []provider.Message{
			{Role: "system", Content: "Be terse."},
			{Role: "user", Content: "hi"},
		},
	}
	apiReq := buildAPIRequest(req)
	if apiReq.System != "Be terse." {
		t.Fatalf("System = %q, want Be terse.", apiReq.System)
	}
	if len(apiReq.Messages) != 1 || apiReq.Messages[0].Role != "user" {
		t.Fatalf("unexpected messages: %+v", apiReq.Messages)
	}
}

func TestMapStopReason(t *testing.T) {
	cases := map[string]string{
		"end_turn": "stop", "stop_sequence": "stop", "max_tokens": "length",
		"tool_use": "tool_calls", "weird": "stop",
	}
	for in, want := range cases {
		if got := mapStopReason(in); got != want {
			t.Errorf("mapStopReason(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAdapter_Stream_AccumulatesToolUseAcrossDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		write := func(event string, v interface{}) {
			b, _ := json.Marshal(v)
			w.Write([]byte("event: " + event + "\ndata: " + string(b) + "\n\n"))
			flusher.Flush()
		}
		write("content_block_start", streamEvent{Type: "content_block_start", Index: 0, Content: &ContentBlock{Type: "tool_use", ID: "call_1", Name: "lookup"}})
		write("content_block_delta", streamEvent{Type: "content_block_delta", Index: 0, Delta: &deltaBlock{Type: "input_json_delta", PartialJSON: `{"q":`}})
		write("content_block_delta", streamEvent{Type: "content_block_delta", Index: 0, Delta: &deltaBlock{Type: "input_json_delta", PartialJSON: `"x"}`}})
		write("content_block_stop", streamEvent{Type: "content_block_stop", Index: 0})
		write("message_delta", streamEvent{Type: "message_delta", Delta: &deltaBlock{StopReason: "tool_use"}})
		write("message_stop", streamEvent{Type: "message_stop"})
	}))
	defer srv.Close()

	a := New(provider.Config{Name: "anthropic", APIEndpoint: srv.URL}, zap.NewNop())
	events, err := a.Stream(context.Background(), provider.Request{Model: "claude-3", Token: "t"})
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}

	var toolArgs string
	var finish string
	for ev := range events {
		if ev.Err != nil {
			t.Fatalf("unexpected stream error: %v", ev.Err)
		}
		if ev.Chunk.ToolCall != nil {
			toolArgs = ev.Chunk.ToolCall.Function.Arguments
		}
		if ev.Chunk.FinishReason != "" {
			finish = ev.Chunk.FinishReason
		}
	}
	if toolArgs != `{"q":"x"}` {
		t.Fatalf("accumulated tool args = %q", toolArgs)
	}
	if finish != "tool_calls" {
		t.Fatalf("finish = %q, want tool_calls", finish)
	}
}

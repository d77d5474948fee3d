package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/llmgateway/gateway/internal/provider"
	"go.uber.org/zap"
)

func TestAdapter_Call_SendsBearerTokenAndUserAgent(t *testing.T) {
	var gotAuth, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUA = r.Header.Get("User-Agent")
		json.NewEncoder(w).Encode(Response{
			Choices: []Choice{{Message: Message{Content: "hi"}, FinishReason: "stop"}},
		})
	}))
	defer srv.Close()

	a := New(provider.Config{Name: "openai", APIEndpoint: srv.URL}, zap.NewNop())
	resp, err := a.Call(context.Background(), provider.Request{Model: "gpt-4", Token: "tok123", UserAgent: "llm-gateway/1.0"})
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if gotAuth != "Bearer tok123" {
		t.Fatalf("Authorization header = %q, want Bearer tok123", gotAuth)
	}
	if gotUA != "llm-gateway/1.0" {
		t.Fatalf("User-Agent header = %q", gotUA)
	}
	if resp.Content != "hi" {
		t.Fatalf("Content = %q, want hi", resp.Content)
	}
}

func TestAdapter_Call_StripsProviderPrefixFromModel(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		json.NewEncoder(w).Encode(Response{Choices: []Choice{{Message: Message{Content: "ok"}}}})
	}))
	defer srv.Close()

	a := New(provider.Config{Name: "openai", APIEndpoint: srv.URL}, zap.NewNop())
	_, err := a.Call(context.Background(), provider.Request{Model: "openai/gpt-4", Token: "t"})
	if err != nil {
		t.Fatalf("Call returned error: %v", err)
	}
	if gotModel != "gpt-4" {
		t.Fatalf("sent model = %q, want gpt-4", gotModel)
	}
}

func TestAdapter_Call_NonOKStatusClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	a := New(provider.Config{Name: "openai", APIEndpoint: srv.URL}, zap.NewNop())
	_, err := a.Call(context.Background(), provider.Request{Model: "gpt-4", Token: "t"})
	if err == nil {
		t.Fatalf("expected error for 429 response")
	}
}

func TestAdapter_Stream_EmitsContentThenFinish(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"Hel"}}]}` + "\n\n"))
		flusher.Flush()
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"lo"}}]}` + "\n\n"))
		flusher.Flush()
		stop := "stop"
		b, _ := json.Marshal(StreamChunkData{Choices: []StreamChoice{{FinishReason: &stop}}})
		w.Write([]byte("data: " + string(b) + "\n\n"))
		flusher.Flush()
		w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	a := New(provider.Config{Name: "openai", APIEndpoint: srv.URL}, zap.NewNop())
	events, err := a.Stream(context.Background(), provider.Request{Model: "gpt-4", Token: "t"})
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}

	var content string
	var sawFinish bool
	for ev := range events {
		if ev.Err != nil {
			t.Fatalf("unexpected stream error: %v", ev.Err)
		}
		content += ev.Chunk.Content
		if ev.Chunk.FinishReason != "" {
			sawFinish = true
		}
	}
	if content != "Hello" {
		t.Fatalf("accumulated content = %q, want Hello", content)
	}
	if !sawFinish {
		t.Fatalf("never saw a finish_reason chunk")
	}
}

func TestAdapter_Stream_SkipsInvalidJSONLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Write([]byte("data: {not json\n\n"))
		flusher.Flush()
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"ok"}}]}` + "\n\n"))
		flusher.Flush()
		w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer srv.Close()

	a := New(provider.Config{Name: "openai", APIEndpoint: srv.URL}, zap.NewNop())
	events, err := a.Stream(context.Background(), provider.Request{Model: "gpt-4", Token: "t"})
	if err != nil {
		t.Fatalf("Stream returned error: %v", err)
	}

	var content string
	for ev := range events {
		if ev.Err != nil {
			t.Fatalf("unexpected stream error: %v", ev.Err)
		}
		content += ev.Chunk.Content
	}
	if content != "ok" {
		t.Fatalf("content = %q, want ok (invalid line should be skipped, not fatal)", content)
	}
}

package normalize

import (
	"regexp"
	"strings"
	"testing"

	"github.com/llmgateway/gateway/internal/provider"
	gwerrors "github.com/llmgateway/gateway/pkg/errors"
)

func TestToCanonicalResponse_BasicShape(t *testing.T) {
	resp := &provider.Response{
		Content:      "Hello",
		FinishReason: "stop",
		Usage:        provider.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
	got := ToCanonicalResponse(resp, "gpt-4")

	if got.Object != "chat.completion" {
		t.Fatalf("Object = %q, want chat.completion", got.Object)
	}
	if got.Model != "gpt-4" {
		t.Fatalf("Model = %q, want gpt-4", got.Model)
	}
	if len(got.Choices) != 1 || got.Choices[0].Message.Content == nil || *got.Choices[0].Message.Content != "Hello" {
		t.Fatalf("unexpected choices: %+v", got.Choices)
	}
	if got.Usage.TotalTokens != 15 {
		t.Fatalf("TotalTokens = %d, want 15", got.Usage.TotalTokens)
	}
	if !strings.HasPrefix(got.ID, "chatcmpl-") {
		t.Fatalf("ID = %q, want chatcmpl- prefix", got.ID)
	}
}

func TestToCanonicalResponse_FinishReasonMapping(t *testing.T) {
	cases := map[string]string{
		"stop": "stop", "length": "length", "tool_calls": "tool_calls",
		"content_filter": "content_filter", "function_call": "function_call",
		"weird": "stop", "": "stop",
	}
	for in, want := range cases {
		resp := &provider.Response{FinishReason: in}
		got := ToCanonicalResponse(resp, "m")
		if *got.Choices[0].FinishReason != want {
			t.Errorf("FinishReason(%q) = %q, want %q", in, *got.Choices[0].FinishReason, want)
		}
	}
}

func TestToCanonicalChunk_StreamIDStableAcrossChunks(t *testing.T) {
	id := NewStreamID()
	c1 := ToCanonicalChunk(provider.StreamChunk{Content: "Hello"}, "gpt-4", id)
	c2 := ToCanonicalChunk(provider.StreamChunk{Content: " world", FinishReason: "stop"}, "gpt-4", id)

	if c1.ID != id || c2.ID != id {
		t.Fatalf("chunk IDs not stable: %q, %q, want %q", c1.ID, c2.ID, id)
	}
	if c1.Choices[0].FinishReason != nil {
		t.Fatalf("non-final chunk has non-nil finish_reason")
	}
	if c2.Choices[0].FinishReason == nil || *c2.Choices[0].FinishReason != "stop" {
		t.Fatalf("final chunk finish_reason = %v, want stop", c2.Choices[0].FinishReason)
	}
}

func TestToCanonicalError_KindMapping(t *testing.T) {
	cases := []struct {
		kind     gwerrors.Kind
		wantType string
	}{
		{gwerrors.KindAuth, "authentication_error"},
		{gwerrors.KindRateLimit, "rate_limit_error"},
		{gwerrors.KindServiceUnavailable, "server_error"},
		{gwerrors.KindInvalidRequest, "invalid_request_error"},
		{gwerrors.KindValidation, "invalid_request_error"},
		{gwerrors.KindUnknown, "server_error"},
	}
	for _, c := range cases {
		err := gwerrors.New(c.kind, "boom")
		got := ToCanonicalError(err)
		if got.Error.Type != c.wantType {
			t.Errorf("kind %q: Type = %q, want %q", c.kind, got.Error.Type, c.wantType)
		}
		if got.Error.Message == "" {
			t.Errorf("kind %q: empty message", c.kind)
		}
	}
}

func TestFormatSSE_Framing(t *testing.T) {
	frame, err := FormatSSE(map[string]string{"a": "b"})
	if err != nil {
		t.Fatalf("FormatSSE returned error: %v", err)
	}
	if !strings.HasPrefix(frame, "data: ") || !strings.HasSuffix(frame, "\n\n") {
		t.Fatalf("frame not properly delimited: %q", frame)
	}
}

func TestFormatSSEDone_ExactSentinel(t *testing.T) {
	if FormatSSEDone() != "data: [DONE]\n\n" {
		t.Fatalf("FormatSSEDone() = %q", FormatSSEDone())
	}
}

func TestFormatSSE_MatchesFramingRegex(t *testing.T) {
	frame, _ := FormatSSE(map[string]string{"x": "y"})
	re := regexp.MustCompile(`^data: .*\n\n$`)
	if !re.MatchString(frame) {
		t.Fatalf("frame %q does not match SSE framing regex", frame)
	}
}

package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/llmgateway/gateway/internal/provider"
	"go.uber.org/zap"
)

const idleTimeout = 60 * time.Second

// parseSSEStream reads an OpenAI-compatible text/event-stream body and
// translates it into the canonical StreamEvent sequence. The channel is
// always closed exactly once, after the final event.
func parseSSEStream(ctx context.Context, body io.ReadCloser, logger *zap.Logger) <-chan provider.StreamEvent {
	out := make(chan provider.StreamEvent)

	go func() {
		defer close(out)
		defer body.Close()

		tReader := &timedReader{r: body, timeout: idleTimeout}
		scanner := bufio.NewScanner(tReader)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				out <- provider.StreamEvent{Err: ctx.Err()}
				return
			default:
			}

			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var chunk StreamChunkData
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				logger.Debug("openai stream: skipping unparseable chunk", zap.Error(err))
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			choice := chunk.Choices[0]
			delta := choice.Delta
			finish := ""
			if choice.FinishReason != nil {
				finish = *choice.FinishReason
			}

			if delta.Content != "" || finish != "" {
				out <- provider.StreamEvent{Chunk: provider.StreamChunk{
					Content:      delta.Content,
					FinishReason: finish,
				}}
			}

			for _, tc := range delta.ToolCalls {
				out <- provider.StreamEvent{Chunk: provider.StreamChunk{
					ToolCall: &provider.ToolCall{
						ID:   tc.ID,
						Type: "function",
						Function: provider.FunctionCall{
							Name:      tc.Function.Name,
							Arguments: tc.Function.Arguments,
						},
					},
				}}
			}

			if finish != "" {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			if isIdleTimeoutErr(err) {
				logger.Warn("openai stream: idle timeout, no data for period", zap.Duration("timeout", idleTimeout))
				return
			}
			out <- provider.StreamEvent{Err: err}
		}
	}()

	return out
}

type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()

	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}

var errIdleTimeout = &idleTimeoutError{}

type idleTimeoutError struct{}

func (e *idleTimeoutError) Error() string { return "openai: SSE read idle timeout" }

func isIdleTimeoutErr(err error) bool {
	_, ok := err.(*idleTimeoutError)
	return ok
}

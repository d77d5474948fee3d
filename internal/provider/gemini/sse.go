package gemini

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

// parseSSEStream reads Gemini's streamGenerateContent SSE body. Each "data: "
// line is a full (partial) GenerateContentResponse; the stream ends when the
// body closes, there is no [DONE] sentinel.
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

			var resp Response
			if err := json.Unmarshal([]byte(data), &resp); err != nil {
				logger.Debug("gemini stream: skipping unparseable chunk", zap.Error(err))
				continue
			}
			if len(resp.Candidates) == 0 {
				continue
			}

			candidate := resp.Candidates[0]
			finish := ""
			if candidate.FinishReason != "" {
				finish = mapFinishReason(candidate.FinishReason)
			}

			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					out <- provider.StreamEvent{Chunk: provider.StreamChunk{Content: part.Text}}
				}
				if part.FunctionCall != nil {
					out <- provider.StreamEvent{Chunk: provider.StreamChunk{
						ToolCall: &provider.ToolCall{
							Type: "function",
							Function: provider.FunctionCall{
								Name:      part.FunctionCall.Name,
								Arguments: encodeFunctionCallArgs(part.FunctionCall.Args),
							},
						},
					}}
				}
			}

			if finish != "" {
				out <- provider.StreamEvent{Chunk: provider.StreamChunk{FinishReason: finish}}
			}
		}

		if err := scanner.Err(); err != nil {
			if isIdleTimeoutErr(err) {
				logger.Warn("gemini stream: idle timeout, no data for period", zap.Duration("timeout", idleTimeout))
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

func (e *idleTimeoutError) Error() string { return "gemini: SSE read idle timeout" }

func isIdleTimeoutErr(err error) bool {
	_, ok := err.(*idleTimeoutError)
	return ok
}

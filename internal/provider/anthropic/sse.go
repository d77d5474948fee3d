package anthropic

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

// toolCallAccumulator tracks a tool_use block being streamed across
// content_block_delta events, keyed by content block index.
type toolCallAccumulator struct {
	id   string
	name string
	args strings.Builder
}

// parseSSEStream reads Anthropic's event-based SSE format: message_start,
// content_block_start/delta/stop, message_delta, message_stop.
func parseSSEStream(ctx context.Context, body io.ReadCloser, logger *zap.Logger) <-chan provider.StreamEvent {
	out := make(chan provider.StreamEvent)

	go func() {
		defer close(out)
		defer body.Close()

		tReader := &timedReader{r: body, timeout: idleTimeout}
		scanner := bufio.NewScanner(tReader)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		toolCalls := make(map[int]*toolCallAccumulator)
		var currentEventType string

		flushToolCall := func(idx int) {
			acc, ok := toolCalls[idx]
			if !ok {
				return
			}
			delete(toolCalls, idx)
			out <- provider.StreamEvent{Chunk: provider.StreamChunk{
				ToolCall: &provider.ToolCall{
					ID:   acc.id,
					Type: "function",
					Function: provider.FunctionCall{
						Name:      acc.name,
						Arguments: acc.args.String(),
					},
				},
			}}
		}

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				out <- provider.StreamEvent{Err: ctx.Err()}
				return
			default:
			}

			line := scanner.Text()

			if strings.HasPrefix(line, "event: ") {
				currentEventType = strings.TrimPrefix(line, "event: ")
				continue
			}
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			eventType := currentEventType
			currentEventType = ""

			var evt streamEvent
			if err := json.Unmarshal([]byte(data), &evt); err != nil {
				logger.Debug("anthropic stream: skipping unparseable event", zap.String("event", eventType), zap.Error(err))
				continue
			}

			switch eventType {
			case "content_block_start":
				if evt.Content != nil && evt.Content.Type == "tool_use" {
					toolCalls[evt.Index] = &toolCallAccumulator{id: evt.Content.ID, name: evt.Content.Name}
				}

			case "content_block_delta":
				if evt.Delta == nil {
					continue
				}
				switch evt.Delta.Type {
				case "text_delta":
					if evt.Delta.Text != "" {
						out <- provider.StreamEvent{Chunk: provider.StreamChunk{Content: evt.Delta.Text}}
					}
				case "input_json_delta":
					if acc, ok := toolCalls[evt.Index]; ok {
						acc.args.WriteString(evt.Delta.PartialJSON)
					}
				}

			case "content_block_stop":
				flushToolCall(evt.Index)

			case "message_delta":
				if evt.Delta != nil && evt.Delta.StopReason != "" {
					out <- provider.StreamEvent{Chunk: provider.StreamChunk{FinishReason: mapStopReason(evt.Delta.StopReason)}}
				}

			case "message_stop":
				return
			}
		}

		if err := scanner.Err(); err != nil {
			if isIdleTimeoutErr(err) {
				logger.Warn("anthropic stream: idle timeout, no data for period", zap.Duration("timeout", idleTimeout))
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

func (e *idleTimeoutError) Error() string { return "anthropic: SSE read idle timeout" }

func isIdleTimeoutErr(err error) bool {
	_, ok := err.(*idleTimeoutError)
	return ok
}

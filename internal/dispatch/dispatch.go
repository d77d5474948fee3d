// Package dispatch implements the gateway's core request pipeline: parsing
// and validating an inbound CanonicalRequest, resolving it to a provider
// candidate via the router, acquiring rate-limiter admission, fetching a
// valid OAuth token, calling the chosen adapter, and normalizing the result
// back to the canonical wire shape — retrying across candidates on
// retryable failures, up to maxRetries attempts.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/llmgateway/gateway/internal/auth"
	"github.com/llmgateway/gateway/internal/config"
	"github.com/llmgateway/gateway/internal/metrics"
	"github.com/llmgateway/gateway/internal/normalize"
	"github.com/llmgateway/gateway/internal/provider"
	"github.com/llmgateway/gateway/internal/ratelimit"
	"github.com/llmgateway/gateway/internal/router"
	"github.com/llmgateway/gateway/internal/usage"
	"github.com/llmgateway/gateway/internal/useragent"
	gwerrors "github.com/llmgateway/gateway/pkg/errors"
	"go.uber.org/zap"
)

const defaultMaxRetries = 3

// CanonicalRequest is the parsed, validated body of a chat-completion
// request, in the OpenAI-compatible wire shape.
type CanonicalRequest struct {
	Model       string             `json:"model"`
	Messages    []provider.Message `json:"messages"`
	Temperature *float64           `json:"temperature"`
	TopP        *float64           `json:"top_p"`
	MaxTokens   *int               `json:"max_tokens"`
	Stop        []string           `json:"stop"`
	Stream      bool               `json:"stream"`
	Tools       []toolWire         `json:"tools"`
}

type toolWire struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		Parameters  map[string]interface{} `json:"parameters"`
	} `json:"function"`
}

// Dispatcher orchestrates one chat-completion request end to end.
type Dispatcher struct {
	router      *router.Router
	limiter     *ratelimit.Limiter
	authMgr     *auth.Manager
	uaPool      *useragent.Pool
	usageTracker *usage.Tracker
	metrics     *metrics.Registry
	adapters    map[string]provider.Adapter
	maxRetries  int
	logger      *zap.Logger
}

// New builds a Dispatcher. adapters maps provider name (config key, not
// adapter type) to its constructed Adapter.
func New(
	rtr *router.Router,
	limiter *ratelimit.Limiter,
	authMgr *auth.Manager,
	uaPool *useragent.Pool,
	usageTracker *usage.Tracker,
	metricsReg *metrics.Registry,
	adapters map[string]provider.Adapter,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		router:       rtr,
		limiter:      limiter,
		authMgr:      authMgr,
		uaPool:       uaPool,
		usageTracker: usageTracker,
		metrics:      metricsReg,
		adapters:     adapters,
		maxRetries:   defaultMaxRetries,
		logger:       logger.With(zap.String("component", "dispatch")),
	}
}

// Parse validates and decodes a chat-completion request body. Validation
// failures are returned as gwerrors.KindValidation, non-retryable.
func Parse(body []byte) (CanonicalRequest, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return CanonicalRequest{}, gwerrors.NewValidation("request body must be a JSON object")
	}

	var req CanonicalRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return CanonicalRequest{}, gwerrors.NewValidation("request body must be a JSON object")
	}

	if req.Model == "" {
		return CanonicalRequest{}, gwerrors.NewValidation("model must be a non-empty string")
	}
	if len(req.Messages) == 0 {
		return CanonicalRequest{}, gwerrors.NewValidation("messages must be a non-empty sequence")
	}
	for i, msg := range req.Messages {
		if msg.Role == "" {
			return CanonicalRequest{}, gwerrors.NewValidation(fmt.Sprintf("messages[%d] must have a string role", i))
		}
		hasContent := msg.Content != ""
		hasToolCalls := len(msg.ToolCalls) > 0
		hasFunctionCall := msg.FunctionCall != nil
		if !hasContent && !hasToolCalls && !hasFunctionCall {
			return CanonicalRequest{}, gwerrors.NewValidation(fmt.Sprintf("messages[%d] must have content, tool_calls, or function_call", i))
		}
	}

	return req, nil
}

func (r CanonicalRequest) toProviderTools() []provider.ToolDefinition {
	if len(r.Tools) == 0 {
		return nil
	}
	tools := make([]provider.ToolDefinition, 0, len(r.Tools))
	for _, t := range r.Tools {
		tools = append(tools, provider.ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	return tools
}

// selection pairs a resolved candidate with the adapter to call it through.
type selection struct {
	candidate config.ProviderModel
	adapter   provider.Adapter
}

func (d *Dispatcher) firstSelection(model string) (selection, error) {
	candidates, err := d.router.Resolve(model)
	if err != nil {
		return selection{}, err
	}
	cand, ok := d.router.Select(candidates)
	if !ok {
		return selection{}, gwerrors.NewServiceUnavailable("no available provider for " + model)
	}
	return d.toSelection(cand)
}

func (d *Dispatcher) toSelection(cand config.ProviderModel) (selection, error) {
	a, ok := d.adapters[cand.Provider]
	if !ok {
		return selection{}, gwerrors.NewServiceUnavailable("no adapter configured for provider " + cand.Provider)
	}
	return selection{candidate: cand, adapter: a}, nil
}

func (d *Dispatcher) nextSelection(model, failedProvider string) (selection, bool) {
	cand, ok := d.router.GetNextProvider(model, failedProvider)
	if !ok {
		return selection{}, false
	}
	sel, err := d.toSelection(cand)
	if err != nil {
		return selection{}, false
	}
	return sel, true
}

func (d *Dispatcher) buildProviderRequest(sel selection, req CanonicalRequest, token string) provider.Request {
	return provider.Request{
		Model:       sel.candidate.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		Tools:       req.toProviderTools(),
		Token:       token,
		UserAgent:   d.uaPool.Next(),
	}
}

// acquire performs the rate-limiter and auth steps shared by Complete and
// CompleteStream for one candidate attempt.
func (d *Dispatcher) acquire(ctx context.Context, sel selection, req CanonicalRequest) (provider.Request, error) {
	if err := d.limiter.Acquire(sel.candidate.Provider); err != nil {
		return provider.Request{}, err
	}
	ts, err := d.authMgr.GetValidToken(sel.candidate.Provider)
	if err != nil {
		return provider.Request{}, err
	}
	return d.buildProviderRequest(sel, req, ts.AccessToken), nil
}

// Complete dispatches a non-streaming chat completion, retrying across
// candidates on retryable errors up to maxRetries attempts.
func (d *Dispatcher) Complete(ctx context.Context, req CanonicalRequest) (normalize.Response, error) {
	sel, err := d.firstSelection(req.Model)
	if err != nil {
		return normalize.Response{}, err
	}

	var lastErr error
	for attempt := 0; attempt < d.maxRetries; attempt++ {
		providerReq, err := d.acquire(ctx, sel, req)
		if err != nil {
			lastErr = err
			next, ok := d.retryOrStop(req.Model, sel.candidate.Provider, err, attempt)
			if !ok {
				break
			}
			sel = next
			continue
		}

		callStart := time.Now()
		resp, err := sel.adapter.Call(ctx, providerReq)
		elapsed := time.Since(callStart).Seconds()
		if err != nil {
			lastErr = err
			d.recordFailure(sel, elapsed)
			next, ok := d.retryOrStop(req.Model, sel.candidate.Provider, err, attempt)
			if !ok {
				break
			}
			sel = next
			continue
		}

		d.recordSuccess(sel, resp.Usage, elapsed)
		return normalize.ToCanonicalResponse(resp, req.Model), nil
	}

	if lastErr == nil {
		lastErr = gwerrors.NewServiceUnavailable("no available provider for " + req.Model)
	}
	return normalize.Response{}, lastErr
}

// retryOrStop records the failed candidate and, if err is retryable and a
// retry budget remains, resolves the next candidate. The bool is false when
// no further attempt should be made.
func (d *Dispatcher) retryOrStop(model, failedProvider string, err error, attempt int) (selection, bool) {
	if !gwerrors.IsRetryable(err) || attempt >= d.maxRetries-1 {
		return selection{}, false
	}
	return d.nextSelection(model, failedProvider)
}

func (d *Dispatcher) recordSuccess(sel selection, u provider.Usage, seconds float64) {
	d.usageTracker.RecordSuccess(sel.candidate.Provider, sel.candidate.Model, u.PromptTokens, u.CompletionTokens)
	if d.metrics != nil {
		d.metrics.ObserveRequest(sel.candidate.Provider, sel.candidate.Model, "success", seconds)
	}
}

func (d *Dispatcher) recordFailure(sel selection, seconds float64) {
	d.usageTracker.RecordFailure(sel.candidate.Provider, sel.candidate.Model)
	if d.metrics != nil {
		d.metrics.ObserveRequest(sel.candidate.Provider, sel.candidate.Model, "failure", seconds)
	}
}

// CompleteStream dispatches a streaming chat completion. The returned
// channel yields fully-framed SSE text (including the terminal "data:
// [DONE]\n\n" frame) and is always closed exactly once. Once any chunk has
// been yielded for this request, a subsequent upstream failure is rendered
// as a final canonical error SSE frame — no provider fallback is attempted
// mid-stream.
func (d *Dispatcher) CompleteStream(ctx context.Context, req CanonicalRequest) (<-chan string, error) {
	sel, err := d.firstSelection(req.Model)
	if err != nil {
		return nil, err
	}

	out := make(chan string)
	go d.runStream(ctx, sel, req, out)
	return out, nil
}

func (d *Dispatcher) runStream(ctx context.Context, sel selection, req CanonicalRequest, out chan<- string) {
	defer close(out)

	streamID := normalize.NewStreamID()
	var lastErr error

	for attempt := 0; attempt < d.maxRetries; attempt++ {
		providerReq, err := d.acquire(ctx, sel, req)
		if err != nil {
			lastErr = err
			next, ok := d.retryOrStop(req.Model, sel.candidate.Provider, err, attempt)
			if !ok {
				break
			}
			sel = next
			continue
		}

		streamStart := time.Now()
		events, err := sel.adapter.Stream(ctx, providerReq)
		if err != nil {
			lastErr = err
			d.recordFailure(sel, time.Since(streamStart).Seconds())
			next, ok := d.retryOrStop(req.Model, sel.candidate.Provider, err, attempt)
			if !ok {
				break
			}
			sel = next
			continue
		}

		yielded, streamErr := d.drainStream(events, req.Model, streamID, out)
		elapsed := time.Since(streamStart).Seconds()
		if streamErr == nil {
			d.recordSuccess(sel, provider.Usage{}, elapsed)
			out <- normalize.FormatSSEDone()
			return
		}

		d.recordFailure(sel, elapsed)
		if !yielded {
			lastErr = streamErr
			next, ok := d.retryOrStop(req.Model, sel.candidate.Provider, streamErr, attempt)
			if !ok {
				break
			}
			sel = next
			continue
		}

		// Bytes already delivered to the caller: no fallback, terminate this
		// stream with a canonical error frame.
		d.emitErrorFrame(streamErr, out)
		return
	}

	if lastErr == nil {
		lastErr = gwerrors.NewServiceUnavailable("no available provider for " + req.Model)
	}
	d.emitErrorFrame(lastErr, out)
}

// drainStream forwards adapter events as framed SSE chunks until the
// sequence ends. It reports whether any chunk was yielded, and the
// terminal error (nil on a clean end-of-stream).
func (d *Dispatcher) drainStream(events <-chan provider.StreamEvent, requestedModel, streamID string, out chan<- string) (bool, error) {
	yielded := false
	for ev := range events {
		if ev.Err != nil {
			return yielded, ev.Err
		}
		chunk := normalize.ToCanonicalChunk(ev.Chunk, requestedModel, streamID)
		frame, err := normalize.FormatSSE(chunk)
		if err != nil {
			return yielded, err
		}
		out <- frame
		yielded = true
	}
	return yielded, nil
}

func (d *Dispatcher) emitErrorFrame(err error, out chan<- string) {
	frame, marshalErr := normalize.FormatSSE(normalize.ToCanonicalError(err))
	if marshalErr != nil {
		d.logger.Error("failed to format sse error frame", zap.Error(marshalErr))
		return
	}
	out <- frame
	out <- normalize.FormatSSEDone()
}

package gemini

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/llmgateway/gateway/internal/provider"
	"go.uber.org/zap"
)

func init() {
	provider.RegisterFactory("gemini", func(cfg provider.Config, logger *zap.Logger) provider.Adapter {
		return New(cfg, logger)
	})
}

// Adapter implements the Google Gemini generateContent API.
type Adapter struct {
	name    string
	baseURL string
	models  []string
	client  *http.Client
	logger  *zap.Logger
}

const requestTimeout = 30 * time.Second

// New builds an Adapter for cfg.
func New(cfg provider.Config, logger *zap.Logger) *Adapter {
	baseURL := strings.TrimRight(cfg.APIEndpoint, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Adapter{
		name:    cfg.Name,
		baseURL: baseURL,
		models:  cfg.Models,
		client:  &http.Client{Transport: transport},
		logger:  logger.With(zap.String("provider", cfg.Name), zap.String("type", "gemini")),
	}
}

var _ provider.Adapter = (*Adapter)(nil)

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Call(ctx context.Context, req provider.Request) (*provider.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	apiReq := buildAPIRequest(req)
	model := stripPrefix(req.Model)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", a.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	a.setHeaders(httpReq, req)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, provider.ClassifyTransportError(a.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.ClassifyTransportError(a.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, provider.ClassifyHTTPStatus(a.name, resp.StatusCode, string(respBody))
	}

	return parseAPIResponse(respBody)
}

func (a *Adapter) Stream(ctx context.Context, req provider.Request) (<-chan provider.StreamEvent, error) {
	apiReq := buildAPIRequest(req)
	model := stripPrefix(req.Model)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", a.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	a.setHeaders(httpReq, req)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, provider.ClassifyTransportError(a.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, provider.ClassifyHTTPStatus(a.name, resp.StatusCode, string(respBody))
	}

	return parseSSEStream(ctx, resp.Body, a.logger), nil
}

func (a *Adapter) setHeaders(httpReq *http.Request, req provider.Request) {
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	if req.UserAgent != "" {
		httpReq.Header.Set("User-Agent", req.UserAgent)
	}
}

func stripPrefix(model string) string {
	if idx := strings.Index(model, "/"); idx >= 0 {
		return model[idx+1:]
	}
	return model
}

// buildAPIRequest translates the canonical request into Gemini's contents/
// parts shape. Consecutive system messages are concatenated with paragraph
// separators and prepended as "[System] ..." to the next user message.
func buildAPIRequest(req provider.Request) *Request {
	apiReq := &Request{}

	var pendingSystem []string
	flushSystem := func(userContent string) string {
		if len(pendingSystem) == 0 {
			return userContent
		}
		prefix := "[System] " + strings.Join(pendingSystem, "\n\n")
		pendingSystem = nil
		if userContent == "" {
			return prefix
		}
		return prefix + "\n\n" + userContent
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "system":
			pendingSystem = append(pendingSystem, msg.Content)

		case "assistant":
			content := Content{Role: "model"}
			if msg.Content != "" {
				content.Parts = append(content.Parts, Part{Text: msg.Content})
			}
			if msg.FunctionCall != nil {
				content.Parts = append(content.Parts, Part{FunctionCall: decodeFunctionCall(*msg.FunctionCall)})
			}
			for _, tc := range msg.ToolCalls {
				content.Parts = append(content.Parts, Part{FunctionCall: decodeFunctionCall(tc.Function)})
			}
			if len(content.Parts) > 0 {
				apiReq.Contents = append(apiReq.Contents, content)
			}

		case "tool", "function":
			apiReq.Contents = append(apiReq.Contents, Content{
				Role: "user",
				Parts: []Part{{
					FunctionResponse: &FunctionResponse{
						Name:     msg.Name,
						Response: map[string]interface{}{"output": msg.Content},
					},
				}},
			})

		default: // user
			text := flushSystem(msg.Content)
			apiReq.Contents = append(apiReq.Contents, Content{
				Role:  "user",
				Parts: []Part{{Text: text}},
			})
		}
	}

	// Any trailing system-only messages with no following user turn are
	// still sent, as a standalone user turn.
	if len(pendingSystem) > 0 {
		apiReq.Contents = append(apiReq.Contents, Content{
			Role:  "user",
			Parts: []Part{{Text: flushSystem("")}},
		})
	}

	if req.Temperature != nil || req.TopP != nil || req.MaxTokens != nil || len(req.Stop) > 0 {
		apiReq.GenerationConfig = &GenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.Stop,
		}
	}

	if len(req.Tools) > 0 {
		decls := make([]FunctionDeclarationSpec, 0, len(req.Tools))
		for _, td := range req.Tools {
			decls = append(decls, FunctionDeclarationSpec{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  convertSchema(td.Parameters),
			})
		}
		apiReq.Tools = []ToolDeclaration{{FunctionDeclarations: decls}}
	}

	return apiReq
}

func decodeFunctionCall(fc provider.FunctionCall) *FunctionCall {
	var args map[string]interface{}
	if fc.Arguments != "" {
		_ = json.Unmarshal([]byte(fc.Arguments), &args)
	}
	return &FunctionCall{Name: fc.Name, Args: args}
}

func encodeFunctionCallArgs(args map[string]interface{}) string {
	if args == nil {
		return "{}"
	}
	b, _ := json.Marshal(args)
	return string(b)
}

func parseAPIResponse(body []byte) (*provider.Response, error) {
	var apiResp Response
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}
	if len(apiResp.Candidates) == 0 {
		return nil, fmt.Errorf("empty gemini response: no candidates")
	}

	candidate := apiResp.Candidates[0]
	resp := &provider.Response{
		FinishReason: mapFinishReason(candidate.FinishReason),
	}
	if apiResp.UsageMetadata != nil {
		resp.Usage = provider.Usage{
			PromptTokens:     apiResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: apiResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      apiResp.UsageMetadata.total(),
		}
	}

	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			resp.Content += part.Text
		}
		if part.FunctionCall != nil {
			resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{
				ID:   fmt.Sprintf("call_%s_%d", part.FunctionCall.Name, len(resp.ToolCalls)),
				Type: "function",
				Function: provider.FunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: encodeFunctionCallArgs(part.FunctionCall.Args),
				},
			})
		}
	}

	return resp, nil
}

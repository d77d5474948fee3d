package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/llmgateway/gateway/internal/dispatch"
	"go.uber.org/zap"
)

// ChatHandler serves the OpenAI-compatible chat-completions and models
// endpoints, delegating all dispatch logic to the Dispatcher.
type ChatHandler struct {
	dispatcher *dispatch.Dispatcher
	aliases    []string
	logger     *zap.Logger
}

// NewChatHandler builds a ChatHandler bound to dispatcher. aliases lists the
// client-visible model names served by GET /v1/models.
func NewChatHandler(dispatcher *dispatch.Dispatcher, aliases []string, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{dispatcher: dispatcher, aliases: aliases, logger: logger.With(zap.String("component", "chat_handler"))}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *ChatHandler) ChatCompletions(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		WriteError(c, http.StatusBadRequest, err)
		return
	}

	req, err := dispatch.Parse(body)
	if err != nil {
		writeGatewayError(c, err)
		return
	}

	if req.Stream {
		h.handleStream(c, req)
		return
	}
	h.handleNonStream(c, req)
}

func (h *ChatHandler) handleNonStream(c *gin.Context, req dispatch.CanonicalRequest) {
	resp, err := h.dispatcher.Complete(c.Request.Context(), req)
	if err != nil {
		writeGatewayError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) handleStream(c *gin.Context, req dispatch.CanonicalRequest) {
	frames, err := h.dispatcher.CompleteStream(c.Request.Context(), req)
	if err != nil {
		writeGatewayError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	w := c.Writer
	flusher, canFlush := w.(http.Flusher)
	ctx := c.Request.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if _, err := io.WriteString(w, frame); err != nil {
				h.logger.Warn("client disconnected mid-stream", zap.Error(err))
				return
			}
			if canFlush {
				flusher.Flush()
			}
		}
	}
}

// modelsResponseModel is one entry of GET /v1/models' data array.
type modelsResponseModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ListModels handles GET /v1/models, listing every configured model alias.
func (h *ChatHandler) ListModels(c *gin.Context) {
	created := time.Now().Unix()

	data := make([]modelsResponseModel, 0, len(h.aliases))
	for _, alias := range h.aliases {
		data = append(data, modelsResponseModel{ID: alias, Object: "model", Created: created, OwnedBy: "llm-gateway"})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

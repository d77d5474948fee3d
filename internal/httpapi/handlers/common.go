// Package handlers implements the gin route handlers for the gateway's
// OpenAI-compatible and dashboard HTTP surfaces.
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/llmgateway/gateway/internal/normalize"
	gwerrors "github.com/llmgateway/gateway/pkg/errors"
)

// RequestIDKey is the gin context key (and response header name, already in
// net/http's canonical header form) carrying the per-request UUIDv4.
const RequestIDKey = "X-Request-Id"

// WriteError renders err as the canonical JSON error envelope at status.
func WriteError(c *gin.Context, status int, err error) {
	c.JSON(status, normalize.ToCanonicalError(err))
}

// statusForError maps err to its wire-level HTTP status via its Kind.
func statusForError(err error) int {
	return gwerrors.KindOf(err).HTTPStatus()
}

// writeGatewayError renders err at the status its Kind maps to.
func writeGatewayError(c *gin.Context, err error) {
	WriteError(c, statusForError(err), err)
}

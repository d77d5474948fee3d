package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gwerrors "github.com/llmgateway/gateway/pkg/errors"
)

// ClassifyHTTPStatus maps an upstream HTTP status code to a *GatewayError per
// the gateway's status table: 401/403 -> auth (not retryable); 429 ->
// rate_limit (retryable); 5xx -> service_unavailable (retryable); 400 ->
// invalid_request (not retryable); anything else -> unknown (not retryable).
func ClassifyHTTPStatus(providerName string, statusCode int, message string) *gwerrors.GatewayError {
	kind := gwerrors.KindUnknown
	retryable := false

	switch {
	case statusCode == 401 || statusCode == 403:
		kind = gwerrors.KindAuth
	case statusCode == 429:
		kind = gwerrors.KindRateLimit
		retryable = true
	case statusCode >= 500 && statusCode < 600:
		kind = gwerrors.KindServiceUnavailable
		retryable = true
	case statusCode == 400:
		kind = gwerrors.KindInvalidRequest
	}

	if message == "" {
		message = fmt.Sprintf("upstream returned status %d", statusCode)
	}

	return &gwerrors.GatewayError{
		Kind:       kind,
		Message:    message,
		StatusCode: statusCode,
		Provider:   providerName,
		Retryable:  retryable,
	}
}

// ClassifyTransportError classifies an error that never produced an HTTP
// status — a dial failure, TLS handshake failure, timeout, or context
// cancellation. Falls back to string-pattern matching the way the pack's own
// error classifiers do for transport-level failures, since there is no
// status code to key off.
func ClassifyTransportError(providerName string, err error) *gwerrors.GatewayError {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &gwerrors.GatewayError{
			Kind:      gwerrors.KindServiceUnavailable,
			Message:   "request cancelled or timed out",
			Provider:  providerName,
			Retryable: true,
			Err:       err,
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such host"), strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "timeout"), strings.Contains(msg, "reset by peer"),
		strings.Contains(msg, "eof"):
		return &gwerrors.GatewayError{
			Kind:      gwerrors.KindServiceUnavailable,
			Message:   "transport error contacting upstream",
			Provider:  providerName,
			Retryable: true,
			Err:       err,
		}
	default:
		return &gwerrors.GatewayError{
			Kind:     gwerrors.KindUnknown,
			Message:  "transport error contacting upstream",
			Provider: providerName,
			Err:      err,
		}
	}
}

package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	sdkopenai "github.com/openai/openai-go"

	"github.com/agenticklabs/agentick/internal/adapter"
)

// mapError converts an OpenAI SDK error into a classified adapter error.
// Context errors pass through.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *sdkopenai.Error
	if !errors.As(err, &apiErr) {
		return adapter.NewError("openai", adapter.KindUnknown, err.Error(), err)
	}

	switch apiErr.StatusCode {
	case http.StatusTooManyRequests:
		return adapter.NewError("openai", adapter.KindRateLimit, apiErr.Error(), err)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return adapter.NewError("openai", adapter.KindUnavailable, apiErr.Error(), err)
	case http.StatusBadRequest:
		if isContextLengthError(apiErr) {
			return adapter.NewError("openai", adapter.KindContextLength, apiErr.Error(), err)
		}
		return adapter.NewError("openai", adapter.KindInvalidRequest, apiErr.Error(), err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return adapter.NewError("openai", adapter.KindAuth, apiErr.Error(), err)
	default:
		return adapter.NewError("openai", adapter.KindUnknown, apiErr.Error(), err)
	}
}

// isContextLengthError checks whether a 400 is about exceeding the
// model's context window.
func isContextLengthError(apiErr *sdkopenai.Error) bool {
	msg := strings.ToLower(apiErr.Error())
	return strings.Contains(msg, "context length") ||
		strings.Contains(msg, "maximum context") ||
		strings.Contains(msg, "context_length_exceeded")
}

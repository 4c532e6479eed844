package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/agenticklabs/agentick/internal/adapter"
)

// mapError converts an Anthropic SDK error into a classified adapter
// error. Context errors pass through so callers recognize cancellation
// without unwrapping.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *sdkanthropic.Error
	if !errors.As(err, &apiErr) {
		return adapter.NewError("anthropic", adapter.KindUnknown, err.Error(), err)
	}

	switch apiErr.StatusCode {
	case http.StatusTooManyRequests:
		return adapter.NewError("anthropic", adapter.KindRateLimit, apiErr.Error(), err)
	case 529, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return adapter.NewError("anthropic", adapter.KindUnavailable, apiErr.Error(), err)
	case http.StatusBadRequest:
		if isContextLengthError(apiErr) {
			return adapter.NewError("anthropic", adapter.KindContextLength, apiErr.Error(), err)
		}
		return adapter.NewError("anthropic", adapter.KindInvalidRequest, apiErr.Error(), err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return adapter.NewError("anthropic", adapter.KindAuth, apiErr.Error(), err)
	default:
		return adapter.NewError("anthropic", adapter.KindUnknown, apiErr.Error(), err)
	}
}

// apiErrorBody is the minimal Anthropic error JSON shape used for
// structured detection.
type apiErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// isContextLengthError checks whether a 400 is specifically about
// exceeding the model's context window: structured error type first,
// message substrings as fallback.
func isContextLengthError(apiErr *sdkanthropic.Error) bool {
	raw := apiErr.RawJSON()

	var body apiErrorBody
	if err := json.Unmarshal([]byte(raw), &body); err == nil {
		if body.Error.Type != "invalid_request_error" {
			return false
		}
		msg := body.Error.Message
		return strings.Contains(msg, "context length") ||
			strings.Contains(msg, "too many tokens") ||
			strings.Contains(msg, "token limit")
	}

	return strings.Contains(raw, "context length") ||
		strings.Contains(raw, "too many tokens") ||
		strings.Contains(raw, "token limit")
}

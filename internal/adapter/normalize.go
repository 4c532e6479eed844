package adapter

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/agenticklabs/agentick/pkg/message"
)

// ExtractSystem splits the system prompt out of a message list. Consecutive
// system messages are concatenated with a blank line; the returned slice
// preserves the remaining messages in order.
func ExtractSystem(msgs []message.Message) (string, []message.Message) {
	var parts []string
	rest := make([]message.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == message.RoleSystem {
			if text := m.TextContent(); text != "" {
				parts = append(parts, text)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(parts, "\n\n"), rest
}

// MapStopReason normalizes a provider finish reason string to the canonical
// StopReason. Unrecognized values map to StopOther.
func MapStopReason(raw string) message.StopReason {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return message.StopUnspecified
	case "stop", "end_turn", "stop_sequence", "completed":
		return message.StopEnd
	case "max_tokens", "length", "model_length":
		return message.StopMaxTokens
	case "tool_use", "tool_calls", "function_call":
		return message.StopToolUse
	case "content_filter", "safety":
		return message.StopContentFilter
	case "error", "failed":
		return message.StopError
	default:
		return message.StopOther
	}
}

// NormalizeUsage maps provider usage fields onto the canonical Usage,
// accepting the prompt_tokens / promptTokens / inputTokens synonym families.
// When the total is absent it is derived from input + output.
func NormalizeUsage(fields map[string]int) message.Usage {
	pick := func(keys ...string) int {
		for _, k := range keys {
			if v, ok := fields[k]; ok {
				return v
			}
		}
		return 0
	}
	u := message.Usage{
		InputTokens:  pick("input_tokens", "inputTokens", "prompt_tokens", "promptTokens"),
		OutputTokens: pick("output_tokens", "outputTokens", "completion_tokens", "completionTokens"),
		TotalTokens:  pick("total_tokens", "totalTokens"),
	}
	if u.TotalTokens == 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u
}

// DataURL renders a base64 media source as an RFC 2397 data URL.
func DataURL(src message.Source) (string, error) {
	if src.Type != message.SourceBase64 {
		return "", fmt.Errorf("adapter: source %q is not base64", src.Type)
	}
	mediaType := src.MediaType
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}
	return "data:" + mediaType + ";base64," + src.Data, nil
}

// ParseDataURL splits a data URL back into a base64 source.
func ParseDataURL(url string) (message.Source, error) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return message.Source{}, fmt.Errorf("adapter: not a data URL")
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return message.Source{}, fmt.Errorf("adapter: malformed data URL")
	}
	mediaType, enc, _ := strings.Cut(meta, ";")
	if enc != "base64" {
		return message.Source{}, fmt.Errorf("adapter: unsupported data URL encoding %q", enc)
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return message.Source{}, fmt.Errorf("adapter: invalid base64 payload: %w", err)
	}
	return message.Source{Type: message.SourceBase64, Data: data, MediaType: mediaType}, nil
}

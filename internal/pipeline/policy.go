// Package pipeline implements the outbound content path from session
// events to an external connector: message filtering, delivery timing,
// inbound rate limiting, and retrying delivery.
package pipeline

import (
	"github.com/agenticklabs/agentick/pkg/message"
)

// PolicyMode selects how assistant messages are transformed before
// delivery.
type PolicyMode string

// Policy modes.
const (
	// PolicyFull delivers messages unchanged.
	PolicyFull PolicyMode = "full"

	// PolicyTextOnly strips tool_use and tool_result blocks, keeping
	// text and images. Messages left empty are dropped.
	PolicyTextOnly PolicyMode = "text-only"

	// PolicySummarized collapses each tool_use into one human-readable
	// text block and drops tool_result blocks.
	PolicySummarized PolicyMode = "summarized"

	// PolicyCustom delegates to the Filter function.
	PolicyCustom PolicyMode = "custom"
)

// Policy transforms assistant messages bound for a connector. User
// messages always pass through unchanged; they are never echoed back
// through the filter.
type Policy struct {
	Mode PolicyMode

	// Filter applies under PolicyCustom. Returning false drops the
	// message.
	Filter func(msg message.Message) (message.Message, bool)

	// Summarizer renders tool_use blocks under PolicySummarized. Nil
	// falls back to the built-in summaries.
	Summarizer *Summarizer
}

// Apply transforms one message. The second return is false when the
// message should be dropped.
func (p Policy) Apply(msg message.Message) (message.Message, bool) {
	if msg.Role == message.RoleUser {
		return msg, true
	}

	switch p.Mode {
	case PolicyTextOnly:
		return p.textOnly(msg)
	case PolicySummarized:
		return p.summarized(msg)
	case PolicyCustom:
		if p.Filter == nil {
			return msg, true
		}
		return p.Filter(msg)
	default:
		return msg, true
	}
}

func (p Policy) textOnly(msg message.Message) (message.Message, bool) {
	var kept []message.ContentBlock
	for _, b := range msg.Content {
		switch b.Type {
		case message.BlockToolUse, message.BlockToolResult:
		default:
			kept = append(kept, b)
		}
	}
	if len(kept) == 0 {
		return message.Message{}, false
	}
	out := msg
	out.Content = kept
	return out, true
}

func (p Policy) summarized(msg message.Message) (message.Message, bool) {
	sum := p.Summarizer
	if sum == nil {
		sum = defaultSummarizer
	}

	var kept []message.ContentBlock
	for _, b := range msg.Content {
		switch b.Type {
		case message.BlockToolUse:
			kept = append(kept, message.NewTextBlock(sum.Summarize(b.Name, b.Input)))
		case message.BlockToolResult:
		default:
			kept = append(kept, b)
		}
	}
	if len(kept) == 0 {
		return message.Message{}, false
	}
	out := msg
	out.Content = kept
	return out, true
}

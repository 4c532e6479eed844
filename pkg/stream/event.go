// Package stream defines the public session event stream: the event union
// emitted by the engine and a replayable multi-consumer buffer carrying it.
package stream

import (
	"encoding/json"

	"github.com/agenticklabs/agentick/pkg/message"
)

// EventType discriminates the variant stored in an Event.
type EventType string

// Event types emitted by the session engine.
const (
	EventExecutionStart          EventType = "execution_start"
	EventTickStart               EventType = "tick_start"
	EventContentDelta            EventType = "content_delta"
	EventContentBlockStart       EventType = "content_block_start"
	EventContentBlockEnd         EventType = "content_block_end"
	EventToolCallStart           EventType = "tool_call_start"
	EventToolCall                EventType = "tool_call"
	EventToolResult              EventType = "tool_result"
	EventToolConfirmationRequest EventType = "tool_confirmation_request"
	EventMessageEnd              EventType = "message_end"
	EventTickEnd                 EventType = "tick_end"
	EventExecutionEnd            EventType = "execution_end"
	EventSpawnStart              EventType = "spawn_start"
	EventSpawnEnd                EventType = "spawn_end"
	EventError                   EventType = "error"
)

// Wildcard subscribes a handler to every event type.
const Wildcard EventType = "*"

// Event is a flat union carrying one session event. The Type field
// discriminates which fields are meaningful. SessionID is stamped on every
// event that crosses the session boundary.
type Event struct {
	Type        EventType `json:"type"`
	SessionID   string    `json:"session_id,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Tick        int       `json:"tick,omitempty"`

	// Delta is the text fragment on content_delta events.
	Delta string `json:"delta,omitempty"`

	// BlockID and BlockType bracket content blocks.
	BlockID   string            `json:"block_id,omitempty"`
	BlockType message.BlockType `json:"block_type,omitempty"`

	// CallID and Name identify tool invocations.
	CallID string          `json:"call_id,omitempty"`
	Name   string          `json:"name,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`

	// Summary is an optional human-readable rendering of a tool call.
	Summary string `json:"summary,omitempty"`

	// Result carries tool output blocks on tool_result events.
	Result  []message.ContentBlock `json:"result,omitempty"`
	IsError bool                   `json:"is_error,omitempty"`

	// Prompt and Metadata accompany tool_confirmation_request events.
	Prompt   string         `json:"prompt,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// Usage is attached to tick_end and execution_end events.
	Usage *message.Usage `json:"usage,omitempty"`

	// StopReason, NewEntries, and Output accompany execution_end;
	// message_end carries the completed timeline entry in NewEntries.
	StopReason message.StopReason      `json:"stop_reason,omitempty"`
	NewEntries []message.TimelineEntry `json:"new_entries,omitempty"`
	Output     string                  `json:"output,omitempty"`

	// Err is the human-readable message on error events.
	Err string `json:"error,omitempty"`
}

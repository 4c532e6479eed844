// Package adapter defines the provider-independent model contract: a
// normalized request shape, a streaming delta union, and the accumulator
// that folds a delta stream back into one canonical message.
package adapter

import (
	"encoding/json"

	"github.com/agenticklabs/agentick/pkg/message"
)

// DeltaType discriminates the variant stored in a Delta.
type DeltaType string

// Streaming delta kinds. Concrete adapters map provider chunks onto these.
const (
	DeltaMessageStart  DeltaType = "message_start"
	DeltaText          DeltaType = "text"
	DeltaReasoning     DeltaType = "reasoning"
	DeltaToolCallStart DeltaType = "tool_call_start"
	DeltaToolCallDelta DeltaType = "tool_call_delta"
	DeltaToolCallEnd   DeltaType = "tool_call_end"
	DeltaToolCall      DeltaType = "tool_call"
	DeltaUsage         DeltaType = "usage"
	DeltaMessageEnd    DeltaType = "message_end"
	DeltaError         DeltaType = "error"
	DeltaRaw           DeltaType = "raw"
)

// Delta is one provider-independent streaming chunk.
// Mid-stream failures are delivered as a DeltaError carrying Err; the stream
// channel is closed afterwards.
type Delta struct {
	Type DeltaType `json:"type"`

	// Text carries the fragment for text and reasoning deltas.
	Text string `json:"text,omitempty"`

	// Redacted marks reasoning fragments that must stay hidden.
	Redacted bool `json:"redacted,omitempty"`

	// ID and Name identify the tool call for tool_call_* deltas.
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`

	// ArgDelta is an argument JSON fragment on tool_call_delta.
	ArgDelta string `json:"arg_delta,omitempty"`

	// Input is the complete argument JSON on tool_call and, when the
	// provider supplies it, on tool_call_end.
	Input json.RawMessage `json:"input,omitempty"`

	// Usage accompanies usage and message_end deltas.
	Usage *message.Usage `json:"usage,omitempty"`

	// StopReason accompanies message_end.
	StopReason message.StopReason `json:"stop_reason,omitempty"`

	// Model is the provider's model identifier, stamped on message_start.
	Model string `json:"model,omitempty"`

	// Raw is an opaque provider payload passed through unmapped.
	Raw json.RawMessage `json:"raw,omitempty"`

	// Err is set on error deltas.
	Err error `json:"-"`
}

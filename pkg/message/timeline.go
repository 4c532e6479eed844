package message

import "encoding/json"

// EntryKind discriminates timeline entry variants. Only message entries are
// produced by the engine today; renderers may tag their own kinds.
type EntryKind string

// EntryMessage is the kind of a plain message entry.
const EntryMessage EntryKind = "message"

// TimelineEntry wraps a message with rendering metadata.
type TimelineEntry struct {
	Kind    EntryKind `json:"kind"`
	Message Message   `json:"message"`
	Tags    []string  `json:"tags,omitempty"`
}

// NewEntry wraps a message as a timeline entry of kind message.
func NewEntry(msg Message) TimelineEntry {
	return TimelineEntry{Kind: EntryMessage, Message: msg}
}

// ToolDefinition describes a tool the model may invoke. Names are unique
// within a session render.
type ToolDefinition struct {
	Name                 string          `json:"name"`
	Description          string          `json:"description,omitempty"`
	Input                json.RawMessage `json:"input,omitempty"`
	Output               json.RawMessage `json:"output,omitempty"`
	RequiresConfirmation bool            `json:"requires_confirmation,omitempty"`
	ProviderOptions      json.RawMessage `json:"provider_options,omitempty"`
}

// ModelOptions carries per-render model tuning.
type ModelOptions struct {
	Model       string   `json:"model,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

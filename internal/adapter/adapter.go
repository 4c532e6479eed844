package adapter

import (
	"context"

	"github.com/agenticklabs/agentick/pkg/message"
)

// Kind distinguishes language and embedding adapters.
type Kind string

// Adapter kinds.
const (
	KindLanguage  Kind = "language"
	KindEmbedding Kind = "embedding"
)

// Metadata describes a registered adapter.
type Metadata struct {
	ID           string   `json:"id"`
	Provider     string   `json:"provider"`
	Model        string   `json:"model,omitempty"`
	Kind         Kind     `json:"kind"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Input is the normalized model request derived from a rendered tick.
// System is already extracted and concatenated (see ExtractSystem).
type Input struct {
	System   string
	Messages []message.Message
	Tools    []message.ToolDefinition
	Options  message.ModelOptions
}

// Output is the canonical result of a non-streaming model call.
type Output struct {
	Message    message.Message
	Usage      message.Usage
	StopReason message.StopReason
	Model      string
}

// Adapter is the contract the session engine depends on. Concrete
// implementations live under modules/adapter and translate Input to the
// provider wire format internally.
type Adapter interface {
	// Metadata returns the adapter's identity and capabilities.
	Metadata() Metadata

	// Execute sends a completion request and returns the full response.
	Execute(ctx context.Context, in Input) (Output, error)

	// Stream sends a completion request and returns a channel of deltas.
	// Initial connection errors are returned directly. Mid-stream errors
	// are delivered as a DeltaError chunk before the channel closes.
	Stream(ctx context.Context, in Input) (<-chan Delta, error)
}

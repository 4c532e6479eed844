// Package message defines the canonical conversation data model shared by the
// session engine, model adapters, and the gateway. It supports multimodal
// content, tool invocations, and tool results.
package message

// Role identifies the author of a message in the timeline.
type Role string

// Role values for timeline messages.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
	RoleEvent     Role = "event"
	RoleEphemeral Role = "ephemeral"
)

// BlockType discriminates the variant stored in a ContentBlock.
type BlockType string

// Supported block types.
const (
	BlockText       BlockType = "text"
	BlockReasoning  BlockType = "reasoning"
	BlockImage      BlockType = "image"
	BlockDocument   BlockType = "document"
	BlockAudio      BlockType = "audio"
	BlockVideo      BlockType = "video"
	BlockCode       BlockType = "code"
	BlockJSON       BlockType = "json"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// SourceType identifies where a media block's bytes live.
type SourceType string

// Media source kinds.
const (
	SourceBase64 SourceType = "base64"
	SourceURL    SourceType = "url"
	SourceS3     SourceType = "s3"
	SourceGCS    SourceType = "gcs"
	SourceFileID SourceType = "file_id"
)

// Source points at the bytes of a media block. Exactly one of Data, URL, or
// FileID is meaningful, selected by Type.
type Source struct {
	Type      SourceType `json:"type"`
	Data      string     `json:"data,omitempty"`
	URL       string     `json:"url,omitempty"`
	FileID    string     `json:"file_id,omitempty"`
	MediaType string     `json:"media_type,omitempty"`
}

// StopReason describes why the model stopped generating.
type StopReason string

// Canonical stop reasons.
const (
	StopUnspecified   StopReason = ""
	StopEnd           StopReason = "stop"
	StopMaxTokens     StopReason = "max_tokens"
	StopToolUse       StopReason = "tool_use"
	StopContentFilter StopReason = "content_filter"
	StopError         StopReason = "error"
	StopOther         StopReason = "other"
)

// Terminal reports whether the stop reason ends the execution. Tool use
// continues the execution with another tick.
func (r StopReason) Terminal() bool {
	switch r {
	case StopEnd, StopMaxTokens, StopContentFilter, StopError:
		return true
	}
	return false
}

// Usage tracks token consumption for a model call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// MergeMax folds other into u taking the per-field maximum. Providers report
// partial totals followed by final totals; max-merge keeps the final values
// without double counting.
func (u *Usage) MergeMax(other Usage) {
	u.InputTokens = max(u.InputTokens, other.InputTokens)
	u.OutputTokens = max(u.OutputTokens, other.OutputTokens)
	u.TotalTokens = max(u.TotalTokens, other.TotalTokens)
}

// IsZero reports whether no tokens were recorded.
func (u Usage) IsZero() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.TotalTokens == 0
}

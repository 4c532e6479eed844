package message

import "encoding/json"

// Message is one entry in a conversation timeline.
//
// Invariants: every tool_use block carries a unique ToolUseID within an
// execution; every tool_result references an earlier tool_use; messages with
// RoleTool contain only tool_result blocks.
type Message struct {
	ID      string         `json:"id,omitempty"`
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// NewUserMessage creates a user message with a single text block.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{NewTextBlock(text)}}
}

// NewAssistantMessage creates an assistant message with a single text block.
func NewAssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentBlock{NewTextBlock(text)}}
}

// NewSystemMessage creates a system message with a single text block.
func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: []ContentBlock{NewTextBlock(text)}}
}

// NewToolResultMessage creates a tool message wrapping one tool_result block.
func NewToolResultMessage(block ContentBlock) Message {
	return Message{Role: RoleTool, Content: []ContentBlock{block}}
}

// TextContent returns the concatenated text of all text blocks.
func (m *Message) TextContent() string {
	return textContent(m.Content)
}

// ToolUses returns the tool_use blocks in content order.
func (m *Message) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// HasToolUse reports whether the message contains any tool_use block.
func (m *Message) HasToolUse() bool {
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	cp := m
	cp.Content = cloneBlocks(m.Content)
	return cp
}

func cloneBlocks(blocks []ContentBlock) []ContentBlock {
	if blocks == nil {
		return nil
	}
	out := make([]ContentBlock, len(blocks))
	for i, b := range blocks {
		out[i] = b
		if len(b.Input) > 0 {
			out[i].Input = append(json.RawMessage(nil), b.Input...)
		}
		if len(b.Data) > 0 {
			out[i].Data = append(json.RawMessage(nil), b.Data...)
		}
		if b.Source != nil {
			src := *b.Source
			out[i].Source = &src
		}
		out[i].Content = cloneBlocks(b.Content)
	}
	return out
}
